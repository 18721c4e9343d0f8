package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtside/config"
	"courtside/internal/adapters/notify"
	"courtside/internal/adapters/onchain"
	"courtside/internal/adapters/polymarket"
	"courtside/internal/adapters/storage"
	"courtside/internal/application/engine"
	"courtside/internal/application/hedgeopt"
	"courtside/internal/application/ledger"
	"courtside/internal/application/lifecycle"
	"courtside/internal/application/scheduler"
	"courtside/internal/domain"
	"courtside/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	modeFlag := flag.String("mode", "", "trading mode: live|paper|dry-run (overrides config)")
	once := flag.Bool("once", false, "run one cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print daily summary + open positions and exit")
	optimizeHedge := flag.Bool("optimize-hedge", false, "grid-search the hedge ratio over settled trades and exit")
	enqueue := flag.Bool("enqueue", false, "enqueue a directional trade job and exit (see -away/-home/...)")
	cancelJob := flag.String("cancel-job", "", "cancel a job by ID and exit")
	settleEvent := flag.String("settle", "", "settle the position group for an event ID and exit")
	settleWon := flag.Bool("won", false, "with -settle: the directional pick won")

	away := flag.String("away", "", "away team tricode (with -enqueue)")
	home := flag.String("home", "", "home team tricode (with -enqueue)")
	pick := flag.String("pick", "", "team tricode to back (with -enqueue)")
	tipoff := flag.String("tipoff", "", "tip-off time, RFC3339 (with -enqueue)")
	pLow := flag.Float64("p-low", 0, "conservative win probability (with -enqueue)")
	confidence := flag.String("confidence", "medium", "signal confidence: high|medium|low (with -enqueue)")
	windowHours := flag.Float64("window-hours", 6, "execution window before tip-off in hours (with -enqueue)")
	dcaEntries := flag.Int("dca-entries", 1, "number of DCA slices, 1 = single entry (with -enqueue)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *modeFlag != "" {
		cfg.Trading.Mode = *modeFlag
	}
	setupLogger(cfg.Log)

	mode, err := domain.ParseMode(cfg.Trading.Mode)
	if err != nil {
		slog.Error("invalid trading mode", "err", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole()

	if *report {
		printReport(ctx, store, console)
		return
	}
	if *optimizeHedge {
		runHedgeOptimizer(ctx, store, console, cfg)
		return
	}

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)
	executor, merger, err := buildExecutors(mode, cfg, client)
	if err != nil {
		slog.Error("failed to build executors", "err", err, "mode", mode)
		os.Exit(1)
	}

	grp := ledger.New(store, merger, console, ledger.Config{
		ImbalanceTolerance: cfg.Sizing.ImbalanceTolerance,
		ExpectedFeeUSD:     cfg.Sizing.ExpectedFeeUSD,
		AssumedMergeShares: cfg.Sizing.AssumedMergeShares,
		MergeEnabled:       true,
	})

	sched := scheduler.New(store, client, executor, console, grp, scheduler.Config{
		Mode: mode,
		Sizing: domain.SizingConfig{
			KellyBaseFraction:  cfg.Sizing.KellyBaseFraction,
			MaxPositionUSD:     cfg.Sizing.MaxPositionUSD,
			MaxGameRiskUSD:     cfg.Sizing.MaxGameRiskUSD,
			MergeCapitalUSD:    cfg.Sizing.MergeCapitalUSD,
			ExpectedFeeUSD:     cfg.Sizing.ExpectedFeeUSD,
			ExpectedGasUSD:     cfg.Sizing.ExpectedGasUSD,
			AssumedMergeShares: cfg.Sizing.AssumedMergeShares,
		},
		RegimeMult:    cfg.Trading.RegimeMult,
		HedgeEnabled:  cfg.Hedge.Enabled,
		HedgeRatio:    cfg.Hedge.Ratio,
		MaxJobRetries: cfg.Orders.MaxJobRetries,
		DCAMaxEntries: cfg.DCA.MaxEntries,
		DCASliceUSD:   cfg.DCA.SliceUSD,
	})

	if *enqueue {
		enqueueJob(ctx, sched, *away, *home, *pick, *tipoff, *pLow, *confidence, *windowHours, *dcaEntries)
		return
	}
	if *cancelJob != "" {
		if err := sched.CancelJob(ctx, *cancelJob); err != nil {
			slog.Error("cancel failed", "job", *cancelJob, "err", err)
			os.Exit(1)
		}
		slog.Info("job cancelled", "job", *cancelJob)
		return
	}
	if *settleEvent != "" {
		if err := grp.Settle(ctx, *settleEvent, *settleWon, time.Now().UTC()); err != nil {
			slog.Error("settle failed", "event", *settleEvent, "err", err)
			os.Exit(1)
		}
		return
	}

	orders := lifecycle.New(store, executor, console, lifecycle.Config{
		OrderTTL:         cfg.OrderTTL(),
		MaxReplaces:      cfg.Orders.MaxReplaces,
		MinPriceMove:     cfg.Orders.MinPriceMove,
		TickSize:         cfg.Orders.TickSize,
		MaxCombinedPrice: cfg.Orders.MaxCombined,
		CheckBatch:       cfg.Orders.CheckBatch,
		CheckDelay:       cfg.CheckDelay(),
	})

	eng := engine.New(sched, orders, grp, store)

	slog.Info("courtside starting",
		"config", *configPath,
		"mode", mode,
		"interval", cfg.TickInterval(),
		"hedge", cfg.Hedge.Enabled,
		"once", *once,
	)

	if err := runLoop(ctx, eng, cfg, *once); err != nil {
		slog.Error("trader exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("courtside stopped cleanly")
}

// runLoop drives the tick loop. The stop file downgrades cycles to
// maintenance-only: resting orders are still managed, nothing new goes out.
func runLoop(ctx context.Context, eng *engine.Engine, cfg *config.Config, once bool) error {
	tick := func() error {
		if _, err := os.Stat(cfg.Trading.StopFile); err == nil {
			slog.Warn("stop file present, placements halted", "file", cfg.Trading.StopFile)
			_, err := eng.RunMaintenance(ctx)
			return err
		}
		_, err := eng.RunOnce(ctx)
		return err
	}

	if err := tick(); err != nil {
		return err
	}
	if once {
		return nil
	}

	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(); err != nil {
				slog.Error("cycle failed", "err", err)
			}
		}
	}
}

// buildExecutors wires the mode-appropriate order and merge executors.
func buildExecutors(mode domain.Mode, cfg *config.Config, client *polymarket.Client) (ports.OrderExecutor, ports.MergeExecutor, error) {
	switch mode {
	case domain.ModeLive:
		auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.WalletKey)
		if err != nil {
			return nil, nil, err
		}
		trading, err := polymarket.NewTradingClient(auth, cfg.API.PolygonRPC)
		if err != nil {
			return nil, nil, err
		}
		merger, err := onchain.NewMergeClient(cfg.API.PolygonRPC, cfg.API.WalletKey)
		if err != nil {
			return nil, nil, err
		}
		if err := merger.EnsureApprovals(context.Background()); err != nil {
			return nil, nil, err
		}
		return trading, merger, nil
	default:
		paper := polymarket.NewPaperExecutor(client, cfg.Trading.PaperBalanceUSD, cfg.Sizing.ExpectedGasUSD)
		return paper, paper, nil
	}
}

func enqueueJob(ctx context.Context, sched *scheduler.Scheduler, away, home, pick, tipoff string, pLow float64, confidence string, windowHours float64, dcaEntries int) {
	if away == "" || home == "" || pick == "" || tipoff == "" {
		slog.Error("enqueue needs -away, -home, -pick and -tipoff")
		os.Exit(1)
	}
	tip, err := time.Parse(time.RFC3339, tipoff)
	if err != nil {
		slog.Error("invalid -tipoff, want RFC3339", "err", err)
		os.Exit(1)
	}
	if pLow <= 0 || pLow >= 1 {
		slog.Error("enqueue needs -p-low in (0,1)")
		os.Exit(1)
	}

	job := domain.TradeJob{
		EventID:       tip.UTC().Format("20060102") + "-" + away + "-" + home,
		AwayTeam:      away,
		HomeTeam:      home,
		PickTeam:      pick,
		TipOff:        tip.UTC(),
		ExecuteAfter:  tip.UTC().Add(-time.Duration(windowHours * float64(time.Hour))),
		ExecuteBefore: tip.UTC(),
		Side:          domain.SideDirectional,
		PLow:          pLow,
		Confidence:    domain.Confidence(confidence),
		DCAMaxEntries: dcaEntries,
	}
	if err := sched.EnqueueJob(ctx, job); err != nil {
		slog.Error("enqueue failed", "err", err)
		os.Exit(1)
	}
	slog.Info("job enqueued", "event", job.EventID, "pick", pick)
}

func printReport(ctx context.Context, store *storage.SQLiteStorage, console *notify.Console) {
	summaries, err := store.GetDailySummaries(ctx)
	if err != nil {
		slog.Error("report: daily summaries", "err", err)
		os.Exit(1)
	}
	console.PrintDailyReport(summaries)

	groups, err := store.GetOpenPositionGroups(ctx)
	if err != nil {
		slog.Error("report: open groups", "err", err)
		os.Exit(1)
	}
	console.PrintPositionReport(groups)
}

func runHedgeOptimizer(ctx context.Context, store *storage.SQLiteStorage, console *notify.Console, cfg *config.Config) {
	opt := hedgeopt.New(store, hedgeopt.Config{
		MinRatio:  cfg.Hedge.MinRatio,
		MaxRatio:  cfg.Hedge.MaxRatio,
		RatioStep: cfg.Hedge.RatioStep,
		DDPenalty: cfg.Hedge.DDPenalty,
	})
	res, err := opt.Optimize(ctx)
	if err != nil {
		slog.Error("hedge optimizer failed", "err", err)
		os.Exit(1)
	}

	rows := make([]notify.HedgeGridRow, len(res.Grid))
	for i, ev := range res.Grid {
		rows[i] = notify.HedgeGridRow{
			Ratio:       ev.Ratio,
			TotalPnL:    ev.TotalPnL,
			MaxDrawdown: ev.MaxDrawdown,
			Objective:   ev.Objective,
		}
	}
	console.PrintHedgeGrid(res.SampleCount, rows, res.Best.Ratio)
	slog.Info("set hedge.ratio in config to adopt the recommendation", "ratio", res.Best.Ratio)
}

func setupLogger(cfg config.Log) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
