package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"courtside/internal/domain"
	"courtside/internal/ports"
)

// Config holds the scheduler knobs.
type Config struct {
	Mode          domain.Mode
	Sizing        domain.SizingConfig
	RegimeMult    float64 // external de-risking lever [0,1]
	HedgeEnabled  bool
	HedgeRatio    float64 // hedge-to-directional capital ratio
	MaxJobRetries int
	DCAMaxEntries int
	DCASliceUSD   float64
}

// Scheduler owns every TradeJob transition. One instance runs one pass per
// tick; there is never a second concurrent writer.
type Scheduler struct {
	store    ports.Storage
	markets  ports.MarketProvider
	executor ports.OrderExecutor
	notifier ports.Notifier
	ledger   GroupTargets
	cfg      Config
}

// GroupTargets is the slice of the ledger the scheduler talks to: it hands
// over sizing targets so the ledger can bound imbalance when fills arrive.
type GroupTargets interface {
	EnsureGroupTargets(ctx context.Context, eventID string, dTarget, mTarget float64) error
}

// TickStats counts what one scheduler pass did.
type TickStats struct {
	Due       int
	Placed    int
	Executed  int
	DCACycled int
	Skipped   int
	Deferred  int
	Expired   int
	Failed    int
	Errors    int
}

// New creates a scheduler.
func New(store ports.Storage, markets ports.MarketProvider, executor ports.OrderExecutor, notifier ports.Notifier, ledger GroupTargets, cfg Config) *Scheduler {
	if cfg.MaxJobRetries <= 0 {
		cfg.MaxJobRetries = 3
	}
	if cfg.HedgeRatio <= 0 {
		cfg.HedgeRatio = 0.5
	}
	return &Scheduler{store: store, markets: markets, executor: executor, notifier: notifier, ledger: ledger, cfg: cfg}
}

// EnqueueJob validates and persists a new trade job. Exactly one job per
// (event, side) may be active; a hedge job must reference an existing
// directional job for the same event.
func (s *Scheduler) EnqueueJob(ctx context.Context, j domain.TradeJob) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	if j.BothsideGID == "" && j.Side == domain.SideDirectional {
		j.BothsideGID = uuid.New().String()
	}
	if j.DCAMaxEntries <= 0 {
		j.DCAMaxEntries = 1
	}
	if j.IsDCA() && j.DCAGroupID == "" {
		j.DCAGroupID = uuid.New().String()
	}

	existing, err := s.store.GetJobForEventSide(ctx, j.EventID, j.Side)
	if err != nil {
		return fmt.Errorf("scheduler.EnqueueJob: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("scheduler.EnqueueJob: active %s job already exists for event %s", j.Side, j.EventID)
	}

	if j.Side == domain.SideHedge {
		if j.PairedJobID == "" {
			return fmt.Errorf("scheduler.EnqueueJob: hedge job without paired directional job")
		}
		paired, err := s.store.GetJob(ctx, j.PairedJobID)
		if err != nil {
			return fmt.Errorf("scheduler.EnqueueJob: paired job: %w", err)
		}
		if paired.EventID != j.EventID || paired.Side != domain.SideDirectional {
			return fmt.Errorf("scheduler.EnqueueJob: paired job %s is not a directional job for event %s", j.PairedJobID, j.EventID)
		}
		j.BothsideGID = paired.BothsideGID
	}

	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if err := s.store.SaveTradeJob(ctx, j); err != nil {
		return fmt.Errorf("scheduler.EnqueueJob: %w", err)
	}
	slog.Info("scheduler: job enqueued",
		"job", j.ID, "event", j.EventID, "side", j.Side,
		"window", fmt.Sprintf("%s..%s", j.ExecuteAfter.Format(time.RFC3339), j.ExecuteBefore.Format(time.RFC3339)))
	return nil
}

// CancelJob is the explicit operator cancellation: legal from any state.
// Open orders are cancelled at the exchange first.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("scheduler.CancelJob: %w", err)
	}
	if job.Status == domain.JobCancelled {
		return nil
	}
	s.closeOpenOrders(ctx, job, "job cancelled by operator")
	return s.transition(ctx, &job, domain.JobCancelled, "cancelled by operator")
}

// TickOnce runs one scheduler pass: expire closed windows, react to fills,
// then execute due jobs. Errors on individual jobs are contained.
func (s *Scheduler) TickOnce(ctx context.Context, now time.Time) (*TickStats, error) {
	stats := &TickStats{}

	active, err := s.store.GetActiveJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler.TickOnce: get active jobs: %w", err)
	}

	// 1. Window and tip-off enforcement comes ahead of any retry budget.
	for i := range active {
		job := active[i]
		if !job.WindowClosed(now) {
			continue
		}
		s.closeOpenOrders(ctx, job, "execution window closed")
		if err := s.transition(ctx, &job, domain.JobExpired, "execution window closed"); err != nil {
			slog.Warn("scheduler: expire failed", "job", job.ID, "err", err)
			stats.Errors++
			continue
		}
		stats.Expired++
	}

	// 2. React to fills on executing jobs.
	executing, err := s.store.GetJobsByStatus(ctx, domain.JobExecuting)
	if err != nil {
		return stats, fmt.Errorf("scheduler.TickOnce: get executing jobs: %w", err)
	}
	for i := range executing {
		if err := s.advanceExecutingJob(ctx, &executing[i], now, stats); err != nil {
			slog.Warn("scheduler: advance failed", "job", executing[i].ID, "err", err)
			stats.Errors++
		}
	}

	// 3. Execute due jobs, oldest window first.
	due, err := s.store.GetDueJobs(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("scheduler.TickOnce: get due jobs: %w", err)
	}
	stats.Due = len(due)
	for i := range due {
		if err := s.executeJob(ctx, &due[i], now, stats); err != nil {
			slog.Warn("scheduler: execute failed", "job", due[i].ID, "err", err)
			stats.Errors++
		}
	}

	return stats, nil
}

// advanceExecutingJob inspects the latest signal of a job that has an order
// out and advances the job state machine accordingly.
func (s *Scheduler) advanceExecutingJob(ctx context.Context, job *domain.TradeJob, now time.Time, stats *TickStats) error {
	sigs, err := s.store.GetSignalsByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("advanceExecutingJob: %w", err)
	}
	if len(sigs) == 0 {
		return nil
	}
	last := sigs[len(sigs)-1]

	switch last.OrderStatus {
	case domain.OrderFilled:
		if job.Side == domain.SideDirectional {
			s.ensureHedgeFollowOn(ctx, job, now)
		}
		done := job.DCAEntriesDone + 1
		if err := s.store.UpdateJobDCA(ctx, job.ID, done); err != nil {
			return fmt.Errorf("advanceExecutingJob: %w", err)
		}
		job.DCAEntriesDone = done

		if job.IsDCA() && job.SlicesRemain() {
			stats.DCACycled++
			return s.transition(ctx, job, domain.JobDCAActive, "")
		}
		stats.Executed++
		return s.transition(ctx, job, domain.JobExecuted, "")

	case domain.OrderCancelled, domain.OrderExpired:
		// Order died without a fill while the window is still open. Retry
		// next tick, up to the job retry budget.
		job.RetryCount++
		if job.RetryCount >= s.cfg.MaxJobRetries {
			stats.Failed++
			return s.transition(ctx, job, domain.JobFailed,
				fmt.Sprintf("order %s after %d attempts", last.OrderStatus, job.RetryCount))
		}
		if err := s.store.SaveTradeJob(ctx, *job); err != nil {
			return fmt.Errorf("advanceExecutingJob: save retry count: %w", err)
		}
		return s.transition(ctx, job, domain.JobPending,
			fmt.Sprintf("order %s, retrying", last.OrderStatus))
	}

	// Order still resting; the lifecycle manager owns it from here.
	return nil
}

// executeJob runs one due job through discovery, sizing and placement.
func (s *Scheduler) executeJob(ctx context.Context, job *domain.TradeJob, now time.Time, stats *TickStats) error {
	if err := s.transition(ctx, job, domain.JobExecuting, ""); err != nil {
		return err
	}

	// Hedge legs wait for at least one directional fill.
	if job.Side == domain.SideHedge {
		ok, err := s.pairedHasFill(ctx, job)
		if err != nil {
			return s.deferJob(ctx, job, fmt.Sprintf("paired job check: %v", err), stats)
		}
		if !ok {
			stats.Deferred++
			return s.transition(ctx, job, domain.JobPending, "waiting for directional fill")
		}
	}

	market, err := s.markets.FetchMoneyline(ctx, job.AwayTeam, job.HomeTeam, job.TipOff.UTC().Format("2006-01-02"))
	if err != nil {
		return s.deferJob(ctx, job, fmt.Sprintf("market discovery: %v", err), stats)
	}
	if market == nil || !market.Tradable(now) {
		// No tradable moneyline yet. Live must not silently give up on a
		// transient discovery gap; paper and dry-run report and move on.
		switch s.cfg.Mode {
		case domain.ModeLive:
			stats.Deferred++
			return s.transition(ctx, job, domain.JobPending, "no moneyline market found")
		case domain.ModePaper, domain.ModeDryRun:
			stats.Skipped++
			return s.transition(ctx, job, domain.JobSkipped, "no moneyline market found")
		}
	}

	outcome, price, err := s.resolveOutcome(ctx, job, market)
	if err != nil {
		return s.deferJob(ctx, job, err.Error(), stats)
	}

	sizeUSD, targets, err := s.sizeJob(ctx, job, market, outcome, price)
	if err != nil {
		return s.deferJob(ctx, job, fmt.Sprintf("sizing: %v", err), stats)
	}
	if sizeUSD <= 0 {
		stats.Skipped++
		return s.transition(ctx, job, domain.JobSkipped, "sizing produced zero target")
	}

	if job.Side == domain.SideDirectional && s.ledger != nil {
		if err := s.ledger.EnsureGroupTargets(ctx, job.EventID, targets.DirectionalShares, targets.MergeShares); err != nil {
			slog.Warn("scheduler: group targets", "event", job.EventID, "err", err)
		}
	}

	return s.placeSlice(ctx, job, market, outcome, price, sizeUSD, now, stats)
}

// resolveOutcome picks the token the job trades and its current ask.
func (s *Scheduler) resolveOutcome(ctx context.Context, job *domain.TradeJob, market *domain.Market) (domain.Outcome, float64, error) {
	var outcome domain.Outcome
	var ok bool
	if job.Side == domain.SideDirectional {
		outcome, ok = market.OutcomeFor(job.PickTeam)
	} else {
		outcome, ok = market.OppositeOf(job.PickTeam)
	}
	if !ok {
		return outcome, 0, fmt.Errorf("no outcome for team %q in market %s", job.PickTeam, market.ConditionID)
	}

	price, haveAsk, err := s.executor.GetBestAsk(ctx, outcome.TokenID)
	if err != nil {
		return outcome, 0, fmt.Errorf("best ask: %w", err)
	}
	if !haveAsk || price <= 0 {
		price = outcome.Price
	}
	if price <= 0 || price >= 1 {
		return outcome, 0, fmt.Errorf("no usable price for token %s", outcome.TokenID)
	}
	return outcome, price, nil
}

// sizeJob runs the sizing engine and derives the USD budget for this slice.
func (s *Scheduler) sizeJob(ctx context.Context, job *domain.TradeJob, market *domain.Market, outcome domain.Outcome, price float64) (float64, domain.Targets, error) {
	balance, err := s.executor.GetBalance(ctx)
	if err != nil {
		return 0, domain.Targets{}, fmt.Errorf("balance: %w", err)
	}

	dirPrice := price
	oppPrice := 0.0
	if job.Side == domain.SideDirectional {
		// The merge leg only exists when the pair trades under $1, so sizing
		// needs the real opposite-side quote, not its complement.
		if opp, ok := market.OppositeOf(job.PickTeam); ok && opp.Price > 0 {
			oppPrice = opp.Price
		}
	}
	if job.Side == domain.SideHedge {
		// Sizing is anchored on the directional leg; the hedge trades the
		// opposite token at the observed price.
		if opp, ok := market.OutcomeFor(job.PickTeam); ok && opp.Price > 0 {
			dirPrice = opp.Price
		} else {
			dirPrice = 1 - price
		}
		oppPrice = price
	}

	targets := domain.ComputeTargets(domain.SizingInput{
		DirPrice:   dirPrice,
		OppPrice:   oppPrice,
		PLow:       job.PLow,
		Confidence: job.Confidence,
		Balance:    balance,
		RegimeMult: s.cfg.RegimeMult,
	}, s.cfg.Sizing)

	var totalUSD float64
	switch job.Side {
	case domain.SideDirectional:
		totalUSD = targets.QDirTarget * dirPrice
	case domain.SideHedge:
		// The hedge budget follows the published hedge ratio against the
		// directional cost actually realized, never exceeding the mergeable
		// target the sizing engine allows.
		dirCost, err := s.directionalCost(ctx, job)
		if err != nil {
			return 0, targets, err
		}
		totalUSD = math.Min(dirCost*s.cfg.HedgeRatio, targets.QOppTarget*price)
	}

	if job.IsDCA() {
		if job.DCABudgetUSD <= 0 {
			job.DCABudgetUSD = totalUSD
			if err := s.store.SaveTradeJob(ctx, *job); err != nil {
				return 0, targets, fmt.Errorf("save dca budget: %w", err)
			}
		}
		slice := job.DCASliceUSD
		if slice <= 0 {
			slice = job.DCABudgetUSD / float64(job.DCAMaxEntries)
		}
		return math.Min(slice, job.DCARemainingUSD()), targets, nil
	}
	return totalUSD, targets, nil
}

// directionalCost sums the filled notional of the paired directional job.
func (s *Scheduler) directionalCost(ctx context.Context, job *domain.TradeJob) (float64, error) {
	sigs, err := s.store.GetSignalsByJob(ctx, job.PairedJobID)
	if err != nil {
		return 0, fmt.Errorf("paired signals: %w", err)
	}
	var cost float64
	for _, sig := range sigs {
		if sig.OrderStatus == domain.OrderFilled {
			cost += sig.FillPrice * sig.FilledShares
		}
	}
	return cost, nil
}

// placeSlice creates the Signal, persists it, then places the order. The
// signal row is written before the exchange call so a crash in between
// leaves a resumable record instead of an untracked order.
func (s *Scheduler) placeSlice(ctx context.Context, job *domain.TradeJob, market *domain.Market, outcome domain.Outcome, price, sizeUSD float64, now time.Time, stats *TickStats) error {
	role := domain.RoleDirectional
	if job.Side == domain.SideHedge {
		role = domain.RoleHedge
	}

	sig := domain.Signal{
		ID:           uuid.New().String(),
		JobID:        job.ID,
		EventID:      job.EventID,
		ConditionID:  market.ConditionID,
		TokenID:      outcome.TokenID,
		Role:         role,
		BothsideGID:  job.BothsideGID,
		DCASeq:       job.DCAEntriesDone,
		TargetPrice:  price,
		KellySizeUSD: sizeUSD,
		OrderStatus:  domain.OrderPending,
		CreatedAt:    now.UTC(),
	}
	if err := s.store.SaveSignal(ctx, sig); err != nil {
		return fmt.Errorf("placeSlice: save signal: %w", err)
	}

	orderID, err := s.executor.PlaceLimitOrder(ctx, outcome.TokenID, price, sizeUSD)
	if err != nil {
		_ = s.store.MarkSignalClosed(ctx, sig.ID, domain.OrderCancelled, now)
		job.RetryCount++
		if job.RetryCount >= s.cfg.MaxJobRetries {
			stats.Failed++
			return s.transition(ctx, job, domain.JobFailed,
				fmt.Sprintf("order placement rejected after %d attempts: %v", job.RetryCount, err))
		}
		if saveErr := s.store.SaveTradeJob(ctx, *job); saveErr != nil {
			return fmt.Errorf("placeSlice: save retry count: %w", saveErr)
		}
		stats.Deferred++
		return s.transition(ctx, job, domain.JobPending, fmt.Sprintf("order placement: %v", err))
	}

	sig.OrderID = orderID
	sig.OrderStatus = domain.OrderOpen
	sig.OrderPlacedAt = now.UTC()
	sig.OrderOriginalPrice = price
	sig.OrderLastCheckedAt = now.UTC()
	if err := s.store.UpdateSignalOrder(ctx, sig); err != nil {
		return fmt.Errorf("placeSlice: update signal: %w", err)
	}
	if err := s.store.AppendOrderEvent(ctx, domain.OrderEvent{
		SignalID: sig.ID, OrderID: orderID, Kind: domain.EventPlaced,
		Price: price, BestAsk: price, At: now.UTC(),
	}); err != nil {
		slog.Warn("scheduler: order event", "signal", sig.ID, "err", err)
	}

	stats.Placed++
	slog.Info("scheduler: order placed",
		"job", job.ID, "event", job.EventID, "side", job.Side,
		"dca_seq", sig.DCASeq,
		"price", fmt.Sprintf("%.2f", price),
		"size", fmt.Sprintf("$%.2f", sizeUSD),
	)
	return nil
}

// ensureHedgeFollowOn creates the hedge job once the directional leg has its
// first fill, if hedging is enabled and none exists yet.
func (s *Scheduler) ensureHedgeFollowOn(ctx context.Context, dir *domain.TradeJob, now time.Time) {
	if !s.cfg.HedgeEnabled || dir.DCAEntriesDone > 0 {
		return
	}
	existing, err := s.store.GetJobForEventSide(ctx, dir.EventID, domain.SideHedge)
	if err != nil || existing != nil {
		return
	}

	hedge := domain.TradeJob{
		EventID:       dir.EventID,
		AwayTeam:      dir.AwayTeam,
		HomeTeam:      dir.HomeTeam,
		PickTeam:      dir.PickTeam,
		TipOff:        dir.TipOff,
		ExecuteAfter:  now.UTC(),
		ExecuteBefore: dir.ExecuteBefore,
		Side:          domain.SideHedge,
		PairedJobID:   dir.ID,
		PLow:          dir.PLow,
		Confidence:    dir.Confidence,
	}
	if err := s.EnqueueJob(ctx, hedge); err != nil {
		slog.Warn("scheduler: hedge follow-on", "event", dir.EventID, "err", err)
		return
	}
	slog.Info("scheduler: hedge follow-on created", "event", dir.EventID, "paired", dir.ID)
}

// pairedHasFill reports whether the directional job has at least one fill.
func (s *Scheduler) pairedHasFill(ctx context.Context, hedge *domain.TradeJob) (bool, error) {
	sigs, err := s.store.GetSignalsByJob(ctx, hedge.PairedJobID)
	if err != nil {
		return false, err
	}
	for _, sig := range sigs {
		if sig.OrderStatus == domain.OrderFilled {
			return true, nil
		}
	}
	return false, nil
}

// deferJob sends an executing job back to pending with a durable error
// message: transient failures are retried next tick, never dropped.
func (s *Scheduler) deferJob(ctx context.Context, job *domain.TradeJob, msg string, stats *TickStats) error {
	stats.Deferred++
	return s.transition(ctx, job, domain.JobPending, msg)
}

// closeOpenOrders cancels any resting orders for a job and marks their
// signals cancelled.
func (s *Scheduler) closeOpenOrders(ctx context.Context, job domain.TradeJob, reason string) {
	sigs, err := s.store.GetSignalsByJob(ctx, job.ID)
	if err != nil {
		slog.Warn("scheduler: close open orders", "job", job.ID, "err", err)
		return
	}
	now := time.Now().UTC()
	for _, sig := range sigs {
		if sig.OrderStatus != domain.OrderOpen || sig.OrderID == "" {
			continue
		}
		if _, err := s.executor.CancelOrder(ctx, sig.OrderID); err != nil {
			slog.Warn("scheduler: cancel order", "order", sig.OrderID, "err", err)
		}
		_ = s.store.MarkSignalClosed(ctx, sig.ID, domain.OrderCancelled, now)
		_ = s.store.AppendOrderEvent(ctx, domain.OrderEvent{
			SignalID: sig.ID, OrderID: sig.OrderID, Kind: domain.EventCancelled,
			Price: sig.TargetPrice, Note: reason, At: now,
		})
	}
}

// transition moves a job along a legal edge and persists it.
func (s *Scheduler) transition(ctx context.Context, job *domain.TradeJob, to domain.JobStatus, msg string) error {
	if !domain.CanTransition(job.Status, to) {
		return fmt.Errorf("scheduler.transition: illegal %s → %s for job %s", job.Status, to, job.ID)
	}
	from := job.Status
	job.Status = to
	job.ErrorMessage = msg
	if err := s.store.UpdateJobStatus(ctx, job.ID, to, msg); err != nil {
		job.Status = from
		return fmt.Errorf("scheduler.transition: %w", err)
	}
	slog.Debug("scheduler: job transition", "job", job.ID, "from", from, "to", to, "msg", msg)
	return nil
}
