package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full trader configuration.
type Config struct {
	Trading Trading `yaml:"trading"`
	Orders  Orders  `yaml:"orders"`
	Sizing  Sizing  `yaml:"sizing"`
	DCA     DCA     `yaml:"dca"`
	Hedge   Hedge   `yaml:"hedge"`
	API     API     `yaml:"api"`
	Storage Storage `yaml:"storage"`
	Log     Log     `yaml:"log"`
}

// Trading controls the tick loop and execution mode.
type Trading struct {
	Mode            string  `yaml:"mode"` // live | paper | dry-run
	IntervalSeconds int     `yaml:"interval_seconds"`
	RegimeMult      float64 `yaml:"regime_mult"`       // external de-risking lever [0,1]
	PaperBalanceUSD float64 `yaml:"paper_balance_usd"` // starting balance for paper and dry-run
	StopFile        string  `yaml:"stop_file"`         // presence halts new placements
}

// Orders controls the order lifecycle manager.
type Orders struct {
	TTLMinutes    int     `yaml:"order_ttl_min"`      // dwell time before re-pricing
	MaxReplaces   int     `yaml:"order_max_replaces"` // hard cap on re-pricing attempts
	MinPriceMove  float64 `yaml:"min_price_move"`     // noise filter threshold
	TickSize      float64 `yaml:"tick_size"`
	CheckBatch    int     `yaml:"check_batch"`        // orders checked per tick
	CheckDelayMs  int     `yaml:"check_delay_ms"`     // sleep between exchange calls
	MaxCombined   float64 `yaml:"max_combined_price"` // hedge VWAP+price ceiling
	MaxJobRetries int     `yaml:"max_job_retries"`
}

// Sizing holds the sizing engine knobs.
type Sizing struct {
	KellyBaseFraction  float64 `yaml:"kelly_base_fraction"`
	MaxPositionUSD     float64 `yaml:"max_position_usd"`
	MaxGameRiskUSD     float64 `yaml:"max_game_risk_usd"`
	MergeCapitalUSD    float64 `yaml:"merge_capital_usd"`
	ExpectedFeeUSD     float64 `yaml:"expected_fee_usd"`
	ExpectedGasUSD     float64 `yaml:"expected_gas_usd"`
	AssumedMergeShares float64 `yaml:"assumed_merge_shares"`
	ImbalanceTolerance float64 `yaml:"imbalance_tolerance"` // slack on d_max over D*
}

// DCA controls slice issuance for dollar-cost-averaged entries.
type DCA struct {
	MaxEntries int     `yaml:"max_entries"`
	SliceUSD   float64 `yaml:"slice_usd"`
}

// Hedge controls hedge-leg creation and the ratio optimizer.
type Hedge struct {
	Enabled   bool    `yaml:"enabled"`
	Ratio     float64 `yaml:"ratio"` // hedge-to-directional capital ratio
	MinRatio  float64 `yaml:"min_ratio"`
	MaxRatio  float64 `yaml:"max_ratio"`
	RatioStep float64 `yaml:"ratio_step"`
	DDPenalty float64 `yaml:"dd_penalty"`
}

// API contains the exchange base URLs and chain access. The wallet key is
// env-only (WALLET_PRIVATE_KEY); it never lives in YAML.
type API struct {
	CLOBBase   string `yaml:"clob_base"`
	GammaBase  string `yaml:"gamma_base"`
	PolygonRPC string `yaml:"polygon_rpc"`
	WalletKey  string `yaml:"-"`
}

// Storage controls where state is persisted.
type Storage struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// Log controls format and level.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and the .env file if present. Env vars override
// YAML for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// TickInterval returns the tick loop interval as a Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Trading.IntervalSeconds) * time.Second
}

// OrderTTL returns the minimum resting time before an order is reconsidered.
func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Orders.TTLMinutes) * time.Minute
}

// CheckDelay returns the inter-call sleep used while polling orders.
func (c *Config) CheckDelay() time.Duration {
	return time.Duration(c.Orders.CheckDelayMs) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.API.PolygonRPC = v
	}
	cfg.API.WalletKey = os.Getenv("WALLET_PRIVATE_KEY")
}

func setDefaults(cfg *Config) {
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = "dry-run"
	}
	if cfg.Trading.IntervalSeconds <= 0 {
		cfg.Trading.IntervalSeconds = 60
	}
	if cfg.Trading.RegimeMult <= 0 || cfg.Trading.RegimeMult > 1 {
		cfg.Trading.RegimeMult = 1.0
	}
	if cfg.Trading.PaperBalanceUSD <= 0 {
		cfg.Trading.PaperBalanceUSD = 1000
	}
	if cfg.Trading.StopFile == "" {
		cfg.Trading.StopFile = "STOP_TRADING"
	}
	if cfg.Orders.TTLMinutes <= 0 {
		cfg.Orders.TTLMinutes = 5
	}
	if cfg.Orders.MaxReplaces <= 0 {
		cfg.Orders.MaxReplaces = 3
	}
	if cfg.Orders.MinPriceMove <= 0 {
		cfg.Orders.MinPriceMove = 0.01
	}
	if cfg.Orders.TickSize <= 0 {
		cfg.Orders.TickSize = 0.01
	}
	if cfg.Orders.CheckBatch <= 0 {
		cfg.Orders.CheckBatch = 25
	}
	if cfg.Orders.CheckDelayMs <= 0 {
		cfg.Orders.CheckDelayMs = 200
	}
	if cfg.Orders.MaxCombined <= 0 {
		cfg.Orders.MaxCombined = 0.99
	}
	if cfg.Orders.MaxJobRetries <= 0 {
		cfg.Orders.MaxJobRetries = 3
	}
	if cfg.Sizing.KellyBaseFraction <= 0 {
		cfg.Sizing.KellyBaseFraction = 0.25
	}
	if cfg.Sizing.MaxPositionUSD <= 0 {
		cfg.Sizing.MaxPositionUSD = 200
	}
	if cfg.Sizing.MaxGameRiskUSD <= 0 {
		cfg.Sizing.MaxGameRiskUSD = 400
	}
	if cfg.Sizing.MergeCapitalUSD <= 0 {
		cfg.Sizing.MergeCapitalUSD = 100
	}
	if cfg.Sizing.ExpectedFeeUSD <= 0 {
		cfg.Sizing.ExpectedFeeUSD = 0.02
	}
	if cfg.Sizing.ExpectedGasUSD <= 0 {
		cfg.Sizing.ExpectedGasUSD = 0.05
	}
	if cfg.Sizing.AssumedMergeShares <= 0 {
		cfg.Sizing.AssumedMergeShares = 100
	}
	if cfg.Sizing.ImbalanceTolerance <= 0 {
		cfg.Sizing.ImbalanceTolerance = 0.10
	}
	if cfg.DCA.MaxEntries <= 0 {
		cfg.DCA.MaxEntries = 1
	}
	if cfg.Hedge.Ratio <= 0 {
		cfg.Hedge.Ratio = 0.5
	}
	if cfg.Hedge.MinRatio <= 0 {
		cfg.Hedge.MinRatio = 0.3
	}
	if cfg.Hedge.MaxRatio <= 0 {
		cfg.Hedge.MaxRatio = 0.8
	}
	if cfg.Hedge.RatioStep <= 0 {
		cfg.Hedge.RatioStep = 0.1
	}
	if cfg.Hedge.DDPenalty <= 0 {
		cfg.Hedge.DDPenalty = 0.5
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.PolygonRPC == "" {
		cfg.API.PolygonRPC = "https://polygon-rpc.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "courtside.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
