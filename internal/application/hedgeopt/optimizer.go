package hedgeopt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"courtside/internal/domain"
	"courtside/internal/ports"
)

// Config bounds the grid search.
type Config struct {
	MinRatio  float64
	MaxRatio  float64
	RatioStep float64
	DDPenalty float64 // weight on max drawdown in the objective
}

// GroupSample is one settled bothside trade reduced to the numbers the
// optimizer needs: both legs' realized PnL and the capital ratio actually
// traded.
type GroupSample struct {
	BothsideGID   string
	EventID       string
	DirPnL        float64
	HedgePnL      float64
	ObservedRatio float64 // hedge cost / directional cost
	SettledAt     time.Time
}

// Evaluation is the outcome of scoring one candidate ratio against history.
type Evaluation struct {
	Ratio       float64
	TotalPnL    float64
	MaxDrawdown float64
	Objective   float64
}

// Result is the full grid search output, best first.
type Result struct {
	Best        Evaluation
	Grid        []Evaluation
	SampleCount int
}

// Optimizer replays settled bothside trades under counterfactual hedge
// ratios and recommends the ratio the scheduler should publish.
type Optimizer struct {
	store ports.Storage
	cfg   Config
}

func New(store ports.Storage, cfg Config) *Optimizer {
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = 0.3
	}
	if cfg.MaxRatio <= cfg.MinRatio {
		cfg.MaxRatio = 0.8
	}
	if cfg.RatioStep <= 0 {
		cfg.RatioStep = 0.1
	}
	return &Optimizer{store: store, cfg: cfg}
}

// BuildGroupSamples pairs settled leg results by bothside group. Groups
// missing a leg or with a non-positive directional cost carry no ratio
// information and are dropped.
func (o *Optimizer) BuildGroupSamples(ctx context.Context) ([]GroupSample, error) {
	legs, err := o.store.GetSettledLegResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("hedgeopt.BuildGroupSamples: %w", err)
	}

	byGroup := make(map[string]*GroupSample)
	complete := make(map[string][2]bool)
	costs := make(map[string][2]float64)
	for _, leg := range legs {
		s, ok := byGroup[leg.BothsideGID]
		if !ok {
			s = &GroupSample{BothsideGID: leg.BothsideGID, EventID: leg.EventID}
			byGroup[leg.BothsideGID] = s
		}
		if leg.SettledAt.After(s.SettledAt) {
			s.SettledAt = leg.SettledAt
		}
		seen := complete[leg.BothsideGID]
		c := costs[leg.BothsideGID]
		switch leg.Role {
		case domain.RoleDirectional:
			s.DirPnL = leg.PnLUSD
			c[0] = leg.CostUSD
			seen[0] = true
		case domain.RoleHedge:
			s.HedgePnL = leg.PnLUSD
			c[1] = leg.CostUSD
			seen[1] = true
		}
		complete[leg.BothsideGID] = seen
		costs[leg.BothsideGID] = c
	}

	samples := make([]GroupSample, 0, len(byGroup))
	for gid, s := range byGroup {
		seen := complete[gid]
		c := costs[gid]
		if !seen[0] || !seen[1] || c[0] <= 0 || c[1] <= 0 {
			continue
		}
		s.ObservedRatio = c[1] / c[0]
		samples = append(samples, *s)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].SettledAt.Before(samples[j].SettledAt) })
	return samples, nil
}

// EvaluateRatio scores one candidate ratio: each sample's hedge PnL is
// rescaled linearly from the ratio actually traded to the candidate, then
// the cumulative PnL path is walked for its maximum drawdown.
func (o *Optimizer) EvaluateRatio(ratio float64, samples []GroupSample) Evaluation {
	var total, peak, maxDD, cum float64
	for _, s := range samples {
		pnl := s.DirPnL + s.HedgePnL*(ratio/s.ObservedRatio)
		total += pnl
		cum += pnl
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return Evaluation{
		Ratio:       ratio,
		TotalPnL:    total,
		MaxDrawdown: maxDD,
		Objective:   total - o.cfg.DDPenalty*maxDD,
	}
}

// Optimize runs the grid search over the configured ratio range. With no
// usable samples it returns an error rather than a fabricated optimum.
func (o *Optimizer) Optimize(ctx context.Context) (*Result, error) {
	samples, err := o.BuildGroupSamples(ctx)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("hedgeopt.Optimize: no settled bothside groups to learn from")
	}

	res := &Result{SampleCount: len(samples)}
	best := Evaluation{Objective: math.Inf(-1)}
	for r := o.cfg.MinRatio; r <= o.cfg.MaxRatio+1e-9; r += o.cfg.RatioStep {
		ratio := math.Round(r*100) / 100
		ev := o.EvaluateRatio(ratio, samples)
		res.Grid = append(res.Grid, ev)
		if ev.Objective > best.Objective {
			best = ev
		}
	}
	res.Best = best

	slog.Info("hedgeopt: grid search done",
		"samples", len(samples),
		"best_ratio", fmt.Sprintf("%.2f", best.Ratio),
		"pnl", fmt.Sprintf("$%.2f", best.TotalPnL),
		"max_dd", fmt.Sprintf("$%.2f", best.MaxDrawdown))
	return res, nil
}
