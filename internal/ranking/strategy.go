// Package ranking implements the Ranking & Expulsion Engine (C4, spec §4.4):
// a pluggable scoring Strategy plus the ordering/bucketing/dense-ranking
// pipeline that turns a day's Window ROI rows into TopN entries.
//
// The Strategy shape mirrors the teacher's duck-typed
// internal/strategy.Strategy interface (Name() + an evaluation method),
// generalized per spec.md §9's "strategy capability set {score, name}" design
// note, and is grounded on original_source/app/domain/strategies/
// ranking_strategy.py's RankingStrategy hierarchy.
package ranking

import (
	"math"

	"casterly-rock/internal/logging"
)

// AgentRow is one agent's eligibility and scoring inputs for day T, folding
// together its Window ROI record (spec §4.3) with the cohort-membership
// context the expulsion rules need (spec §4.4).
type AgentRow struct {
	AgentID        string
	ROIWindowTotal float64
	TotalPnLWindow float64
	PositiveDays   int
	NegativeDays   int
	WindowDays     int
	TotalTrades    int
	BalanceCurrent float64
	DailyROIs      []float64 // the W daily ROIs composing the window, oldest first

	IsInCasterly       bool    // cohort membership as of yesterday
	ROISinceEntry      float64 // compounded since entry_date; only meaningful if IsInCasterly
	LastThreeDailyROIs []float64
}

// Strategy scores one AgentRow for ranking purposes. Implementations MUST be
// pure functions of the row: no hidden state, no I/O.
type Strategy interface {
	Name() string
	Score(row AgentRow) float64
}

// roiStrategy scores by the compounded window ROI — the default key.
type roiStrategy struct{}

// NewROIStrategy returns the default ranking strategy: roi_window_total.
func NewROIStrategy() Strategy { return roiStrategy{} }

func (roiStrategy) Name() string               { return "roi_window_total" }
func (roiStrategy) Score(row AgentRow) float64 { return row.ROIWindowTotal }

// totalPnLStrategy scores by absolute window PnL.
type totalPnLStrategy struct{}

// NewTotalPnLStrategy returns a strategy that ranks by total_pnl_window.
func NewTotalPnLStrategy() Strategy { return totalPnLStrategy{} }

func (totalPnLStrategy) Name() string               { return "total_pnl_window" }
func (totalPnLStrategy) Score(row AgentRow) float64 { return row.TotalPnLWindow }

// winRateStrategy scores by the fraction of positive days within the window.
type winRateStrategy struct{}

// NewWinRateStrategy returns a strategy that ranks by positive_days/window_days.
func NewWinRateStrategy() Strategy { return winRateStrategy{} }

func (winRateStrategy) Name() string { return "win_rate" }

func (winRateStrategy) Score(row AgentRow) float64 {
	if row.WindowDays == 0 {
		return 0
	}
	return float64(row.PositiveDays) / float64(row.WindowDays)
}

// sharpeRatioStrategy scores by the window's daily-ROI Sharpe ratio: mean
// daily ROI divided by its sample standard deviation (denominator n-1, same
// convention as the orchestrator's KPI calculation, spec §4.9). An agent with
// fewer than two observed days, or zero variance, scores 0 rather than
// dividing by zero or undefined variance.
type sharpeRatioStrategy struct{}

// NewSharpeRatioStrategy returns a strategy that ranks by Sharpe ratio.
func NewSharpeRatioStrategy() Strategy { return sharpeRatioStrategy{} }

func (sharpeRatioStrategy) Name() string { return "sharpe_ratio" }

func (sharpeRatioStrategy) Score(row AgentRow) float64 {
	n := len(row.DailyROIs)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range row.DailyROIs {
		sum += r
	}
	mean := sum / float64(n)

	var sumSq float64
	for _, r := range row.DailyROIs {
		d := r - mean
		sumSq += d * d
	}
	variance := sumSq / float64(n-1)
	if variance <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// WeightedStrategy pairs an inner Strategy with a composite weight, mirroring
// ranking_strategy.py's CompositeRankingStrategy.
type WeightedStrategy struct {
	Inner  Strategy
	Weight float64
}

// compositeStrategy is a weighted sum of inner strategies. Weights are
// normalized at construction time the same way the Python original does: if
// they don't sum to ~1.0 (tolerance 0.01), every weight is divided by the
// total so the composite remains a weighted average rather than an
// arbitrarily-scaled sum.
type compositeStrategy struct {
	parts  []WeightedStrategy
	logger *logging.Logger
}

// NewCompositeStrategy builds a weighted-sum strategy from parts, normalizing
// the weights if they don't already sum to ~1.0.
func NewCompositeStrategy(parts []WeightedStrategy) Strategy {
	logger := logging.Default().WithComponent("ranking")

	var total float64
	for _, p := range parts {
		total += p.Weight
	}
	if total != 0 && math.Abs(total-1.0) > 0.01 {
		logger.Warn("composite ranking weights sum to %.4f, normalizing", total)
		normalized := make([]WeightedStrategy, len(parts))
		for i, p := range parts {
			normalized[i] = WeightedStrategy{Inner: p.Inner, Weight: p.Weight / total}
		}
		parts = normalized
	}
	return &compositeStrategy{parts: parts, logger: logger}
}

func (c *compositeStrategy) Name() string { return "composite" }

func (c *compositeStrategy) Score(row AgentRow) float64 {
	var score float64
	for _, p := range c.parts {
		score += p.Weight * p.Inner.Score(row)
	}
	return score
}

