// Package risk evaluates the two automatic expulsion rules of spec.md §4.4:
// the stop-loss threshold and the three-consecutive-loss rule. It is the
// teacher's mutex-guarded threshold-checking idiom (internal/risk.RiskManager
// in the live-trading build) repurposed from per-trade drawdown limits to
// per-agent cohort expulsion, and it is shared by both the Ranking &
// Expulsion Engine (C4) and the Rotation Detector's reason classifier (C5).
package risk

import "sync"

// Config holds the expulsion policy thresholds (spec.md §4.4/§9).
type Config struct {
	// StopLossThreshold expels a cohort member whose roi_since_entry falls
	// at or below this value, or a non-member whose roi_window_total falls
	// strictly below it. Operationally exactly -0.10.
	StopLossThreshold float64

	// FallThreshold is the number of consecutive losing days (roi < 0) that
	// trigger expulsion, inspecting only the most recently persisted days.
	FallThreshold int
}

// Policy evaluates the expulsion rules spec.md §4.4 names. It holds no
// per-agent state itself; callers pass in the relevant ROI figures.
type Policy struct {
	mu     sync.RWMutex
	config Config
}

// NewPolicy creates an expulsion Policy from a Config.
func NewPolicy(cfg Config) *Policy {
	return &Policy{config: cfg}
}

// Config returns a copy of the current threshold configuration.
func (p *Policy) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// StopLossMember reports whether a current cohort member's roi_since_entry
// breaches the stop-loss threshold. Spec §4.4 uses "<=" for members.
func (p *Policy) StopLossMember(roiSinceEntry float64) bool {
	return roiSinceEntry <= p.Config().StopLossThreshold
}

// StopLossNonMember reports whether a non-member's roi_window_total breaches
// the stop-loss threshold. Spec §4.4 uses a strict "<" for non-members.
func (p *Policy) StopLossNonMember(roiWindowTotal float64) bool {
	return roiWindowTotal < p.Config().StopLossThreshold
}

// ThreeDayFall applies the three-consecutive-loss rule: walk the agent's last
// three persisted Daily ROIs strictly up to and including day T (oldest
// first), incrementing on roi < 0, resetting to 0 on roi > 0, and holding
// unchanged on roi == 0. Excluded iff the resulting counter >= FallThreshold.
func (p *Policy) ThreeDayFall(lastThreeDailyROIs []float64) bool {
	return p.losingStreak(lastThreeDailyROIs) >= p.Config().FallThreshold
}

// losingStreak computes the trailing counter described in spec.md §4.4,
// walking the given ROIs oldest-first.
func (p *Policy) losingStreak(dailyROIs []float64) int {
	streak := 0
	for _, roi := range dailyROIs {
		switch {
		case roi > 0:
			streak = 0
		case roi < 0:
			streak++
		default:
			// zero: hold, neither resets nor advances
		}
	}
	return streak
}
