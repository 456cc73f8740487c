package ranking

import (
	"sort"

	"casterly-rock/internal/logging"
	"casterly-rock/internal/risk"
)

// defaultMinAUM is the operational floor below which an agent's current balance
// disqualifies it from ranking entirely (spec §4.4 pre-filter step 1).
const defaultMinAUM = 0.01

// Ranked is one agent's position in the day's ordered ranking, before TopN
// account/AUM figures (filled in later by the Account Redistributor) are
// attached. Agents dropped by the pre-filter step (spec §4.4 steps 1-3) never
// appear here — internal/rotation.Detector independently reclassifies any
// exit's cause (stop-loss, three-day-fall, ranking displacement) straight off
// AgentMetrics for the rotation log, so the reason an agent is excluded from
// today's ranking is never threaded through this struct.
type Ranked struct {
	Rank      int
	AgentID   string
	ROIWindow float64
}

// Engine produces the day's ordered ranking and TopN cutoff (C4, spec §4.4).
type Engine struct {
	policy     *risk.Policy
	strategy   Strategy
	minAUM     float64
	cohortSize int
	logger     *logging.Logger
}

// NewEngine builds a ranking Engine. minAUM <= 0 falls back to the
// operational default of 0.01.
func NewEngine(policy *risk.Policy, strategy Strategy, minAUM float64, cohortSize int) *Engine {
	if minAUM <= 0 {
		minAUM = defaultMinAUM
	}
	return &Engine{
		policy:     policy,
		strategy:   strategy,
		minAUM:     minAUM,
		cohortSize: cohortSize,
		logger:     logging.Default().WithComponent("ranking"),
	}
}

// Rank applies the pre-filter, then the positive/non-positive bucketed sort,
// then dense rank assignment, returning the full ranked list (eligible
// agents only, in rank order) and the TopN cutoff (spec §4.4).
func (e *Engine) Rank(rows []AgentRow) (topN []Ranked, allRanked []Ranked) {
	var eligible []AgentRow

	for _, row := range rows {
		if row.BalanceCurrent <= e.minAUM {
			e.logger.WithField("agent_id", row.AgentID).Debug("excluded: balance %.4f <= min_aum", row.BalanceCurrent)
			continue
		}
		if e.stopLossApplies(row) {
			e.logger.WithField("agent_id", row.AgentID).Debug("excluded: stop loss")
			continue
		}
		if e.policy.ThreeDayFall(row.LastThreeDailyROIs) {
			e.logger.WithField("agent_id", row.AgentID).Debug("excluded: three-day fall")
			continue
		}
		eligible = append(eligible, row)
	}

	var positives, nonPositives []AgentRow
	for _, row := range eligible {
		if row.ROIWindowTotal > 0 {
			positives = append(positives, row)
		} else {
			nonPositives = append(nonPositives, row)
		}
	}

	e.sortBucket(positives)
	e.sortBucket(nonPositives)

	ordered := make([]AgentRow, 0, len(positives)+len(nonPositives))
	ordered = append(ordered, positives...)
	ordered = append(ordered, nonPositives...)

	allRanked = make([]Ranked, len(ordered))
	for i, row := range ordered {
		allRanked[i] = Ranked{
			Rank:      i + 1,
			AgentID:   row.AgentID,
			ROIWindow: row.ROIWindowTotal,
		}
	}

	n := e.cohortSize
	if n > len(allRanked) {
		n = len(allRanked)
	}
	topN = allRanked[:n]
	return topN, allRanked
}

// stopLossApplies implements spec §4.4 step 2's two-branch stop-loss check:
// cohort members are judged on roi_since_entry, non-members on roi_window_total.
func (e *Engine) stopLossApplies(row AgentRow) bool {
	if row.IsInCasterly {
		return e.policy.StopLossMember(row.ROISinceEntry)
	}
	return e.policy.StopLossNonMember(row.ROIWindowTotal)
}

// sortBucket sorts in place by descending strategy score, tie-broken by
// ascending agent_id for determinism across runs (spec §4.4's undefined
// tie-break, resolved per the spec's own suggested default).
func (e *Engine) sortBucket(rows []AgentRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := e.strategy.Score(rows[i]), e.strategy.Score(rows[j])
		if si != sj {
			return si > sj
		}
		return rows[i].AgentID < rows[j].AgentID
	})
}
