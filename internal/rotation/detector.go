// Package rotation implements the Rotation Detector (C5, spec §4.5): it
// diffs yesterday's cohort against today's, pairs exits with entries
// deterministically, classifies each pair's reason, and emits Rank-Change
// entries for agents that stayed in cohort but moved rank.
//
// Grounded on original_source/app/domain/services/
// agent_rotation_domain_service.py's AgentRotationDomainService (the pure,
// I/O-free domain logic for pairing and classifying rotations) and the
// teacher's mutex-guarded threshold idiom carried over from internal/risk.
package rotation

import (
	"sort"

	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"
	"casterly-rock/internal/risk"
)

// minTradesForEntry and minBalanceForEntry are the informational rotation
// guardrails from original_source's validate_rotation_rules: they flag a
// questionable replacement but never block it, since spec.md's automatic
// rules are the only ones that can force an outcome here.
const (
	minTradesForEntry  = 10
	minBalanceForEntry = 1000.0
)

// AgentMetrics is everything the Detector needs about one agent on day T,
// supplied by the orchestrator from that day's Window ROI and ranking output.
type AgentMetrics struct {
	AgentID            string
	ROIWindowTotal     float64
	LastThreeDailyROIs []float64
	AllDailyROIsToDate []float64 // every persisted Daily ROI up to and including T, oldest first
	NAccounts          int
	TotalAUM           float64
	TotalTrades        int
	BalanceCurrent     float64
}

// Detector pairs yesterday's cohort against today's and classifies exits.
type Detector struct {
	policy     *risk.Policy
	windowDays int
	logger     *logging.Logger
}

// NewDetector builds a Detector for the given window.
func NewDetector(policy *risk.Policy, windowDays int) *Detector {
	return &Detector{
		policy:     policy,
		windowDays: windowDays,
		logger:     logging.Default().WithComponent("rotation"),
	}
}

// Detect computes the day's rotation log and rank-change entries (spec §4.5).
//
// yesterdayCohort/todayCohort list the agent_ids of is_in_casterly=true
// members on each day. yesterdayRanks/todayRanks give every ranked agent's
// dense rank on that day (not just cohort members) so rank-change entries can
// be computed for agents who stayed in cohort. metrics supplies the
// per-agent figures the classification and logging need, keyed by agent_id.
func (d *Detector) Detect(
	date string,
	yesterdayCohort, todayCohort []string,
	yesterdayRanks, todayRanks map[string]int,
	metrics map[string]AgentMetrics,
) ([]database.RotationLogEntry, []database.RankChangeEntry) {
	yesterdaySet := toSet(yesterdayCohort)
	todaySet := toSet(todayCohort)

	var out, in, stayed []string
	for _, a := range yesterdayCohort {
		if !todaySet[a] {
			out = append(out, a)
		} else {
			stayed = append(stayed, a)
		}
	}
	for _, a := range todayCohort {
		if !yesterdaySet[a] {
			in = append(in, a)
		}
	}

	sort.Strings(out)
	sort.Strings(in)
	sort.Strings(stayed)

	entries := make([]database.RotationLogEntry, 0, maxInt(len(out), len(in)))
	pairs := maxInt(len(out), len(in))
	for i := 0; i < pairs; i++ {
		var agentOut, agentIn string
		if i < len(out) {
			agentOut = out[i]
		}
		if i < len(in) {
			agentIn = in[i]
		}
		entries = append(entries, d.buildEntry(date, agentOut, agentIn, metrics))
	}

	var rankChanges []database.RankChangeEntry
	for _, a := range stayed {
		prev, hasPrev := yesterdayRanks[a]
		cur, hasCur := todayRanks[a]
		if !hasPrev || !hasCur || prev == cur {
			continue
		}
		rankChanges = append(rankChanges, database.RankChangeEntry{
			Date:         date,
			AgentID:      a,
			RankPrevious: prev,
			RankCurrent:  cur,
			RankChange:   prev - cur,
		})
	}

	return entries, rankChanges
}

// buildEntry classifies one OUT/IN pair per spec §4.5 step 4's priority
// order (stop-loss, then three-day-fall, else ranking displacement) and
// computes the informational roi_total_out as a simple linear sum.
func (d *Detector) buildEntry(date, agentOut, agentIn string, metrics map[string]AgentMetrics) database.RotationLogEntry {
	entry := database.RotationLogEntry{
		Date:       date,
		AgentOut:   agentOut,
		AgentIn:    agentIn,
		WindowDays: d.windowDays,
	}

	if agentOut != "" {
		outM := metrics[agentOut]
		entry.ROIWindowOut = outM.ROIWindowTotal
		entry.ROITotalOut = sumROIs(outM.AllDailyROIsToDate)
		entry.NAccounts = outM.NAccounts
		entry.TotalAUM = outM.TotalAUM
		entry.Reason = d.classify(outM)
	} else {
		// No outgoing counterpart: a net cohort expansion, not a displacement.
		entry.Reason = database.ReasonDailyRotation
	}

	if agentIn != "" {
		inM := metrics[agentIn]
		entry.ROIWindowIn = inM.ROIWindowTotal
		if agentOut != "" {
			entry.Flags = append(entry.Flags, validateReplacement(metrics[agentOut], inM)...)
		}
	}

	return entry
}

func (d *Detector) classify(outM AgentMetrics) database.RotationReason {
	if outM.ROIWindowTotal <= d.policy.Config().StopLossThreshold {
		return database.ReasonStopLoss
	}
	if d.policy.ThreeDayFall(outM.LastThreeDailyROIs) {
		return database.ReasonThreeDaysFall
	}
	return database.ReasonRankingDisplacement
}

// validateReplacement reproduces validate_rotation_rules's informational
// checks; violations are recorded as Flags but never block the rotation.
func validateReplacement(outM, inM AgentMetrics) []string {
	var flags []string
	if inM.ROIWindowTotal <= outM.ROIWindowTotal {
		flags = append(flags, "replacement_roi_not_improved")
	}
	if inM.TotalTrades < minTradesForEntry {
		flags = append(flags, "replacement_below_min_trades")
	}
	if inM.BalanceCurrent < minBalanceForEntry {
		flags = append(flags, "replacement_below_min_balance")
	}
	return flags
}

func toSet(agents []string) map[string]bool {
	set := make(map[string]bool, len(agents))
	for _, a := range agents {
		set[a] = true
	}
	return set
}

func sumROIs(rois []float64) float64 {
	var sum float64
	for _, r := range rois {
		sum += r
	}
	return sum
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
