package ranking

import (
	"testing"

	"casterly-rock/internal/risk"
)

func newTestEngine(cohortSize int) *Engine {
	policy := risk.NewPolicy(risk.Config{StopLossThreshold: -0.10, FallThreshold: 3})
	return NewEngine(policy, NewROIStrategy(), 0.01, cohortSize)
}

// TestRankPositivesBeforeNonPositives mirrors spec scenario S6: 9 eligible
// positive agents and 2 eligible non-positive agents all rank, positives
// first regardless of N.
func TestRankPositivesBeforeNonPositives(t *testing.T) {
	e := newTestEngine(16)

	var rows []AgentRow
	for i := 0; i < 9; i++ {
		rows = append(rows, AgentRow{
			AgentID:        agentName(i),
			ROIWindowTotal: 0.05 + float64(i)*0.001,
			BalanceCurrent: 1000,
		})
	}
	for i := 0; i < 2; i++ {
		rows = append(rows, AgentRow{
			AgentID:        agentName(100 + i),
			ROIWindowTotal: -0.02,
			BalanceCurrent: 1000,
		})
	}

	topN, all := e.Rank(rows)
	if len(all) != 11 {
		t.Fatalf("expected 11 ranked agents, got %d", len(all))
	}
	if len(topN) != 11 {
		t.Fatalf("expected all 11 to fit within cohort size 16, got %d", len(topN))
	}
	for i := 0; i < 9; i++ {
		if all[i].ROIWindow <= 0 {
			t.Errorf("rank %d should be a positive-ROI agent, got %v", i+1, all[i])
		}
	}
	for i := 9; i < 11; i++ {
		if all[i].ROIWindow > 0 {
			t.Errorf("rank %d should be a non-positive-ROI agent, got %v", i+1, all[i])
		}
	}
}

func TestRankExcludesLowBalance(t *testing.T) {
	e := newTestEngine(16)
	rows := []AgentRow{
		{AgentID: "a", ROIWindowTotal: 0.10, BalanceCurrent: 0.0},
		{AgentID: "b", ROIWindowTotal: 0.05, BalanceCurrent: 1000},
	}
	_, all := e.Rank(rows)
	if len(all) != 1 || all[0].AgentID != "b" {
		t.Errorf("expected only agent b to survive the balance pre-filter, got %v", all)
	}
}

func TestRankExcludesStopLossMember(t *testing.T) {
	e := newTestEngine(16)
	rows := []AgentRow{
		{AgentID: "a", IsInCasterly: true, ROISinceEntry: -0.11, ROIWindowTotal: 0.02, BalanceCurrent: 1000},
		{AgentID: "b", ROIWindowTotal: 0.05, BalanceCurrent: 1000},
	}
	_, all := e.Rank(rows)
	if len(all) != 1 || all[0].AgentID != "b" {
		t.Errorf("expected agent a excluded by member stop-loss, got %v", all)
	}
}

func TestRankExcludesThreeDayFall(t *testing.T) {
	e := newTestEngine(16)
	rows := []AgentRow{
		{AgentID: "a", ROIWindowTotal: 0.02, BalanceCurrent: 1000, LastThreeDailyROIs: []float64{-0.01, -0.01, -0.01}},
		{AgentID: "b", ROIWindowTotal: 0.05, BalanceCurrent: 1000},
	}
	_, all := e.Rank(rows)
	if len(all) != 1 || all[0].AgentID != "b" {
		t.Errorf("expected agent a excluded by three-day-fall, got %v", all)
	}
}

func TestRankTieBreaksByAgentID(t *testing.T) {
	e := newTestEngine(16)
	rows := []AgentRow{
		{AgentID: "zeta", ROIWindowTotal: 0.05, BalanceCurrent: 1000},
		{AgentID: "alpha", ROIWindowTotal: 0.05, BalanceCurrent: 1000},
	}
	_, all := e.Rank(rows)
	if all[0].AgentID != "alpha" || all[1].AgentID != "zeta" {
		t.Errorf("expected deterministic agent_id tie-break, got %v then %v", all[0].AgentID, all[1].AgentID)
	}
}

func TestRankCutoffRespectsCohortSize(t *testing.T) {
	e := newTestEngine(2)
	rows := []AgentRow{
		{AgentID: "a", ROIWindowTotal: 0.05, BalanceCurrent: 1000},
		{AgentID: "b", ROIWindowTotal: 0.04, BalanceCurrent: 1000},
		{AgentID: "c", ROIWindowTotal: 0.03, BalanceCurrent: 1000},
	}
	topN, all := e.Rank(rows)
	if len(all) != 3 {
		t.Fatalf("expected all 3 eligible agents ranked, got %d", len(all))
	}
	if len(topN) != 2 {
		t.Fatalf("expected TopN cut off at cohort size 2, got %d", len(topN))
	}
}

func agentName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%26]) + string(rune('0'+i/26))
}
