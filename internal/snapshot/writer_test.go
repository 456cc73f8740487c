package snapshot

import (
	"testing"

	"casterly-rock/internal/database"

	"github.com/google/uuid"
)

func TestBuildAggregatesByAgent(t *testing.T) {
	simID := uuid.New()
	accounts := []database.ClientAccount{
		{AccountID: "CL1", CurrentAgentID: "a", CurrentBalance: 1100, CumulativeROI: 0.10, WinRate: 1.0},
		{AccountID: "CL2", CurrentAgentID: "a", CurrentBalance: 900, CumulativeROI: -0.10, WinRate: 0.0},
		{AccountID: "CL3", CurrentAgentID: "b", CurrentBalance: 1000, CumulativeROI: 0.0, WinRate: 0.5},
	}

	snap := build(simID, "2026-01-05", accounts)

	if snap.TotalAccounts != 3 {
		t.Fatalf("expected 3 total accounts, got %d", snap.TotalAccounts)
	}
	if snap.BalanceTotal != 3000 {
		t.Errorf("expected balance total 3000, got %v", snap.BalanceTotal)
	}
	if snap.Distribution["a"].NAccounts != 2 {
		t.Errorf("expected agent a to have 2 accounts, got %d", snap.Distribution["a"].NAccounts)
	}
	if snap.Distribution["a"].BalanceTotal != 2000 {
		t.Errorf("expected agent a balance total 2000, got %v", snap.Distribution["a"].BalanceTotal)
	}
	if snap.Distribution["b"].NAccounts != 1 {
		t.Errorf("expected agent b to have 1 account, got %d", snap.Distribution["b"].NAccounts)
	}
}

func TestBuildEmptyAccountsIsSafe(t *testing.T) {
	snap := build(uuid.New(), "2026-01-05", nil)
	if snap.TotalAccounts != 0 || snap.AvgROI != 0 {
		t.Errorf("expected zero-value snapshot for empty accounts, got %+v", snap)
	}
}

func TestBuildSkipsUnassignedAccountsInDistribution(t *testing.T) {
	accounts := []database.ClientAccount{
		{AccountID: "CL1", CurrentAgentID: "", CurrentBalance: 1000},
	}
	snap := build(uuid.New(), "2026-01-05", accounts)
	if len(snap.Distribution) != 0 {
		t.Errorf("expected no distribution entries for an unassigned account, got %v", snap.Distribution)
	}
	if snap.TotalAccounts != 1 {
		t.Errorf("expected the unassigned account still counted in totals, got %d", snap.TotalAccounts)
	}
}
