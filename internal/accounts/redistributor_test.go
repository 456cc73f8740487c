package accounts

import (
	"fmt"
	"testing"

	"casterly-rock/internal/database"

	"github.com/google/uuid"
)

func makeAccounts(n int) []database.ClientAccount {
	accounts := make([]database.ClientAccount, n)
	for i := range accounts {
		accounts[i] = database.ClientAccount{
			AccountID:      fmt.Sprintf("CL%04d", i),
			InitialBalance: 1000,
			CurrentBalance: 1000,
		}
	}
	return accounts
}

func TestInitialDistributionEvenSplit(t *testing.T) {
	r := NewRedistributor()
	simID := uuid.New()
	cohort := []string{"c", "b", "a"}
	accounts := makeAccounts(9)

	assigned, history := r.InitialDistribution(simID, cohort, accounts, "2026-01-01")
	if len(history) != 9 {
		t.Fatalf("expected 9 assignment history entries, got %d", len(history))
	}
	counts := map[string]int{}
	for _, a := range assigned {
		if a.CurrentAgentID == "" {
			t.Fatalf("account %s left unassigned", a.AccountID)
		}
		counts[a.CurrentAgentID]++
	}
	for _, agent := range cohort {
		if counts[agent] != 3 {
			t.Errorf("expected 3 accounts for %s, got %d", agent, counts[agent])
		}
	}
}

func TestInitialDistributionDeterministic(t *testing.T) {
	r := NewRedistributor()
	simID := uuid.New()
	cohort := []string{"a", "b", "c", "d"}
	accounts := makeAccounts(10)

	first, _ := r.InitialDistribution(simID, cohort, accounts, "2026-01-01")
	second, _ := r.InitialDistribution(simID, cohort, accounts, "2026-01-01")

	for i := range first {
		if first[i].CurrentAgentID != second[i].CurrentAgentID {
			t.Fatalf("expected identical assignment across runs for the same simulation_id, account %s differs", first[i].AccountID)
		}
	}
}

func TestTransferMovesOnlyMatchingAccounts(t *testing.T) {
	r := NewRedistributor()
	simID := uuid.New()
	accounts := []database.ClientAccount{
		{AccountID: "CL1", CurrentAgentID: "out-agent"},
		{AccountID: "CL2", CurrentAgentID: "other-agent"},
	}
	updated, history := r.Transfer(simID, accounts, "out-agent", "in-agent", "2026-01-02")
	if updated[0].CurrentAgentID != "in-agent" {
		t.Errorf("expected CL1 moved to in-agent, got %s", updated[0].CurrentAgentID)
	}
	if updated[1].CurrentAgentID != "other-agent" {
		t.Errorf("expected CL2 untouched, got %s", updated[1].CurrentAgentID)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
}

// TestRebalanceWithinOne mirrors spec invariant I9.
func TestRebalanceWithinOne(t *testing.T) {
	r := NewRedistributor()
	simID := uuid.New()
	cohort := []string{"a", "b", "c"}
	accounts := []database.ClientAccount{
		{AccountID: "CL1", CurrentAgentID: "a"},
		{AccountID: "CL2", CurrentAgentID: "a"},
		{AccountID: "CL3", CurrentAgentID: "a"},
		{AccountID: "CL4", CurrentAgentID: "a"},
		{AccountID: "CL5", CurrentAgentID: "b"},
		{AccountID: "CL6", CurrentAgentID: "c"},
	}
	balanced, _ := r.Rebalance(simID, accounts, cohort, "2026-01-03")

	counts := map[string]int{}
	for _, a := range balanced {
		counts[a.CurrentAgentID]++
	}
	minC, maxC := 1<<30, 0
	for _, agent := range cohort {
		if counts[agent] < minC {
			minC = counts[agent]
		}
		if counts[agent] > maxC {
			maxC = counts[agent]
		}
	}
	if maxC-minC > 1 {
		t.Errorf("expected counts within 1 of each other, got %v", counts)
	}
	if len(balanced) != len(accounts) {
		t.Errorf("expected no accounts lost, got %d want %d", len(balanced), len(accounts))
	}
}
