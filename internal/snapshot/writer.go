// Package snapshot implements the Snapshot Writer (C8, spec §4.8): the
// end-of-day aggregate view of client accounts, grouped by agent and
// globally, written once per (simulation, day) and idempotent on overwrite.
package snapshot

import (
	"context"
	"fmt"

	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"

	"github.com/google/uuid"
)

// Writer persists one DailySnapshot per (simulation, day).
type Writer struct {
	repo   *database.Repository
	logger *logging.Logger
}

// NewWriter builds a Writer.
func NewWriter(repo *database.Repository) *Writer {
	return &Writer{repo: repo, logger: logging.Default().WithComponent("snapshot")}
}

// Write computes and persists the day's DailySnapshot from the current
// account state (spec §4.8). It overwrites any existing snapshot for the
// same (simulation, day), making the write idempotent.
func (w *Writer) Write(ctx context.Context, simID uuid.UUID, day string, accounts []database.ClientAccount) (database.DailySnapshot, error) {
	snap := build(simID, day, accounts)
	if err := w.repo.WriteSnapshot(ctx, snap, accounts); err != nil {
		return database.DailySnapshot{}, fmt.Errorf("snapshot: write (%s): %w", day, err)
	}
	return snap, nil
}

// build is the pure aggregation step of spec §4.8, kept separate from the
// persistence call so it can be tested without a backing store.
func build(simID uuid.UUID, day string, accounts []database.ClientAccount) database.DailySnapshot {
	snap := database.DailySnapshot{
		SimulationID: simID,
		Date:         day,
		Distribution: make(map[string]database.AgentDistribution),
	}

	type agentAccum struct {
		n       int
		balance float64
		roiSum  float64
	}
	accum := make(map[string]*agentAccum)

	var roiSum, winRateSum float64
	for _, acc := range accounts {
		snap.TotalAccounts++
		snap.BalanceTotal += acc.CurrentBalance
		roiSum += acc.CumulativeROI
		winRateSum += acc.WinRate

		if acc.CurrentAgentID == "" {
			continue
		}
		a, ok := accum[acc.CurrentAgentID]
		if !ok {
			a = &agentAccum{}
			accum[acc.CurrentAgentID] = a
		}
		a.n++
		a.balance += acc.CurrentBalance
		a.roiSum += acc.CumulativeROI
	}

	if snap.TotalAccounts > 0 {
		snap.AvgROI = roiSum / float64(snap.TotalAccounts)
		snap.AvgWinRate = winRateSum / float64(snap.TotalAccounts)
	}

	for agentID, a := range accum {
		dist := database.AgentDistribution{NAccounts: a.n, BalanceTotal: a.balance}
		if a.n > 0 {
			dist.AvgROI = a.roiSum / float64(a.n)
		}
		snap.Distribution[agentID] = dist
	}

	return snap
}
