package accounts

import (
	"context"
	"fmt"

	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"
	"casterly-rock/internal/roi"

	"github.com/google/uuid"
)

// Advancer updates every client account's balance and cumulative ROI using
// the daily ROI of its currently-assigned agent (C7, spec §4.7).
type Advancer struct {
	daily  *roi.DailyCalculator
	logger *logging.Logger
}

// NewAdvancer builds an Advancer backed by the Daily-ROI Calculator so an
// agent's ROI for the day is read through the same memoization path C4 uses.
func NewAdvancer(daily *roi.DailyCalculator) *Advancer {
	return &Advancer{daily: daily, logger: logging.Default().WithComponent("advancer")}
}

// AdvanceAll applies spec §4.7's algorithm to every account, using the
// post-rotation current_agent_id (callers must advance only after C5/C6 have
// applied the day's rotations and redistribution).
func (a *Advancer) AdvanceAll(ctx context.Context, simID uuid.UUID, day string, accounts []database.ClientAccount) ([]database.ClientAccount, error) {
	out := make([]database.ClientAccount, len(accounts))
	roiCache := make(map[string]float64)

	for i, acc := range accounts {
		if acc.CurrentAgentID == "" {
			out[i] = acc
			continue
		}

		r, ok := roiCache[acc.CurrentAgentID]
		if !ok {
			row, err := a.daily.Compute(ctx, simID, acc.CurrentAgentID, day)
			if err != nil {
				return nil, fmt.Errorf("advancer: daily roi for %s on %s: %w", acc.CurrentAgentID, day, err)
			}
			r = row.ROI
			roiCache[acc.CurrentAgentID] = r
		}

		out[i] = applyDailyROI(acc, r)
	}

	return out, nil
}

// applyDailyROI is the pure step of spec §4.7's algorithm (steps 2-4), kept
// separate from the Daily-ROI lookup so it can be tested without a backing
// store.
func applyDailyROI(acc database.ClientAccount, r float64) database.ClientAccount {
	acc.CurrentBalance = acc.CurrentBalance * (1 + r)
	if acc.InitialBalance > 0 {
		acc.CumulativeROI = acc.CurrentBalance/acc.InitialBalance - 1
	}
	acc.TotalDays++
	if r > 0 {
		acc.PositiveDays++
	}
	if acc.TotalDays > 0 {
		acc.WinRate = float64(acc.PositiveDays) / float64(acc.TotalDays)
	}
	return acc
}
