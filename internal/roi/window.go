package roi

import (
	"context"
	"fmt"

	"casterly-rock/internal/calendar"
	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"
	"casterly-rock/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// maxWorkers bounds the per-agent fan-out (spec §5: "per-agent ROI fan-out
// may run concurrently", embarrassingly parallel, data-disjoint per agent).
const maxWorkers = 8

// WindowCalculator composes W consecutive Daily ROIs into a compounded
// Window ROI plus derived counters (spec §4.3). Its bulk path issues exactly
// two range scans — one over Movements, one over EOD Balances — regardless
// of agent count, then builds the per-(agent, day) grid in memory.
type WindowCalculator struct {
	store  *store.MovementStore
	repo   *database.Repository
	daily  *DailyCalculator
	logger *logging.Logger
}

// NewWindowCalculator builds a WindowCalculator. The bulk path writes the
// Daily ROI rows its grid derives straight to the daily_roi table through
// repo, keeping the memoization table populated as a side effect of every
// window computation; daily is stored but the bulk path does not call it.
func NewWindowCalculator(s *store.MovementStore, repo *database.Repository, daily *DailyCalculator) *WindowCalculator {
	return &WindowCalculator{
		store:  s,
		repo:   repo,
		daily:  daily,
		logger: logging.Default().WithComponent("window_roi"),
	}
}

// dayGrid is the in-memory per-agent, per-day PnL/trade-count/balance view
// built from the two bulk range scans, before compounding.
type dayGrid struct {
	pnl        map[string]map[string]float64 // date -> agent -> pnl
	tradeCount map[string]map[string]int     // date -> agent -> count
	balances   map[string]map[string]float64 // date -> agent -> eod balance
}

// ComputeBulk produces a Window ROI for every agent in agents, for the window
// of W calendar days ending on dayT (spec §4.3). It is the single bulk
// entry point the Ranking & Expulsion Engine calls once per day.
func (w *WindowCalculator) ComputeBulk(ctx context.Context, simID uuid.UUID, agents []string, dayT string, window int) (map[string]database.WindowROI, error) {
	windowStart, err := calendar.WindowStart(dayT, window)
	if err != nil {
		return nil, fmt.Errorf("window roi: %w", err)
	}
	// One extra day back covers the prior-balance denominator for windowStart.
	balanceRangeStart, err := calendar.PriorDay(windowStart)
	if err != nil {
		return nil, fmt.Errorf("window roi: %w", err)
	}

	movements, err := w.store.MovementsInRange(ctx, windowStart, dayT, "")
	if err != nil {
		return nil, fmt.Errorf("window roi: bulk movements: %w", err)
	}
	balances, err := w.store.EODBalancesInRange(ctx, balanceRangeStart, dayT)
	if err != nil {
		return nil, fmt.Errorf("window roi: bulk balances: %w", err)
	}

	grid := buildGrid(movements, balances)
	windowDays, err := calendar.Range(windowStart, dayT)
	if err != nil {
		return nil, fmt.Errorf("window roi: %w", err)
	}

	results := make(map[string]database.WindowROI, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	out := make(chan database.WindowROI, len(agents))

	for _, agentID := range agents {
		agentID := agentID
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			row, dailyRows := w.computeAgentWindow(simID, agentID, dayT, window, windowDays, grid)
			if err := w.persistDailyRows(gctx, dailyRows); err != nil {
				w.logger.WithField("agent_id", agentID).Warn("failed to persist daily roi rows during window compute: %v", err)
			}
			out <- row
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("window roi: per-agent fan-out: %w", err)
	}
	close(out)
	for row := range out {
		results[row.AgentID] = row
	}

	return results, nil
}

func buildGrid(movements []database.Movement, balances map[string]map[string]float64) dayGrid {
	grid := dayGrid{
		pnl:        make(map[string]map[string]float64),
		tradeCount: make(map[string]map[string]int),
		balances:   balances,
	}
	for _, m := range movements {
		if grid.pnl[m.Date] == nil {
			grid.pnl[m.Date] = make(map[string]float64)
			grid.tradeCount[m.Date] = make(map[string]int)
		}
		grid.pnl[m.Date][m.AgentID] += m.ClosedPnL
		grid.tradeCount[m.Date][m.AgentID]++
	}
	return grid
}

// computeAgentWindow compounds one agent's daily ROIs across windowDays and
// returns both the Window ROI row and the per-day Daily ROI rows it derived
// (for memoization), per spec.md §4.2's "roi=0.0 if no movements/prior
// balance" rule and §4.3's compounding rule.
func (w *WindowCalculator) computeAgentWindow(simID uuid.UUID, agentID, dayT string, window int, windowDays []string, grid dayGrid) (database.WindowROI, []database.DailyROI) {
	compounded := 1.0
	var totalPnL float64
	var positiveDays, negativeDays, totalTrades int
	dailyROIs := make([]float64, 0, len(windowDays))
	dailyRows := make([]database.DailyROI, 0, len(windowDays))

	for i, day := range windowDays {
		priorDay := windowDays[0]
		if i > 0 {
			priorDay = windowDays[i-1]
		} else {
			// first day of window: prior day is one calendar day before windowStart
			if pd, err := calendar.PriorDay(day); err == nil {
				priorDay = pd
			}
		}

		pnl := grid.pnl[day][agentID]
		count := grid.tradeCount[day][agentID]
		priorBalance, hasPrior := grid.balances[priorDay][agentID]

		var dayROI float64
		if hasPrior && priorBalance > 0 && count > 0 {
			dayROI = pnl / priorBalance
		}

		compounded *= 1 + dayROI
		totalPnL += pnl
		totalTrades += count
		switch {
		case dayROI > 0:
			positiveDays++
		case dayROI < 0:
			negativeDays++
		}
		dailyROIs = append(dailyROIs, dayROI)

		dailyRows = append(dailyRows, database.DailyROI{
			SimulationID: simID,
			AgentID:      agentID,
			Date:         day,
			ROI:          dayROI,
			PnL:          pnl,
			PriorBalance: priorBalance,
			TradeCount:   count,
		})
	}

	balanceCurrent := grid.balances[dayT][agentID]

	return database.WindowROI{
		SimulationID:      simID,
		AgentID:           agentID,
		Date:              dayT,
		WindowDays:        window,
		ROIWindowTotal:    compounded - 1,
		TotalPnLWindow:    totalPnL,
		PositiveDays:      positiveDays,
		NegativeDays:      negativeDays,
		TotalTradesWindow: totalTrades,
		BalanceCurrent:    balanceCurrent,
		DailyROIs:         dailyROIs,
	}, dailyRows
}

func (w *WindowCalculator) persistDailyRows(ctx context.Context, rows []database.DailyROI) error {
	for _, row := range rows {
		if err := w.repo.UpsertDailyROI(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
