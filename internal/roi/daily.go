// Package roi implements the Daily-ROI Calculator (C2) and Window-ROI
// Calculator (C3) of spec.md §4.2/§4.3.
package roi

import (
	"context"
	"fmt"

	"casterly-rock/internal/cache"
	"casterly-rock/internal/calendar"
	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"
	"casterly-rock/internal/store"

	"github.com/google/uuid"
)

// DailyCalculator computes and memoizes the per-(agent, day) Daily ROI
// (spec §4.2). A Redis front (cache.CacheService) sits ahead of the
// Postgres-backed memoization table; on a cache miss or Redis outage it
// falls back to the database transparently.
type DailyCalculator struct {
	store  *store.MovementStore
	repo   *database.Repository
	cache  *cache.CacheService // optional, may be nil
	logger *logging.Logger
}

// NewDailyCalculator builds a DailyCalculator. cacheSvc may be nil to disable
// the Redis memoization front entirely (falls back to the database only).
func NewDailyCalculator(s *store.MovementStore, repo *database.Repository, cacheSvc *cache.CacheService) *DailyCalculator {
	return &DailyCalculator{
		store:  s,
		repo:   repo,
		cache:  cacheSvc,
		logger: logging.Default().WithComponent("daily_roi"),
	}
}

// Compute returns the memoized Daily ROI for (simulation, agent, day),
// computing and persisting it on first access (spec §4.2 algorithm).
func (c *DailyCalculator) Compute(ctx context.Context, simID uuid.UUID, agentID, day string) (database.DailyROI, error) {
	if cached, ok := c.fromCache(ctx, simID, agentID, day); ok {
		return cached, nil
	}

	row, err := c.repo.GetDailyROI(ctx, simID, agentID, day)
	if err != nil {
		return database.DailyROI{}, fmt.Errorf("daily roi: lookup (%s, %s): %w", agentID, day, err)
	}
	if row != nil {
		c.toCache(ctx, *row)
		return *row, nil
	}

	computed, err := c.computeFresh(ctx, simID, agentID, day)
	if err != nil {
		return database.DailyROI{}, err
	}

	if err := c.repo.UpsertDailyROI(ctx, computed); err != nil {
		return database.DailyROI{}, fmt.Errorf("daily roi: persist (%s, %s): %w", agentID, day, err)
	}
	c.toCache(ctx, computed)
	return computed, nil
}

// computeFresh applies the §4.2 algorithm against source data. A missing
// prior balance or zero movements is a flat (0.0) day, never a loss.
func (c *DailyCalculator) computeFresh(ctx context.Context, simID uuid.UUID, agentID, day string) (database.DailyROI, error) {
	movements, err := c.store.MovementsInRange(ctx, day, day, agentID)
	if err != nil {
		return database.DailyROI{}, fmt.Errorf("daily roi: movements for (%s, %s): %w", agentID, day, err)
	}

	var pnl float64
	for _, m := range movements {
		pnl += m.ClosedPnL
	}

	priorDay, err := calendar.PriorDay(day)
	if err != nil {
		return database.DailyROI{}, fmt.Errorf("daily roi: %w", err)
	}
	priorBalance, hasBalance, err := c.store.EODBalance(ctx, agentID, priorDay)
	if err != nil {
		return database.DailyROI{}, fmt.Errorf("daily roi: prior balance for (%s, %s): %w", agentID, priorDay, err)
	}

	var roiValue float64
	if hasBalance && priorBalance > 0 && len(movements) > 0 {
		roiValue = pnl / priorBalance
	}

	return database.DailyROI{
		SimulationID: simID,
		AgentID:      agentID,
		Date:         day,
		ROI:          roiValue,
		PnL:          pnl,
		PriorBalance: priorBalance,
		TradeCount:   len(movements),
	}, nil
}

func (c *DailyCalculator) fromCache(ctx context.Context, simID uuid.UUID, agentID, day string) (database.DailyROI, bool) {
	if c.cache == nil {
		return database.DailyROI{}, false
	}
	var row database.DailyROI
	if err := c.cache.GetJSON(ctx, cache.DailyROIKey(simID.String(), agentID, day), &row); err != nil {
		return database.DailyROI{}, false
	}
	return row, true
}

func (c *DailyCalculator) toCache(ctx context.Context, row database.DailyROI) {
	if c.cache == nil {
		return
	}
	key := cache.DailyROIKey(row.SimulationID.String(), row.AgentID, row.Date)
	if err := c.cache.SetJSON(ctx, key, row, cache.DefaultROITTL); err != nil {
		c.logger.WithField("key", key).Debug("roi cache write skipped: %v", err)
	}
}
