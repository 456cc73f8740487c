// Package store is the read-only Movement/Balance Store (C1, spec §4.1): a
// thin accessor layer over internal/database's pgx pool, presenting five read
// operations: spec §4.1's four plus the bulk EODBalancesInRange scan.
package store

import (
	"context"
	"fmt"

	"casterly-rock/internal/database"
)

// MovementStore provides read-only access to historical closed-PnL movements
// and end-of-day balances, keyed by agent and date.
type MovementStore struct {
	repo *database.Repository
}

// NewMovementStore wraps a Repository as a read-only store.
func NewMovementStore(repo *database.Repository) *MovementStore {
	return &MovementStore{repo: repo}
}

// MovementsInRange returns every movement whose calendar date lies in
// [start, end], optionally filtered to one agent. Pass "" for every agent.
func (s *MovementStore) MovementsInRange(ctx context.Context, start, end, agentID string) ([]database.Movement, error) {
	movements, err := s.repo.MovementsInRange(ctx, start, end, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: movements in range: %w", err)
	}
	return movements, nil
}

// EODBalancesOn returns every agent's EOD balance for day. A missing agent
// must be treated by the caller as 0.0 (no viable denominator, spec §4.1).
func (s *MovementStore) EODBalancesOn(ctx context.Context, day string) (map[string]float64, error) {
	balances, err := s.repo.EODBalancesOn(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("store: eod balances on %s: %w", day, err)
	}
	return balances, nil
}

// EODBalance returns one agent's balance on day, ok=false if none recorded.
func (s *MovementStore) EODBalance(ctx context.Context, agentID, day string) (balance float64, ok bool, err error) {
	balance, ok, err = s.repo.EODBalance(ctx, agentID, day)
	if err != nil {
		return 0, false, fmt.Errorf("store: eod balance for %s on %s: %w", agentID, day, err)
	}
	return balance, ok, nil
}

// EODBalancesInRange returns every agent's EOD balance for every day in
// [start, end] as a single range scan, keyed by date then agent_id.
func (s *MovementStore) EODBalancesInRange(ctx context.Context, start, end string) (map[string]map[string]float64, error) {
	balances, err := s.repo.EODBalancesInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("store: eod balances in range: %w", err)
	}
	return balances, nil
}

// AgentsWithAnyBalance returns the union of agent identifiers observed across
// the window [start, end].
func (s *MovementStore) AgentsWithAnyBalance(ctx context.Context, start, end string) ([]string, error) {
	agents, err := s.repo.AgentsWithAnyBalance(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("store: agents with any balance: %w", err)
	}
	return agents, nil
}
