package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods over every collection in the
// persistence surface (spec §6.1).
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// GetDB returns the underlying DB instance for direct pool access.
func (r *Repository) GetDB() *DB {
	return r.db
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// windowTable validates W against the supported set and returns the
// window-partitioned table name, following spec §6.1's naming convention.
func windowTable(prefix string, window int) (string, error) {
	switch window {
	case 3, 5, 7, 10, 15, 30:
		return fmt.Sprintf("%s_%dd", prefix, window), nil
	default:
		return "", fmt.Errorf("unsupported window_days: %d", window)
	}
}

// ============================================================================
// MOVEMENTS / BALANCES (C1, read-only to the simulation core)
// ============================================================================

// InsertMovement inserts a single closed-trade movement (used by ingestion/seeding).
func (r *Repository) InsertMovement(ctx context.Context, m *Movement) error {
	query := `
		INSERT INTO movements (agent_id, date, closed_pnl, symbol, side)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query, m.AgentID, m.Date, m.ClosedPnL, m.Symbol, m.Side).
		Scan(&m.ID, &m.CreatedAt)
}

// InsertBalance inserts or replaces an end-of-day balance (used by ingestion/seeding).
func (r *Repository) InsertBalance(ctx context.Context, b *Balance) error {
	query := `
		INSERT INTO balances (agent_id, date, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id, date) DO UPDATE SET balance = EXCLUDED.balance
	`
	_, err := r.db.Pool.Exec(ctx, query, b.AgentID, b.Date, b.Balance)
	return err
}

// MovementsInRange returns every movement whose date lies in [start, end],
// optionally filtered to one agent (spec §4.1).
func (r *Repository) MovementsInRange(ctx context.Context, start, end, agentID string) ([]Movement, error) {
	var rows pgx.Rows
	var err error
	if agentID != "" {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT id, agent_id, date::text, closed_pnl, COALESCE(symbol, ''), COALESCE(side, ''), created_at
			FROM movements WHERE date BETWEEN $1 AND $2 AND agent_id = $3
		`, start, end, agentID)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT id, agent_id, date::text, closed_pnl, COALESCE(symbol, ''), COALESCE(side, ''), created_at
			FROM movements WHERE date BETWEEN $1 AND $2
		`, start, end)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Date, &m.ClosedPnL, &m.Symbol, &m.Side, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// EODBalancesOn returns every agent's EOD balance for day. Callers treat a
// missing agent as 0.0 (no viable denominator, spec §4.1).
func (r *Repository) EODBalancesOn(ctx context.Context, date string) (map[string]float64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT agent_id, balance FROM balances WHERE date = $1`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var agentID string
		var balance float64
		if err := rows.Scan(&agentID, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out[agentID] = balance
	}
	return out, rows.Err()
}

// EODBalance returns a single agent's balance on date, absent if none recorded.
func (r *Repository) EODBalance(ctx context.Context, agentID, date string) (float64, bool, error) {
	var balance float64
	err := r.db.Pool.QueryRow(ctx, `SELECT balance FROM balances WHERE agent_id = $1 AND date = $2`, agentID, date).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query balance: %w", err)
	}
	return balance, true, nil
}

// EODBalancesInRange returns every agent's EOD balance for every day in
// [start, end] as a single range scan, keyed by date then agent_id. This is
// the bulk balance lookup the Window-ROI Calculator depends on so it never
// issues more than one balance query regardless of agent count (spec §4.3).
func (r *Repository) EODBalancesInRange(ctx context.Context, start, end string) (map[string]map[string]float64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT date::text, agent_id, balance FROM balances WHERE date BETWEEN $1 AND $2
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances range: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]float64)
	for rows.Next() {
		var date, agentID string
		var balance float64
		if err := rows.Scan(&date, &agentID, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		if out[date] == nil {
			out[date] = make(map[string]float64)
		}
		out[date][agentID] = balance
	}
	return out, rows.Err()
}

// AgentsWithAnyBalance returns the union of agent identifiers observed in [start, end].
func (r *Repository) AgentsWithAnyBalance(ctx context.Context, start, end string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT agent_id FROM balances WHERE date BETWEEN $1 AND $2 ORDER BY agent_id
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, fmt.Errorf("failed to scan agent id: %w", err)
		}
		out = append(out, agentID)
	}
	return out, rows.Err()
}

// ============================================================================
// DAILY ROI (C2)
// ============================================================================

// GetDailyROI returns the memoized row for (simulation, agent, day), if present.
func (r *Repository) GetDailyROI(ctx context.Context, simID uuid.UUID, agentID, date string) (*DailyROI, error) {
	var row DailyROI
	err := r.db.Pool.QueryRow(ctx, `
		SELECT simulation_id, agent_id, date::text, roi, pnl, prior_balance, trade_count
		FROM daily_roi WHERE simulation_id = $1 AND agent_id = $2 AND date = $3
	`, simID, agentID, date).Scan(&row.SimulationID, &row.AgentID, &row.Date, &row.ROI, &row.PnL, &row.PriorBalance, &row.TradeCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily_roi: %w", err)
	}
	return &row, nil
}

// UpsertDailyROI persists a Daily ROI row, memoizing it for future lookups.
func (r *Repository) UpsertDailyROI(ctx context.Context, row DailyROI) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO daily_roi (simulation_id, agent_id, date, roi, pnl, prior_balance, trade_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (simulation_id, agent_id, date) DO UPDATE SET
			roi = EXCLUDED.roi, pnl = EXCLUDED.pnl,
			prior_balance = EXCLUDED.prior_balance, trade_count = EXCLUDED.trade_count
	`, row.SimulationID, row.AgentID, row.Date, row.ROI, row.PnL, row.PriorBalance, row.TradeCount)
	if err != nil {
		return fmt.Errorf("failed to upsert daily_roi: %w", err)
	}
	return nil
}

// GetDailyROIRangeBulk returns every persisted Daily ROI in [start, end] for
// every agent of the simulation, grouped by agent and ordered by date
// ascending, in a single range scan. The orchestrator reads it once per day
// for the full history behind roi_total_out.
func (r *Repository) GetDailyROIRangeBulk(ctx context.Context, simID uuid.UUID, start, end string) (map[string][]DailyROI, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT simulation_id, agent_id, date::text, roi, pnl, prior_balance, trade_count
		FROM daily_roi
		WHERE simulation_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY agent_id, date ASC
	`, simID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily_roi range: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]DailyROI)
	for rows.Next() {
		var row DailyROI
		if err := rows.Scan(&row.SimulationID, &row.AgentID, &row.Date, &row.ROI, &row.PnL, &row.PriorBalance, &row.TradeCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily_roi: %w", err)
		}
		out[row.AgentID] = append(out[row.AgentID], row)
	}
	return out, rows.Err()
}

// ============================================================================
// WINDOW ROI (C3) — window-partitioned agent_roi_{W}d
// ============================================================================

// UpsertWindowROI persists a Window ROI row into agent_roi_{W}d.
func (r *Repository) UpsertWindowROI(ctx context.Context, row WindowROI) error {
	table, err := windowTable("agent_roi", row.WindowDays)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (simulation_id, agent_id, date, roi_window_total, total_pnl_window,
			positive_days, negative_days, total_trades_window, balance_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (simulation_id, agent_id, date) DO UPDATE SET
			roi_window_total = EXCLUDED.roi_window_total,
			total_pnl_window = EXCLUDED.total_pnl_window,
			positive_days = EXCLUDED.positive_days,
			negative_days = EXCLUDED.negative_days,
			total_trades_window = EXCLUDED.total_trades_window,
			balance_current = EXCLUDED.balance_current
	`, table)
	_, err = r.db.Pool.Exec(ctx, query,
		row.SimulationID, row.AgentID, row.Date, row.ROIWindowTotal, row.TotalPnLWindow,
		row.PositiveDays, row.NegativeDays, row.TotalTradesWindow, row.BalanceCurrent)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

// GetWindowROIForDate returns every agent's Window ROI row for (simulation, day, W).
func (r *Repository) GetWindowROIForDate(ctx context.Context, simID uuid.UUID, date string, window int) ([]WindowROI, error) {
	table, err := windowTable("agent_roi", window)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT simulation_id, agent_id, date::text, roi_window_total, total_pnl_window,
			positive_days, negative_days, total_trades_window, balance_current
		FROM %s WHERE simulation_id = $1 AND date = $2
	`, table)
	rows, err := r.db.Pool.Query(ctx, query, simID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []WindowROI
	for rows.Next() {
		var w WindowROI
		if err := rows.Scan(&w.SimulationID, &w.AgentID, &w.Date, &w.ROIWindowTotal, &w.TotalPnLWindow,
			&w.PositiveDays, &w.NegativeDays, &w.TotalTradesWindow, &w.BalanceCurrent); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		w.WindowDays = window
		out = append(out, w)
	}
	return out, rows.Err()
}

// ============================================================================
// TOPN (C4) — window-partitioned top16_{W}d
// ============================================================================

// ReplaceTopN overwrites the TopN entries for (simulation, day, W), making the
// write idempotent (spec §4.8's idempotence requirement applies here too).
func (r *Repository) ReplaceTopN(ctx context.Context, simID uuid.UUID, date string, window int, entries []TopNEntry) error {
	table, err := windowTable("top16", window)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE simulation_id = $1 AND date = $2`, table), simID, date); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (simulation_id, date, rank, agent_id, roi_window, n_accounts, total_aum, is_in_casterly)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, table)
	for _, e := range entries {
		if _, err := tx.Exec(ctx, insertQuery, simID, date, e.Rank, e.AgentID, e.ROIWindow, e.NAccounts, e.TotalAUM, e.IsInCasterly); err != nil {
			return fmt.Errorf("failed to insert %s row: %w", table, err)
		}
	}

	return tx.Commit(ctx)
}

// GetTopN returns the TopN entries for (simulation, day, W), ordered by rank.
func (r *Repository) GetTopN(ctx context.Context, simID uuid.UUID, date string, window int) ([]TopNEntry, error) {
	table, err := windowTable("top16", window)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT simulation_id, date::text, rank, agent_id, roi_window, n_accounts, total_aum, is_in_casterly
		FROM %s WHERE simulation_id = $1 AND date = $2 ORDER BY rank ASC
	`, table)
	rows, err := r.db.Pool.Query(ctx, query, simID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []TopNEntry
	for rows.Next() {
		var e TopNEntry
		if err := rows.Scan(&e.SimulationID, &e.Date, &e.Rank, &e.AgentID, &e.ROIWindow, &e.NAccounts, &e.TotalAUM, &e.IsInCasterly); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		e.WindowDays = window
		out = append(out, e)
	}
	return out, rows.Err()
}

// ============================================================================
// AGENT STATE
// ============================================================================

// UpsertAgentState persists an Agent State row for (simulation, agent, day).
func (r *Repository) UpsertAgentState(ctx context.Context, s AgentState) error {
	var entryDate interface{}
	if s.EntryDate != "" {
		entryDate = s.EntryDate
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO agent_states (simulation_id, agent_id, date, is_in_casterly, entry_date, roi_since_entry, roi_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (simulation_id, agent_id, date) DO UPDATE SET
			is_in_casterly = EXCLUDED.is_in_casterly,
			entry_date = EXCLUDED.entry_date,
			roi_since_entry = EXCLUDED.roi_since_entry,
			roi_day = EXCLUDED.roi_day
	`, s.SimulationID, s.AgentID, s.Date, s.IsInCasterly, entryDate, s.ROISinceEntry, s.ROIDay)
	if err != nil {
		return fmt.Errorf("failed to upsert agent_states: %w", err)
	}
	return nil
}

// GetAgentStatesForDate returns every agent's state on date, keyed by agent id.
func (r *Repository) GetAgentStatesForDate(ctx context.Context, simID uuid.UUID, date string) (map[string]AgentState, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT simulation_id, agent_id, date::text, is_in_casterly, COALESCE(entry_date::text, ''), roi_since_entry, roi_day
		FROM agent_states WHERE simulation_id = $1 AND date = $2
	`, simID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent_states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]AgentState)
	for rows.Next() {
		var s AgentState
		if err := rows.Scan(&s.SimulationID, &s.AgentID, &s.Date, &s.IsInCasterly, &s.EntryDate, &s.ROISinceEntry, &s.ROIDay); err != nil {
			return nil, fmt.Errorf("failed to scan agent_states: %w", err)
		}
		out[s.AgentID] = s
	}
	return out, rows.Err()
}

// GetLatestAgentState returns agentID's most recent Agent State row strictly
// before date, or nil if there is none.
func (r *Repository) GetLatestAgentState(ctx context.Context, simID uuid.UUID, agentID, beforeDate string) (*AgentState, error) {
	var s AgentState
	err := r.db.Pool.QueryRow(ctx, `
		SELECT simulation_id, agent_id, date::text, is_in_casterly, COALESCE(entry_date::text, ''), roi_since_entry, roi_day
		FROM agent_states
		WHERE simulation_id = $1 AND agent_id = $2 AND date < $3
		ORDER BY date DESC LIMIT 1
	`, simID, agentID, beforeDate).Scan(&s.SimulationID, &s.AgentID, &s.Date, &s.IsInCasterly, &s.EntryDate, &s.ROISinceEntry, &s.ROIDay)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest agent_states: %w", err)
	}
	return &s, nil
}

// ============================================================================
// ROTATION LOG / RANK CHANGES
// ============================================================================

// AppendRotationLog appends rotation records in the order given, preserving
// the strictly non-decreasing date / ascending agent_out ordering guarantee
// the caller is responsible for establishing (spec §5).
func (r *Repository) AppendRotationLog(ctx context.Context, entries []RotationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO rotation_log (simulation_id, date, agent_out, agent_in, reason,
			roi_window_out, roi_total_out, roi_window_in, n_accounts, total_aum, window_days, flags)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, e := range entries {
		var flags interface{}
		if len(e.Flags) > 0 {
			b, _ := json.Marshal(e.Flags)
			flags = string(b)
		}
		if _, err := tx.Exec(ctx, query, e.SimulationID, e.Date, e.AgentOut, e.AgentIn, string(e.Reason),
			e.ROIWindowOut, e.ROITotalOut, e.ROIWindowIn, e.NAccounts, e.TotalAUM, e.WindowDays, flags); err != nil {
			return fmt.Errorf("failed to insert rotation_log: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetRotationLog returns every rotation record for a simulation, ordered by
// date then agent_out ascending (spec §5's ordering guarantee).
func (r *Repository) GetRotationLog(ctx context.Context, simID uuid.UUID) ([]RotationLogEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT simulation_id, date::text, COALESCE(agent_out, ''), COALESCE(agent_in, ''), reason,
			roi_window_out, roi_total_out, roi_window_in, n_accounts, total_aum, window_days, COALESCE(flags, '')
		FROM rotation_log WHERE simulation_id = $1 ORDER BY date ASC, agent_out ASC
	`, simID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation_log: %w", err)
	}
	defer rows.Close()

	var out []RotationLogEntry
	for rows.Next() {
		var e RotationLogEntry
		var reason, flagsJSON string
		if err := rows.Scan(&e.SimulationID, &e.Date, &e.AgentOut, &e.AgentIn, &reason,
			&e.ROIWindowOut, &e.ROITotalOut, &e.ROIWindowIn, &e.NAccounts, &e.TotalAUM, &e.WindowDays, &flagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rotation_log: %w", err)
		}
		e.Reason = RotationReason(reason)
		if flagsJSON != "" {
			_ = json.Unmarshal([]byte(flagsJSON), &e.Flags)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendRankChanges appends rank-change records for agents that stayed in
// cohort but changed rank (spec §4.5).
func (r *Repository) AppendRankChanges(ctx context.Context, entries []RankChangeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO rank_changes (simulation_id, date, agent_id, rank_previous, rank_current, rank_change)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, e := range entries {
		if _, err := tx.Exec(ctx, query, e.SimulationID, e.Date, e.AgentID, e.RankPrevious, e.RankCurrent, e.RankChange); err != nil {
			return fmt.Errorf("failed to insert rank_changes: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ============================================================================
// CLIENT ACCOUNTS
// ============================================================================

// CreateClientAccounts seeds the client account roster for a new simulation,
// preserving InitialBalance as a constant (spec §4.7 reset semantics).
func (r *Repository) CreateClientAccounts(ctx context.Context, simID uuid.UUID, accountIDs []string, initialBalance float64) error {
	batch := &pgx.Batch{}
	for _, id := range accountIDs {
		batch.Queue(`
			INSERT INTO client_accounts (simulation_id, account_id, initial_balance, current_balance, cumulative_roi)
			VALUES ($1, $2, $3, $3, 0)
			ON CONFLICT (simulation_id, account_id) DO NOTHING
		`, simID, id, initialBalance)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range accountIDs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to create client account: %w", err)
		}
	}
	return nil
}

// GetClientAccounts returns every client account for a simulation.
func (r *Repository) GetClientAccounts(ctx context.Context, simID uuid.UUID) ([]ClientAccount, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT simulation_id, account_id, initial_balance, current_balance, cumulative_roi,
			COALESCE(current_agent_id, ''), COALESCE(assigned_at::text, ''), roi_at_assignment,
			win_rate, positive_days, total_days, change_count
		FROM client_accounts WHERE simulation_id = $1 ORDER BY account_id ASC
	`, simID)
	if err != nil {
		return nil, fmt.Errorf("failed to query client_accounts: %w", err)
	}
	defer rows.Close()

	var out []ClientAccount
	for rows.Next() {
		var a ClientAccount
		if err := rows.Scan(&a.SimulationID, &a.AccountID, &a.InitialBalance, &a.CurrentBalance, &a.CumulativeROI,
			&a.CurrentAgentID, &a.AssignedAt, &a.ROIAtAssignment, &a.WinRate, &a.PositiveDays, &a.TotalDays, &a.ChangeCount); err != nil {
			return nil, fmt.Errorf("failed to scan client_accounts: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// BulkUpdateClientAccounts persists a batch of client account rows (C6/C7 writers).
func (r *Repository) BulkUpdateClientAccounts(ctx context.Context, accounts []ClientAccount) error {
	if len(accounts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range accounts {
		var assignedAt interface{}
		if a.AssignedAt != "" {
			assignedAt = a.AssignedAt
		}
		var agentID interface{}
		if a.CurrentAgentID != "" {
			agentID = a.CurrentAgentID
		}
		batch.Queue(`
			UPDATE client_accounts SET
				current_balance = $3, cumulative_roi = $4, current_agent_id = $5,
				assigned_at = $6, roi_at_assignment = $7, win_rate = $8,
				positive_days = $9, total_days = $10, change_count = $11
			WHERE simulation_id = $1 AND account_id = $2
		`, a.SimulationID, a.AccountID, a.CurrentBalance, a.CumulativeROI, agentID,
			assignedAt, a.ROIAtAssignment, a.WinRate, a.PositiveDays, a.TotalDays, a.ChangeCount)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range accounts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to update client account: %w", err)
		}
	}
	return nil
}

// AppendAssignmentHistory records a new (account, agent, start_date) tail entry
// and closes the account's previous open entry, if any.
func (r *Repository) AppendAssignmentHistory(ctx context.Context, entries []AssignmentHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			UPDATE client_accounts_history SET end_date = $3
			WHERE simulation_id = $1 AND account_id = $2 AND end_date IS NULL
		`, e.SimulationID, e.AccountID, e.StartDate); err != nil {
			return fmt.Errorf("failed to close assignment history: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO client_accounts_history (simulation_id, account_id, agent_id, start_date)
			VALUES ($1, $2, $3, $4)
		`, e.SimulationID, e.AccountID, e.AgentID, e.StartDate); err != nil {
			return fmt.Errorf("failed to insert assignment history: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ============================================================================
// SNAPSHOTS (C8)
// ============================================================================

// WriteSnapshot upserts the daily snapshot for (simulation, day), making
// repeated writes for the same day idempotent (spec §4.8).
func (r *Repository) WriteSnapshot(ctx context.Context, s DailySnapshot, accountsDetail []ClientAccount) error {
	distJSON, err := json.Marshal(s.Distribution)
	if err != nil {
		return fmt.Errorf("failed to marshal distribution: %w", err)
	}
	var detailJSON interface{}
	if accountsDetail != nil {
		b, err := json.Marshal(accountsDetail)
		if err != nil {
			return fmt.Errorf("failed to marshal accounts detail: %w", err)
		}
		detailJSON = string(b)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO client_accounts_snapshots (simulation_id, date, total_accounts, balance_total, avg_roi, avg_win_rate, distribution, accounts_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (simulation_id, date) DO UPDATE SET
			total_accounts = EXCLUDED.total_accounts, balance_total = EXCLUDED.balance_total,
			avg_roi = EXCLUDED.avg_roi, avg_win_rate = EXCLUDED.avg_win_rate,
			distribution = EXCLUDED.distribution, accounts_detail = EXCLUDED.accounts_detail
	`, s.SimulationID, s.Date, s.TotalAccounts, s.BalanceTotal, s.AvgROI, s.AvgWinRate, string(distJSON), detailJSON)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot for (simulation, day), if present.
func (r *Repository) GetSnapshot(ctx context.Context, simID uuid.UUID, date string) (*DailySnapshot, error) {
	var s DailySnapshot
	var distJSON []byte
	err := r.db.Pool.QueryRow(ctx, `
		SELECT simulation_id, date::text, total_accounts, balance_total, avg_roi, avg_win_rate, distribution
		FROM client_accounts_snapshots WHERE simulation_id = $1 AND date = $2
	`, simID, date).Scan(&s.SimulationID, &s.Date, &s.TotalAccounts, &s.BalanceTotal, &s.AvgROI, &s.AvgWinRate, &distJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if err := json.Unmarshal(distJSON, &s.Distribution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal distribution: %w", err)
	}
	return &s, nil
}

// ============================================================================
// SIMULATIONS / SIMULATION STATUS
// ============================================================================

// CreateSimulationRecord registers a new simulation row before RUNNING begins.
func (r *Repository) CreateSimulationRecord(ctx context.Context, rec *SimulationRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO simulations (simulation_id, name, description, start_date, end_date, window_days, stop_loss_threshold, fall_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.SimulationID, rec.Name, rec.Description, rec.Config.StartDate, rec.Config.EndDate,
		rec.Config.WindowDays, rec.Config.StopLossThreshold, rec.Config.FallThreshold)
	if err != nil {
		return fmt.Errorf("failed to create simulation record: %w", err)
	}
	return nil
}

// CompleteSimulationRecord persists the terminal KPIs and summaries (spec §4.9).
func (r *Repository) CompleteSimulationRecord(ctx context.Context, simID uuid.UUID, kpis KPIs, finalCohort []string, rotationsSummary map[string]int) error {
	kpisJSON, err := json.Marshal(kpis)
	if err != nil {
		return fmt.Errorf("failed to marshal kpis: %w", err)
	}
	cohortJSON, err := json.Marshal(finalCohort)
	if err != nil {
		return fmt.Errorf("failed to marshal final cohort: %w", err)
	}
	summaryJSON, err := json.Marshal(rotationsSummary)
	if err != nil {
		return fmt.Errorf("failed to marshal rotations summary: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		UPDATE simulations SET kpis = $2, final_cohort = $3, rotations_summary = $4
		WHERE simulation_id = $1
	`, simID, string(kpisJSON), string(cohortJSON), string(summaryJSON))
	if err != nil {
		return fmt.Errorf("failed to complete simulation record: %w", err)
	}
	return nil
}

// GetStatus returns the Simulation Status singleton.
func (r *Repository) GetStatus(ctx context.Context) (*SimulationStatus, error) {
	var s SimulationStatus
	var simID *uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `
		SELECT simulation_id, is_running, current_day, total_days, started_at, updated_at, COALESCE(message, '')
		FROM simulation_status WHERE id = 1
	`).Scan(&simID, &s.IsRunning, &s.CurrentDay, &s.TotalDays, &s.StartedAt, &s.UpdatedAt, &s.Message)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query simulation_status: %w", err)
	}
	s.SimulationID = simID
	return &s, nil
}

// UpdateStatus overwrites the Simulation Status singleton. This is the last
// write per day (spec §5): callers must write it only after the day's
// Snapshot and Rotation Log entries are durable.
func (r *Repository) UpdateStatus(ctx context.Context, s SimulationStatus) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE simulation_status SET
			simulation_id = $1, is_running = $2, current_day = $3, total_days = $4,
			started_at = $5, updated_at = NOW(), message = $6
		WHERE id = 1
	`, s.SimulationID, s.IsRunning, s.CurrentDay, s.TotalDays, s.StartedAt, s.Message)
	if err != nil {
		return fmt.Errorf("failed to update simulation_status: %w", err)
	}
	return nil
}

// ============================================================================
// RESET (spec §6.2 reset_simulation / §4.7 reset semantics)
// ============================================================================

// ResetSimulation destroys all derived state for a simulation while preserving
// InitialBalance on client accounts (spec §4.7, invariant I7).
func (r *Repository) ResetSimulation(ctx context.Context, simID uuid.UUID, windowDays []int) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	statements := []string{
		`DELETE FROM daily_roi WHERE simulation_id = $1`,
		`DELETE FROM agent_states WHERE simulation_id = $1`,
		`DELETE FROM rotation_log WHERE simulation_id = $1`,
		`DELETE FROM rank_changes WHERE simulation_id = $1`,
		`DELETE FROM client_accounts_snapshots WHERE simulation_id = $1`,
		`DELETE FROM client_accounts_history WHERE simulation_id = $1`,
		`UPDATE client_accounts SET
			current_balance = initial_balance, cumulative_roi = 0, current_agent_id = NULL,
			assigned_at = NULL, roi_at_assignment = 0, win_rate = 0, positive_days = 0,
			total_days = 0, change_count = 0
		 WHERE simulation_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, simID); err != nil {
			return fmt.Errorf("failed to reset simulation: %w", err)
		}
	}
	for _, w := range windowDays {
		for _, prefix := range []string{"agent_roi", "top16"} {
			table, err := windowTable(prefix, w)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE simulation_id = $1`, table), simID); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
	}

	return tx.Commit(ctx)
}
