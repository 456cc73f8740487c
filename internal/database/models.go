package database

import (
	"time"

	"github.com/google/uuid"
)

// Movement is an immutable record of one closed trade, written by ingestion
// and read-only to the simulation core (spec §3).
type Movement struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Date      string    `json:"date"` // ISO-8601 YYYY-MM-DD
	ClosedPnL float64   `json:"closed_pnl"`
	Symbol    string    `json:"symbol,omitempty"`
	Side      string    `json:"side,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the immutable end-of-day balance for (agent, date).
type Balance struct {
	AgentID   string    `json:"agent_id"`
	Date      string    `json:"date"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// DailyROI is the memoized per-(agent, day) ROI row (spec §4.2).
type DailyROI struct {
	SimulationID uuid.UUID `json:"simulation_id"`
	AgentID      string    `json:"agent_id"`
	Date         string    `json:"date"`
	ROI          float64   `json:"roi"`
	PnL          float64   `json:"pnl"`
	PriorBalance float64   `json:"prior_balance"`
	TradeCount   int       `json:"trade_count"`
}

// WindowROI is the compounded ROI over W calendar days ending on Date (spec §4.3).
type WindowROI struct {
	SimulationID      uuid.UUID `json:"simulation_id"`
	AgentID           string    `json:"agent_id"`
	Date              string    `json:"date"`
	WindowDays        int       `json:"window_days"`
	ROIWindowTotal    float64   `json:"roi_window_total"`
	TotalPnLWindow    float64   `json:"total_pnl_window"`
	PositiveDays      int       `json:"positive_days"`
	NegativeDays      int       `json:"negative_days"`
	TotalTradesWindow int       `json:"total_trades_window"`
	BalanceCurrent    float64   `json:"balance_current"`
	DailyROIs         []float64 `json:"daily_rois"`
}

// ZeroDays returns the number of flat days, completing the partition invariant
// positive_days + negative_days + zero_days = W (spec §3, Window ROI invariant).
func (w WindowROI) ZeroDays() int {
	return w.WindowDays - w.PositiveDays - w.NegativeDays
}

// TopNEntry is one ranked cohort row for (simulation, day, window) (spec §3).
type TopNEntry struct {
	SimulationID uuid.UUID `json:"simulation_id"`
	Date         string    `json:"date"`
	WindowDays   int       `json:"window_days"`
	Rank         int       `json:"rank"`
	AgentID      string    `json:"agent_id"`
	ROIWindow    float64   `json:"roi_window"`
	NAccounts    int       `json:"n_accounts"`
	TotalAUM     float64   `json:"total_aum"`
	IsInCasterly bool      `json:"is_in_casterly"`
}

// AgentState is the per-(simulation, agent, day) lifecycle record (spec §3).
type AgentState struct {
	SimulationID  uuid.UUID `json:"simulation_id"`
	AgentID       string    `json:"agent_id"`
	Date          string    `json:"date"`
	IsInCasterly  bool      `json:"is_in_casterly"`
	EntryDate     string    `json:"entry_date,omitempty"`
	ROISinceEntry float64   `json:"roi_since_entry"`
	ROIDay        float64   `json:"roi_day"`

	// EligibleForVoluntaryExit is informational only (SPEC_FULL §Supplemented
	// Features): the orchestrator sets it on cohort members that have been in
	// cohort at least 3 days since EntryDate. Spec's automatic rules are the
	// only ones that can force an exit, so this guard never blocks a rotation.
	// The agent_states table does not store it.
	EligibleForVoluntaryExit bool `json:"eligible_for_voluntary_exit"`
}

// RotationReason classifies why an agent left the cohort (spec §3).
type RotationReason string

const (
	ReasonStopLoss            RotationReason = "STOP_LOSS"
	ReasonThreeDaysFall       RotationReason = "THREE_DAYS_FALL"
	ReasonRankingDisplacement RotationReason = "RANKING_DISPLACEMENT"
	ReasonDailyRotation       RotationReason = "DAILY_ROTATION"
	ReasonManual              RotationReason = "MANUAL"
)

// RotationLogEntry is one append-only rotation record (spec §3).
type RotationLogEntry struct {
	SimulationID uuid.UUID      `json:"simulation_id"`
	Date         string         `json:"date"`
	AgentOut     string         `json:"agent_out,omitempty"`
	AgentIn      string         `json:"agent_in,omitempty"`
	Reason       RotationReason `json:"reason"`
	ROIWindowOut float64        `json:"roi_window_out"`
	ROITotalOut  float64        `json:"roi_total_out"`
	ROIWindowIn  float64        `json:"roi_window_in"`
	NAccounts    int            `json:"n_accounts"`
	TotalAUM     float64        `json:"total_aum"`
	WindowDays   int            `json:"window_days"`

	// Flags carries the informational rotation-validation guardrails from
	// SPEC_FULL §Supplemented Features; never blocks the rotation itself.
	Flags []string `json:"flags,omitempty"`
}

// RankChangeEntry is one append-only rank-change record (spec §3).
type RankChangeEntry struct {
	SimulationID uuid.UUID `json:"simulation_id"`
	Date         string    `json:"date"`
	AgentID      string    `json:"agent_id"`
	RankPrevious int       `json:"rank_previous"`
	RankCurrent  int       `json:"rank_current"`
	RankChange   int       `json:"rank_change"`
}

// ClientAccount is a simulated client account assigned to a cohort member (spec §3).
type ClientAccount struct {
	SimulationID    uuid.UUID `json:"simulation_id"`
	AccountID       string    `json:"account_id"`
	InitialBalance  float64   `json:"initial_balance"`
	CurrentBalance  float64   `json:"current_balance"`
	CumulativeROI   float64   `json:"cumulative_roi"`
	CurrentAgentID  string    `json:"current_agent_id,omitempty"`
	AssignedAt      string    `json:"assigned_at,omitempty"`
	ROIAtAssignment float64   `json:"roi_at_assignment"`
	WinRate         float64   `json:"win_rate"`
	PositiveDays    int       `json:"positive_days"`
	TotalDays       int       `json:"total_days"`
	ChangeCount     int       `json:"change_count"`
}

// AssignmentHistoryEntry is one append-only (account, agent, start_date) record (spec §3).
type AssignmentHistoryEntry struct {
	SimulationID uuid.UUID `json:"simulation_id"`
	AccountID    string    `json:"account_id"`
	AgentID      string    `json:"agent_id"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date,omitempty"`
}

// AgentDistribution is the per-agent slice of a Daily Snapshot (spec §3).
type AgentDistribution struct {
	NAccounts    int     `json:"n_accounts"`
	BalanceTotal float64 `json:"balance_total"`
	AvgROI       float64 `json:"avg_roi"`
}

// DailySnapshot is the end-of-day aggregate view for (simulation, day) (spec §3/§4.8).
type DailySnapshot struct {
	SimulationID  uuid.UUID                    `json:"simulation_id"`
	Date          string                       `json:"date"`
	TotalAccounts int                          `json:"total_accounts"`
	BalanceTotal  float64                      `json:"balance_total"`
	AvgROI        float64                      `json:"avg_roi"`
	AvgWinRate    float64                      `json:"avg_win_rate"`
	Distribution  map[string]AgentDistribution `json:"distribution"`
}

// SimulationConfig is the frozen configuration a simulation was started with (spec §3).
type SimulationConfig struct {
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	WindowDays        int     `json:"window_days"`
	StopLossThreshold float64 `json:"stop_loss_threshold"`
	FallThreshold     int     `json:"fall_threshold"`
}

// KPIs are the aggregate performance metrics computed at simulation completion (spec §4.9).
type KPIs struct {
	TotalROI     float64            `json:"total_roi"`
	AvgROI       float64            `json:"avg_roi"`
	Volatility   float64            `json:"volatility"`
	MaxDrawdown  float64            `json:"max_drawdown"`
	WinRate      float64            `json:"win_rate"`
	SharpeRatio  *float64           `json:"sharpe_ratio,omitempty"`
	Contributions map[string]float64 `json:"agent_contributions,omitempty"`
}

// SimulationRecord is one completed simulation run (spec §3).
type SimulationRecord struct {
	SimulationID     uuid.UUID        `json:"simulation_id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Config           SimulationConfig `json:"config"`
	KPIs             KPIs             `json:"kpis"`
	FinalCohort      []string         `json:"final_cohort"`
	RotationsSummary map[string]int   `json:"rotations_summary"`
}

// SimulationStatus is the process-wide progress singleton (spec §3/§5).
type SimulationStatus struct {
	SimulationID *uuid.UUID `json:"simulation_id,omitempty"`
	IsRunning    bool       `json:"is_running"`
	CurrentDay   int        `json:"current_day"`
	TotalDays    int        `json:"total_days"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Message      string     `json:"message,omitempty"`
}
