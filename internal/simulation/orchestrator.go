// Package simulation implements the Simulation Orchestrator (C9, spec §4.9):
// the top-level state machine that drives every other component through one
// calendar day at a time and exposes the control surface of spec §6.2
// (run_simulation, get_simulation_status, reset_simulation).
//
// Grounded on the teacher's internal/settlement/scheduler.go (a
// single-goroutine driver polling an external state machine once per tick,
// here generalized from live-trading ticks to simulated calendar days) and
// its internal/circuit mutual-exclusion idiom, repurposed into the "only one
// simulation at a time" guard below.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"casterly-rock/config"
	"casterly-rock/internal/accounts"
	"casterly-rock/internal/calendar"
	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"
	"casterly-rock/internal/ranking"
	"casterly-rock/internal/risk"
	"casterly-rock/internal/roi"
	"casterly-rock/internal/rotation"
	"casterly-rock/internal/store"

	"github.com/google/uuid"
)

// ErrConcurrentSimulation is returned when run_simulation is called while the
// Simulation Status singleton already reports is_running=true (spec §5, §6.2).
var ErrConcurrentSimulation = errors.New("simulation: another simulation is already running")

// ErrInvalidInput is returned for a malformed run_simulation request (spec §6.2).
var ErrInvalidInput = errors.New("simulation: invalid input")

// RunRequest is the run_simulation control-surface call (spec §6.2).
type RunRequest struct {
	SimulationID   *uuid.UUID
	SimulationName string
	Description    string
	StartDate      string
	EndDate        string
	WindowDays     int

	// UpdateClientAccounts gates C6/C7: when false the pipeline still ranks,
	// rotates, and snapshots, but never reassigns or advances client account
	// balances (a read-only "what would the rotations look like" run).
	UpdateClientAccounts bool

	// DryRun runs the full pipeline without the orchestrator's own writes: no
	// rotation log, topN, agent states, snapshots, account updates, simulation
	// record or Simulation Status. The Window-ROI and Daily-ROI calculators
	// still upsert daily_roi rows for the simulation_id. Left undocumented by
	// spec.md beyond its name; DESIGN.md records the decision.
	DryRun bool
}

// Orchestrator wires every pipeline stage together and drives the day loop.
type Orchestrator struct {
	repo   *database.Repository
	store  *store.MovementStore
	daily  *roi.DailyCalculator
	window *roi.WindowCalculator

	redistributor *accounts.Redistributor
	advancer      *accounts.Advancer
	snapshotOnce  snapshotWriter
	strategy      ranking.Strategy

	simCfg config.SimulationConfig
	logger *logging.Logger

	mu      sync.Mutex // single-process "only one simulation at a time" guard
	running bool
}

// snapshotWriter is the narrow interface the orchestrator needs from
// internal/snapshot, kept local to avoid an import cycle concern and to keep
// the orchestrator's dependency surface declarative.
type snapshotWriter interface {
	Write(ctx context.Context, simID uuid.UUID, day string, accounts []database.ClientAccount) (database.DailySnapshot, error)
}

// New builds an Orchestrator from its component stages. strategy selects the
// ranking score; pass ranking.NewROIStrategy() for the spec default.
func New(
	repo *database.Repository,
	movementStore *store.MovementStore,
	daily *roi.DailyCalculator,
	window *roi.WindowCalculator,
	snap snapshotWriter,
	strategy ranking.Strategy,
	simCfg config.SimulationConfig,
) *Orchestrator {
	return &Orchestrator{
		repo:          repo,
		store:         movementStore,
		daily:         daily,
		window:        window,
		redistributor: accounts.NewRedistributor(),
		advancer:      accounts.NewAdvancer(daily),
		snapshotOnce:  snap,
		strategy:      strategy,
		simCfg:        simCfg,
		logger:        logging.Default().WithComponent("orchestrator"),
	}
}

// GetStatus returns the current Simulation Status singleton (spec §6.2).
func (o *Orchestrator) GetStatus(ctx context.Context) (database.SimulationStatus, error) {
	s, err := o.repo.GetStatus(ctx)
	if err != nil {
		return database.SimulationStatus{}, fmt.Errorf("orchestrator: get status: %w", err)
	}
	if s == nil {
		return database.SimulationStatus{UpdatedAt: time.Now()}, nil
	}
	return *s, nil
}

// ResetSimulation purges every derived row for simID while preserving client
// account initial_balance (spec §4.7 invariant I7, §6.2 reset_simulation).
func (o *Orchestrator) ResetSimulation(ctx context.Context, simID uuid.UUID) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrConcurrentSimulation
	}
	o.mu.Unlock()

	if err := o.repo.ResetSimulation(ctx, simID, o.simCfg.SupportedWindows); err != nil {
		return fmt.Errorf("orchestrator: reset: %w", err)
	}
	return nil
}

// Run executes run_simulation end to end: validates input, seeds client
// accounts on first use, then drives the C2-C8 pipeline one calendar day at a
// time, finishing with terminal KPI computation (spec §4.9, §6.2).
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*database.SimulationRecord, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrConcurrentSimulation
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	simID := uuid.New()
	if req.SimulationID != nil {
		simID = *req.SimulationID
	}

	persist := !req.DryRun
	ctx, logger := logging.WithTraceContext(ctx)
	logger = logger.WithField("simulation_id", simID.String()).WithPhase("preparing")

	days, err := calendar.Range(req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	totalDays := len(days)

	if persist {
		if err := o.repo.ResetSimulation(ctx, simID, o.simCfg.SupportedWindows); err != nil {
			return nil, fmt.Errorf("orchestrator: purge prior derived state: %w", err)
		}
		rec := &database.SimulationRecord{
			SimulationID: simID,
			Name:         req.SimulationName,
			Description:  req.Description,
			CreatedAt:    time.Now(),
			Config: database.SimulationConfig{
				StartDate:         req.StartDate,
				EndDate:           req.EndDate,
				WindowDays:        req.WindowDays,
				StopLossThreshold: o.simCfg.StopLossThreshold,
				FallThreshold:     o.simCfg.FallThreshold,
			},
		}
		if err := o.repo.CreateSimulationRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("orchestrator: create simulation record: %w", err)
		}
		started := time.Now()
		if err := o.repo.UpdateStatus(ctx, database.SimulationStatus{
			SimulationID: &simID,
			IsRunning:    true,
			CurrentDay:   0,
			TotalDays:    totalDays,
			StartedAt:    &started,
			UpdatedAt:    time.Now(),
			Message:      "preparing",
		}); err != nil {
			logger.WithError(err).Warn("failed to write initial status")
		}
	}

	clientAccounts, err := o.ensureClientAccounts(ctx, simID, persist)
	if err != nil {
		o.fail(ctx, simID, persist, err)
		return nil, err
	}

	policy := risk.NewPolicy(risk.Config{StopLossThreshold: o.simCfg.StopLossThreshold, FallThreshold: o.simCfg.FallThreshold})
	ranker := ranking.NewEngine(policy, o.strategyFor(req), o.simCfg.MinAUM, o.simCfg.CohortSize)
	detector := rotation.NewDetector(policy, req.WindowDays)

	agents, err := o.store.AgentsWithAnyBalance(ctx, req.StartDate, req.EndDate)
	if err != nil {
		err = fmt.Errorf("orchestrator: list agents: %w", err)
		o.fail(ctx, simID, persist, err)
		return nil, err
	}

	var (
		prevCohort        []string
		prevRanks         = map[string]int{}
		prevStates        = map[string]database.AgentState{}
		rotationsByReason = map[string]int{}
		dailyCohortROI    []float64
		contributions     = map[string]float64{}
		finalCohort       []string
	)

	logger = logger.WithPhase("running")
	for i, day := range days {
		windowRows, err := o.window.ComputeBulk(ctx, simID, agents, day, req.WindowDays)
		if err != nil {
			err = fmt.Errorf("orchestrator: window roi for %s: %w", day, err)
			o.fail(ctx, simID, persist, err)
			return nil, err
		}

		// Full persisted Daily ROI history to date, not just the trailing
		// window slice: spec §4.5 step 5's roi_total_out sums every day
		// persisted so far, which outgrows the window once a simulation runs
		// past windowDays days.
		fullHistory, err := o.repo.GetDailyROIRangeBulk(ctx, simID, req.StartDate, day)
		if err != nil {
			err = fmt.Errorf("orchestrator: daily roi history for %s: %w", day, err)
			o.fail(ctx, simID, persist, err)
			return nil, err
		}

		rows := make([]ranking.AgentRow, 0, len(windowRows))
		metrics := make(map[string]rotation.AgentMetrics, len(windowRows))
		for agentID, w := range windowRows {
			prevState := prevStates[agentID]
			dayROI := 0.0
			if n := len(w.DailyROIs); n > 0 {
				dayROI = w.DailyROIs[n-1]
			}
			roiSinceEntry := dayROI
			if prevState.IsInCasterly {
				roiSinceEntry = (1+prevState.ROISinceEntry)*(1+dayROI) - 1
			}

			row := ranking.AgentRow{
				AgentID:            agentID,
				ROIWindowTotal:     w.ROIWindowTotal,
				TotalPnLWindow:     w.TotalPnLWindow,
				PositiveDays:       w.PositiveDays,
				NegativeDays:       w.NegativeDays,
				WindowDays:         w.WindowDays,
				TotalTrades:        w.TotalTradesWindow,
				BalanceCurrent:     w.BalanceCurrent,
				DailyROIs:          w.DailyROIs,
				IsInCasterly:       prevState.IsInCasterly,
				ROISinceEntry:      roiSinceEntry,
				LastThreeDailyROIs: lastN(w.DailyROIs, 3),
			}
			rows = append(rows, row)

			metrics[agentID] = rotation.AgentMetrics{
				AgentID:            agentID,
				ROIWindowTotal:     w.ROIWindowTotal,
				LastThreeDailyROIs: row.LastThreeDailyROIs,
				AllDailyROIsToDate: roiValues(fullHistory[agentID]),
				TotalTrades:        w.TotalTradesWindow,
				BalanceCurrent:     w.BalanceCurrent,
			}
		}

		topN, allRanked := ranker.Rank(rows)
		todayCohort := make([]string, len(topN))
		todayRanks := make(map[string]int, len(allRanked))
		for _, r := range allRanked {
			todayRanks[r.AgentID] = r.Rank
		}
		for i, r := range topN {
			todayCohort[i] = r.AgentID
		}
		sort.Strings(todayCohort)

		accountCounts, accountAUM := accountStats(clientAccounts)
		for agentID, m := range metrics {
			m.NAccounts = accountCounts[agentID]
			m.TotalAUM = accountAUM[agentID]
			metrics[agentID] = m
		}

		rotationEntries, rankChanges := detector.Detect(day, prevCohort, todayCohort, prevRanks, todayRanks, metrics)
		for i := range rotationEntries {
			rotationEntries[i].SimulationID = simID
			if rotationEntries[i].AgentOut != "" {
				rotationsByReason[string(rotationEntries[i].Reason)]++
			}
		}
		for i := range rankChanges {
			rankChanges[i].SimulationID = simID
		}

		if req.UpdateClientAccounts {
			var history []database.AssignmentHistoryEntry
			if i == 0 {
				var h []database.AssignmentHistoryEntry
				clientAccounts, h = o.redistributor.InitialDistribution(simID, todayCohort, clientAccounts, day)
				history = append(history, h...)
			} else {
				for _, entry := range rotationEntries {
					if entry.AgentOut == "" || entry.AgentIn == "" {
						continue
					}
					var h []database.AssignmentHistoryEntry
					clientAccounts, h = o.redistributor.Transfer(simID, clientAccounts, entry.AgentOut, entry.AgentIn, day)
					history = append(history, h...)
				}
			}
			var h []database.AssignmentHistoryEntry
			clientAccounts, h = o.redistributor.Rebalance(simID, clientAccounts, todayCohort, day)
			history = append(history, h...)

			clientAccounts, err = o.advancer.AdvanceAll(ctx, simID, day, clientAccounts)
			if err != nil {
				err = fmt.Errorf("orchestrator: advance accounts for %s: %w", day, err)
				o.fail(ctx, simID, persist, err)
				return nil, err
			}

			if persist {
				if err := o.repo.BulkUpdateClientAccounts(ctx, clientAccounts); err != nil {
					logger.WithError(err).Warn("failed to persist client accounts for %s", day)
				}
				if len(history) > 0 {
					if err := o.repo.AppendAssignmentHistory(ctx, history); err != nil {
						logger.WithError(err).Warn("failed to persist assignment history for %s", day)
					}
				}
			}
		}

		if persist {
			if err := o.repo.AppendRotationLog(ctx, rotationEntries); err != nil {
				logger.WithError(err).Warn("failed to persist rotation log for %s", day)
			}
			if len(rankChanges) > 0 {
				if err := o.repo.AppendRankChanges(ctx, rankChanges); err != nil {
					logger.WithError(err).Warn("failed to persist rank changes for %s", day)
				}
			}
		}

		cohortSet := toSet(todayCohort)
		newStates := make(map[string]database.AgentState, len(rows))
		var cohortROISum float64
		for _, row := range rows {
			isMember := cohortSet[row.AgentID]
			state := database.AgentState{
				SimulationID: simID,
				AgentID:      row.AgentID,
				Date:         day,
				IsInCasterly: isMember,
				ROIDay:       lastOf(row.DailyROIs),
			}
			if isMember {
				cohortROISum += lastOf(row.DailyROIs)
				contributions[row.AgentID] += lastOf(row.DailyROIs)
				state.ROISinceEntry = row.ROISinceEntry
				if prevStates[row.AgentID].IsInCasterly {
					state.EntryDate = prevStates[row.AgentID].EntryDate
				} else {
					state.EntryDate = day
				}
				// informational minimum-time-in-cohort guard: 3 days since entry
				if held, err := calendar.DaysBetween(state.EntryDate, day); err == nil {
					state.EligibleForVoluntaryExit = held >= 3
				}
			}
			newStates[row.AgentID] = state
			if persist {
				if err := o.repo.UpsertAgentState(ctx, state); err != nil {
					logger.WithError(err).Warn("failed to persist agent state for %s/%s", row.AgentID, day)
				}
			}
		}
		if len(cohortSet) > 0 {
			dailyCohortROI = append(dailyCohortROI, cohortROISum/float64(len(cohortSet)))
		} else {
			dailyCohortROI = append(dailyCohortROI, 0)
		}

		if persist {
			topEntries := make([]database.TopNEntry, len(allRanked))
			for i, r := range allRanked {
				topEntries[i] = database.TopNEntry{
					SimulationID: simID,
					Date:         day,
					WindowDays:   req.WindowDays,
					Rank:         r.Rank,
					AgentID:      r.AgentID,
					ROIWindow:    r.ROIWindow,
					NAccounts:    accountCounts[r.AgentID],
					TotalAUM:     accountAUM[r.AgentID],
					IsInCasterly: cohortSet[r.AgentID],
				}
			}
			if err := o.repo.ReplaceTopN(ctx, simID, day, req.WindowDays, topEntries); err != nil {
				logger.WithError(err).Warn("failed to persist top-n for %s", day)
			}

			if _, err := o.snapshotOnce.Write(ctx, simID, day, clientAccounts); err != nil {
				logger.WithError(err).Warn("failed to write snapshot for %s", day)
			}

			if err := o.repo.UpdateStatus(ctx, database.SimulationStatus{
				SimulationID: &simID,
				IsRunning:    true,
				CurrentDay:   i + 1,
				TotalDays:    totalDays,
				UpdatedAt:    time.Now(),
				Message:      fmt.Sprintf("processed %s", day),
			}); err != nil {
				logger.WithError(err).Warn("failed to update status for %s", day)
			}
		}

		prevCohort = todayCohort
		prevRanks = todayRanks
		prevStates = newStates
		finalCohort = todayCohort
	}

	kpis := computeKPIs(dailyCohortROI)
	if len(contributions) > 0 {
		kpis.Contributions = contributions
	}
	logger = logger.WithPhase("completed")

	if persist {
		if err := o.repo.CompleteSimulationRecord(ctx, simID, kpis, finalCohort, rotationsByReason); err != nil {
			logger.WithError(err).Warn("failed to persist terminal kpis")
		}
		if err := o.repo.UpdateStatus(ctx, database.SimulationStatus{
			SimulationID: &simID,
			IsRunning:    false,
			CurrentDay:   totalDays,
			TotalDays:    totalDays,
			UpdatedAt:    time.Now(),
			Message:      "completed",
		}); err != nil {
			logger.WithError(err).Warn("failed to write terminal status")
		}
	}

	return &database.SimulationRecord{
		SimulationID: simID,
		Name:         req.SimulationName,
		Description:  req.Description,
		CreatedAt:    time.Now(),
		Config: database.SimulationConfig{
			StartDate:         req.StartDate,
			EndDate:           req.EndDate,
			WindowDays:        req.WindowDays,
			StopLossThreshold: o.simCfg.StopLossThreshold,
			FallThreshold:     o.simCfg.FallThreshold,
		},
		KPIs:             kpis,
		FinalCohort:      finalCohort,
		RotationsSummary: rotationsByReason,
	}, nil
}

// fail records a FAILED transition on the status singleton; it does not
// attempt to roll back any writes already committed for earlier days.
func (o *Orchestrator) fail(ctx context.Context, simID uuid.UUID, persist bool, cause error) {
	if !persist {
		return
	}
	if err := o.repo.UpdateStatus(ctx, database.SimulationStatus{
		SimulationID: &simID,
		IsRunning:    false,
		UpdatedAt:    time.Now(),
		Message:      fmt.Sprintf("failed: %v", cause),
	}); err != nil {
		o.logger.WithPhase("failed").WithError(err).Warn("failed to write failure status")
	}
}

// validate checks run_simulation's input contract (spec §6.2): the range
// must span at least two days and window_days must be a supported value.
func (o *Orchestrator) validate(req RunRequest) error {
	if req.StartDate == "" || req.EndDate == "" {
		return fmt.Errorf("%w: start_date and end_date are required", ErrInvalidInput)
	}
	n, err := calendar.DaysBetween(req.StartDate, req.EndDate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if n < 2 {
		return fmt.Errorf("%w: end_date - start_date must be at least 2 days", ErrInvalidInput)
	}
	supported := false
	for _, w := range o.simCfg.SupportedWindows {
		if w == req.WindowDays {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("%w: window_days %d is not in the supported set %v", ErrInvalidInput, req.WindowDays, o.simCfg.SupportedWindows)
	}
	return nil
}

// strategyFor returns the Orchestrator's configured ranking strategy. It is
// fixed per-Orchestrator rather than per-request: spec §9's "pluggable
// strategy" open question resolves to "selectable by the embedder at wiring
// time, not by the run_simulation call."
func (o *Orchestrator) strategyFor(req RunRequest) ranking.Strategy {
	if o.strategy != nil {
		return o.strategy
	}
	return ranking.NewROIStrategy()
}

// ensureClientAccounts loads the simulation's existing client-account roster,
// or seeds a fresh one at the configured default size on first use (spec §6.2
// takes no account-count parameter; see DESIGN.md's config section).
func (o *Orchestrator) ensureClientAccounts(ctx context.Context, simID uuid.UUID, persist bool) ([]database.ClientAccount, error) {
	if !persist {
		return seedAccounts(simID, o.simCfg.DefaultAccountCount, o.simCfg.InitialAccountBalance), nil
	}

	existing, err := o.repo.GetClientAccounts(ctx, simID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load client accounts: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	ids := make([]string, o.simCfg.DefaultAccountCount)
	for i := range ids {
		ids[i] = fmt.Sprintf("CL%06d", i+1)
	}
	if err := o.repo.CreateClientAccounts(ctx, simID, ids, o.simCfg.InitialAccountBalance); err != nil {
		return nil, fmt.Errorf("orchestrator: seed client accounts: %w", err)
	}
	return o.repo.GetClientAccounts(ctx, simID)
}

func seedAccounts(simID uuid.UUID, n int, initialBalance float64) []database.ClientAccount {
	out := make([]database.ClientAccount, n)
	for i := range out {
		out[i] = database.ClientAccount{
			SimulationID:   simID,
			AccountID:      fmt.Sprintf("CL%06d", i+1),
			InitialBalance: initialBalance,
			CurrentBalance: initialBalance,
		}
	}
	return out
}

// computeKPIs derives the terminal performance metrics from the series of
// daily cohort-average ROIs (spec §4.9): total_roi compounds the series,
// avg_roi/volatility are its arithmetic mean and sample standard deviation,
// max_drawdown walks the implied equity curve peak-to-trough, win_rate is the
// fraction of days with a positive average, and sharpe_ratio is avg/volatility
// when defined.
func computeKPIs(dailyROI []float64) database.KPIs {
	var kpis database.KPIs
	n := len(dailyROI)
	if n == 0 {
		return kpis
	}

	equity := 1.0
	peak := 1.0
	var sum, positiveDays float64
	for _, r := range dailyROI {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			drawdown := (equity - peak) / peak // <= 0
			if drawdown < kpis.MaxDrawdown {
				kpis.MaxDrawdown = drawdown
			}
		}
		sum += r
		if r > 0 {
			positiveDays++
		}
	}
	kpis.TotalROI = equity - 1
	kpis.AvgROI = sum / float64(n)
	kpis.WinRate = positiveDays / float64(n)

	if n >= 2 {
		var sumSq float64
		for _, r := range dailyROI {
			d := r - kpis.AvgROI
			sumSq += d * d
		}
		kpis.Volatility = math.Sqrt(sumSq / float64(n-1))
		if kpis.Volatility > 0 {
			sharpe := kpis.AvgROI / kpis.Volatility
			kpis.SharpeRatio = &sharpe
		}
	}

	return kpis
}

func lastN(s []float64, n int) []float64 {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// roiValues extracts the bare ROI series (oldest first, as GetDailyROIRangeBulk
// orders it) from a run of persisted Daily ROI rows.
func roiValues(rows []database.DailyROI) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.ROI
	}
	return out
}

func lastOf(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

func toSet(agents []string) map[string]bool {
	set := make(map[string]bool, len(agents))
	for _, a := range agents {
		set[a] = true
	}
	return set
}

func accountStats(accounts []database.ClientAccount) (counts map[string]int, aum map[string]float64) {
	counts = make(map[string]int)
	aum = make(map[string]float64)
	for _, a := range accounts {
		if a.CurrentAgentID == "" {
			continue
		}
		counts[a.CurrentAgentID]++
		aum[a.CurrentAgentID] += a.CurrentBalance
	}
	return counts, aum
}
