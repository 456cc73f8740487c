package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casterly-rock/config"
	"casterly-rock/internal/cache"
	"casterly-rock/internal/database"
	"casterly-rock/internal/logging"
	"casterly-rock/internal/ranking"
	"casterly-rock/internal/roi"
	"casterly-rock/internal/simulation"
	"casterly-rock/internal/snapshot"
	"casterly-rock/internal/store"

	"github.com/google/uuid"
)

// main wires config -> logging -> database -> cache -> every pipeline
// package into an Orchestrator, then runs a single simulation named on the
// command line (spec §6.2's run_simulation called once per process
// invocation, following the teacher's own cmd-style single-shot main).
func main() {
	var (
		startDate  = flag.String("start", "", "simulation start date (YYYY-MM-DD)")
		endDate    = flag.String("end", "", "simulation end date (YYYY-MM-DD)")
		windowDays = flag.Int("window", 0, "ranking window in days (uses the configured default if 0)")
		name       = flag.String("name", "casterly-rock-run", "simulation name")
		simIDFlag  = flag.String("simulation-id", "", "resume/reuse an existing simulation_id")
		updateAcct = flag.Bool("update-accounts", true, "reassign and advance client accounts (C6/C7)")
		dryRun     = flag.Bool("dry-run", false, "compute the full pipeline without the orchestrator's writes (daily ROI rows are still written)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal("failed to connect to database: %v", err)
	}
	defer db.Close()

	var cacheSvc *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheSvc, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.WithError(err).Warn("failed to connect to redis, continuing without the memoization cache")
			cacheSvc = nil
		} else {
			defer cacheSvc.Close()
		}
	}

	repo := database.NewRepository(db)
	movementStore := store.NewMovementStore(repo)
	dailyCalc := roi.NewDailyCalculator(movementStore, repo, cacheSvc)
	windowCalc := roi.NewWindowCalculator(movementStore, repo, dailyCalc)
	snapWriter := snapshot.NewWriter(repo)

	orch := simulation.New(repo, movementStore, dailyCalc, windowCalc, snapWriter, ranking.NewROIStrategy(), cfg.SimulationConfig)

	window := *windowDays
	if window == 0 {
		window = cfg.SimulationConfig.DefaultWindowDays
	}

	if *startDate == "" || *endDate == "" {
		logger.Fatal("both -start and -end are required")
	}

	req := simulation.RunRequest{
		SimulationName:       *name,
		StartDate:            *startDate,
		EndDate:              *endDate,
		WindowDays:           window,
		UpdateClientAccounts: *updateAcct,
		DryRun:               *dryRun,
	}
	if *simIDFlag != "" {
		id, err := uuid.Parse(*simIDFlag)
		if err != nil {
			logger.Fatal("invalid -simulation-id: %v", err)
		}
		req.SimulationID = &id
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	rec, err := orch.Run(ctx, req)
	if err != nil {
		logger.WithError(err).Fatal("simulation run failed")
	}

	logger.WithDuration(time.Since(start)).Info(
		"simulation %s completed: total_roi=%.4f avg_roi=%.4f win_rate=%.4f max_drawdown=%.4f",
		rec.SimulationID, rec.KPIs.TotalROI, rec.KPIs.AvgROI, rec.KPIs.WinRate, rec.KPIs.MaxDrawdown,
	)
	fmt.Fprintf(os.Stdout, "simulation_id=%s final_cohort_size=%d\n", rec.SimulationID, len(rec.FinalCohort))
}
