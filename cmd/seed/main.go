// Command seed populates a development database with synthetic Movement and
// Balance rows so `go run . -start ... -end ...` has something to simulate
// against. Grounded on the teacher's cmd/analyze_trades one-off tooling
// style: a small flag-driven main with no server loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"

	"casterly-rock/config"
	"casterly-rock/internal/calendar"
	"casterly-rock/internal/database"
)

func main() {
	var (
		agents     = flag.Int("agents", 30, "number of distinct agent_ids to seed")
		startDate  = flag.String("start", "", "first date to seed (YYYY-MM-DD)")
		endDate    = flag.String("end", "", "last date to seed (YYYY-MM-DD)")
		tradesPerDay = flag.Int("trades-per-day", 5, "movements per agent per day")
		seed       = flag.Int64("seed", 42, "PRNG seed for reproducible synthetic data")
	)
	flag.Parse()

	if *startDate == "" || *endDate == "" {
		log.Fatal("both -start and -end are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	rng := rand.New(rand.NewSource(*seed))

	days, err := calendar.Range(*startDate, *endDate)
	if err != nil {
		log.Fatalf("invalid date range: %v", err)
	}

	ctx := context.Background()
	balance := make([]float64, *agents)
	for i := range balance {
		balance[i] = 5000 + rng.Float64()*5000
	}

	for _, day := range days {
		for a := 0; a < *agents; a++ {
			agentID := agentName(a)
			for t := 0; t < *tradesPerDay; t++ {
				pnl := (rng.Float64() - 0.47) * balance[a] * 0.02
				balance[a] += pnl
				m := &database.Movement{
					AgentID:   agentID,
					Date:      day,
					ClosedPnL: pnl,
					Symbol:    "BTCUSDT",
					Side:      side(rng),
				}
				if err := repo.InsertMovement(ctx, m); err != nil {
					log.Fatalf("insert movement for %s on %s: %v", agentID, day, err)
				}
			}
			b := &database.Balance{AgentID: agentID, Date: day, Balance: balance[a]}
			if err := repo.InsertBalance(ctx, b); err != nil {
				log.Fatalf("insert balance for %s on %s: %v", agentID, day, err)
			}
		}
	}

	log.Printf("seeded %d agents across %d days (%s to %s)", *agents, len(days), *startDate, *endDate)
}

func agentName(i int) string {
	return fmt.Sprintf("agent-%03d", i)
}

func side(rng *rand.Rand) string {
	if rng.Float64() < 0.5 {
		return "LONG"
	}
	return "SHORT"
}
