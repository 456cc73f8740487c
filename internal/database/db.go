package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool backing every derived simulation collection.
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool.
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// HealthCheck performs a database health check.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations creates every collection in the persistence surface (spec §6.1).
// Window-partitioned collections are created per entry in WindowDays so that
// agent_roi_{W}d and top16_{W}d exist for every supported window.
func (db *DB) RunMigrations(ctx context.Context, windowDays []int) error {
	log.Println("Running simulation schema migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS movements (
			id BIGSERIAL PRIMARY KEY,
			agent_id VARCHAR(100) NOT NULL,
			date DATE NOT NULL,
			closed_pnl DECIMAL(20, 8) NOT NULL,
			symbol VARCHAR(20),
			side VARCHAR(10),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_agent_date ON movements(agent_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_date ON movements(date)`,

		`CREATE TABLE IF NOT EXISTS balances (
			agent_id VARCHAR(100) NOT NULL,
			date DATE NOT NULL,
			balance DECIMAL(20, 8) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (agent_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balances_date ON balances(date)`,

		`CREATE TABLE IF NOT EXISTS daily_roi (
			simulation_id UUID NOT NULL,
			agent_id VARCHAR(100) NOT NULL,
			date DATE NOT NULL,
			roi DECIMAL(20, 10) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL,
			prior_balance DECIMAL(20, 8) NOT NULL,
			trade_count INT NOT NULL DEFAULT 0,
			PRIMARY KEY (simulation_id, agent_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_roi_sim_date ON daily_roi(simulation_id, date)`,

		`CREATE TABLE IF NOT EXISTS agent_states (
			simulation_id UUID NOT NULL,
			agent_id VARCHAR(100) NOT NULL,
			date DATE NOT NULL,
			is_in_casterly BOOLEAN NOT NULL DEFAULT FALSE,
			entry_date DATE,
			roi_since_entry DECIMAL(20, 10) NOT NULL DEFAULT 0,
			roi_day DECIMAL(20, 10) NOT NULL DEFAULT 0,
			PRIMARY KEY (simulation_id, agent_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_states_sim_date ON agent_states(simulation_id, date)`,

		`CREATE TABLE IF NOT EXISTS rotation_log (
			id BIGSERIAL PRIMARY KEY,
			simulation_id UUID NOT NULL,
			date DATE NOT NULL,
			agent_out VARCHAR(100),
			agent_in VARCHAR(100),
			reason VARCHAR(30) NOT NULL,
			roi_window_out DECIMAL(20, 10),
			roi_total_out DECIMAL(20, 10),
			roi_window_in DECIMAL(20, 10),
			n_accounts INT NOT NULL DEFAULT 0,
			total_aum DECIMAL(20, 8) NOT NULL DEFAULT 0,
			window_days INT NOT NULL,
			flags TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rotation_log_sim_date ON rotation_log(simulation_id, date, agent_out)`,

		`CREATE TABLE IF NOT EXISTS rank_changes (
			id BIGSERIAL PRIMARY KEY,
			simulation_id UUID NOT NULL,
			date DATE NOT NULL,
			agent_id VARCHAR(100) NOT NULL,
			rank_previous INT NOT NULL,
			rank_current INT NOT NULL,
			rank_change INT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rank_changes_sim_date ON rank_changes(simulation_id, date)`,

		`CREATE TABLE IF NOT EXISTS client_accounts (
			simulation_id UUID NOT NULL,
			account_id VARCHAR(50) NOT NULL,
			initial_balance DECIMAL(20, 8) NOT NULL,
			current_balance DECIMAL(20, 8) NOT NULL,
			cumulative_roi DECIMAL(20, 10) NOT NULL DEFAULT 0,
			current_agent_id VARCHAR(100),
			assigned_at DATE,
			roi_at_assignment DECIMAL(20, 10) NOT NULL DEFAULT 0,
			win_rate DECIMAL(10, 6) NOT NULL DEFAULT 0,
			positive_days INT NOT NULL DEFAULT 0,
			total_days INT NOT NULL DEFAULT 0,
			change_count INT NOT NULL DEFAULT 0,
			PRIMARY KEY (simulation_id, account_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_client_accounts_agent ON client_accounts(simulation_id, current_agent_id)`,

		`CREATE TABLE IF NOT EXISTS client_accounts_history (
			id BIGSERIAL PRIMARY KEY,
			simulation_id UUID NOT NULL,
			account_id VARCHAR(50) NOT NULL,
			agent_id VARCHAR(100) NOT NULL,
			start_date DATE NOT NULL,
			end_date DATE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_history_sim_account ON client_accounts_history(simulation_id, account_id)`,

		`CREATE TABLE IF NOT EXISTS client_accounts_snapshots (
			simulation_id UUID NOT NULL,
			date DATE NOT NULL,
			total_accounts INT NOT NULL,
			balance_total DECIMAL(20, 8) NOT NULL,
			avg_roi DECIMAL(20, 10) NOT NULL,
			avg_win_rate DECIMAL(10, 6) NOT NULL,
			distribution JSONB NOT NULL,
			accounts_detail JSONB,
			PRIMARY KEY (simulation_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS simulations (
			simulation_id UUID PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			window_days INT NOT NULL,
			stop_loss_threshold DECIMAL(10, 4) NOT NULL,
			fall_threshold INT NOT NULL,
			kpis JSONB,
			final_cohort JSONB,
			rotations_summary JSONB,
			daily_metrics JSONB
		)`,

		`CREATE TABLE IF NOT EXISTS simulation_status (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			simulation_id UUID,
			is_running BOOLEAN NOT NULL DEFAULT FALSE,
			current_day INT NOT NULL DEFAULT 0,
			total_days INT NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			message TEXT,
			CONSTRAINT singleton_row CHECK (id = 1)
		)`,
		`INSERT INTO simulation_status (id, is_running) VALUES (1, FALSE) ON CONFLICT (id) DO NOTHING`,
	}

	for _, w := range windowDays {
		migrations = append(migrations,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_roi_%dd (
				simulation_id UUID NOT NULL,
				agent_id VARCHAR(100) NOT NULL,
				date DATE NOT NULL,
				roi_window_total DECIMAL(20, 10) NOT NULL,
				total_pnl_window DECIMAL(20, 8) NOT NULL,
				positive_days INT NOT NULL,
				negative_days INT NOT NULL,
				total_trades_window INT NOT NULL,
				balance_current DECIMAL(20, 8) NOT NULL,
				PRIMARY KEY (simulation_id, agent_id, date)
			)`, w),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_agent_roi_%dd_sim_date ON agent_roi_%dd(simulation_id, date)`, w, w),

			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS top16_%dd (
				simulation_id UUID NOT NULL,
				date DATE NOT NULL,
				rank INT NOT NULL,
				agent_id VARCHAR(100) NOT NULL,
				roi_window DECIMAL(20, 10) NOT NULL,
				n_accounts INT NOT NULL DEFAULT 0,
				total_aum DECIMAL(20, 8) NOT NULL DEFAULT 0,
				is_in_casterly BOOLEAN NOT NULL DEFAULT FALSE,
				PRIMARY KEY (simulation_id, date, rank)
			)`, w),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_top16_%dd_sim_date ON top16_%dd(simulation_id, date)`, w, w),
		)
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Simulation schema migrations completed successfully")
	return nil
}
