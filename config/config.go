package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the root configuration for the simulation service, loaded from an
// optional config.json overlaid by environment variables (teacher's own
// file-then-env precedence rule, config/config.go Load()).
type Config struct {
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	SimulationConfig SimulationConfig `json:"simulation"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the Daily/Window-ROI memoization cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// SimulationConfig holds the business-rule constants spec.md §6.4 calls out as
// operational defaults, plus the supported window set (§3, §6.2).
type SimulationConfig struct {
	CohortSize          int     `json:"cohort_size"`           // N, operationally 16
	SupportedWindows    []int   `json:"supported_windows"`     // {3,5,7,10,15,30}
	DefaultWindowDays   int     `json:"default_window_days"`
	StopLossThreshold   float64 `json:"stop_loss_threshold"`   // exactly -0.10
	FallThreshold       int     `json:"fall_threshold"`        // consecutive losing days, 3
	MinAUM              float64 `json:"min_aum"`               // 0.01
	InitialAccountBalance float64 `json:"initial_account_balance"` // 1000.0
	OperationalTZOffset int     `json:"operational_tz_offset_hours"` // -5 (UTC-5)
	BackendMaxRetries   int     `json:"backend_max_retries"`
	// DefaultAccountCount seeds a new simulation_id's client-account roster the
	// first time it is run, since run_simulation takes no account-count
	// parameter (spec §6.2; see DESIGN.md's config section).
	DefaultAccountCount int `json:"default_account_count"`
}

// Load builds a Config from an optional config.json overlaid by environment
// variables, following the teacher's file-then-env precedence.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.SimulationConfig.CohortSize = getEnvIntOrDefault("SIM_COHORT_SIZE", cfg.SimulationConfig.CohortSize)
	cfg.SimulationConfig.DefaultWindowDays = getEnvIntOrDefault("SIM_DEFAULT_WINDOW_DAYS", cfg.SimulationConfig.DefaultWindowDays)
	cfg.SimulationConfig.StopLossThreshold = getEnvFloatOrDefault("SIM_STOP_LOSS_THRESHOLD", cfg.SimulationConfig.StopLossThreshold)
	cfg.SimulationConfig.FallThreshold = getEnvIntOrDefault("SIM_FALL_THRESHOLD", cfg.SimulationConfig.FallThreshold)
	cfg.SimulationConfig.MinAUM = getEnvFloatOrDefault("SIM_MIN_AUM", cfg.SimulationConfig.MinAUM)
	cfg.SimulationConfig.InitialAccountBalance = getEnvFloatOrDefault("SIM_INITIAL_ACCOUNT_BALANCE", cfg.SimulationConfig.InitialAccountBalance)
	cfg.SimulationConfig.BackendMaxRetries = getEnvIntOrDefault("SIM_BACKEND_MAX_RETRIES", cfg.SimulationConfig.BackendMaxRetries)
}

// applyDefaults fills in the operational defaults spec.md §3/§6.4 names when
// neither config.json nor the environment set them.
func applyDefaults(cfg *Config) {
	if cfg.SimulationConfig.CohortSize == 0 {
		cfg.SimulationConfig.CohortSize = 16
	}
	if len(cfg.SimulationConfig.SupportedWindows) == 0 {
		cfg.SimulationConfig.SupportedWindows = []int{3, 5, 7, 10, 15, 30}
	}
	if cfg.SimulationConfig.DefaultWindowDays == 0 {
		cfg.SimulationConfig.DefaultWindowDays = 7
	}
	if cfg.SimulationConfig.StopLossThreshold == 0 {
		cfg.SimulationConfig.StopLossThreshold = -0.10
	}
	if cfg.SimulationConfig.FallThreshold == 0 {
		cfg.SimulationConfig.FallThreshold = 3
	}
	if cfg.SimulationConfig.MinAUM == 0 {
		cfg.SimulationConfig.MinAUM = 0.01
	}
	if cfg.SimulationConfig.InitialAccountBalance == 0 {
		cfg.SimulationConfig.InitialAccountBalance = 1000.0
	}
	if cfg.SimulationConfig.OperationalTZOffset == 0 {
		cfg.SimulationConfig.OperationalTZOffset = -5
	}
	if cfg.SimulationConfig.BackendMaxRetries == 0 {
		cfg.SimulationConfig.BackendMaxRetries = 3
	}
	if cfg.SimulationConfig.DefaultAccountCount == 0 {
		cfg.SimulationConfig.DefaultAccountCount = 1000
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file.
func GenerateSampleConfig(filename string) error {
	config := Config{
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "simulator",
			Password: "change_me",
			Database: "casterly_rock",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		SimulationConfig: SimulationConfig{
			CohortSize:            16,
			SupportedWindows:      []int{3, 5, 7, 10, 15, 30},
			DefaultWindowDays:     7,
			StopLossThreshold:     -0.10,
			FallThreshold:         3,
			MinAUM:                0.01,
			InitialAccountBalance: 1000.0,
			OperationalTZOffset:   -5,
			BackendMaxRetries:     3,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
