package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "missiond.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MISSIOND_PORT")
	setString(&cfg.Server.CORSOrigin, "MISSIOND_CORS_ORIGIN")
	setString(&cfg.Store.Backend, "MISSIOND_STORE_BACKEND")
	setString(&cfg.Store.CheckpointBackend, "MISSIOND_CHECKPOINT_BACKEND")
	setString(&cfg.Store.CheckpointDir, "MISSIOND_CHECKPOINT_DIR")
	setString(&cfg.Store.CheckpointBucket, "MISSIOND_CHECKPOINT_BUCKET")
	setString(&cfg.SQLite.Path, "MISSIOND_SQLITE_PATH")
	setDuration(&cfg.SQLite.BusyTimeout, "MISSIOND_SQLITE_BUSY_TIMEOUT")
	setInt(&cfg.SQLite.WriteQueue, "MISSIOND_SQLITE_WRITE_QUEUE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MISSIOND_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MISSIOND_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MISSIOND_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MISSIOND_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "MISSIOND_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setDuration(&cfg.LiteLLM.Timeout, "LITELLM_TIMEOUT")
	setString(&cfg.Logging.Level, "MISSIOND_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MISSIOND_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MISSIOND_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "MISSIOND_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MISSIOND_BREAKER_TIMEOUT")
	setInt(&cfg.Mission.MaxRounds, "MISSIOND_MAX_ROUNDS")
	setInt(&cfg.Mission.RetryLoopThreshold, "MISSIOND_RETRY_LOOP_THRESHOLD")
	setFloat64(&cfg.Mission.DefaultCostCapUSD, "MISSIOND_COST_CAP_USD")
	setFloat64(&cfg.Mission.CostWarnRatio, "MISSIOND_COST_WARN_RATIO")
	setInt64(&cfg.Mission.EstimateTokens, "MISSIOND_ESTIMATE_TOKENS")
	setInt(&cfg.Mission.MaxConcurrent, "MISSIOND_MAX_CONCURRENT")
	setDuration(&cfg.Approval.DefaultTimeout, "MISSIOND_APPROVAL_TIMEOUT")
	setDuration(&cfg.Approval.SweepInterval, "MISSIOND_APPROVAL_SWEEP_INTERVAL")
	setString(&cfg.Approval.AdminRole, "MISSIOND_APPROVAL_ADMIN_ROLE")
}

// validate checks cross-field constraints that defaults and overlays can break.
func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.backend must be sqlite or postgres, got %q", cfg.Store.Backend)
	}
	switch cfg.Store.CheckpointBackend {
	case "file", "natskv":
	default:
		return fmt.Errorf("store.checkpoint_backend must be file or natskv, got %q", cfg.Store.CheckpointBackend)
	}
	if cfg.Mission.MaxRounds <= 0 {
		return fmt.Errorf("mission.max_rounds must be positive, got %d", cfg.Mission.MaxRounds)
	}
	if cfg.Mission.RetryLoopThreshold < 1 {
		return fmt.Errorf("mission.retry_loop_threshold must be >= 1, got %d", cfg.Mission.RetryLoopThreshold)
	}
	if cfg.Mission.CostWarnRatio < 0 || cfg.Mission.CostWarnRatio > 1 {
		return fmt.Errorf("mission.cost_warn_ratio must be in [0,1], got %g", cfg.Mission.CostWarnRatio)
	}
	if cfg.Approval.SweepInterval <= 0 {
		return fmt.Errorf("approval.sweep_interval must be positive")
	}
	if cfg.Approval.AdminRole == "" {
		return fmt.Errorf("approval.admin_role must not be empty")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
