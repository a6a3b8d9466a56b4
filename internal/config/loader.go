package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "sectordesk.yaml"

// DefaultEnvFile is the dotenv file loaded before the environment overlay.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	if err := loadDotenv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

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

// loadDotenv populates unset environment variables from a dotenv file.
// Variables already present in the process environment win.
func loadDotenv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
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
	setString(&cfg.Server.Port, "SECTORDESK_PORT")
	setString(&cfg.Server.CORSOrigin, "SECTORDESK_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimitRPS, "SECTORDESK_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "SECTORDESK_RATE_LIMIT_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "SECTORDESK_IDEMPOTENCY_TTL")
	setDuration(&cfg.Server.RequestTimeout, "SECTORDESK_REQUEST_TIMEOUT")
	setString(&cfg.Store.Driver, "SECTORDESK_STORE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SECTORDESK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SECTORDESK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SECTORDESK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SECTORDESK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SECTORDESK_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "SECTORDESK_SQLITE_PATH")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SECTORDESK_REDIS_DB")
	setString(&cfg.Redis.Stream, "SECTORDESK_LEDGER_STREAM")
	setInt64(&cfg.Redis.MaxLen, "SECTORDESK_LEDGER_MAX_LEN")

	// Proposal source
	setString(&cfg.Proposer.URL, "LITELLM_URL")
	setString(&cfg.Proposer.APIKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Proposer.Model, "SECTORDESK_PROPOSER_MODEL")
	setString(&cfg.Proposer.ManagerModel, "SECTORDESK_MANAGER_MODEL")
	setDuration(&cfg.Proposer.Timeout, "SECTORDESK_PROPOSER_TIMEOUT")
	setInt(&cfg.Proposer.MaxTokens, "SECTORDESK_PROPOSER_MAX_TOKENS")
	setFloat64(&cfg.Proposer.Temperature, "SECTORDESK_PROPOSER_TEMPERATURE")
	setFloat64(&cfg.Proposer.RatePerSecond, "SECTORDESK_PROPOSER_RPS")
	setInt(&cfg.Proposer.Burst, "SECTORDESK_PROPOSER_BURST")
	setInt(&cfg.Breaker.MaxFailures, "SECTORDESK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SECTORDESK_BREAKER_TIMEOUT")

	setString(&cfg.Logging.Level, "SECTORDESK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SECTORDESK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SECTORDESK_LOG_ASYNC")

	// Discussion / manager / execution
	setFloat64(&cfg.Discussion.ConfidenceThreshold, "SECTORDESK_CONFIDENCE_THRESHOLD")
	setInt(&cfg.Discussion.MaxRounds, "SECTORDESK_MAX_ROUNDS")
	setInt(&cfg.Discussion.MaxRevisions, "SECTORDESK_MAX_REVISIONS")
	setFloat64(&cfg.Discussion.ConfidenceIncrement, "SECTORDESK_CONFIDENCE_INCREMENT")
	setFloat64(&cfg.Manager.RiskCeiling, "SECTORDESK_RISK_CEILING")
	setInt(&cfg.Manager.WeakReasoningLen, "SECTORDESK_WEAK_REASONING_LEN")
	setInt(&cfg.Manager.DecisionRetention, "SECTORDESK_DECISION_RETENTION")
	setInt(&cfg.Execution.LogRetention, "SECTORDESK_LOG_RETENTION")
	setBool(&cfg.Execution.ConfidenceMultiplier, "SECTORDESK_CONFIDENCE_MULTIPLIER")

	// Scheduler
	setBool(&cfg.Scheduler.Enabled, "SECTORDESK_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.RoundInterval, "SECTORDESK_ROUND_INTERVAL")
	setDuration(&cfg.Scheduler.ManagerInterval, "SECTORDESK_MANAGER_INTERVAL")
	setDuration(&cfg.Scheduler.MarketInterval, "SECTORDESK_MARKET_INTERVAL")

	// Cache / telemetry
	setInt64(&cfg.Cache.L1MaxSizeMB, "SECTORDESK_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "SECTORDESK_CACHE_TTL")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "SECTORDESK_OTEL_INSECURE")
}

// validate checks that required fields are set and values are consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres store")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("store.driver %q must be memory, postgres or sqlite", cfg.Store.Driver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Proposer.Timeout <= 0 {
		return errors.New("proposer.timeout must be > 0")
	}
	if cfg.Discussion.ConfidenceThreshold < 0 || cfg.Discussion.ConfidenceThreshold > 100 {
		return errors.New("discussion.confidence_threshold must be within [0, 100]")
	}
	if cfg.Discussion.MaxRounds < 1 {
		return errors.New("discussion.max_rounds must be >= 1")
	}
	if cfg.Discussion.MaxRevisions < 0 {
		return errors.New("discussion.max_revisions must be >= 0")
	}
	if cfg.Execution.LogRetention < 1 {
		return errors.New("execution.log_retention must be >= 1")
	}
	if cfg.Manager.DecisionRetention < 1 {
		return errors.New("manager.decision_retention must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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
