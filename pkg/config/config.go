package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP/WS/RPC-stream listener.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the embedded analytical store.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Path            string `json:"path" env:"DATABASE_PATH"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SecurityConfig holds encryption keys loaded from file or environment.
// Nothing in this module reads these fields: cmd/server reads
// NOTIFICATION_ENCRYPTION_KEY from the environment directly, and agent
// secrets are stored unencrypted.
type SecurityConfig struct {
	SecretEncryptionKey       string `json:"secret_encryption_key" env:"SECRET_ENCRYPTION_KEY"`
	NotificationEncryptionKey string `json:"notification_encryption_key" env:"NOTIFICATION_ENCRYPTION_KEY"`
}

// AuthConfig controls HTTP API and agent handshake authentication.
type AuthConfig struct {
	Tokens    []string   `json:"tokens"`
	JWTSecret string     `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Users     []UserSpec `json:"users"`
}

type UserSpec struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// AgentDefaultsConfig is the global AgentConfig template the config
// resolver (C8) starts from before applying any per-host override JSON.
type AgentDefaultsConfig struct {
	MetricsCollectIntervalSeconds int               `json:"metrics_collect_interval_seconds" env:"AGENT_METRICS_COLLECT_INTERVAL_SECONDS"`
	MetricsUploadIntervalSeconds  int               `json:"metrics_upload_interval_seconds" env:"AGENT_METRICS_UPLOAD_INTERVAL_SECONDS"`
	MetricsUploadBatchMaxSize     int               `json:"metrics_upload_batch_max_size" env:"AGENT_METRICS_UPLOAD_BATCH_MAX_SIZE"`
	HeartbeatIntervalSeconds      int               `json:"heartbeat_interval_seconds" env:"AGENT_HEARTBEAT_INTERVAL_SECONDS"`
	LogLevel                      string            `json:"log_level" env:"AGENT_LOG_LEVEL"`
	FeatureFlags                  map[string]string `json:"feature_flags"`
}

// RuntimeConfig carries the interval knobs for the periodic subsystems: the
// broadcast debounce window (C5), the session liveness sweep (C6), the
// raw->1m->1h->1d aggregation/retention scheduler (C3), the traffic-cycle
// reset sweep (C12), and the renewal check loop (C13). internal/app reads
// only the session sweep interval, the session stale threshold and the four
// retention windows; the other subsystems run on their own fixed schedules.
type RuntimeConfig struct {
	BroadcastDebounce    time.Duration `json:"broadcast_debounce" env:"RUNTIME_BROADCAST_DEBOUNCE"`
	SessionSweepInterval time.Duration `json:"session_sweep_interval" env:"RUNTIME_SESSION_SWEEP_INTERVAL"`
	SessionStaleAfter    time.Duration `json:"session_stale_after" env:"RUNTIME_SESSION_STALE_AFTER"`
	AggregationInterval  time.Duration `json:"aggregation_interval" env:"RUNTIME_AGGREGATION_INTERVAL"`
	RetentionRaw         time.Duration `json:"retention_raw" env:"RUNTIME_RETENTION_RAW"`
	Retention1m          time.Duration `json:"retention_1m" env:"RUNTIME_RETENTION_1M"`
	Retention1h          time.Duration `json:"retention_1h" env:"RUNTIME_RETENTION_1H"`
	Retention1d          time.Duration `json:"retention_1d" env:"RUNTIME_RETENTION_1D"`
	TrafficResetInterval time.Duration `json:"traffic_reset_interval" env:"RUNTIME_TRAFFIC_RESET_INTERVAL"`
	RenewalCheckInterval time.Duration `json:"renewal_check_interval" env:"RUNTIME_RENEWAL_CHECK_INTERVAL"`
	AlertEvalInterval    time.Duration `json:"alert_eval_interval" env:"RUNTIME_ALERT_EVAL_INTERVAL"`
}

// Config is the top-level configuration structure read by cmd/server;
// cmd/agent does not use it.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Logging       LoggingConfig       `json:"logging"`
	Runtime       RuntimeConfig       `json:"runtime"`
	Security      SecurityConfig      `json:"security"`
	Auth          AuthConfig          `json:"auth"`
	AgentDefaults AgentDefaultsConfig `json:"agent_defaults"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			Path:            "data/nodenexus.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "nodenexus",
		},
		Runtime: RuntimeConfig{
			BroadcastDebounce:    500 * time.Millisecond,
			SessionSweepInterval: 30 * time.Second,
			SessionStaleAfter:    90 * time.Second,
			AggregationInterval:  time.Hour,
			RetentionRaw:         24 * time.Hour,
			Retention1m:          7 * 24 * time.Hour,
			Retention1h:          30 * 24 * time.Hour,
			Retention1d:          365 * 24 * time.Hour,
			TrafficResetInterval: 5 * time.Minute,
			RenewalCheckInterval: 6 * time.Hour,
			AlertEvalInterval:    time.Minute,
		},
		Security: SecurityConfig{},
		Auth:     AuthConfig{},
		AgentDefaults: AgentDefaultsConfig{
			MetricsCollectIntervalSeconds: 10,
			MetricsUploadIntervalSeconds:  60,
			MetricsUploadBatchMaxSize:     120,
			HeartbeatIntervalSeconds:      30,
			LogLevel:                      "info",
		},
	}
}

// ConnectionString builds the embedded-store DSN. When DSN is set explicitly
// it wins; otherwise it falls back to a filesystem path suitable for
// mattn/go-sqlite3.
func (c DatabaseConfig) ConnectionString() string {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN
	}
	return c.Path
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride aligns config loading with cmd/server: DATABASE_URL
// overrides any file-based DSN to reduce setup friction in container
// deployments where only one env var is wired.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (r *RuntimeConfig) normalize() {
	if r == nil {
		return
	}
	if r.BroadcastDebounce <= 0 {
		r.BroadcastDebounce = 500 * time.Millisecond
	}
	if r.SessionSweepInterval <= 0 {
		r.SessionSweepInterval = 30 * time.Second
	}
	if r.SessionStaleAfter <= 0 {
		r.SessionStaleAfter = 90 * time.Second
	}
	if r.AggregationInterval <= 0 {
		r.AggregationInterval = time.Hour
	}
	if r.TrafficResetInterval <= 0 {
		r.TrafficResetInterval = 5 * time.Minute
	}
	if r.RenewalCheckInterval <= 0 {
		r.RenewalCheckInterval = 6 * time.Hour
	}
	if r.AlertEvalInterval <= 0 {
		r.AlertEvalInterval = time.Minute
	}
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Runtime.normalize()
}
