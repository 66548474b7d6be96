package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"clover"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	// Prometheus endpoint served by workers; the API serves /metrics on its own port
	MetricsPort int `env:"METRICS_PORT" env-default:"9090"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName            string        `env:"DB_NAME" env-default:"clover"`
	DatabaseSSLMode         string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath   string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int    `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int    `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool   `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Prefix of the report cache keys
	RedisCachePrefix string `env:"REDIS_CACHE_PREFIX" env-default:"clover:report:"`
	// Channel invalidation messages are published on
	RedisInvalidationChannel string `env:"REDIS_INVALIDATION_CHANNEL" env-default:"clover:invalidations"`

	// Kafka brokers (comma-separated)
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Topic external source records arrive on
	KafkaIngestTopic   string `env:"KAFKA_INGEST_TOPIC" env-default:"external-sku-records"`
	KafkaConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" env-default:"clover-ingest"`
	KafkaAuditTopic    string `env:"KAFKA_AUDIT_TOPIC" env-default:"clover-audit"`
	KafkaAlertTopic    string `env:"KAFKA_ALERT_TOPIC" env-default:"clover-alerts"`
	// Ingestion is skipped when disabled
	KafkaIngestEnabled bool `env:"KAFKA_INGEST_ENABLED" env-default:"true"`

	// Matching thresholds
	AutoAcceptThreshold    float64 `env:"AUTO_ACCEPT_THRESHOLD" env-default:"0.85"`
	LowConfidenceThreshold float64 `env:"LOW_CONFIDENCE_THRESHOLD" env-default:"0.5"`
	FuzzyMinSimilarity     float64 `env:"FUZZY_MIN_SIMILARITY" env-default:"0.6"`
	MatchFuzzyWindow       int     `env:"MATCH_FUZZY_WINDOW" env-default:"500"`
	MatchCandidateLimit    int     `env:"MATCH_CANDIDATE_LIMIT" env-default:"10"`
	// Per-source reliability overrides, e.g. "ozon=0.95,avito=0.6"
	SourceReliability string `env:"SOURCE_RELIABILITY" env-default:""`

	// Queue settings
	QueueMaxAttempts   int           `env:"QUEUE_MAX_ATTEMPTS" env-default:"3"`
	QueueRetryDelay    time.Duration `env:"QUEUE_RETRY_DELAY" env-default:"5m"`
	QueueStuckTimeout  time.Duration `env:"QUEUE_STUCK_TIMEOUT" env-default:"60m"`
	QueuePollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL" env-default:"1s"`
	QueueSweepInterval time.Duration `env:"QUEUE_SWEEP_INTERVAL" env-default:"5m"`
	WorkerCount        int           `env:"WORKER_COUNT" env-default:"4"`
	// Worker id prefix, defaults to the hostname
	WorkerName string `env:"WORKER_NAME" env-default:""`

	// Notifications
	PendingQueueAlertThreshold int `env:"PENDING_QUEUE_ALERT_THRESHOLD" env-default:"1000"`

	// Rejected mappings older than this are purged by retention_cleanup jobs
	RejectedRetentionDays int `env:"REJECTED_RETENTION_DAYS" env-default:"90"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure     bool    `env:"OTLP_INSECURE" env-default:"true"`
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" env-default:"1"`
}

// Load reads the optional dotenv files (".env" when none are given) and an
// optional CONFIG_FILE, then binds the environment. Variables already set
// win over the files; unset keys fall back to their env-default tag.
func Load(dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		if err := applyConfigFile(file); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	cfg.AllowOrigins = trimList(cfg.AllowOrigins)
	cfg.AllowMethods = trimList(cfg.AllowMethods)
	cfg.KafkaBrokers = trimList(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyConfigFile exports every key of a yaml, json or toml file as an
// environment variable unless that variable is already set. Nested keys
// are joined with underscores, lists with commas.
func applyConfigFile(file string) error {
	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", file, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, envValue(v.Get(key))); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

func envValue(value any) string {
	items, ok := value.([]any)
	if !ok {
		return fmt.Sprint(value)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ",")
}

func trimList(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks the cross-field constraints of the thresholds
func (c *Config) Validate() error {
	for name, value := range map[string]float64{
		"AUTO_ACCEPT_THRESHOLD":    c.AutoAcceptThreshold,
		"LOW_CONFIDENCE_THRESHOLD": c.LowConfidenceThreshold,
		"FUZZY_MIN_SIMILARITY":     c.FuzzyMinSimilarity,
		"TRACE_SAMPLE_RATIO":       c.TraceSampleRatio,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", name, value)
		}
	}
	if c.LowConfidenceThreshold > c.AutoAcceptThreshold {
		return fmt.Errorf("LOW_CONFIDENCE_THRESHOLD (%v) must not exceed AUTO_ACCEPT_THRESHOLD (%v)", c.LowConfidenceThreshold, c.AutoAcceptThreshold)
	}
	if _, err := c.ReliabilityOverrides(); err != nil {
		return err
	}
	return nil
}

// ReliabilityOverrides parses SOURCE_RELIABILITY
func (c *Config) ReliabilityOverrides() (map[string]float64, error) {
	overrides := map[string]float64{}
	for _, pair := range trimList(strings.Split(c.SourceReliability, ",")) {
		source, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("SOURCE_RELIABILITY entry %q must be source=value", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("SOURCE_RELIABILITY entry %q must have a value within [0, 1]", pair)
		}
		overrides[strings.TrimSpace(source)] = f
	}
	return overrides, nil
}

// RedisAddr is the host:port of the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
