// Package config provides configuration loading and management for authd.
// It supports loading configuration from YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all storage.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real storage backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// LockStore selects the backend used for scheduler locks.
type LockStore string

const (
	LockStorePostgres LockStore = "postgres"
	LockStoreRedis    LockStore = "redis"
	LockStoreMemory   LockStore = "memory"
)

// IsValid returns true if the lock store is a known backend.
func (s LockStore) IsValid() bool {
	switch s {
	case LockStorePostgres, LockStoreRedis, LockStoreMemory:
		return true
	default:
		return false
	}
}

// Well-known consumer and producer names used in the kafka section.
const (
	ConsumerMail  = "mail"
	ConsumerRetry = "retry"

	ProducerRegistration = "registration"
	ProducerRetry        = "retry"
	ProducerDLQ          = "dlq"
)

// envPrefix is prepended to every environment override.
const envPrefix = "AUTHD_"

// Config represents the complete application configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Mail      MailConfig      `yaml:"mail"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Logger    LoggerConfig    `yaml:"logger"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory storage should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real storage backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds broker connection settings plus the per-topic
// consumer and producer definitions of the event pipeline.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`

	// Domain is the base topic name. Retry and dead-letter topics are
	// derived from it, see Topics.
	Domain string `yaml:"domain"`

	// Codec is the wire codec for envelopes: "cbor" or "json".
	Codec string `yaml:"codec"`

	// Partitions is only used by the in-memory broker.
	Partitions int `yaml:"partitions"`

	Reconnect ReconnectConfig           `yaml:"reconnect"`
	Retry     RetryConfig               `yaml:"retry"`
	Producers map[string]ProducerConfig `yaml:"producers"`
	Consumers map[string]ConsumerConfig `yaml:"consumers"`
}

// ReconnectConfig bounds how a consumer re-subscribes after a stream failure.
type ReconnectConfig struct {
	Attempts  int           `yaml:"attempts"`
	Period    time.Duration `yaml:"period"`
	MaxPeriod time.Duration `yaml:"max_period"`
	Jitter    float64       `yaml:"jitter"`
}

// RetryConfig holds the retry and dead-letter escalation policy.
type RetryConfig struct {
	MaxAttempts  int32 `yaml:"max_attempts"`
	RetryEnabled *bool `yaml:"retry_enabled"`
	DLQEnabled   *bool `yaml:"dlq_enabled"`
	// PoisonToDLQ forwards undecodable records to the dead-letter topic
	// instead of dropping them.
	PoisonToDLQ bool `yaml:"poison_to_dlq"`
}

// IsRetryEnabled reports whether failed messages go to the retry topic. Defaults to true.
func (c RetryConfig) IsRetryEnabled() bool { return c.RetryEnabled == nil || *c.RetryEnabled }

// IsDLQEnabled reports whether exhausted messages go to the dead-letter topic. Defaults to true.
func (c RetryConfig) IsDLQEnabled() bool { return c.DLQEnabled == nil || *c.DLQEnabled }

// ProducerConfig holds settings for one typed producer.
type ProducerConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Topic       string `yaml:"topic"`
	MaxInFlight int    `yaml:"max_in_flight"`
}

// IsEnabled defaults to true when the flag is omitted.
func (c ProducerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// ConsumerConfig holds settings for one consumer.
type ConsumerConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"group_id"`
	BatchSize      int           `yaml:"batch_size"`
	Delay          time.Duration `yaml:"delay"`
	MaxWait        time.Duration `yaml:"max_wait"`
	CommitInterval time.Duration `yaml:"commit_interval"`
	OffsetReset    string        `yaml:"offset_reset"`
	Strategy       string        `yaml:"strategy"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// IsEnabled defaults to true when the flag is omitted.
func (c ConsumerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// SchedulerConfig holds the distributed scheduler settings.
type SchedulerConfig struct {
	LockStore LockStore   `yaml:"lock_store"`
	Jobs      []JobConfig `yaml:"jobs"`
}

// JobConfig describes one recurring job.
type JobConfig struct {
	Name           string        `yaml:"name"`
	Enabled        *bool         `yaml:"enabled"`
	LockAtMostFor  time.Duration `yaml:"lock_at_most_for"`
	LockAtLeastFor time.Duration `yaml:"lock_at_least_for"`
}

// IsEnabled defaults to true when the flag is omitted.
func (c JobConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// MailConfig holds settings for the welcome mail consumer.
type MailConfig struct {
	From           string        `yaml:"from"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from the specified YAML file path, applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(filepath.Clean(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// applyEnv overrides connection settings from AUTHD_* environment variables.
func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = n
		return nil
	}

	mode := string(cfg.Storage.Mode)
	str("STORAGE_MODE", &mode)
	cfg.Storage.Mode = StorageMode(mode)

	lockStore := string(cfg.Scheduler.LockStore)
	str("SCHEDULER_LOCK_STORE", &lockStore)
	cfg.Scheduler.LockStore = LockStore(lockStore)

	if v, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_GROUP_ID", &cfg.Kafka.GroupID)
	str("KAFKA_CODEC", &cfg.Kafka.Codec)

	str("SERVER_HOST", &cfg.Server.Host)
	str("REDIS_HOST", &cfg.Redis.Host)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("POSTGRES_HOST", &cfg.Postgres.Host)
	str("POSTGRES_USER", &cfg.Postgres.User)
	str("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	str("POSTGRES_DATABASE", &cfg.Postgres.Database)
	str("LOGGER_LEVEL", &cfg.Logger.Level)
	str("LOGGER_FORMAT", &cfg.Logger.Format)

	for name, dst := range map[string]*int{
		"SERVER_PORT":   &cfg.Server.Port,
		"REDIS_PORT":    &cfg.Redis.Port,
		"REDIS_DB":      &cfg.Redis.DB,
		"POSTGRES_PORT": &cfg.Postgres.Port,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	applyKafkaDefaults(&cfg.Kafka)
	applySchedulerDefaults(&cfg.Scheduler, cfg.Storage.Mode)

	// Mail defaults
	if cfg.Mail.From == "" {
		cfg.Mail.From = "no-reply@authd.local"
	}
	if cfg.Mail.IdempotencyTTL == 0 {
		cfg.Mail.IdempotencyTTL = 24 * time.Hour
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

func applyKafkaDefaults(k *KafkaConfig) {
	if len(k.Brokers) == 0 {
		k.Brokers = []string{"localhost:9092"}
	}
	if k.GroupID == "" {
		k.GroupID = "authd"
	}
	if k.Domain == "" {
		k.Domain = "registration"
	}
	if k.Codec == "" {
		k.Codec = "cbor"
	}
	if k.Partitions == 0 {
		k.Partitions = 8
	}

	if k.Reconnect.Attempts == 0 {
		k.Reconnect.Attempts = 5
	}
	if k.Reconnect.Period == 0 {
		k.Reconnect.Period = time.Second
	}
	if k.Reconnect.MaxPeriod == 0 {
		k.Reconnect.MaxPeriod = max(30*time.Second, k.Reconnect.Period)
	}
	if k.Reconnect.Jitter == 0 {
		k.Reconnect.Jitter = 0.5
	}

	if k.Retry.MaxAttempts == 0 {
		k.Retry.MaxAttempts = 3
	}

	topics := Topics(k.Domain)

	if k.Producers == nil {
		k.Producers = make(map[string]ProducerConfig)
	}
	for name, topic := range map[string]string{
		ProducerRegistration: topics.Primary,
		ProducerRetry:        topics.Retry,
		ProducerDLQ:          topics.DLQ,
	} {
		p := k.Producers[name]
		if p.Topic == "" {
			p.Topic = topic
		}
		if p.MaxInFlight == 0 {
			p.MaxInFlight = 16
		}
		k.Producers[name] = p
	}

	if k.Consumers == nil {
		k.Consumers = make(map[string]ConsumerConfig)
	}
	for name, topic := range map[string]string{
		ConsumerMail:  topics.Primary,
		ConsumerRetry: topics.Retry,
	} {
		c := k.Consumers[name]
		if c.Topic == "" {
			c.Topic = topic
		}
		if c.GroupID == "" {
			c.GroupID = k.GroupID
		}
		if c.BatchSize == 0 {
			c.BatchSize = 100
		}
		if c.MaxWait == 0 {
			c.MaxWait = 250 * time.Millisecond
		}
		if c.CommitInterval == 0 {
			c.CommitInterval = time.Second
		}
		if c.OffsetReset == "" {
			c.OffsetReset = "earliest"
		}
		if c.Strategy == "" {
			c.Strategy = "SEQUENTIAL"
		}
		if c.MaxConcurrency == 0 {
			c.MaxConcurrency = 8
		}
		k.Consumers[name] = c
	}
}

func applySchedulerDefaults(s *SchedulerConfig, mode StorageMode) {
	if s.LockStore == "" {
		if mode == StorageModeStorage {
			s.LockStore = LockStorePostgres
		} else {
			s.LockStore = LockStoreMemory
		}
	}
}

// Validate checks cross-field constraints. Configuration errors are
// fatal at startup.
func (c *Config) Validate() error {
	if !c.Storage.Mode.IsValid() {
		return fmt.Errorf("storage.mode must be 'memory' or 'storage', got %q", c.Storage.Mode)
	}
	if err := c.Kafka.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if c.Storage.UseStorage() && c.Scheduler.LockStore == LockStoreMemory {
		return errors.New("scheduler.lock_store 'memory' cannot coordinate replicas in storage mode")
	}
	if c.Logger.Format != "json" && c.Logger.Format != "text" {
		return fmt.Errorf("logger.format must be 'json' or 'text', got %q", c.Logger.Format)
	}
	return nil
}

// Validate checks the kafka section.
func (k *KafkaConfig) Validate() error {
	if len(k.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if k.Codec != "cbor" && k.Codec != "json" {
		return fmt.Errorf("kafka.codec must be 'cbor' or 'json', got %q", k.Codec)
	}
	if k.Reconnect.Attempts < 0 {
		return errors.New("kafka.reconnect.attempts must not be negative")
	}
	if k.Reconnect.Jitter < 0 || k.Reconnect.Jitter > 1 {
		return fmt.Errorf("kafka.reconnect.jitter must be within [0, 1], got %v", k.Reconnect.Jitter)
	}
	if k.Reconnect.MaxPeriod < k.Reconnect.Period {
		return errors.New("kafka.reconnect.max_period must not be less than period")
	}
	if k.Retry.MaxAttempts < 0 {
		return errors.New("kafka.retry.max_attempts must not be negative")
	}
	for name, p := range k.Producers {
		if p.Topic == "" {
			return fmt.Errorf("kafka.producers.%s.topic is required", name)
		}
		if p.MaxInFlight < 1 {
			return fmt.Errorf("kafka.producers.%s.max_in_flight must be positive", name)
		}
	}
	for name, c := range k.Consumers {
		if c.Topic == "" {
			return fmt.Errorf("kafka.consumers.%s.topic is required", name)
		}
		if c.BatchSize < 1 {
			return fmt.Errorf("kafka.consumers.%s.batch_size must be positive", name)
		}
		if c.MaxConcurrency < 1 {
			return fmt.Errorf("kafka.consumers.%s.max_concurrency must be positive", name)
		}
		if c.Delay < 0 {
			return fmt.Errorf("kafka.consumers.%s.delay must not be negative", name)
		}
		if c.Strategy != "SEQUENTIAL" && c.Strategy != "PARALLEL" {
			return fmt.Errorf("kafka.consumers.%s.strategy must be SEQUENTIAL or PARALLEL, got %q", name, c.Strategy)
		}
		if c.OffsetReset != "earliest" && c.OffsetReset != "latest" {
			return fmt.Errorf("kafka.consumers.%s.offset_reset must be earliest or latest, got %q", name, c.OffsetReset)
		}
	}
	return nil
}

// Validate checks the scheduler section.
func (s *SchedulerConfig) Validate() error {
	if !s.LockStore.IsValid() {
		return fmt.Errorf("scheduler.lock_store must be postgres, redis or memory, got %q", s.LockStore)
	}
	seen := make(map[string]struct{}, len(s.Jobs))
	for _, j := range s.Jobs {
		if j.Name == "" {
			return errors.New("scheduler.jobs[].name is required")
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("scheduler job %q is declared twice", j.Name)
		}
		seen[j.Name] = struct{}{}
		if j.LockAtMostFor <= 0 || j.LockAtLeastFor <= 0 {
			return fmt.Errorf("scheduler job %q: lock_at_most_for and lock_at_least_for must be positive", j.Name)
		}
		if j.LockAtLeastFor > j.LockAtMostFor {
			return fmt.Errorf("scheduler job %q: lock_at_least_for (%s) exceeds lock_at_most_for (%s)",
				j.Name, j.LockAtLeastFor, j.LockAtMostFor)
		}
	}
	return nil
}

// TopicSet names the primary, retry and dead-letter topics of a domain.
type TopicSet struct {
	Primary string
	Retry   string
	DLQ     string
}

// Topics derives topic names as <domain>, <domain>-retry and <domain>-dlq.
func Topics(domain string) TopicSet {
	return TopicSet{
		Primary: domain,
		Retry:   domain + "-retry",
		DLQ:     domain + "-dlq",
	}
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
