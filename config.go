package changefeed

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the configuration for the Processor.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// LeasePrefix namespaces every document this processor writes to the lease
	// container. Processors that share a prefix cooperate on the same feed.
	LeasePrefix string `yaml:"leasePrefix"`

	// HostName identifies this processor as a lease owner. It must be unique
	// among the processors sharing a LeasePrefix.
	// Default: os.Hostname() plus a short random suffix.
	HostName string `yaml:"hostName"`

	// LeaseAcquireInterval is the pause between load balancing cycles.
	LeaseAcquireInterval time.Duration `yaml:"leaseAcquireInterval"`

	// LeaseExpirationInterval is how long a lease stays valid without renewal.
	// After it elapses any processor may take the lease.
	LeaseExpirationInterval time.Duration `yaml:"leaseExpirationInterval"`

	// LeaseRenewInterval is how often owned leases are renewed.
	// Must be shorter than LeaseExpirationInterval.
	LeaseRenewInterval time.Duration `yaml:"leaseRenewInterval"`

	// MinScaleCount and MaxScaleCount bound the number of partitions one
	// processor aims to own (0 = unbounded).
	MinScaleCount int `yaml:"minScaleCount"`
	MaxScaleCount int `yaml:"maxScaleCount"`

	// FeedPollDelay is the wait after a drained page before reading again.
	FeedPollDelay time.Duration `yaml:"feedPollDelay"`

	// MaxItemCount is the page size requested from the change feed.
	MaxItemCount int `yaml:"maxItemCount"`

	// StartFromBeginning reads partitions without a checkpoint from the start
	// of the feed instead of from now.
	StartFromBeginning bool `yaml:"startFromBeginning"`

	// StartTime reads partitions without a checkpoint from this time. Ignored
	// when StartFromBeginning is set.
	StartTime time.Time `yaml:"startTime"`

	// DegreeOfParallelism bounds concurrent lease creation during bootstrap
	// and splits.
	DegreeOfParallelism int `yaml:"degreeOfParallelism"`

	// CheckpointFrequency controls automatic checkpointing.
	CheckpointFrequency CheckpointFrequency `yaml:"checkpointFrequency"`

	// BootstrapLockTTL is the lifetime of the lease seeding lock.
	BootstrapLockTTL time.Duration `yaml:"bootstrapLockTtl"`

	// BootstrapRetryDelay is the wait between attempts to take the seeding lock.
	BootstrapRetryDelay time.Duration `yaml:"bootstrapRetryDelay"`

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// HostName is left empty; SetDefaults derives it from the machine host name.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		LeasePrefix:             "changefeed",
		LeaseAcquireInterval:    13 * time.Second,
		LeaseExpirationInterval: 60 * time.Second,
		LeaseRenewInterval:      17 * time.Second,
		FeedPollDelay:           5 * time.Second,
		MaxItemCount:            100,
		DegreeOfParallelism:     25,
		BootstrapLockTTL:        30 * time.Second,
		BootstrapRetryDelay:     15 * time.Second,
		ShutdownTimeout:         30 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.LeasePrefix == "" {
		cfg.LeasePrefix = defaults.LeasePrefix
	}
	if cfg.HostName == "" {
		cfg.HostName = DefaultHostName()
	}
	if cfg.LeaseAcquireInterval == 0 {
		cfg.LeaseAcquireInterval = defaults.LeaseAcquireInterval
	}
	if cfg.LeaseExpirationInterval == 0 {
		cfg.LeaseExpirationInterval = defaults.LeaseExpirationInterval
	}
	if cfg.LeaseRenewInterval == 0 {
		cfg.LeaseRenewInterval = defaults.LeaseRenewInterval
	}
	if cfg.FeedPollDelay == 0 {
		cfg.FeedPollDelay = defaults.FeedPollDelay
	}
	if cfg.MaxItemCount == 0 {
		cfg.MaxItemCount = defaults.MaxItemCount
	}
	if cfg.DegreeOfParallelism == 0 {
		cfg.DegreeOfParallelism = defaults.DegreeOfParallelism
	}
	if cfg.BootstrapLockTTL == 0 {
		cfg.BootstrapLockTTL = defaults.BootstrapLockTTL
	}
	if cfg.BootstrapRetryDelay == 0 {
		cfg.BootstrapRetryDelay = defaults.BootstrapRetryDelay
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	// Zero CheckpointFrequency thresholds are valid: checkpoint every batch.
}

// DefaultHostName returns the machine host name with a short random suffix,
// so several processors on one machine get distinct owner names.
func DefaultHostName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "host"
	}

	return host + "-" + uuid.NewString()[:8]
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - LeasePrefix and HostName are set
//   - All intervals are positive, FeedPollDelay may be zero
//   - LeaseRenewInterval < LeaseExpirationInterval (a lease must be renewed before it expires)
//   - MinScaleCount <= MaxScaleCount when both are set
//   - MaxItemCount and DegreeOfParallelism are positive
//   - CheckpointFrequency thresholds are not negative
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.LeasePrefix == "" {
		errs = append(errs, errors.New("LeasePrefix must not be empty"))
	}
	if cfg.HostName == "" {
		errs = append(errs, errors.New("HostName must not be empty"))
	}
	if cfg.LeaseAcquireInterval <= 0 {
		errs = append(errs, fmt.Errorf("LeaseAcquireInterval must be > 0, got %v", cfg.LeaseAcquireInterval))
	}
	if cfg.LeaseExpirationInterval <= 0 {
		errs = append(errs, fmt.Errorf("LeaseExpirationInterval must be > 0, got %v", cfg.LeaseExpirationInterval))
	}
	if cfg.LeaseRenewInterval <= 0 {
		errs = append(errs, fmt.Errorf("LeaseRenewInterval must be > 0, got %v", cfg.LeaseRenewInterval))
	}
	if cfg.LeaseRenewInterval >= cfg.LeaseExpirationInterval {
		errs = append(errs, fmt.Errorf(
			"LeaseRenewInterval (%v) must be < LeaseExpirationInterval (%v) so leases are renewed before they expire",
			cfg.LeaseRenewInterval, cfg.LeaseExpirationInterval,
		))
	}
	if cfg.FeedPollDelay < 0 {
		errs = append(errs, fmt.Errorf("FeedPollDelay must be >= 0, got %v", cfg.FeedPollDelay))
	}
	if cfg.MinScaleCount < 0 || cfg.MaxScaleCount < 0 {
		errs = append(errs, fmt.Errorf("MinScaleCount (%d) and MaxScaleCount (%d) must be >= 0", cfg.MinScaleCount, cfg.MaxScaleCount))
	}
	if cfg.MinScaleCount > 0 && cfg.MaxScaleCount > 0 && cfg.MinScaleCount > cfg.MaxScaleCount {
		errs = append(errs, fmt.Errorf("MinScaleCount (%d) must be <= MaxScaleCount (%d)", cfg.MinScaleCount, cfg.MaxScaleCount))
	}
	if cfg.MaxItemCount <= 0 {
		errs = append(errs, fmt.Errorf("MaxItemCount must be > 0, got %d", cfg.MaxItemCount))
	}
	if cfg.DegreeOfParallelism <= 0 {
		errs = append(errs, fmt.Errorf("DegreeOfParallelism must be > 0, got %d", cfg.DegreeOfParallelism))
	}
	if cfg.CheckpointFrequency.DocumentCount < 0 || cfg.CheckpointFrequency.TimeInterval < 0 {
		errs = append(errs, errors.New("CheckpointFrequency thresholds must be >= 0"))
	}

	return errors.Join(errs...)
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in NewProcessor() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.LeaseRenewInterval > cfg.LeaseExpirationInterval/2 {
		logger.Warn(
			"LeaseRenewInterval leaves room for a single missed renewal at most",
			"leaseRenewInterval", cfg.LeaseRenewInterval,
			"leaseExpirationInterval", cfg.LeaseExpirationInterval,
			"recommended", cfg.LeaseExpirationInterval/3,
		)
	}

	if cfg.CheckpointFrequency.Explicit &&
		(cfg.CheckpointFrequency.DocumentCount > 0 || cfg.CheckpointFrequency.TimeInterval > 0) {
		logger.Warn(
			"CheckpointFrequency thresholds are ignored with explicit checkpointing",
			"documentCount", cfg.CheckpointFrequency.DocumentCount,
			"timeInterval", cfg.CheckpointFrequency.TimeInterval,
		)
	}

	if cfg.StartFromBeginning && !cfg.StartTime.IsZero() {
		logger.Warn("StartTime is ignored when StartFromBeginning is set", "startTime", cfg.StartTime)
	}

	if cfg.LeaseAcquireInterval > cfg.LeaseExpirationInterval {
		logger.Warn(
			"LeaseAcquireInterval exceeds LeaseExpirationInterval, expired leases may stay unprocessed for long",
			"leaseAcquireInterval", cfg.LeaseAcquireInterval,
			"leaseExpirationInterval", cfg.LeaseExpirationInterval,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Use DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := changefeed.TestConfig()
//	cfg.HostName = "test-host"
//	proc, err := changefeed.NewProcessor(&cfg, src, container, factory)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.LeaseAcquireInterval = 100 * time.Millisecond
	cfg.LeaseExpirationInterval = 2 * time.Second
	cfg.LeaseRenewInterval = 500 * time.Millisecond
	cfg.FeedPollDelay = 10 * time.Millisecond
	cfg.BootstrapLockTTL = 2 * time.Second
	cfg.BootstrapRetryDelay = 50 * time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second

	return cfg
}

// ParseConfig decodes a YAML document on top of DefaultConfig and validates it.
//
// Returns:
//   - *Config: Parsed configuration with defaults applied
//   - error: Decoding error or validation error wrapping ErrInvalidConfig
//
// Example:
//
//	cfg, err := changefeed.ParseConfig([]byte("leasePrefix: orders\nfeedPollDelay: 1s\n"))
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return ParseConfig(data)
}
