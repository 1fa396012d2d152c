package engine

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine's structured, immutable-at-construction
// configuration (spec.md §6). It mirrors the teacher's
// internal/config.Config convention of a struct-of-structs with yaml
// tags, even though the core never reads a manifest file itself —
// LoadConfigFile is an optional convenience for the surrounding service.
type Config struct {
	Dedup     DedupConfig     `yaml:"dedup"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Ordering  OrderingConfig  `yaml:"ordering"`
	Timeout   TimeoutConfig   `yaml:"timeout"`
	Retry     RetryConfig     `yaml:"retry"`
	Transport TransportConfig `yaml:"transport"`
}

// DedupConfig configures the Deduplicator.
type DedupConfig struct {
	WindowMs        int64  `yaml:"window_ms"`
	MaxCacheSize    int    `yaml:"max_cache_size"`
	DigestAlgorithm string `yaml:"digest_algorithm"`
	// FingerprintWithIdentifier, when true (default), includes the
	// message identifier in the fingerprint per spec.md §9's open
	// question; set false for pure content-based dedup.
	FingerprintWithIdentifier bool `yaml:"fingerprint_with_identifier"`
}

// Window returns the configured dedup window as a time.Duration.
func (c DedupConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// RateLimitConfig configures the RateLimiter.
type RateLimitConfig struct {
	TokensPerSecond         int64 `yaml:"tokens_per_second"`
	Capacity                int64 `yaml:"capacity"`
	RecoveryCheckIntervalMs int64 `yaml:"recovery_check_interval_ms"`
}

// RecoveryCheckInterval returns the recovery poll interval.
func (c RateLimitConfig) RecoveryCheckInterval() time.Duration {
	return time.Duration(c.RecoveryCheckIntervalMs) * time.Millisecond
}

// LateSequencePolicy governs how the OrderingCoordinator treats a
// message whose sequence is behind the partition's nextExpected
// (spec.md §4.C, §9 open question).
type LateSequencePolicy string

const (
	// LateAsParked returns `parked` without enqueueing, matching the
	// literal spec text: the caller is expected to route the message to
	// a late-arrival or failure path itself.
	LateAsParked LateSequencePolicy = "parked"
	// LateAsFailure routes the message directly to FAIL instead of
	// leaving it to the caller.
	LateAsFailure LateSequencePolicy = "failure"
)

// OrderingConfig configures the OrderingCoordinator.
type OrderingConfig struct {
	OrderingKey         string             `yaml:"ordering_key"`
	MaxWaitMs           int64              `yaml:"max_wait_ms"`
	MaxPendingMessages  int                `yaml:"max_pending_messages"`
	Enabled             bool               `yaml:"enabled"`
	LateSequencePolicy  LateSequencePolicy `yaml:"late_sequence_policy"`
}

// MaxWait returns the configured max wait duration.
func (c OrderingConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// TimeoutConfig holds per-state timeout overrides, plus a fallback.
type TimeoutConfig struct {
	DedupChecking time.Duration `yaml:"dedup_checking"`
	RateLimiting  time.Duration `yaml:"rate_limiting"`
	Preprocessing time.Duration `yaml:"preprocessing"`
	Sending       time.Duration `yaml:"sending"`
	Sent          time.Duration `yaml:"sent"`
	OrderingWait  time.Duration `yaml:"ordering_wait"`
	Fallback      time.Duration `yaml:"fallback"`
}

// For returns the configured timeout for the given state, falling back
// to the fallback timeout for states without a specific override.
func (c TimeoutConfig) For(s State) time.Duration {
	switch s {
	case StateDedupChecking:
		return c.DedupChecking
	case StateRateLimiting:
		return c.RateLimiting
	case StatePreprocessing:
		return c.Preprocessing
	case StateSending:
		return c.Sending
	case StateSent:
		return c.Sent
	case StateOrderingWait:
		return c.OrderingWait
	default:
		return c.Fallback
	}
}

// RetryConfig configures the retry sub-loop.
type RetryConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	MaxRetries        int           `yaml:"max_retries"`
}

// Delay returns the backoff delay for the given (zero-based) retry
// attempt, capped at MaxDelay.
func (c RetryConfig) Delay(retryCount int) time.Duration {
	delay := float64(c.BaseDelay)
	for i := 0; i < retryCount; i++ {
		delay *= c.BackoffMultiplier
	}
	capped := time.Duration(delay)
	if capped > c.MaxDelay {
		capped = c.MaxDelay
	}
	return capped
}

// TransportConfig governs whether the Scheduler simulates SENDING/SENT
// completion itself (spec.md §9 open question: "auto-advance ... must
// be replaced with a transport callback") or defers to a registered
// Transport collaborator.
type TransportConfig struct {
	// Simulated, when true (default), makes the Scheduler fire SENT and
	// CONFIRM on its own auto-advance tick, matching the reference path
	// described in spec.md. When false, the Processor must have a
	// Transport registered and the Scheduler leaves SENDING/SENT for the
	// transport's callback to resolve.
	Simulated bool `yaml:"simulated"`
}

// DefaultConfig returns the spec.md §6 default configuration.
func DefaultConfig() Config {
	return Config{
		Dedup: DedupConfig{
			WindowMs:                  300_000,
			MaxCacheSize:              100_000,
			DigestAlgorithm:           "SHA-256",
			FingerprintWithIdentifier: true,
		},
		RateLimit: RateLimitConfig{
			TokensPerSecond:         100,
			Capacity:                200,
			RecoveryCheckIntervalMs: 100,
		},
		Ordering: OrderingConfig{
			OrderingKey:        "default",
			MaxWaitMs:          5_000,
			MaxPendingMessages: 1_000,
			Enabled:            false,
			LateSequencePolicy: LateAsParked,
		},
		Timeout: TimeoutConfig{
			DedupChecking: 5_000 * time.Millisecond,
			RateLimiting:  3_000 * time.Millisecond,
			Preprocessing: 10_000 * time.Millisecond,
			Sending:       30_000 * time.Millisecond,
			Sent:          60_000 * time.Millisecond,
			OrderingWait:  15_000 * time.Millisecond,
			Fallback:      30_000 * time.Millisecond,
		},
		Retry: RetryConfig{
			BaseDelay:         1_000 * time.Millisecond,
			BackoffMultiplier: 2.0,
			MaxDelay:          60_000 * time.Millisecond,
			MaxRetries:        3,
		},
		Transport: TransportConfig{
			Simulated: true,
		},
	}
}

// getEnvInt64 reads an int64 environment variable, returning defaultValue
// when unset or unparsable, mirroring the teacher's getEnv* helper
// convention in internal/config/config.go.
func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool reads a boolean environment variable, returning
// defaultValue when unset or unparsable.
func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ApplyEnvOverrides overlays a handful of operationally hot knobs from
// the environment onto a copy of cfg, following the teacher's
// getEnv-prefixed override pattern. Only the most commonly tuned
// settings are exposed this way; the rest of the struct is expected to
// be set programmatically or via LoadConfigFile.
func ApplyEnvOverrides(cfg Config) Config {
	cfg.Dedup.WindowMs = getEnvInt64("MSGFLOW_DEDUP_WINDOW_MS", cfg.Dedup.WindowMs)
	cfg.RateLimit.TokensPerSecond = getEnvInt64("MSGFLOW_RATE_LIMIT_TOKENS_PER_SECOND", cfg.RateLimit.TokensPerSecond)
	cfg.RateLimit.Capacity = getEnvInt64("MSGFLOW_RATE_LIMIT_CAPACITY", cfg.RateLimit.Capacity)
	cfg.Ordering.Enabled = getEnvBool("MSGFLOW_ORDERING_ENABLED", cfg.Ordering.Enabled)
	cfg.Transport.Simulated = getEnvBool("MSGFLOW_TRANSPORT_SIMULATED", cfg.Transport.Simulated)
	return cfg
}

// LoadConfigFile reads a yaml-encoded Config from path, starting from
// DefaultConfig so omitted fields keep their defaults. The core never
// calls this itself (spec.md §6: "No wire protocol, CLI, file format...
// is part of the core") — it exists for the surrounding service that
// wires an engine.Processor together.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
