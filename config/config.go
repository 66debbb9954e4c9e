// Package config defines the signal bus configuration: NATS connection
// settings, the bus namespace, and the per-channel tunables required to
// operate the three delivery contracts without code changes.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/HomoYouDidnt/kloros-sub007/errors"
)

// Config is the complete bus configuration. Durations are nanoseconds
// in JSON, matching time.Duration encoding.
type Config struct {
	// Namespace is the subject prefix isolating this bus instance.
	// Multiple buses with distinct namespaces can share one relay.
	Namespace string `json:"namespace"`

	NATS       NATSConfig       `json:"nats"`
	Reflex     ReflexConfig     `json:"reflex"`
	Affect     AffectConfig     `json:"affect"`
	Trophic    TrophicConfig    `json:"trophic"`
	Dedup      DedupConfig      `json:"dedup"`
	DeadLetter DeadLetterConfig `json:"dead_letter"`
	HTTP       HTTPConfig       `json:"http"`
}

// NATSConfig defines relay connection settings.
type NATSConfig struct {
	URL            string        `json:"url"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Token          string        `json:"token,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty"`
	MaxReconnects  int           `json:"max_reconnects,omitempty"`
	DrainTimeout   time.Duration `json:"drain_timeout,omitempty"`
	TLS            TLSConfig     `json:"tls,omitempty"`
}

// TLSConfig for secure relay connections.
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// ReflexConfig tunes the acknowledged channel.
type ReflexConfig struct {
	// AckTimeout bounds each delivery attempt.
	AckTimeout time.Duration `json:"ack_timeout"`
	// RetryCeiling is the maximum number of attempts before dead-lettering.
	RetryCeiling int `json:"retry_ceiling"`
	// BackoffBase is the delay after the first timeout, doubled per
	// attempt up to BackoffMax.
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffMax  time.Duration `json:"backoff_max"`
	// QueueGroup names the round-robin group consumers join. Consumers
	// registering under one group split the topic's traffic; the
	// default group makes all same-topic registrants alternates.
	QueueGroup string `json:"queue_group,omitempty"`
}

// AffectConfig tunes the broadcast channel.
type AffectConfig struct {
	// QueueCapacity bounds each subscriber's queue; overflow drops the
	// oldest queued envelope.
	QueueCapacity int `json:"queue_capacity"`
	// LastValueCache replays the most recent envelope per topic to
	// late subscribers.
	LastValueCache bool `json:"last_value_cache"`
}

// TrophicConfig tunes the batched work queue.
type TrophicConfig struct {
	// HighWaterMark is the shared queue depth at which publishers block.
	HighWaterMark int64 `json:"high_water_mark"`
	// BatchSize and BatchWait are the defaults for consume_batch.
	BatchSize int           `json:"batch_size"`
	BatchWait time.Duration `json:"batch_wait"`
	// SaturationRetry is how long a blocked publisher waits between
	// attempts while the queue is at the high-water mark.
	SaturationRetry time.Duration `json:"saturation_retry,omitempty"`
	// SpillToDisk stores the shared queue on disk so depth survives a
	// relay restart. A deployment choice, not a core requirement.
	SpillToDisk bool `json:"spill_to_disk"`
}

// DedupConfig tunes the per-consumer replay guard.
type DedupConfig struct {
	MaxEntries      int           `json:"max_entries"`
	RetentionWindow time.Duration `json:"retention_window"`
}

// DeadLetterConfig tunes the operator-facing dead-letter store.
type DeadLetterConfig struct {
	Capacity int `json:"capacity"`
}

// HTTPConfig configures the operator surface. An empty address
// disables the HTTP listener.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Namespace: "kloros",
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			ConnectTimeout: 5 * time.Second,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			DrainTimeout:   30 * time.Second,
		},
		Reflex: ReflexConfig{
			AckTimeout:   2 * time.Second,
			RetryCeiling: 3,
			BackoffBase:  100 * time.Millisecond,
			BackoffMax:   5 * time.Second,
		},
		Affect: AffectConfig{
			QueueCapacity:  100,
			LastValueCache: false,
		},
		Trophic: TrophicConfig{
			HighWaterMark:   10000,
			BatchSize:       64,
			BatchWait:       time.Second,
			SaturationRetry: 50 * time.Millisecond,
			SpillToDisk:     false,
		},
		Dedup: DedupConfig{
			MaxEntries:      4096,
			RetentionWindow: 10 * time.Minute,
		},
		DeadLetter: DeadLetterConfig{
			Capacity: 1024,
		},
		HTTP: HTTPConfig{
			Addr: ":9090",
		},
	}
}

// Validate checks the configuration for operability.
func (c *Config) Validate() error {
	c.Namespace = strings.ToLower(strings.TrimSpace(c.Namespace))
	if c.Namespace == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "namespace is required")
	}
	if !isValidSubjectToken(c.Namespace) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: namespace %q is not a valid subject token", errors.ErrInvalidConfig, c.Namespace),
			"config", "Validate", "check namespace")
	}

	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats.url is required")
	}

	if c.Reflex.AckTimeout <= 0 {
		return invalidField("reflex.ack_timeout must be positive")
	}
	if c.Reflex.RetryCeiling < 1 {
		return invalidField("reflex.retry_ceiling must be at least 1")
	}
	if c.Reflex.BackoffBase <= 0 || c.Reflex.BackoffMax < c.Reflex.BackoffBase {
		return invalidField("reflex backoff must satisfy 0 < base <= max")
	}

	if c.Affect.QueueCapacity < 1 {
		return invalidField("affect.queue_capacity must be at least 1")
	}

	if c.Trophic.HighWaterMark < 1 {
		return invalidField("trophic.high_water_mark must be at least 1")
	}
	if c.Trophic.BatchSize < 1 {
		return invalidField("trophic.batch_size must be at least 1")
	}
	if c.Trophic.BatchWait <= 0 {
		return invalidField("trophic.batch_wait must be positive")
	}
	if c.Trophic.SaturationRetry <= 0 {
		c.Trophic.SaturationRetry = 50 * time.Millisecond
	}

	if c.Dedup.MaxEntries < 1 {
		return invalidField("dedup.max_entries must be at least 1")
	}
	if c.Dedup.RetentionWindow <= 0 {
		return invalidField("dedup.retention_window must be positive")
	}

	if c.DeadLetter.Capacity < 1 {
		return invalidField("dead_letter.capacity must be at least 1")
	}

	if c.NATS.TLS.Enabled {
		if c.NATS.TLS.CertFile == "" || c.NATS.TLS.KeyFile == "" {
			return invalidField("nats.tls requires cert_file and key_file when enabled")
		}
	}

	return nil
}

func invalidField(msg string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
		"config", "Validate", "check tunables")
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// isValidSubjectToken reports whether s can stand as one NATS subject
// token: alphanumerics, dash, underscore.
func isValidSubjectToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
