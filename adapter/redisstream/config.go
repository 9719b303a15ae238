package redisstream

import (
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Config for the Redis Streams binder. Field tags are the keys accepted by
// ConfigFromMap.
type Config struct {
	// Connection
	Addr          string `mapstructure:"addr"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	TLS           bool   `mapstructure:"tls"`
	TLSServerName string `mapstructure:"tls_server_name"`

	// Consumer group
	Group       string        `mapstructure:"group"`
	Consumer    string        `mapstructure:"consumer"`
	StartID     string        `mapstructure:"start_id"` // where a new group starts reading; "$" = only new entries
	Concurrency int           `mapstructure:"concurrency"`
	BatchSize   int           `mapstructure:"batch_size"`
	Block       time.Duration `mapstructure:"block"`
	AutoCreate  bool          `mapstructure:"auto_create"`
	AckTimeout  time.Duration `mapstructure:"ack_timeout"`

	// Stream management
	AutoDeleteOnAck bool   `mapstructure:"auto_delete_on_ack"`
	DeadLetter      string `mapstructure:"dead_letter"`
	MaxLenApprox    int64  `mapstructure:"max_len_approx"`

	// Pending entry recovery
	ClaimMinIdle  time.Duration `mapstructure:"claim_min_idle"`
	ClaimBatch    int           `mapstructure:"claim_batch"`
	ClaimInterval time.Duration `mapstructure:"claim_interval"`
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xstream"
	}

	return Config{
		Addr:          "127.0.0.1:6379",
		Group:         "xstream",
		Consumer:      fmt.Sprintf("xstream-%s-%d", hostname, os.Getpid()),
		StartID:       "$",
		Concurrency:   4,
		BatchSize:     64,
		Block:         2 * time.Second,
		AutoCreate:    true,
		AckTimeout:    5 * time.Second,
		ClaimBatch:    64,
		ClaimInterval: 15 * time.Second,
	}
}

// Validate checks Config before a client is created.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.ClaimMinIdle > 0 && c.ClaimInterval <= 0 {
		return fmt.Errorf("config: claim_interval must be > 0 if claim_min_idle is set")
	}
	return nil
}

// ConfigFromMap overlays m (e.g. a koanf subtree) on Defaults. Numbers,
// booleans and durations may be given as strings, which is what env
// providers produce. Unknown keys are rejected.
func ConfigFromMap(m map[string]any) (Config, error) {
	c := Defaults()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &c,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}
