// Package config loads cache policies from QCACHE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/unkn0wn-root/qcache"
)

// Config mirrors qcache.Options for the parts that make sense to tune per
// deployment.
type Config struct {
	// Defaults for every resource class.
	StaleAfter         time.Duration `env:"STALE_AFTER" envDefault:"10m"`
	RetainFor          time.Duration `env:"RETAIN_FOR" envDefault:"15m"`
	RefetchOnMount     bool          `env:"REFETCH_ON_MOUNT" envDefault:"true"`
	RefetchOnReconnect bool          `env:"REFETCH_ON_RECONNECT" envDefault:"false"`
	RefetchOnFocus     bool          `env:"REFETCH_ON_FOCUS" envDefault:"false"`

	// Per-class overrides, e.g. QCACHE_CLASS_STALE_AFTER=appointments:0s,staff:1h
	ClassStaleAfter map[string]time.Duration `env:"CLASS_STALE_AFTER" envKeyValSeparator:":"`
	ClassRetainFor  map[string]time.Duration `env:"CLASS_RETAIN_FOR" envKeyValSeparator:":"`
	ClassPoll       map[string]time.Duration `env:"CLASS_POLL" envKeyValSeparator:":"`
	// Classes that also refetch on reconnect and focus.
	LiveClasses []string `env:"LIVE_CLASSES" envSeparator:","`

	Retry Retry `envPrefix:"RETRY_"`
}

type Retry struct {
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"1"`
	InitialInterval time.Duration `env:"INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"MAX_INTERVAL" envDefault:"10s"`
}

const prefix = "QCACHE_"

// Load reads the process environment.
func Load() (*Config, error) {
	return LoadFrom(env.ToMap(os.Environ()))
}

// LoadFrom reads the given environment instead of the process one.
func LoadFrom(environment map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix, Environment: environment}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StaleAfter < 0 || c.RetainFor < 0 {
		return fmt.Errorf("config: %sSTALE_AFTER and %sRETAIN_FOR must not be negative", prefix, prefix)
	}
	for _, m := range []map[string]time.Duration{c.ClassStaleAfter, c.ClassRetainFor, c.ClassPoll} {
		for class, d := range m {
			if class == "" {
				return fmt.Errorf("config: empty resource class")
			}
			if d < 0 {
				return fmt.Errorf("config: negative duration for class %q", class)
			}
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: %sRETRY_MAX_ATTEMPTS must be >= 1, got %d", prefix, c.Retry.MaxAttempts)
	}
	return nil
}

// DefaultPolicy is the policy of classes without overrides.
func (c *Config) DefaultPolicy() qcache.Policy {
	return qcache.Policy{
		StaleAfter:         c.StaleAfter,
		RetainFor:          c.RetainFor,
		RefetchOnMount:     c.RefetchOnMount,
		RefetchOnReconnect: c.RefetchOnReconnect,
		RefetchOnFocus:     c.RefetchOnFocus,
	}
}

// Policies returns one policy per class that has any override.
func (c *Config) Policies() map[string]qcache.Policy {
	out := make(map[string]qcache.Policy)
	get := func(class string) qcache.Policy {
		if p, ok := out[class]; ok {
			return p
		}
		return c.DefaultPolicy()
	}
	for class, d := range c.ClassStaleAfter {
		p := get(class)
		p.StaleAfter = d
		out[class] = p
	}
	for class, d := range c.ClassRetainFor {
		p := get(class)
		p.RetainFor = d
		out[class] = p
	}
	for class, d := range c.ClassPoll {
		p := get(class)
		p.PollInterval = d
		out[class] = p
	}
	for _, class := range c.LiveClasses {
		class = strings.TrimSpace(class)
		if class == "" {
			continue
		}
		p := get(class)
		p.RefetchOnReconnect = true
		p.RefetchOnFocus = true
		out[class] = p
	}
	return out
}

// RetryPolicy is NoRetry for a single attempt, exponential backoff otherwise.
func (c *Config) RetryPolicy() qcache.RetryPolicy {
	if c.Retry.MaxAttempts <= 1 {
		return qcache.NoRetry{}
	}
	return qcache.ExponentialRetry{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

// Apply copies the loaded settings into opts, keeping everything else. A
// class overridden in the environment replaces the policy opts had for it.
func (c *Config) Apply(opts qcache.Options) qcache.Options {
	opts.DefaultPolicy = c.DefaultPolicy()
	merged := make(map[string]qcache.Policy, len(opts.Policies))
	for class, p := range opts.Policies {
		merged[class] = p
	}
	for class, p := range c.Policies() {
		merged[class] = p
	}
	opts.Policies = merged
	opts.Retry = c.RetryPolicy()
	return opts
}
