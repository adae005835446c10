package config

import "time"

// Defaults applied when the config file or a field is absent.
const (
	DefaultURL           = "http://127.0.0.1:4096"
	DefaultUsername      = "opencode"
	DefaultCommand       = "opencode"
	DefaultMaxReconnects = 3
	DefaultMaxAttempts   = 3

	DefaultBaseDelay      = 250 * time.Millisecond
	DefaultMaxDelay       = 2 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultHealthWait     = 15 * time.Second
)

// Config is the top-level opencode-mcp configuration.
type Config struct {
	// Backend connection
	URL      string            `toml:"url"`
	Username string            `toml:"username"`
	Password string            `toml:"password"`
	Headers  map[string]string `toml:"headers"`

	// Backend process supervision
	AutoStart     *bool    `toml:"auto_start"`
	Command       string   `toml:"command"`
	Args          []string `toml:"args"`
	MaxReconnects *int     `toml:"max_reconnects"`

	Retry    RetryConfig   `toml:"retry"`
	Timeouts TimeoutConfig `toml:"timeouts"`
}

// RetryConfig controls the transport's backoff policy.
// Durations are TOML strings ("250ms", "2s").
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
}

// TimeoutConfig bounds every network operation the bridge performs.
type TimeoutConfig struct {
	Request    string `toml:"request"`
	Connect    string `toml:"connect"`
	HealthWait string `toml:"health_wait"`
}

// AutoStartEnabled reports whether the supervisor may launch the backend.
// Enabled unless explicitly turned off.
func (c *Config) AutoStartEnabled() bool {
	return c.AutoStart == nil || *c.AutoStart
}

// ReconnectCeiling returns the reconnection budget for the process lifetime.
func (c *Config) ReconnectCeiling() int {
	if c.MaxReconnects == nil || *c.MaxReconnects < 0 {
		return DefaultMaxReconnects
	}
	return *c.MaxReconnects
}

// MaxAttempts returns the per-call attempt ceiling.
func (c *Config) MaxAttempts() int {
	if c.Retry.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return c.Retry.MaxAttempts
}

// BaseDelay returns the first retry delay.
func (c *Config) BaseDelay() time.Duration {
	return durationOr(c.Retry.BaseDelay, DefaultBaseDelay)
}

// MaxDelay returns the backoff cap.
func (c *Config) MaxDelay() time.Duration {
	return durationOr(c.Retry.MaxDelay, DefaultMaxDelay)
}

// RequestTimeout bounds one HTTP attempt end to end.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Timeouts.Request, DefaultRequestTimeout)
}

// ConnectTimeout bounds dialing the backend, including SSE connects.
func (c *Config) ConnectTimeout() time.Duration {
	return durationOr(c.Timeouts.Connect, DefaultConnectTimeout)
}

// HealthWait bounds how long the supervisor waits for a launched backend
// to become reachable.
func (c *Config) HealthWait() time.Duration {
	return durationOr(c.Timeouts.HealthWait, DefaultHealthWait)
}

// BackendCommand returns the executable name or path used to launch the backend.
func (c *Config) BackendCommand() string {
	if c.Command == "" {
		return DefaultCommand
	}
	return c.Command
}

// BackendArgs returns the arguments passed when launching the backend.
func (c *Config) BackendArgs() []string {
	if len(c.Args) == 0 {
		return []string{"serve"}
	}
	return c.Args
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
