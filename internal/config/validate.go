package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks configuration invariants and returns actionable errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error

	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		u, err := url.ParseRequestURI(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("url: invalid URL %q: %w", raw, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("url: unsupported scheme %q, use http or https", u.Scheme))
		}
	}

	if cfg.Password != "" && strings.TrimSpace(cfg.Username) == "" {
		errs = append(errs, errors.New("username: required when password is set"))
	}

	if cfg.MaxReconnects != nil && *cfg.MaxReconnects < 0 {
		errs = append(errs, fmt.Errorf("max_reconnects: must be >= 0, got %d", *cfg.MaxReconnects))
	}
	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be >= 1, got %d", cfg.Retry.MaxAttempts))
	}

	errs = append(errs, validateDuration("retry.base_delay", cfg.Retry.BaseDelay)...)
	errs = append(errs, validateDuration("retry.max_delay", cfg.Retry.MaxDelay)...)
	errs = append(errs, validateDuration("timeouts.request", cfg.Timeouts.Request)...)
	errs = append(errs, validateDuration("timeouts.connect", cfg.Timeouts.Connect)...)
	errs = append(errs, validateDuration("timeouts.health_wait", cfg.Timeouts.HealthWait)...)

	return errors.Join(errs...)
}

func validateDuration(field, raw string) []error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)}
	}
	if d <= 0 {
		return []error{fmt.Errorf("%s: must be > 0, got %q", field, raw)}
	}
	return nil
}
