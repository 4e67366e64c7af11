package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"taxonmatch/internal/services"
)

// Validate ensures the configuration is usable. Failures carry the
// services.ErrConfiguration marker.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateMatching,
		c.validateKNMS,
		c.validateLogging,
	} {
		if err := check(); err != nil {
			return services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
		}
	}
	return nil
}

func (c *Config) validateMatching() error {
	switch c.Matching.Level {
	case LevelFull, LevelKNMS, LevelDirect:
	default:
		return fmt.Errorf("matching.level must be one of %s, %s, %s (got %q)", LevelFull, LevelKNMS, LevelDirect, c.Matching.Level)
	}
	if c.Matching.Workers < 0 {
		return errors.New("matching.workers must not be negative")
	}
	if c.Matching.NameColumn == "" {
		return errors.New("matching.name_column must be set")
	}
	if c.Matching.NameColumn == c.Matching.FamilyColumn {
		return errors.New("matching.family_column must differ from matching.name_column")
	}
	return nil
}

func (c *Config) validateKNMS() error {
	if !c.KNMS.Enabled {
		return nil
	}
	parsed, err := url.Parse(c.KNMS.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("knms.base_url must be an absolute URL (got %q)", c.KNMS.BaseURL)
	}
	if err := ensurePositive(map[string]int{
		"knms.timeout_seconds": c.KNMS.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.KNMS.RequestsPerSecond < 0 {
		return errors.New("knms.requests_per_second must not be negative")
	}
	if c.KNMS.BatchSize < 0 {
		return errors.New("knms.batch_size must not be negative")
	}
	if c.KNMS.RetryAttempts < 0 {
		return errors.New("knms.retry_attempts must not be negative")
	}
	if c.KNMS.RetryAttempts > 0 && c.KNMS.RetryBackoffSeconds < 0 {
		return errors.New("knms.retry_backoff_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func ensurePositive(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
