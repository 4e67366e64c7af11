package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMatching()
	c.normalizeKNMS()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.Checklist) == "" {
		if value, ok := os.LookupEnv("TAXONMATCH_CHECKLIST"); ok {
			c.Paths.Checklist = strings.TrimSpace(value)
		}
	}
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.checklist", &c.Paths.Checklist},
		{"paths.overrides", &c.Paths.Overrides},
		{"paths.cache_dir", &c.Paths.CacheDir},
		{"paths.diagnostics_dir", &c.Paths.DiagnosticsDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, f := range fields {
		expanded, err := expandPath(strings.TrimSpace(*f.value))
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.value = expanded
	}
	return nil
}

func (c *Config) normalizeMatching() {
	c.Matching.Level = strings.ToLower(strings.TrimSpace(c.Matching.Level))
	if c.Matching.Level == "" {
		c.Matching.Level = defaultMatchLevel
	}
	if c.Matching.Workers == 0 {
		c.Matching.Workers = defaultWorkers
	}
	c.Matching.FamiliesOfInterest = trimList(c.Matching.FamiliesOfInterest)
	c.Matching.DropStatuses = trimList(c.Matching.DropStatuses)
	c.Matching.NameColumn = strings.TrimSpace(c.Matching.NameColumn)
	if c.Matching.NameColumn == "" {
		c.Matching.NameColumn = defaultNameColumn
	}
	c.Matching.FamilyColumn = strings.TrimSpace(c.Matching.FamilyColumn)
}

func (c *Config) normalizeKNMS() {
	if value, ok := os.LookupEnv("TAXONMATCH_KNMS_URL"); ok && strings.TrimSpace(value) != "" {
		c.KNMS.BaseURL = strings.TrimSpace(value)
	}
	c.KNMS.BaseURL = strings.TrimSpace(c.KNMS.BaseURL)
	if c.KNMS.BaseURL == "" {
		c.KNMS.BaseURL = defaultKNMSBaseURL
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func trimList(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
