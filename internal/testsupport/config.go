package testsupport

import (
	"path/filepath"
	"testing"

	"taxonmatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The checklist fixture is written into the temp directory and the match
// service is disabled unless WithKNMS is applied.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Checklist = WriteChecklist(t, base)
	cfgVal.Paths.Overrides = filepath.Join(base, "overrides.csv")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.DiagnosticsDir = filepath.Join(base, "diagnostics")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Matching.Workers = 2
	cfgVal.KNMS.Enabled = false
	cfgVal.KNMS.RequestsPerSecond = 0
	cfgVal.KNMS.RetryBackoffSeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLevel sets the match level.
func WithLevel(level string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Matching.Level = level
	}
}

// WithKNMS enables the match service at baseURL.
func WithKNMS(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.KNMS.Enabled = true
		b.cfg.KNMS.BaseURL = baseURL
	}
}

// WithOverrides writes the given CSV content as the override table.
func WithOverrides(csv string) ConfigOption {
	return func(b *configBuilder) {
		WriteText(b.t, b.cfg.Paths.Overrides, csv)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
