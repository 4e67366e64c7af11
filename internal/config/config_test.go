package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"taxonmatch/internal/config"
	"taxonmatch/internal/services"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	if want := filepath.Join(tempHome, ".cache", "taxonmatch"); cfg.Paths.CacheDir != want {
		t.Fatalf("unexpected cache dir: got %q want %q", cfg.Paths.CacheDir, want)
	}
	if cfg.Matching.Level != config.LevelFull {
		t.Fatalf("unexpected default level %q", cfg.Matching.Level)
	}
	if cfg.KNMS.BaseURL != config.Default().KNMS.BaseURL {
		t.Fatalf("unexpected knms url %q", cfg.KNMS.BaseURL)
	}
	if got := cfg.KNMSCachePath(); got != filepath.Join(cfg.Paths.CacheDir, "knms.db") {
		t.Fatalf("unexpected cache path %q", got)
	}
	if len(cfg.Matching.DropStatuses) != 1 || cfg.Matching.DropStatuses[0] != "Local Biotype" {
		t.Fatalf("unexpected drop statuses %v", cfg.Matching.DropStatuses)
	}
}

func TestLoadHonoursEnvironmentFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	checklist := filepath.Join(t.TempDir(), "wcvp_names.csv")
	t.Setenv("TAXONMATCH_CHECKLIST", checklist)
	t.Setenv("TAXONMATCH_KNMS_URL", "http://127.0.0.1:9999/match")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.Checklist != checklist {
		t.Fatalf("expected checklist from env, got %q", cfg.Paths.Checklist)
	}
	if cfg.KNMS.BaseURL != "http://127.0.0.1:9999/match" {
		t.Fatalf("expected knms url from env, got %q", cfg.KNMS.BaseURL)
	}
}

func TestLoadCustomFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
cache_dir = "~/tm-cache"

[matching]
level = "DIRECT"
workers = 2
families_of_interest = ["Rubiaceae", " Rubiaceae ", "Apocynaceae"]
family_column = "family"

[knms]
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s to be used", path)
	}
	if cfg.Matching.Level != config.LevelDirect {
		t.Fatalf("expected level lowered to direct, got %q", cfg.Matching.Level)
	}
	if got := cfg.Matching.FamiliesOfInterest; len(got) != 2 || got[0] != "Rubiaceae" || got[1] != "Apocynaceae" {
		t.Fatalf("unexpected families %v", got)
	}
	if !strings.HasSuffix(cfg.Paths.CacheDir, "tm-cache") {
		t.Fatalf("unexpected cache dir %q", cfg.Paths.CacheDir)
	}
	if cfg.Matching.FamilyColumn != "family" {
		t.Fatalf("unexpected family column %q", cfg.Matching.FamilyColumn)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"level", func(c *config.Config) { c.Matching.Level = "fuzzy" }, "matching.level"},
		{"workers", func(c *config.Config) { c.Matching.Workers = -1 }, "matching.workers"},
		{"columns", func(c *config.Config) { c.Matching.FamilyColumn = c.Matching.NameColumn }, "matching.family_column"},
		{"knms url", func(c *config.Config) { c.KNMS.BaseURL = "not a url" }, "knms.base_url"},
		{"knms timeout", func(c *config.Config) { c.KNMS.TimeoutSeconds = 0 }, "knms.timeout_seconds"},
		{"batch", func(c *config.Config) { c.KNMS.BatchSize = -5 }, "knms.batch_size"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration marker, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestDisabledKNMSSkipsURLValidation(t *testing.T) {
	cfg := config.Default()
	cfg.KNMS.Enabled = false
	cfg.KNMS.BaseURL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled knms to skip validation, got %v", err)
	}
}

func TestSampleConfigDecodesAndValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid toml: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.DiagnosticsDir = filepath.Join(base, "diag")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.CacheDir, cfg.Paths.DiagnosticsDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}
