package config

import "time"

const (
	defaultConfigPath        = "~/.config/taxonmatch/config.toml"
	projectConfigName        = "taxonmatch.toml"
	defaultCacheDir          = "~/.cache/taxonmatch"
	defaultDiagnosticsDir    = "~/.local/share/taxonmatch/diagnostics"
	defaultLogDir            = "~/.local/share/taxonmatch/logs"
	defaultOverridesPath     = "~/.config/taxonmatch/overrides.csv"
	knmsCacheFile            = "knms.db"
	defaultMatchLevel        = LevelFull
	defaultWorkers           = 4
	defaultNameColumn        = "name"
	defaultKNMSBaseURL       = "http://namematch.science.kew.org/api/v2/powo/match"
	defaultKNMSTimeout       = 120
	defaultKNMSRate          = 1.0
	defaultKNMSBatchSize     = 0
	defaultKNMSRetryAttempts = 0
	defaultKNMSRetryBackoff  = 30
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Match levels select how many stages a resolution run executes.
const (
	LevelFull   = "full"
	LevelKNMS   = "knms"
	LevelDirect = "direct"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			Overrides:      defaultOverridesPath,
			CacheDir:       defaultCacheDir,
			DiagnosticsDir: defaultDiagnosticsDir,
			LogDir:         defaultLogDir,
		},
		Matching: Matching{
			Level:        defaultMatchLevel,
			Workers:      defaultWorkers,
			DropStatuses: []string{"Local Biotype"},
			NameColumn:   defaultNameColumn,
		},
		KNMS: KNMS{
			Enabled:             true,
			BaseURL:             defaultKNMSBaseURL,
			TimeoutSeconds:      defaultKNMSTimeout,
			RequestsPerSecond:   defaultKNMSRate,
			BatchSize:           defaultKNMSBatchSize,
			CacheEnabled:        true,
			RetryAttempts:       defaultKNMSRetryAttempts,
			RetryBackoffSeconds: defaultKNMSRetryBackoff,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// KNMSTimeout returns the per-request timeout for the match service.
func (c *Config) KNMSTimeout() time.Duration {
	return time.Duration(c.KNMS.TimeoutSeconds) * time.Second
}

// KNMSRetryBackoff returns the base delay between retries of failed batches.
func (c *Config) KNMSRetryBackoff() time.Duration {
	return time.Duration(c.KNMS.RetryBackoffSeconds) * time.Second
}
