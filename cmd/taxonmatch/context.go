package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"taxonmatch/internal/config"
	"taxonmatch/internal/logging"
)

const skipConfigAnnotation = "skipConfigLoad"

// commandContext lazily loads configuration and the logger once per process
// so every subcommand sees the same values.
type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	ensureConfig func() (*config.Config, error)
	ensureLogger func() (*slog.Logger, error)
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	c := &commandContext{configFlag: configFlag, logLevelFlag: logLevelFlag}
	c.ensureConfig = sync.OnceValues(c.loadConfig)
	c.ensureLogger = sync.OnceValues(func() (*slog.Logger, error) {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		return logger, nil
	})
	return c
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	cfg, _, _, err := config.Load(flagValue(c.configFlag))
	if err != nil {
		return nil, err
	}
	if level := strings.ToLower(flagValue(c.logLevelFlag)); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func flagValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}
