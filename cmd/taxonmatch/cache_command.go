package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"taxonmatch/internal/knms"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the KNMS result cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx), newCacheClearCommand(ctx))
	return cacheCmd
}

// errNoCache reports that the cache file has not been written yet.
var errNoCache = errors.New("knms cache not created yet")

// openExistingCache opens the configured cache without creating it. It
// returns an empty path when caching is disabled.
func openExistingCache(cmdCtx context.Context, ctx *commandContext) (*knms.Cache, string, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, "", err
	}
	path := cfg.KNMSCachePath()
	if path == "" {
		return nil, "", nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, path, errNoCache
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return nil, path, err
	}
	cache, err := knms.OpenCache(cmdCtx, path, logger)
	return cache, path, err
}

const cacheDisabled = "KNMS cache is disabled (set knms.cache_enabled = true and paths.cache_dir)"

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show KNMS cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cache, path, err := openExistingCache(cmd.Context(), ctx)
			switch {
			case errors.Is(err, errNoCache):
				fmt.Fprintf(out, "Cache:   %s (not created yet)\n", path)
				return nil
			case err != nil:
				return err
			case cache == nil:
				fmt.Fprintln(out, cacheDisabled)
				return nil
			}
			defer cache.Close()

			stats, err := cache.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printCacheStats(out, stats, fileSize(path))
			return nil
		},
	}
}

func printCacheStats(out io.Writer, stats knms.Stats, size int64) {
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Local().Format("2006-01-02 15:04")
	}
	for _, line := range [][2]string{
		{"Cache", stats.Path},
		{"Size", humanBytes(size)},
		{"Batches", strconv.Itoa(stats.Batches)},
		{"Names", fmt.Sprintf("%d (%d rows)", stats.Names, stats.Rows)},
		{"Oldest", stamp(stats.Oldest)},
		{"Newest", stamp(stats.Newest)},
	} {
		fmt.Fprintf(out, "%-8s %s\n", line[0]+":", line[1])
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached KNMS response",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cache, path, err := openExistingCache(cmd.Context(), ctx)
			switch {
			case errors.Is(err, errNoCache):
				fmt.Fprintln(out, "KNMS cache is already empty")
				return nil
			case errors.Is(err, knms.ErrSchemaMismatch):
				// An older layout cannot be opened; drop the files instead.
				if err := removeCacheFiles(path); err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed outdated KNMS cache %s\n", path)
				return nil
			case err != nil:
				return err
			case cache == nil:
				fmt.Fprintln(out, cacheDisabled)
				return nil
			}
			defer cache.Close()

			before, err := cache.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if err := cache.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "Cleared %d cached batches (%d names)\n", before.Batches, before.Names)
			return nil
		},
	}
}

func removeCacheFiles(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path+suffix, err)
		}
	}
	return nil
}

func fileSize(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 0
}

func humanBytes(v int64) string {
	const unit = 1024
	if v < unit {
		return strconv.FormatInt(v, 10) + " B"
	}
	value, exp := float64(v)/unit, 0
	for value >= unit && exp < 7 {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", value, "KMGTPEZY"[exp])
}
