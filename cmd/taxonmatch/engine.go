package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"taxonmatch/internal/config"
	"taxonmatch/internal/knms"
	"taxonmatch/internal/logging"
	"taxonmatch/internal/metrics"
	"taxonmatch/internal/overrides"
	"taxonmatch/internal/resolve"
	"taxonmatch/internal/services"
	"taxonmatch/internal/taxa"
)

// engine bundles everything a resolution run needs.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	index    *taxa.Index
	report   taxa.BuildReport
	resolver *resolve.Resolver
	metrics  *metrics.Recorder
	sink     *resolve.FileSink
	cache    *knms.Cache
}

// openEngine loads the checklist and wires the resolver. hintFamilies scope
// the checklist when no families of interest are configured.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, hintFamilies []string) (*engine, error) {
	checklist := strings.TrimSpace(cfg.Paths.Checklist)
	if checklist == "" {
		return nil, services.Wrap(services.ErrConfiguration, "cli", "open checklist",
			"paths.checklist is not set (or export TAXONMATCH_CHECKLIST)", nil)
	}

	families := cfg.Matching.FamiliesOfInterest
	if len(families) == 0 && len(hintFamilies) > 0 {
		families = hintFamilies
		logger.Info("scoping checklist to input families", logging.Strings("families", families))
	}

	started := time.Now()
	index, report, err := taxa.LoadFile(ctx, checklist, taxa.BuildOptions{
		DropStatuses:       cfg.Matching.DropStatuses,
		FamiliesOfInterest: families,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	if report.Indexed == 0 {
		logging.WarnWithContext(logger, "checklist indexed no records", "checklist_empty",
			logging.String("path", checklist),
			logging.String(logging.FieldErrorHint, "check paths.checklist and families_of_interest"),
			logging.String(logging.FieldImpact, "every submission will be unresolved"),
		)
	}

	eng := &engine{
		cfg:     cfg,
		logger:  logger,
		index:   index,
		report:  report,
		metrics: metrics.New(),
	}
	eng.metrics.ObserveStage("index", time.Since(started))

	opts := resolve.Options{
		Level:              cfg.Matching.Level,
		Workers:            cfg.Matching.Workers,
		FamiliesOfInterest: cfg.Matching.FamiliesOfInterest,
		Overrides:          overrides.NewTable(cfg.Paths.Overrides, logger),
		Metrics:            eng.metrics,
		Logger:             logger,
	}
	if dir := strings.TrimSpace(cfg.Paths.DiagnosticsDir); dir != "" {
		eng.sink = resolve.NewFileSink(dir, logger)
		opts.Sink = eng.sink
	}
	if cfg.KNMS.Enabled && cfg.Matching.Level != config.LevelDirect {
		service, err := eng.openKNMS(ctx)
		if err != nil {
			return nil, err
		}
		opts.External = service
	}

	resolver, err := resolve.New(index, opts)
	if err != nil {
		eng.Close()
		return nil, err
	}
	eng.resolver = resolver
	return eng, nil
}

func (e *engine) openKNMS(ctx context.Context) (*knms.Service, error) {
	client, err := knms.NewClient(e.cfg.KNMS.BaseURL,
		knms.WithRate(e.cfg.KNMS.RequestsPerSecond),
		knms.WithTimeout(e.cfg.KNMSTimeout()),
		knms.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	if path := e.cfg.KNMSCachePath(); path != "" {
		cache, err := knms.OpenCache(ctx, path, e.logger)
		switch {
		case errors.Is(err, knms.ErrSchemaMismatch):
			return nil, services.Wrap(services.ErrConfiguration, "cli", "open knms cache",
				fmt.Sprintf("%s was written by another version; run `taxonmatch cache clear`", path), err)
		case err != nil:
			logging.WarnWithContext(e.logger, "knms cache unavailable", "knms_cache_open_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "every pending name is sent to the match service"),
			)
		default:
			e.cache = cache
			e.logger.Debug("knms cache opened", logging.String("path", cache.Path()))
		}
	}
	return knms.NewService(client, knms.ServiceOptions{
		BatchSize: e.cfg.KNMS.BatchSize,
		Cache:     e.cache,
		Logger:    e.logger,
	}), nil
}

// resolve runs the resolver and retries pending_retry keys as configured.
func (e *engine) resolve(ctx context.Context, subs []resolve.Submission) (*resolve.Result, error) {
	result, err := e.resolver.Resolve(ctx, subs)
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, e.logger)
	for attempt := 1; attempt <= e.cfg.KNMS.RetryAttempts && result.HasPendingRetry(); attempt++ {
		delay := retryDelay(e.cfg.KNMSRetryBackoff(), attempt, result.Errors)
		logger.Info("retrying pending submissions",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", e.cfg.KNMS.RetryAttempts),
			logging.Int("pending_retry", result.Counts().PendingRetry),
			logging.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if err := e.resolver.Resume(ctx, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// retryDelay grows linearly with the attempt and honours any Retry-After
// the service sent.
func retryDelay(base time.Duration, attempt int, errs []resolve.StageError) time.Duration {
	delay := base * time.Duration(attempt)
	for _, stageErr := range errs {
		if after, ok := knms.RetryAfter(stageErr.Err); ok && after > delay {
			delay = after
		}
	}
	return delay
}

// finish writes the metrics textfile when configured.
func (e *engine) finish() {
	path := strings.TrimSpace(e.cfg.Metrics.Textfile)
	if path == "" {
		return
	}
	expanded, err := config.ExpandPath(path)
	if err == nil {
		err = e.metrics.WriteTextfile(expanded)
	}
	if err != nil {
		logging.WarnWithContext(e.logger, "failed to write metrics textfile", "metrics_write_failed",
			logging.String("path", path),
			logging.Error(err),
		)
	}
}

func (e *engine) Close() {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Warn("failed to close knms cache", logging.Error(err))
		}
	}
}

// hintFamilies returns the distinct family hints of subs, sorted.
func hintFamilies(subs []resolve.Submission) []string {
	var out []string
	for _, sub := range subs {
		if sub.Family != "" && !slices.Contains(out, sub.Family) {
			out = append(out, sub.Family)
		}
	}
	slices.Sort(out)
	return out
}
