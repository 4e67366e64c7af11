package knms

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/names"
	"taxonmatch/internal/services"
)

// Service answers name batches from the cache and the match service.
type Service struct {
	matcher   Matcher
	cache     *Cache
	batchSize int
	logger    *slog.Logger
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// BatchSize caps the names per request. Zero sends everything at once.
	BatchSize int
	// Cache is optional.
	Cache  *Cache
	Logger *slog.Logger
}

// BatchFailure records a batch the service could not answer.
type BatchFailure struct {
	Names []string
	Err   error
}

// Outcome is the merged answer for one Match call.
type Outcome struct {
	// Rows holds response rows per submitted name. Names the service did not
	// mention are absent.
	Rows map[string][]Row
	// Skipped lists names never sent because they contain non-Latin letters.
	Skipped   []string
	Failures  []BatchFailure
	CacheHits int
	Requests  int
	Stored    int
}

// NewService wires a matcher with an optional cache.
func NewService(matcher Matcher, opts ServiceOptions) *Service {
	return &Service{
		matcher:   matcher,
		cache:     opts.Cache,
		batchSize: opts.BatchSize,
		logger:    logging.NewComponentLogger(opts.Logger, "knms"),
	}
}

// Match resolves names through the cache first, then through the match
// service in batches. A failed batch is recorded in Outcome.Failures and the
// remaining batches still run. Only context cancellation is returned as an
// error.
func (s *Service) Match(ctx context.Context, submitted []string) (*Outcome, error) {
	outcome := &Outcome{Rows: make(map[string][]Row)}

	pending := make([]string, 0, len(submitted))
	seen := make(map[string]struct{}, len(submitted))
	for _, name := range submitted {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if !names.OnlyLatin(name) {
			outcome.Skipped = append(outcome.Skipped, name)
			continue
		}
		pending = append(pending, name)
	}
	if len(outcome.Skipped) > 0 {
		logging.WarnWithContext(s.logger, "names with non-Latin letters not sent to knms",
			"knms_non_latin_skipped",
			logging.Int("count", len(outcome.Skipped)),
			logging.String(logging.FieldErrorHint, "transliterate names or add manual overrides"),
			logging.String(logging.FieldImpact, "these names continue to auto-resolution"),
		)
	}

	pending = s.fromCache(ctx, pending, outcome)
	if len(pending) == 0 {
		return outcome, nil
	}

	if s.cache != nil {
		unlock, err := s.cache.Lock(ctx)
		switch {
		case err == nil:
			defer unlock()
			// another run may have filled the cache while we waited
			pending = s.fromCache(ctx, pending, outcome)
		case ctx.Err() != nil:
			return outcome, ctx.Err()
		default:
			logging.WarnWithContext(s.logger, "knms cache lock unavailable", "knms_cache_lock_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "batches are sent without holding the cache lock"),
			)
		}
	}

	for _, batch := range s.batches(pending) {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		outcome.Requests++
		batchCtx := services.WithRequestID(ctx, uuid.NewString())
		logger := logging.WithContext(batchCtx, s.logger)
		rows, err := s.matcher.Match(batchCtx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcome, ctxErr
			}
			outcome.Failures = append(outcome.Failures, BatchFailure{Names: batch, Err: err})
			logging.WarnWithContext(logger, "knms batch failed", "knms_batch_failed",
				logging.Int("names", len(batch)),
				logging.String("error_category", services.Category(err)),
				logging.Bool("retryable", services.Retryable(err)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check service availability or lower batch_size"),
				logging.String(logging.FieldImpact, "batch names were not matched externally"),
			)
			continue
		}
		for name, group := range GroupBySubmitted(rows) {
			outcome.Rows[name] = group
		}
		if AllNoMatch(rows) {
			logging.WarnWithContext(logger, "knms returned no matches for a whole batch", "knms_all_false",
				logging.Int("names", len(batch)),
				logging.String(logging.FieldErrorHint, "this can indicate service trouble; results were not cached"),
			)
		}
		if s.cache != nil {
			stored, err := s.cache.Store(ctx, batch, rows)
			if err != nil {
				logging.WarnWithContext(logger, "failed to cache knms batch", "knms_cache_store_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "the batch will be requested again next run"),
				)
			} else if stored {
				outcome.Stored++
			}
		}
	}
	return outcome, nil
}

func (s *Service) fromCache(ctx context.Context, pending []string, outcome *Outcome) []string {
	if s.cache == nil || len(pending) == 0 {
		return pending
	}
	cached, err := s.cache.Lookup(ctx, pending)
	if err != nil {
		logging.WarnWithContext(s.logger, "knms cache lookup failed", "knms_cache_lookup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "names are requested from the service"),
		)
		return pending
	}
	remaining := pending[:0:0]
	for _, name := range pending {
		if rows, ok := cached[name]; ok {
			outcome.Rows[name] = rows
			outcome.CacheHits++
			continue
		}
		remaining = append(remaining, name)
	}
	return remaining
}

func (s *Service) batches(names []string) [][]string {
	if s.batchSize <= 0 || len(names) <= s.batchSize {
		return [][]string{names}
	}
	out := make([][]string, 0, len(names)/s.batchSize+1)
	for start := 0; start < len(names); start += s.batchSize {
		out = append(out, names[start:min(start+s.batchSize, len(names))])
	}
	return out
}
