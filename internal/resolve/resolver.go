package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/metrics"
	"taxonmatch/internal/overrides"
	"taxonmatch/internal/services"
	"taxonmatch/internal/taxa"
)

// Options configures a Resolver.
type Options struct {
	// Level is one of the config match levels.
	Level   string
	Workers int
	// FamiliesOfInterest, when set, must contain every family hint.
	FamiliesOfInterest []string
	Overrides          *overrides.Table
	// External is the match service; nil skips the knms stage.
	External ExternalMatcher
	Sink     Sink
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Resolver runs submissions through the matching stages.
type Resolver struct {
	index         *taxa.Index
	opts          Options
	stages        []string
	disambiguator *Disambiguator
	logger        *slog.Logger
}

// StageError records a non-fatal stage failure affecting some keys.
type StageError struct {
	Stage string
	Keys  []string
	Err   error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s stage: %d submissions: %v", e.Stage, len(e.Keys), e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

type stageOutput struct {
	resolutions []Resolution
	retry       []string
	reports     []Report
	errors      []StageError
}

// New validates options and builds a Resolver over index.
func New(index *taxa.Index, opts Options) (*Resolver, error) {
	if index == nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "new", "checklist index required", nil)
	}
	stages, err := stagesFor(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	logger := logging.NewComponentLogger(opts.Logger, "resolver")
	return &Resolver{
		index:         index,
		opts:          opts,
		stages:        stages,
		disambiguator: NewDisambiguator(opts.Logger, opts.Metrics),
		logger:        logger,
	}, nil
}

// Resolve runs every stage of the match level over subs. Configuration and
// internal invariant failures abort the run; external service failures are
// recorded in Result.Errors and leave their keys pending_retry.
func (r *Resolver) Resolve(ctx context.Context, subs []Submission) (*Result, error) {
	subs, err := r.checkFamilies(ctx, subs)
	if err != nil {
		return nil, err
	}
	result := newResult(subs)
	r.opts.Metrics.SetSubmissions(len(result.keys))
	logging.WithContext(ctx, r.logger).Info("resolution started",
		logging.Int("submissions", len(subs)),
		logging.Int("unique_keys", len(result.keys)),
		logging.String("level", r.opts.Level),
	)

	for _, key := range result.keys {
		if result.subByKey[key].Keys.Empty() {
			result.resolutions[key] = &Resolution{Key: key, State: StateUnresolved, MatchedBy: MatchedUnresolved}
			r.opts.Metrics.ObserveResolution(MatchedUnresolved)
		}
	}

	if err := r.runStages(ctx, result, r.stages); err != nil {
		return nil, err
	}
	if err := r.finalize(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Resume re-runs the external and auto-resolution stages for keys left
// pending_retry. Resolved and unresolved keys are untouched.
func (r *Resolver) Resume(ctx context.Context, result *Result) error {
	if result == nil {
		return nil
	}
	retry := 0
	for _, key := range result.keys {
		if res := result.resolutions[key]; res.State == StatePendingRetry {
			res.State = StatePending
			res.MatchedBy = ""
			retry++
		}
	}
	if retry == 0 {
		return nil
	}
	result.Errors = nil
	logging.WithContext(ctx, r.logger).Info("resuming pending_retry submissions", logging.Int("keys", retry))
	if err := r.runStages(ctx, result, resumeStages(r.opts.Level)); err != nil {
		return err
	}
	return r.finalize(ctx, result)
}

func (r *Resolver) runStages(ctx context.Context, result *Result, stages []string) error {
	for _, stage := range stages {
		pending := result.pending()
		if len(pending) == 0 {
			break
		}
		stageCtx := services.WithStage(ctx, stage)
		started := time.Now()

		out, err := r.runStage(stageCtx, stage, pending)
		if err != nil {
			if stage != StageKNMS || services.Fatal(err) || ctx.Err() != nil {
				return err
			}
			out = r.stageFailed(stageCtx, stage, pending, err)
		}
		if err := result.merge(stage, out); err != nil {
			return err
		}
		for _, res := range out.resolutions {
			r.opts.Metrics.ObserveResolution(res.MatchedBy)
		}
		for _, report := range out.reports {
			if err := r.opts.Sink.Write(stageCtx, report); err != nil {
				logging.WarnWithContext(r.logger, "failed to write diagnostics", "diagnostics_write_failed",
					logging.String("tag", report.Tag),
					logging.Error(err),
					logging.String(logging.FieldImpact, "ambiguous candidates are missing from the diagnostics directory"),
				)
			}
		}
		if err := result.checkCardinality(); err != nil {
			return err
		}

		elapsed := time.Since(started)
		r.opts.Metrics.ObserveStage(stage, elapsed)
		logging.WithContext(stageCtx, r.logger).Info("stage complete",
			logging.Int("pending_in", len(pending)),
			logging.Int("resolved", len(out.resolutions)),
			logging.Int("pending_retry", len(out.retry)),
			logging.Int("ambiguous_reports", len(out.reports)),
			logging.Duration("elapsed", elapsed),
		)
	}
	return nil
}

// stageFailed turns a failed match service call into a StageError over
// every pending key. Retryable failures park the keys as pending_retry; anything
// else lets them fall through to the next stage.
func (r *Resolver) stageFailed(ctx context.Context, stage string, pending []Submission, err error) stageOutput {
	keys := make([]string, len(pending))
	for i, sub := range pending {
		keys[i] = sub.Key
	}
	out := stageOutput{errors: []StageError{{Stage: stage, Keys: keys, Err: err}}}
	retryable := services.Retryable(err)
	if retryable {
		out.retry = keys
	}
	logging.WarnWithContext(logging.WithContext(ctx, r.logger), "stage failed", "stage_failed",
		logging.Int("submissions", len(keys)),
		logging.String("error_category", services.Category(err)),
		logging.Bool("retryable", retryable),
		logging.Error(err),
	)
	return out
}

func (r *Resolver) runStage(ctx context.Context, stage string, pending []Submission) (stageOutput, error) {
	switch stage {
	case StageManual:
		return r.manualStage(ctx, pending)
	case StageDirect:
		return r.directStage(ctx, pending)
	case StageKNMS:
		return r.externalStage(ctx, pending)
	case StageAutoresolve:
		return r.autoresolveStage(ctx, pending)
	default:
		return stageOutput{}, services.Wrap(services.ErrInvariant, "resolve", "run stage", "unknown stage "+stage, nil)
	}
}

// finalize turns the keys still pending into unresolved and reports them.
func (r *Resolver) finalize(ctx context.Context, result *Result) error {
	var rows []ReportRow
	for _, key := range result.keys {
		res := result.resolutions[key]
		if res.State != StatePending {
			continue
		}
		res.State = StateUnresolved
		res.MatchedBy = MatchedUnresolved
		r.opts.Metrics.ObserveResolution(MatchedUnresolved)
		sub := result.subByKey[key]
		rows = append(rows, ReportRow{Key: key, Submitted: sub.Keys.Trimmed, Family: sub.Family, Reason: "no stage resolved the submission"})
	}
	for _, key := range result.keys {
		if result.resolutions[key].State == StatePendingRetry {
			r.opts.Metrics.ObserveResolution(MatchedPendingRetry)
		}
	}
	if err := result.checkCardinality(); err != nil {
		return err
	}
	if len(rows) > 0 {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "submissions left unresolved", "unresolved_submissions",
			logging.Int("count", len(rows)),
			logging.String(logging.FieldErrorHint, "fix the names or add manual overrides"),
			logging.String(logging.FieldImpact, "rows carry empty accepted columns"),
		)
		if err := r.opts.Sink.Write(ctx, Report{Tag: TagUnresolved, Rows: rows}); err != nil {
			logging.WarnWithContext(r.logger, "failed to write diagnostics", "diagnostics_write_failed",
				logging.String("tag", TagUnresolved),
				logging.Error(err),
			)
		}
	}
	counts := result.Counts()
	logging.WithContext(ctx, r.logger).Info("resolution complete",
		logging.Int("resolved", counts.Resolved),
		logging.Int("unresolved", counts.Unresolved),
		logging.Int("pending_retry", counts.PendingRetry),
		logging.Int("stage_errors", len(result.Errors)),
	)
	return nil
}

// fanOut runs fn for each submission on up to Workers goroutines. Each
// goroutine writes only its own slot.
func (r *Resolver) fanOut(ctx context.Context, pending []Submission, fn func(Submission) (subOutcome, error)) ([]subOutcome, error) {
	outcomes := make([]subOutcome, len(pending))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.opts.Workers)
	for i := range pending {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			out, err := fn(pending[i])
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func collect(outcomes []subOutcome, tag string) stageOutput {
	var out stageOutput
	var rows []ReportRow
	for _, outcome := range outcomes {
		if outcome.resolution != nil {
			out.resolutions = append(out.resolutions, *outcome.resolution)
		}
		rows = append(rows, outcome.ambiguous...)
	}
	if len(rows) > 0 {
		out.reports = append(out.reports, Report{Tag: tag, Rows: rows})
	}
	return out
}
