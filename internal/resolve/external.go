package resolve

import (
	"context"

	"taxonmatch/internal/knms"
	"taxonmatch/internal/logging"
	"taxonmatch/internal/services"
	"taxonmatch/internal/taxa"
)

// ExternalMatcher answers names through the external match service.
type ExternalMatcher interface {
	Match(ctx context.Context, names []string) (*knms.Outcome, error)
}

var _ ExternalMatcher = (*knms.Service)(nil)

func (r *Resolver) externalStage(ctx context.Context, pending []Submission) (stageOutput, error) {
	var out stageOutput
	logger := logging.WithContext(ctx, r.logger)
	if r.opts.External == nil {
		logger.Info("knms stage skipped", logging.Decision{Kind: "knms_stage", Result: "skipped", Reason: "match service disabled"}.Args()...)
		return out, nil
	}

	names := make([]string, 0, len(pending))
	for _, sub := range pending {
		names = append(names, sub.Keys.Trimmed)
	}
	outcome, err := r.opts.External.Match(ctx, names)
	if err != nil {
		return out, err
	}
	r.observeKNMS(outcome)

	failed := make(map[string]int)
	for i, failure := range outcome.Failures {
		for _, name := range failure.Names {
			failed[name] = i
		}
	}
	failureKeys := make([][]string, len(outcome.Failures))
	var ambiguous []ReportRow

	for _, sub := range pending {
		name := sub.Keys.Trimmed
		if i, ok := failed[name]; ok {
			failureKeys[i] = append(failureKeys[i], sub.Key)
			if services.Retryable(outcome.Failures[i].Err) {
				out.retry = append(out.retry, sub.Key)
			}
			continue
		}
		rows, ok := outcome.Rows[name]
		if !ok {
			continue
		}
		result, err := r.externalDecide(sub, rows)
		if err != nil {
			return out, err
		}
		if result.resolution != nil {
			out.resolutions = append(out.resolutions, *result.resolution)
		}
		ambiguous = append(ambiguous, result.ambiguous...)
	}
	if len(ambiguous) > 0 {
		out.reports = append(out.reports, Report{Tag: TagAmbiguousKNMS, Rows: ambiguous})
	}

	for i, failure := range outcome.Failures {
		out.errors = append(out.errors, StageError{Stage: StageKNMS, Keys: failureKeys[i], Err: failure.Err})
	}
	return out, nil
}

// externalDecide maps service rows onto checklist records for one submission.
func (r *Resolver) externalDecide(sub Submission, rows []knms.Row) (subOutcome, error) {
	state := knms.StateNoMatch
	records := make([]*taxa.Record, 0, len(rows))
	for _, row := range rows {
		if row.MatchState == knms.StateNoMatch || row.IPNIID == "" {
			continue
		}
		state = row.MatchState
		if rec, ok := r.index.ByIPNI(row.IPNIID); ok {
			records = append(records, rec)
		}
	}
	records = uniqueRecords(records)
	if len(records) == 0 {
		return subOutcome{}, nil
	}

	filtered := filterFamily(records, sub.Family)
	if len(filtered) == 0 {
		return subOutcome{}, nil
	}
	if state == knms.StateMultiple && sub.Family != "" && len(filtered) == 1 && len(records) > 1 {
		state = knms.StateSingle
	}

	if state == knms.StateSingle && len(filtered) == 1 {
		res := resolvedWith(sub.Key, filtered[0], string(MethodKNMSSingle))
		return subOutcome{resolution: &res}, nil
	}

	decision, err := r.disambiguator.Decide(sub.Keys.Trimmed, filtered)
	if err != nil {
		return subOutcome{}, err
	}
	if !decision.Decided() {
		return subOutcome{ambiguous: ambiguousRows(sub, decision.Reason, filtered)}, nil
	}
	method := MethodKNMSMultiple
	if state == knms.StateSingle {
		method = MethodKNMSSingle
	}
	res := resolvedWith(sub.Key, decision.Record, string(method))
	return subOutcome{resolution: &res}, nil
}

func (r *Resolver) observeKNMS(outcome *knms.Outcome) {
	outcomes := map[string]int{"ok": outcome.Requests - len(outcome.Failures)}
	for _, failure := range outcome.Failures {
		outcomes[services.Category(failure.Err)]++
	}
	r.opts.Metrics.ObserveKNMS(outcomes, outcome.CacheHits, len(outcome.Skipped))
	r.logger.Info("knms stage complete",
		logging.Int("requests", outcome.Requests),
		logging.Int("cache_hits", outcome.CacheHits),
		logging.Int("failed_batches", len(outcome.Failures)),
		logging.Int("skipped_non_latin", len(outcome.Skipped)),
	)
}
