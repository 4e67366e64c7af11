package resolve

import (
	"context"

	"taxonmatch/internal/names"
	"taxonmatch/internal/taxa"
)

type subOutcome struct {
	resolution *Resolution
	ambiguous  []ReportRow
}

func (r *Resolver) directStage(ctx context.Context, pending []Submission) (stageOutput, error) {
	outcomes, err := r.fanOut(ctx, pending, r.directMatch)
	if err != nil {
		return stageOutput{}, err
	}
	return collect(outcomes, TagAmbiguousDirect), nil
}

// directMatch tries the author forms, then the bare name. The first lookup
// returning records decides which records are considered.
func (r *Resolver) directMatch(sub Submission) (subOutcome, error) {
	records, method := r.directLookup(sub.Keys)
	if len(records) == 0 {
		return subOutcome{}, nil
	}
	records = filterFamily(records, sub.Family)
	if len(records) == 0 {
		return subOutcome{}, nil
	}
	return r.decide(sub, records, method)
}

func (r *Resolver) directLookup(keys names.Keys) ([]*taxa.Record, Method) {
	authorKeys := authorLookupKeys(keys)
	for _, form := range taxa.AuthorForms {
		for _, key := range authorKeys {
			if recs := r.index.ByNameAuthors(form, key); len(recs) > 0 {
				return recs, MethodDirectNameAuthor
			}
		}
	}
	for _, key := range keys.Lookup() {
		if recs := r.index.ByName(key); len(recs) > 0 {
			return recs, MethodDirectName
		}
	}
	return nil, ""
}

func authorLookupKeys(keys names.Keys) []string {
	base := keys.Lookup()
	out := make([]string, 0, len(base)*2)
	out = append(out, base...)
	for _, key := range base {
		out = append(out, names.TidyAuthors(key))
	}
	return dedupeStrings(out)
}

// decide turns a non-empty candidate set into a resolution, or into report
// rows when the Disambiguator cannot choose.
func (r *Resolver) decide(sub Submission, records []*taxa.Record, method Method) (subOutcome, error) {
	records = uniqueRecords(records)
	if len(records) == 1 {
		res := resolvedWith(sub.Key, records[0], matchedBy(method, true))
		return subOutcome{resolution: &res}, nil
	}
	decision, err := r.disambiguator.Decide(sub.Keys.Trimmed, records)
	if err != nil {
		return subOutcome{}, err
	}
	if !decision.Decided() {
		return subOutcome{ambiguous: ambiguousRows(sub, decision.Reason, records)}, nil
	}
	res := resolvedWith(sub.Key, decision.Record, matchedBy(method, false))
	return subOutcome{resolution: &res}, nil
}

// filterFamily keeps records whose family or accepted family equals the hint.
func filterFamily(records []*taxa.Record, family string) []*taxa.Record {
	if family == "" {
		return records
	}
	out := make([]*taxa.Record, 0, len(records))
	for _, rec := range records {
		if rec.MatchesFamily(family) {
			out = append(out, rec)
		}
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
