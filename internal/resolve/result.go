package resolve

import (
	"context"
	"fmt"
	"slices"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/services"
)

// Result holds one Resolution per distinct submission key.
type Result struct {
	// Submissions are the run's inputs in input order.
	Submissions []Submission
	// Errors lists non-fatal stage failures from the latest attempt.
	Errors []StageError

	keys        []string
	subByKey    map[string]Submission
	resolutions map[string]*Resolution
}

// Counts tallies key states.
type Counts struct {
	Total        int
	Resolved     int
	Unresolved   int
	Pending      int
	PendingRetry int
	ByMatchedBy  map[string]int
}

func newResult(subs []Submission) *Result {
	result := &Result{
		Submissions: subs,
		subByKey:    make(map[string]Submission, len(subs)),
		resolutions: make(map[string]*Resolution, len(subs)),
	}
	for _, sub := range subs {
		if _, seen := result.subByKey[sub.Key]; seen {
			continue
		}
		result.keys = append(result.keys, sub.Key)
		result.subByKey[sub.Key] = sub
		result.resolutions[sub.Key] = &Resolution{Key: sub.Key, State: StatePending}
	}
	return result
}

// Keys returns the distinct submission keys in first-seen order.
func (r *Result) Keys() []string { return slices.Clone(r.keys) }

// Lookup returns the resolution for a submission key.
func (r *Result) Lookup(key string) (Resolution, bool) {
	res, ok := r.resolutions[key]
	if !ok {
		return Resolution{}, false
	}
	return *res, true
}

// At returns the resolution for the i-th submission.
func (r *Result) At(i int) Resolution {
	res, _ := r.Lookup(r.Submissions[i].Key)
	return res
}

// Counts tallies the current key states.
func (r *Result) Counts() Counts {
	counts := Counts{Total: len(r.keys), ByMatchedBy: make(map[string]int)}
	for _, key := range r.keys {
		res := r.resolutions[key]
		switch res.State {
		case StateResolved:
			counts.Resolved++
		case StateUnresolved:
			counts.Unresolved++
		case StatePending:
			counts.Pending++
		case StatePendingRetry:
			counts.PendingRetry++
		}
		if res.MatchedBy != "" {
			counts.ByMatchedBy[res.MatchedBy]++
		}
	}
	return counts
}

// HasPendingRetry reports whether any key awaits a retry.
func (r *Result) HasPendingRetry() bool {
	return r.Counts().PendingRetry > 0
}

func (r *Result) pending() []Submission {
	var out []Submission
	for _, key := range r.keys {
		if r.resolutions[key].State == StatePending {
			out = append(out, r.subByKey[key])
		}
	}
	return out
}

// merge applies one stage's output. Every key it touches must be pending.
func (r *Result) merge(stage string, out stageOutput) error {
	touched := make(map[string]struct{}, len(out.resolutions)+len(out.retry))
	claim := func(key string) (*Resolution, error) {
		current, ok := r.resolutions[key]
		if !ok {
			return nil, services.Wrap(services.ErrInvariant, stage, "merge",
				fmt.Sprintf("stage returned unknown key %q", displayKey(key)), nil)
		}
		if current.State != StatePending {
			return nil, services.Wrap(services.ErrInvariant, stage, "merge",
				fmt.Sprintf("key %q is %s, not pending", displayKey(key), current.State), nil)
		}
		if _, dup := touched[key]; dup {
			return nil, services.Wrap(services.ErrInvariant, stage, "merge",
				fmt.Sprintf("stage returned key %q twice", displayKey(key)), nil)
		}
		touched[key] = struct{}{}
		return current, nil
	}

	for _, res := range out.resolutions {
		current, err := claim(res.Key)
		if err != nil {
			return err
		}
		if !res.Resolved() {
			return services.Wrap(services.ErrInvariant, stage, "merge",
				fmt.Sprintf("stage returned key %q without a record", displayKey(res.Key)), nil)
		}
		*current = res
	}
	for _, key := range out.retry {
		current, err := claim(key)
		if err != nil {
			return err
		}
		current.State = StatePendingRetry
		current.MatchedBy = MatchedPendingRetry
	}
	r.Errors = append(r.Errors, out.errors...)
	return nil
}

func (r *Result) checkCardinality() error {
	counts := r.Counts()
	sum := counts.Resolved + counts.Unresolved + counts.Pending + counts.PendingRetry
	if sum != len(r.keys) || len(r.resolutions) != len(r.keys) {
		return services.Wrap(services.ErrInvariant, "resolve", "cardinality",
			fmt.Sprintf("%d states for %d keys", sum, len(r.keys)), nil)
	}
	return nil
}

// checkFamilies validates family hints before any work. A hint outside the
// families of interest is a configuration error; a hint unknown to the
// checklist is cleared with a warning.
func (r *Resolver) checkFamilies(ctx context.Context, subs []Submission) ([]Submission, error) {
	if err := CheckFamilyHints(subs, r.opts.FamiliesOfInterest); err != nil {
		return nil, err
	}

	unknown := make(map[string]struct{})
	for _, sub := range subs {
		if sub.Family != "" && !r.index.HasFamily(sub.Family) {
			unknown[sub.Family] = struct{}{}
		}
	}
	if len(unknown) == 0 {
		return subs, nil
	}

	families := make([]string, 0, len(unknown))
	for family := range unknown {
		families = append(families, family)
	}
	slices.Sort(families)
	logging.WarnWithContext(logging.WithContext(ctx, r.logger), "family hints not in checklist; hints cleared", "family_hint_unknown",
		logging.Strings("families", families),
		logging.String(logging.FieldErrorHint, "check the family column spelling"),
		logging.String(logging.FieldImpact, "affected submissions match without a family hint"),
	)
	out := make([]Submission, len(subs))
	for i, sub := range subs {
		if _, bad := unknown[sub.Family]; bad {
			sub = sub.withoutFamily()
		}
		out[i] = sub
	}
	return out, nil
}

// CheckFamilyHints fails when a family hint is missing from a non-empty
// families of interest list.
func CheckFamilyHints(subs []Submission, familiesOfInterest []string) error {
	if len(familiesOfInterest) == 0 {
		return nil
	}
	for _, sub := range subs {
		if sub.Family != "" && !slices.Contains(familiesOfInterest, sub.Family) {
			return services.Wrap(services.ErrConfiguration, "resolve", "family hints",
				fmt.Sprintf("family %q is given as a hint but is not in families_of_interest", sub.Family), nil)
		}
	}
	return nil
}
