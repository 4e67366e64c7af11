package resolve

import (
	"context"

	"taxonmatch/internal/names"
	"taxonmatch/internal/taxa"
)

func (r *Resolver) autoresolveStage(ctx context.Context, pending []Submission) (stageOutput, error) {
	outcomes, err := r.fanOut(ctx, pending, r.autoresolve)
	if err != nil {
		return stageOutput{}, err
	}
	return collect(outcomes, TagAmbiguousAutoresolve), nil
}

// autoresolve looks up every left-anchored word prefix of the submission and
// lets the Disambiguator choose among the hits.
func (r *Resolver) autoresolve(sub Submission) (subOutcome, error) {
	prefixes := names.WordPrefixes(sub.Keys.Trimmed)
	if sub.Keys.Recapitalized != sub.Keys.Trimmed {
		prefixes = append(prefixes, names.WordPrefixes(sub.Keys.Recapitalized)...)
	}
	var records []*taxa.Record
	for _, prefix := range dedupeStrings(prefixes) {
		records = append(records, r.index.ByName(prefix)...)
	}
	records = filterFamily(uniqueRecords(records), sub.Family)

	kept := records[:0]
	for _, rec := range records {
		if r.passesGenusGuard(rec, sub.Family) {
			kept = append(kept, rec)
		}
	}
	if len(kept) == 0 {
		return subOutcome{}, nil
	}
	return r.decide(sub, kept, MethodAutoresolve)
}

// passesGenusGuard drops genus-level hits whose genus name is shared by
// several families, unless the family hint already pins the family.
func (r *Resolver) passesGenusGuard(rec *taxa.Record, family string) bool {
	if rec.Accepted.Rank != taxa.RankGenus {
		return true
	}
	if family != "" && rec.MatchesFamily(family) {
		return true
	}
	genus := rec.Genus
	if genus == "" {
		genus = names.Genus(rec.Name)
	}
	return r.index.GenusFamilyCount(genus) == 1
}
