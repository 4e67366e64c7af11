package resolve

import (
	"log/slog"
	"slices"
	"strings"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/metrics"
	"taxonmatch/internal/names"
	"taxonmatch/internal/taxa"
)

// Disambiguation steps, in the order they are tried.
const (
	StepSingle         = "single_candidate"
	StepSelfMatch      = "self_match"
	StepUniqueAccepted = "unique_accepted"
	StepContainment    = "containment_rank"
	StepUndecided      = "undecided"
)

// ReasonUndecided is reported when no step picks a record.
const ReasonUndecided = "no_self_match_no_unique_accepted_no_containment"

// Decision is the Disambiguator's verdict for one candidate set.
type Decision struct {
	Record *taxa.Record
	Step   string
	Reason string
}

// Decided reports whether a record was chosen.
func (d Decision) Decided() bool { return d.Record != nil }

// Disambiguator picks at most one record from several candidates.
type Disambiguator struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewDisambiguator builds a Disambiguator. Both arguments may be nil.
func NewDisambiguator(logger *slog.Logger, recorder *metrics.Recorder) *Disambiguator {
	return &Disambiguator{
		logger:  logging.NewComponentLogger(logger, "disambiguator"),
		metrics: recorder,
	}
}

type ranked struct {
	rec        *taxa.Record
	statusRank int
}

// Decide chooses among candidates for the submitted name. Every candidate's
// status must be in the status priority list and every containment survivor's
// accepted rank in the rank priority list; otherwise a configuration error is
// returned and no decision is made.
func (d *Disambiguator) Decide(submitted string, candidates []*taxa.Record) (Decision, error) {
	candidates = uniqueRecords(candidates)
	if len(candidates) == 0 {
		return Decision{Step: StepUndecided, Reason: "no_candidates"}, nil
	}

	pool := make([]ranked, 0, len(candidates))
	for _, rec := range candidates {
		priority, err := rec.Status.Priority()
		if err != nil {
			return Decision{}, err
		}
		pool = append(pool, ranked{rec: rec, statusRank: priority})
	}
	if len(pool) == 1 {
		return d.decided(submitted, pool[0].rec, StepSingle, "one candidate"), nil
	}

	folded := names.Fold(names.CollapseWhitespace(submitted))

	var self []ranked
	for _, c := range pool {
		if names.Fold(c.rec.Accepted.Name) == folded {
			self = append(self, c)
		}
	}
	if len(self) > 0 {
		sortByStatus(self)
		return d.decided(submitted, self[0].rec, StepSelfMatch, "accepted name equals submission"), nil
	}

	accepted := make(map[string]struct{}, len(pool))
	for _, c := range pool {
		accepted[c.rec.Accepted.ID] = struct{}{}
	}
	if len(accepted) == 1 {
		best := slices.Clone(pool)
		sortByStatus(best)
		return d.decided(submitted, best[0].rec, StepUniqueAccepted, "all candidates share one accepted taxon"), nil
	}

	type contained struct {
		ranked
		rankRank int
	}
	var within []contained
	for _, c := range pool {
		acceptedName := names.Fold(c.rec.Accepted.Name)
		if acceptedName == "" || !strings.Contains(folded, acceptedName) {
			continue
		}
		priority, err := c.rec.Accepted.Rank.Priority()
		if err != nil {
			return Decision{}, err
		}
		within = append(within, contained{ranked: c, rankRank: priority})
	}
	if len(within) > 0 {
		slices.SortStableFunc(within, func(a, b contained) int {
			if a.rankRank != b.rankRank {
				return a.rankRank - b.rankRank
			}
			if a.statusRank != b.statusRank {
				return a.statusRank - b.statusRank
			}
			return strings.Compare(a.rec.Accepted.ID, b.rec.Accepted.ID)
		})
		return d.decided(submitted, within[0].rec, StepContainment, "most specific accepted name contained in submission"), nil
	}

	d.metrics.ObserveDisambiguation(StepUndecided)
	d.logger.Debug("disambiguation undecided",
		logging.Decision{Kind: "disambiguation", Result: StepUndecided, Reason: ReasonUndecided}.Args(
			logging.String("submitted", submitted),
			logging.Int("candidates", len(pool)),
		)...,
	)
	return Decision{Step: StepUndecided, Reason: ReasonUndecided}, nil
}

func (d *Disambiguator) decided(submitted string, rec *taxa.Record, step, reason string) Decision {
	d.metrics.ObserveDisambiguation(step)
	d.logger.Debug("disambiguation decided",
		logging.Decision{Kind: "disambiguation", Result: step, Reason: reason}.Args(
			logging.String("submitted", submitted),
			logging.String("plant_name_id", rec.ID),
			logging.String("accepted_name", rec.Accepted.Name),
		)...,
	)
	return Decision{Record: rec, Step: step, Reason: reason}
}

func sortByStatus(pool []ranked) {
	slices.SortStableFunc(pool, func(a, b ranked) int {
		if a.statusRank != b.statusRank {
			return a.statusRank - b.statusRank
		}
		return strings.Compare(a.rec.Accepted.ID, b.rec.Accepted.ID)
	})
}

// uniqueRecords drops repeated records, keeping first occurrences.
func uniqueRecords(records []*taxa.Record) []*taxa.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]*taxa.Record, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out
}
