package taxa

import (
	"fmt"

	"taxonmatch/internal/services"
)

// Rank is a taxonomic rank as spelled in the checklist.
type Rank string

const (
	RankNothoForm  Rank = "nothof."
	RankForm       Rank = "Form"
	RankSubspecies Rank = "Subspecies"
	RankSubvariety Rank = "Subvariety"
	RankVariety    Rank = "Variety"
	RankSpecies    Rank = "Species"
	RankGenus      Rank = "Genus"
)

// rankPriority orders ranks from most to least specific.
var rankPriority = [...]Rank{
	RankNothoForm,
	RankForm,
	RankSubspecies,
	RankSubvariety,
	RankVariety,
	RankSpecies,
	RankGenus,
}

// Priority returns the rank's position in the specificity list, lower being
// more specific. Ranks outside the list are a configuration error.
func (r Rank) Priority() (int, error) {
	for i, known := range rankPriority {
		if known == r {
			return i, nil
		}
	}
	return 0, services.Wrap(services.ErrConfiguration, "taxa", "rank priority",
		fmt.Sprintf("rank %q is missing from the rank priority list", string(r)), nil)
}

// Status is a taxonomic status as spelled in the checklist.
type Status string

const (
	StatusAccepted         Status = "Accepted"
	StatusArtificialHybrid Status = "Artificial Hybrid"
	StatusSynonym          Status = "Synonym"
	StatusIllegitimate     Status = "Illegitimate"
	StatusInvalid          Status = "Invalid"
	StatusLocalBiotype     Status = "Local Biotype"
	StatusMisapplied       Status = "Misapplied"
	StatusOrthographic     Status = "Orthographic"
	StatusUnplaced         Status = "Unplaced"
)

// statusPriority orders statuses from most to least preferred.
var statusPriority = [...]Status{
	StatusAccepted,
	StatusArtificialHybrid,
	StatusSynonym,
	StatusIllegitimate,
	StatusInvalid,
	StatusLocalBiotype,
	StatusMisapplied,
	StatusOrthographic,
	StatusUnplaced,
}

// Priority returns the status's position in the preference list. Statuses
// outside the list are a configuration error.
func (s Status) Priority() (int, error) {
	for i, known := range statusPriority {
		if known == s {
			return i, nil
		}
	}
	return 0, services.Wrap(services.ErrConfiguration, "taxa", "status priority",
		fmt.Sprintf("status %q is missing from the status priority list", string(s)), nil)
}

// IsAccepted reports whether records with this status are their own accepted taxon.
func (s Status) IsAccepted() bool {
	return s == StatusAccepted || s == StatusArtificialHybrid
}
