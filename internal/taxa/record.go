package taxa

import "strings"

// Record is one checklist row with its accepted chain resolved.
type Record struct {
	ID                  string
	IPNIID              string
	Name                string
	Rank                Rank
	Status              Status
	Family              string
	Genus               string
	Authors             string
	ParentheticalAuthor string
	PrimaryAuthor       string
	ParentID            string
	AcceptedID          string

	Accepted Accepted
}

// Accepted holds the precomputed fields of a record's accepted taxon.
type Accepted struct {
	ID            string
	IPNIID        string
	Name          string
	Rank          Rank
	Family        string
	ParentName    string
	ParentIPNIID  string
	SpeciesName   string
	SpeciesID     string
	SpeciesIPNIID string
}

// AuthorForm selects how a record's name is combined with its authors.
type AuthorForm int

const (
	// AuthorsFull appends taxon_authors.
	AuthorsFull AuthorForm = iota
	// AuthorsParentheticalPrimary appends "(parenthetical) primary".
	AuthorsParentheticalPrimary
	// AuthorsPrimary appends the primary author only.
	AuthorsPrimary
)

// AuthorForms lists the forms in the order direct matching tries them.
var AuthorForms = []AuthorForm{AuthorsFull, AuthorsParentheticalPrimary, AuthorsPrimary}

func (f AuthorForm) String() string {
	switch f {
	case AuthorsFull:
		return "name+authors"
	case AuthorsParentheticalPrimary:
		return "name+parenthetical+primary"
	case AuthorsPrimary:
		return "name+primary"
	default:
		return "unknown"
	}
}

// NameWith returns the record's name joined with the author form, or "" when
// the record has no authors of that form.
func (r *Record) NameWith(form AuthorForm) string {
	var authors string
	switch form {
	case AuthorsFull:
		authors = r.Authors
	case AuthorsParentheticalPrimary:
		if r.ParentheticalAuthor == "" || r.PrimaryAuthor == "" {
			return ""
		}
		authors = "(" + r.ParentheticalAuthor + ") " + r.PrimaryAuthor
	case AuthorsPrimary:
		authors = r.PrimaryAuthor
	}
	authors = strings.TrimSpace(authors)
	if authors == "" || r.Name == "" {
		return ""
	}
	return r.Name + " " + authors
}

// MatchesFamily reports whether the record or its accepted taxon belongs to family.
func (r *Record) MatchesFamily(family string) bool {
	return family != "" && (r.Family == family || r.Accepted.Family == family)
}
