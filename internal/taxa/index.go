package taxa

import (
	"fmt"
	"log/slog"
	"strings"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/names"
	"taxonmatch/internal/services"
)

// Index is the read-only checklist. Records live in one slice; the lookup
// maps hold offsets into it.
type Index struct {
	records   []Record
	byID      map[string]int32
	byIPNI    map[string]int32
	byName    map[string][]int32
	byAuthors [3]map[string][]int32
	families  map[string]struct{}
	genera    map[string]int
}

// BuildOptions scopes which records enter the index.
type BuildOptions struct {
	// DropStatuses removes records with any of these statuses.
	DropStatuses []string
	// FamiliesOfInterest keeps only records whose family or accepted family is
	// listed. Unknown family names disable the filter with a warning.
	FamiliesOfInterest []string
	Logger             *slog.Logger
}

// BuildReport summarises what Build kept and discarded.
type BuildReport struct {
	Input             int
	Indexed           int
	Duplicates        int
	Unresolved        int
	DroppedByStatus   int
	OutsideFamilies   int
	UnknownFamilies   []string
	FamilyFilterInUse bool
}

// Build resolves each record's accepted chain and indexes the records that
// survive the status and family filters. Records whose accepted taxon is
// missing, or is itself not accepted, are excluded.
func Build(records []Record, opts BuildOptions) (*Index, BuildReport, error) {
	logger := logging.NewComponentLogger(opts.Logger, "checklist")
	report := BuildReport{Input: len(records)}

	raw := make(map[string]*Record, len(records))
	order := make([]*Record, 0, len(records))
	for i := range records {
		rec := &records[i]
		rec.ID = strings.TrimSpace(rec.ID)
		if rec.ID == "" {
			return nil, report, services.Wrap(services.ErrValidation, "checklist", "build",
				fmt.Sprintf("record %d has no plant_name_id", i), nil)
		}
		if _, seen := raw[rec.ID]; seen {
			report.Duplicates++
			continue
		}
		raw[rec.ID] = rec
		order = append(order, rec)
	}

	resolved := make([]Record, 0, len(order))
	for _, rec := range order {
		accepted, ok := acceptedOf(rec, raw)
		if !ok {
			report.Unresolved++
			continue
		}
		out := *rec
		out.Accepted = chainFor(accepted, raw)
		resolved = append(resolved, out)
	}

	genera := make(map[string]map[string]struct{})
	for i := range resolved {
		rec := &resolved[i]
		genus := rec.Genus
		if genus == "" {
			genus = names.Genus(rec.Name)
		}
		if genus == "" || rec.Family == "" {
			continue
		}
		if genera[genus] == nil {
			genera[genus] = make(map[string]struct{})
		}
		genera[genus][rec.Family] = struct{}{}
	}

	drop := make(map[Status]struct{}, len(opts.DropStatuses))
	for _, status := range opts.DropStatuses {
		drop[Status(strings.TrimSpace(status))] = struct{}{}
	}

	interest, unknown := familyFilter(opts.FamiliesOfInterest, resolved)
	report.UnknownFamilies = unknown
	if len(unknown) > 0 {
		logging.WarnWithContext(logger, "families of interest not found in checklist; family filter disabled",
			"family_filter_disabled",
			logging.Strings("unknown_families", unknown),
			logging.String(logging.FieldErrorHint, "check spelling against the checklist family column"),
			logging.String(logging.FieldImpact, "the full checklist is indexed"),
		)
		interest = nil
	}
	report.FamilyFilterInUse = len(interest) > 0

	idx := &Index{
		records:  make([]Record, 0, len(resolved)),
		byID:     make(map[string]int32, len(resolved)),
		byIPNI:   make(map[string]int32, len(resolved)),
		byName:   make(map[string][]int32, len(resolved)),
		families: make(map[string]struct{}),
		genera:   make(map[string]int, len(genera)),
	}
	for form := range idx.byAuthors {
		idx.byAuthors[form] = make(map[string][]int32)
	}
	for genus, families := range genera {
		idx.genera[genus] = len(families)
	}

	for i := range resolved {
		rec := resolved[i]
		if _, ok := drop[rec.Status]; ok {
			report.DroppedByStatus++
			continue
		}
		if len(interest) > 0 {
			_, famOK := interest[rec.Family]
			_, accOK := interest[rec.Accepted.Family]
			if !famOK && !accOK {
				report.OutsideFamilies++
				continue
			}
		}
		idx.add(rec)
	}
	report.Indexed = len(idx.records)

	logger.Info("checklist indexed",
		logging.Int("input", report.Input),
		logging.Int("indexed", report.Indexed),
		logging.Int("unresolved_chain", report.Unresolved),
		logging.Int("dropped_by_status", report.DroppedByStatus),
		logging.Int("outside_families", report.OutsideFamilies),
		logging.Int("duplicates", report.Duplicates),
	)
	return idx, report, nil
}

func acceptedOf(rec *Record, raw map[string]*Record) (*Record, bool) {
	if rec.Status.IsAccepted() && (rec.AcceptedID == "" || rec.AcceptedID == rec.ID) {
		return rec, true
	}
	if rec.AcceptedID == "" {
		return nil, false
	}
	accepted, ok := raw[rec.AcceptedID]
	if !ok || !accepted.Status.IsAccepted() {
		return nil, false
	}
	return accepted, true
}

func chainFor(accepted *Record, raw map[string]*Record) Accepted {
	chain := Accepted{
		ID:     accepted.ID,
		IPNIID: accepted.IPNIID,
		Name:   accepted.Name,
		Rank:   accepted.Rank,
		Family: accepted.Family,
	}
	parent := raw[accepted.ParentID]
	if parent != nil {
		chain.ParentName = parent.Name
		chain.ParentIPNIID = parent.IPNIID
	}
	switch {
	case accepted.Rank == RankSpecies:
		chain.SpeciesName = accepted.Name
		chain.SpeciesID = accepted.ID
		chain.SpeciesIPNIID = accepted.IPNIID
	case parent != nil && parent.Rank == RankSpecies:
		chain.SpeciesName = parent.Name
		chain.SpeciesID = parent.ID
		chain.SpeciesIPNIID = parent.IPNIID
	}
	return chain
}

func familyFilter(families []string, records []Record) (map[string]struct{}, []string) {
	if len(families) == 0 {
		return nil, nil
	}
	known := make(map[string]struct{})
	for i := range records {
		known[records[i].Family] = struct{}{}
		known[records[i].Accepted.Family] = struct{}{}
	}
	interest := make(map[string]struct{}, len(families))
	var unknown []string
	for _, family := range families {
		family = strings.TrimSpace(family)
		if family == "" {
			continue
		}
		if _, ok := known[family]; !ok {
			unknown = append(unknown, family)
			continue
		}
		interest[family] = struct{}{}
	}
	return interest, unknown
}

func (idx *Index) add(rec Record) {
	offset := int32(len(idx.records))
	idx.records = append(idx.records, rec)
	idx.byID[rec.ID] = offset
	if rec.IPNIID != "" {
		if _, exists := idx.byIPNI[rec.IPNIID]; !exists {
			idx.byIPNI[rec.IPNIID] = offset
		}
	}
	if rec.Name != "" {
		idx.byName[rec.Name] = append(idx.byName[rec.Name], offset)
	}
	for _, form := range AuthorForms {
		if key := rec.NameWith(form); key != "" {
			idx.byAuthors[form][key] = append(idx.byAuthors[form][key], offset)
		}
	}
	if rec.Family != "" {
		idx.families[rec.Family] = struct{}{}
	}
	if rec.Accepted.Family != "" {
		idx.families[rec.Accepted.Family] = struct{}{}
	}
}

// Len returns the number of indexed records.
func (idx *Index) Len() int { return len(idx.records) }

// At returns the record at offset i.
func (idx *Index) At(i int) *Record { return &idx.records[i] }

// ByID returns the record with the given plant_name_id.
func (idx *Index) ByID(id string) (*Record, bool) {
	offset, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	return &idx.records[offset], true
}

// ByIPNI returns the record with the given IPNI identifier.
func (idx *Index) ByIPNI(id string) (*Record, bool) {
	offset, ok := idx.byIPNI[id]
	if !ok {
		return nil, false
	}
	return &idx.records[offset], true
}

// ByName returns every record whose taxon name equals name exactly.
func (idx *Index) ByName(name string) []*Record {
	return idx.collect(idx.byName[name])
}

// ByNameAuthors returns every record whose name joined with the author form
// equals key exactly.
func (idx *Index) ByNameAuthors(form AuthorForm, key string) []*Record {
	if form < 0 || int(form) >= len(idx.byAuthors) {
		return nil
	}
	return idx.collect(idx.byAuthors[form][key])
}

// HasName reports whether any record carries the exact taxon name.
func (idx *Index) HasName(name string) bool {
	return len(idx.byName[name]) > 0
}

// HasFamily reports whether family appears as a record or accepted family.
func (idx *Index) HasFamily(family string) bool {
	_, ok := idx.families[family]
	return ok
}

// GenusFamilyCount returns how many distinct families use the genus name
// across the whole checklist, including records outside the family filter.
func (idx *Index) GenusFamilyCount(genus string) int {
	return idx.genera[genus]
}

func (idx *Index) collect(offsets []int32) []*Record {
	if len(offsets) == 0 {
		return nil
	}
	out := make([]*Record, len(offsets))
	for i, offset := range offsets {
		out[i] = &idx.records[offset]
	}
	return out
}
