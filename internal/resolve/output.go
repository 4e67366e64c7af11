package resolve

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"taxonmatch/internal/services"
)

// ReservedColumns are appended to every output table and must not appear in
// the input.
var ReservedColumns = []string{
	"accepted_plant_name_id",
	"accepted_ipni_id",
	"accepted_name",
	"accepted_family",
	"accepted_rank",
	"accepted_species",
	"accepted_species_id",
	"accepted_species_ipni_id",
	"accepted_parent",
	"accepted_parent_ipni_id",
	"taxon_status",
	"matched_by",
}

// Table is a header plus string rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// TableOptions names the input columns.
type TableOptions struct {
	NameColumn string
	// FamilyColumn is optional; when set its values are family hints.
	FamilyColumn string
}

// CheckReservedColumns fails when header uses a reserved output column.
func CheckReservedColumns(header []string) error {
	var clashes []string
	for _, column := range header {
		if slices.Contains(ReservedColumns, strings.TrimSpace(column)) {
			clashes = append(clashes, column)
		}
	}
	if len(clashes) > 0 {
		return services.Wrap(services.ErrConfiguration, "resolve", "input columns",
			fmt.Sprintf("columns %s are reserved for output (%s)", strings.Join(clashes, ", "), strings.Join(ReservedColumns, ", ")), nil)
	}
	return nil
}

// Submissions extracts submissions from a table.
func (t *Table) Submissions(opts TableOptions) ([]Submission, error) {
	nameCol := slices.Index(t.Header, opts.NameColumn)
	if nameCol < 0 {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "input columns",
			fmt.Sprintf("name column %q not found", opts.NameColumn), nil)
	}
	familyCol := -1
	if opts.FamilyColumn != "" {
		familyCol = slices.Index(t.Header, opts.FamilyColumn)
		if familyCol < 0 {
			return nil, services.Wrap(services.ErrConfiguration, "resolve", "input columns",
				fmt.Sprintf("family column %q not found", opts.FamilyColumn), nil)
		}
	}

	rawNames := make([]string, len(t.Rows))
	var families []string
	if familyCol >= 0 {
		families = make([]string, len(t.Rows))
	}
	for i, row := range t.Rows {
		rawNames[i] = cellAt(row, nameCol)
		if familyCol >= 0 {
			families[i] = cellAt(row, familyCol)
		}
	}
	return NewSubmissions(rawNames, families), nil
}

// ResolveTable resolves the name column of in and returns in with the
// reserved columns appended, one output row per input row.
func (r *Resolver) ResolveTable(ctx context.Context, in *Table, opts TableOptions) (*Table, *Result, error) {
	if err := CheckReservedColumns(in.Header); err != nil {
		return nil, nil, err
	}
	subs, err := in.Submissions(opts)
	if err != nil {
		return nil, nil, err
	}
	result, err := r.Resolve(ctx, subs)
	if err != nil {
		return nil, nil, err
	}
	out, err := Annotate(in, result)
	if err != nil {
		return nil, nil, err
	}
	return out, result, nil
}

// Annotate appends the reserved columns for result to a copy of in.
func Annotate(in *Table, result *Result) (*Table, error) {
	if len(in.Rows) != len(result.Submissions) {
		return nil, services.Wrap(services.ErrInvariant, "resolve", "annotate",
			fmt.Sprintf("%d rows for %d submissions", len(in.Rows), len(result.Submissions)), nil)
	}
	out := &Table{
		Header: append(slices.Clone(in.Header), ReservedColumns...),
		Rows:   make([][]string, len(in.Rows)),
	}
	for i, row := range in.Rows {
		padded := make([]string, len(in.Header), len(in.Header)+len(ReservedColumns))
		copy(padded, row)
		out.Rows[i] = append(padded, ResolutionColumns(result.At(i))...)
	}
	return out, nil
}

// ResolutionColumns renders a resolution in ReservedColumns order.
func ResolutionColumns(res Resolution) []string {
	if !res.Resolved() {
		cols := make([]string, len(ReservedColumns))
		cols[len(cols)-1] = res.MatchedBy
		if cols[len(cols)-1] == "" {
			cols[len(cols)-1] = MatchedUnresolved
		}
		return cols
	}
	acc := res.Record.Accepted
	return []string{
		acc.ID,
		acc.IPNIID,
		acc.Name,
		acc.Family,
		string(acc.Rank),
		acc.SpeciesName,
		acc.SpeciesID,
		acc.SpeciesIPNIID,
		acc.ParentName,
		acc.ParentIPNIID,
		string(res.Record.Status),
		res.MatchedBy,
	}
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
