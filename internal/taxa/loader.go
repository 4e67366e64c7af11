package taxa

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"taxonmatch/internal/names"
	"taxonmatch/internal/services"
)

// WCVP names table columns.
const (
	ColumnPlantNameID         = "plant_name_id"
	ColumnIPNIID              = "ipni_id"
	ColumnTaxonName           = "taxon_name"
	ColumnTaxonRank           = "taxon_rank"
	ColumnTaxonStatus         = "taxon_status"
	ColumnFamily              = "family"
	ColumnGenus               = "genus"
	ColumnTaxonAuthors        = "taxon_authors"
	ColumnParentheticalAuthor = "parenthetical_author"
	ColumnPrimaryAuthor       = "primary_author"
	ColumnParentPlantNameID   = "parent_plant_name_id"
	ColumnAcceptedPlantNameID = "accepted_plant_name_id"
)

var requiredColumns = []string{
	ColumnPlantNameID,
	ColumnTaxonName,
	ColumnTaxonRank,
	ColumnTaxonStatus,
	ColumnFamily,
	ColumnAcceptedPlantNameID,
}

const wcvpSeparator = "|"

// maxLineBytes bounds a single checklist row.
const maxLineBytes = 1 << 20

// LoadFile reads a WCVP names table from path and builds the index.
func LoadFile(ctx context.Context, path string, opts BuildOptions) (*Index, BuildReport, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, BuildReport{}, services.Wrap(services.ErrConfiguration, "checklist", "open",
			fmt.Sprintf("checklist %q", path), err)
	}
	defer file.Close()

	records, err := ReadWCVP(ctx, file)
	if err != nil {
		return nil, BuildReport{}, err
	}
	return Build(records, opts)
}

// ReadWCVP parses a pipe-separated WCVP names table. Fields are unquoted, so
// quote characters are kept as data. Name and author columns have their
// whitespace collapsed.
func ReadWCVP(ctx context.Context, r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, services.Wrap(services.ErrValidation, "checklist", "read header", "", err)
		}
		return nil, services.Wrap(services.ErrValidation, "checklist", "read header", "checklist is empty", nil)
	}
	header := strings.Split(strings.TrimPrefix(scanner.Text(), "\ufeff"), wcvpSeparator)
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range requiredColumns {
		if _, ok := columns[required]; !ok {
			return nil, services.Wrap(services.ErrValidation, "checklist", "read header",
				fmt.Sprintf("missing column %q", required), nil)
		}
	}

	field := func(row []string, column string) string {
		i, ok := columns[column]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []Record
	line := 1
	for scanner.Scan() {
		line++
		if line%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		row := strings.Split(text, wcvpSeparator)
		if len(row) != len(header) {
			return nil, services.Wrap(services.ErrValidation, "checklist", "read row",
				fmt.Sprintf("line %d has %d fields, header has %d", line, len(row), len(header)), nil)
		}
		records = append(records, Record{
			ID:                  field(row, ColumnPlantNameID),
			IPNIID:              names.CleanIPNIID(field(row, ColumnIPNIID)),
			Name:                names.CollapseWhitespace(field(row, ColumnTaxonName)),
			Rank:                Rank(field(row, ColumnTaxonRank)),
			Status:              Status(field(row, ColumnTaxonStatus)),
			Family:              names.CollapseWhitespace(field(row, ColumnFamily)),
			Genus:               names.CollapseWhitespace(field(row, ColumnGenus)),
			Authors:             names.CollapseWhitespace(field(row, ColumnTaxonAuthors)),
			ParentheticalAuthor: names.CollapseWhitespace(field(row, ColumnParentheticalAuthor)),
			PrimaryAuthor:       names.CollapseWhitespace(field(row, ColumnPrimaryAuthor)),
			ParentID:            field(row, ColumnParentPlantNameID),
			AcceptedID:          field(row, ColumnAcceptedPlantNameID),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "checklist", "read row",
			fmt.Sprintf("after line %d", line), err)
	}
	return records, nil
}
