package testsupport

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"taxonmatch/internal/taxa"
)

// ChecklistTable is a small WCVP-shaped names table covering the resolution
// cases exercised in tests:
//
//   - Coffea: genus, species, variety, a synonym, and the homonym
//     "Coffea racemosa" (accepted, and a synonym of Coffea liberica)
//   - Clerodendrum: genus name used in Lamiaceae and, as a synonym, Verbenaceae
//   - Andersonia: accepted in Ericaceae, synonym of Gaertnera in Rubiaceae
//   - Psychotria ambigua: two synonyms with different accepted taxa
//   - Tabernaemontana: genus confined to one family
const ChecklistTable = `plant_name_id|ipni_id|taxon_rank|taxon_status|family|genus|taxon_name|taxon_authors|parenthetical_author|primary_author|parent_plant_name_id|accepted_plant_name_id
1|urn:lsid:ipni.org:names:100-1|Genus|Accepted|Rubiaceae|Coffea|Coffea|L.||L.||1
2|urn:lsid:ipni.org:names:200-1|Species|Accepted|Rubiaceae|Coffea|Coffea arabica|L.||L.|1|2
3|300-1|Variety|Accepted|Rubiaceae|Coffea|Coffea arabica var. bourbon|(B.Rodr.) Choussy|B.Rodr.|Choussy|2|3
4|400-1|Species|Synonym|Rubiaceae|Coffea|Coffea vulgaris|Moench||Moench||2
5|500-1|Species|Accepted|Rubiaceae|Coffea|Coffea liberica|W.Bull ex Hiern||W.Bull ex Hiern|1|5
6|600-1|Species|Local Biotype|Rubiaceae|Coffea|Coffea localis|||||2
7|700-1|Genus|Accepted|Apocynaceae|Tabernaemontana|Tabernaemontana|L.||L.||7
8|800-1|Genus|Accepted|Lamiaceae|Clerodendrum|Clerodendrum|L.||L.||8
9|900-1|Genus|Synonym|Verbenaceae|Clerodendrum|Clerodendrum|Sm.||Sm.||8
20|2000-1|Genus|Accepted|Ericaceae|Andersonia|Andersonia|R.Br.||R.Br.||20
21|2100-1|Genus|Synonym|Rubiaceae|Andersonia|Andersonia|Roxb.||Roxb.||22
22|2200-1|Genus|Accepted|Rubiaceae|Gaertnera|Gaertnera|Lam.||Lam.||22
30|3000-1|Species|Accepted|Rubiaceae|Coffea|Coffea racemosa|Lour.||Lour.|1|30
31|3100-1|Species|Synonym|Rubiaceae|Coffea|Coffea racemosa|Ruiz & Pav.||Ruiz & Pav.||5
40|4000-1|Species|Synonym|Rubiaceae|Psychotria|Psychotria ambigua|Benth.||Benth.||41
41|4100-1|Species|Accepted|Rubiaceae|Psychotria|Psychotria alba|Ruiz & Pav.||Ruiz & Pav.||41
42|4200-1|Species|Synonym|Rubiaceae|Psychotria|Psychotria ambigua|Wernham||Wernham||43
43|4300-1|Species|Accepted|Rubiaceae|Psychotria|Psychotria nivea|Wernham||Wernham||43
`

// WriteChecklist writes ChecklistTable into dir and returns its path.
func WriteChecklist(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "wcvp_names.csv")
	WriteText(t, path, ChecklistTable)
	return path
}

// NewIndex builds an index from ChecklistTable with the default drop list.
func NewIndex(t testing.TB) *taxa.Index {
	t.Helper()
	return IndexFromTable(t, ChecklistTable, taxa.BuildOptions{DropStatuses: []string{"Local Biotype"}})
}

// IndexFromTable builds an index from a WCVP-shaped table.
func IndexFromTable(t testing.TB, table string, opts taxa.BuildOptions) *taxa.Index {
	t.Helper()
	records, err := taxa.ReadWCVP(context.Background(), strings.NewReader(table))
	if err != nil {
		t.Fatalf("read checklist fixture: %v", err)
	}
	idx, _, err := taxa.Build(records, opts)
	if err != nil {
		t.Fatalf("build checklist fixture: %v", err)
	}
	return idx
}
