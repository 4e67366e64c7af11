package names

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// HybridMarkers prefix hybrid genera and epithets ("× Genus", "Genus × epithet").
var HybridMarkers = []string{"×", "+"}

// InfraspecificMarkers are rank abbreviations that stay lower case inside a name.
var InfraspecificMarkers = []string{
	"agamosp.", "convar.", "ecas.", "f.", "grex", "group", "lusus", "microf.", "microgene",
	"micromorphe", "modif.", "monstr.", "mut.", "nid", "nothof.", "nothosubsp.",
	"nothovar.", "positio", "proles", "provar.", "psp.", "stirps", "subf.", "sublusus",
	"subproles", "subsp.", "subspecioid", "subvar.", "unterrasse", "var.",
}

var (
	infraspecificSet = func() map[string]struct{} {
		set := make(map[string]struct{}, len(InfraspecificMarkers))
		for _, m := range InfraspecificMarkers {
			set[m] = struct{}{}
		}
		return set
	}()

	// splittableMarkers are the dotted rank abbreviations long enough to be
	// recognised when glued to neighbouring words, longest first so that
	// "nothosubsp." wins over "subsp.".
	splittableMarkers = func() []string {
		var out []string
		for _, m := range InfraspecificMarkers {
			if strings.HasSuffix(m, ".") && utf8.RuneCountInString(m) >= 3 {
				out = append(out, m)
			}
		}
		slices.SortStableFunc(out, func(a, b string) int { return len(b) - len(a) })
		return out
	}()
)

// IsInfraspecificMarker reports whether word is a reserved rank abbreviation.
func IsInfraspecificMarker(word string) bool {
	_, ok := infraspecificSet[word]
	return ok
}

func isHybridMarker(r rune) bool {
	return r == '×' || r == '+'
}
