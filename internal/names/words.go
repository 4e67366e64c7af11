package names

import (
	"strings"
	"unicode"
)

const ipniURNPrefix = "urn:lsid:ipni.org:names:"

// WordPrefixes returns the left-anchored word-prefix combinations of s:
// "Genus species var" yields ["Genus", "Genus species", "Genus species var"].
// A leading hybrid marker stays attached to the following word.
func WordPrefixes(s string) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	if len(words) > 1 && len(words[0]) > 0 && isHybridWord(words[0]) {
		words = append([]string{words[0] + " " + words[1]}, words[2:]...)
	}
	out := make([]string, 0, len(words))
	for i := range words {
		out = append(out, strings.Join(words[:i+1], " "))
	}
	return out
}

func isHybridWord(word string) bool {
	for _, marker := range HybridMarkers {
		if word == marker {
			return true
		}
	}
	return false
}

// Genus returns the genus portion of a name that begins with a genus,
// keeping a leading hybrid marker ("× Sarcorhiza Anon." yields "× Sarcorhiza").
func Genus(name string) string {
	words := strings.Fields(name)
	switch {
	case len(words) == 0:
		return ""
	case isHybridWord(words[0]) && len(words) > 1:
		return words[0] + " " + words[1]
	default:
		return words[0]
	}
}

// CleanIPNIID strips the IPNI LSID prefix, and anything before it, from id.
func CleanIPNIID(id string) string {
	if idx := strings.Index(id, ipniURNPrefix); idx >= 0 {
		return strings.TrimSpace(id[idx+len(ipniURNPrefix):])
	}
	return strings.TrimSpace(id)
}

// OnlyLatin reports whether every letter in s belongs to the Latin script.
func OnlyLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}
