package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Keys holds the parallel matching keys derived from one submission.
type Keys struct {
	Raw           string
	Trimmed       string
	Recapitalized string
	Lower         string
}

// Empty reports whether the submission carried no usable name.
func (k Keys) Empty() bool {
	return k.Trimmed == ""
}

// Lookup returns the distinct exact-match keys in the order stages try them:
// the submission as written, then its recapitalized form.
func (k Keys) Lookup() []string {
	if k.Trimmed == "" {
		return nil
	}
	if k.Recapitalized == "" || k.Recapitalized == k.Trimmed {
		return []string{k.Trimmed}
	}
	return []string{k.Trimmed, k.Recapitalized}
}

// Normalize derives the matching keys for a raw submission. Empty or
// whitespace-only input yields empty keys.
func Normalize(raw string) Keys {
	trimmed := SpaceMarkers(CollapseWhitespace(norm.NFC.String(raw)))
	if trimmed == "" {
		return Keys{Raw: raw}
	}
	return Keys{
		Raw:           raw,
		Trimmed:       trimmed,
		Recapitalized: Recapitalize(trimmed),
		Lower:         lower(trimmed),
	}
}

// Fold lower-cases and whitespace-normalizes s for case-insensitive comparison.
func Fold(s string) string {
	return lower(CollapseWhitespace(s))
}

// CollapseWhitespace replaces every run of whitespace-like runes, including
// non-breaking and zero-width spaces, with one ASCII space and trims the ends.
func CollapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if isSpaceLike(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte(' ')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isSpaceLike(r rune) bool {
	switch r {
	case '\u00a0', '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return unicode.IsSpace(r) || unicode.Is(unicode.Zs, r)
}

// SpaceMarkers puts single spaces around hybrid markers and splits dotted
// rank abbreviations glued to the following word ("Asubsp.B" becomes
// "A subsp. B"). The input is expected to be whitespace-collapsed.
func SpaceMarkers(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if !isHybridMarker(r) {
			b.WriteRune(r)
			continue
		}
		if i > 0 && runes[i-1] != ' ' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		if i+1 < len(runes) && runes[i+1] != ' ' {
			b.WriteByte(' ')
		}
	}

	words := strings.Split(b.String(), " ")
	out := make([]string, 0, len(words))
	for _, word := range words {
		out = append(out, splitGluedMarker(word)...)
	}
	return strings.Join(out, " ")
}

func splitGluedMarker(word string) []string {
	for _, marker := range splittableMarkers {
		idx := strings.Index(word, marker)
		if idx < 0 {
			continue
		}
		rest := word[idx+len(marker):]
		if rest == "" || !startsWithLetter(rest) {
			continue
		}
		parts := make([]string, 0, 3)
		if idx > 0 {
			parts = append(parts, word[:idx])
		}
		parts = append(parts, marker)
		return append(parts, splitGluedMarker(rest)...)
	}
	return []string{word}
}

func startsWithLetter(s string) bool {
	for _, r := range s {
		return unicode.IsLetter(r)
	}
	return false
}

// Recapitalize lower-cases s, then capitalizes the first letter of the leading
// word and of every word ending in "." that is not a reserved rank
// abbreviation. A leading hybrid marker is preserved. Recapitalize is
// idempotent.
func Recapitalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return s
	}
	prefix := ""
	for _, marker := range HybridMarkers {
		if strings.HasPrefix(s, marker+" ") {
			prefix = marker + " "
			s = s[len(prefix):]
			break
		}
	}

	words := strings.Split(lower(s), " ")
	for i, word := range words {
		if i == 0 || (strings.HasSuffix(word, ".") && !IsInfraspecificMarker(word)) {
			words[i] = upperFirstLetter(word)
		}
	}
	return prefix + strings.Join(words, " ")
}

func upperFirstLetter(word string) string {
	runes := []rune(word)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			return string(runes)
		}
	}
	return word
}

// lower builds a fresh caser per call; cases.Caser values are not safe for
// concurrent use.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}
