package names

import (
	"strings"
	"unicode"
)

// TidyAuthors removes the space after a dotted author abbreviation when the
// next word starts with an upper-case letter, and the space before a closing
// parenthesis, matching the checklist's author formatting:
// "(Müll. Arg.) Delprete & J. H. Kirkbr." becomes
// "(Müll.Arg.) Delprete & J.H.Kirkbr.".
func TidyAuthors(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, ". )", ".)")
	s = strings.ReplaceAll(s, " )", ")")

	words := strings.Split(s, " ")
	var b strings.Builder
	b.Grow(len(s))
	for i, word := range words {
		b.WriteString(word)
		if i == len(words)-1 {
			break
		}
		if joinsNext(word, words[i+1]) {
			continue
		}
		b.WriteByte(' ')
	}
	return b.String()
}

func joinsNext(word, next string) bool {
	if !strings.HasSuffix(word, ".") {
		return false
	}
	if IsInfraspecificMarker(strings.ToLower(strings.TrimLeft(word, "("))) {
		return false
	}
	for _, r := range next {
		return unicode.IsUpper(r)
	}
	return false
}
