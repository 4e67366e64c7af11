package resolve

import (
	"strings"

	"taxonmatch/internal/names"
)

const keySeparator = "\x1f"

// NewSubmission normalizes a raw name and derives its submission key. The
// family hint only takes part in the key when useFamily is set.
func NewSubmission(raw, family string, useFamily bool) Submission {
	keys := names.Normalize(raw)
	family = names.CollapseWhitespace(family)
	sub := Submission{Raw: raw, Family: family, Keys: keys}
	sub.Key = submissionKey(keys.Trimmed, family, useFamily)
	return sub
}

func submissionKey(name, family string, useFamily bool) string {
	if !useFamily {
		return name
	}
	return family + keySeparator + name
}

// NewSubmissions builds submissions for parallel name and family slices. A
// nil families slice disables family hints.
func NewSubmissions(rawNames, families []string) []Submission {
	useFamily := families != nil
	out := make([]Submission, len(rawNames))
	for i, raw := range rawNames {
		var family string
		if useFamily && i < len(families) {
			family = families[i]
		}
		out[i] = NewSubmission(raw, family, useFamily)
	}
	return out
}

// withoutFamily clears the hint while keeping the family-qualified key form,
// so a cleared hint does not merge with submissions that kept theirs.
func (s Submission) withoutFamily() Submission {
	s.Family = ""
	if strings.Contains(s.Key, keySeparator) {
		s.Key = submissionKey(s.Keys.Trimmed, "", true)
	}
	return s
}

// displayKey renders a key for logs and diagnostics.
func displayKey(key string) string {
	return strings.ReplaceAll(key, keySeparator, " | ")
}
