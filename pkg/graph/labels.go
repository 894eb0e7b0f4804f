package graph

import (
	"sort"
	"strings"
	"unicode"
)

// Slugify canonicalizes a label: whitespace is trimmed, square brackets
// are dropped, letters are lowercased, and every remaining run of
// non-alphanumerics collapses to a single underscore. The result never
// starts or ends with an underscore; labels that normalize to nothing
// return "".
func Slugify(label string) string {
	s := strings.TrimSpace(label)
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case r == '[' || r == ']':
			// Bracket wrappers like "[bug]" vanish instead of
			// becoming separators.
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// labelCategories maps well-known slugs to a coarse category. The
// mapping is heuristic and categories stay mutable in the store.
var labelCategories = map[string]string{
	"bug":         "type",
	"feature":     "type",
	"enhancement": "type",
	"fix":         "type",
	"refactor":    "type",
	"docs":        "type",
	"test":        "type",

	"frontend": "area",
	"backend":  "area",
	"ui":       "area",
	"api":      "area",
	"database": "area",
	"infra":    "area",
	"security": "area",

	"urgent":        "urgency",
	"high_priority": "urgency",
	"low_priority":  "urgency",
}

// Category guesses a category for a slug; unknown slugs get none.
func Category(slug string) string {
	return labelCategories[slug]
}

// SlugSet canonicalizes a label list into a sorted, de-duplicated slug
// set. Labels that normalize to nothing are dropped.
func SlugSet(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if slug := Slugify(l); slug != "" {
			set[slug] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for slug := range set {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
