package transform

import (
	"strings"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// corporateSuffixes are split off organization names, longest first so
// "Corporation" wins over "Corp".
var corporateSuffixes = []string{
	"Corporation", "Incorporated", "Company", "L.L.C.", "L.L.P.", "PLLC",
	"Corp.", "Corp", "Inc.", "Inc", "LLC", "LLP", "Ltd.", "Ltd", "L.P.", "LP", "Co.", "N.A.",
}

// CleanOrgName normalizes whitespace, strips stray punctuation and splits a
// trailing corporate suffix. ok is false for names that clean to nothing.
func CleanOrgName(s string) (docket.OrgName, bool) {
	name := strings.Join(strings.Fields(s), " ")
	name = strings.Trim(name, ",; ")
	if name == "" {
		return docket.OrgName{}, false
	}
	for _, suffix := range corporateSuffixes {
		cut := len(name) - len(suffix)
		if cut < 2 || !strings.EqualFold(name[cut:], suffix) {
			continue
		}
		if sep := name[cut-1]; sep != ' ' && sep != ',' {
			continue
		}
		base := strings.TrimRight(name[:cut], " ,")
		if base == "" {
			break
		}
		return docket.OrgName{Name: base, Suffix: name[cut:]}, true
	}
	return docket.OrgName{Name: name}, true
}

// CleanOrgNames cleans and dedupes names, case-insensitively, keeping the
// first spelling seen.
func CleanOrgNames(names []string) []docket.OrgName {
	seen := make(map[string]struct{}, len(names))
	var out []docket.OrgName
	for _, n := range names {
		org, ok := CleanOrgName(n)
		if !ok {
			continue
		}
		k := strings.ToLower(org.DisplayName())
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, org)
	}
	return out
}

// SplitBlob splits a free-text list on semicolons, pipes and newlines. It is
// the fallback when enrichment is unavailable; names containing "and" stay
// intact.
func SplitBlob(blob string) []string {
	fields := strings.FieldsFunc(blob, func(r rune) bool {
		return r == ';' || r == '|' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// cleanPeople trims and dedupes individual author names.
func cleanPeople(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		n = strings.Join(strings.Fields(n), " ")
		if n == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(n)]; dup {
			continue
		}
		seen[strings.ToLower(n)] = struct{}{}
		out = append(out, n)
	}
	return out
}
