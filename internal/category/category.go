// Package category holds the canonical deal categories and matches free
// text typed by users against them.
package category

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Canonical lists the categories users can sign up for, in display order.
var Canonical = []string{
	"Elektronica",
	"Gaming",
	"Boodschappen",
	"Mode & Accessoires",
	"Beauty & Gezondheid",
	"Familie & Kinderen",
	"Home & Living",
	"Tuin & Doe-het-zelf",
	"Auto & Motor",
	"Cultuur & Vrije tijd",
	"Sport & Outdoor",
	"Telecom & Internet",
	"Geldzaken & Verzekeringen",
	"Services & Contracten",
}

// Match returns the lowercased name of the first canonical category that
// contains input as a case-insensitive subsequence.
func Match(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	for _, c := range Canonical {
		if fuzzy.MatchFold(input, c) {
			return strings.ToLower(c), true
		}
	}
	return "", false
}

// MatchList splits a comma separated list and matches each token.
// Unmatched tokens are dropped; duplicates are kept once, first wins.
func MatchList(raw string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range strings.Split(raw, ",") {
		name, ok := Match(tok)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Normalize lowercases a feed category the way subscriber filters store it.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
