// Package match selects the rule that applies to a notification.
//
// Matching is first-match by order: enabled rules with non-blank search text
// are tried in ascending Order and the first whose text occurs,
// case-insensitively, in the title or the body wins. Priority does not take
// part. Match has no side effects.
package match

import (
	"slices"
	"strings"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Match returns the first rule matching title or body, and whether one did.
// rules need not be sorted.
func Match(title, body string, rules []types.Rule) (types.Rule, bool) {
	candidates := make([]types.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Matchable() {
			candidates = append(candidates, r)
		}
	}
	slices.SortStableFunc(candidates, func(a, b types.Rule) int { return a.Order - b.Order })

	title, body = strings.ToLower(title), strings.ToLower(body)
	for _, r := range candidates {
		keyword := strings.ToLower(r.SearchText)
		if strings.Contains(title, keyword) || strings.Contains(body, keyword) {
			return r, true
		}
	}
	return types.Rule{}, false
}
