// Package template renders message bodies by substituting {{key}} placeholders
// with per-recipient variables.
//
// The substitution contract is deliberately narrow: a placeholder whose key is
// missing from the variable map is left verbatim in the output, so a recipient
// sees "{{coupon}}" rather than an empty hole when a campaign forgot to supply
// a value. Richer template languages render missing variables as empty (lax)
// or fail the render (strict); neither matches this contract, which downstream
// tooling relies on to detect unfilled campaigns.
package template

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render substitutes {{key}} placeholders in body with values from vars.
// Unresolved placeholders are left verbatim. A nil map is fine.
func Render(body string, vars map[string]string) string {
	if body == "" || !strings.Contains(body, "{{") {
		return body
	}
	return placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})
}

// Placeholders returns the distinct placeholder keys referenced by body, in
// first-appearance order. Useful for validating a campaign before dispatch.
func Placeholders(body string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
