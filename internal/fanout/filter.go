package fanout

import (
	"regexp"
	"strings"

	"github.com/relayhook/relayhook/internal/model"
)

// matches reports whether email passes sub's filters. An empty filter list
// for a given key is treated as "match anything" for that key.
func matches(email *model.InboundEmail, filters model.SubscriptionFilters) bool {
	if len(filters.To) > 0 && !matchesAny(filters.To, email.To) {
		return false
	}
	if len(filters.From) > 0 && !matchesAny(filters.From, email.From) {
		return false
	}
	if filters.SubjectPattern != "" && !matchesSubject(filters.SubjectPattern, email.Subject) {
		return false
	}
	return true
}

func matchesAny(patterns []string, address string) bool {
	for _, p := range patterns {
		if matchesAddress(p, address) {
			return true
		}
	}
	return false
}

// matchesAddress implements the "*@domain" wildcard rule: the pattern
// matches iff address ends with "@domain". Anything else is a literal,
// case-insensitive comparison.
func matchesAddress(pattern, address string) bool {
	if domain, ok := strings.CutPrefix(pattern, "*@"); ok {
		return strings.HasSuffix(strings.ToLower(address), "@"+strings.ToLower(domain))
	}
	return strings.EqualFold(pattern, address)
}

// matchesSubject evaluates a case-insensitive regular expression. An invalid
// pattern is treated as a non-match rather than an error.
func matchesSubject(pattern, subject string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}
