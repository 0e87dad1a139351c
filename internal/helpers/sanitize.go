package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton policy that strips every HTML element
// and attribute. Fetched pages are untrusted input; anything that ends up in
// a prompt or a stored report goes through this first.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeText strips all markup from s, decodes HTML entities and trims
// whitespace, leaving a plain-text value.
func SanitizeText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(StrictHTMLPolicy().Sanitize(s)))
}
