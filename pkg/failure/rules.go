package failure

import (
	"regexp"
	"strings"
)

// Matcher recognizes a vendor error signature in raw error text.
type Matcher interface {
	Match(raw string) bool
}

// AllOf matches when every substring is present.
type AllOf []string

func (a AllOf) Match(raw string) bool {
	if len(a) == 0 {
		return false
	}
	for _, fragment := range a {
		if !strings.Contains(raw, fragment) {
			return false
		}
	}
	return true
}

// Pattern matches a regular expression.
type Pattern struct {
	re *regexp.Regexp
}

// MustPattern compiles expr and panics on error. Use it for static rule
// tables only.
func MustPattern(expr string) Pattern {
	return Pattern{re: regexp.MustCompile(expr)}
}

func (p Pattern) Match(raw string) bool {
	return p.re != nil && p.re.MatchString(raw)
}

// Rule pairs a matcher with the client-safe message it selects.
type Rule struct {
	Name    string
	Matcher Matcher
	Message string
}

// FallbackMessage is sent when no rule matches.
const FallbackMessage = "⚠️ *Something went wrong*"

// fallbackRule is the name reported for unmatched errors.
const fallbackRule = "fallback"

// DefaultRules lists the known vendor signatures in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "image_dimensions",
			Matcher: AllOf{
				"An error occurred (ValidationException)",
				"The provided image must have dimensions in set [1280x720]",
			},
			Message: "⚠️ *The provided image must have dimensions of 1280x720.*",
		},
		{
			Name: "image_width_range",
			Matcher: AllOf{
				"An error occurred (ValidationException)",
				"The width of the provided image must be within range [320, 4096]",
			},
			Message: "⚠️ *The width of the provided image must be within range 320 and 4096 pixels.*",
		},
		{
			Name: "model_access_denied",
			Matcher: AllOf{
				"An error occurred (AccessDeniedException)",
				"You don't have access to the model with the specified model ID",
			},
			Message: "*This model is not enabled. Please try again later or contact an administrator*",
		},
	}
}
