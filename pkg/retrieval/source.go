package retrieval

import (
	"strings"

	"turnrelay/pkg/chat"
)

// NormalizeSourceMode maps any selector onto internal, web or hybrid.
// Unknown and empty values select internal.
func NormalizeSourceMode(mode string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(mode)); normalized {
	case chat.SourceInternal, chat.SourceWeb, chat.SourceHybrid:
		return normalized
	default:
		return chat.SourceInternal
	}
}

// Decision records which evidence sources a run consults.
type Decision struct {
	Mode     string
	Internal bool
	Web      bool
	Reason   string
}

// Decide picks the evidence sources for a selector. allowWeb only matters in
// hybrid mode; nil means web search is allowed.
func Decide(mode string, allowWeb *bool) Decision {
	switch normalized := NormalizeSourceMode(mode); normalized {
	case chat.SourceWeb:
		return Decision{Mode: normalized, Web: true, Reason: "User selected Internet only"}
	case chat.SourceHybrid:
		if allowWeb != nil && !*allowWeb {
			return Decision{
				Mode:     normalized,
				Internal: true,
				Reason:   "User selected Hybrid but web is disabled by user preference",
			}
		}
		return Decision{Mode: normalized, Internal: true, Web: true, Reason: "User selected Hybrid (Internal + Internet)"}
	default:
		return Decision{Mode: normalized, Internal: true, Reason: "User selected Internal knowledge base"}
	}
}
