package events

import (
	"strings"
)

// ParseThought splits raw reasoning text of the form "**Subject** description"
// into a ThoughtSummary. Text without a bold subject becomes the description.
func ParseThought(raw string) ThoughtSummary {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "**") {
		return ThoughtSummary{Description: raw}
	}
	end := strings.Index(raw[2:], "**")
	if end < 0 {
		return ThoughtSummary{Description: raw}
	}
	return ThoughtSummary{
		Subject:     strings.TrimSpace(raw[2 : 2+end]),
		Description: strings.TrimSpace(raw[2+end+2:]),
	}
}
