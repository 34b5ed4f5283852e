package events

import "fmt"

const identityTailLen = 32

// Identity is the deduplication key of an event within one stream. Content
// events are keyed on their text (length and tail), every other kind on the
// generation the session stamped on it. A redelivered event keeps its
// generation, so it maps to the same key.
func Identity(e Event) string {
	if c, ok := e.(*EventContent); ok {
		tail := c.Text
		if len(tail) > identityTailLen {
			tail = tail[len(tail)-identityTailLen:]
		}
		return fmt.Sprintf("%s:%d:%s", EventTypeContent, len(c.Text), tail)
	}
	return fmt.Sprintf("%s:%d", e.Type(), e.Metadata().Generation)
}
