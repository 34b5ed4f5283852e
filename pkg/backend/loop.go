package backend

import (
	"encoding/json"
	"strings"
)

const (
	DefaultToolCallLoopThreshold = 5
	DefaultContentLoopThreshold  = 10
)

// loopDetector flags a prompt whose model keeps repeating itself: the same
// tool call with the same arguments, or the same content chunk, many times in a row.
type loopDetector struct {
	promptID string

	toolThreshold    int
	contentThreshold int

	lastToolKey string
	toolRepeats int

	lastChunk    string
	chunkRepeats int
	detected     bool
}

func newLoopDetector(toolThreshold, contentThreshold int) *loopDetector {
	return &loopDetector{toolThreshold: toolThreshold, contentThreshold: contentThreshold}
}

// reset clears the counters when a new prompt starts.
func (l *loopDetector) reset(promptID string) {
	if l.promptID == promptID {
		return
	}
	*l = loopDetector{
		promptID:         promptID,
		toolThreshold:    l.toolThreshold,
		contentThreshold: l.contentThreshold,
	}
}

func toolCallKey(name string, args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + ":" + string(b)
}

func (l *loopDetector) observeToolCall(name string, args map[string]any) bool {
	if l.toolThreshold <= 0 || l.detected {
		return l.detected
	}
	key := toolCallKey(name, args)
	if key == l.lastToolKey {
		l.toolRepeats++
	} else {
		l.lastToolKey = key
		l.toolRepeats = 1
	}
	if l.toolRepeats >= l.toolThreshold {
		l.detected = true
	}
	return l.detected
}

func (l *loopDetector) observeContent(chunk string) bool {
	if l.contentThreshold <= 0 || l.detected {
		return l.detected
	}
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return false
	}
	if chunk == l.lastChunk {
		l.chunkRepeats++
	} else {
		l.lastChunk = chunk
		l.chunkRepeats = 1
	}
	if l.chunkRepeats >= l.contentThreshold {
		l.detected = true
	}
	return l.detected
}
