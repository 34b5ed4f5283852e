package turn

import (
	"context"
	"time"
)

type StreamingState string

const (
	StateIdle                   StreamingState = "idle"
	StateResponding             StreamingState = "responding"
	StateWaitingForConfirmation StreamingState = "waiting_for_confirmation"
)

// Turn is one request/response cycle, including the tool calls it spawns.
type Turn struct {
	PromptID  string
	StartedAt time.Time
	Cancelled bool

	cancel context.CancelFunc
}
