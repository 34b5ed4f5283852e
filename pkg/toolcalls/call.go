package toolcalls

import (
	"context"

	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/transcript"
)

type State string

const (
	StateScheduled        State = "scheduled"
	StateValidating       State = "validating"
	StateAwaitingApproval State = "awaiting_approval"
	StateExecuting        State = "executing"
	StateSuccess          State = "success"
	StateError            State = "error"
	StateCancelled        State = "cancelled"
)

func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateError || s == StateCancelled
}

// DisplayStatus maps a call state onto the status shown in a tool group entry.
func (s State) DisplayStatus() transcript.ToolStatus {
	switch s {
	case StateAwaitingApproval:
		return transcript.ToolStatusConfirming
	case StateExecuting:
		return transcript.ToolStatusExecuting
	case StateSuccess:
		return transcript.ToolStatusSuccess
	case StateError:
		return transcript.ToolStatusError
	case StateCancelled:
		return transcript.ToolStatusCancelled
	default:
		return transcript.ToolStatusPending
	}
}

// TrackedCall is a tool call request plus its lifecycle state.
// Only the executor moves a call between states.
type TrackedCall struct {
	Request   events.ToolCallRequestInfo   `json:"request" yaml:"request"`
	State     State                        `json:"state" yaml:"state"`
	Response  *events.ToolCallResponseInfo `json:"response,omitempty" yaml:"response,omitempty"`
	Submitted bool                         `json:"submitted,omitempty" yaml:"submitted,omitempty"`

	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Mutating is set by the executor for tools that modify files.
	Mutating bool `json:"mutating,omitempty" yaml:"mutating,omitempty"`
}

func NewTrackedCall(req events.ToolCallRequestInfo) *TrackedCall {
	return &TrackedCall{
		Request:     req,
		State:       StateScheduled,
		DisplayName: req.Name,
	}
}

// ReadyForSubmission reports whether the call is terminal, has a response and was not submitted yet.
func (c *TrackedCall) ReadyForSubmission() bool {
	return c.State.IsTerminal() && c.Response != nil && !c.Submitted
}

func (c *TrackedCall) Clone() *TrackedCall {
	ret := *c
	if c.Response != nil {
		resp := *c.Response
		resp.ResponseParts = append([]history.Part(nil), c.Response.ResponseParts...)
		ret.Response = &resp
	}
	return &ret
}

func (c *TrackedCall) Display() transcript.ToolDisplay {
	ret := transcript.ToolDisplay{
		CallID:      c.Request.CallID,
		Name:        c.Request.Name,
		DisplayName: c.DisplayName,
		Description: c.Description,
		Status:      c.State.DisplayStatus(),
	}
	if ret.DisplayName == "" {
		ret.DisplayName = c.Request.Name
	}
	if c.Response != nil {
		ret.ResultDisplay = c.Response.ResultDisplay
		if ret.ResultDisplay == "" {
			ret.ResultDisplay = c.Response.ErrorMessage
		}
	}
	return ret
}

// Listener receives state changes from an Executor. The calls passed in are
// snapshots owned by the listener.
type Listener interface {
	OnCallsUpdated(calls []*TrackedCall)
	// OnBatchSettled is called once all calls of a batch reached a terminal state.
	OnBatchSettled(ctx context.Context, calls []*TrackedCall)
}

// Executor runs tool calls. Schedule returns once the calls are accepted;
// progress is reported to the Listener from the executor's own goroutines.
// Cancelling ctx moves every non-terminal call to cancelled.
type Executor interface {
	Schedule(ctx context.Context, calls []*TrackedCall, l Listener) error
}

// Submitter sends tool results back to the model.
type Submitter interface {
	// AddHistory records content in the model history without starting a turn.
	AddHistory(c history.Content)
	// SubmitContinuation starts a continuation turn carrying parts.
	SubmitContinuation(ctx context.Context, parts []history.Part, promptID string) error
	// ContinuationSuppressed reports whether the session must not issue further turns.
	ContinuationSuppressed() bool
}

// ApprovalObserver is told about mutating calls that start waiting for approval.
type ApprovalObserver interface {
	OnAwaitingApproval(ctx context.Context, call *TrackedCall)
}

// MemoryRefresher reloads the memory context after a successful save_memory call.
type MemoryRefresher interface {
	RefreshMemory(ctx context.Context) error
}
