package events

import (
	"github.com/go-go-golems/turnpike/pkg/history"
)

// ToolCallRequestInfo is an immutable tool invocation request.
// CallID is unique within a turn.
type ToolCallRequestInfo struct {
	CallID          string         `json:"call_id" yaml:"call_id"`
	Name            string         `json:"name" yaml:"name"`
	Args            map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	ClientInitiated bool           `json:"client_initiated,omitempty" yaml:"client_initiated,omitempty"`
	PromptID        string         `json:"prompt_id,omitempty" yaml:"prompt_id,omitempty"`
}

// ToolCallResponseInfo is what a tool execution produced for one call.
type ToolCallResponseInfo struct {
	CallID        string         `json:"call_id" yaml:"call_id"`
	ResponseParts []history.Part `json:"response_parts" yaml:"response_parts"`
	ResultDisplay string         `json:"result_display,omitempty" yaml:"result_display,omitempty"`
	ErrorMessage  string         `json:"error,omitempty" yaml:"error,omitempty"`
}
