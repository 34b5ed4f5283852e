package transcript

import (
	"time"
)

type Kind string

const (
	KindUser                  Kind = "user"
	KindUserShell             Kind = "user_shell"
	KindAssistant             Kind = "assistant"
	KindAssistantContinuation Kind = "assistant_continuation"
	KindToolGroup             Kind = "tool_group"
	KindInfo                  Kind = "info"
	KindError                 Kind = "error"
)

// ToolStatus is the display status of one tool call inside a tool group.
type ToolStatus string

const (
	ToolStatusPending    ToolStatus = "pending"
	ToolStatusConfirming ToolStatus = "confirming"
	ToolStatusExecuting  ToolStatus = "executing"
	ToolStatusSuccess    ToolStatus = "success"
	ToolStatusError      ToolStatus = "error"
	ToolStatusCancelled  ToolStatus = "cancelled"
)

type ToolDisplay struct {
	CallID        string     `json:"call_id" yaml:"call_id"`
	Name          string     `json:"name" yaml:"name"`
	DisplayName   string     `json:"display_name" yaml:"display_name"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	Status        ToolStatus `json:"status" yaml:"status"`
	ResultDisplay string     `json:"result_display,omitempty" yaml:"result_display,omitempty"`
}

// Entry is one rendered unit of the transcript. Entries are immutable once appended.
type Entry struct {
	ID        int           `json:"id" yaml:"id"`
	Kind      Kind          `json:"kind" yaml:"kind"`
	Text      string        `json:"text,omitempty" yaml:"text,omitempty"`
	Tools     []ToolDisplay `json:"tools,omitempty" yaml:"tools,omitempty"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

func NewTextEntry(kind Kind, text string) Entry {
	return Entry{Kind: kind, Text: text}
}

func NewToolGroupEntry(tools []ToolDisplay) Entry {
	return Entry{Kind: KindToolGroup, Tools: tools}
}
