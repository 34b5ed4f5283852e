package events

import (
	"fmt"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeThought              EventType = "thought"
	EventTypeContent              EventType = "content"
	EventTypeToolCallRequest      EventType = "tool_call_request"
	EventTypeUserCancelled        EventType = "user_cancelled"
	EventTypeError                EventType = "error"
	EventTypeChatCompressed       EventType = "chat_compressed"
	EventTypeToolCallConfirmation EventType = "tool_call_confirmation"
	EventTypeToolCallResponse     EventType = "tool_call_response"
	EventTypeMaxSessionTurns      EventType = "max_session_turns"
	EventTypeFinished             EventType = "finished"
	EventTypeLoopDetected         EventType = "loop_detected"
)

// Event is the closed set of stream events produced by a backend session.
//
// The set is sealed: only the types in this file implement it, and every
// consumer handles them through Visitor, so a new kind cannot be added
// without every Visitor implementation being extended.
type Event interface {
	Type() EventType
	Metadata() Meta
	SetMetadata(Meta)
	Accept(v Visitor) error

	sealed()
}

// Visitor has one method per event kind.
type Visitor interface {
	VisitThought(e *EventThought) error
	VisitContent(e *EventContent) error
	VisitToolCallRequest(e *EventToolCallRequest) error
	VisitUserCancelled(e *EventUserCancelled) error
	VisitError(e *EventError) error
	VisitChatCompressed(e *EventChatCompressed) error
	VisitToolCallConfirmation(e *EventToolCallConfirmation) error
	VisitToolCallResponse(e *EventToolCallResponse) error
	VisitMaxSessionTurns(e *EventMaxSessionTurns) error
	VisitFinished(e *EventFinished) error
	VisitLoopDetected(e *EventLoopDetected) error
}

// Meta is attached to every event by the backend session.
// Generation increases by one for each event of a stream.
type Meta struct {
	Generation uint64 `json:"generation"`
	PromptID   string `json:"prompt_id,omitempty"`
}

func (m Meta) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("generation", m.Generation)
	if m.PromptID != "" {
		e.Str("prompt_id", m.PromptID)
	}
}

type EventImpl struct {
	Type_     EventType `json:"type"`
	Metadata_ Meta      `json:"meta"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() Meta {
	return e.Metadata_
}

func (e *EventImpl) SetMetadata(m Meta) {
	e.Metadata_ = m
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) sealed() {}

// ThoughtSummary is the model's short description of what it is reasoning about.
type ThoughtSummary struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

type EventThought struct {
	EventImpl
	Thought ThoughtSummary `json:"thought"`
}

func NewThoughtEvent(subject, description string) *EventThought {
	return &EventThought{
		EventImpl: EventImpl{Type_: EventTypeThought},
		Thought:   ThoughtSummary{Subject: subject, Description: description},
	}
}

func (e *EventThought) Accept(v Visitor) error { return v.VisitThought(e) }

type EventContent struct {
	EventImpl
	Text string `json:"text"`
}

func NewContentEvent(text string) *EventContent {
	return &EventContent{
		EventImpl: EventImpl{Type_: EventTypeContent},
		Text:      text,
	}
}

func (e *EventContent) Accept(v Visitor) error { return v.VisitContent(e) }

type EventToolCallRequest struct {
	EventImpl
	Request ToolCallRequestInfo `json:"request"`
}

func NewToolCallRequestEvent(req ToolCallRequestInfo) *EventToolCallRequest {
	return &EventToolCallRequest{
		EventImpl: EventImpl{Type_: EventTypeToolCallRequest},
		Request:   req,
	}
}

func (e *EventToolCallRequest) Accept(v Visitor) error { return v.VisitToolCallRequest(e) }

type EventUserCancelled struct {
	EventImpl
}

func NewUserCancelledEvent() *EventUserCancelled {
	return &EventUserCancelled{EventImpl: EventImpl{Type_: EventTypeUserCancelled}}
}

func (e *EventUserCancelled) Accept(v Visitor) error { return v.VisitUserCancelled(e) }

// EventError reports a failure the backend surfaced inside the stream.
// Status is the HTTP-like status code when one is known, 0 otherwise.
type EventError struct {
	EventImpl
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func NewErrorEvent(message string, status int) *EventError {
	return &EventError{
		EventImpl: EventImpl{Type_: EventTypeError},
		Message:   message,
		Status:    status,
	}
}

func (e *EventError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *EventError) Accept(v Visitor) error { return v.VisitError(e) }

type EventChatCompressed struct {
	EventImpl
	OriginalTokenCount int `json:"original_token_count"`
	NewTokenCount      int `json:"new_token_count"`
}

func NewChatCompressedEvent(original, compressed int) *EventChatCompressed {
	return &EventChatCompressed{
		EventImpl:          EventImpl{Type_: EventTypeChatCompressed},
		OriginalTokenCount: original,
		NewTokenCount:      compressed,
	}
}

func (e *EventChatCompressed) Accept(v Visitor) error { return v.VisitChatCompressed(e) }

type EventToolCallConfirmation struct {
	EventImpl
	Request ToolCallRequestInfo `json:"request"`
}

func NewToolCallConfirmationEvent(req ToolCallRequestInfo) *EventToolCallConfirmation {
	return &EventToolCallConfirmation{
		EventImpl: EventImpl{Type_: EventTypeToolCallConfirmation},
		Request:   req,
	}
}

func (e *EventToolCallConfirmation) Accept(v Visitor) error { return v.VisitToolCallConfirmation(e) }

type EventToolCallResponse struct {
	EventImpl
	Response ToolCallResponseInfo `json:"response"`
}

func NewToolCallResponseEvent(resp ToolCallResponseInfo) *EventToolCallResponse {
	return &EventToolCallResponse{
		EventImpl: EventImpl{Type_: EventTypeToolCallResponse},
		Response:  resp,
	}
}

func (e *EventToolCallResponse) Accept(v Visitor) error { return v.VisitToolCallResponse(e) }

type EventMaxSessionTurns struct {
	EventImpl
	Limit int `json:"limit"`
}

func NewMaxSessionTurnsEvent(limit int) *EventMaxSessionTurns {
	return &EventMaxSessionTurns{
		EventImpl: EventImpl{Type_: EventTypeMaxSessionTurns},
		Limit:     limit,
	}
}

func (e *EventMaxSessionTurns) Accept(v Visitor) error { return v.VisitMaxSessionTurns(e) }

type EventFinished struct {
	EventImpl
	Reason FinishReason `json:"reason"`
}

func NewFinishedEvent(reason FinishReason) *EventFinished {
	return &EventFinished{
		EventImpl: EventImpl{Type_: EventTypeFinished},
		Reason:    reason,
	}
}

func (e *EventFinished) Accept(v Visitor) error { return v.VisitFinished(e) }

type EventLoopDetected struct {
	EventImpl
}

func NewLoopDetectedEvent() *EventLoopDetected {
	return &EventLoopDetected{EventImpl: EventImpl{Type_: EventTypeLoopDetected}}
}

func (e *EventLoopDetected) Accept(v Visitor) error { return v.VisitLoopDetected(e) }

var (
	_ Event = (*EventThought)(nil)
	_ Event = (*EventContent)(nil)
	_ Event = (*EventToolCallRequest)(nil)
	_ Event = (*EventUserCancelled)(nil)
	_ Event = (*EventError)(nil)
	_ Event = (*EventChatCompressed)(nil)
	_ Event = (*EventToolCallConfirmation)(nil)
	_ Event = (*EventToolCallResponse)(nil)
	_ Event = (*EventMaxSessionTurns)(nil)
	_ Event = (*EventFinished)(nil)
	_ Event = (*EventLoopDetected)(nil)
)
