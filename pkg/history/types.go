package history

import (
	"strings"
)

// Role identifies who produced a Content.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// FunctionCall is a tool invocation emitted by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name string         `json:"name" yaml:"name"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// FunctionResponse carries the result of a FunctionCall back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string         `json:"name" yaml:"name"`
	Response map[string]any `json:"response,omitempty" yaml:"response,omitempty"`
}

// Part is one element of a Content. Exactly one of the fields is expected to be set.
type Part struct {
	Text             string            `json:"text,omitempty" yaml:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty" yaml:"thought,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty" yaml:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty" yaml:"function_response,omitempty"`
}

// Content is one message of the model-visible conversation.
type Content struct {
	Role  Role   `json:"role" yaml:"role"`
	Parts []Part `json:"parts" yaml:"parts"`
}

func TextPart(s string) Part {
	return Part{Text: s}
}

func NewUserContent(parts ...Part) Content {
	return Content{Role: RoleUser, Parts: parts}
}

func NewModelContent(parts ...Part) Content {
	return Content{Role: RoleModel, Parts: parts}
}

// NewFunctionResponsePart builds the part that reports a tool result to the model.
func NewFunctionResponsePart(callID, name string, response map[string]any) Part {
	return Part{FunctionResponse: &FunctionResponse{ID: callID, Name: name, Response: response}}
}

// Text concatenates the non-thought text parts.
func (c Content) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// FunctionCalls returns the function calls contained in c, in order.
func (c Content) FunctionCalls() []FunctionCall {
	var ret []FunctionCall
	for _, p := range c.Parts {
		if p.FunctionCall != nil {
			ret = append(ret, *p.FunctionCall)
		}
	}
	return ret
}

// IsFunctionResponse reports whether every part of c is a function response.
func (c Content) IsFunctionResponse() bool {
	if len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// PartsText joins the text of parts, used for logging and token estimates.
func PartsText(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
