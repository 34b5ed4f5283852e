package backend

import (
	"context"
	"iter"

	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
)

// Response is the result of a non-streaming generation.
type Response struct {
	Content      history.Content     `json:"content"`
	FinishReason events.FinishReason `json:"finish_reason,omitempty"`
}

func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Content.Text()
}

// Client is the contract the turn coordinator relies on.
//
// Every call honors ctx cancellation. Authorization failures satisfy
// IsUnauthorized, which lets hosts trigger re-authentication.
type Client interface {
	// Generate runs a one-shot generation over contents without touching the history.
	Generate(ctx context.Context, contents []history.Content, promptID string) (*Response, error)
	// GenerateStream sends parts as the next user message and streams the reply.
	GenerateStream(ctx context.Context, parts []history.Part, promptID string) iter.Seq2[events.Event, error]
	CountTokens(ctx context.Context, contents []history.Content) (int, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	History() []history.Content
	AddHistory(c history.Content)
	Model() string
}

// ToolSpec declares a tool to the model.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is the JSON schema of the arguments.
	Parameters any `json:"parameters,omitempty"`
}

type ProviderRequest struct {
	Model             string
	SystemInstruction string
	Contents          []history.Content
	Tools             []ToolSpec
}

// Provider adapts one vendor API. Providers are stateless; the Session owns history.
//
// StreamContent yields Thought, Content, ToolCallRequest, Finished and Error
// events. Content events are fragments in the provider's fragment mode.
type Provider interface {
	Name() string
	StreamContent(ctx context.Context, req ProviderRequest) iter.Seq2[events.Event, error]
	GenerateContent(ctx context.Context, req ProviderRequest) (*Response, error)
	CountTokens(ctx context.Context, model string, contents []history.Content) (int, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
