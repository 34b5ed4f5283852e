package turn

import (
	"context"

	"github.com/go-go-golems/turnpike/pkg/history"
)

// Preprocessed is the outcome of one input collaborator.
type Preprocessed struct {
	// Handled means the input was consumed and the turn ends without a backend call.
	Handled bool
	// Parts, when set, replaces the payload sent to the model.
	Parts []history.Part
}

// CommandProcessor handles slash commands.
type CommandProcessor interface {
	ProcessCommand(ctx context.Context, text string) (Preprocessed, error)
}

// ShellProcessor handles input typed in shell mode.
type ShellProcessor interface {
	ProcessShell(ctx context.Context, text string) (Preprocessed, error)
}

// ReferenceProcessor expands @path references into model parts.
type ReferenceProcessor interface {
	ProcessReferences(ctx context.Context, text string) (Preprocessed, error)
}

// AuthErrorHandler is called when the backend rejects the credentials.
type AuthErrorHandler func(ctx context.Context, err error)

// FallbackHandler is offered quota errors. Returning true marks the session
// as having switched models, which suppresses further continuations.
type FallbackHandler func(ctx context.Context, err error) bool

type CommandProcessorFunc func(ctx context.Context, text string) (Preprocessed, error)

func (f CommandProcessorFunc) ProcessCommand(ctx context.Context, text string) (Preprocessed, error) {
	return f(ctx, text)
}

type ShellProcessorFunc func(ctx context.Context, text string) (Preprocessed, error)

func (f ShellProcessorFunc) ProcessShell(ctx context.Context, text string) (Preprocessed, error) {
	return f(ctx, text)
}

type ReferenceProcessorFunc func(ctx context.Context, text string) (Preprocessed, error)

func (f ReferenceProcessorFunc) ProcessReferences(ctx context.Context, text string) (Preprocessed, error) {
	return f(ctx, text)
}
