package scripted

import (
	"context"
	"hash/fnv"
	"iter"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/rs/zerolog/log"
)

const embeddingDimensions = 16

// Provider replays a Script. It is used by tests and by the offline demo backend.
type Provider struct {
	script *Script

	mu       sync.Mutex
	turn     int
	response int
	requests []backend.ProviderRequest
}

func New(script *Script) *Provider {
	return &Provider{script: script}
}

func (p *Provider) Name() string {
	return "scripted"
}

// Requests returns every request received so far.
func (p *Provider) Requests() []backend.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]backend.ProviderRequest{}, p.requests...)
}

func (p *Provider) nextTurn(req backend.ProviderRequest) (Turn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.turn >= len(p.script.Turns) {
		return Turn{}, false
	}
	t := p.script.Turns[p.turn]
	p.turn++
	return t, true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Provider) StreamContent(ctx context.Context, req backend.ProviderRequest) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		turn, ok := p.nextTurn(req)
		if !ok {
			yield(nil, &backend.APIError{Message: "script exhausted"})
			return
		}
		log.Debug().Str("provider", p.Name()).Int("steps", len(turn.Steps)).Msg("replaying scripted turn")

		for _, step := range turn.Steps {
			if err := sleep(ctx, step.Delay); err != nil {
				yield(nil, err)
				return
			}

			var ev events.Event
			switch {
			case step.Thought != "":
				t := events.ParseThought(step.Thought)
				ev = events.NewThoughtEvent(t.Subject, t.Description)
			case step.Content != "":
				ev = events.NewContentEvent(step.Content)
			case step.ToolCall != nil:
				ev = events.NewToolCallRequestEvent(events.ToolCallRequestInfo{
					CallID: step.ToolCall.ID,
					Name:   step.ToolCall.Name,
					Args:   step.ToolCall.Args,
				})
			case step.Finished != "":
				ev = events.NewFinishedEvent(events.FinishReason(step.Finished))
			case step.Error != nil:
				ev = events.NewErrorEvent(step.Error.Message, step.Error.Status)
			case step.Fail != nil:
				yield(nil, backend.ErrorFromStatus(step.Fail.Status, step.Fail.Message))
				return
			default:
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (p *Provider) GenerateContent(ctx context.Context, req backend.ProviderRequest) (*backend.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.response >= len(p.script.Responses) {
		return nil, &backend.APIError{Message: "no scripted response left"}
	}
	text := p.script.Responses[p.response]
	p.response++
	return &backend.Response{
		Content:      history.NewModelContent(history.TextPart(text)),
		FinishReason: events.FinishReasonStop,
	}, nil
}

// CountTokens estimates four characters per token.
func (p *Provider) CountTokens(ctx context.Context, model string, contents []history.Content) (int, error) {
	n := 0
	for _, c := range contents {
		for _, part := range c.Parts {
			n += utf8.RuneCountInString(part.Text)
			if part.FunctionCall != nil {
				n += len(part.FunctionCall.Name) + 16
			}
			if part.FunctionResponse != nil {
				n += len(part.FunctionResponse.Name) + 32
			}
		}
	}
	return (n + 3) / 4, nil
}

// Embed returns deterministic pseudo-vectors derived from an FNV hash of each text.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ret := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(t))
		seed := h.Sum64()
		v := make([]float32, embeddingDimensions)
		for j := range v {
			seed = seed*6364136223846793005 + 1442695040888963407
			v[j] = float32(seed>>40)/float32(1<<24) - 0.5
		}
		ret[i] = v
	}
	return ret, nil
}

var _ backend.Provider = (*Provider)(nil)
