package backend

import (
	"context"
	"iter"
	"sync"

	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/reassembler"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Session is the stateful Client built on a Provider. It owns the
// model-visible history, enforces the session turn limit, detects loops and
// compresses the history when it grows past the token budget.
type Session struct {
	provider Provider
	model    string
	system   string
	tools    []ToolSpec
	history  *history.Store

	fragmentMode reassembler.Mode

	maxSessionTurns      int
	tokenLimit           int
	compressionThreshold float64
	preserveFraction     float64

	mu           sync.Mutex
	sessionTurns int
	loops        *loopDetector
}

type SessionOption func(*Session)

func WithModel(model string) SessionOption {
	return func(s *Session) {
		s.model = model
	}
}

func WithSystemInstruction(system string) SessionOption {
	return func(s *Session) {
		s.system = system
	}
}

func WithTools(tools ...ToolSpec) SessionOption {
	return func(s *Session) {
		s.tools = append(s.tools, tools...)
	}
}

func WithHistory(h *history.Store) SessionOption {
	return func(s *Session) {
		s.history = h
	}
}

// WithFragmentMode tells the session how the provider's content fragments
// accumulate, so the recorded model message matches what was displayed.
func WithFragmentMode(mode reassembler.Mode) SessionOption {
	return func(s *Session) {
		s.fragmentMode = mode
	}
}

// WithMaxSessionTurns limits the number of streamed turns. 0 disables the limit.
func WithMaxSessionTurns(n int) SessionOption {
	return func(s *Session) {
		s.maxSessionTurns = n
	}
}

// WithCompression enables history compression once the history exceeds
// threshold * tokenLimit tokens.
func WithCompression(tokenLimit int, threshold float64) SessionOption {
	return func(s *Session) {
		s.tokenLimit = tokenLimit
		s.compressionThreshold = threshold
	}
}

// WithLoopThresholds sets how many identical tool calls or content chunks in a row count as a loop.
// A threshold of 0 disables that check.
func WithLoopThresholds(toolCalls, contentChunks int) SessionOption {
	return func(s *Session) {
		s.loops = newLoopDetector(toolCalls, contentChunks)
	}
}

func NewSession(provider Provider, options ...SessionOption) *Session {
	ret := &Session{
		provider:         provider,
		history:          history.NewStore(),
		fragmentMode:     reassembler.ModeDelta,
		preserveFraction: 0.3,
		loops:            newLoopDetector(DefaultToolCallLoopThreshold, DefaultContentLoopThreshold),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Session) Model() string {
	return s.model
}

func (s *Session) History() []history.Content {
	return s.history.Snapshot()
}

func (s *Session) AddHistory(c history.Content) {
	s.history.Add(c)
}

func (s *Session) SetHistory(contents []history.Content) {
	s.history.Replace(contents)
}

func (s *Session) Generate(ctx context.Context, contents []history.Content, promptID string) (*Response, error) {
	log.Debug().Str("provider", s.provider.Name()).Str("prompt_id", promptID).Int("contents", len(contents)).Msg("generate")
	resp, err := s.provider.GenerateContent(ctx, ProviderRequest{
		Model:             s.model,
		SystemInstruction: s.system,
		Contents:          contents,
	})
	if err != nil {
		return nil, errors.Wrap(err, "generate failed")
	}
	return resp, nil
}

func (s *Session) CountTokens(ctx context.Context, contents []history.Content) (int, error) {
	n, err := s.provider.CountTokens(ctx, s.model, contents)
	if err != nil {
		return 0, errors.Wrap(err, "count tokens failed")
	}
	return n, nil
}

func (s *Session) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := s.provider.Embed(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, "embed failed")
	}
	return v, nil
}

// GenerateStream appends parts to the history as a user message and streams
// the model's reply. Every yielded event carries the prompt ID and a
// generation number that increases by one per event. An event the provider
// delivers again keeps the generation it got the first time, and is yielded
// without being recorded twice.
//
// Cancellation of ctx ends the stream with a UserCancelled event rather than
// an error.
func (s *Session) GenerateStream(ctx context.Context, parts []history.Part, promptID string) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		var generation uint64
		stamped := map[events.Event]struct{}{}
		// stamp numbers e unless it was already numbered in this stream, and
		// reports whether it was new.
		stamp := func(e events.Event) bool {
			if _, ok := stamped[e]; ok {
				return false
			}
			stamped[e] = struct{}{}
			generation++
			e.SetMetadata(events.Meta{Generation: generation, PromptID: promptID})
			events.PublishEventToContext(ctx, e)
			return true
		}
		emit := func(e events.Event) bool {
			stamp(e)
			return yield(e, nil)
		}

		s.mu.Lock()
		s.sessionTurns++
		turns := s.sessionTurns
		s.loops.reset(promptID)
		s.mu.Unlock()

		if s.maxSessionTurns > 0 && turns > s.maxSessionTurns {
			emit(events.NewMaxSessionTurnsEvent(s.maxSessionTurns))
			return
		}

		compressed, err := s.tryCompress(ctx, promptID)
		if err != nil {
			log.Warn().Err(err).Str("prompt_id", promptID).Msg("history compression failed")
		} else if compressed != nil {
			if !emit(compressed) {
				return
			}
		}

		s.history.Add(history.NewUserContent(parts...))

		rec := newReplyRecorder(s.fragmentMode)
		defer func() {
			if c, ok := rec.build(); ok {
				s.history.Add(c)
			}
		}()

		req := ProviderRequest{
			Model:             s.model,
			SystemInstruction: s.system,
			Contents:          s.history.Snapshot(),
			Tools:             s.tools,
		}

		seen := map[string]struct{}{}
		for ev, err := range s.provider.StreamContent(ctx, req) {
			if ctx.Err() != nil {
				emit(events.NewUserCancelledEvent())
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			if r, ok := ev.(*events.EventToolCallRequest); ok {
				if r.Request.CallID == "" {
					r.Request.CallID = r.Request.Name + "-" + uuid.NewString()
				}
				r.Request.PromptID = promptID
			}
			fresh := stamp(ev)
			id := events.Identity(ev)
			_, duplicate := seen[id]
			seen[id] = struct{}{}

			loop := false
			if fresh {
				s.mu.Lock()
				switch e := ev.(type) {
				case *events.EventContent:
					loop = s.loops.observeContent(e.Text)
				case *events.EventToolCallRequest:
					loop = s.loops.observeToolCall(e.Request.Name, e.Request.Args)
				}
				s.mu.Unlock()
			}
			if loop {
				log.Warn().Str("prompt_id", promptID).Msg("loop detected, halting stream")
				emit(events.NewLoopDetectedEvent())
				return
			}

			if !duplicate {
				switch e := ev.(type) {
				case *events.EventContent:
					rec.addText(e.Text)
				case *events.EventToolCallRequest:
					rec.addToolCall(e.Request)
				}
			} else {
				log.Trace().Str("identity", id).Str("prompt_id", promptID).Msg("provider redelivered event")
			}
			if !yield(ev, nil) {
				return
			}
		}

		if ctx.Err() != nil {
			emit(events.NewUserCancelledEvent())
		}
	}
}

// replyRecorder accumulates the model reply that ends up in the history.
type replyRecorder struct {
	text    *reassembler.Reassembler
	calls   []history.Part
	callIDs map[string]struct{}
}

func newReplyRecorder(mode reassembler.Mode) *replyRecorder {
	return &replyRecorder{text: reassembler.New(mode), callIDs: map[string]struct{}{}}
}

func (r *replyRecorder) addText(fragment string) {
	r.text.Apply(fragment)
}

func (r *replyRecorder) addToolCall(req events.ToolCallRequestInfo) {
	if _, ok := r.callIDs[req.CallID]; ok {
		return
	}
	r.callIDs[req.CallID] = struct{}{}
	r.calls = append(r.calls, history.Part{FunctionCall: &history.FunctionCall{
		ID:   req.CallID,
		Name: req.Name,
		Args: req.Args,
	}})
}

func (r *replyRecorder) build() (history.Content, bool) {
	var parts []history.Part
	if t := r.text.Text(); t != "" {
		parts = append(parts, history.TextPart(t))
	}
	parts = append(parts, r.calls...)
	if len(parts) == 0 {
		return history.Content{}, false
	}
	return history.NewModelContent(parts...), true
}

var _ Client = (*Session)(nil)
