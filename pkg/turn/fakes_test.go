package turn_test

import (
	"context"
	"iter"
	"sync"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/toolcalls"
)

// step is one element of a fake stream. When reached is set it is closed as
// soon as the stream gets to the step. When wait is set the stream blocks on
// it before yielding; when err is set the stream fails with it. hold blocks
// like wait but ignores cancellation, like a backend that keeps sending.
type step struct {
	ev      events.Event
	reached chan struct{}
	wait    chan struct{}
	hold    chan struct{}
	err     error
}

func ev(e events.Event) step {
	return step{ev: e}
}

type streamRequest struct {
	parts    []history.Part
	promptID string
}

type fakeClient struct {
	mu       sync.Mutex
	streams  [][]step
	requests []streamRequest
	history  []history.Content
}

func newFakeClient(streams ...[]step) *fakeClient {
	return &fakeClient{streams: streams}
}

func (f *fakeClient) Requests() []streamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streamRequest(nil), f.requests...)
}

func (f *fakeClient) Generate(context.Context, []history.Content, string) (*backend.Response, error) {
	return &backend.Response{}, nil
}

func (f *fakeClient) GenerateStream(ctx context.Context, parts []history.Part, promptID string) iter.Seq2[events.Event, error] {
	f.mu.Lock()
	f.requests = append(f.requests, streamRequest{parts: parts, promptID: promptID})
	var steps []step
	if len(f.streams) > 0 {
		steps, f.streams = f.streams[0], f.streams[1:]
	}
	f.mu.Unlock()

	return func(yield func(events.Event, error) bool) {
		var gen uint64
		for _, s := range steps {
			if s.reached != nil {
				close(s.reached)
			}
			if s.wait != nil {
				select {
				case <-s.wait:
				case <-ctx.Done():
					cancelled := events.NewUserCancelledEvent()
					cancelled.SetMetadata(events.Meta{Generation: 1000, PromptID: promptID})
					yield(cancelled, nil)
					return
				}
			}
			if s.hold != nil {
				<-s.hold
			}
			if s.err != nil {
				yield(nil, s.err)
				return
			}
			if s.ev == nil {
				continue
			}
			gen++
			if r, ok := s.ev.(*events.EventToolCallRequest); ok && r.Request.PromptID == "" {
				r.Request.PromptID = promptID
			}
			if s.ev.Metadata().Generation == 0 {
				s.ev.SetMetadata(events.Meta{Generation: gen, PromptID: promptID})
			}
			if !yield(s.ev, nil) {
				return
			}
		}
	}
}

func (f *fakeClient) CountTokens(context.Context, []history.Content) (int, error) {
	return 0, nil
}

func (f *fakeClient) Embed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func (f *fakeClient) History() []history.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]history.Content(nil), f.history...)
}

func (f *fakeClient) AddHistory(c history.Content) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, c)
}

func (f *fakeClient) Model() string {
	return "fake-model"
}

var _ backend.Client = (*fakeClient)(nil)

func respond(c *toolcalls.TrackedCall, state toolcalls.State) {
	c.State = state
	c.Response = &events.ToolCallResponseInfo{
		CallID:        c.Request.CallID,
		ResponseParts: []history.Part{history.NewFunctionResponsePart(c.Request.CallID, c.Request.Name, map[string]any{"output": string(state)})},
		ResultDisplay: string(state),
	}
}

// settlingExecutor completes every call successfully in the background.
type settlingExecutor struct{}

func (settlingExecutor) Schedule(ctx context.Context, calls []*toolcalls.TrackedCall, l toolcalls.Listener) error {
	go func() {
		for _, c := range calls {
			respond(c, toolcalls.StateSuccess)
		}
		l.OnBatchSettled(ctx, calls)
	}()
	return nil
}

// blockingExecutor runs calls until their context is cancelled.
type blockingExecutor struct {
	started chan struct{}
}

func (b *blockingExecutor) Schedule(ctx context.Context, calls []*toolcalls.TrackedCall, l toolcalls.Listener) error {
	go func() {
		for _, c := range calls {
			c.State = toolcalls.StateExecuting
		}
		l.OnCallsUpdated(calls)
		close(b.started)
		<-ctx.Done()
		for _, c := range calls {
			respond(c, toolcalls.StateCancelled)
		}
		l.OnBatchSettled(ctx, calls)
	}()
	return nil
}

type noopExecutor struct{}

func (noopExecutor) Schedule(context.Context, []*toolcalls.TrackedCall, toolcalls.Listener) error {
	return nil
}
