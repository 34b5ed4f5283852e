package turn_test

import (
	"context"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/reassembler"
	"github.com/go-go-golems/turnpike/pkg/toolcalls"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/go-go-golems/turnpike/pkg/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, client *fakeClient, executor toolcalls.Executor, opts ...turn.Option) (*turn.Coordinator, *transcript.Transcript) {
	t.Helper()
	tr := transcript.New()
	return turn.New(client, tr, executor, opts...), tr
}

type entrySummary struct {
	Kind transcript.Kind
	Text string
}

func summarize(entries []transcript.Entry) []entrySummary {
	var ret []entrySummary
	for _, e := range entries {
		ret = append(ret, entrySummary{Kind: e.Kind, Text: e.Text})
	}
	return ret
}

func waitIdle(t *testing.T, c *turn.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitIdle(ctx))
}

func toolRequest(id, name string) *events.EventToolCallRequest {
	return events.NewToolCallRequestEvent(events.ToolCallRequestInfo{CallID: id, Name: name})
}

func TestWhitespaceQueryAbortsBeforeBackend(t *testing.T) {
	client := newFakeClient()
	c, tr := newCoordinator(t, client, noopExecutor{})

	err := c.SubmitQuery(context.Background(), "  \n\t")
	assert.ErrorIs(t, err, turn.ErrEmptyQuery)
	assert.Empty(t, client.Requests())
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, turn.StateIdle, c.State())
}

func TestMixedDeltaAndSnapshotFragments(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewContentEvent("Hel")),
		ev(events.NewContentEvent("Hello")),
		ev(events.NewContentEvent("Hello wo")),
		ev(events.NewFinishedEvent(events.FinishReasonStop)),
	})
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithFragmentMode(reassembler.ModeAuto))

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "Hello wo"},
	}, summarize(tr.Entries()))
}

func TestParagraphsAreCommittedAsContinuations(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewContentEvent("First paragraph.\n\nSecond")),
		ev(events.NewContentEvent(" paragraph.")),
	})
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithFragmentMode(reassembler.ModeDelta))

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "First paragraph.\n\n"},
		{transcript.KindAssistantContinuation, "Second paragraph."},
	}, summarize(tr.Entries()))
}

func TestMaxTokensProducesOneNotice(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewContentEvent("partial")),
		ev(events.NewFinishedEvent(events.FinishReasonMaxTokens)),
	})
	c, tr := newCoordinator(t, client, noopExecutor{})

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "partial"},
		{transcript.KindInfo, "⚠️  Response truncated due to token limits."},
	}, summarize(tr.Entries()))
}

func TestDuplicateEventsAreDropped(t *testing.T) {
	content := events.NewContentEvent("ok")
	finished := events.NewFinishedEvent(events.FinishReasonSafety)
	client := newFakeClient([]step{
		ev(content),
		ev(content),
		ev(toolRequest("call-1", "read_file")),
		ev(toolRequest("call-1", "read_file")),
		ev(finished),
		ev(finished),
	})
	c, tr := newCoordinator(t, client, settlingExecutor{})

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	waitIdle(t, c)

	calls := c.Tracker().Calls()
	assert.Len(t, calls, 1)

	var assistant, notices, groups int
	for _, e := range tr.Entries() {
		switch e.Kind {
		case transcript.KindAssistant:
			assistant++
			assert.Equal(t, "ok", e.Text)
		case transcript.KindInfo:
			notices++
		case transcript.KindToolGroup:
			groups++
		}
	}
	assert.Equal(t, 1, assistant)
	assert.Equal(t, 1, notices)
	assert.Equal(t, 1, groups)
}

func TestIdenticalContentFragmentsCollapse(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewContentEvent("ha")),
		ev(events.NewContentEvent("ha")),
		ev(events.NewContentEvent("!")),
	})
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithFragmentMode(reassembler.ModeDelta))

	require.NoError(t, c.SubmitQuery(context.Background(), "laugh"))
	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "ha!", entries[1].Text)
}

// redeliveringProvider yields every event of its streams twice.
type redeliveringProvider struct {
	mu      sync.Mutex
	streams [][]events.Event
}

func (p *redeliveringProvider) Name() string { return "redelivering" }

func (p *redeliveringProvider) StreamContent(context.Context, backend.ProviderRequest) iter.Seq2[events.Event, error] {
	p.mu.Lock()
	var stream []events.Event
	if len(p.streams) > 0 {
		stream, p.streams = p.streams[0], p.streams[1:]
	}
	p.mu.Unlock()

	return func(yield func(events.Event, error) bool) {
		for _, e := range stream {
			if !yield(e, nil) || !yield(e, nil) {
				return
			}
		}
	}
}

func (p *redeliveringProvider) GenerateContent(context.Context, backend.ProviderRequest) (*backend.Response, error) {
	return &backend.Response{}, nil
}

func (p *redeliveringProvider) CountTokens(context.Context, string, []history.Content) (int, error) {
	return 0, nil
}

func (p *redeliveringProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

func TestSessionRedeliveryIsDropped(t *testing.T) {
	provider := &redeliveringProvider{streams: [][]events.Event{
		{
			events.NewContentEvent("Hello"),
			toolRequest("call-1", "read_file"),
			events.NewFinishedEvent(events.FinishReasonMaxTokens),
		},
		{events.NewContentEvent("Done.")},
	}}
	session := backend.NewSession(provider, backend.WithFragmentMode(reassembler.ModeDelta))
	tr := transcript.New()
	c := turn.New(session, tr, settlingExecutor{}, turn.WithFragmentMode(reassembler.ModeDelta))

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	waitIdle(t, c)

	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "Hello"},
		{transcript.KindInfo, "⚠️  Response truncated due to token limits."},
		{transcript.KindToolGroup, ""},
		{transcript.KindAssistant, "Done."},
	}, summarize(tr.Entries()))
	assert.Len(t, c.Tracker().Calls(), 1)

	h := session.History()
	require.Len(t, h, 4)
	assert.Equal(t, "Hello", h[1].Text())
	assert.Len(t, h[1].FunctionCalls(), 1)
	assert.Equal(t, "Done.", h[3].Text())
}

func TestLoopNoticeFollowsPendingContent(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewContentEvent("again and again")),
		ev(events.NewLoopDetectedEvent()),
	})
	c, tr := newCoordinator(t, client, noopExecutor{})

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "again and again"},
		{transcript.KindInfo, turn.LoopDetectedNotice},
	}, summarize(tr.Entries()))
}

func TestAuthErrorIsReturned(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewContentEvent("partial")),
		{err: &backend.AuthError{Status: 401, Message: "bad key"}},
	})
	var authErr error
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithAuthErrorHandler(func(_ context.Context, err error) {
		authErr = err
	}))

	err := c.SubmitQuery(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, backend.IsUnauthorized(err))
	assert.True(t, backend.IsUnauthorized(authErr))
	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "partial"},
	}, summarize(tr.Entries()))
	assert.Equal(t, turn.StateIdle, c.State())
}

func TestAPIErrorBecomesEntry(t *testing.T) {
	client := newFakeClient([]step{
		{err: &backend.APIError{Status: 500, Message: "boom"}},
	})
	c, tr := newCoordinator(t, client, noopExecutor{})

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, transcript.KindError, entries[1].Kind)
	assert.Equal(t, "[API Error: boom]", entries[1].Text)
}

func TestErrorEventBecomesEntry(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewThoughtEvent("Planning", "")),
		ev(events.NewErrorEvent("stream broke", 0)),
	})
	c, tr := newCoordinator(t, client, noopExecutor{})

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "[API Error: stream broke]", entries[1].Text)
	_, ok := c.Thought()
	assert.False(t, ok)
}

func TestQuotaErrorOffersFallback(t *testing.T) {
	client := newFakeClient([]step{
		{err: &backend.QuotaError{Status: 429, Message: "slow down"}},
	})
	fallbackCalled := false
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithFallbackHandler(func(context.Context, error) bool {
		fallbackCalled = true
		return true
	}))

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	assert.True(t, fallbackCalled)
	assert.True(t, c.ContinuationSuppressed())
	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.True(t, strings.HasPrefix(entries[1].Text, "[API Error: slow down]\nPossible quota limitations"))
}

func TestNoticesForCompressionAndSessionLimit(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewChatCompressedEvent(1000, 200)),
		ev(events.NewMaxSessionTurnsEvent(5)),
	})
	c, tr := newCoordinator(t, client, noopExecutor{})

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	entries := tr.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "IMPORTANT: This conversation approached the input token limit for fake-model. A compressed context will be sent for future messages (compressed from: 1000 to 200 tokens).", entries[1].Text)
	assert.Equal(t, "The session has reached the maximum number of turns: 5. Please update this limit in your settings.", entries[2].Text)
	assert.True(t, c.ContinuationSuppressed())
}

func TestThoughtIsLastWriteWins(t *testing.T) {
	client := newFakeClient([]step{
		ev(events.NewThoughtEvent("First", "a")),
		ev(events.NewThoughtEvent("Second", "b")),
	}, nil)
	c, _ := newCoordinator(t, client, noopExecutor{})

	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))
	th, ok := c.Thought()
	require.True(t, ok)
	assert.Equal(t, "Second", th.Subject)

	require.NoError(t, c.SubmitQuery(context.Background(), "again"))
	_, ok = c.Thought()
	assert.False(t, ok)
}

func TestPromptIDs(t *testing.T) {
	client := newFakeClient(nil, nil)
	c, _ := newCoordinator(t, client, noopExecutor{}, turn.WithSessionID("s1"))

	require.NoError(t, c.SubmitQuery(context.Background(), "one"))
	require.NoError(t, c.SubmitQuery(context.Background(), "two"))
	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "s1########1", reqs[0].promptID)
	assert.Equal(t, "s1########2", reqs[1].promptID)
}

func TestSubmitWhileRespondingIsRejected(t *testing.T) {
	release := make(chan struct{})
	client := newFakeClient([]step{{wait: release}, ev(events.NewContentEvent("done"))})
	c, tr := newCoordinator(t, client, noopExecutor{})

	done := make(chan error, 1)
	go func() {
		done <- c.SubmitQuery(context.Background(), "first")
	}()
	require.Eventually(t, func() bool { return len(client.Requests()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, turn.StateResponding, c.State())

	err := c.SubmitQuery(context.Background(), "second")
	assert.ErrorIs(t, err, turn.ErrTurnInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, client.Requests(), 1)
	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "first"},
		{transcript.KindAssistant, "done"},
	}, summarize(tr.Entries()))
}

func TestCancelOngoingRequestIsIdempotent(t *testing.T) {
	reached := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	client := newFakeClient([]step{
		ev(events.NewContentEvent("working")),
		{reached: reached, wait: block},
		ev(events.NewContentEvent(" more")),
	})
	cancels := 0
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithOnCancel(func() { cancels++ }))

	done := make(chan error, 1)
	go func() {
		done <- c.SubmitQuery(context.Background(), "hi")
	}()
	<-reached
	assert.Equal(t, turn.StateResponding, c.State())

	c.CancelOngoingRequest()
	c.CancelOngoingRequest()
	require.NoError(t, <-done)

	assert.Equal(t, 1, cancels)
	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "working"},
		{transcript.KindInfo, turn.RequestCancelledNotice},
	}, summarize(tr.Entries()))
	assert.Equal(t, turn.StateIdle, c.State())
}

func TestEventsAfterCancelDoNotTouchTranscript(t *testing.T) {
	reached := make(chan struct{})
	hold := make(chan struct{})
	client := newFakeClient([]step{
		ev(events.NewContentEvent("working")),
		{ev: events.NewErrorEvent("late failure", 500), reached: reached, hold: hold},
		ev(events.NewChatCompressedEvent(100, 10)),
		ev(events.NewMaxSessionTurnsEvent(3)),
		ev(events.NewFinishedEvent(events.FinishReasonSafety)),
	})
	c, tr := newCoordinator(t, client, noopExecutor{})

	go func() {
		<-reached
		c.CancelOngoingRequest()
		close(hold)
	}()
	require.NoError(t, c.SubmitQuery(context.Background(), "hi"))

	assert.Equal(t, []entrySummary{
		{transcript.KindUser, "hi"},
		{transcript.KindAssistant, "working"},
		{transcript.KindInfo, turn.RequestCancelledNotice},
	}, summarize(tr.Entries()))
	assert.True(t, c.ContinuationSuppressed())
}

func TestCancelledContextIsNotAnError(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := newFakeClient([]step{{wait: block}})
	c, tr := newCoordinator(t, client, noopExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.SubmitQuery(ctx, "hi")
	}()
	require.Eventually(t, func() bool { return len(client.Requests()) == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, e := range tr.Entries() {
		assert.NotEqual(t, transcript.KindError, e.Kind)
	}
	assert.Equal(t, turn.UserCancelledNotice, tr.Entries()[tr.Len()-1].Text)
}

func TestToolResultsContinueTheTurn(t *testing.T) {
	client := newFakeClient(
		[]step{
			ev(events.NewContentEvent("Reading.")),
			ev(toolRequest("call-1", "read_file")),
			ev(toolRequest("call-2", "list_directory")),
		},
		[]step{ev(events.NewContentEvent("All done."))},
	)
	c, tr := newCoordinator(t, client, settlingExecutor{}, turn.WithSessionID("s"))

	require.NoError(t, c.SubmitQuery(context.Background(), "look around"))
	waitIdle(t, c)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "s########1", reqs[1].promptID)
	require.Len(t, reqs[1].parts, 2)
	assert.Equal(t, "call-1", reqs[1].parts[0].FunctionResponse.ID)
	assert.Equal(t, "call-2", reqs[1].parts[1].FunctionResponse.ID)

	kinds := []transcript.Kind{}
	for _, e := range tr.Entries() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []transcript.Kind{
		transcript.KindUser,
		transcript.KindAssistant,
		transcript.KindToolGroup,
		transcript.KindAssistant,
	}, kinds)
}

func TestCancelBeforeToolsResolve(t *testing.T) {
	client := newFakeClient([]step{
		ev(toolRequest("call-1", "write_file")),
		ev(toolRequest("call-2", "replace")),
	})
	exec := &blockingExecutor{started: make(chan struct{})}
	c, tr := newCoordinator(t, client, exec)

	require.NoError(t, c.SubmitQuery(context.Background(), "edit"))
	<-exec.started
	assert.Equal(t, turn.StateResponding, c.State())

	c.CancelOngoingRequest()
	waitIdle(t, c)

	assert.Len(t, client.Requests(), 1)
	for _, call := range c.Tracker().Calls() {
		assert.Equal(t, toolcalls.StateCancelled, call.State)
		assert.True(t, call.Submitted)
	}
	h := client.History()
	require.Len(t, h, 1)
	assert.Len(t, h[0].Parts, 2)

	last := tr.Entries()[tr.Len()-1]
	assert.Equal(t, transcript.KindToolGroup, last.Kind)
	for _, tool := range last.Tools {
		assert.Equal(t, transcript.ToolStatusCancelled, tool.Status)
	}
}

func TestCommandProcessorConsumesInput(t *testing.T) {
	client := newFakeClient()
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithCommandProcessor(turn.CommandProcessorFunc(
		func(_ context.Context, text string) (turn.Preprocessed, error) {
			return turn.Preprocessed{Handled: strings.HasPrefix(text, "/")}, nil
		},
	)))

	require.NoError(t, c.SubmitQuery(context.Background(), "/help"))
	assert.Empty(t, client.Requests())
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, turn.StateIdle, c.State())
}

func TestReferenceProcessorRewritesPayload(t *testing.T) {
	client := newFakeClient(nil)
	c, tr := newCoordinator(t, client, noopExecutor{}, turn.WithReferenceProcessor(turn.ReferenceProcessorFunc(
		func(_ context.Context, text string) (turn.Preprocessed, error) {
			return turn.Preprocessed{Parts: []history.Part{history.TextPart(text), history.TextPart("content of a.txt")}}, nil
		},
	)))

	require.NoError(t, c.SubmitQuery(context.Background(), "explain @a.txt"))
	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].parts, 2)
	assert.Equal(t, []entrySummary{{transcript.KindUser, "explain @a.txt"}}, summarize(tr.Entries()))
}

func TestClientToolIsNotSentToModel(t *testing.T) {
	client := newFakeClient()
	c, tr := newCoordinator(t, client, settlingExecutor{})

	require.NoError(t, c.ScheduleClientTool(context.Background(), "read_file", map[string]any{"file_path": "a"}))
	waitIdle(t, c)

	assert.Empty(t, client.Requests())
	assert.Empty(t, client.History())
	require.Equal(t, 1, tr.Len())
	assert.Equal(t, transcript.KindToolGroup, tr.Entries()[0].Kind)
}
