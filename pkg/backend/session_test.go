package backend_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/backend/scripted"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, script string, opts ...backend.SessionOption) (*backend.Session, *scripted.Provider) {
	t.Helper()
	s, err := scripted.Parse(strings.NewReader(script))
	require.NoError(t, err)
	p := scripted.New(s)
	return backend.NewSession(p, append([]backend.SessionOption{backend.WithModel("test-model")}, opts...)...), p
}

func drain(ctx context.Context, c backend.Client, text, promptID string) ([]events.Event, error) {
	var evs []events.Event
	for ev, err := range c.GenerateStream(ctx, []history.Part{history.TextPart(text)}, promptID) {
		if err != nil {
			return evs, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

const twoTurns = `
turns:
  - steps:
      - content: "Let me "
      - content: "check."
      - tool_call: {name: read_file, args: {file_path: a.txt}}
      - finished: STOP
  - steps:
      - content: "Done."
`

func TestStreamRecordsHistoryAndNumbersEvents(t *testing.T) {
	s, p := newSession(t, twoTurns)

	evs, err := drain(context.Background(), s, "read a.txt", "p1")
	require.NoError(t, err)
	require.Len(t, evs, 4)
	for i, ev := range evs {
		require.Equal(t, uint64(i+1), ev.Metadata().Generation)
		require.Equal(t, "p1", ev.Metadata().PromptID)
	}
	call := evs[2].(*events.EventToolCallRequest).Request
	require.NotEmpty(t, call.CallID)
	require.Equal(t, "p1", call.PromptID)

	h := s.History()
	require.Len(t, h, 2)
	require.Equal(t, "read a.txt", h[0].Text())
	require.Equal(t, history.RoleModel, h[1].Role)
	require.Equal(t, "Let me check.", h[1].Text())
	require.Len(t, h[1].FunctionCalls(), 1)
	require.Equal(t, call.CallID, h[1].FunctionCalls()[0].ID)

	require.Len(t, p.Requests()[0].Contents, 1)
}

func TestMaxSessionTurns(t *testing.T) {
	s, _ := newSession(t, twoTurns, backend.WithMaxSessionTurns(1))

	_, err := drain(context.Background(), s, "one", "p1")
	require.NoError(t, err)

	evs, err := drain(context.Background(), s, "two", "p2")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, 1, evs[0].(*events.EventMaxSessionTurns).Limit)
	require.Len(t, s.History(), 2)
}

func TestLoopDetectionHaltsStream(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("turns:\n  - steps:\n")
	for i := 0; i < 6; i++ {
		sb.WriteString("      - tool_call: {name: list_directory, args: {path: .}}\n")
	}
	s, _ := newSession(t, sb.String(), backend.WithLoopThresholds(3, 0))

	evs, err := drain(context.Background(), s, "go", "p1")
	require.NoError(t, err)
	require.Len(t, evs, 3)
	require.IsType(t, &events.EventLoopDetected{}, evs[2])

	h := s.History()
	require.Len(t, h[1].FunctionCalls(), 2)
}

func TestCompressionReplacesOlderHistory(t *testing.T) {
	script := `
turns:
  - steps:
      - content: "` + strings.Repeat("long answer ", 20) + `"
  - steps:
      - content: "short"
responses:
  - "user asked things"
`
	s, _ := newSession(t, script, backend.WithCompression(20, 0.5))

	_, err := drain(context.Background(), s, "first question", "p1")
	require.NoError(t, err)

	evs, err := drain(context.Background(), s, "second", "p2")
	require.NoError(t, err)
	compressed, ok := evs[0].(*events.EventChatCompressed)
	require.True(t, ok)
	require.Greater(t, compressed.OriginalTokenCount, compressed.NewTokenCount)

	h := s.History()
	require.Contains(t, h[0].Text(), "user asked things")
	require.Equal(t, "second", h[2].Text())
	require.Equal(t, "short", h[3].Text())
}

func TestCancellationEndsWithUserCancelled(t *testing.T) {
	script := `
turns:
  - steps:
      - content: "partial"
      - delay: 10s
      - content: "never"
`
	s, _ := newSession(t, script)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var evs []events.Event
	for ev, err := range s.GenerateStream(ctx, []history.Part{history.TextPart("hi")}, "p1") {
		require.NoError(t, err)
		evs = append(evs, ev)
		if len(evs) == 1 {
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
		}
	}
	require.Len(t, evs, 2)
	require.IsType(t, &events.EventUserCancelled{}, evs[1])
	require.Equal(t, "partial", s.History()[1].Text())
}

func TestAuthErrorsAreDistinct(t *testing.T) {
	script := `
turns:
  - steps:
      - fail: {message: "invalid api key", status: 401}
  - steps:
      - fail: {message: "overloaded", status: 503}
`
	s, _ := newSession(t, script)
	_, err := drain(context.Background(), s, "a", "p1")
	require.True(t, backend.IsUnauthorized(err))

	_, err = drain(context.Background(), s, "b", "p2")
	require.Error(t, err)
	require.False(t, backend.IsUnauthorized(err))
	require.False(t, backend.IsQuotaExceeded(err))
}
