package transcript

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIDsInOrder(t *testing.T) {
	rec := &Recorder{}
	tr := New(WithSinks(rec))

	a := tr.Append(NewTextEntry(KindUser, "hello"))
	b := tr.Append(NewTextEntry(KindAssistant, "hi"))

	require.Equal(t, 1, a.ID)
	require.Equal(t, 2, b.ID)
	require.False(t, a.CreatedAt.IsZero())
	require.Equal(t, []Entry{a, b}, rec.Entries())

	entries := tr.Entries()
	entries[0].Text = "mutated"
	require.Equal(t, "hello", tr.Entries()[0].Text)
}

func TestReplaceKeepsIDsIncreasing(t *testing.T) {
	tr := New()
	tr.Append(NewTextEntry(KindUser, "one"))

	tr.Replace([]Entry{{ID: 7, Kind: KindUser, Text: "restored"}})
	require.Equal(t, 1, tr.Len())
	require.Equal(t, "restored", tr.Entries()[0].Text)

	e := tr.Append(NewTextEntry(KindAssistant, "next"))
	require.Equal(t, 8, e.ID)
}

func TestPendingHoldsOneEntry(t *testing.T) {
	var p Pending

	_, ok := p.Discard()
	require.False(t, ok)

	p.Set(NewTextEntry(KindAssistant, "first"))
	p.Set(NewTextEntry(KindAssistant, "second"))
	e, ok := p.Discard()
	require.True(t, ok)
	require.Equal(t, "second", e.Text)

	_, ok = p.Discard()
	require.False(t, ok)
}

func TestYAMLDump(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := New(WithClock(func() time.Time { return fixed }))
	tr.Append(NewTextEntry(KindUser, "list files"))
	tr.Append(NewToolGroupEntry([]ToolDisplay{{CallID: "c1", Name: "list_directory", DisplayName: "ListDirectory", Status: ToolStatusSuccess}}))

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, tr.Entries()))
	require.Contains(t, buf.String(), "kind: tool_group")

	back, err := ReadYAML(&buf)
	require.NoError(t, err)
	require.Len(t, back, 2)
	require.Equal(t, "list files", back[0].Text)
	require.Equal(t, KindToolGroup, back[1].Kind)
	require.Equal(t, tr.Entries()[1].Tools, back[1].Tools)
	require.True(t, fixed.Equal(back[1].CreatedAt))
}

func TestRouterDeliversEntriesInOrder(t *testing.T) {
	r, err := NewRouter()
	require.NoError(t, err)

	received := make(chan Entry, 8)
	r.AddEntryHandler("collect", DefaultTopic, func(e Entry) error {
		received <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = r.Run(ctx)
	}()
	<-r.Running()
	defer func() {
		_ = r.Close()
	}()

	tr := New(WithSinks(r.Sink(DefaultTopic)))
	tr.Append(NewTextEntry(KindUser, "one"))
	tr.Append(NewTextEntry(KindInfo, "two"))

	for _, want := range []string{"one", "two"} {
		select {
		case e := <-received:
			require.Equal(t, want, e.Text)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for entry")
		}
	}
}
