package reassembler

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// feed applies fragments and returns the committed prefixes and the final open text.
func feed(r *Reassembler, fragments []string) ([]string, string, int) {
	var committed []string
	changes := 0
	for _, f := range fragments {
		u := r.Apply(f)
		if !u.Changed {
			continue
		}
		changes++
		if u.Committed != "" {
			committed = append(committed, u.Committed)
		}
	}
	return committed, r.Open(), changes
}

func TestMixedDeltaAndSnapshot(t *testing.T) {
	r := New(ModeAuto)
	committed, open, _ := feed(r, []string{"Hel", "Hello", "Hello wo"})
	require.Empty(t, committed)
	require.Equal(t, "Hello wo", open)
	require.Equal(t, "Hello wo", r.Text())
}

func TestEmptyFragmentIsNoop(t *testing.T) {
	r := New(ModeAuto)
	r.Apply("abc")
	u := r.Apply("")
	require.False(t, u.Changed)
	require.Equal(t, "abc", r.Text())
}

func TestIdenticalSnapshotEmitsNothing(t *testing.T) {
	r := New(ModeAuto)
	require.True(t, r.Apply("same").Changed)
	require.False(t, r.Apply("same").Changed)
}

func TestDeltaModeNeverReplaces(t *testing.T) {
	r := New(ModeDelta)
	feed(r, []string{"ab", "ab"})
	require.Equal(t, "abab", r.Text())
}

func TestSnapshotModeReplaces(t *testing.T) {
	r := New(ModeSnapshot)
	feed(r, []string{"draft", "final"})
	require.Equal(t, "final", r.Text())
}

func TestCommitsClosedParagraphs(t *testing.T) {
	r := New(ModeAuto)
	u := r.Apply("First paragraph.\n\nSecond")
	require.True(t, u.Changed)
	require.Equal(t, "First paragraph.\n\n", u.Committed)
	require.False(t, u.CommittedContinuation)
	require.Equal(t, "Second", u.Open)
	require.True(t, u.OpenContinuation)

	// a full snapshot spanning the committed prefix still works
	u = r.Apply("First paragraph.\n\nSecond paragraph.\n\nThird")
	require.Equal(t, "Second paragraph.\n\n", u.Committed)
	require.True(t, u.CommittedContinuation)
	require.Equal(t, "Third", u.Open)
	require.Equal(t, "First paragraph.\n\nSecond paragraph.\n\nThird", r.Text())
}

func TestDoesNotSplitInsideOpenFence(t *testing.T) {
	r := New(ModeDelta)
	u := r.Apply("Here:\n\n```go\nfunc a() {}\n\nfunc b() {}")
	require.Equal(t, "Here:\n\n", u.Committed)
	require.Equal(t, "```go\nfunc a() {}\n\nfunc b() {}", u.Open)

	u = r.Apply("\n```\n")
	require.Empty(t, u.Committed)
	require.Equal(t, "```go\nfunc a() {}\n\nfunc b() {}\n```\n", u.Open)
}

func TestReset(t *testing.T) {
	r := New(ModeAuto)
	r.Apply("a\n\nb")
	r.Reset()
	require.Equal(t, "", r.Text())
	u := r.Apply("c")
	require.False(t, u.OpenContinuation)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeAuto, m)
	m, err = ParseMode("Delta")
	require.NoError(t, err)
	require.Equal(t, ModeDelta, m)
	_, err = ParseMode("bogus")
	require.Error(t, err)
}

const corpus = "Intro line.\n\nSome *markdown* here.\n\n```python\nprint('x')\n\nprint('y')\n```\n\nClosing words and more text."

func randomCuts(rng *rand.Rand, text string) []int {
	var cuts []int
	for i := 1; i < len(text); i++ {
		if rng.Intn(4) == 0 {
			cuts = append(cuts, i)
		}
	}
	return append(cuts, len(text))
}

// reconstructs checks that committed prefixes plus the open part rebuild text exactly.
func reconstructs(t *testing.T, r *Reassembler, fragments []string, text string) {
	committed, open, _ := feed(r, fragments)
	require.Equal(t, text, strings.Join(committed, "")+open)
	require.Equal(t, text, r.Text())
}

func TestReconstructsTextAcrossSplits(t *testing.T) {
	// the leading marker appears nowhere else, so no delta can be mistaken for a snapshot
	text := "#" + corpus
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		cuts := randomCuts(rng, text)

		var deltas, snapshots, mixed []string
		prev := 0
		for _, c := range cuts {
			deltas = append(deltas, text[prev:c])
			snapshots = append(snapshots, text[:c])
			if rng.Intn(2) == 0 {
				mixed = append(mixed, text[prev:c])
			} else {
				mixed = append(mixed, text[:c])
			}
			prev = c
		}

		reconstructs(t, New(ModeDelta), deltas, text)
		reconstructs(t, New(ModeSnapshot), snapshots, text)
		reconstructs(t, New(ModeAuto), snapshots, text)
		reconstructs(t, New(ModeAuto), mixed, text)
	}
}
