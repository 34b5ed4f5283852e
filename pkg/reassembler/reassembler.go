package reassembler

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Mode selects how content fragments are interpreted.
type Mode string

const (
	// ModeAuto treats a fragment that starts with the accumulated message as a
	// full snapshot and anything else as a delta.
	ModeAuto Mode = "auto"
	// ModeDelta appends every fragment.
	ModeDelta Mode = "delta"
	// ModeSnapshot replaces the message with every fragment.
	ModeSnapshot Mode = "snapshot"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeDelta:
		return ModeDelta, nil
	case ModeSnapshot:
		return ModeSnapshot, nil
	default:
		return "", errors.Errorf("unknown fragment mode %q", s)
	}
}

// Update describes the observable effect of applying one fragment.
type Update struct {
	// Changed is false when the fragment left the message untouched.
	Changed bool
	// Committed is a closed prefix that must be appended to the transcript. Empty when nothing was closed.
	Committed string
	// CommittedContinuation is true when Committed follows an earlier committed prefix of the same message.
	CommittedContinuation bool
	// Open is the text of the entry that remains open for growth.
	Open string
	// OpenContinuation is true when part of the message was already committed.
	OpenContinuation bool
}

// Reassembler turns a stream of content fragments into one assistant message,
// freezing finished prefixes as they become safe to render.
type Reassembler struct {
	mode      Mode
	committed string
	open      string
	commits   int
}

func New(mode Mode) *Reassembler {
	if mode == "" {
		mode = ModeAuto
	}
	return &Reassembler{mode: mode}
}

func (r *Reassembler) Mode() Mode {
	return r.mode
}

// Text returns the whole message so far, committed prefix included.
func (r *Reassembler) Text() string {
	return r.committed + r.open
}

// Open returns the part of the message not committed yet.
func (r *Reassembler) Open() string {
	return r.open
}

// Reset starts a new message.
func (r *Reassembler) Reset() {
	r.committed = ""
	r.open = ""
	r.commits = 0
}

func (r *Reassembler) next(fragment string) string {
	current := r.Text()
	switch r.mode {
	case ModeDelta:
		return current + fragment
	case ModeSnapshot:
		return fragment
	default:
		if strings.HasPrefix(fragment, current) {
			return fragment
		}
		return current + fragment
	}
}

// Apply folds fragment into the message.
func (r *Reassembler) Apply(fragment string) Update {
	if fragment == "" {
		return Update{}
	}

	current := r.Text()
	next := r.next(fragment)
	if next == current {
		return Update{}
	}

	var open string
	if strings.HasPrefix(next, r.committed) {
		open = next[len(r.committed):]
	} else {
		// a snapshot rewrote text that is already committed; keep the committed
		// entries and continue from the snapshot as a fresh open part
		log.Warn().
			Str("component", "reassembler").
			Int("committed_len", len(r.committed)).
			Int("fragment_len", len(fragment)).
			Msg("snapshot does not extend committed text")
		open = next
	}

	u := Update{Changed: true}
	split := SafeSplitPoint(open)
	if split > 0 && split < len(open) {
		u.Committed = open[:split]
		u.CommittedContinuation = r.commits > 0
		r.committed += open[:split]
		r.commits++
		open = open[split:]
	}
	r.open = open
	u.Open = open
	u.OpenContinuation = r.commits > 0
	return u
}
