package toolcalls

import (
	"context"
	"sync"

	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type trackedEntry struct {
	call *TrackedCall
	ctx  context.Context
}

// Tracker owns the tracked calls of the active prompt and serializes the
// submission of their results.
type Tracker struct {
	executor   Executor
	transcript *transcript.Transcript
	submitter  Submitter
	approvals  ApprovalObserver
	memory     MemoryRefresher
	onChange   func()

	mu      sync.Mutex
	order   []string
	entries map[string]*trackedEntry

	// single-slot submission queue
	submitting bool
	queued     []*TrackedCall
}

type Option func(*Tracker)

func WithSubmitter(s Submitter) Option {
	return func(t *Tracker) {
		t.submitter = s
	}
}

func WithApprovalObserver(o ApprovalObserver) Option {
	return func(t *Tracker) {
		t.approvals = o
	}
}

func WithMemoryRefresher(m MemoryRefresher) Option {
	return func(t *Tracker) {
		t.memory = m
	}
}

// WithChangeHook registers f to be called, without any lock held, whenever
// the tracked calls or the submission loop change state.
func WithChangeHook(f func()) Option {
	return func(t *Tracker) {
		t.onChange = f
	}
}

func NewTracker(executor Executor, tr *transcript.Transcript, options ...Option) *Tracker {
	ret := &Tracker{
		executor:   executor,
		transcript: tr,
		entries:    map[string]*trackedEntry{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}

// Schedule registers requests as scheduled calls and hands them to the executor.
// Requests whose call ID is already tracked are ignored.
func (t *Tracker) Schedule(ctx context.Context, requests []events.ToolCallRequestInfo) error {
	if len(requests) == 0 {
		return nil
	}

	var batch []*TrackedCall
	t.mu.Lock()
	for _, req := range requests {
		if _, ok := t.entries[req.CallID]; ok {
			log.Debug().Str("call_id", req.CallID).Msg("tool call already tracked, skipping")
			continue
		}
		call := NewTrackedCall(req)
		t.entries[req.CallID] = &trackedEntry{call: call, ctx: ctx}
		t.order = append(t.order, req.CallID)
		batch = append(batch, call.Clone())
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	log.Debug().Int("calls", len(batch)).Str("prompt_id", batch[0].Request.PromptID).Msg("scheduling tool calls")
	t.changed()

	if err := t.executor.Schedule(ctx, batch, t); err != nil {
		t.mu.Lock()
		for _, c := range batch {
			if e, ok := t.entries[c.Request.CallID]; ok {
				e.call.State = StateError
				e.call.Submitted = true
			}
		}
		t.mu.Unlock()
		t.changed()
		return errors.Wrap(err, "could not schedule tool calls")
	}
	return nil
}

// update copies executor-owned fields into the registry and returns the calls
// that just entered awaiting_approval.
func (t *Tracker) update(calls []*TrackedCall) []*trackedEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var awaiting []*trackedEntry
	for _, c := range calls {
		e, ok := t.entries[c.Request.CallID]
		if !ok {
			// calls scheduled directly on the executor, e.g. by tests
			e = &trackedEntry{call: NewTrackedCall(c.Request), ctx: context.Background()}
			t.entries[c.Request.CallID] = e
			t.order = append(t.order, c.Request.CallID)
		}
		wasAwaiting := e.call.State == StateAwaitingApproval
		submitted := e.call.Submitted
		next := c.Clone()
		next.Submitted = submitted
		e.call = next
		if !wasAwaiting && next.State == StateAwaitingApproval {
			awaiting = append(awaiting, &trackedEntry{call: next.Clone(), ctx: e.ctx})
		}
	}
	return awaiting
}

func (t *Tracker) OnCallsUpdated(calls []*TrackedCall) {
	awaiting := t.update(calls)
	if t.approvals != nil {
		for _, e := range awaiting {
			if e.call.Mutating {
				t.approvals.OnAwaitingApproval(e.ctx, e.call)
			}
		}
	}
	t.changed()
}

// OnBatchSettled appends the tool group entry for calls and submits their results.
//
// At most one submission pass runs at a time. A batch that settles while a
// pass is running waits in a single slot; a later batch replaces it.
func (t *Tracker) OnBatchSettled(ctx context.Context, calls []*TrackedCall) {
	t.update(calls)

	if t.transcript != nil && len(calls) > 0 {
		displays := make([]transcript.ToolDisplay, 0, len(calls))
		for _, c := range calls {
			displays = append(displays, c.Display())
		}
		t.transcript.Append(transcript.NewToolGroupEntry(displays))
	}

	batch := make([]*TrackedCall, 0, len(calls))
	for _, c := range calls {
		batch = append(batch, c.Clone())
	}

	t.mu.Lock()
	if t.submitting {
		displaced := t.queued
		t.queued = batch
		t.mu.Unlock()
		if displaced != nil {
			log.Warn().Strs("displaced_call_ids", callIDs(displaced)).Strs("call_ids", callIDs(batch)).
				Msg("replacing queued tool batch, recording its results without continuing")
			t.recordDisplaced(displaced)
		}
		t.changed()
		return
	}
	t.submitting = true
	t.mu.Unlock()

	for batch != nil {
		t.submit(ctx, batch)

		t.mu.Lock()
		batch, t.queued = t.queued, nil
		if batch == nil {
			t.submitting = false
		}
		t.mu.Unlock()
	}
	t.changed()
}

func callIDs(calls []*TrackedCall) []string {
	ret := make([]string, 0, len(calls))
	for _, c := range calls {
		ret = append(ret, c.Request.CallID)
	}
	return ret
}

// Calls returns a snapshot of the tracked calls in scheduling order.
func (t *Tracker) Calls() []*TrackedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	ret := make([]*TrackedCall, 0, len(t.order))
	for _, id := range t.order {
		ret = append(ret, t.entries[id].call.Clone())
	}
	return ret
}

// Outstanding reports whether any call is still running, or terminal but not submitted,
// or whether a submission pass is in progress.
func (t *Tracker) Outstanding() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitting {
		return true
	}
	for _, e := range t.entries {
		if !e.call.State.IsTerminal() || (e.call.Response != nil && !e.call.Submitted) {
			return true
		}
	}
	return false
}

// AwaitingApproval reports whether any call waits for user confirmation.
func (t *Tracker) AwaitingApproval() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.call.State == StateAwaitingApproval {
			return true
		}
	}
	return false
}

// Reset forgets every call that is terminal and submitted. It is called when a new prompt starts.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	order := t.order[:0]
	for _, id := range t.order {
		e := t.entries[id]
		if e.call.State.IsTerminal() && (e.call.Submitted || e.call.Response == nil) {
			delete(t.entries, id)
			continue
		}
		order = append(order, id)
	}
	t.order = order
}
