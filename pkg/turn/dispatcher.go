package turn

import (
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// errStopStream ends the dispatch loop without being an error.
var errStopStream = errors.New("stop stream")

// dispatcher routes the events of one stream. It is used from a single goroutine.
type dispatcher struct {
	c    *Coordinator
	turn *Turn

	seen         map[string]struct{}
	requests     []events.ToolCallRequestInfo
	requestIDs   map[string]struct{}
	loopDetected bool
}

func newDispatcher(c *Coordinator, turn *Turn) *dispatcher {
	return &dispatcher{
		c:          c,
		turn:       turn,
		seen:       map[string]struct{}{},
		requestIDs: map[string]struct{}{},
	}
}

// dispatch drops duplicates and hands ev to its handler.
func (d *dispatcher) dispatch(ev events.Event) error {
	id := events.Identity(ev)
	if _, ok := d.seen[id]; ok {
		log.Trace().Str("identity", id).Str("prompt_id", d.turn.PromptID).Msg("dropping duplicate event")
		return nil
	}
	d.seen[id] = struct{}{}
	return ev.Accept(d)
}

func (d *dispatcher) cancelled() bool {
	return d.c.isCancelled(d.turn)
}

func (d *dispatcher) VisitThought(e *events.EventThought) error {
	if d.cancelled() {
		return nil
	}
	d.c.setThought(&e.Thought)
	return nil
}

func (d *dispatcher) VisitContent(e *events.EventContent) error {
	d.c.applyContent(d.turn, e.Text)
	return nil
}

func (d *dispatcher) VisitToolCallRequest(e *events.EventToolCallRequest) error {
	if _, ok := d.requestIDs[e.Request.CallID]; ok {
		log.Debug().Str("call_id", e.Request.CallID).Msg("tool call request already collected")
		return nil
	}
	d.requestIDs[e.Request.CallID] = struct{}{}
	d.requests = append(d.requests, e.Request)
	return nil
}

func (d *dispatcher) VisitUserCancelled(*events.EventUserCancelled) error {
	if d.cancelled() {
		// CancelOngoingRequest already reported it
		return errStopStream
	}
	d.c.flushPending()
	d.c.appendNotice(transcript.KindInfo, UserCancelledNotice)
	d.c.setThought(nil)
	return errStopStream
}

// The handlers below append to the transcript. Once the turn is cancelled a
// newer turn may own the pending entry, so a draining stream leaves it alone.

func (d *dispatcher) VisitError(e *events.EventError) error {
	if d.cancelled() {
		return nil
	}
	d.c.flushPending()
	d.c.appendNotice(transcript.KindError, FormatAPIError(e))
	d.c.setThought(nil)
	return nil
}

func (d *dispatcher) VisitChatCompressed(e *events.EventChatCompressed) error {
	if d.cancelled() {
		return nil
	}
	d.c.flushPending()
	d.c.appendNotice(transcript.KindInfo, CompressedNotice(d.c.client.Model(), e.OriginalTokenCount, e.NewTokenCount))
	return nil
}

func (d *dispatcher) VisitToolCallConfirmation(*events.EventToolCallConfirmation) error {
	return nil
}

func (d *dispatcher) VisitToolCallResponse(*events.EventToolCallResponse) error {
	return nil
}

func (d *dispatcher) VisitMaxSessionTurns(e *events.EventMaxSessionTurns) error {
	d.c.markSessionLimitReached()
	if d.cancelled() {
		return nil
	}
	d.c.flushPending()
	d.c.appendNotice(transcript.KindInfo, MaxSessionTurnsNotice(e.Limit))
	return nil
}

func (d *dispatcher) VisitFinished(e *events.EventFinished) error {
	notice, ok := FinishNotice(e.Reason)
	if !ok || d.cancelled() {
		return nil
	}
	d.c.flushPending()
	d.c.appendNotice(transcript.KindInfo, notice)
	return nil
}

func (d *dispatcher) VisitLoopDetected(*events.EventLoopDetected) error {
	d.loopDetected = true
	return nil
}

var _ events.Visitor = (*dispatcher)(nil)
