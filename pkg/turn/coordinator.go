package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/reassembler"
	"github.com/go-go-golems/turnpike/pkg/toolcalls"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrTurnInProgress = errors.New("a turn is already in progress")
	ErrEmptyQuery     = errors.New("empty query")
)

const promptIDSeparator = "########"

// Coordinator drives turns between the user, the backend and the tools.
type Coordinator struct {
	client     backend.Client
	transcript *transcript.Transcript
	tracker    *toolcalls.Tracker
	sessionID  string

	commands   CommandProcessor
	shell      ShellProcessor
	references ReferenceProcessor
	onAuth     AuthErrorHandler
	fallback   FallbackHandler
	onCancel   []func()

	trackerOptions []toolcalls.Option

	mu              sync.Mutex
	promptCount     int
	turn            *Turn
	responding      bool
	pending         transcript.Pending
	reasm           *reassembler.Reassembler
	thought         *events.ThoughtSummary
	modelSwitched   bool
	sessionLimitHit bool
	releases        []context.CancelFunc
	changed         chan struct{}
}

type Option func(*Coordinator)

func WithSessionID(id string) Option {
	return func(c *Coordinator) {
		c.sessionID = id
	}
}

// WithFragmentMode sets how content fragments of the stream are folded into the displayed message.
func WithFragmentMode(mode reassembler.Mode) Option {
	return func(c *Coordinator) {
		c.reasm = reassembler.New(mode)
	}
}

func WithCommandProcessor(p CommandProcessor) Option {
	return func(c *Coordinator) {
		c.commands = p
	}
}

func WithShellProcessor(p ShellProcessor) Option {
	return func(c *Coordinator) {
		c.shell = p
	}
}

func WithReferenceProcessor(p ReferenceProcessor) Option {
	return func(c *Coordinator) {
		c.references = p
	}
}

func WithAuthErrorHandler(h AuthErrorHandler) Option {
	return func(c *Coordinator) {
		c.onAuth = h
	}
}

func WithFallbackHandler(h FallbackHandler) Option {
	return func(c *Coordinator) {
		c.fallback = h
	}
}

// WithOnCancel registers a hook called after a request is cancelled by the user.
func WithOnCancel(f func()) Option {
	return func(c *Coordinator) {
		c.onCancel = append(c.onCancel, f)
	}
}

func WithApprovalObserver(o toolcalls.ApprovalObserver) Option {
	return func(c *Coordinator) {
		c.trackerOptions = append(c.trackerOptions, toolcalls.WithApprovalObserver(o))
	}
}

func WithMemoryRefresher(m toolcalls.MemoryRefresher) Option {
	return func(c *Coordinator) {
		c.trackerOptions = append(c.trackerOptions, toolcalls.WithMemoryRefresher(m))
	}
}

func New(client backend.Client, tr *transcript.Transcript, executor toolcalls.Executor, options ...Option) *Coordinator {
	ret := &Coordinator{
		client:     client,
		transcript: tr,
		sessionID:  uuid.NewString(),
		reasm:      reassembler.New(reassembler.ModeAuto),
		changed:    make(chan struct{}),
	}
	for _, o := range options {
		o(ret)
	}
	opts := append([]toolcalls.Option{
		toolcalls.WithSubmitter(ret),
		toolcalls.WithChangeHook(ret.notify),
	}, ret.trackerOptions...)
	ret.tracker = toolcalls.NewTracker(executor, tr, opts...)
	return ret
}

func (c *Coordinator) SessionID() string {
	return c.sessionID
}

func (c *Coordinator) Transcript() *transcript.Transcript {
	return c.transcript
}

func (c *Coordinator) Tracker() *toolcalls.Tracker {
	return c.tracker
}

// History returns the model-visible history of the backend session.
func (c *Coordinator) History() []history.Content {
	return c.client.History()
}

// State derives the streaming state from the stream and the tracked tool calls.
func (c *Coordinator) State() StreamingState {
	if c.tracker.AwaitingApproval() {
		return StateWaitingForConfirmation
	}
	c.mu.Lock()
	responding := c.responding
	c.mu.Unlock()
	if responding || c.tracker.Outstanding() {
		return StateResponding
	}
	return StateIdle
}

// WaitIdle blocks until no stream is running and every tool call has been submitted.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		ch := c.changed
		c.mu.Unlock()
		if c.State() == StateIdle {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// notify wakes up waiters and releases finished turn contexts once idle.
func (c *Coordinator) notify() {
	idle := c.State() == StateIdle

	c.mu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	var releases []context.CancelFunc
	if idle {
		releases, c.releases = c.releases, nil
	}
	c.mu.Unlock()

	for _, r := range releases {
		r()
	}
}

// Thought returns the current reasoning summary, if any.
func (c *Coordinator) Thought() (events.ThoughtSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thought == nil {
		return events.ThoughtSummary{}, false
	}
	return *c.thought, true
}

func (c *Coordinator) setThought(t *events.ThoughtSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == nil {
		c.thought = nil
		return
	}
	v := *t
	c.thought = &v
}

func (c *Coordinator) SetModelSwitchedFromQuotaError(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modelSwitched = v
}

func (c *Coordinator) markSessionLimitReached() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionLimitHit = true
}

func (c *Coordinator) isCancelled(t *Turn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.Cancelled
}

// applyContent folds a content fragment of turn t into the pending assistant
// entry, committing closed prefixes to the transcript.
func (c *Coordinator) applyContent(t *Turn, fragment string) {
	c.mu.Lock()
	if t.Cancelled {
		c.mu.Unlock()
		return
	}
	u := c.reasm.Apply(fragment)
	if !u.Changed {
		c.mu.Unlock()
		return
	}
	var committed *transcript.Entry
	if u.Committed != "" {
		kind := transcript.KindAssistant
		if u.CommittedContinuation {
			kind = transcript.KindAssistantContinuation
		}
		e := transcript.NewTextEntry(kind, u.Committed)
		committed = &e
		c.pending.Discard()
	}
	kind := transcript.KindAssistant
	if u.OpenContinuation {
		kind = transcript.KindAssistantContinuation
	}
	c.pending.Set(transcript.NewTextEntry(kind, u.Open))
	c.mu.Unlock()

	if committed != nil {
		c.transcript.Append(*committed)
	}
}

// flushPending commits the pending entry and starts a new assistant message.
func (c *Coordinator) flushPending() {
	c.mu.Lock()
	e, ok := c.pending.Discard()
	c.reasm.Reset()
	c.mu.Unlock()
	if !ok {
		return
	}
	c.transcript.Append(e)
}

func (c *Coordinator) appendNotice(kind transcript.Kind, text string) {
	if text == "" {
		return
	}
	c.transcript.Append(transcript.NewTextEntry(kind, text))
}

type submitRequest struct {
	text         string
	parts        []history.Part
	promptID     string
	continuation bool
}

type SubmitOption func(*submitRequest)

func WithPromptID(id string) SubmitOption {
	return func(r *submitRequest) {
		r.promptID = id
	}
}

// SubmitQuery runs one turn for the user's input and returns when its stream ended.
// Tool calls requested by the model keep running afterwards; their results
// continue the turn from the tool scheduler's goroutine.
//
// Only authorization failures are returned as errors. Other backend failures
// end up as error entries in the transcript.
func (c *Coordinator) SubmitQuery(ctx context.Context, query string, options ...SubmitOption) error {
	req := &submitRequest{text: query}
	for _, o := range options {
		o(req)
	}
	return c.submit(ctx, req)
}

// SubmitContinuation sends tool results back to the model as a continuation of promptID.
func (c *Coordinator) SubmitContinuation(ctx context.Context, parts []history.Part, promptID string) error {
	if ctx.Err() != nil {
		// the turn was cancelled while the tools ran; the model still gets to see the results
		c.client.AddHistory(history.NewUserContent(parts...))
		return nil
	}
	return c.submit(ctx, &submitRequest{parts: parts, promptID: promptID, continuation: true})
}

func (c *Coordinator) AddHistory(content history.Content) {
	c.client.AddHistory(content)
}

func (c *Coordinator) ContinuationSuppressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelSwitched || c.sessionLimitHit
}

// ScheduleClientTool runs a tool on behalf of the user. Its result is shown
// but never sent to the model.
func (c *Coordinator) ScheduleClientTool(ctx context.Context, name string, args map[string]any) error {
	c.mu.Lock()
	promptID := ""
	if c.turn != nil {
		promptID = c.turn.PromptID
	}
	c.mu.Unlock()
	return c.tracker.Schedule(ctx, []events.ToolCallRequestInfo{{
		CallID:          name + "-" + uuid.NewString(),
		Name:            name,
		Args:            args,
		ClientInitiated: true,
		PromptID:        promptID,
	}})
}

// startTurn claims the coordinator for a new turn.
func (c *Coordinator) startTurn(ctx context.Context, req *submitRequest) (*Turn, context.Context, error) {
	if !req.continuation && c.State() != StateIdle {
		return nil, nil, ErrTurnInProgress
	}

	c.mu.Lock()
	if !req.continuation && c.responding {
		c.mu.Unlock()
		return nil, nil, ErrTurnInProgress
	}
	if !req.continuation {
		c.promptCount++
		c.thought = nil
	}
	promptID := req.promptID
	if promptID == "" {
		promptID = fmt.Sprintf("%s%s%d", c.sessionID, promptIDSeparator, c.promptCount)
	}
	turnCtx, cancel := context.WithCancel(ctx)
	t := &Turn{PromptID: promptID, StartedAt: time.Now(), cancel: cancel}
	c.turn = t
	c.responding = true
	c.releases = append(c.releases, cancel)
	c.reasm.Reset()
	c.mu.Unlock()

	if !req.continuation {
		c.tracker.Reset()
	}
	c.notify()
	return t, turnCtx, nil
}

func (c *Coordinator) finishTurn(t *Turn) {
	c.mu.Lock()
	if c.turn == t {
		c.responding = false
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) submit(ctx context.Context, req *submitRequest) error {
	t, turnCtx, err := c.startTurn(ctx, req)
	if err != nil {
		return err
	}
	defer c.finishTurn(t)

	logger := log.With().Str("component", "turn").Str("prompt_id", t.PromptID).Bool("continuation", req.continuation).Logger()

	parts := req.parts
	if !req.continuation {
		var handled bool
		parts, handled, err = c.prepareQuery(turnCtx, req.text)
		if err != nil {
			if errors.Is(err, ErrEmptyQuery) {
				return err
			}
			logger.Warn().Err(err).Msg("could not process input")
			c.appendNotice(transcript.KindError, err.Error())
			return nil
		}
		if handled {
			logger.Debug().Msg("input handled locally")
			return nil
		}
	}
	if len(parts) == 0 {
		return nil
	}

	logger.Debug().Int("parts", len(parts)).Msg("starting stream")
	d := newDispatcher(c, t)
	var streamErr error
	for ev, err := range c.client.GenerateStream(turnCtx, parts, t.PromptID) {
		if err != nil {
			streamErr = err
			break
		}
		if err := d.dispatch(ev); err != nil {
			if errors.Is(err, errStopStream) {
				break
			}
			logger.Warn().Err(err).Str("event", string(ev.Type())).Msg("event handler failed")
		}
	}

	if streamErr != nil {
		return c.handleStreamError(ctx, turnCtx, t, streamErr)
	}

	if c.isCancelled(t) {
		return nil
	}
	c.flushPending()
	if d.loopDetected {
		c.appendNotice(transcript.KindInfo, LoopDetectedNotice)
	}

	if len(d.requests) > 0 {
		logger.Debug().Int("requests", len(d.requests)).Msg("scheduling tool calls")
		if err := c.tracker.Schedule(turnCtx, d.requests); err != nil {
			c.appendNotice(transcript.KindError, err.Error())
		}
	}
	return nil
}

func (c *Coordinator) handleStreamError(ctx context.Context, turnCtx context.Context, t *Turn, err error) error {
	switch {
	case backend.IsUnauthorized(err):
		c.flushPending()
		if c.onAuth != nil {
			c.onAuth(ctx, err)
		}
		return errors.Wrap(err, "backend rejected credentials")

	case errors.Is(err, context.Canceled) || turnCtx.Err() != nil:
		log.Debug().Str("prompt_id", t.PromptID).Msg("stream ended by cancellation")
		if !c.isCancelled(t) {
			c.flushPending()
		}
		return nil
	}

	if backend.IsQuotaExceeded(err) && c.fallback != nil && c.fallback(ctx, err) {
		c.SetModelSwitchedFromQuotaError(true)
	}

	log.Warn().Err(err).Str("prompt_id", t.PromptID).Msg("stream failed")
	c.flushPending()
	c.appendNotice(transcript.KindError, FormatAPIError(err))
	c.setThought(nil)
	return nil
}

// prepareQuery runs the input collaborators. It returns the parts for the
// model, or handled when a collaborator consumed the input.
func (c *Coordinator) prepareQuery(ctx context.Context, text string) ([]history.Part, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, ErrEmptyQuery
	}
	parts := []history.Part{history.TextPart(text)}

	if c.commands != nil {
		p, err := c.commands.ProcessCommand(ctx, text)
		if err != nil {
			return nil, false, errors.Wrap(err, "command failed")
		}
		if p.Handled {
			return nil, true, nil
		}
		if len(p.Parts) > 0 {
			parts = p.Parts
		}
	}

	if c.shell != nil {
		p, err := c.shell.ProcessShell(ctx, text)
		if err != nil {
			return nil, false, errors.Wrap(err, "shell command failed")
		}
		if p.Handled {
			return nil, true, nil
		}
		if len(p.Parts) > 0 {
			parts = p.Parts
		}
	}

	c.transcript.Append(transcript.NewTextEntry(transcript.KindUser, text))

	if c.references != nil {
		p, err := c.references.ProcessReferences(ctx, history.PartsText(parts))
		if err != nil {
			return nil, false, errors.Wrap(err, "could not resolve references")
		}
		if p.Handled {
			return nil, true, nil
		}
		if len(p.Parts) > 0 {
			parts = p.Parts
		}
	}
	return parts, false, nil
}

// CancelOngoingRequest cancels the running turn and its tool calls.
// It does nothing when no request is running or the turn was already cancelled.
func (c *Coordinator) CancelOngoingRequest() {
	if c.State() != StateResponding {
		return
	}

	c.mu.Lock()
	t := c.turn
	if t == nil || t.Cancelled {
		c.mu.Unlock()
		return
	}
	t.Cancelled = true
	c.responding = false
	c.thought = nil
	pending, ok := c.pending.Discard()
	c.reasm.Reset()
	c.mu.Unlock()

	log.Debug().Str("prompt_id", t.PromptID).Msg("cancelling request")
	t.cancel()

	if ok {
		c.transcript.Append(pending)
	}
	c.appendNotice(transcript.KindInfo, RequestCancelledNotice)
	for _, f := range c.onCancel {
		f()
	}
	c.notify()
}
