package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/toolcalls"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxParallelTools = 3

	deniedMessage    = "[Operation Cancelled] Reason: User did not allow tool call"
	cancelledMessage = "[Operation Cancelled] Reason: Request cancelled"
)

// Scheduler validates, approves and runs tool calls. It implements toolcalls.Executor.
type Scheduler struct {
	registry    *Registry
	approver    Approver
	autoApprove []string
	maxParallel int

	wg sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

func WithApprover(a Approver) SchedulerOption {
	return func(s *Scheduler) {
		s.approver = a
	}
}

// WithAutoApprove skips approval for tools whose name matches one of the glob patterns.
func WithAutoApprove(patterns ...string) SchedulerOption {
	return func(s *Scheduler) {
		s.autoApprove = append(s.autoApprove, patterns...)
	}
}

func WithMaxParallelTools(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.maxParallel = n
	}
}

func NewScheduler(registry *Registry, options ...SchedulerOption) *Scheduler {
	ret := &Scheduler{
		registry:    registry,
		approver:    DenyAll,
		maxParallel: DefaultMaxParallelTools,
	}
	for _, o := range options {
		o(ret)
	}
	if ret.maxParallel < 1 {
		ret.maxParallel = 1
	}
	return ret
}

// Schedule starts processing calls in the background and returns immediately.
func (s *Scheduler) Schedule(ctx context.Context, calls []*toolcalls.TrackedCall, l toolcalls.Listener) error {
	if l == nil {
		return errors.New("no listener")
	}
	if len(calls) == 0 {
		return nil
	}
	b := &batch{scheduler: s, calls: calls, listener: l}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		b.run(ctx)
	}()
	return nil
}

// Wait blocks until every scheduled batch has settled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// batch is one Schedule call. Listener callbacks are serialized through mu.
type batch struct {
	scheduler *Scheduler
	listener  toolcalls.Listener

	mu    sync.Mutex
	calls []*toolcalls.TrackedCall
	defs  map[string]*ToolDefinition
}

func (b *batch) snapshot() []*toolcalls.TrackedCall {
	ret := make([]*toolcalls.TrackedCall, 0, len(b.calls))
	for _, c := range b.calls {
		ret = append(ret, c.Clone())
	}
	return ret
}

// set updates one call and notifies the listener while holding the batch lock.
func (b *batch) set(f func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f()
	b.listener.OnCallsUpdated(b.snapshot())
}

func (b *batch) run(ctx context.Context) {
	b.defs = map[string]*ToolDefinition{}
	b.set(b.validate)

	b.approve(ctx)

	eg := errgroup.Group{}
	eg.SetLimit(b.scheduler.maxParallel)
	for _, c := range b.calls {
		b.mu.Lock()
		runnable := c.State == toolcalls.StateScheduled
		b.mu.Unlock()
		if !runnable {
			continue
		}
		eg.Go(func() error {
			b.execute(ctx, c)
			return nil
		})
	}
	_ = eg.Wait()

	b.mu.Lock()
	settled := b.snapshot()
	b.mu.Unlock()
	b.listener.OnBatchSettled(ctx, settled)
}

func (b *batch) validate() {
	for _, c := range b.calls {
		c.State = toolcalls.StateValidating
		def, err := b.scheduler.registry.GetTool(c.Request.Name)
		if err != nil {
			fail(c, err)
			continue
		}
		b.defs[c.Request.CallID] = def

		c.DisplayName = def.DisplayName
		if c.DisplayName == "" {
			c.DisplayName = strcase.ToCamel(def.Name)
		}
		if def.Summarize != nil {
			c.Description = def.Summarize(c.Request.Args)
		}
		c.Mutating = def.Mutating

		if err := ValidateArgs(def.Parameters, c.Request.Args); err != nil {
			fail(c, err)
			continue
		}
		c.State = toolcalls.StateScheduled
	}
}

func (b *batch) needsApproval(c *toolcalls.TrackedCall) bool {
	if !c.Mutating {
		return false
	}
	return !AutoApproved(b.scheduler.autoApprove, c.Request.Name)
}

// approve asks for confirmation one call at a time.
func (b *batch) approve(ctx context.Context) {
	for _, c := range b.calls {
		b.mu.Lock()
		pending := c.State == toolcalls.StateScheduled && b.needsApproval(c)
		b.mu.Unlock()
		if !pending {
			continue
		}

		b.set(func() { c.State = toolcalls.StateAwaitingApproval })

		if ctx.Err() != nil {
			b.set(func() { cancel(c, cancelledMessage) })
			continue
		}
		ok, err := b.scheduler.approver.Approve(ctx, c.Clone())
		switch {
		case ctx.Err() != nil:
			b.set(func() { cancel(c, cancelledMessage) })
		case err != nil:
			log.Warn().Err(err).Str("call_id", c.Request.CallID).Msg("approval failed")
			b.set(func() { cancel(c, deniedMessage) })
		case !ok:
			b.set(func() { cancel(c, deniedMessage) })
		default:
			b.set(func() { c.State = toolcalls.StateScheduled })
		}
	}
}

func (b *batch) execute(ctx context.Context, c *toolcalls.TrackedCall) {
	if ctx.Err() != nil {
		b.set(func() { cancel(c, cancelledMessage) })
		return
	}

	var def *ToolDefinition
	var args []byte
	b.set(func() {
		c.State = toolcalls.StateExecuting
		def = b.defs[c.Request.CallID]
		args, _ = json.Marshal(c.Request.Args)
	})

	log.Debug().Str("tool", c.Request.Name).Str("call_id", c.Request.CallID).Msg("executing tool")
	out, err := def.Function.Execute(ctx, args)

	b.set(func() {
		switch {
		case ctx.Err() != nil:
			cancel(c, cancelledMessage)
		case err != nil:
			fail(c, &ToolError{ToolName: c.Request.Name, CallID: c.Request.CallID, Type: "execution", Message: err.Error()})
		default:
			succeed(c, out)
		}
	})
}

func respond(c *toolcalls.TrackedCall, state toolcalls.State, response map[string]any, display, errMsg string) {
	c.State = state
	c.Response = &events.ToolCallResponseInfo{
		CallID:        c.Request.CallID,
		ResponseParts: []history.Part{history.NewFunctionResponsePart(c.Request.CallID, c.Request.Name, response)},
		ResultDisplay: display,
		ErrorMessage:  errMsg,
	}
}

func fail(c *toolcalls.TrackedCall, err error) {
	respond(c, toolcalls.StateError, map[string]any{"error": err.Error()}, err.Error(), err.Error())
}

func cancel(c *toolcalls.TrackedCall, reason string) {
	respond(c, toolcalls.StateCancelled, map[string]any{"error": reason}, reason, "")
}

func succeed(c *toolcalls.TrackedCall, out interface{}) {
	var display string
	switch v := out.(type) {
	case string:
		display = v
	case fmt.Stringer:
		display = v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			display = fmt.Sprintf("%v", v)
		} else {
			display = string(b)
		}
	}
	respond(c, toolcalls.StateSuccess, map[string]any{"output": display}, display, "")
}

var _ toolcalls.Executor = (*Scheduler)(nil)
