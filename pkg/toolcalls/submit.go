package toolcalls

import (
	"context"

	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/rs/zerolog/log"
)

const saveMemoryTool = "save_memory"

func (t *Tracker) markSubmitted(calls []*TrackedCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range calls {
		c.Submitted = true
		if e, ok := t.entries[c.Request.CallID]; ok {
			e.call.Submitted = true
		}
	}
}

// ready keeps the calls of batch that can be submitted, judged against the registry.
func (t *Tracker) ready(batch []*TrackedCall) []*TrackedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ret []*TrackedCall
	for _, c := range batch {
		if e, ok := t.entries[c.Request.CallID]; ok && e.call.Submitted {
			continue
		}
		if c.ReadyForSubmission() {
			ret = append(ret, c)
		}
	}
	return ret
}

func (t *Tracker) submit(ctx context.Context, batch []*TrackedCall) {
	calls := t.ready(batch)
	if len(calls) == 0 {
		return
	}

	var clientCalls, modelCalls []*TrackedCall
	for _, c := range calls {
		if c.Request.ClientInitiated {
			clientCalls = append(clientCalls, c)
		} else {
			modelCalls = append(modelCalls, c)
		}
	}
	if len(clientCalls) > 0 {
		t.markSubmitted(clientCalls)
	}

	if t.memory != nil {
		for _, c := range calls {
			if c.Request.Name == saveMemoryTool && c.State == StateSuccess {
				if err := t.memory.RefreshMemory(ctx); err != nil {
					log.Warn().Err(err).Msg("could not refresh memory after save_memory")
				}
				break
			}
		}
	}

	if len(modelCalls) == 0 {
		return
	}

	var parts []history.Part
	allCancelled := true
	for _, c := range modelCalls {
		parts = append(parts, c.Response.ResponseParts...)
		if c.State != StateCancelled {
			allCancelled = false
		}
	}

	t.mu.Lock()
	submitter := t.submitter
	t.mu.Unlock()

	if allCancelled {
		t.markSubmitted(modelCalls)
		if submitter != nil && len(parts) > 0 {
			submitter.AddHistory(history.NewUserContent(parts...))
		}
		log.Debug().Int("calls", len(modelCalls)).Msg("all tool calls cancelled, recorded results without continuing")
		return
	}

	t.markSubmitted(modelCalls)
	if submitter == nil {
		log.Warn().Int("calls", len(modelCalls)).Msg("no submitter configured, dropping tool results")
		return
	}
	if submitter.ContinuationSuppressed() {
		log.Debug().Int("calls", len(modelCalls)).Msg("continuation suppressed")
		return
	}

	promptID := modelCalls[0].Request.PromptID
	log.Debug().Str("prompt_id", promptID).Int("parts", len(parts)).Msg("submitting tool results")
	if err := submitter.SubmitContinuation(ctx, parts, promptID); err != nil {
		log.Error().Err(err).Str("prompt_id", promptID).Msg("continuation failed")
	}
}

// recordDisplaced adds the results of a queued batch that a newer batch
// replaced to the history, so every function call the model made keeps its
// response.
func (t *Tracker) recordDisplaced(batch []*TrackedCall) {
	ready := t.ready(batch)
	var calls []*TrackedCall
	var parts []history.Part
	for _, c := range ready {
		if c.Request.ClientInitiated {
			continue
		}
		calls = append(calls, c)
		parts = append(parts, c.Response.ResponseParts...)
	}
	t.markSubmitted(ready)

	t.mu.Lock()
	submitter := t.submitter
	t.mu.Unlock()
	if submitter != nil && len(parts) > 0 {
		submitter.AddHistory(history.NewUserContent(parts...))
	}
	log.Debug().Int("calls", len(calls)).Msg("recorded displaced tool results")
}
