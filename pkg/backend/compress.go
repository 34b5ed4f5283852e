package backend

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const compressionInstruction = `Summarize the conversation above into a compact state snapshot.
Keep the user's overall goal, key facts and decisions, files that were read or modified,
and the next steps that were planned. Drop pleasantries and intermediate reasoning.`

const (
	summaryPreamble     = "This is a summary of our conversation so far:\n\n"
	summaryAcknowledged = "Got it. I will continue from this summary."
)

// splitIndexAfterFraction returns the index of the first content that starts
// after fraction of the history's serialized size, moved forward to the next
// plain user message so a tool call is never separated from its response.
func splitIndexAfterFraction(contents []history.Content, fraction float64) int {
	sizes := make([]int, len(contents))
	total := 0
	for i, c := range contents {
		b, _ := json.Marshal(c)
		sizes[i] = len(b)
		total += sizes[i]
	}
	target := fraction * float64(total)

	idx := 0
	acc := 0
	for idx < len(contents) {
		acc += sizes[idx]
		idx++
		if float64(acc) >= target {
			break
		}
	}
	for idx < len(contents) {
		c := contents[idx]
		if c.Role == history.RoleUser && !c.IsFunctionResponse() {
			break
		}
		idx++
	}
	return idx
}

// tryCompress replaces the older part of the history with a model-written
// summary when the history exceeds the configured share of the token limit.
// It returns nil when no compression happened.
func (s *Session) tryCompress(ctx context.Context, promptID string) (*events.EventChatCompressed, error) {
	if s.tokenLimit <= 0 || s.compressionThreshold <= 0 {
		return nil, nil
	}
	contents := s.history.Snapshot()
	if len(contents) == 0 {
		return nil, nil
	}

	original, err := s.provider.CountTokens(ctx, s.model, contents)
	if err != nil {
		return nil, errors.Wrap(err, "could not count history tokens")
	}
	if float64(original) < s.compressionThreshold*float64(s.tokenLimit) {
		return nil, nil
	}

	split := splitIndexAfterFraction(contents, 1-s.preserveFraction)
	toCompress, keep := contents[:split], contents[split:]
	if len(toCompress) == 0 {
		return nil, nil
	}

	req := append(append([]history.Content{}, toCompress...), history.NewUserContent(history.TextPart(compressionInstruction)))
	resp, err := s.provider.GenerateContent(ctx, ProviderRequest{Model: s.model, Contents: req})
	if err != nil {
		return nil, errors.Wrap(err, "could not summarize history")
	}
	summary := resp.Text()
	if summary == "" {
		return nil, errors.New("summary was empty")
	}

	compressed := append([]history.Content{
		history.NewUserContent(history.TextPart(summaryPreamble + summary)),
		history.NewModelContent(history.TextPart(summaryAcknowledged)),
	}, keep...)

	newCount, err := s.provider.CountTokens(ctx, s.model, compressed)
	if err != nil {
		return nil, errors.Wrap(err, "could not count compressed tokens")
	}
	s.history.Replace(compressed)

	log.Info().
		Str("prompt_id", promptID).
		Int("original_tokens", original).
		Int("new_tokens", newCount).
		Int("compressed_contents", len(toCompress)).
		Msg("compressed history")
	return events.NewChatCompressedEvent(original, newCount), nil
}
