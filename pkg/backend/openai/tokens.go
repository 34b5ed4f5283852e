package openai

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// per-message framing overhead of the chat format
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// Codec returns the tokenizer for model, falling back to cl100k_base for unknown models.
func Codec(model string) (tokenizer.Codec, error) {
	if model != "" {
		if c, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
			return c, nil
		}
	}
	c, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "could not load cl100k_base tokenizer")
	}
	return c, nil
}

// CountText counts the tokens of a plain string.
func CountText(model, text string) (int, error) {
	codec, err := Codec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "could not encode text")
	}
	return len(ids), nil
}

// CountTokens estimates the prompt size of contents locally with tiktoken.
func (p *Provider) CountTokens(ctx context.Context, model string, contents []history.Content) (int, error) {
	codec, err := Codec(model)
	if err != nil {
		return 0, err
	}

	count := tokensPerReply
	for _, c := range contents {
		count += tokensPerMessage
		for _, part := range c.Parts {
			text := part.Text
			switch {
			case part.FunctionCall != nil:
				b, _ := json.Marshal(part.FunctionCall)
				text = string(b)
			case part.FunctionResponse != nil:
				b, _ := json.Marshal(part.FunctionResponse)
				text = string(b)
			}
			if text == "" {
				continue
			}
			ids, _, err := codec.Encode(text)
			if err != nil {
				return 0, errors.Wrap(err, "could not encode content")
			}
			count += len(ids)
		}
	}
	return count, nil
}
