package openai

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// toMessages converts the history into chat completion messages. Function
// responses become tool messages, model function calls become assistant tool calls.
func toMessages(system string, contents []history.Content) []go_openai.ChatCompletionMessage {
	var msgs []go_openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, c := range contents {
		switch c.Role {
		case history.RoleModel:
			msg := go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleAssistant,
				Content: c.Text(),
			}
			for _, fc := range c.FunctionCalls() {
				args, err := json.Marshal(fc.Args)
				if err != nil {
					log.Warn().Err(err).Str("tool", fc.Name).Msg("could not marshal tool call arguments")
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
					ID:   fc.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      fc.Name,
						Arguments: string(args),
					},
				})
			}
			msgs = append(msgs, msg)

		default:
			var text strings.Builder
			for _, p := range c.Parts {
				switch {
				case p.FunctionResponse != nil:
					body, err := json.Marshal(p.FunctionResponse.Response)
					if err != nil {
						body = []byte(`{"error":"unserializable tool response"}`)
					}
					msgs = append(msgs, go_openai.ChatCompletionMessage{
						Role:       go_openai.ChatMessageRoleTool,
						ToolCallID: p.FunctionResponse.ID,
						Name:       p.FunctionResponse.Name,
						Content:    string(body),
					})
				case p.Thought:
				default:
					text.WriteString(p.Text)
				}
			}
			if text.Len() > 0 {
				msgs = append(msgs, go_openai.ChatCompletionMessage{
					Role:    go_openai.ChatMessageRoleUser,
					Content: text.String(),
				})
			}
		}
	}
	return msgs
}

func toTools(specs []backend.ToolSpec) []go_openai.Tool {
	var ret []go_openai.Tool
	for _, s := range specs {
		ret = append(ret, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return ret
}

func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Wrap(err, "malformed tool call arguments")
	}
	return args, nil
}

func finishReason(r go_openai.FinishReason) events.FinishReason {
	switch r {
	case "":
		return events.FinishReasonUnspecified
	case go_openai.FinishReasonStop, go_openai.FinishReasonToolCalls, go_openai.FinishReasonFunctionCall:
		return events.FinishReasonStop
	case go_openai.FinishReasonLength:
		return events.FinishReasonMaxTokens
	case go_openai.FinishReasonContentFilter:
		return events.FinishReasonSafety
	default:
		return events.FinishReasonOther
	}
}

// classifyError maps go-openai errors onto the backend error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return backend.ErrorFromStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		msg := "request failed"
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return backend.ErrorFromStatus(reqErr.HTTPStatusCode, msg)
	}
	return err
}
