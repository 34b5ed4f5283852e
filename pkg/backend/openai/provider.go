package openai

import (
	"context"
	"io"
	"iter"
	"net/http"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const DefaultEmbeddingModel = string(go_openai.SmallEmbedding3)

// Provider talks to the OpenAI chat completions API, or any server compatible with it.
type Provider struct {
	client         *go_openai.Client
	embeddingModel string
	maxTokens      int
	temperature    *float32
}

type Option func(*providerConfig)

type providerConfig struct {
	apiKey         string
	baseURL        string
	httpClient     *http.Client
	embeddingModel string
	maxTokens      int
	temperature    *float32
}

func WithBaseURL(url string) Option {
	return func(c *providerConfig) {
		c.baseURL = url
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) {
		c.httpClient = client
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *providerConfig) {
		c.embeddingModel = model
	}
}

func WithMaxTokens(n int) Option {
	return func(c *providerConfig) {
		c.maxTokens = n
	}
}

func WithTemperature(t float32) Option {
	return func(c *providerConfig) {
		c.temperature = &t
	}
}

func NewProvider(apiKey string, options ...Option) (*Provider, error) {
	cfg := &providerConfig{
		apiKey:         apiKey,
		embeddingModel: DefaultEmbeddingModel,
	}
	for _, o := range options {
		o(cfg)
	}
	if cfg.apiKey == "" {
		return nil, &backend.AuthError{Message: "no OpenAI API key configured"}
	}

	clientConfig := go_openai.DefaultConfig(cfg.apiKey)
	if cfg.baseURL != "" {
		clientConfig.BaseURL = cfg.baseURL
	}
	if cfg.httpClient != nil {
		clientConfig.HTTPClient = cfg.httpClient
	}

	return &Provider{
		client:         go_openai.NewClientWithConfig(clientConfig),
		embeddingModel: cfg.embeddingModel,
		maxTokens:      cfg.maxTokens,
		temperature:    cfg.temperature,
	}, nil
}

func (p *Provider) Name() string {
	return "openai"
}

func (p *Provider) chatRequest(req backend.ProviderRequest) go_openai.ChatCompletionRequest {
	ret := go_openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toMessages(req.SystemInstruction, req.Contents),
		Tools:    toTools(req.Tools),
	}
	if p.maxTokens > 0 {
		ret.MaxTokens = p.maxTokens
	}
	if p.temperature != nil {
		ret.Temperature = *p.temperature
	}
	return ret
}

// StreamContent streams content deltas as they arrive. Tool calls are
// emitted once the stream is complete, since their arguments arrive in pieces.
func (p *Provider) StreamContent(ctx context.Context, req backend.ProviderRequest) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		creq := p.chatRequest(req)
		creq.Stream = true

		log.Debug().Str("model", creq.Model).Int("messages", len(creq.Messages)).Int("tools", len(creq.Tools)).Msg("OpenAI starting stream")
		stream, err := p.client.CreateChatCompletionStream(ctx, creq)
		if err != nil {
			yield(nil, classifyError(err))
			return
		}
		defer func() {
			_ = stream.Close()
		}()

		merger := NewToolCallMerger()
		var finish go_openai.FinishReason
		chunkCount := 0
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				log.Debug().Int("chunks_received", chunkCount).Msg("OpenAI stream completed")
				break
			}
			if err != nil {
				yield(nil, classifyError(err))
				return
			}
			chunkCount++

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]
			if choice.Delta.Content != "" {
				if !yield(events.NewContentEvent(choice.Delta.Content), nil) {
					return
				}
			}
			if len(choice.Delta.ToolCalls) > 0 {
				merger.AddToolCalls(choice.Delta.ToolCalls)
			}
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}

		reason := finishReason(finish)
		for _, tc := range merger.ToolCalls() {
			args, err := parseArguments(tc.Function.Arguments)
			if err != nil {
				log.Warn().Err(err).Str("tool", tc.Function.Name).Str("call_id", tc.ID).Msg("dropping malformed tool call")
				reason = events.FinishReasonMalformedFunctionCall
				continue
			}
			ev := events.NewToolCallRequestEvent(events.ToolCallRequestInfo{
				CallID: tc.ID,
				Name:   tc.Function.Name,
				Args:   args,
			})
			if !yield(ev, nil) {
				return
			}
		}
		yield(events.NewFinishedEvent(reason), nil)
	}
}

func (p *Provider) GenerateContent(ctx context.Context, req backend.ProviderRequest) (*backend.Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.chatRequest(req))
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &backend.APIError{Message: "no choices in completion response"}
	}
	choice := resp.Choices[0]

	var parts []history.Part
	if choice.Message.Content != "" {
		parts = append(parts, history.TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := parseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		parts = append(parts, history.Part{FunctionCall: &history.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}})
	}
	return &backend.Response{
		Content:      history.NewModelContent(parts...),
		FinishReason: finishReason(choice.FinishReason),
	}, nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, go_openai.EmbeddingRequest{
		Input: texts,
		Model: go_openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, classifyError(err)
	}
	ret := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(ret) {
			return nil, errors.Errorf("embedding index %d out of range", d.Index)
		}
		ret[d.Index] = d.Embedding
	}
	return ret, nil
}

var _ backend.Provider = (*Provider)(nil)
