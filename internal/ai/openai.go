package ai

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/venue-leads/internal/config"
	"github.com/sells-group/venue-leads/internal/cost"
	"github.com/sells-group/venue-leads/internal/resilience"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

func newOpenAIClient(cfg config.OpenAIConfig) chatClient {
	c := openai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}

// OpenAICompleter requests JSON-schema constrained chat completions.
type OpenAICompleter struct {
	base
	client chatClient
}

// NewOpenAICompleter creates an OpenAICompleter.
func NewOpenAICompleter(client chatClient, model string, opts ...Option) *OpenAICompleter {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAICompleter{base: newBase(ProviderOpenAI, model, opts), client: client}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	ctx, cancel, err := c.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.tokens(opts),
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	if len(opts.Schema) > 0 {
		raw, err := json.Marshal(opts.Schema)
		if err != nil {
			return nil, eris.Wrap(err, "ai: marshal schema")
		}
		name := opts.SchemaName
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: json.RawMessage(raw),
			},
		}
	}

	resp, err := resilience.Call(ctx, c.guard, "openai.chat", func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return resp, classifyOpenAI(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "ai: openai completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("ai: openai returned no choices")
	}

	out := &Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: cost.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	if out.Model == "" {
		out.Model = c.model
	}
	c.record(out)
	return out, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && resilience.RetryableStatus(apiErr.HTTPStatusCode) {
		return resilience.Transient(err, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && resilience.RetryableStatus(reqErr.HTTPStatusCode) {
		return resilience.Transient(err, reqErr.HTTPStatusCode)
	}
	return err
}
