package ai

import (
	"context"
	"encoding/json"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-leads/internal/cost"
	"github.com/sells-group/venue-leads/internal/resilience"
	"github.com/sells-group/venue-leads/pkg/anthropic"
)

// AnthropicCompleter asks Claude for JSON matching a schema. The schema is
// embedded in the system prompt since the Messages API has no response format.
type AnthropicCompleter struct {
	base
	client anthropic.Client
}

// NewAnthropicCompleter creates an AnthropicCompleter.
func NewAnthropicCompleter(client anthropic.Client, model string, opts ...Option) *AnthropicCompleter {
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}
	return &AnthropicCompleter{base: newBase(ProviderAnthropic, model, opts), client: client}
}

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	ctx, cancel, err := c.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer cancel()

	system := opts.System
	if len(opts.Schema) > 0 {
		raw, err := json.Marshal(opts.Schema)
		if err != nil {
			return nil, eris.Wrap(err, "ai: marshal schema")
		}
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single JSON object matching this JSON Schema:\n" + string(raw)
	}

	req := anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: int64(c.tokens(opts)),
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}

	resp, err := resilience.Call(ctx, c.guard, "anthropic.messages", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.client.CreateMessage(ctx, req)
		if err != nil {
			return nil, classifyAnthropic(err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "ai: anthropic completion")
	}

	out := &Completion{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: cost.Usage{InputTokens: int(resp.Usage.InputTokens), OutputTokens: int(resp.Usage.OutputTokens)},
	}
	if out.Model == "" {
		out.Model = c.model
	}
	if out.Text == "" {
		return nil, eris.New("ai: anthropic returned no text")
	}
	c.record(out)
	return out, nil
}

func classifyAnthropic(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.RetryableStatus(apiErr.StatusCode) {
		return resilience.Transient(err, apiErr.StatusCode)
	}
	return err
}
