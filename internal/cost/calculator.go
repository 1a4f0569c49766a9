// Package cost attributes USD cost to AI completion calls.
package cost

import (
	"go.uber.org/zap"

	"github.com/sells-group/venue-leads/internal/config"
)

// Usage is the token accounting of one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Calculator prices token usage per model (USD per million tokens).
type Calculator struct {
	rates map[string]config.ModelPricing
}

// NewCalculator creates a Calculator. Unknown models price at zero.
func NewCalculator(rates map[string]config.ModelPricing) *Calculator {
	if rates == nil {
		rates = map[string]config.ModelPricing{}
	}
	return &Calculator{rates: rates}
}

// Price returns the USD cost of usage for model.
func (c *Calculator) Price(model string, u Usage) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1e6*rate.Input + float64(u.OutputTokens)/1e6*rate.Output
}

// Log records usage and cost for one call.
func (c *Calculator) Log(provider, model string, u Usage) {
	zap.L().Info("cost attribution",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int("input_tokens", u.InputTokens),
		zap.Int("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", c.Price(model, u)),
	)
}
