package anthropic

// ModelPricing contains per-model token pricing.
type ModelPricing struct {
	InputPer1M  float64 // Cost per 1M input tokens in USD
	OutputPer1M float64 // Cost per 1M output tokens in USD
}

// Pricing calculates Claude API costs from token usage.
type Pricing struct {
	prices map[string]ModelPricing
}

// NewPricing creates a pricing calculator with current rates.
// Pricing as of: 2025-12-27
// Source: https://claude.com/pricing
func NewPricing() *Pricing {
	return &Pricing{
		prices: map[string]ModelPricing{
			// Claude 4.5 family (2025)
			"claude-opus-4-5-20251101": {
				InputPer1M:  5.00,
				OutputPer1M: 25.00,
			},
			"claude-sonnet-4-5-20250929": {
				InputPer1M:  3.00,
				OutputPer1M: 15.00,
			},
			"claude-haiku-4-5": {
				InputPer1M:  1.00,
				OutputPer1M: 5.00,
			},
			// Legacy Claude 3.5 family (still available)
			"claude-3-5-sonnet-20241022": {
				InputPer1M:  3.00,
				OutputPer1M: 15.00,
			},
			"claude-3-5-haiku-20241022": {
				InputPer1M:  0.80,
				OutputPer1M: 4.00,
			},
		},
	}
}

// Cost returns the price of a call. Unknown models cost zero so a new
// model name never breaks accounting.
func (p *Pricing) Cost(model string, tokensIn, tokensOut int) float64 {
	modelPrice, ok := p.prices[model]
	if !ok {
		return 0.0
	}

	inputCost := float64(tokensIn) / 1_000_000.0 * modelPrice.InputPer1M
	outputCost := float64(tokensOut) / 1_000_000.0 * modelPrice.OutputPer1M

	return inputCost + outputCost
}
