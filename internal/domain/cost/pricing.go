// Package cost provides per-mission cost accounting: a pricing table,
// an append-only ledger and the predictive cap check the run loop
// performs before every collaborator call.
package cost

// Price holds per-token USD rates for one model.
type Price struct {
	InputPerToken  float64
	OutputPerToken float64
}

// Pricing maps model identifiers to rates, with a fallback for unknown models.
type Pricing struct {
	models   map[string]Price
	fallback Price
}

// defaultFallback prices unknown models at the most expensive known
// rate so the predictive cap check stays conservative.
var defaultFallback = Price{InputPerToken: 15e-6, OutputPerToken: 75e-6}

// DefaultPricing returns a pricing table for the commonly routed models.
func DefaultPricing() *Pricing {
	return &Pricing{
		models: map[string]Price{
			"openai/gpt-4o":               {InputPerToken: 2.5e-6, OutputPerToken: 10e-6},
			"openai/gpt-4o-mini":          {InputPerToken: 0.15e-6, OutputPerToken: 0.6e-6},
			"anthropic/claude-3-5-sonnet": {InputPerToken: 3e-6, OutputPerToken: 15e-6},
			"anthropic/claude-3-5-haiku":  {InputPerToken: 0.8e-6, OutputPerToken: 4e-6},
		},
		fallback: defaultFallback,
	}
}

// NewPricing builds a pricing table from explicit rates.
func NewPricing(models map[string]Price, fallback Price) *Pricing {
	if models == nil {
		models = map[string]Price{}
	}
	return &Pricing{models: models, fallback: fallback}
}

// Lookup returns the price for a model, falling back for unknown models.
func (p *Pricing) Lookup(model string) Price {
	if pr, ok := p.models[model]; ok {
		return pr
	}
	return p.fallback
}

// Cost computes the USD cost of one call.
func (p *Pricing) Cost(model string, tokensIn, tokensOut int64) float64 {
	pr := p.Lookup(model)
	return float64(tokensIn)*pr.InputPerToken + float64(tokensOut)*pr.OutputPerToken
}

// EstimateMax prices an upcoming call assuming every estimated token is
// billed at the output rate, which is never cheaper than the input rate.
func (p *Pricing) EstimateMax(model string, estimatedTokens int64) float64 {
	return float64(estimatedTokens) * p.Lookup(model).OutputPerToken
}
