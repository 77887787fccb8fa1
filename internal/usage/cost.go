package usage

// Pricing holds per-model token rates in USD per million tokens.
type Pricing struct {
	InputPerMTokUSD  float64 `json:"input_per_mtok_usd"`
	OutputPerMTokUSD float64 `json:"output_per_mtok_usd"`
}

// CostEstimate is the derived cost record attached to request metadata.
type CostEstimate struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Model        string  `json:"model"`
	InputRate    float64 `json:"input_rate_per_mtok_usd"`
	OutputRate   float64 `json:"output_rate_per_mtok_usd"`
	TierDiscount float64 `json:"tier_discount"`
	FinalCostUSD float64 `json:"final_cost_usd"`
}

// priceTable maps model identifiers to rates. Unknown models fall back to
// defaultPricing so cost is never silently zero for a live call.
var priceTable = map[string]Pricing{
	"gpt-5":       {InputPerMTokUSD: 1.25, OutputPerMTokUSD: 10.00},
	"gpt-5-mini":  {InputPerMTokUSD: 0.25, OutputPerMTokUSD: 2.00},
	"gpt-4o":      {InputPerMTokUSD: 2.50, OutputPerMTokUSD: 10.00},
	"gpt-4o-mini": {InputPerMTokUSD: 0.15, OutputPerMTokUSD: 0.60},
}

var defaultPricing = Pricing{InputPerMTokUSD: 2.50, OutputPerMTokUSD: 10.00}

// PriceFor returns the pricing for a model, falling back to default rates.
func PriceFor(model string) Pricing {
	if p, ok := priceTable[model]; ok {
		return p
	}
	return defaultPricing
}

// Estimate computes the monetary cost of one call. tierDiscount is a
// multiplier in (0,1]; 1.0 means no subscription discount.
func Estimate(model string, inputTokens, outputTokens int64, tierDiscount float64) CostEstimate {
	if tierDiscount <= 0 || tierDiscount > 1 {
		tierDiscount = 1.0
	}
	p := PriceFor(model)
	raw := float64(inputTokens)/1e6*p.InputPerMTokUSD + float64(outputTokens)/1e6*p.OutputPerMTokUSD
	return CostEstimate{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Model:        model,
		InputRate:    p.InputPerMTokUSD,
		OutputRate:   p.OutputPerMTokUSD,
		TierDiscount: tierDiscount,
		FinalCostUSD: raw * tierDiscount,
	}
}

// ZeroCost returns the cost estimate for a mock-path result.
func ZeroCost(model string) CostEstimate {
	return CostEstimate{Model: model, TierDiscount: 1.0}
}
