package llm

import "strings"

type modelRates struct {
	inputPer1K  float64
	outputPer1K float64
}

// Known per-1K-token prices. Models missing from the table fall back to the
// configured default rates.
var modelPricesPer1K = map[string]modelRates{
	"gpt-5":       {0.00125, 0.01},
	"gpt-5-mini":  {0.00025, 0.002},
	"gpt-5-nano":  {0.00005, 0.0004},
	"gpt-4o-mini": {0.00015, 0.0006},
	"o4-mini":     {0.0011, 0.0044},
}

// NormalizeModel maps dated model variants (e.g. "gpt-5-mini-2025-01-01")
// onto their pricing table key.
func NormalizeModel(model string) string {
	if model == "" {
		return ""
	}
	model = strings.ToLower(model)
	for key := range modelPricesPer1K {
		if model == key || strings.HasPrefix(model, key+"-") {
			return key
		}
	}
	return model
}

// Rates returns the input and output per-1K rates for a model, preferring the
// built-in table over the configured defaults.
func Rates(model string, defaultInput, defaultOutput float64) (float64, float64) {
	if rates, ok := modelPricesPer1K[NormalizeModel(model)]; ok {
		return rates.inputPer1K, rates.outputPer1K
	}
	return defaultInput, defaultOutput
}

// EstimatePrice computes a cost estimate from token usage. It returns nil when
// both rates resolve to zero, meaning pricing is not configured for the model.
func EstimatePrice(promptTokens, completionTokens int, model string, defaultInput, defaultOutput float64) *float64 {
	inputRate, outputRate := Rates(model, defaultInput, defaultOutput)
	if inputRate <= 0 && outputRate <= 0 {
		return nil
	}
	price := float64(promptTokens)/1000.0*inputRate + float64(completionTokens)/1000.0*outputRate
	return &price
}
