package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeModelMapsDatedVariants(t *testing.T) {
	require.Equal(t, "gpt-5-mini", NormalizeModel("gpt-5-mini-2025-08-07"))
	require.Equal(t, "gpt-4o-mini", NormalizeModel("GPT-4o-mini"))
	require.Equal(t, "o4-mini", NormalizeModel("o4-mini"))
	require.Equal(t, "mystery-model", NormalizeModel("mystery-model"))
}

func TestEstimatePriceKnownModel(t *testing.T) {
	price := EstimatePrice(1000, 1000, "gpt-5-mini", 0, 0)
	require.NotNil(t, price)
	require.InDelta(t, 0.00025+0.002, *price, 1e-9)
}

func TestEstimatePriceFallsBackToDefaults(t *testing.T) {
	price := EstimatePrice(2000, 500, "mystery-model", 0.001, 0.002)
	require.NotNil(t, price)
	require.InDelta(t, 2.0*0.001+0.5*0.002, *price, 1e-9)
}

func TestEstimatePriceNilWhenUnpriced(t *testing.T) {
	require.Nil(t, EstimatePrice(1000, 1000, "mystery-model", 0, 0))
}

func TestEstimatePriceNeverNegative(t *testing.T) {
	price := EstimatePrice(0, 0, "gpt-5", 0, 0)
	require.NotNil(t, price)
	require.GreaterOrEqual(t, *price, 0.0)
}
