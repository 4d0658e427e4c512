package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	t.Run("unit suffixes", func(t *testing.T) {
		cases := map[string]int{
			"5m":  300,
			"1h":  3600,
			"1d":  86400,
			"90s": 90,
			"4h":  14400,
		}
		for in, want := range cases {
			got, err := ParseFrequency(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got, in)
		}
	})

	t.Run("bare seconds", func(t *testing.T) {
		got, err := ParseFrequency("3600")
		require.NoError(t, err)
		assert.Equal(t, 3600, got)
	})

	t.Run("clamped to minimum", func(t *testing.T) {
		got, err := ParseFrequency("10s")
		require.NoError(t, err)
		assert.Equal(t, MinFrequencySeconds, got)

		got, err = ParseFrequency("5")
		require.NoError(t, err)
		assert.Equal(t, MinFrequencySeconds, got)
	})

	t.Run("clamped to maximum", func(t *testing.T) {
		got, err := ParseFrequency("400d")
		require.NoError(t, err)
		assert.Equal(t, MaxFrequencySeconds, got)
	})

	t.Run("invalid input", func(t *testing.T) {
		for _, in := range []string{"", "abc", "5x", "m5", "1.5h"} {
			_, err := ParseFrequency(in)
			assert.Error(t, err, in)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe, in)
		}
	})

	t.Run("case and whitespace", func(t *testing.T) {
		got, err := ParseFrequency("  5M ")
		require.NoError(t, err)
		assert.Equal(t, 300, got)
	})
}

func TestNormPairs(t *testing.T) {
	assert.Equal(t, "BTCUSDT,TRXUSDT", NormPairs("btc/usdt, trxusdt"))
	assert.Equal(t, "BTCUSDT", NormPairs("BTCUSDT,btcusdt,BTC/USDT"))
	assert.Equal(t, "BTCUSDT,INJUSDT", NormPairs(" btcusdt ,, injusdt "))
	assert.Equal(t, DefaultPairs, NormPairs(""))
	assert.Equal(t, DefaultPairs, NormPairs(" , , "))
}

func TestSplitPairs(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT", "TRXUSDT"}, SplitPairs("BTCUSDT,TRXUSDT"))
	assert.Equal(t, []string{"BTCUSDT"}, SplitPairs(" btcusdt , "))
	assert.Nil(t, SplitPairs(""))
}

func TestValidateSensitivity(t *testing.T) {
	for _, v := range []string{"low", "MEDIUM", " high "} {
		got, err := ValidateSensitivity(v)
		require.NoError(t, err, v)
		assert.Contains(t, []string{"low", "medium", "high"}, got)
	}
	_, err := ValidateSensitivity("extreme")
	assert.Error(t, err)
}

func TestValidateCategory(t *testing.T) {
	got, err := ValidateCategory("SPOT")
	require.NoError(t, err)
	assert.Equal(t, CategorySpot, got)

	got, err = ValidateCategory("linear")
	require.NoError(t, err)
	assert.Equal(t, CategoryLinear, got)

	_, err = ValidateCategory("inverse")
	assert.Error(t, err)
}

func TestConfidenceThreshold(t *testing.T) {
	assert.InDelta(t, 0.80, ConfidenceThreshold("low"), 1e-9)
	assert.InDelta(t, 0.60, ConfidenceThreshold("medium"), 1e-9)
	assert.InDelta(t, 0.40, ConfidenceThreshold("high"), 1e-9)
	// Unknown sensitivity falls back to medium.
	assert.InDelta(t, 0.60, ConfidenceThreshold("weird"), 1e-9)
}
