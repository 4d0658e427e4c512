package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptosignal/internal/indicator"
	"cryptosignal/internal/market"
)

type stubLLM struct {
	response string
	err      error
	calls    int
	lastUser string
}

func (s *stubLLM) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}) (string, error) {
	s.calls++
	s.lastUser = userPrompt
	return s.response, s.err
}

func trendBars(n int, up bool) []market.Bar {
	bars := make([]market.Bar, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		price := 100 + float64(i)
		if !up {
			price = 100 + float64(n) - float64(i)
		}
		bars[i] = market.Bar{
			Start: base.Add(time.Duration(i) * time.Hour),
			High:  price + 1,
			Low:   price - 1,
			Close: price,
		}
	}
	return bars
}

func goodPack() *market.Pack {
	return &market.Pack{
		Symbol:   "BTCUSDT",
		Category: "spot",
		Weekly:   market.TimeframeData{Bars: trendBars(40, true)},
		Daily:    market.TimeframeData{Bars: trendBars(60, true)},
		FourHour: market.TimeframeData{Bars: trendBars(60, true)},
	}
}

func TestDecideBuy(t *testing.T) {
	llm := &stubLLM{response: `{"signal":"buy","confidence":0.75,"entry":158,"take_profit":170,"stop_loss":150,"exit_horizon":"3-7 days","reason":"aligned trend"}`}
	e := NewEngine(llm, NewPromptLoader("does-not-exist.txt"), indicator.DefaultParams())

	sig, err := e.Decide(context.Background(), goodPack())
	require.NoError(t, err)
	assert.True(t, sig.IsBuy())
	assert.Equal(t, 0.75, sig.Confidence)
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, llm.lastUser, "BTCUSDT")
	assert.Contains(t, llm.lastUser, "weekly")
}

func TestDecideAllTimeframesFailed(t *testing.T) {
	llm := &stubLLM{}
	e := NewEngine(llm, NewPromptLoader("does-not-exist.txt"), indicator.DefaultParams())

	boom := errors.New("exchange down")
	pack := &market.Pack{
		Symbol:   "BTCUSDT",
		Category: "spot",
		Weekly:   market.TimeframeData{Err: boom},
		Daily:    market.TimeframeData{Err: boom},
		FourHour: market.TimeframeData{Err: boom},
	}
	_, err := e.Decide(context.Background(), pack)
	assert.ErrorIs(t, err, ErrNoMarketData)
	assert.Zero(t, llm.calls, "LLM must not be called without data")
}

func TestDecideSingleTimeframeFailureSkipsLLM(t *testing.T) {
	llm := &stubLLM{response: `{"signal":"buy","confidence":0.95,"entry":158,"take_profit":170,"stop_loss":150,"exit_horizon":"3-7 days","reason":"should never be seen"}`}
	e := NewEngine(llm, NewPromptLoader("does-not-exist.txt"), indicator.DefaultParams())

	pack := goodPack()
	pack.Weekly = market.TimeframeData{Err: errors.New("timed out")}

	_, err := e.Decide(context.Background(), pack)
	assert.ErrorIs(t, err, ErrNoMarketData)
	assert.Contains(t, err.Error(), "weekly")
	assert.Zero(t, llm.calls, "a pack with a failed timeframe must not reach the model")
}

func TestDecideUserPromptContext(t *testing.T) {
	llm := &stubLLM{response: `{"signal":"none","confidence":0.2}`}
	e := NewEngine(llm, NewPromptLoader("does-not-exist.txt"), indicator.DefaultParams())
	e.SetLiteratureURL("https://example.org/ta-handbook")

	_, err := e.Decide(context.Background(), goodPack())
	require.NoError(t, err)
	assert.Contains(t, llm.lastUser, "now_utc")
	assert.Contains(t, llm.lastUser, "ma_window")
	assert.Contains(t, llm.lastUser, "https://example.org/ta-handbook")
}

func TestDecideLLMFailureDegrades(t *testing.T) {
	llm := &stubLLM{err: errors.New("rate limit exceeded")}
	e := NewEngine(llm, NewPromptLoader("does-not-exist.txt"), indicator.DefaultParams())

	sig, err := e.Decide(context.Background(), goodPack())
	require.NoError(t, err)
	assert.Equal(t, SignalNone, sig.Signal)
	assert.Contains(t, sig.Reason, "analysis unavailable")
}

func TestDecideRejectsBadModelOutput(t *testing.T) {
	llm := &stubLLM{response: `{"signal":"buy","confidence":0.9}`}
	e := NewEngine(llm, NewPromptLoader("does-not-exist.txt"), indicator.DefaultParams())

	sig, err := e.Decide(context.Background(), goodPack())
	require.NoError(t, err)
	assert.Equal(t, SignalNone, sig.Signal)
	assert.Contains(t, sig.Reason, "rejected")
}

func TestDecideLocalMode(t *testing.T) {
	e := NewEngine(nil, NewPromptLoader("does-not-exist.txt"), indicator.DefaultParams())

	sig, err := e.Decide(context.Background(), goodPack())
	require.NoError(t, err)
	assert.Equal(t, SignalNone, sig.Signal)
	assert.Contains(t, sig.Reason, "local mode")
}
