// Package indicator computes the technical indicators fed into the
// analysis prompt: moving averages, MACD, volatility and price levels.
package indicator

import (
	"math"

	"cryptosignal/internal/market"
)

// SMA returns the simple moving average of values with the given window.
// Positions with fewer than window/2 samples available are NaN, matching
// a min-periods rolling mean.
func SMA(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	minPeriods := window / 2
	if minPeriods < 1 {
		minPeriods = 1
	}

	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		if n < minPeriods {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMA returns the exponential moving average with span-style smoothing,
// alpha = 2/(span+1). The first value seeds the series.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACDResult holds the three MACD series.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD line (fast EMA minus slow EMA), its signal EMA
// and the histogram.
func MACD(values []float64, fast, slow, signal int) MACDResult {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)

	line := make([]float64, len(values))
	for i := range values {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - sig[i]
	}
	return MACDResult{Line: line, Signal: sig, Histogram: hist}
}

// AnnualizedVolatility returns the standard deviation of simple returns
// scaled by sqrt(365). NaN when fewer than three closes are available.
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return math.NaN()
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return math.NaN()
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(365)
}

// Levels holds recent support and resistance, taken from the lows and
// highs of the lookback window.
type Levels struct {
	Support    float64
	Resistance float64
}

// RecentLevels scans the last lookback bars for the lowest low and
// highest high.
func RecentLevels(bars []market.Bar, lookback int) Levels {
	if len(bars) == 0 {
		return Levels{}
	}
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}
	lv := Levels{Support: bars[start].Low, Resistance: bars[start].High}
	for _, b := range bars[start:] {
		if b.Low < lv.Support {
			lv.Support = b.Low
		}
		if b.High > lv.Resistance {
			lv.Resistance = b.High
		}
	}
	return lv
}

// Params selects the indicator windows.
type Params struct {
	MAWindow   int `json:"ma_window"`
	MACDFast   int `json:"macd_fast"`
	MACDSlow   int `json:"macd_slow"`
	MACDSignal int `json:"macd_signal"`
}

// DefaultParams returns the stock indicator windows.
func DefaultParams() Params {
	return Params{MAWindow: 21, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}
}

// TimeframeSummary condenses one timeframe into the figures the analysis
// prompt works with.
type TimeframeSummary struct {
	Bars          int     `json:"bars"`
	LastClose     float64 `json:"last_close"`
	MA            float64 `json:"ma"`
	MADirection   string  `json:"ma_direction"` // above | below | flat
	MACDLine      float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_hist"`
	MACDTrend     string  `json:"macd_trend"` // bullish | bearish
	Volatility    float64 `json:"volatility_annualized"`
	Support       float64 `json:"support"`
	Resistance    float64 `json:"resistance"`
	ChangePct     float64 `json:"change_pct"` // close vs first bar in window
}

// Summarize reduces a bar series to a TimeframeSummary. Returns false
// when there is not enough data to say anything useful.
func Summarize(bars []market.Bar, p Params) (TimeframeSummary, bool) {
	if len(bars) < 2 {
		return TimeframeSummary{}, false
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := closes[len(closes)-1]

	s := TimeframeSummary{
		Bars:      len(bars),
		LastClose: last,
	}

	ma := SMA(closes, p.MAWindow)
	s.MA = ma[len(ma)-1]
	switch {
	case math.IsNaN(s.MA):
		s.MADirection = "flat"
	case last > s.MA*1.001:
		s.MADirection = "above"
	case last < s.MA*0.999:
		s.MADirection = "below"
	default:
		s.MADirection = "flat"
	}

	macd := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	n := len(closes) - 1
	s.MACDLine = macd.Line[n]
	s.MACDSignal = macd.Signal[n]
	s.MACDHistogram = macd.Histogram[n]
	if s.MACDHistogram >= 0 {
		s.MACDTrend = "bullish"
	} else {
		s.MACDTrend = "bearish"
	}

	s.Volatility = AnnualizedVolatility(closes)
	if math.IsNaN(s.Volatility) {
		s.Volatility = 0
	}

	lv := RecentLevels(bars, p.MAWindow)
	s.Support = lv.Support
	s.Resistance = lv.Resistance

	if closes[0] != 0 {
		s.ChangePct = (last/closes[0] - 1) * 100
	}
	return s, true
}
