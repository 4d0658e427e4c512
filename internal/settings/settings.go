// Package settings parses and validates per-user bot preferences:
// check frequency, watched pairs, sensitivity, and market category.
package settings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Frequency bounds in seconds.
const (
	MinFrequencySeconds     = 60
	MaxFrequencySeconds     = 31 * 86400
	DefaultFrequencySeconds = 3600
)

// DefaultPairs is used when a pair list normalizes to nothing.
const DefaultPairs = "BTCUSDT"

// Sensitivity levels.
const (
	SensitivityLow    = "low"
	SensitivityMedium = "medium"
	SensitivityHigh   = "high"
)

// Market categories.
const (
	CategorySpot   = "spot"
	CategoryLinear = "linear"
)

// confidenceThresholds maps sensitivity to the minimum confidence a buy
// signal needs before it is published to the channel.
var confidenceThresholds = map[string]float64{
	SensitivityLow:    0.80, // only strong signals
	SensitivityMedium: 0.60, // balanced
	SensitivityHigh:   0.40, // even weak signals
}

// FrequencyPreset is a labeled interval for the settings keyboard.
type FrequencyPreset struct {
	Label   string
	Seconds int
}

// FrequencyPresets are the quick-select intervals offered in the settings menu.
var FrequencyPresets = []FrequencyPreset{
	{"1m", 60},
	{"5m", 300},
	{"15m", 900},
	{"1h", 3600},
	{"4h", 14400},
	{"1d", 86400},
}

// ParseError reports invalid user input.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

var freqPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var freqUnits = map[string]int{"s": 1, "m": 60, "h": 3600, "d": 86400}

// ParseFrequency parses a check interval like "5m", "1h", or a bare number
// of seconds, clamped to [MinFrequencySeconds, MaxFrequencySeconds].
func ParseFrequency(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, parseErrorf("expected format: <N>s|m|h|d, e.g. 5m or 1h")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < MinFrequencySeconds {
			return MinFrequencySeconds, nil
		}
		if n > MaxFrequencySeconds {
			return MaxFrequencySeconds, nil
		}
		return n, nil
	}

	m := freqPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, parseErrorf("expected format: <N>s|m|h|d, e.g. 5m or 1h")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, parseErrorf("expected format: <N>s|m|h|d, e.g. 5m or 1h")
	}
	seconds := n * freqUnits[m[2]]
	if seconds < MinFrequencySeconds {
		seconds = MinFrequencySeconds
	}
	if seconds > MaxFrequencySeconds {
		seconds = MaxFrequencySeconds
	}
	return seconds, nil
}

// NormPairs normalizes a comma-separated pair list: uppercase, slashes
// stripped, duplicates removed preserving first occurrence. An empty result
// falls back to DefaultPairs.
func NormPairs(text string) string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range strings.Split(text, ",") {
		p := strings.ToUpper(strings.TrimSpace(raw))
		p = strings.ReplaceAll(p, "/", "")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return DefaultPairs
	}
	return strings.Join(out, ",")
}

// SplitPairs returns the individual symbols of a stored pair list.
func SplitPairs(pairs string) []string {
	var out []string
	for _, p := range strings.Split(pairs, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateSensitivity checks a sensitivity value.
func ValidateSensitivity(val string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(val))
	switch v {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return v, nil
	}
	return "", parseErrorf("sensitivity must be: low|medium|high")
}

// ValidateCategory checks a market category value.
func ValidateCategory(val string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(val))
	switch v {
	case CategorySpot, CategoryLinear:
		return v, nil
	}
	return "", parseErrorf("category must be: spot|linear")
}

// ConfidenceThreshold returns the publish threshold for a sensitivity level.
// Unknown values get the medium threshold.
func ConfidenceThreshold(sensitivity string) float64 {
	if th, ok := confidenceThresholds[strings.ToLower(strings.TrimSpace(sensitivity))]; ok {
		return th
	}
	return confidenceThresholds[SensitivityMedium]
}
