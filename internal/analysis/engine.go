package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptosignal/internal/indicator"
	"cryptosignal/internal/logging"
	"cryptosignal/internal/market"
)

// ErrNoMarketData is returned when any timeframe of a pack is missing or
// failed. Analysis always sees all three timeframes or none.
var ErrNoMarketData = errors.New("no market data available")

// Engine produces trade signals from timeframe packs.
type Engine struct {
	llm           LLMClient
	prompts       *PromptLoader
	params        indicator.Params
	literatureURL string
}

// SetLiteratureURL attaches an optional trading-literature reference
// URL that is included in the model's analysis context.
func (e *Engine) SetLiteratureURL(u string) {
	e.literatureURL = u
}

// NewEngine builds an analysis engine. A nil LLM client switches the
// engine to a conservative local heuristic.
func NewEngine(llm LLMClient, prompts *PromptLoader, params indicator.Params) *Engine {
	if params.MAWindow == 0 {
		params = indicator.DefaultParams()
	}
	return &Engine{llm: llm, prompts: prompts, params: params}
}

// packInput is the JSON document handed to the model.
type packInput struct {
	Symbol        string                                 `json:"symbol"`
	Category      string                                 `json:"category"`
	NowUTC        string                                 `json:"now_utc"`
	Params        indicator.Params                       `json:"indicator_params"`
	LiteratureURL string                                 `json:"literature_url,omitempty"`
	Timeframes    map[string]*indicator.TimeframeSummary `json:"timeframes"`
	Errors        map[string]string                      `json:"-"`
}

func (e *Engine) buildInput(pack *market.Pack) (*packInput, error) {
	in := &packInput{
		Symbol:        pack.Symbol,
		Category:      pack.Category,
		NowUTC:        time.Now().UTC().Format(time.RFC3339),
		Params:        e.params,
		LiteratureURL: e.literatureURL,
		Timeframes:    make(map[string]*indicator.TimeframeSummary),
		Errors:        make(map[string]string),
	}

	slots := []struct {
		name string
		data market.TimeframeData
	}{
		{"weekly", pack.Weekly},
		{"daily", pack.Daily},
		{"4h", pack.FourHour},
	}
	for _, slot := range slots {
		if slot.data.Err != nil {
			in.Errors[slot.name] = slot.data.Err.Error()
			continue
		}
		if s, ok := indicator.Summarize(slot.data.Bars, e.params); ok {
			sum := s
			in.Timeframes[slot.name] = &sum
		} else {
			in.Errors[slot.name] = "not enough bars"
		}
	}

	// A single bad timeframe invalidates the whole picture. The model
	// never sees partial data.
	if len(in.Errors) > 0 {
		names := make([]string, 0, len(in.Errors))
		for _, slot := range slots {
			if _, bad := in.Errors[slot.name]; bad {
				names = append(names, slot.name)
			}
		}
		return nil, fmt.Errorf("%w: %s failed for %s", ErrNoMarketData, strings.Join(names, ", "), pack.Symbol)
	}
	return in, nil
}

// Decide analyzes a pack and returns a validated signal. LLM failures
// degrade to a no-signal with the failure as the reason; a pack with
// any failed timeframe is reported as an error before the model runs.
func (e *Engine) Decide(ctx context.Context, pack *market.Pack) (*Signal, error) {
	timer := logging.StartTimer(logging.CategoryAnalysis, "Decide")
	defer timer.Stop()

	in, err := e.buildInput(pack)
	if err != nil {
		return nil, err
	}

	if e.llm == nil {
		logging.AnalysisDebug("No LLM configured, using local heuristic for %s", pack.Symbol)
		return e.localDecide(in), nil
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis input: %w", err)
	}

	userPrompt := fmt.Sprintf("Analyze %s (%s market).\n\nTechnical data:\n%s", in.Symbol, in.Category, payload)
	raw, err := e.llm.CompleteWithSchema(ctx, e.prompts.Prompt(), userPrompt, signalSchema())
	if err != nil {
		logging.Get(logging.CategoryAnalysis).Error("LLM analysis failed for %s: %v", pack.Symbol, err)
		return NoSignal(fmt.Sprintf("analysis unavailable: %v", err)), nil
	}

	sig, err := parseSignal(raw)
	if err != nil {
		logging.Get(logging.CategoryAnalysis).Error("Rejected LLM output for %s: %v", pack.Symbol, err)
		return NoSignal(fmt.Sprintf("model output rejected: %v", err)), nil
	}

	logging.Analysis("Decision for %s: %s (confidence %.2f)", pack.Symbol, sig.Signal, sig.Confidence)
	return sig, nil
}

// parseSignal decodes and validates the model output. Models sometimes
// wrap JSON in markdown fences despite the response schema.
func parseSignal(raw string) (*Signal, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var sig Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return &sig, nil
}

// localDecide is the offline fallback: it never opens a position, it
// only describes the trend it sees.
func (e *Engine) localDecide(in *packInput) *Signal {
	bullish, total := 0, 0
	for _, tf := range in.Timeframes {
		total++
		if tf.MACDTrend == "bullish" && tf.MADirection == "above" {
			bullish++
		}
	}
	reason := fmt.Sprintf("local mode: %d of %d timeframes bullish, no LLM configured", bullish, total)
	return NoSignal(reason)
}
