// Package analysis turns multi-timeframe market data into trade signals
// using an LLM for the final buy/no-buy decision.
package analysis

import (
	"fmt"
)

// Signal kinds emitted by the decision engine.
const (
	SignalBuy  = "buy"
	SignalNone = "none"
)

// Signal is the structured decision for one symbol.
type Signal struct {
	Signal      string   `json:"signal"`
	Confidence  float64  `json:"confidence"`
	Entry       *float64 `json:"entry,omitempty"`
	TakeProfit  *float64 `json:"take_profit,omitempty"`
	StopLoss    *float64 `json:"stop_loss,omitempty"`
	ExitHorizon string   `json:"exit_horizon,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// IsBuy reports whether this is an actionable buy signal.
func (s *Signal) IsBuy() bool {
	return s.Signal == SignalBuy
}

// Validate checks structural invariants. A buy signal must carry entry,
// take profit, stop loss and an exit horizon; confidence is always
// required to sit in [0, 1].
func (s *Signal) Validate() error {
	switch s.Signal {
	case SignalBuy, SignalNone:
	default:
		return fmt.Errorf("unknown signal type %q", s.Signal)
	}

	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0, 1]", s.Confidence)
	}

	if s.Signal != SignalBuy {
		return nil
	}

	if s.Entry == nil || *s.Entry <= 0 {
		return fmt.Errorf("buy signal missing a positive entry price")
	}
	if s.TakeProfit == nil || *s.TakeProfit <= 0 {
		return fmt.Errorf("buy signal missing a positive take profit")
	}
	if s.StopLoss == nil || *s.StopLoss <= 0 {
		return fmt.Errorf("buy signal missing a positive stop loss")
	}
	if s.ExitHorizon == "" {
		return fmt.Errorf("buy signal missing an exit horizon")
	}
	if *s.TakeProfit <= *s.Entry {
		return fmt.Errorf("take profit %v not above entry %v", *s.TakeProfit, *s.Entry)
	}
	if *s.StopLoss >= *s.Entry {
		return fmt.Errorf("stop loss %v not below entry %v", *s.StopLoss, *s.Entry)
	}
	return nil
}

// NoSignal returns a zero-confidence no-signal carrying a reason, used
// when analysis cannot produce a decision.
func NoSignal(reason string) *Signal {
	return &Signal{Signal: SignalNone, Confidence: 0, Reason: reason}
}
