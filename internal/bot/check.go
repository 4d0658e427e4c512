package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cryptosignal/internal/analysis"
	"cryptosignal/internal/logging"
	"cryptosignal/internal/market"
	"cryptosignal/internal/settings"
	"cryptosignal/internal/store"
)

// perSymbolFetchLimit caps parallel exchange requests within one check.
const perSymbolFetchLimit = 3

// RunCheckForUser runs one full market check for a user: fetch packs,
// analyze, filter by sensitivity, suppress duplicates, journal and
// publish. It is the scheduler's CheckFunc.
func (b *Bot) RunCheckForUser(ctx context.Context, userID int64) {
	timer := logging.StartTimer(logging.CategoryBot, "RunCheckForUser")
	defer timer.Stop()

	u, err := b.store.GetUser(userID)
	if err != nil {
		logging.Get(logging.CategoryBot).Error("Check aborted, failed to load user %d: %v", userID, err)
		return
	}
	if u == nil {
		logging.BotDebug("Check for unknown user %d skipped", userID)
		return
	}

	pairs := settings.SplitPairs(u.Pairs)
	if len(pairs) == 0 {
		b.reply(userID, "No pairs configured. Use /setpairs first.")
		return
	}
	threshold := settings.ConfidenceThreshold(u.Sensitivity)
	b.reply(userID, fmt.Sprintf("Analyzing %s (%s, %s sensitivity)...", strings.Join(pairs, ", "), u.Category, u.Sensitivity))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(perSymbolFetchLimit)

	for _, symbol := range pairs {
		symbol := symbol
		g.Go(func() error {
			b.checkSymbol(gctx, u, symbol, threshold)
			return nil
		})
	}
	g.Wait()
}

func (b *Bot) checkSymbol(ctx context.Context, u *store.User, symbol string, threshold float64) {
	pack := b.marketAPI.LatestPack(ctx, u.Category, symbol, 200)
	b.reply(u.ID, formatPreview(symbol, pack))

	sig, err := b.engine.Decide(ctx, pack)
	if err != nil {
		if errors.Is(err, analysis.ErrNoMarketData) {
			b.reply(u.ID, fmt.Sprintf("[DATA ERROR] %s: could not fetch market data", symbol))
		} else {
			logging.Get(logging.CategoryBot).Error("Analysis failed for %s: %v", symbol, err)
			b.reply(u.ID, fmt.Sprintf("[DATA ERROR] %s: analysis failed", symbol))
		}
		return
	}

	if !sig.IsBuy() {
		b.reply(u.ID, formatNoSignal(symbol, sig))
		return
	}

	if sig.Confidence < threshold {
		logging.Signals("Filtered %s for user %d: confidence %.2f below %.2f", symbol, u.ID, sig.Confidence, threshold)
		b.reply(u.ID, formatFiltered(symbol, sig, threshold))
		return
	}

	dedup := store.DedupConfig{
		Cooldown:      b.cfg.GetSignalCooldown(),
		PriceTolPct:   b.cfg.Storage.PriceTolPct,
		ConfidenceTol: b.cfg.Storage.ConfidenceTol,
	}
	conf := sig.Confidence
	dup, err := b.store.IsDuplicateSignal(u.ID, symbol, &conf, sig.Entry, sig.TakeProfit, sig.StopLoss, dedup)
	if err != nil {
		logging.Get(logging.CategoryBot).Error("Duplicate check failed for %s: %v", symbol, err)
	}
	if dup {
		logging.Signals("Suppressed duplicate %s signal for user %d", symbol, u.ID)
		b.reply(u.ID, fmt.Sprintf("[FILTERED] %s: same signal already sent recently", symbol))
		return
	}

	rec := store.SignalRecord{
		SignalID:    uuid.NewString(),
		UserID:      u.ID,
		Symbol:      symbol,
		SignalType:  sig.Signal,
		Confidence:  store.NullFloat(&conf),
		Entry:       store.NullFloat(sig.Entry),
		TakeProfit:  store.NullFloat(sig.TakeProfit),
		StopLoss:    store.NullFloat(sig.StopLoss),
		ExitHorizon: store.NullString(sig.ExitHorizon),
		CreatedAt:   time.Now().Unix(),
	}
	if err := b.store.LogSignal(rec); err != nil {
		logging.Get(logging.CategoryBot).Error("Failed to journal signal for %s: %v", symbol, err)
	}

	text := formatSignal(symbol, u.Category, sig)
	b.reply(u.ID, text)
	if b.channelID != 0 {
		b.reply(b.channelID, text)
	}
}

// formatPreview shows the latest close per timeframe so users can see
// what the analysis is based on, or that a fetch failed.
func formatPreview(symbol string, pack *market.Pack) string {
	slot := func(td market.TimeframeData) string {
		if td.Err != nil || len(td.Bars) == 0 {
			return "error"
		}
		return formatPrice(td.Bars[len(td.Bars)-1].Close)
	}
	return fmt.Sprintf("%s: W %s | D %s | 4H %s",
		symbol, slot(pack.Weekly), slot(pack.Daily), slot(pack.FourHour))
}

func formatSignal(symbol, category string, sig *analysis.Signal) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[SIGNAL] %s (%s)\n\n", symbol, category)
	fmt.Fprintf(&sb, "Confidence: %.2f\n", sig.Confidence)
	if sig.Entry != nil {
		fmt.Fprintf(&sb, "Entry: %s\n", formatPrice(*sig.Entry))
	}
	if sig.TakeProfit != nil {
		fmt.Fprintf(&sb, "Take profit: %s\n", formatPrice(*sig.TakeProfit))
	}
	if sig.StopLoss != nil {
		fmt.Fprintf(&sb, "Stop loss: %s\n", formatPrice(*sig.StopLoss))
	}
	if sig.ExitHorizon != "" {
		fmt.Fprintf(&sb, "Horizon: %s\n", sig.ExitHorizon)
	}
	if sig.Reason != "" {
		fmt.Fprintf(&sb, "\n%s", sig.Reason)
	}
	return sb.String()
}

func formatFiltered(symbol string, sig *analysis.Signal, threshold float64) string {
	return fmt.Sprintf("[FILTERED] %s: buy setup at confidence %.2f, below your %.2f threshold", symbol, sig.Confidence, threshold)
}

func formatNoSignal(symbol string, sig *analysis.Signal) string {
	if sig.Reason != "" {
		return fmt.Sprintf("[NO SIGNAL] %s: %s", symbol, sig.Reason)
	}
	return fmt.Sprintf("[NO SIGNAL] %s", symbol)
}

// formatPrice keeps enough precision for small-cap pairs without
// spamming decimals on large ones.
func formatPrice(v float64) string {
	switch {
	case v >= 1000:
		return fmt.Sprintf("%.2f", v)
	case v >= 1:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.6f", v)
	}
}
