package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cryptosignal/internal/logging"
	"cryptosignal/internal/settings"
	"cryptosignal/internal/store"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	logging.BotDebug("Command /%s from user %d", cmd, userID)

	switch cmd {
	case "start":
		b.cmdStart(userID)
	case "status":
		b.cmdStatus(userID)
	case "settings":
		b.cmdSettings(userID)
	case "debugbtn":
		b.cmdDebugButtons(userID)
	case "setpairs":
		b.cmdSetPairs(userID, args)
	case "setfreq":
		b.cmdSetFreq(userID, args)
	case "setsens":
		b.cmdSetSens(userID, args)
	case "setcat":
		b.cmdSetCat(userID, args)
	case "testonce":
		b.cmdTestOnce(ctx, userID)
	case "history":
		b.cmdHistory(userID)
	default:
		b.reply(userID, "Unknown command. Try /settings or /status.")
	}
}

func (b *Bot) cmdStart(userID int64) {
	u, err := b.ensureUser(userID)
	if err != nil {
		logging.Get(logging.CategoryBot).Error("Failed to register user %d: %v", userID, err)
		b.reply(userID, "Something went wrong, please try again.")
		return
	}
	b.sched.Upsert(userID, time.Duration(u.FrequencySeconds)*time.Second)

	b.reply(userID, fmt.Sprintf(
		"Monitoring started.\n\nPairs: %s\nCheck every: %s\nSensitivity: %s\nMarket: %s\n\nUse /settings to adjust, /testonce to run a check now.",
		u.Pairs, formatInterval(u.FrequencySeconds), u.Sensitivity, u.Category))
}

func (b *Bot) cmdStatus(userID int64) {
	u, err := b.ensureUser(userID)
	if err != nil {
		b.reply(userID, "Something went wrong, please try again.")
		return
	}

	active := "no"
	if b.sched.Interval(userID) > 0 {
		active = "yes"
	}
	threshold := settings.ConfidenceThreshold(u.Sensitivity)

	b.reply(userID, fmt.Sprintf(
		"Current settings\n\nPairs: %s\nCheck every: %s\nSensitivity: %s (publish at confidence >= %.2f)\nMarket: %s\nJob active: %s",
		u.Pairs, formatInterval(u.FrequencySeconds), u.Sensitivity, threshold, u.Category, active))
}

func (b *Bot) cmdSettings(userID int64) {
	u, err := b.ensureUser(userID)
	if err != nil {
		b.reply(userID, "Something went wrong, please try again.")
		return
	}
	text := fmt.Sprintf("Settings\n\nPairs: %s\nCheck every: %s\nSensitivity: %s\nMarket: %s",
		u.Pairs, formatInterval(u.FrequencySeconds), u.Sensitivity, u.Category)
	b.replyWithKeyboard(userID, text, settingsKeyboard(u))
}

func (b *Bot) cmdDebugButtons(userID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Ping", "dbg:ping"),
		),
	)
	b.replyWithKeyboard(userID, "Debug buttons", kb)
}

func (b *Bot) cmdSetPairs(userID int64, args string) {
	if args == "" {
		b.mu.Lock()
		b.pendingPairs[userID] = true
		b.mu.Unlock()
		b.reply(userID, "Send the pairs to watch, comma separated. Example: BTCUSDT, ETHUSDT, TRXUSDT")
		return
	}
	b.applyPairs(userID, args)
}

func (b *Bot) applyPairs(userID int64, text string) {
	pairs := settings.NormPairs(text)
	if err := b.store.UpsertUser(userID, store.UserUpdate{Pairs: &pairs}); err != nil {
		logging.Get(logging.CategoryBot).Error("Failed to save pairs for %d: %v", userID, err)
		b.reply(userID, "Could not save pairs, please try again.")
		return
	}
	b.reply(userID, "Watching: "+pairs)
}

func (b *Bot) cmdSetFreq(userID int64, args string) {
	if args == "" {
		b.reply(userID, "Usage: /setfreq 15m (or 300, 1h, 4h, 1d)")
		return
	}
	seconds, err := settings.ParseFrequency(args)
	if err != nil {
		b.reply(userID, "Could not read that interval: "+err.Error())
		return
	}
	if err := b.store.UpsertUser(userID, store.UserUpdate{FrequencySeconds: &seconds}); err != nil {
		b.reply(userID, "Could not save the interval, please try again.")
		return
	}
	b.sched.Upsert(userID, time.Duration(seconds)*time.Second)
	b.reply(userID, "Checking every "+formatInterval(seconds))
}

func (b *Bot) cmdSetSens(userID int64, args string) {
	level, err := settings.ValidateSensitivity(args)
	if err != nil {
		b.reply(userID, "Sensitivity must be low, medium or high.")
		return
	}
	if err := b.store.UpsertUser(userID, store.UserUpdate{Sensitivity: &level}); err != nil {
		b.reply(userID, "Could not save sensitivity, please try again.")
		return
	}
	b.reply(userID, fmt.Sprintf("Sensitivity set to %s (publish at confidence >= %.2f)", level, settings.ConfidenceThreshold(level)))
}

func (b *Bot) cmdSetCat(userID int64, args string) {
	cat, err := settings.ValidateCategory(args)
	if err != nil {
		b.reply(userID, "Market must be spot or linear.")
		return
	}
	if err := b.store.UpsertUser(userID, store.UserUpdate{Category: &cat}); err != nil {
		b.reply(userID, "Could not save the market, please try again.")
		return
	}
	b.reply(userID, "Market set to "+cat)
}

func (b *Bot) cmdTestOnce(ctx context.Context, userID int64) {
	if _, err := b.ensureUser(userID); err != nil {
		b.reply(userID, "Something went wrong, please try again.")
		return
	}
	b.reply(userID, "Running a check now...")
	go b.sched.TriggerNow(ctx, userID)
}

func (b *Bot) cmdHistory(userID int64) {
	recs, err := b.store.RecentSignals(userID, 10)
	if err != nil {
		b.reply(userID, "Could not load history, please try again.")
		return
	}
	if len(recs) == 0 {
		b.reply(userID, "No signals journaled yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Recent signals\n")
	loc := b.cfg.Location()
	for _, r := range recs {
		ts := time.Unix(r.CreatedAt, 0).In(loc).Format("02 Jan 15:04")
		conf := "-"
		if r.Confidence.Valid {
			conf = fmt.Sprintf("%.2f", r.Confidence.Float64)
		}
		sb.WriteString(fmt.Sprintf("\n%s  %s  %s  conf %s", ts, r.Symbol, r.SignalType, conf))
	}
	b.reply(userID, sb.String())
}

// ---------- callbacks ----------

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	ack := func(text string) {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
			logging.Get(logging.CategoryBot).Error("Failed to answer callback: %v", err)
		}
	}

	// Callbacks on very old messages arrive without the message payload.
	// Answer them so the client stops its spinner and move on.
	if cb.Message == nil {
		logging.BotDebug("Callback %q without message, ignoring", cb.Data)
		ack("")
		return
	}

	userID := cb.Message.Chat.ID
	data := cb.Data
	logging.BotDebug("Callback %q from user %d", data, userID)

	switch {
	case strings.HasPrefix(data, "freq:"):
		raw := strings.TrimPrefix(data, "freq:")
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			ack("Bad interval")
			return
		}
		ack("")
		b.cmdSetFreq(userID, strconv.Itoa(seconds))
		b.cmdSettings(userID)
	case strings.HasPrefix(data, "sens:"):
		ack("")
		b.cmdSetSens(userID, strings.TrimPrefix(data, "sens:"))
		b.cmdSettings(userID)
	case strings.HasPrefix(data, "cat:"):
		ack("")
		b.cmdSetCat(userID, strings.TrimPrefix(data, "cat:"))
		b.cmdSettings(userID)
	case data == "pairs:edit":
		ack("")
		b.cmdSetPairs(userID, "")
	case data == "dbg:ping":
		ack("pong")
		b.reply(userID, "pong")
	default:
		ack("")
	}
}

// handleText consumes free-form messages, currently only the pairs-edit
// dialogue.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID

	b.mu.Lock()
	pending := b.pendingPairs[userID]
	if pending {
		delete(b.pendingPairs, userID)
	}
	b.mu.Unlock()

	if !pending {
		return
	}
	b.applyPairs(userID, msg.Text)
}

// settingsKeyboard builds the inline settings menu, marking the user's
// current choice on each row with a bullet.
func settingsKeyboard(u *store.User) tgbotapi.InlineKeyboardMarkup {
	mark := func(label string, current bool) string {
		if current {
			return "• " + label
		}
		return label
	}

	var freqRow []tgbotapi.InlineKeyboardButton
	for _, p := range settings.FrequencyPresets {
		label := mark(p.Label, p.Seconds == u.FrequencySeconds)
		freqRow = append(freqRow, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("freq:%d", p.Seconds)))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		freqRow,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(mark("Low", u.Sensitivity == "low"), "sens:low"),
			tgbotapi.NewInlineKeyboardButtonData(mark("Medium", u.Sensitivity == "medium"), "sens:medium"),
			tgbotapi.NewInlineKeyboardButtonData(mark("High", u.Sensitivity == "high"), "sens:high"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(mark("Spot", u.Category == "spot"), "cat:spot"),
			tgbotapi.NewInlineKeyboardButtonData(mark("Futures", u.Category == "linear"), "cat:linear"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Edit pairs", "pairs:edit"),
		),
	)
}

func formatInterval(seconds int) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
