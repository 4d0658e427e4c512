// Package bot implements the Telegram surface: commands, settings
// keyboards and signal publishing.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cryptosignal/internal/analysis"
	"cryptosignal/internal/config"
	"cryptosignal/internal/logging"
	"cryptosignal/internal/market"
	"cryptosignal/internal/scheduler"
	"cryptosignal/internal/store"
)

// BotAPI is the slice of the Telegram client the bot uses. The concrete
// type is *tgbotapi.BotAPI; tests substitute a fake.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot wires the Telegram API to the store, scheduler and analysis engine.
type Bot struct {
	api       BotAPI
	store     *store.Store
	sched     *scheduler.Scheduler
	engine    *analysis.Engine
	marketAPI *market.Client
	cfg       *config.Config
	channelID int64

	mu           sync.Mutex
	pendingPairs map[int64]bool // users mid pairs-edit dialogue
}

// New builds a Bot. The scheduler is created here so its check function
// can close over the bot.
func New(api BotAPI, st *store.Store, engine *analysis.Engine, marketAPI *market.Client, cfg *config.Config) *Bot {
	b := &Bot{
		api:          api,
		store:        st,
		engine:       engine,
		marketAPI:    marketAPI,
		cfg:          cfg,
		channelID:    cfg.Telegram.ChannelID,
		pendingPairs: make(map[int64]bool),
	}
	b.sched = scheduler.New(cfg.Scheduler.MaxConcurrentChecks, b.RunCheckForUser)
	return b
}

// Scheduler exposes the job scheduler, mainly for metrics.
func (b *Bot) Scheduler() *scheduler.Scheduler {
	return b.sched
}

// RestoreJobs schedules a check job for every persisted user. Called at
// startup so users keep their cadence across restarts.
func (b *Bot) RestoreJobs() error {
	users, err := b.store.AllUsers()
	if err != nil {
		return fmt.Errorf("failed to restore jobs: %w", err)
	}
	for _, u := range users {
		b.sched.Upsert(u.ID, time.Duration(u.FrequencySeconds)*time.Second)
	}
	logging.Bot("Restored %d scheduled jobs", len(users))
	return nil
}

// Run processes Telegram updates until the context is cancelled. It
// stops the scheduler on the way out.
func (b *Bot) Run(ctx context.Context) error {
	defer b.sched.Stop()

	// The channel-based poller only logs request failures internally, so
	// a 409 from a second bot instance would spin forever. Poll once up
	// front to surface that as a startup error.
	ping := tgbotapi.NewUpdate(0)
	ping.Limit = 1
	if _, err := b.api.GetUpdates(ping); err != nil {
		return fmt.Errorf("telegram polling failed, is another bot instance running? %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	logging.Bot("Update loop started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			logging.Bot("Update loop stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryBot).Error("Panic in update handler: %v", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		logging.Get(logging.CategoryBot).Error("Failed to send message to %d: %v", chatID, err)
	}
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		logging.Get(logging.CategoryBot).Error("Failed to send keyboard to %d: %v", chatID, err)
	}
}

// ensureUser loads the profile for a user, creating the row with
// defaults on first contact.
func (b *Bot) ensureUser(userID int64) (*store.User, error) {
	u, err := b.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	if err := b.store.UpsertUser(userID, store.UserUpdate{}); err != nil {
		return nil, err
	}
	u, err = b.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	// First contact: start the default check cadence right away instead
	// of waiting for /start or /setfreq.
	if u != nil {
		b.sched.Upsert(userID, time.Duration(u.FrequencySeconds)*time.Second)
	}
	return u, nil
}
