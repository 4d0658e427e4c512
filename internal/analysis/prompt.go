package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cryptosignal/internal/logging"
)

// defaultPrompt is used when no prompt file is mounted.
const defaultPrompt = `You are a disciplined crypto market analyst. You receive technical
summaries for one trading pair across three timeframes (weekly, daily,
4-hour): moving average position, MACD, annualized volatility, recent
support and resistance, and percent change.

Decide whether the data supports opening a LONG position now. Be
conservative: when the timeframes disagree or the picture is unclear,
answer with signal "none".

Respond with JSON only:
  signal: "buy" or "none"
  confidence: 0.0 to 1.0
  entry, take_profit, stop_loss: required numbers when signal is "buy"
  exit_horizon: expected holding period, e.g. "3-7 days"
  reason: one short sentence`

const promptReloadDebounce = 500 * time.Millisecond

// PromptLoader serves the analyst prompt and hot-reloads it when the
// file changes on disk.
type PromptLoader struct {
	path string

	mu      sync.RWMutex
	current string
}

// NewPromptLoader loads the prompt from path, falling back to the
// built-in prompt when the file is missing or empty.
func NewPromptLoader(path string) *PromptLoader {
	pl := &PromptLoader{path: path}
	pl.reload()
	return pl
}

// Prompt returns the current prompt text.
func (pl *PromptLoader) Prompt() string {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.current
}

func (pl *PromptLoader) reload() {
	data, err := os.ReadFile(pl.path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		if err != nil && !os.IsNotExist(err) {
			logging.Get(logging.CategoryAnalysis).Error("Failed to read prompt file %s: %v", pl.path, err)
		}
		pl.mu.Lock()
		pl.current = defaultPrompt
		pl.mu.Unlock()
		return
	}

	pl.mu.Lock()
	pl.current = strings.TrimSpace(string(data))
	pl.mu.Unlock()
	logging.Analysis("Loaded analyst prompt from %s (%d bytes)", pl.path, len(data))
}

// Watch reloads the prompt whenever the file is written. It blocks until
// the context is cancelled. Editors often replace files instead of
// writing in place, so the parent directory is watched rather than the
// file itself.
func (pl *PromptLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(pl.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logging.AnalysisDebug("Watching %s for prompt changes", dir)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(pl.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(promptReloadDebounce, pl.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryAnalysis).Error("Prompt watcher error: %v", err)
		}
	}
}
