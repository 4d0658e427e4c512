package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"cryptosignal/internal/analysis"
	"cryptosignal/internal/bot"
	"cryptosignal/internal/config"
	"cryptosignal/internal/indicator"
	"cryptosignal/internal/logging"
	"cryptosignal/internal/market"
	"cryptosignal/internal/settings"
	"cryptosignal/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dataDir    string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "signalbot",
	Short: "Telegram crypto signal bot",
	Long: `signalbot watches Bybit trading pairs on a per-user schedule,
runs a multi-timeframe technical analysis through an LLM and publishes
high-confidence buy signals to Telegram.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Telegram bot and the per-user schedulers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <user-id|symbol> [symbol...]",
	Short: "Run one analysis pass from the command line, without Telegram",
	Long: `Fetches market data and runs the analysis, printing the decisions
to stdout. Useful for smoke-testing API keys and the prompt before
pointing the bot at a channel.

When the first argument is a numeric user id, the user's registered
pairs, sensitivity and category are used; any further arguments replace
the pair list. Otherwise all arguments are treated as symbols and the
--category and --sensitivity flags apply.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List registered users and their settings",
	RunE:  listUsers,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg.LLM.APIKey = redact(cfg.LLM.APIKey)
		cfg.Telegram.BotToken = redact(cfg.Telegram.BotToken)
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var (
	checkCategory    string
	checkSensitivity string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "data", "Data directory (database, logs)")

	checkCmd.Flags().StringVar(&checkCategory, "category", "spot", "Market category: spot or linear")
	checkCmd.Flags().StringVar(&checkSensitivity, "sensitivity", "medium", "Sensitivity: low, medium or high")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(runCmd, checkCmd, usersCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func buildMarketClient(cfg *config.Config) *market.Client {
	return market.NewClient(
		market.WithBaseURL(cfg.Market.BaseURL),
		market.WithTimeout(cfg.GetMarketTimeout()),
		market.WithRetries(cfg.Market.Retries),
		market.WithProxy(cfg.Market.ProxyURL),
	)
}

func buildEngine(cfg *config.Config) (*analysis.Engine, *analysis.PromptLoader) {
	var llm analysis.LLMClient
	if cfg.LLM.APIKey != "" {
		llm = analysis.NewGeminiClient(analysis.GeminiConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		})
	} else {
		logger.Warn("No LLM API key configured, running in local mode")
	}

	prompts := analysis.NewPromptLoader(cfg.Analysis.PromptPath)
	params := indicator.Params{
		MAWindow:   cfg.Analysis.MAWindow,
		MACDFast:   cfg.Analysis.MACDFast,
		MACDSlow:   cfg.Analysis.MACDSlow,
		MACDSignal: cfg.Analysis.MACDSignal,
	}
	engine := analysis.NewEngine(llm, prompts, params)
	engine.SetLiteratureURL(cfg.LLM.LiteratureURL)
	return engine, prompts
}

func runBot() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(dataDir); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()
	logging.Boot("signalbot starting (config %s)", configPath)

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	logger.Info("Connected to Telegram", zap.String("bot", api.Self.UserName))

	engine, prompts := buildEngine(cfg)
	b := bot.New(api, st, engine, buildMarketClient(cfg), cfg)
	if err := b.RestoreJobs(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		return prompts.Watch(gctx)
	})

	logger.Info("signalbot running, press Ctrl-C to stop")
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("signalbot stopped")
	return nil
}

// checkTarget is the resolved scope of one check invocation: which
// symbols to analyze and under which user settings.
type checkTarget struct {
	symbols     []string
	sensitivity string
	category    string
}

// resolveCheckTarget looks up a registered user and returns their pair
// list and settings. Non-empty overrides replace the pair list.
func resolveCheckTarget(st *store.Store, userID int64, overrides []string) (checkTarget, error) {
	u, err := st.GetUser(userID)
	if err != nil {
		return checkTarget{}, err
	}
	if u == nil {
		return checkTarget{}, fmt.Errorf("user %d is not registered", userID)
	}
	symbols := settings.SplitPairs(u.Pairs)
	if len(overrides) > 0 {
		symbols = overrides
	}
	return checkTarget{symbols: symbols, sensitivity: u.Sensitivity, category: u.Category}, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logging.Initialize(dataDir); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()

	target := checkTarget{symbols: args, sensitivity: checkSensitivity, category: checkCategory}
	if id, perr := strconv.ParseInt(args[0], 10, 64); perr == nil {
		st, err := store.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		target, err = resolveCheckTarget(st, id, args[1:])
		st.Close()
		if err != nil {
			return err
		}
	}

	sens, err := settings.ValidateSensitivity(target.sensitivity)
	if err != nil {
		return err
	}
	threshold := settings.ConfidenceThreshold(sens)

	engine, _ := buildEngine(cfg)
	mc := buildMarketClient(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, raw := range target.symbols {
		symbol := market.NormalizeSymbol(raw)
		start := time.Now()
		pack := mc.LatestPack(ctx, target.category, symbol, 200)

		sig, err := engine.Decide(ctx, pack)
		if err != nil {
			fmt.Printf("%s: data error: %v\n", symbol, err)
			continue
		}

		verdict := "no signal"
		if sig.IsBuy() {
			if sig.Confidence >= threshold {
				verdict = "BUY"
			} else {
				verdict = "buy (below threshold)"
			}
		}
		fmt.Printf("%s: %s  confidence=%.2f  (%s, %v)\n", symbol, verdict, sig.Confidence, sens, time.Since(start).Round(time.Millisecond))
		if sig.IsBuy() && sig.Entry != nil && sig.TakeProfit != nil && sig.StopLoss != nil {
			fmt.Printf("  entry=%g tp=%g sl=%g horizon=%s\n", *sig.Entry, *sig.TakeProfit, *sig.StopLoss, sig.ExitHorizon)
		}
		if sig.Reason != "" {
			fmt.Printf("  %s\n", sig.Reason)
		}
	}
	return nil
}

func listUsers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.AllUsers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users registered.")
		return nil
	}

	stats, _ := st.Stats()
	fmt.Printf("%d users, %d journaled signals\n\n", stats["users"], stats["signals"])
	for _, u := range users {
		fmt.Printf("%d  every %ds  %s/%s  pairs: %s\n",
			u.ID, u.FrequencySeconds, u.Sensitivity, u.Category, strings.Join(settings.SplitPairs(u.Pairs), ", "))
	}
	return nil
}
