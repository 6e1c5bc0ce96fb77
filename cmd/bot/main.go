package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spot-dca-bot-go/internal/backfill"
	"spot-dca-bot-go/internal/config"
	"spot-dca-bot-go/internal/engine"
	"spot-dca-bot-go/internal/exchange"
	"spot-dca-bot-go/internal/executor"
	"spot-dca-bot-go/internal/logger"
	"spot-dca-bot-go/internal/models"
	"spot-dca-bot-go/internal/notifier"
	"spot-dca-bot-go/internal/persistence"
	"spot-dca-bot-go/internal/reporter"
	"spot-dca-bot-go/internal/scheduler"
	"spot-dca-bot-go/internal/statemanager"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// A default logger first, so config loading itself can be logged.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading from system environment")
	} else {
		logger.S().Info("loaded environment from .env file")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		logger.S().Fatalf("invalid config: %v", err)
	}

	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	coins, invalid := config.EnabledCoins(cfg)
	for symbol, err := range invalid {
		logger.S().Errorf("%s excluded from trading: %v", symbol, err)
	}
	if len(coins) == 0 {
		logger.S().Fatal("no tradable symbols configured")
	}

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("failed to open state store at %s: %v", cfg.DBPath, err)
	}
	defer repo.Close()

	ex, err := exchange.New(cfg.Exchange, logger.S())
	if err != nil {
		logger.S().Fatalf("failed to initialize exchange: %v", err)
	}
	defer ex.Close()
	logger.S().Infof("trading on %s, quote currency %s", ex.Name(), ex.QuoteCurrency())

	var sink notifier.Notifier = notifier.Noop{}
	if cfg.Telegram.Enabled {
		sink = notifier.NewTelegram(cfg.Telegram, logger.S())
	}

	store := statemanager.NewStore(repo, logger.S())
	if err := store.LoadAll(cfg.TrailResetOnRestart); err != nil {
		logger.S().Fatalf("failed to restore trading state: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SeedHistory {
		seeder := backfill.NewSeeder(ex.QuoteCurrency(), repo, logger.S())
		for symbol, coin := range coins {
			if err := seeder.Seed(ctx, symbol, coin.HistoryNeeded()); err != nil {
				logger.S().Warnf("%s: history backfill failed: %v", symbol, err)
			}
		}
	}

	var feed *exchange.PriceFeed
	if cfg.Exchange.UseStream && cfg.Exchange.WSBaseURL != "" {
		feed = exchange.NewPriceFeed(cfg.Exchange.WSBaseURL, ex.QuoteCurrency())
		symbols := make([]string, 0, len(coins))
		for symbol := range coins {
			symbols = append(symbols, symbol)
		}
		go feed.Run(ctx, symbols)
	}

	eng := engine.NewDecisionEngine(store, logger.S())
	exec := executor.New(
		ex, store, repo, sink,
		cfg.BuyPercentage, cfg.SellPercentage,
		cfg.RetryAttempts,
		time.Duration(cfg.RetryInitialDelayMs)*time.Millisecond,
		logger.S(),
	)

	sched := scheduler.New(cfg, coins, ex, feed, store, repo, eng, exec, sink, logger.S())
	if err := sched.LoadHistory(); err != nil {
		logger.S().Fatalf("failed to restore price history: %v", err)
	}

	if err := sched.Run(ctx); err != nil {
		logger.S().Errorf("scheduler stopped with error: %v", err)
	}

	// Final persist so a clean shutdown never loses the last cycle.
	if err := store.PersistAll(); err != nil {
		logger.S().Errorf("final state persist failed: %v", err)
	}

	if trades, err := repo.LoadTrades(""); err == nil && len(trades) > 0 {
		reporter.RenderSummary(os.Stdout, ex.QuoteCurrency(), reporter.Summarize(trades))
	}
	logger.S().Info("bot stopped, state saved")
}
