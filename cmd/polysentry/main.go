package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/history"
	"github.com/rewired-gh/polysentry/internal/logger"
	"github.com/rewired-gh/polysentry/internal/models"
	"github.com/rewired-gh/polysentry/internal/monitor"
	"github.com/rewired-gh/polysentry/internal/polymarket"
	"github.com/rewired-gh/polysentry/internal/state"
	"github.com/rewired-gh/polysentry/internal/stream"
	"github.com/rewired-gh/polysentry/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Optional .env for POLYSENTRY_TELEGRAM_TOKEN and friends.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := state.New(cfg.State.Path, cfg.State.MaxProcessedTrades, cfg.WalletTracking.MaxWallets)
	if err != nil {
		// A corrupt or unreadable state file is fatal; silently starting
		// fresh would replay every alert ever sent.
		logger.Fatal("Failed to load state from %s: %v", cfg.State.Path, err)
	}

	polyClient := polymarket.NewClient(cfg.API)

	telegramClient, err := telegram.NewClient(
		cfg.Telegram.Token,
		cfg.Telegram.ChatID,
		cfg.Telegram.Enabled,
		cfg.Telegram.MaxRetries,
		cfg.Telegram.RetryDelayBase,
		outputPath(cfg),
	)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram client: %v", err)
	}
	if cfg.Telegram.Enabled {
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var journal *history.Store
	if cfg.History.Enabled {
		journal, err = history.New(cfg.History.DBPath, cfg.History.MaxAlerts)
		if err != nil {
			logger.Fatal("Failed to initialize alert journal: %v", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("Failed to close alert journal: %v", err)
			}
		}()
	}

	mon := monitor.New(store, polyClient, polyClient, telegramClient, journal, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		if err := store.Save(); err != nil {
			logger.Error("Failed to persist state on shutdown: %v", err)
		}
		cancel()
	}()

	var listener *stream.Listener
	if cfg.API.StreamEnabled {
		streamTrades := make(chan models.Trade, 1024)
		// The trade sub-cycle polls the same fills with real trade IDs;
		// ID-less last_trade_price events would alert a second time.
		tradePolling := cfg.Alerts.WhaleTrade.Enabled || cfg.Alerts.InsiderDetection.Enabled
		listener = stream.NewListener(cfg.API.StreamURL, streamTrades, !tradePolling)
		go listener.Run(ctx)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case trade := <-streamTrades:
					mon.HandleStreamTrade(trade)
				}
			}
		}()
		logger.Info("Live trade stream enabled (%s)", cfg.API.StreamURL)
	}

	logger.Info("Starting scan loop (interval: %v)", cfg.ScanInterval)

	ticker := time.NewTicker(cfg.ScanInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Scan cycle failed: %v", err)
			if consecutiveFailures == 1 && cfg.Telegram.Enabled {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && cfg.Telegram.Enabled {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial scan cycle")
	handleCycleResult(runCycle(ctx, mon, listener))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled scan cycle")
			handleCycleResult(runCycle(ctx, mon, listener))
		}
	}
}

// runCycle executes one full cycle: market scan, trade sub-cycle, and volume
// sub-cycle. The sub-cycles are independent; a failure in one is logged and
// the others still run, with every failure feeding the failure counter.
func runCycle(ctx context.Context, mon *monitor.Monitor, listener *stream.Listener) error {
	startTime := time.Now()
	logger.Info("Starting scan cycle")

	var failures []error
	if err := mon.RunScan(ctx); err != nil {
		logger.Error("Market scan failed: %v", err)
		failures = append(failures, err)
	} else if listener != nil {
		listener.SetAssetIDs(mon.TokenIDs())
	}
	if _, err := mon.CheckTrades(ctx); err != nil {
		logger.Error("Trade check failed: %v", err)
		failures = append(failures, err)
	}
	if _, err := mon.CheckVolumes(ctx); err != nil {
		logger.Error("Volume check failed: %v", err)
		failures = append(failures, err)
	}

	logger.Info("Scan cycle completed in %v", time.Since(startTime))
	return errors.Join(failures...)
}

func outputPath(cfg *config.Config) string {
	if !cfg.Output.Enabled {
		return ""
	}
	return cfg.Output.Path
}
