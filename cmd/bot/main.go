package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"etf-trend-bot/internal/api"
	"etf-trend-bot/internal/bot"
	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/config"
	"etf-trend-bot/internal/console"
	"etf-trend-bot/internal/exchange"
	"etf-trend-bot/internal/logger"
	"etf-trend-bot/internal/marketdata"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/notifier"
	"etf-trend-bot/internal/persistence"
	"etf-trend-bot/internal/statemanager"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	once := flag.Bool("once", false, "run a single tick and exit")
	noConsole := flag.Bool("no-console", false, "do not read operator commands from stdin")
	flag.Parse()

	// bootstrap logger until the configured one exists
	log := logger.New(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, reading the process environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("Failed to load config", zap.String("path", *configPath), zap.Error(err))
	}
	if err := config.LoadSecrets(cfg); err != nil {
		log.Fatal("Failed to load secrets", zap.Error(err))
	}

	log = logger.New(cfg.LogConfig)
	defer log.Sync()

	if err := run(cfg, *once, !*noConsole, log); err != nil {
		log.Fatal("Bot exited with error", zap.Error(err))
	}
}

func run(cfg *models.Config, once, withConsole bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk, err := clock.NewMarketClock(cfg.MarketTimezone)
	if err != nil {
		return err
	}

	repo, err := persistence.Open(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer repo.Close()
	tracker := statemanager.NewManager(repo, clk, time.Duration(cfg.PendingBuyTTLSec)*time.Second, log)

	market, err := marketdata.NewCachedProvider(marketdata.NewYahooProvider(cfg, log),
		time.Duration(cfg.HistoryCacheTTLSec)*time.Second, log)
	if err != nil {
		return fmt.Errorf("market data cache: %w", err)
	}
	defer market.Close()

	var gw exchange.Gateway
	switch cfg.Mode {
	case "live":
		log.Info("Using the KIS gateway", zap.String("base_url", cfg.KIS.BaseURL), zap.Bool("real_account", cfg.KIS.RealAccount))
		gw = exchange.NewKISExchange(cfg, clk, log)
	case "paper":
		log.Info("Using the paper gateway", zap.Float64("initial_cash", cfg.Paper.InitialCash))
		gw = exchange.NewPaperExchange(cfg.Paper.InitialCash, market, clk, log)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	notify := notifier.New(cfg.Secrets.DiscordWebhook, log)
	engine := bot.New(cfg, gw, market, tracker, notify, clk, log)

	if once {
		return engine.RunOnce(ctx)
	}

	if withConsole {
		go func() {
			c := console.New(engine, os.Stdout, log)
			c.Execute(ctx, "status")
			if err := c.Run(ctx, os.Stdin); err != nil {
				log.Warn("Console stopped", zap.Error(err))
			}
		}()
	}
	if cfg.API.Listen != "" {
		srv := api.New(engine, log)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.API.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Operator API stopped", zap.Error(err))
			}
		}()
	}

	notify.Notify(ctx, fmt.Sprintf("Trend bot started (%s)", cfg.Mode))
	err = engine.Run(ctx)
	log.Info("Shutting down")
	return err
}
