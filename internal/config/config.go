package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"etf-trend-bot/internal/models"
)

// Environment variables holding broker and notification secrets.
const (
	EnvAppKey         = "KIS_APP_KEY"
	EnvAppSecret      = "KIS_APP_SECRET"
	EnvAccountNo      = "KIS_ACCOUNT_NO"
	EnvAccountProduct = "KIS_ACCOUNT_PRODUCT"
	EnvDiscordWebhook = "DISCORD_WEBHOOK_URL"
)

// LoadConfig decodes the JSON file at path, applies defaults and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a fully defaulted configuration, used when no file is given.
func Default() *models.Config {
	cfg := &models.Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field.
func ApplyDefaults(cfg *models.Config) {
	if cfg.Mode == "" {
		cfg.Mode = "live"
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = []models.Target{
			{Symbol: "TQQQ", Exchange: "NASD"},
			{Symbol: "SOXL", Exchange: "AMEX"},
		}
	}
	setFloat(&cfg.AllocationRatio, 0.5)
	setFloat(&cfg.StopLossRate, -5.0)
	setFloat(&cfg.TrailingActivationRate, 10.0)
	setFloat(&cfg.TrailingDrawdownRate, 3.0)
	setFloat(&cfg.OpeningSellRatio, 0.5)
	setFloat(&cfg.AggressiveSlippage, 0.05)
	setInt(&cfg.IgnoreSyncSec, 3600)
	setFloat(&cfg.MinOrderAmount, 10)
	setFloat(&cfg.ADXThreshold, 25)

	setInt(&cfg.TWAPSlices, 3)
	setInt(&cfg.TWAPIntervalSec, 150)
	setInt(&cfg.PostDecisionSleepSec, 600)
	setInt(&cfg.TickIntervalSec, 60)
	setInt(&cfg.PendingBuyTTLSec, 600)
	setInt(&cfg.HistoryCacheTTLSec, 300)
	setInt(&cfg.HistoryMinDays, 130)

	setInt(&cfg.RetryAttempts, 3)
	setInt(&cfg.RetryDelayMs, 1000)

	if cfg.StateStore == "" {
		cfg.StateStore = "file"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "status_us.json"
	}
	if cfg.MarketTimezone == "" {
		cfg.MarketTimezone = "America/New_York"
	}

	if cfg.KIS.BaseURL == "" {
		cfg.KIS.BaseURL = "https://openapi.koreainvestment.com:9443"
	}
	if cfg.KIS.TokenCacheFile == "" {
		cfg.KIS.TokenCacheFile = "token_us.json"
	}
	setInt(&cfg.KIS.OrderPauseMs, 200)
	setInt(&cfg.KIS.TimeoutSec, 10)

	if cfg.MarketData.BaseURL == "" {
		cfg.MarketData.BaseURL = "https://query1.finance.yahoo.com"
	}
	setInt(&cfg.MarketData.TimeoutSec, 10)
	setFloat(&cfg.Paper.InitialCash, 10000)
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = "etf-trend-bot:status_us"
	}

	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
	if cfg.LogConfig.File == "" {
		cfg.LogConfig.File = "logs/bot_us.log"
	}
	setInt(&cfg.LogConfig.MaxSize, 50)
	setInt(&cfg.LogConfig.MaxBackups, 7)
	setInt(&cfg.LogConfig.MaxAge, 30)
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *models.Config) error {
	var errs []error
	switch cfg.Mode {
	case "live", "paper":
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", cfg.Mode))
	}
	switch cfg.StateStore {
	case "file", "badger", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown state_store %q", cfg.StateStore))
	}
	if len(cfg.Targets) == 0 {
		errs = append(errs, errors.New("at least one target is required"))
	}
	seen := make(map[string]bool)
	for _, t := range cfg.Targets {
		if t.Symbol == "" || t.Exchange == "" {
			errs = append(errs, fmt.Errorf("target %+v needs symbol and exchange", t))
		}
		if seen[t.Symbol] {
			errs = append(errs, fmt.Errorf("duplicate target %s", t.Symbol))
		}
		seen[t.Symbol] = true
	}
	if cfg.AllocationRatio <= 0 || cfg.AllocationRatio*float64(len(cfg.Targets)) > 1.0+1e-9 {
		errs = append(errs, fmt.Errorf("allocation_ratio %.3f x %d targets exceeds total equity", cfg.AllocationRatio, len(cfg.Targets)))
	}
	if cfg.StopLossRate >= 0 {
		errs = append(errs, errors.New("stop_loss_rate must be negative"))
	}
	if cfg.TWAPSlices <= 0 || cfg.TickIntervalSec <= 0 || cfg.TWAPIntervalSec < 0 {
		errs = append(errs, errors.New("twap_slices and tick_interval_sec must be positive"))
	}
	if cfg.OpeningSellRatio <= 0 || cfg.OpeningSellRatio > 1 {
		errs = append(errs, errors.New("opening_sell_ratio must be within (0, 1]"))
	}
	return errors.Join(errs...)
}

// LoadSecrets reads credentials from the environment. Live mode needs the
// broker keys; the webhook is always optional.
func LoadSecrets(cfg *models.Config) error {
	cfg.Secrets = models.Secrets{
		AppKey:         strings.TrimSpace(os.Getenv(EnvAppKey)),
		AppSecret:      strings.TrimSpace(os.Getenv(EnvAppSecret)),
		AccountNo:      strings.TrimSpace(os.Getenv(EnvAccountNo)),
		AccountProduct: strings.TrimSpace(os.Getenv(EnvAccountProduct)),
		DiscordWebhook: strings.TrimSpace(os.Getenv(EnvDiscordWebhook)),
	}
	if cfg.Mode != "live" {
		return nil
	}
	var missing []string
	for name, v := range map[string]string{
		EnvAppKey:         cfg.Secrets.AppKey,
		EnvAppSecret:      cfg.Secrets.AppSecret,
		EnvAccountNo:      cfg.Secrets.AccountNo,
		EnvAccountProduct: cfg.Secrets.AccountProduct,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
