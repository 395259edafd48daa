package bot

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/exchange"
	"etf-trend-bot/internal/marketdata"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/notifier"
	"etf-trend-bot/internal/session"
	"etf-trend-bot/internal/statemanager"
	"etf-trend-bot/internal/strategy"
	"etf-trend-bot/internal/twap"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

const (
	weekendLogEvery   = time.Hour
	preMarketLogEvery = 30 * time.Minute

	// the opening take-profit only needs the bands
	openingHistoryDays = 30
)

// TrendBot is the strategy engine. One goroutine drives Run; the operator
// methods may be called concurrently from another.
type TrendBot struct {
	cfg      *models.Config
	gateway  exchange.Gateway
	market   marketdata.Provider
	tracker  *statemanager.Manager
	splitter *twap.Splitter
	notify   notifier.Notifier
	clock    clock.Clock
	logger   *zap.Logger

	exitRules   strategy.ExitRules
	entryRules  strategy.EntryRules
	reviewRules strategy.EntryRules

	// owned by the engine goroutine
	prevQty     map[string]int
	seeded      bool
	lastWaitLog time.Time
	hintDay     string
}

// New wires the engine. The TWAP splitter shares the gateway, quotes and tracker.
func New(cfg *models.Config, gw exchange.Gateway, market marketdata.Provider, tracker *statemanager.Manager,
	notify notifier.Notifier, clk clock.Clock, logger *zap.Logger) *TrendBot {
	return &TrendBot{
		cfg:         cfg,
		gateway:     gw,
		market:      market,
		tracker:     tracker,
		splitter:    twap.New(cfg, gw, market, clk, tracker, notify, logger),
		notify:      notify,
		clock:       clk,
		logger:      logger,
		exitRules:   strategy.NewExitRules(cfg),
		entryRules:  strategy.EntryRules{ADXThreshold: cfg.ADXThreshold, RequireGreenCandle: true},
		reviewRules: strategy.EntryRules{ADXThreshold: cfg.ADXThreshold},
		prevQty:     make(map[string]int),
	}
}

// Run authenticates and then ticks until ctx is cancelled.
func (b *TrendBot) Run(ctx context.Context) error {
	b.logger.Info("Trend bot starting", zap.Int("targets", len(b.cfg.Targets)), zap.String("mode", b.cfg.Mode))
	if err := b.gateway.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	for {
		wait := b.safeTick(ctx)
		if err := b.clock.Sleep(ctx, wait); err != nil {
			b.logger.Info("Trend bot stopped")
			return nil
		}
	}
}

// RunOnce runs a single tick, for smoke tests against a live account.
func (b *TrendBot) RunOnce(ctx context.Context) error {
	if err := b.gateway.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	b.safeTick(ctx)
	return nil
}

// safeTick keeps the loop alive across a panicking tick.
func (b *TrendBot) safeTick(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Tick panicked", zap.Any("panic", r), zap.Stack("stack"))
			wait = b.tickInterval()
		}
	}()
	return b.Tick(ctx)
}

// Tick evaluates every rule set whose window contains now and returns how
// long to wait before the next tick.
func (b *TrendBot) Tick(ctx context.Context) time.Duration {
	now := b.clock.Now()
	st := session.Classify(now)
	log := b.logger.With(zap.String("tick", tickID(now)))

	switch {
	case st.Weekend:
		b.waitLog(log, now, weekendLogEvery, "Weekend, market closed")
		return b.tickInterval()
	case st.PreMarket:
		b.waitLog(log, now, preMarketLogEvery, "Waiting for the open")
		return b.tickInterval()
	case st.PostClose:
		b.afterClose(ctx, log, st)
		return b.tickInterval()
	}

	if err := b.tracker.RearmDailyReset(); err != nil {
		log.Warn("Failed to re-arm daily reset", zap.Error(err))
	}

	acct, err := b.gateway.Balance(ctx)
	if err != nil {
		log.Error("Balance unavailable, skipping tick", zap.Error(err))
		return b.tickInterval()
	}
	log.Debug("Tick", zap.Stringer("window", st), zap.Int("holdings", len(acct.Holdings)), zap.Float64("cash", acct.Cash))
	b.detectExternalIncrease(log, acct)

	if st.Opening && !b.tracker.IsPhaseADone() {
		b.openingRule(ctx, log, acct)
	}
	if st.Monitoring {
		b.monitoringRule(ctx, log, acct)
	}
	if st.Closing {
		b.closingRule(ctx, log, acct)
		return b.postDecisionSleep()
	}
	return b.tickInterval()
}

func (b *TrendBot) waitLog(log *zap.Logger, now time.Time, every time.Duration, msg string) {
	if !b.lastWaitLog.IsZero() && now.Sub(b.lastWaitLog) < every {
		return
	}
	log.Info(msg, zap.String("ny_time", now.Format("15:04")))
	b.lastWaitLog = now
}

func (b *TrendBot) afterClose(ctx context.Context, log *zap.Logger, st session.Status) {
	if !b.tracker.IsDailyResetDone() {
		if err := b.tracker.ResetDaily(); err != nil {
			log.Error("Daily reset failed, will retry next tick", zap.Error(err))
		} else {
			log.Info("Market closed, daily state reset")
			b.notify.Notify(ctx, "Market closed, daily state reset")
		}
	}
	day := st.Now.Format("2006-01-02")
	if !st.Now.Before(st.Bounds.ShutdownHint) && b.hintDay != day {
		log.Info("Session work is done, the bot may be stopped until the next trading day")
		b.hintDay = day
	}
}

// detectExternalIncrease resets the high-water mark of any target whose
// quantity rose since the previous tick. The first tick only seeds the
// snapshot so a restart keeps the persisted marks.
func (b *TrendBot) detectExternalIncrease(log *zap.Logger, acct models.Account) {
	for _, t := range b.cfg.Targets {
		qty := acct.Holdings[t.Symbol].Qty
		if b.seeded && qty > b.prevQty[t.Symbol] {
			log.Info("Position increased, starting a new high-water mark",
				zap.String("symbol", t.Symbol), zap.Int("from", b.prevQty[t.Symbol]), zap.Int("to", qty))
			if err := b.tracker.ResetMaxProfit(t.Symbol); err != nil {
				log.Error("Failed to reset high-water mark", zap.String("symbol", t.Symbol), zap.Error(err))
			}
		}
		b.prevQty[t.Symbol] = qty
	}
	b.seeded = true
}

func (b *TrendBot) tickInterval() time.Duration {
	return time.Duration(b.cfg.TickIntervalSec) * time.Second
}

func (b *TrendBot) postDecisionSleep() time.Duration {
	return time.Duration(b.cfg.PostDecisionSleepSec) * time.Second
}

func (b *TrendBot) ignoreDuration() time.Duration {
	return time.Duration(b.cfg.IgnoreSyncSec) * time.Second
}

func (b *TrendBot) target(symbol string) (models.Target, bool) {
	for _, t := range b.cfg.Targets {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return models.Target{}, false
}

// tickID is a short correlation id for the log lines of one tick.
func tickID(now time.Time) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now.UnixNano()))
	return base62.EncodeToString(buf[:])
}
