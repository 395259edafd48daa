package bot

import (
	"context"
	"fmt"
	"math"

	"etf-trend-bot/internal/exchange"
	"etf-trend-bot/internal/indicators"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/strategy"

	"go.uber.org/zap"
)

// openingRule places one take-profit sell per held target at the upper
// band. It runs once a day; phase A is marked done whatever the per-symbol
// outcome.
func (b *TrendBot) openingRule(ctx context.Context, log *zap.Logger, acct models.Account) {
	log.Info("Opening window take-profit")
	for _, t := range b.cfg.Targets {
		h, ok := acct.Holdings[t.Symbol]
		if !ok || h.Qty <= 0 {
			continue
		}
		l := log.With(zap.String("symbol", t.Symbol))
		b.cancelAll(ctx, l, t)

		bars, err := b.market.DailyHistory(ctx, t.Symbol, openingHistoryDays)
		if err != nil {
			l.Warn("No history for opening take-profit", zap.Error(err))
			continue
		}
		inds, err := indicators.Compute(bars)
		if err != nil {
			l.Warn("Indicators unavailable for opening take-profit", zap.Error(err))
			continue
		}

		qty := int(float64(h.Qty) * b.cfg.OpeningSellRatio)
		if qty <= 0 {
			continue
		}
		req := models.OrderRequest{
			Symbol:   t.Symbol,
			Exchange: t.Exchange,
			Qty:      qty,
			Price:    models.RoundPrice(inds.BBUpper),
			Side:     models.Sell,
			Type:     models.Limit,
		}
		l.Info("Opening take-profit at the upper band", zap.Stringer("order", req))
		if err := b.gateway.SubmitOrder(ctx, req); err != nil {
			l.Error("Opening take-profit failed", zap.Error(err))
			continue
		}
		b.notify.Notify(ctx, fmt.Sprintf("Opening take-profit: %s", req))
	}

	if err := b.tracker.SetPhaseADone(true); err != nil {
		log.Error("Failed to mark opening take-profit done", zap.Error(err))
	}
}

// monitoringRule applies the stop-loss and trailing stop to every held
// target outside its ignore-sync window.
func (b *TrendBot) monitoringRule(ctx context.Context, log *zap.Logger, acct models.Account) {
	for _, t := range b.cfg.Targets {
		if b.tracker.IsIgnoreSync(t.Symbol) {
			continue
		}
		h, ok := acct.Holdings[t.Symbol]
		if !ok || h.Qty <= 0 {
			continue
		}
		l := log.With(zap.String("symbol", t.Symbol))

		price, err := b.market.CurrentPrice(ctx, t.Symbol)
		if err != nil {
			l.Warn("No quote, skipping risk check", zap.Error(err))
			continue
		}

		rate := strategy.ProfitRate(price, h.AvgPrice)
		maxRate := b.tracker.MaxProfit(t.Symbol)
		if err := b.tracker.UpdateMaxProfit(t.Symbol, rate); err != nil {
			l.Error("Failed to persist high-water mark", zap.Error(err))
			maxRate = math.Max(maxRate, rate)
		} else {
			maxRate = b.tracker.MaxProfit(t.Symbol)
		}

		reason := b.exitRules.Evaluate(rate, maxRate)
		l.Debug("Risk check", zap.Float64("rate", rate), zap.Float64("max_rate", maxRate), zap.Stringer("exit", reason))
		if reason == strategy.NoExit {
			continue
		}
		b.exit(ctx, l, t, h.Qty, price, reason, true)
	}
}

// closingRule runs the trend-break exit and the entry checklist, then hands
// the buy intents to the TWAP splitter.
func (b *TrendBot) closingRule(ctx context.Context, log *zap.Logger, acct models.Account) {
	prices := make(map[string]float64, len(b.cfg.Targets))
	for _, t := range b.cfg.Targets {
		p, err := b.market.CurrentPrice(ctx, t.Symbol)
		if err != nil {
			log.Warn("No quote for closing decision", zap.String("symbol", t.Symbol), zap.Error(err))
			continue
		}
		prices[t.Symbol] = p
	}
	equity := acct.TargetEquity(b.cfg.Targets, prices)
	alloc := equity * b.cfg.AllocationRatio
	log.Info("Closing decision", zap.Float64("equity", equity), zap.Float64("target_allocation", alloc))

	var intents []models.BuyIntent
	for _, t := range b.cfg.Targets {
		l := log.With(zap.String("symbol", t.Symbol))
		if b.tracker.IsIgnoreSync(t.Symbol) {
			l.Info("Ignore-sync window active, skipping")
			continue
		}

		open, err := b.gateway.OpenOrders(ctx, t.Symbol, t.Exchange)
		if err != nil {
			l.Warn("Open orders unavailable, skipping", zap.Error(err))
			continue
		}
		if len(open) > 0 {
			l.Info("Open orders pending, entry deferred", zap.Int("open", len(open)))
			continue
		}

		price, ok := prices[t.Symbol]
		if !ok {
			continue
		}
		bars, err := b.market.DailyHistory(ctx, t.Symbol, b.cfg.HistoryMinDays)
		if err != nil {
			l.Warn("No history for closing decision", zap.Error(err))
			continue
		}
		inds, err := indicators.Compute(bars)
		if err != nil {
			l.Warn("Indicators unavailable", zap.Error(err))
			continue
		}

		realQty := acct.Holdings[t.Symbol].Qty
		if realQty > 0 && strategy.IsTrendBreak(price, inds) {
			// no open orders by construction, nothing to cancel
			b.exit(ctx, l, t, realQty, price, strategy.TrendBreak, false)
			continue
		}

		sig := b.entryRules.Evaluate(price, inds)
		if !sig.LongTerm || !sig.Triggered() {
			l.Debug("No entry signal", zap.Bool("long_term", sig.LongTerm), zap.Bool("cross_up", sig.CrossUp), zap.Bool("reclaim", sig.Reclaim))
			continue
		}
		if !sig.Strength {
			l.Info("Entry signal but trend too weak", zap.Float64("adx", sig.ADX), zap.Float64("threshold", b.cfg.ADXThreshold))
			continue
		}

		virtualQty := b.tracker.VirtualQty(t.Symbol, realQty)
		needed := strategy.NeededAmount(alloc, virtualQty, price)
		if needed <= b.cfg.MinOrderAmount {
			l.Info("Allocation already filled", zap.Float64("needed", needed), zap.Int("virtual_qty", virtualQty))
			continue
		}
		l.Info("Buy signal",
			zap.String("signal", sig.Tag()),
			zap.Float64("adx", sig.ADX),
			zap.Float64("needed", needed),
			zap.Int("virtual_qty", virtualQty))
		intents = append(intents, models.BuyIntent{
			Target:    t,
			Amount:    needed,
			RefPrice:  price,
			RealQty:   realQty,
			SignalTag: sig.Tag(),
		})
	}

	if len(intents) == 0 {
		return
	}
	submitted, err := b.splitter.Run(ctx, intents)
	if err != nil {
		log.Warn("TWAP interrupted", zap.Error(err), zap.Any("submitted", submitted))
		return
	}
	log.Info("TWAP finished", zap.Any("submitted", submitted))
}

// exit sells qty at a marketable limit and starts the ignore-sync window.
// Open orders are cancelled first when cancelFirst is set.
func (b *TrendBot) exit(ctx context.Context, log *zap.Logger, t models.Target, qty int, price float64,
	reason strategy.ExitReason, cancelFirst bool) bool {
	log.Warn("Exit triggered", zap.Stringer("reason", reason), zap.Float64("price", price), zap.Int("qty", qty))
	if cancelFirst {
		b.cancelAll(ctx, log, t)
	}

	req := models.OrderRequest{
		Symbol:   t.Symbol,
		Exchange: t.Exchange,
		Qty:      qty,
		Price:    models.AggressivePrice(models.Sell, price, b.cfg.AggressiveSlippage),
		Side:     models.Sell,
		Type:     models.AggressiveLimit,
	}
	if err := b.gateway.SubmitOrder(ctx, req); err != nil {
		log.Error("Exit order failed", zap.Stringer("order", req), zap.Error(err))
		return false
	}
	if err := b.tracker.SetIgnoreSync(t.Symbol, b.ignoreDuration()); err != nil {
		log.Error("Failed to start ignore-sync window", zap.Error(err))
	}
	b.notify.Notify(ctx, fmt.Sprintf("%s exit: %s", reason, req))
	return true
}

// cancelAll attempts the cancels and carries on; a failed cancel is logged
// and the following order may be rejected by the broker.
func (b *TrendBot) cancelAll(ctx context.Context, log *zap.Logger, t models.Target) {
	n, err := exchange.CancelAll(ctx, b.gateway, t.Symbol, t.Exchange, log)
	if err != nil {
		log.Warn("Cancel before order incomplete", zap.Int("cancelled", n), zap.Error(err))
	}
}
