package bot

import (
	"context"
	"errors"
	"fmt"

	"etf-trend-bot/internal/exchange"
	"etf-trend-bot/internal/indicators"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/session"
	"etf-trend-bot/internal/strategy"

	"go.uber.org/zap"
)

var (
	ErrUnknownSymbol = errors.New("symbol is not a configured target")
	ErrNoPosition    = errors.New("no position to sell")
)

const (
	manualBuySlippage = 0.05
	testBuyFactor     = 0.5
	testSellFactor    = 1.5
)

// Status builds the operator position view from a fresh balance read.
func (b *TrendBot) Status(ctx context.Context) (models.StatusReport, error) {
	now := b.clock.Now()
	st := session.Classify(now)
	acct, err := b.gateway.Balance(ctx)
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("balance: %w", err)
	}

	prices := make(map[string]float64, len(b.cfg.Targets))
	for _, t := range b.cfg.Targets {
		if p, err := b.market.CurrentPrice(ctx, t.Symbol); err == nil {
			prices[t.Symbol] = p
		}
	}
	equity := acct.Equity(prices)

	report := models.StatusReport{
		Now:        now,
		MarketOpen: st.Open(),
		Window:     st.String(),
		Cash:       acct.Cash,
		Equity:     equity,
		PhaseADone: b.tracker.IsPhaseADone(),
	}
	for _, t := range b.cfg.Targets {
		h := acct.Holdings[t.Symbol]
		price, ok := prices[t.Symbol]
		if !ok {
			price = h.AvgPrice
		}
		line := models.PositionLine{
			Symbol:     t.Symbol,
			Qty:        h.Qty,
			VirtualQty: b.tracker.VirtualQty(t.Symbol, h.Qty),
			Price:      price,
			AvgPrice:   h.AvgPrice,
			Value:      price * float64(h.Qty),
			ProfitAmt:  (price - h.AvgPrice) * float64(h.Qty),
			ProfitRate: strategy.ProfitRate(price, h.AvgPrice),
			MaxProfit:  b.tracker.MaxProfit(t.Symbol),
			Ignored:    b.tracker.IsIgnoreSync(t.Symbol),
		}
		if equity > 0 {
			line.Weight = line.Value / equity * 100
		}
		report.Positions = append(report.Positions, line)
	}
	return report, nil
}

// Review runs the entry checklist for every target on the latest data. The
// green-candle filter is left out so the review stays meaningful outside
// market hours.
func (b *TrendBot) Review(ctx context.Context) models.ReviewReport {
	now := b.clock.Now()
	report := models.ReviewReport{Now: now, MarketOpen: session.Classify(now).Open()}

	for _, t := range b.cfg.Targets {
		line := models.ReviewLine{Symbol: t.Symbol}
		bars, err := b.market.DailyHistory(ctx, t.Symbol, b.cfg.HistoryMinDays)
		if err != nil {
			line.Err = err.Error()
			report.Lines = append(report.Lines, line)
			continue
		}
		inds, err := indicators.Compute(bars)
		if err != nil {
			line.Err = err.Error()
			report.Lines = append(report.Lines, line)
			continue
		}

		price, err := b.market.CurrentPrice(ctx, t.Symbol)
		if err != nil {
			price = inds.LastClose
		}
		sig := b.reviewRules.Evaluate(price, inds)
		line.Price = price
		line.Indicators = inds
		line.LongTerm = sig.LongTerm
		line.CrossUp = sig.CrossUp
		line.Reclaim = sig.Reclaim
		line.Strength = sig.Strength
		line.BelowSMA20 = strategy.IsTrendBreak(price, inds)
		line.Buy = sig.Buy()
		report.Lines = append(report.Lines, line)
	}
	return report
}

// CancelAllTargets cancels every open order on every target.
func (b *TrendBot) CancelAllTargets(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, t := range b.cfg.Targets {
		n, err := exchange.CancelAll(ctx, b.gateway, t.Symbol, t.Exchange, b.logger)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// ManualSell liquidates symbol at a marketable limit and starts the ignore-sync
// window, the same way an automatic exit does.
func (b *TrendBot) ManualSell(ctx context.Context, symbol string) error {
	t, ok := b.target(symbol)
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	acct, err := b.gateway.Balance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	h, ok := acct.Holdings[symbol]
	if !ok || h.Qty <= 0 {
		return fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}
	price, err := b.market.CurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", symbol, err)
	}

	log := b.logger.With(zap.String("symbol", symbol), zap.String("source", "operator"))
	b.cancelAll(ctx, log, t)
	req := models.OrderRequest{
		Symbol:   symbol,
		Exchange: t.Exchange,
		Qty:      h.Qty,
		Price:    models.AggressivePrice(models.Sell, price, b.cfg.AggressiveSlippage),
		Side:     models.Sell,
		Type:     models.AggressiveLimit,
	}
	if err := b.gateway.SubmitOrder(ctx, req); err != nil {
		return fmt.Errorf("manual sell: %w", err)
	}
	log.Warn("Manual sell submitted", zap.Stringer("order", req))
	if err := b.tracker.SetIgnoreSync(symbol, b.ignoreDuration()); err != nil {
		log.Error("Failed to start ignore-sync window", zap.Error(err))
	}
	b.notify.Notify(ctx, fmt.Sprintf("Manual sell: %s", req))
	return nil
}

// ManualBuy buys one share at a marketable limit.
func (b *TrendBot) ManualBuy(ctx context.Context, symbol string) error {
	t, ok := b.target(symbol)
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	price, err := b.market.CurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", symbol, err)
	}
	req := models.OrderRequest{
		Symbol:   symbol,
		Exchange: t.Exchange,
		Qty:      1,
		Price:    models.AggressivePrice(models.Buy, price, manualBuySlippage),
		Side:     models.Buy,
		Type:     models.AggressiveLimit,
	}
	if err := b.gateway.SubmitOrder(ctx, req); err != nil {
		return fmt.Errorf("manual buy: %w", err)
	}
	b.logger.Info("Manual buy submitted", zap.Stringer("order", req))
	b.notify.Notify(ctx, fmt.Sprintf("Manual buy: %s", req))
	return nil
}

// TestOrder places one share far from the market so it rests unfilled, to
// check connectivity and permissions. It returns a warning when a test sell
// is placed without a position.
func (b *TrendBot) TestOrder(ctx context.Context, symbol string, side models.Side) (string, error) {
	t, ok := b.target(symbol)
	if !ok {
		return "", fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	price, err := b.market.CurrentPrice(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("quote %s: %w", symbol, err)
	}

	var warning string
	factor := testBuyFactor
	if side == models.Sell {
		factor = testSellFactor
		acct, err := b.gateway.Balance(ctx)
		if err == nil && acct.Holdings[symbol].Qty <= 0 {
			warning = fmt.Sprintf("no %s position, the broker will likely reject the test sell", symbol)
		}
	}

	req := models.OrderRequest{
		Symbol:   symbol,
		Exchange: t.Exchange,
		Qty:      1,
		Price:    models.RoundPrice(price * factor),
		Side:     side,
		Type:     models.Limit,
	}
	if err := b.gateway.SubmitOrder(ctx, req); err != nil {
		return warning, fmt.Errorf("test order: %w", err)
	}
	b.logger.Info("Test order submitted", zap.Stringer("order", req))
	return warning, nil
}
