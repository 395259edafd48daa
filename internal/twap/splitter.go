// Package twap executes dollar-denominated buy intents as time-sliced
// marketable limit orders ahead of the close.
package twap

import (
	"context"
	"fmt"
	"time"

	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/exchange"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/notifier"
	"etf-trend-bot/internal/session"

	"go.uber.org/zap"
)

// PriceSource supplies the latest quote for each slice.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// PendingRecorder receives every accepted buy so duplicate sizing is avoided
// until the broker reflects it.
type PendingRecorder interface {
	RecordPendingBuy(symbol string, qty, currentRealQty int)
}

// Splitter runs up to Slices rounds separated by Interval. Once the clock
// reaches the final cutoff the remaining fraction goes out in one slice.
type Splitter struct {
	gateway  exchange.Gateway
	prices   PriceSource
	clock    clock.Clock
	pending  PendingRecorder
	notify   notifier.Notifier
	logger   *zap.Logger
	slices   int
	interval time.Duration
	slippage float64
}

// New creates a Splitter from the TWAP settings in cfg.
func New(cfg *models.Config, gw exchange.Gateway, prices PriceSource, clk clock.Clock,
	pending PendingRecorder, notify notifier.Notifier, logger *zap.Logger) *Splitter {
	slices := cfg.TWAPSlices
	if slices < 1 {
		slices = 1
	}
	return &Splitter{
		gateway:  gw,
		prices:   prices,
		clock:    clk,
		pending:  pending,
		notify:   notify,
		logger:   logger,
		slices:   slices,
		interval: time.Duration(cfg.TWAPIntervalSec) * time.Second,
		slippage: cfg.AggressiveSlippage,
	}
}

// Run submits the slices and returns the accepted share count per symbol.
// A cancelled context stops between slices; everything already accepted has
// been recorded as pending by then.
func (s *Splitter) Run(ctx context.Context, intents []models.BuyIntent) (map[string]int, error) {
	submitted := make(map[string]int, len(intents))
	if len(intents) == 0 {
		return submitted, nil
	}

	for i := 0; i < s.slices; i++ {
		now := s.clock.Now()
		last := !now.Before(session.BoundariesFor(now).FinalCutoff)
		remaining := s.slices - i
		s.logger.Info("TWAP slice",
			zap.Int("slice", i+1),
			zap.Int("of", s.slices),
			zap.Bool("final_cutoff", last))

		for _, in := range intents {
			chunk := in.Amount / float64(s.slices)
			if last {
				chunk *= float64(remaining)
			}
			if qty := s.submitSlice(ctx, in, chunk); qty > 0 {
				submitted[in.Target.Symbol] += qty
			}
		}

		if last {
			break
		}
		if i < s.slices-1 {
			if err := s.clock.Sleep(ctx, s.interval); err != nil {
				return submitted, err
			}
		}
	}
	return submitted, nil
}

func (s *Splitter) submitSlice(ctx context.Context, in models.BuyIntent, chunk float64) int {
	sym := in.Target.Symbol
	price, err := s.prices.CurrentPrice(ctx, sym)
	if err != nil || price <= 0 {
		s.logger.Warn("No fresh quote for slice, using decision price",
			zap.String("symbol", sym), zap.Float64("price", in.RefPrice), zap.Error(err))
		price = in.RefPrice
	}
	if price <= 0 {
		return 0
	}

	qty := int(chunk / price)
	if qty <= 0 {
		s.logger.Debug("Slice below one share", zap.String("symbol", sym), zap.Float64("chunk", chunk))
		return 0
	}

	req := models.OrderRequest{
		Symbol:   sym,
		Exchange: in.Target.Exchange,
		Qty:      qty,
		Price:    models.AggressivePrice(models.Buy, price, s.slippage),
		Side:     models.Buy,
		Type:     models.AggressiveLimit,
	}
	if err := s.gateway.SubmitOrder(ctx, req); err != nil {
		s.logger.Error("TWAP slice rejected", zap.Stringer("order", req), zap.Error(err))
		return 0
	}
	s.pending.RecordPendingBuy(sym, qty, in.RealQty)
	s.notify.Notify(ctx, fmt.Sprintf("Buy sent: %s (%s)", req, in.SignalTag))
	return qty
}
