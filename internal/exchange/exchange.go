package exchange

import (
	"context"
	"errors"
	"fmt"

	"etf-trend-bot/internal/models"

	"go.uber.org/zap"
)

// Gateway is the broker order API the strategy trades through. Every call
// reports failure explicitly; callers never assume an order went through.
type Gateway interface {
	Authenticate(ctx context.Context) error
	BuyableCash(ctx context.Context) (float64, error)
	Balance(ctx context.Context) (models.Account, error)
	OpenOrders(ctx context.Context, symbol, exch string) ([]models.OpenOrder, error)
	CancelOrder(ctx context.Context, symbol, exch, orderRef string, qty int) error
	SubmitOrder(ctx context.Context, req models.OrderRequest) error
}

// CancelAll cancels every open order for symbol. It keeps going after a
// failed cancel and reports how many succeeded together with the joined errors.
func CancelAll(ctx context.Context, gw Gateway, symbol, exch string, logger *zap.Logger) (int, error) {
	orders, err := gw.OpenOrders(ctx, symbol, exch)
	if err != nil {
		return 0, fmt.Errorf("list open orders for %s: %w", symbol, err)
	}
	if len(orders) == 0 {
		logger.Debug("No open orders to cancel", zap.String("symbol", symbol))
		return 0, nil
	}

	logger.Info("Cancelling open orders", zap.String("symbol", symbol), zap.Int("count", len(orders)))
	var errs []error
	cancelled := 0
	for _, o := range orders {
		if err := gw.CancelOrder(ctx, symbol, exch, o.OrderRef, o.OpenQty); err != nil {
			logger.Warn("Cancel failed", zap.String("symbol", symbol), zap.String("order", o.OrderRef), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		cancelled++
	}
	return cancelled, errors.Join(errs...)
}
