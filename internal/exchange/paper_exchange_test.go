package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (s *stubPrices) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		return 0, errors.New("no quote")
	}
	return p, nil
}

func (s *stubPrices) set(symbol string, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = p
}

func newTestPaper(cash float64) (*PaperExchange, *stubPrices) {
	prices := &stubPrices{prices: map[string]float64{"TQQQ": 50, "SOXL": 30}}
	clk := clock.NewFake(time.Date(2026, 3, 4, 15, 50, 0, 0, time.UTC))
	return NewPaperExchange(cash, prices, clk, zap.NewNop()), prices
}

func TestPaperMarketableBuyFillsAtQuote(t *testing.T) {
	ex, _ := newTestPaper(10000)
	ctx := context.Background()

	require.NoError(t, ex.SubmitOrder(ctx, models.OrderRequest{
		Symbol: "TQQQ", Exchange: "NASD", Qty: 10, Price: 52.5, Side: models.Buy, Type: models.AggressiveLimit,
	}))

	acct, err := ex.Balance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9500, acct.Cash, 1e-9, "filled at the 50 quote, not the 52.5 limit")
	assert.Equal(t, 10, acct.Holdings["TQQQ"].Qty)
	assert.Equal(t, 50.0, acct.Holdings["TQQQ"].AvgPrice)

	orders, err := ex.OpenOrders(ctx, "TQQQ", "NASD")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPaperRestingSellFillsWhenCrossed(t *testing.T) {
	ex, prices := newTestPaper(10000)
	ctx := context.Background()
	require.NoError(t, ex.SubmitOrder(ctx, models.OrderRequest{Symbol: "SOXL", Exchange: "AMEX", Qty: 10, Price: 30, Side: models.Buy}))

	require.NoError(t, ex.SubmitOrder(ctx, models.OrderRequest{Symbol: "SOXL", Exchange: "AMEX", Qty: 5, Price: 33, Side: models.Sell}))
	orders, err := ex.OpenOrders(ctx, "SOXL", "AMEX")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 5, orders[0].OpenQty)

	// the remaining five are locked behind the resting sell
	err = ex.SubmitOrder(ctx, models.OrderRequest{Symbol: "SOXL", Exchange: "AMEX", Qty: 6, Price: 25, Side: models.Sell})
	assert.True(t, IsRejected(err))

	prices.set("SOXL", 33.5)
	acct, err := ex.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, acct.Holdings["SOXL"].Qty)
	assert.InDelta(t, 10000-300+5*33.5, acct.Cash, 1e-9)
	assert.InDelta(t, (33.5-30)/30*100, acct.Holdings["SOXL"].ProfitRate, 1e-9)
}

func TestPaperCancelRefundsReservation(t *testing.T) {
	ex, _ := newTestPaper(1000)
	ctx := context.Background()

	require.NoError(t, ex.SubmitOrder(ctx, models.OrderRequest{Symbol: "TQQQ", Exchange: "NASD", Qty: 10, Price: 45, Side: models.Buy}))
	cash, err := ex.BuyableCash(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 550, cash, 1e-9)

	n, err := CancelAll(ctx, ex, "TQQQ", "NASD", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cash, _ = ex.BuyableCash(ctx)
	assert.InDelta(t, 1000, cash, 1e-9)
	assert.True(t, IsRejected(ex.CancelOrder(ctx, "TQQQ", "NASD", "1", 10)))
}

func TestPaperRejectsOverspend(t *testing.T) {
	ex, _ := newTestPaper(100)
	err := ex.SubmitOrder(context.Background(), models.OrderRequest{Symbol: "TQQQ", Exchange: "NASD", Qty: 3, Price: 50, Side: models.Buy})
	var rej *OrderRejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "PAPER_CASH", rej.Code)
}

// failingCancelGateway lists two orders and refuses to cancel the first.
type failingCancelGateway struct {
	PaperExchange
	cancelled []string
}

func (g *failingCancelGateway) OpenOrders(ctx context.Context, symbol, exch string) ([]models.OpenOrder, error) {
	return []models.OpenOrder{{Symbol: symbol, OrderRef: "a", OpenQty: 1}, {Symbol: symbol, OrderRef: "b", OpenQty: 2}}, nil
}

func (g *failingCancelGateway) CancelOrder(ctx context.Context, symbol, exch, orderRef string, qty int) error {
	if orderRef == "a" {
		return ErrTransient
	}
	g.cancelled = append(g.cancelled, orderRef)
	return nil
}

func TestCancelAllContinuesAfterFailure(t *testing.T) {
	g := &failingCancelGateway{}
	n, err := CancelAll(context.Background(), g, "TQQQ", "NASD", zap.NewNop())
	assert.Equal(t, 1, n)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Equal(t, []string{"b"}, g.cancelled)
}
