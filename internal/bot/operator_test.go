package bot

import (
	"context"
	"errors"
	"testing"

	"etf-trend-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusReport(t *testing.T) {
	f := newFixture(t, at(11, 0), holding("TQQQ", 10, 100))
	f.prices.Set("TQQQ", 110)
	f.prices.Set("SOXL", 30)
	require.NoError(t, f.tracker.UpdateMaxProfit("TQQQ", 12))

	r, err := f.bot.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, r.MarketOpen)
	assert.Equal(t, "monitoring", r.Window)
	assert.InDelta(t, 11100, r.Equity, 1e-9)
	require.Len(t, r.Positions, 2)

	tq := r.Positions[0]
	assert.Equal(t, "TQQQ", tq.Symbol)
	assert.Equal(t, 10, tq.Qty)
	assert.InDelta(t, 1100, tq.Value, 1e-9)
	assert.InDelta(t, 100, tq.ProfitAmt, 1e-9)
	assert.InDelta(t, 10, tq.ProfitRate, 1e-9)
	assert.Equal(t, 12.0, tq.MaxProfit)
	assert.InDelta(t, 1100.0/11100*100, tq.Weight, 1e-9)

	assert.Equal(t, "SOXL", r.Positions[1].Symbol)
	assert.Zero(t, r.Positions[1].Qty)
}

func TestStatusBalanceError(t *testing.T) {
	f := newFixture(t, at(11, 0))
	f.gw.BalanceErr = errors.New("down")
	_, err := f.bot.Status(context.Background())
	assert.Error(t, err)
}

func TestReview(t *testing.T) {
	f := newFixture(t, at(18, 0))
	f.prices.SetHistory("TQQQ", crossUp())

	r := f.bot.Review(context.Background())
	assert.False(t, r.MarketOpen)
	require.Len(t, r.Lines, 2)

	tq := r.Lines[0]
	assert.Empty(t, tq.Err)
	assert.Equal(t, 170.0, tq.Price, "no quote falls back to the last close")
	assert.True(t, tq.LongTerm)
	assert.True(t, tq.CrossUp)
	assert.True(t, tq.Strength)
	assert.False(t, tq.BelowSMA20)
	assert.True(t, tq.Buy)

	assert.Equal(t, "SOXL", r.Lines[1].Symbol)
	assert.NotEmpty(t, r.Lines[1].Err)
}

func TestManualSell(t *testing.T) {
	f := newFixture(t, at(12, 0), holding("SOXL", 4, 30))
	f.prices.Set("SOXL", 20)
	f.gw.AddOpenOrder(models.OpenOrder{Symbol: "SOXL", OrderRef: "5", Side: models.Sell, Price: 40, OpenQty: 4})

	require.NoError(t, f.bot.ManualSell(context.Background(), "SOXL"))
	assert.Equal(t, []string{"cancel SOXL 5", "submit SELL SOXL 4 @ 19.00 (AGGRESSIVE_LIMIT)"}, f.gw.Calls())
	assert.True(t, f.tracker.IsIgnoreSync("SOXL"))

	assert.True(t, errors.Is(f.bot.ManualSell(context.Background(), "TQQQ"), ErrNoPosition))
	assert.True(t, errors.Is(f.bot.ManualSell(context.Background(), "SPY"), ErrUnknownSymbol))
}

func TestManualBuy(t *testing.T) {
	f := newFixture(t, at(12, 0))
	f.prices.Set("TQQQ", 60)

	require.NoError(t, f.bot.ManualBuy(context.Background(), "TQQQ"))
	sub := f.gw.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, 1, sub[0].Qty)
	assert.Equal(t, 63.0, sub[0].Price)
	assert.Equal(t, models.Buy, sub[0].Side)
}

func TestTestOrders(t *testing.T) {
	f := newFixture(t, at(12, 0))
	f.prices.Set("TQQQ", 60)

	warn, err := f.bot.TestOrder(context.Background(), "TQQQ", models.Buy)
	require.NoError(t, err)
	assert.Empty(t, warn)

	warn, err = f.bot.TestOrder(context.Background(), "TQQQ", models.Sell)
	require.NoError(t, err)
	assert.Contains(t, warn, "no TQQQ position")

	sub := f.gw.Submitted()
	require.Len(t, sub, 2)
	assert.Equal(t, 30.0, sub[0].Price)
	assert.Equal(t, 90.0, sub[1].Price)
	assert.Equal(t, models.Limit, sub[1].Type)
}

func TestCancelAllTargets(t *testing.T) {
	f := newFixture(t, at(12, 0))
	f.gw.AddOpenOrder(models.OpenOrder{Symbol: "TQQQ", OrderRef: "1", OpenQty: 1})
	f.gw.AddOpenOrder(models.OpenOrder{Symbol: "SOXL", OrderRef: "2", OpenQty: 1})

	n, err := f.bot.CancelAllTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"cancel TQQQ 1", "cancel SOXL 2"}, f.gw.Calls())
}
