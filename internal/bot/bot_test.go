package bot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/config"
	"etf-trend-bot/internal/exchange/exchangetest"
	"etf-trend-bot/internal/indicators"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/notifier"
	"etf-trend-bot/internal/persistence"
	"etf-trend-bot/internal/statemanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ny, _ = time.LoadLocation("America/New_York")

// Wednesday
func at(hour, min int) time.Time {
	return time.Date(2026, 3, 4, hour, min, 0, 0, ny)
}

type fixture struct {
	bot     *TrendBot
	gw      *exchangetest.Gateway
	prices  *exchangetest.Prices
	clk     *clock.Fake
	tracker *statemanager.Manager
}

func newFixture(t *testing.T, now time.Time, holdings ...models.Holding) *fixture {
	t.Helper()
	cfg := config.Default()
	clk := clock.NewFake(now)
	gw := exchangetest.New(10000, holdings...)
	prices := exchangetest.NewPrices()
	repo := persistence.NewFileRepository(filepath.Join(t.TempDir(), "status_us.json"))
	tracker := statemanager.NewManager(repo, clk, 0, zap.NewNop())
	return &fixture{
		bot:     New(cfg, gw, prices, tracker, notifier.Nop{}, clk, zap.NewNop()),
		gw:      gw,
		prices:  prices,
		clk:     clk,
		tracker: tracker,
	}
}

// rising builds n daily bars climbing 0.5 a day from 100.
func rising(n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		c := 100 + float64(i)*0.5
		bars[i] = models.Bar{
			Time:  at(16, 0).AddDate(0, 0, i-n+1),
			Open:  c - 0.25,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}
	return bars
}

// crossUp is a strong uptrend whose previous close dipped below the
// 20-session average, so a quote back above it is a cross-up.
func crossUp() []models.Bar {
	bars := rising(130)
	bars[128] = models.Bar{Time: bars[128].Time, Open: 152, High: 153, Low: 149, Close: 150}
	bars[129] = models.Bar{Time: bars[129].Time, Open: 160, High: 171, Low: 159, Close: 170}
	return bars
}

func holding(sym string, qty int, avg float64) models.Holding {
	return models.Holding{Symbol: sym, Qty: qty, AvgPrice: avg, EvalAmount: avg * float64(qty)}
}

func TestWeekendSkipsBroker(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 7, 12, 0, 0, 0, ny))
	assert.Equal(t, 60*time.Second, f.bot.Tick(context.Background()))
	assert.Zero(t, f.gw.BalanceCalls())
}

func TestBalanceErrorSkipsTick(t *testing.T) {
	f := newFixture(t, at(11, 0), holding("TQQQ", 10, 100))
	f.prices.Set("TQQQ", 80)
	f.gw.BalanceErr = errors.New("gateway timeout")

	assert.Equal(t, 60*time.Second, f.bot.Tick(context.Background()))
	assert.Empty(t, f.gw.Calls())
}

func TestOpeningTakeProfitOncePerDay(t *testing.T) {
	f := newFixture(t, at(9, 35), holding("TQQQ", 11, 150))
	f.prices.Set("TQQQ", 160)
	f.prices.SetHistory("TQQQ", rising(130))
	f.gw.AddOpenOrder(models.OpenOrder{Symbol: "TQQQ", OrderRef: "7", Side: models.Buy, Price: 140, OpenQty: 2})
	inds, err := indicators.Compute(rising(130))
	require.NoError(t, err)

	f.bot.Tick(context.Background())

	calls := f.gw.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "cancel TQQQ 7", calls[0], "resting orders are cancelled before the sell")
	sub := f.gw.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, 5, sub[0].Qty)
	assert.Equal(t, models.Sell, sub[0].Side)
	assert.Equal(t, models.Limit, sub[0].Type)
	assert.Equal(t, models.RoundPrice(inds.BBUpper), sub[0].Price)
	assert.True(t, f.tracker.IsPhaseADone())
	// monitoring ran on the same tick
	assert.InDelta(t, 6.6667, f.tracker.MaxProfit("TQQQ"), 1e-3)

	f.gw.Reset()
	f.clk.Advance(time.Minute)
	f.bot.Tick(context.Background())
	assert.Empty(t, f.gw.Submitted())
}

func TestStopLossCancelsThenSells(t *testing.T) {
	f := newFixture(t, at(11, 0), holding("TQQQ", 10, 100))
	f.prices.Set("TQQQ", 94)
	f.gw.AddOpenOrder(models.OpenOrder{Symbol: "TQQQ", OrderRef: "3", Side: models.Sell, Price: 120, OpenQty: 10})

	assert.Equal(t, 60*time.Second, f.bot.Tick(context.Background()))

	assert.Equal(t, []string{"cancel TQQQ 3", "submit SELL TQQQ 10 @ 89.30 (AGGRESSIVE_LIMIT)"}, f.gw.Calls())
	assert.True(t, f.tracker.IsIgnoreSync("TQQQ"))

	// the broker still reports the position; the ignore window holds it back
	f.gw.Reset()
	f.clk.Advance(time.Minute)
	f.bot.Tick(context.Background())
	assert.Empty(t, f.gw.Calls())
}

func TestTrailingStop(t *testing.T) {
	f := newFixture(t, at(11, 0), holding("TQQQ", 10, 100))
	f.prices.Set("TQQQ", 112)
	f.bot.Tick(context.Background())
	assert.Empty(t, f.gw.Submitted())
	assert.InDelta(t, 12, f.tracker.MaxProfit("TQQQ"), 1e-9)

	f.clk.Advance(time.Minute)
	f.prices.Set("TQQQ", 110)
	f.bot.Tick(context.Background())
	assert.Empty(t, f.gw.Submitted(), "two points below the mark is within the drawdown")

	f.clk.Advance(time.Minute)
	f.prices.Set("TQQQ", 108.5)
	f.bot.Tick(context.Background())
	sub := f.gw.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, 10, sub[0].Qty)
	assert.Equal(t, models.AggressiveLimit, sub[0].Type)
	assert.InDelta(t, 12, f.tracker.MaxProfit("TQQQ"), 1e-9)
}

func TestExternalIncreaseResetsHighWaterMark(t *testing.T) {
	f := newFixture(t, at(11, 0), holding("TQQQ", 10, 100))
	f.prices.Set("TQQQ", 112)
	f.bot.Tick(context.Background())

	f.gw.SetHolding(holding("TQQQ", 20, 100))
	f.prices.Set("TQQQ", 105)
	f.clk.Advance(time.Minute)
	f.bot.Tick(context.Background())

	assert.Empty(t, f.gw.Submitted())
	assert.InDelta(t, 5, f.tracker.MaxProfit("TQQQ"), 1e-9)
}

func TestFirstTickKeepsPersistedMark(t *testing.T) {
	f := newFixture(t, at(11, 0), holding("TQQQ", 10, 100))
	require.NoError(t, f.tracker.UpdateMaxProfit("TQQQ", 12))
	f.prices.Set("TQQQ", 105)

	f.bot.Tick(context.Background())

	sub := f.gw.Submitted()
	require.Len(t, sub, 1, "restart resumes the trailing stop")
	assert.Equal(t, models.Sell, sub[0].Side)
}

func TestClosingEntryRunsTWAP(t *testing.T) {
	f := newFixture(t, at(15, 51))
	f.prices.Set("TQQQ", 170)
	f.prices.SetHistory("TQQQ", crossUp())

	wait := f.bot.Tick(context.Background())
	assert.Equal(t, 600*time.Second, wait)

	sub := f.gw.Submitted()
	require.Len(t, sub, 3)
	for _, o := range sub {
		assert.Equal(t, models.Buy, o.Side)
		// 10000 equity * 0.5 / 3 slices / 170
		assert.Equal(t, 9, o.Qty)
		assert.Equal(t, 178.5, o.Price)
	}
	assert.Equal(t, 27, f.tracker.VirtualQty("TQQQ", 0))
	assert.Equal(t, []time.Duration{150 * time.Second, 150 * time.Second}, f.clk.Sleeps())
}

func TestClosingSizingIgnoresOtherHoldings(t *testing.T) {
	f := newFixture(t, at(15, 51), holding("AAPL", 50, 200))
	f.prices.Set("TQQQ", 170)
	f.prices.SetHistory("TQQQ", crossUp())

	f.bot.Tick(context.Background())

	sub := f.gw.Submitted()
	require.Len(t, sub, 3)
	total := 0
	for _, o := range sub {
		assert.Equal(t, "TQQQ", o.Symbol)
		total += o.Qty
	}
	assert.Equal(t, 27, total, "AAPL is not part of the allocation base")
}

func TestClosingSkipsSymbolWithOpenOrders(t *testing.T) {
	f := newFixture(t, at(15, 51))
	f.prices.Set("TQQQ", 170)
	f.prices.SetHistory("TQQQ", crossUp())
	f.gw.AddOpenOrder(models.OpenOrder{Symbol: "TQQQ", OrderRef: "9", Side: models.Buy, Price: 171, OpenQty: 9})

	f.bot.Tick(context.Background())
	assert.Empty(t, f.gw.Calls())
}

func TestClosingCountsPendingBuys(t *testing.T) {
	f := newFixture(t, at(15, 51))
	f.prices.Set("TQQQ", 170)
	f.prices.SetHistory("TQQQ", crossUp())
	f.tracker.RecordPendingBuy("TQQQ", 30, 0)

	f.bot.Tick(context.Background())
	assert.Empty(t, f.gw.Submitted(), "unconfirmed buys already cover the allocation")
}

func TestClosingTrendBreakSells(t *testing.T) {
	f := newFixture(t, at(15, 52), holding("TQQQ", 10, 150))
	f.prices.Set("TQQQ", 140)
	f.prices.SetHistory("TQQQ", crossUp())

	f.bot.Tick(context.Background())

	assert.Equal(t, []string{"submit SELL TQQQ 10 @ 133.00 (AGGRESSIVE_LIMIT)"}, f.gw.Calls())
	assert.True(t, f.tracker.IsIgnoreSync("TQQQ"))
}

func TestClosingNoSignalNoOrder(t *testing.T) {
	f := newFixture(t, at(15, 51))
	f.prices.Set("TQQQ", 165)
	f.prices.SetHistory("TQQQ", rising(130))

	f.bot.Tick(context.Background())
	assert.Empty(t, f.gw.Submitted())
}

func TestDailyResetOnceAfterClose(t *testing.T) {
	f := newFixture(t, at(16, 1))
	require.NoError(t, f.tracker.SetPhaseADone(true))
	require.NoError(t, f.tracker.UpdateMaxProfit("TQQQ", 8))

	f.bot.Tick(context.Background())
	assert.True(t, f.tracker.IsDailyResetDone())
	assert.False(t, f.tracker.IsPhaseADone())
	assert.Zero(t, f.tracker.MaxProfit("TQQQ"))
	assert.Zero(t, f.gw.BalanceCalls())

	require.NoError(t, f.tracker.SetPhaseADone(true))
	f.clk.Advance(time.Minute)
	f.bot.Tick(context.Background())
	assert.True(t, f.tracker.IsPhaseADone(), "reset runs once per evening")

	f.clk.Set(time.Date(2026, 3, 5, 9, 31, 0, 0, ny))
	f.bot.Tick(context.Background())
	assert.False(t, f.tracker.IsDailyResetDone())
}

type panickingGateway struct {
	*exchangetest.Gateway
}

func (panickingGateway) Balance(ctx context.Context) (models.Account, error) {
	panic("boom")
}

func TestTickPanicIsRecovered(t *testing.T) {
	f := newFixture(t, at(11, 0))
	f.bot.gateway = panickingGateway{f.gw}

	assert.Equal(t, 60*time.Second, f.bot.safeTick(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 7, 12, 0, 0, 0, ny))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, f.bot.Run(ctx))
}

func TestTickIDIsStable(t *testing.T) {
	now := at(10, 0)
	assert.Equal(t, tickID(now), tickID(now))
	assert.NotEqual(t, tickID(now), tickID(now.Add(time.Nanosecond)))
}
