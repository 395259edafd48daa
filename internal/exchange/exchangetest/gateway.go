// Package exchangetest provides a scriptable in-memory Gateway for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"etf-trend-bot/internal/models"
)

// Gateway records every call. Fields may be set before use; use the
// accessor methods once the code under test is running.
type Gateway struct {
	mu sync.Mutex

	Account    models.Account
	Open       map[string][]models.OpenOrder // by symbol
	BalanceErr error
	SubmitErr  error
	CancelErr  error

	calls     []string
	submitted []models.OrderRequest
	balances  int
}

// New returns a gateway holding cash and the given positions.
func New(cash float64, holdings ...models.Holding) *Gateway {
	g := &Gateway{
		Account: models.Account{Holdings: make(map[string]models.Holding), Cash: cash},
		Open:    make(map[string][]models.OpenOrder),
	}
	for _, h := range holdings {
		g.Account.Holdings[h.Symbol] = h
	}
	return g
}

func (g *Gateway) Authenticate(ctx context.Context) error { return nil }

func (g *Gateway) BuyableCash(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Account.Cash, nil
}

func (g *Gateway) Balance(ctx context.Context) (models.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances++
	if g.BalanceErr != nil {
		return models.Account{}, g.BalanceErr
	}
	out := models.Account{Holdings: make(map[string]models.Holding, len(g.Account.Holdings)), Cash: g.Account.Cash}
	for k, v := range g.Account.Holdings {
		out.Holdings[k] = v
	}
	return out, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, symbol, exch string) ([]models.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OpenOrder(nil), g.Open[symbol]...), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exch, orderRef string, qty int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, fmt.Sprintf("cancel %s %s", symbol, orderRef))
	if g.CancelErr != nil {
		return g.CancelErr
	}
	kept := g.Open[symbol][:0]
	for _, o := range g.Open[symbol] {
		if o.OrderRef != orderRef {
			kept = append(kept, o)
		}
	}
	g.Open[symbol] = kept
	return nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req models.OrderRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "submit "+req.String())
	if g.SubmitErr != nil {
		return g.SubmitErr
	}
	g.submitted = append(g.submitted, req)
	return nil
}

// SetHolding replaces the position for h.Symbol; qty 0 removes it.
func (g *Gateway) SetHolding(h models.Holding) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h.Qty <= 0 {
		delete(g.Account.Holdings, h.Symbol)
		return
	}
	g.Account.Holdings[h.Symbol] = h
}

// AddOpenOrder places a resting order for o.Symbol.
func (g *Gateway) AddOpenOrder(o models.OpenOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Open[o.Symbol] = append(g.Open[o.Symbol], o)
}

// Submitted returns the accepted orders in submission order.
func (g *Gateway) Submitted() []models.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OrderRequest(nil), g.submitted...)
}

// Calls returns cancel and submit calls in order, e.g. "cancel TQQQ 7".
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// BalanceCalls counts Balance invocations.
func (g *Gateway) BalanceCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances
}

// Reset forgets recorded calls.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
	g.submitted = nil
}

// Prices is a fixed quote table implementing CurrentPrice and DailyHistory.
type Prices struct {
	mu      sync.Mutex
	Quotes  map[string]float64
	History map[string][]models.Bar
}

func NewPrices() *Prices {
	return &Prices{Quotes: make(map[string]float64), History: make(map[string][]models.Bar)}
}

func (p *Prices) Set(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Quotes[symbol] = price
}

func (p *Prices) SetHistory(symbol string, bars []models.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.History[symbol] = bars
}

func (p *Prices) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.Quotes[symbol]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", symbol)
	}
	return v, nil
}

func (p *Prices) DailyHistory(ctx context.Context, symbol string, minDays int) ([]models.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bars, ok := p.History[symbol]
	if !ok || len(bars) < minDays {
		return nil, fmt.Errorf("no history for %s", symbol)
	}
	return bars, nil
}
