package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/models"

	"go.uber.org/zap"
)

// PriceSource is the quote feed the paper gateway fills against.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type paperPosition struct {
	qty      int
	avgPrice float64
}

type paperOrder struct {
	id       int64
	exchange string
	order    models.OpenOrder
}

// PaperExchange implements Gateway with an in-memory book. Limit orders fill
// at the live quote as soon as it crosses the limit; a buy reserves its
// full limit value until it fills or is cancelled.
type PaperExchange struct {
	mu        sync.Mutex
	prices    PriceSource
	clock     clock.Clock
	logger    *zap.Logger
	cash      float64 // free cash, reservations already deducted
	positions map[string]*paperPosition
	orders    map[string]*paperOrder
	nextID    int64
}

// NewPaperExchange starts with initialCash and no positions.
func NewPaperExchange(initialCash float64, prices PriceSource, clk clock.Clock, logger *zap.Logger) *PaperExchange {
	return &PaperExchange{
		prices:    prices,
		clock:     clk,
		logger:    logger,
		cash:      initialCash,
		positions: make(map[string]*paperPosition),
		orders:    make(map[string]*paperOrder),
		nextID:    1,
	}
}

func (e *PaperExchange) Authenticate(ctx context.Context) error {
	return nil
}

func (e *PaperExchange) BuyableCash(ctx context.Context) (float64, error) {
	e.match(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash, nil
}

// Balance marks positions at the live quote, or at cost when no quote is available.
func (e *PaperExchange) Balance(ctx context.Context) (models.Account, error) {
	e.match(ctx)

	e.mu.Lock()
	held := make(map[string]paperPosition, len(e.positions))
	for sym, p := range e.positions {
		held[sym] = *p
	}
	cash := e.cash
	e.mu.Unlock()

	holdings := make(map[string]models.Holding, len(held))
	for sym, p := range held {
		price, err := e.prices.CurrentPrice(ctx, sym)
		if err != nil || price <= 0 {
			price = p.avgPrice
		}
		rate := 0.0
		if p.avgPrice > 0 {
			rate = (price - p.avgPrice) / p.avgPrice * 100
		}
		holdings[sym] = models.Holding{
			Symbol:     sym,
			Qty:        p.qty,
			AvgPrice:   p.avgPrice,
			ProfitRate: rate,
			EvalAmount: price * float64(p.qty),
		}
	}
	return models.Account{Holdings: holdings, Cash: cash}, nil
}

func (e *PaperExchange) OpenOrders(ctx context.Context, symbol, exch string) ([]models.OpenOrder, error) {
	e.match(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.OpenOrder
	for _, o := range e.sortedOrders() {
		if o.order.Symbol == symbol && o.exchange == exch {
			out = append(out, o.order)
		}
	}
	return out, nil
}

func (e *PaperExchange) CancelOrder(ctx context.Context, symbol, exch, orderRef string, qty int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderRef]
	if !ok || o.order.Symbol != symbol {
		return &OrderRejectedError{Code: "PAPER_NO_ORDER", Message: "order " + orderRef + " not found"}
	}
	if o.order.Side == models.Buy {
		e.cash += o.order.Price * float64(o.order.OpenQty)
	}
	delete(e.orders, orderRef)
	e.logger.Info("Paper order cancelled", zap.String("symbol", symbol), zap.String("order", orderRef))
	return nil
}

func (e *PaperExchange) SubmitOrder(ctx context.Context, req models.OrderRequest) error {
	if req.Qty <= 0 || req.Price <= 0 {
		return &OrderRejectedError{Code: "PAPER_INVALID", Message: fmt.Sprintf("invalid order %s", req)}
	}

	e.mu.Lock()
	switch req.Side {
	case models.Buy:
		cost := req.Price * float64(req.Qty)
		if cost > e.cash {
			e.mu.Unlock()
			return &OrderRejectedError{Code: "PAPER_CASH", Message: fmt.Sprintf("need %.2f, have %.2f", cost, e.cash)}
		}
		e.cash -= cost
	case models.Sell:
		free := 0
		if p, ok := e.positions[req.Symbol]; ok {
			free = p.qty - e.openSellQty(req.Symbol)
		}
		if req.Qty > free {
			e.mu.Unlock()
			return &OrderRejectedError{Code: "PAPER_QTY", Message: fmt.Sprintf("sell %d, free %d", req.Qty, free)}
		}
	}

	id := e.nextID
	e.nextID++
	ref := strconv.FormatInt(id, 10)
	e.orders[ref] = &paperOrder{
		id:       id,
		exchange: req.Exchange,
		order: models.OpenOrder{
			Symbol:     req.Symbol,
			OrderRef:   ref,
			Side:       req.Side,
			Price:      req.Price,
			OpenQty:    req.Qty,
			SubmitTime: e.clock.Now(),
		},
	}
	e.mu.Unlock()

	e.logger.Info("Paper order accepted", zap.Stringer("order", req), zap.String("ref", ref))
	e.match(ctx)
	return nil
}

// match fills resting orders whose limit the live quote has crossed.
func (e *PaperExchange) match(ctx context.Context) {
	e.mu.Lock()
	symbols := make(map[string]struct{})
	for _, o := range e.orders {
		symbols[o.order.Symbol] = struct{}{}
	}
	e.mu.Unlock()

	prices := make(map[string]float64, len(symbols))
	for sym := range symbols {
		p, err := e.prices.CurrentPrice(ctx, sym)
		if err != nil {
			e.logger.Debug("Paper match skipped, no quote", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		prices[sym] = p
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.sortedOrders() {
		price, ok := prices[o.order.Symbol]
		if !ok || price <= 0 {
			continue
		}
		if (o.order.Side == models.Buy && price <= o.order.Price) ||
			(o.order.Side == models.Sell && price >= o.order.Price) {
			e.fill(o, price)
		}
	}
}

// fill must be called with mu held.
func (e *PaperExchange) fill(o *paperOrder, price float64) {
	qty := o.order.OpenQty
	sym := o.order.Symbol
	delete(e.orders, o.order.OrderRef)

	switch o.order.Side {
	case models.Buy:
		// refund the part of the reservation above the fill price
		e.cash += (o.order.Price - price) * float64(qty)
		p, ok := e.positions[sym]
		if !ok {
			p = &paperPosition{}
			e.positions[sym] = p
		}
		p.avgPrice = (p.avgPrice*float64(p.qty) + price*float64(qty)) / float64(p.qty+qty)
		p.qty += qty
	case models.Sell:
		e.cash += price * float64(qty)
		p := e.positions[sym]
		realized := (price - p.avgPrice) * float64(qty)
		p.qty -= qty
		if p.qty <= 0 {
			delete(e.positions, sym)
		}
		e.logger.Info("Paper realized P&L", zap.String("symbol", sym), zap.Float64("pnl", realized))
	}
	e.logger.Info("Paper order filled",
		zap.String("symbol", sym),
		zap.Stringer("side", o.order.Side),
		zap.Int("qty", qty),
		zap.Float64("price", price))
}

// sortedOrders returns resting orders oldest first. mu must be held.
func (e *PaperExchange) sortedOrders() []*paperOrder {
	out := make([]*paperOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (e *PaperExchange) openSellQty(symbol string) int {
	n := 0
	for _, o := range e.orders {
		if o.order.Symbol == symbol && o.order.Side == models.Sell {
			n += o.order.OpenQty
		}
	}
	return n
}
