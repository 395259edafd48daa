package statemanager

import (
	"etf-trend-bot/internal/models"

	"go.uber.org/zap"
)

// RecordPendingBuy remembers a submitted buy until the broker reflects it.
// Further slices for the same symbol add to the entry and keep the real
// quantity seen at the first submission.
func (m *Manager) RecordPendingBuy(symbol string, qty, currentRealQty int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if p, ok := m.pending[symbol]; ok {
		p.Qty += qty
		p.SubmittedAt = now
		m.pending[symbol] = p
	} else {
		m.pending[symbol] = models.PendingBuy{Qty: qty, SubmittedAt: now, InitialQty: currentRealQty}
	}
	m.logger.Info("Pending buy recorded",
		zap.String("symbol", symbol),
		zap.Int("qty", qty),
		zap.Int("pending_total", m.pending[symbol].Qty),
		zap.Int("real_qty", currentRealQty))
}

// VirtualQty returns the real quantity inflated by any unconfirmed buy.
// An entry is dropped once the real quantity rises above its snapshot or
// once it is older than the pending TTL.
func (m *Manager) VirtualQty(symbol string, currentRealQty int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[symbol]
	if !ok {
		return currentRealQty
	}
	if currentRealQty > p.InitialQty {
		delete(m.pending, symbol)
		m.logger.Info("Pending buy confirmed by broker", zap.String("symbol", symbol), zap.Int("real_qty", currentRealQty))
		return currentRealQty
	}
	if m.clock.Now().Sub(p.SubmittedAt) > m.pendingTTL {
		delete(m.pending, symbol)
		m.logger.Warn("Pending buy expired without confirmation", zap.String("symbol", symbol), zap.Int("qty", p.Qty))
		return currentRealQty
	}
	return currentRealQty + p.Qty
}

// PendingBuys returns a copy of the ledger.
func (m *Manager) PendingBuys() map[string]models.PendingBuy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.PendingBuy, len(m.pending))
	for k, v := range m.pending {
		out[k] = v
	}
	return out
}
