package statemanager

import (
	"sync"
	"time"

	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/persistence"

	"go.uber.org/zap"
)

// DefaultPendingTTL is how long an unconfirmed buy inflates the virtual quantity.
const DefaultPendingTTL = 600 * time.Second

// Manager owns the persisted risk state and the in-memory pending-buy ledger.
// Every method takes the same lock; every mutation of the persisted part is
// written through the repository before the lock is released. A failed write
// leaves the in-memory state untouched.
type Manager struct {
	mu         sync.Mutex
	state      *models.PersistentState
	pending    map[string]models.PendingBuy
	repo       persistence.StateRepository
	clock      clock.Clock
	pendingTTL time.Duration
	logger     *zap.Logger
}

// NewManager loads the persisted state. A missing or unreadable document
// starts from defaults.
func NewManager(repo persistence.StateRepository, clk clock.Clock, pendingTTL time.Duration, logger *zap.Logger) *Manager {
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	m := &Manager{
		pending:    make(map[string]models.PendingBuy),
		repo:       repo,
		clock:      clk,
		pendingTTL: pendingTTL,
		logger:     logger,
	}

	state, err := repo.LoadState()
	switch {
	case err != nil:
		logger.Warn("State could not be loaded, starting from defaults", zap.Error(err))
		state = models.NewPersistentState()
	case state == nil:
		logger.Info("No saved state found, starting from defaults")
		state = models.NewPersistentState()
	default:
		logger.Info("State loaded",
			zap.Bool("phase_a_done", state.PhaseADone),
			zap.Int("max_profit_entries", len(state.MaxProfit)),
			zap.Bool("daily_reset_done", state.DailyResetDone))
	}
	m.state = state
	return m
}

// mutate applies fn to a copy, persists the copy and only then swaps it in.
// fn returns false when it made no change, in which case nothing is written.
// The caller must hold mu.
func (m *Manager) mutate(fn func(s *models.PersistentState) bool) error {
	next := m.state.Clone()
	if !fn(next) {
		return nil
	}
	if err := m.repo.SaveState(next); err != nil {
		m.logger.Error("Failed to persist state", zap.Error(err))
		return err
	}
	m.state = next
	return nil
}

// MaxProfit returns the high-water mark for symbol, 0 if none is recorded.
func (m *Manager) MaxProfit(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.MaxProfit[symbol]
}

// UpdateMaxProfit raises the high-water mark when rate exceeds it. The first
// observation is always recorded, negative or not.
func (m *Manager) UpdateMaxProfit(symbol string, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(func(s *models.PersistentState) bool {
		if cur, ok := s.MaxProfit[symbol]; ok && rate <= cur {
			return false
		}
		s.MaxProfit[symbol] = rate
		return true
	})
}

// ResetMaxProfit forgets the high-water mark, starting a new cost-basis epoch.
func (m *Manager) ResetMaxProfit(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(func(s *models.PersistentState) bool {
		if _, ok := s.MaxProfit[symbol]; !ok {
			return false
		}
		delete(s.MaxProfit, symbol)
		return true
	})
}

// SetPhaseADone records whether the opening take-profit ran today.
func (m *Manager) SetPhaseADone(done bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(func(s *models.PersistentState) bool {
		if s.PhaseADone == done {
			return false
		}
		s.PhaseADone = done
		return true
	})
}

// IsPhaseADone reports the opening take-profit flag.
func (m *Manager) IsPhaseADone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.PhaseADone
}

// SetIgnoreSync excludes symbol from automated rules for d.
func (m *Manager) SetIgnoreSync(symbol string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry := epochSeconds(m.clock.Now().Add(d))
	return m.mutate(func(s *models.PersistentState) bool {
		s.IgnoreList[symbol] = expiry
		return true
	})
}

// IsIgnoreSync reports whether symbol is still inside its exclusion window.
func (m *Manager) IsIgnoreSync(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.state.IgnoreList[symbol]
	if !ok {
		return false
	}
	return epochSeconds(m.clock.Now()) < expiry
}

// ResetDaily clears all per-day state and marks the reset as done. Calling it
// again yields the same state.
func (m *Manager) ResetDaily() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.mutate(func(s *models.PersistentState) bool {
		s.PhaseADone = false
		s.MaxProfit = make(map[string]float64)
		s.IgnoreList = make(map[string]float64)
		s.DailyResetDone = true
		return true
	})
	if err != nil {
		return err
	}
	m.pending = make(map[string]models.PendingBuy)
	m.logger.Info("Daily state reset")
	return nil
}

// IsDailyResetDone reports whether the post-close reset already ran.
func (m *Manager) IsDailyResetDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DailyResetDone
}

// RearmDailyReset clears the reset-done flag so the next close resets again.
func (m *Manager) RearmDailyReset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutate(func(s *models.PersistentState) bool {
		if !s.DailyResetDone {
			return false
		}
		s.DailyResetDone = false
		return true
	})
}

// Snapshot returns a deep copy of the persisted state.
func (m *Manager) Snapshot() *models.PersistentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// epochSeconds is t as fractional Unix seconds, the unit of ignore_list.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
