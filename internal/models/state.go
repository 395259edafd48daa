package models

import "time"

// PersistentState is everything that must survive a restart.
// The JSON layout is the on-disk format of the status file.
type PersistentState struct {
	PhaseADone     bool               `json:"phase_a_done"`     // opening-window take-profit already ran today
	MaxProfit      map[string]float64 `json:"max_profit"`       // symbol -> high-water mark, percent
	IgnoreList     map[string]float64 `json:"ignore_list"`      // symbol -> expiry, epoch seconds
	DailyResetDone bool               `json:"daily_reset_done"` // re-armed when the session reopens
}

// NewPersistentState returns the defaults used on first start or after a corrupt load.
func NewPersistentState() *PersistentState {
	return &PersistentState{
		MaxProfit:  make(map[string]float64),
		IgnoreList: make(map[string]float64),
	}
}

// Clone returns a deep copy so callers can mutate without racing the owner.
func (s *PersistentState) Clone() *PersistentState {
	c := &PersistentState{
		PhaseADone:     s.PhaseADone,
		DailyResetDone: s.DailyResetDone,
		MaxProfit:      make(map[string]float64, len(s.MaxProfit)),
		IgnoreList:     make(map[string]float64, len(s.IgnoreList)),
	}
	for k, v := range s.MaxProfit {
		c.MaxProfit[k] = v
	}
	for k, v := range s.IgnoreList {
		c.IgnoreList[k] = v
	}
	return c
}

// Normalize fills nil maps left by a partial JSON document.
func (s *PersistentState) Normalize() {
	if s.MaxProfit == nil {
		s.MaxProfit = make(map[string]float64)
	}
	if s.IgnoreList == nil {
		s.IgnoreList = make(map[string]float64)
	}
}

// PendingBuy is a submitted but not yet broker-confirmed buy. It lives in
// memory only.
type PendingBuy struct {
	Qty         int
	SubmittedAt time.Time
	InitialQty  int // real quantity when the first slice was submitted
}
