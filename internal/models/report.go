package models

import "time"

// PositionLine is one target in the operator status view.
type PositionLine struct {
	Symbol     string
	Qty        int
	VirtualQty int
	Price      float64
	AvgPrice   float64
	Value      float64
	ProfitAmt  float64
	ProfitRate float64
	MaxProfit  float64
	Weight     float64 // percent of total equity
	Ignored    bool    // inside an ignore-sync window
}

// StatusReport is the operator status view.
type StatusReport struct {
	Now        time.Time
	MarketOpen bool
	Window     string
	Positions  []PositionLine
	Cash       float64
	Equity     float64
	PhaseADone bool
}

// ReviewLine is the entry checklist for one target.
type ReviewLine struct {
	Symbol     string
	Price      float64
	Indicators IndicatorSet
	LongTerm   bool
	CrossUp    bool
	Reclaim    bool
	Strength   bool
	BelowSMA20 bool
	Buy        bool
	Err        string // set when data was unavailable
}

// ReviewReport is the operator market review. It uses the latest data even
// when the market is closed.
type ReviewReport struct {
	Now        time.Time
	MarketOpen bool
	Lines      []ReviewLine
}
