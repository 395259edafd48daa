// Package strategy holds the entry and exit decision rules. The functions are
// pure; the bot package supplies prices, indicators and tracker state.
package strategy

import (
	"etf-trend-bot/internal/models"
)

// ExitReason says why a position should be closed.
type ExitReason int

const (
	NoExit ExitReason = iota
	StopLoss
	TrailingStop
	TrendBreak
)

func (r ExitReason) String() string {
	switch r {
	case StopLoss:
		return "stop-loss"
	case TrailingStop:
		return "trailing-stop"
	case TrendBreak:
		return "trend-break"
	}
	return "none"
}

// ExitRules are the intraday risk thresholds, all in percent.
type ExitRules struct {
	StopLossRate       float64 // exit at or below, e.g. -5
	TrailingActivation float64 // high-water mark needed before the trailing stop arms
	TrailingDrawdown   float64 // give-back from the high-water mark that exits
}

// NewExitRules reads the thresholds from cfg.
func NewExitRules(cfg *models.Config) ExitRules {
	return ExitRules{
		StopLossRate:       cfg.StopLossRate,
		TrailingActivation: cfg.TrailingActivationRate,
		TrailingDrawdown:   cfg.TrailingDrawdownRate,
	}
}

// Evaluate checks the stop-loss first; the two exits never fire together.
func (r ExitRules) Evaluate(rate, maxRate float64) ExitReason {
	if rate <= r.StopLossRate {
		return StopLoss
	}
	if maxRate >= r.TrailingActivation && maxRate-rate >= r.TrailingDrawdown {
		return TrailingStop
	}
	return NoExit
}

// ProfitRate is the unrealized return in percent against the average cost.
func ProfitRate(price, avgPrice float64) float64 {
	if avgPrice <= 0 {
		return 0
	}
	return (price - avgPrice) / avgPrice * 100
}

// IsTrendBreak reports a close below the 20-session average.
func IsTrendBreak(price float64, inds models.IndicatorSet) bool {
	return price < inds.SMA20
}

// EntryRules configure the closing-decision buy filter.
type EntryRules struct {
	ADXThreshold float64
	// RequireGreenCandle adds "price above today's open" to the band
	// reclaim trigger. The live closing rule sets it; the operator review
	// does not.
	RequireGreenCandle bool
}

// EntrySignal is the full checklist behind one entry decision.
type EntrySignal struct {
	LongTerm     bool // price above SMA120
	CrossUp      bool // yesterday below SMA20, today above
	TouchedLower bool // today's low pierced the lower band
	Reclaimed    bool // price back above the lower band
	GreenCandle  bool // price above today's open
	Reclaim      bool
	Strength     bool // ADX at or above the threshold
	ADX          float64
}

// Triggered reports whether either entry trigger fired.
func (s EntrySignal) Triggered() bool {
	return s.CrossUp || s.Reclaim
}

// Buy reports whether every filter holds.
func (s EntrySignal) Buy() bool {
	return s.LongTerm && s.Triggered() && s.Strength
}

// Tag names the trigger for logs and notifications.
func (s EntrySignal) Tag() string {
	switch {
	case s.CrossUp:
		return "cross-up"
	case s.Reclaim:
		return "reclaim"
	}
	return ""
}

// Evaluate runs the entry checklist for the current price.
func (r EntryRules) Evaluate(price float64, inds models.IndicatorSet) EntrySignal {
	s := EntrySignal{
		LongTerm:     price > inds.SMA120,
		CrossUp:      inds.PrevClose < inds.PrevSMA20 && price > inds.SMA20,
		TouchedLower: inds.TodayLow < inds.BBLower,
		Reclaimed:    price > inds.BBLower,
		GreenCandle:  price > inds.TodayOpen,
		Strength:     inds.ADX >= r.ADXThreshold,
		ADX:          inds.ADX,
	}
	s.Reclaim = s.TouchedLower && s.Reclaimed
	if r.RequireGreenCandle {
		s.Reclaim = s.Reclaim && s.GreenCandle
	}
	return s
}

// NeededAmount is the dollar gap between the allocation and what is already
// held, counting unconfirmed buys.
func NeededAmount(allocation float64, virtualQty int, price float64) float64 {
	return allocation - float64(virtualQty)*price
}
