// Package indicators derives the daily technical values the strategy reads.
// Every function here is pure.
package indicators

import (
	"errors"
	"math"

	"etf-trend-bot/internal/models"
)

const (
	// MinBars is the shortest series Compute accepts.
	MinBars = 120

	shortPeriod   = 20
	longPeriod    = 120
	bandWidth     = 2.0
	adxPeriod     = 14
	adxSmoothing  = 1.0 / adxPeriod
	percentFactor = 100.0
)

// ErrInsufficientHistory means the series is too short. Callers skip the
// symbol for the cycle; it is not an operator-facing failure.
var ErrInsufficientHistory = errors.New("insufficient daily history")

// Compute derives the indicator set from a daily series ordered oldest first.
// The last bar is "today".
func Compute(bars []models.Bar) (models.IndicatorSet, error) {
	n := len(bars)
	if n < MinBars {
		return models.IndicatorSet{}, ErrInsufficientHistory
	}

	closes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
	}

	sma20 := mean(closes[n-shortPeriod:])
	std20 := sampleStdDev(closes[n-shortPeriod:], sma20)
	last := bars[n-1]

	return models.IndicatorSet{
		SMA20:     sma20,
		SMA120:    mean(closes[n-longPeriod:]),
		BBLower:   sma20 - bandWidth*std20,
		BBUpper:   sma20 + bandWidth*std20,
		PrevSMA20: mean(closes[n-shortPeriod-1 : n-1]),
		PrevClose: closes[n-2],
		TodayOpen: last.Open,
		TodayLow:  last.Low,
		LastClose: last.Close,
		ADX:       ADX(bars),
	}, nil
}

// ADX returns the final value of a Wilder-style average directional index.
// True range and directional movement are exponentially smoothed with
// alpha = 1/14 seeded by the first observation; the absolute normalized
// difference of the smoothed directional indexes is smoothed again. Bars
// where the directional indexes are undefined leave the value unchanged.
func ADX(bars []models.Bar) float64 {
	var (
		trSmooth, plusSmooth, minusSmooth float64
		adx                               float64
		seeded                            bool
	)
	for i, b := range bars {
		tr := b.High - b.Low
		plusDM, minusDM := 0.0, 0.0
		if i > 0 {
			prev := bars[i-1]
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev.Close), math.Abs(b.Low-prev.Close)))
			up := b.High - prev.High
			down := prev.Low - b.Low
			if up > down && up > 0 {
				plusDM = up
			}
			if down > up && down > 0 {
				minusDM = down
			}
		}

		if i == 0 {
			trSmooth, plusSmooth, minusSmooth = tr, plusDM, minusDM
		} else {
			trSmooth = smooth(trSmooth, tr)
			plusSmooth = smooth(plusSmooth, plusDM)
			minusSmooth = smooth(minusSmooth, minusDM)
		}

		if trSmooth == 0 {
			continue
		}
		plusDI := plusSmooth / trSmooth * percentFactor
		minusDI := minusSmooth / trSmooth * percentFactor
		if plusDI+minusDI == 0 {
			continue
		}
		dx := math.Abs(plusDI-minusDI) / (plusDI + minusDI) * percentFactor

		if !seeded {
			adx, seeded = dx, true
			continue
		}
		adx = smooth(adx, dx)
	}
	return adx
}

func smooth(prev, x float64) float64 {
	return (1-adxSmoothing)*prev + adxSmoothing*x
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev uses the n-1 denominator.
func sampleStdDev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}
