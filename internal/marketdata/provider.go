package marketdata

import (
	"context"
	"errors"

	"etf-trend-bot/internal/models"
)

// ErrUnavailable is returned when a quote or a usable history cannot be obtained.
var ErrUnavailable = errors.New("market data unavailable")

// Provider supplies quotes and daily bars. Bars are ordered oldest first.
type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	DailyHistory(ctx context.Context, symbol string, minDays int) ([]models.Bar, error)
}
