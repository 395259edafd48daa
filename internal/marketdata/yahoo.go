package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/transport"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) etf-trend-bot"

// YahooProvider reads the public chart endpoint.
type YahooProvider struct {
	client *resty.Client
	logger *zap.Logger
}

// NewYahooProvider creates a provider against baseURL with bounded retries.
func NewYahooProvider(cfg *models.Config, logger *zap.Logger) *YahooProvider {
	client := transport.NewClient(transport.Options{
		BaseURL:  cfg.MarketData.BaseURL,
		Timeout:  time.Duration(cfg.MarketData.TimeoutSec) * time.Second,
		Attempts: cfg.RetryAttempts,
		Delay:    time.Duration(cfg.RetryDelayMs) * time.Millisecond,
	})
	client.SetHeader("User-Agent", userAgent)
	return &YahooProvider{client: client, logger: logger}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (p *YahooProvider) chart(ctx context.Context, symbol, rng string) (*chartResult, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{"range": rng, "interval": "1d"}).
		Get("/v8/finance/chart/{symbol}")
	if err != nil {
		return nil, fmt.Errorf("%w: %s chart request: %v", ErrUnavailable, symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %s chart status %d", ErrUnavailable, symbol, resp.StatusCode())
	}

	var body chartResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: %s chart decode: %v", ErrUnavailable, symbol, err)
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, symbol, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s: empty chart", ErrUnavailable, symbol)
	}
	return &body.Chart.Result[0], nil
}

// bars drops sessions with any missing field.
func (r *chartResult) bars() []models.Bar {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	out := make([]models.Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(q.Open) || i >= len(q.High) || i >= len(q.Low) || i >= len(q.Close) {
			break
		}
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		var vol float64
		if i < len(q.Volume) && q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		out = append(out, models.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   *q.Open[i],
			High:   *q.High[i],
			Low:    *q.Low[i],
			Close:  *q.Close[i],
			Volume: vol,
		})
	}
	return out
}

// CurrentPrice returns the live quote, or the latest close when the market
// is shut and no live quote is published.
func (p *YahooProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	res, err := p.chart(ctx, symbol, "5d")
	if err != nil {
		return 0, err
	}
	if price := res.Meta.RegularMarketPrice; price > 0 {
		return price, nil
	}
	if bars := res.bars(); len(bars) > 0 {
		last := bars[len(bars)-1].Close
		p.logger.Debug("No live quote, using last close", zap.String("symbol", symbol), zap.Float64("close", last))
		return last, nil
	}
	return 0, fmt.Errorf("%w: %s: no price", ErrUnavailable, symbol)
}

// DailyHistory fetches one year of daily bars and fails when fewer than
// minDays sessions are available.
func (p *YahooProvider) DailyHistory(ctx context.Context, symbol string, minDays int) ([]models.Bar, error) {
	res, err := p.chart(ctx, symbol, "1y")
	if err != nil {
		return nil, err
	}
	bars := res.bars()
	if len(bars) < minDays {
		p.logger.Warn("Not enough daily history",
			zap.String("symbol", symbol), zap.Int("have", len(bars)), zap.Int("need", minDays))
		return nil, fmt.Errorf("%w: %s has %d sessions, need %d", ErrUnavailable, symbol, len(bars), minDays)
	}
	return bars, nil
}
