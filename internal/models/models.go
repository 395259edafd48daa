package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every tunable of the bot. It is decoded from a JSON file and
// then completed with defaults by the config package.
type Config struct {
	Mode    string   `json:"mode"`    // "live" or "paper"
	Targets []Target `json:"targets"` // fixed trading universe

	AllocationRatio        float64 `json:"allocation_ratio"`         // share of total equity per target
	StopLossRate           float64 `json:"stop_loss_rate"`           // percent, e.g. -5
	TrailingActivationRate float64 `json:"trailing_activation_rate"` // high-water mark needed to arm the trailing stop
	TrailingDrawdownRate   float64 `json:"trailing_drawdown_rate"`   // drawdown from the high-water mark that exits
	OpeningSellRatio       float64 `json:"opening_sell_ratio"`       // fraction sold at the upper band after the open
	AggressiveSlippage     float64 `json:"aggressive_slippage"`      // marketable limit offset, 0.05 = 5%
	IgnoreSyncSec          int     `json:"ignore_sync_sec"`          // exclusion window after an exit
	MinOrderAmount         float64 `json:"min_order_amount"`         // smallest dollar amount worth buying
	ADXThreshold           float64 `json:"adx_threshold"`            // trend strength filter

	TWAPSlices           int `json:"twap_slices"`
	TWAPIntervalSec      int `json:"twap_interval_sec"`
	PostDecisionSleepSec int `json:"post_decision_sleep_sec"`
	TickIntervalSec      int `json:"tick_interval_sec"`
	PendingBuyTTLSec     int `json:"pending_buy_ttl_sec"`
	HistoryCacheTTLSec   int `json:"history_cache_ttl_sec"`
	HistoryMinDays       int `json:"history_min_days"`

	RetryAttempts int `json:"retry_attempts"` // bounded retries for broker and market data calls
	RetryDelayMs  int `json:"retry_delay_ms"` // fixed delay between retries

	StateStore     string `json:"state_store"` // "file" or "badger"
	StatePath      string `json:"state_path"`
	MarketTimezone string `json:"market_timezone"`

	KIS        KISConfig        `json:"kis"`
	MarketData MarketDataConfig `json:"market_data"`
	Paper      PaperConfig      `json:"paper"`
	Redis      RedisConfig      `json:"redis"`
	API        APIConfig        `json:"api"`
	LogConfig  LogConfig        `json:"log"`

	// Secrets are never read from the JSON file.
	Secrets Secrets `json:"-"`
}

// KISConfig configures the Korea Investment & Securities overseas stock gateway.
type KISConfig struct {
	BaseURL        string `json:"base_url"`
	RealAccount    bool   `json:"real_account"`     // false selects the virtual (mock) transaction ids
	TokenCacheFile string `json:"token_cache_file"` // access token reuse across restarts
	OrderPauseMs   int    `json:"order_pause_ms"`   // pause between consecutive cancel requests
	TimeoutSec     int    `json:"timeout_sec"`
}

// MarketDataConfig configures the quote/history provider.
type MarketDataConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

// PaperConfig configures the in-memory paper gateway.
type PaperConfig struct {
	InitialCash float64 `json:"initial_cash"`
}

// RedisConfig configures the redis state store.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"` // key holding the state document
}

// APIConfig configures the HTTP operator API. An empty Listen disables it.
type APIConfig struct {
	Listen string `json:"listen"` // e.g. "127.0.0.1:8080"
}

// LogConfig configures logging output and rotation.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age"`     // days rotated files are kept
	Compress   bool   `json:"compress"`
}

// Secrets are loaded from the environment.
type Secrets struct {
	AppKey         string
	AppSecret      string
	AccountNo      string
	AccountProduct string
	DiscordWebhook string
}

// Target is one tradable symbol together with the broker's exchange code.
type Target struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"` // e.g. "NASD", "AMEX"
}

// Holding is a broker position snapshot. It is fetched fresh every tick.
type Holding struct {
	Symbol     string
	Qty        int
	AvgPrice   float64
	ProfitRate float64 // broker reported, percent
	EvalAmount float64 // broker reported market value
}

// Account is one balance read: positions keyed by symbol plus buyable cash.
type Account struct {
	Holdings map[string]Holding
	Cash     float64
}

// Equity is cash plus the marked value of holdings at the given prices. A
// symbol without a price is valued at its broker evaluation amount.
func (a Account) Equity(prices map[string]float64) float64 {
	total := a.Cash
	for sym, h := range a.Holdings {
		total += markedValue(h, prices[sym])
	}
	return total
}

// TargetEquity is Equity restricted to the traded targets. Positions in any
// other symbol are left out.
func (a Account) TargetEquity(targets []Target, prices map[string]float64) float64 {
	total := a.Cash
	for _, t := range targets {
		if h, ok := a.Holdings[t.Symbol]; ok {
			total += markedValue(h, prices[t.Symbol])
		}
	}
	return total
}

func markedValue(h Holding, price float64) float64 {
	if price > 0 {
		return price * float64(h.Qty)
	}
	return h.EvalAmount
}

// OpenOrder is an unfilled order reported by the broker.
type OpenOrder struct {
	Symbol     string
	OrderRef   string
	Side       Side
	Price      float64
	OpenQty    int
	SubmitTime time.Time
}

// Bar is one daily OHLC candle, oldest first in a series.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// IndicatorSet is derived from a daily series on every use.
type IndicatorSet struct {
	SMA20     float64
	SMA120    float64
	BBLower   float64
	BBUpper   float64
	PrevSMA20 float64
	PrevClose float64
	TodayOpen float64
	TodayLow  float64
	LastClose float64
	ADX       float64
}

// BuyIntent is a dollar denominated buy decision handed to the execution splitter.
type BuyIntent struct {
	Target    Target
	Amount    float64 // dollars still needed to reach the allocation
	RefPrice  float64 // price at decision time
	RealQty   int     // broker quantity at decision time
	SignalTag string  // "cross-up" or "reclaim"
}

// OrderRequest is everything a gateway needs to submit one order.
type OrderRequest struct {
	Symbol   string
	Exchange string
	Qty      int
	Price    float64
	Side     Side
	Type     OrderType
}

func (r OrderRequest) String() string {
	return fmt.Sprintf("%s %s %d @ %.2f (%s)", r.Side, r.Symbol, r.Qty, r.Price, r.Type)
}

// Side is the order direction.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// OrderType distinguishes a resting limit from a marketable ("aggressive") limit.
type OrderType int

const (
	Limit OrderType = iota
	AggressiveLimit
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case AggressiveLimit:
		return "AGGRESSIVE_LIMIT"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

// RoundPrice rounds to the cent, the tick size of US equities above $1.
func RoundPrice(p float64) float64 {
	f, _ := decimal.NewFromFloat(p).Round(2).Float64()
	return f
}

// AggressivePrice returns a marketable limit: above the reference for buys,
// below it for sells.
func AggressivePrice(side Side, ref, slippage float64) float64 {
	switch side {
	case Buy:
		return RoundPrice(ref * (1 + slippage))
	case Sell:
		return RoundPrice(ref * (1 - slippage))
	}
	return RoundPrice(ref)
}
