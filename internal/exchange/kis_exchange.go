package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"etf-trend-bot/internal/clock"
	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/transport"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	tokenReuse = 23 * time.Hour

	// balance inquiry on NASD covers every US venue for the account
	balanceExchange = "NASD"

	pathToken       = "/oauth2/tokenP"
	pathBuyable     = "/uapi/overseas-stock/v1/trading/inquire-psamount"
	pathBalance     = "/uapi/overseas-stock/v1/trading/inquire-balance"
	pathOpenOrders  = "/uapi/overseas-stock/v1/trading/inquire-nccs"
	pathCancelOrder = "/uapi/overseas-stock/v1/trading/order-rvsecncl"
	pathOrder       = "/uapi/overseas-stock/v1/trading/order"

	// transaction ids of the real account; the virtual account swaps the
	// leading T for a V
	trBuyable = "TTTS3007R"
	trBalance = "TTTS3012R"
	trOpen    = "TTTS3018R"
	trCancel  = "TTTT1004U"
	trBuy     = "TTTT1002U"
	trSell    = "TTTT1006U"
)

// KISExchange implements Gateway against the Korea Investment & Securities
// overseas stock REST API.
type KISExchange struct {
	// queries retry on transient failures; order and cancel requests do not,
	// a lost response must not turn into a duplicate order
	client      *resty.Client
	orderClient *resty.Client

	cfg       models.KISConfig
	secrets   models.Secrets
	cashQuote models.Target // symbol the buyable-cash inquiry is priced against
	clock     clock.Clock
	logger    *zap.Logger

	mu    sync.Mutex
	token string
}

// NewKISExchange builds the gateway. No request is made until Authenticate
// or the first call.
func NewKISExchange(cfg *models.Config, clk clock.Clock, logger *zap.Logger) *KISExchange {
	timeout := time.Duration(cfg.KIS.TimeoutSec) * time.Second
	cashQuote := models.Target{Symbol: "TQQQ", Exchange: "NASD"}
	if len(cfg.Targets) > 0 {
		cashQuote = cfg.Targets[0]
	}
	return &KISExchange{
		client: transport.NewClient(transport.Options{
			BaseURL:  cfg.KIS.BaseURL,
			Timeout:  timeout,
			Attempts: cfg.RetryAttempts,
			Delay:    time.Duration(cfg.RetryDelayMs) * time.Millisecond,
			RetryIf:  kisRetryable,
		}),
		orderClient: transport.NewClient(transport.Options{BaseURL: cfg.KIS.BaseURL, Timeout: timeout}),
		cfg:         cfg.KIS,
		secrets:     cfg.Secrets,
		cashQuote:   cashQuote,
		clock:       clk,
		logger:      logger,
	}
}

type tokenCache struct {
	AccessToken string    `json:"access_token"`
	Timestamp   time.Time `json:"timestamp"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// Authenticate loads a cached token younger than 23 hours or issues a new one.
func (e *KISExchange) Authenticate(ctx context.Context) error {
	return e.authenticate(ctx, false)
}

func (e *KISExchange) authenticate(ctx context.Context, force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !force {
		if tok, ok := e.loadCachedToken(); ok {
			e.token = tok
			return nil
		}
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     e.secrets.AppKey,
			"appsecret":  e.secrets.AppSecret,
		}).
		Post(pathToken)
	if err != nil {
		return fmt.Errorf("%w: token request: %v", ErrTransient, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return fmt.Errorf("%w: decode token response (status %d): %v", ErrTransient, resp.StatusCode(), err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("token issue refused: %s (%s)", tr.ErrorDescription, tr.ErrorCode)
	}

	e.token = tr.AccessToken
	e.saveCachedToken(tr.AccessToken)
	e.logger.Info("New access token issued")
	return nil
}

// loadCachedToken must be called with mu held.
func (e *KISExchange) loadCachedToken() (string, bool) {
	if e.cfg.TokenCacheFile == "" {
		return "", false
	}
	data, err := os.ReadFile(e.cfg.TokenCacheFile)
	if err != nil {
		return "", false
	}
	var c tokenCache
	if err := json.Unmarshal(data, &c); err != nil || c.AccessToken == "" {
		e.logger.Warn("Ignoring unreadable token cache", zap.String("file", e.cfg.TokenCacheFile))
		return "", false
	}
	if !e.clock.Now().Before(c.Timestamp.Add(tokenReuse)) {
		return "", false
	}
	e.logger.Info("Reusing cached access token", zap.Time("issued_at", c.Timestamp))
	return c.AccessToken, true
}

func (e *KISExchange) saveCachedToken(token string) {
	if e.cfg.TokenCacheFile == "" {
		return
	}
	data, err := json.Marshal(tokenCache{AccessToken: token, Timestamp: e.clock.Now()})
	if err == nil {
		err = os.WriteFile(e.cfg.TokenCacheFile, data, 0600)
	}
	if err != nil {
		e.logger.Warn("Failed to write token cache", zap.Error(err))
	}
}

func (e *KISExchange) currentToken(ctx context.Context) (string, error) {
	e.mu.Lock()
	tok := e.token
	e.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	if err := e.Authenticate(ctx); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token, nil
}

func (e *KISExchange) trID(real string) string {
	if e.cfg.RealAccount {
		return real
	}
	return "V" + real[1:]
}

type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

func isTokenError(msgCd string) bool {
	return msgCd == "EGW00121" || msgCd == "EGW00123"
}

// kisRetryable retries like the shared transport except for token errors,
// which come back as 500 and are handled by reissuing the token.
func kisRetryable(resp *resty.Response, err error) bool {
	if err == nil && resp != nil {
		var env envelope
		if json.Unmarshal(resp.Body(), &env) == nil && isTokenError(env.MsgCd) {
			return false
		}
	}
	return transport.Retryable(resp, err)
}

type request struct {
	client *resty.Client
	method string
	path   string
	trID   string
	query  map[string]string
	body   any
}

// call performs req and reissues the token once if it was refused.
func (e *KISExchange) call(ctx context.Context, req request, out any) error {
	err := e.do(ctx, req, out)
	if errors.Is(err, ErrAuthExpired) {
		e.logger.Warn("Access token refused, reissuing", zap.String("tr_id", req.trID))
		if aerr := e.authenticate(ctx, true); aerr != nil {
			return errors.Join(err, aerr)
		}
		err = e.do(ctx, req, out)
	}
	return err
}

func (e *KISExchange) do(ctx context.Context, req request, out any) error {
	token, err := e.currentToken(ctx)
	if err != nil {
		return err
	}

	r := req.client.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"Content-Type":  "application/json; charset=utf-8",
			"authorization": "Bearer " + token,
			"appkey":        e.secrets.AppKey,
			"appsecret":     e.secrets.AppSecret,
			"tr_id":         req.trID,
			"custtype":      "P",
		})
	if req.query != nil {
		r.SetQueryParams(req.query)
	}
	if req.body != nil {
		r.SetBody(req.body)
	}

	resp, err := r.Execute(req.method, req.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransient, req.trID, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body(), &env)
	status := resp.StatusCode()
	if isTokenError(env.MsgCd) || status == http.StatusUnauthorized {
		return ErrAuthExpired
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s status %d: %s", ErrTransient, req.trID, status, env.Msg1)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %s decode (status %d): %v", ErrTransient, req.trID, status, decodeErr)
	}
	if env.RtCd != "0" {
		return &OrderRejectedError{Code: env.MsgCd, Message: strings.TrimSpace(env.Msg1)}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%s decode output: %w", req.trID, err)
		}
	}
	return nil
}

func (e *KISExchange) account() map[string]string {
	return map[string]string{
		"CANO":         e.secrets.AccountNo,
		"ACNT_PRDT_CD": e.secrets.AccountProduct,
	}
}

// BuyableCash returns the USD amount available for new orders.
func (e *KISExchange) BuyableCash(ctx context.Context) (float64, error) {
	q := e.account()
	q["OVRS_EXCG_CD"] = e.cashQuote.Exchange
	q["OVRS_ORD_UNPR"] = "0"
	q["ITEM_CD"] = e.cashQuote.Symbol
	q["TR_CRCY_CD"] = "USD"

	var out struct {
		Output struct {
			Amount string `json:"frcr_ord_psbl_amt1"`
		} `json:"output"`
	}
	err := e.call(ctx, request{client: e.client, method: http.MethodGet, path: pathBuyable, trID: e.trID(trBuyable), query: q}, &out)
	if err != nil {
		return 0, err
	}
	return parseNum(out.Output.Amount), nil
}

type balanceRow struct {
	Symbol     string `json:"ovrs_pdno"`
	Qty        string `json:"ovrs_cblc_qty"`
	AvgPrice   string `json:"pchs_avg_pric"`
	ProfitRate string `json:"evlu_pfls_rt"`
	EvalAmount string `json:"ovrs_stck_evlu_amt"`
}

// Balance returns positions with a positive quantity and the buyable cash.
func (e *KISExchange) Balance(ctx context.Context) (models.Account, error) {
	q := e.account()
	q["OVRS_EXCG_CD"] = balanceExchange
	q["TR_CRCY_CD"] = "USD"
	q["CTX_AREA_FK200"] = ""
	q["CTX_AREA_NK200"] = ""

	var out struct {
		Output1 []balanceRow `json:"output1"`
	}
	err := e.call(ctx, request{client: e.client, method: http.MethodGet, path: pathBalance, trID: e.trID(trBalance), query: q}, &out)
	if err != nil {
		return models.Account{}, err
	}

	holdings := make(map[string]models.Holding, len(out.Output1))
	for _, row := range out.Output1 {
		qty := int(parseNum(row.Qty))
		if qty <= 0 {
			continue
		}
		holdings[row.Symbol] = models.Holding{
			Symbol:     row.Symbol,
			Qty:        qty,
			AvgPrice:   parseNum(row.AvgPrice),
			ProfitRate: parseNum(row.ProfitRate),
			EvalAmount: parseNum(row.EvalAmount),
		}
	}

	cash, err := e.BuyableCash(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("buyable cash: %w", err)
	}
	return models.Account{Holdings: holdings, Cash: cash}, nil
}

type openOrderRow struct {
	OrderNo  string `json:"odno"`
	Symbol   string `json:"pdno"`
	SideCode string `json:"sll_buy_dvsn_cd"` // 01 sell, 02 buy
	Price    string `json:"ft_ord_unpr3"`
	OpenQty  string `json:"nccs_qty"`
	Date     string `json:"ord_dt"`
	Time     string `json:"ord_tmd"`
}

var seoul = loadSeoul()

func loadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// OpenOrders lists unfilled orders for symbol on exch.
func (e *KISExchange) OpenOrders(ctx context.Context, symbol, exch string) ([]models.OpenOrder, error) {
	q := e.account()
	q["OVRS_EXCG_CD"] = exch
	q["SORT_SQN"] = "DS"
	q["CTX_AREA_FK200"] = ""
	q["CTX_AREA_NK200"] = ""

	var out struct {
		Output []openOrderRow `json:"output"`
	}
	err := e.call(ctx, request{client: e.client, method: http.MethodGet, path: pathOpenOrders, trID: e.trID(trOpen), query: q}, &out)
	if err != nil {
		return nil, err
	}

	var orders []models.OpenOrder
	for _, row := range out.Output {
		if row.Symbol != symbol {
			continue
		}
		side := models.Buy
		if row.SideCode == "01" {
			side = models.Sell
		}
		submitted, _ := time.ParseInLocation("20060102150405", row.Date+row.Time, seoul)
		orders = append(orders, models.OpenOrder{
			Symbol:     row.Symbol,
			OrderRef:   row.OrderNo,
			Side:       side,
			Price:      parseNum(row.Price),
			OpenQty:    int(parseNum(row.OpenQty)),
			SubmitTime: submitted,
		})
	}
	return orders, nil
}

// CancelOrder cancels the open quantity of one order and then pauses
// briefly, the broker throttles bursts of cancels.
func (e *KISExchange) CancelOrder(ctx context.Context, symbol, exch, orderRef string, qty int) error {
	body := e.account()
	body["OVRS_EXCG_CD"] = exch
	body["PDNO"] = symbol
	body["ORGN_ODNO"] = orderRef
	body["RVSE_CNCL_DVSN_CD"] = "02"
	body["ORD_QTY"] = fmt.Sprint(qty)
	body["OVRS_ORD_UNPR"] = "0"
	body["ORD_SVR_DVSN_CD"] = "0"

	err := e.call(ctx, request{client: e.orderClient, method: http.MethodPost, path: pathCancelOrder, trID: e.trID(trCancel), body: body}, nil)
	if err != nil {
		return err
	}
	e.logger.Info("Order cancelled", zap.String("symbol", symbol), zap.String("order", orderRef), zap.Int("qty", qty))
	if e.cfg.OrderPauseMs > 0 {
		return e.clock.Sleep(ctx, time.Duration(e.cfg.OrderPauseMs)*time.Millisecond)
	}
	return nil
}

// SubmitOrder sends a limit order. Aggressive limits are ordinary limits
// priced through the market.
func (e *KISExchange) SubmitOrder(ctx context.Context, req models.OrderRequest) error {
	if req.Qty <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", req.Qty)
	}
	tr := trBuy
	if req.Side == models.Sell {
		tr = trSell
	}

	body := e.account()
	body["OVRS_EXCG_CD"] = req.Exchange
	body["PDNO"] = req.Symbol
	body["ORD_QTY"] = fmt.Sprint(req.Qty)
	body["OVRS_ORD_UNPR"] = formatPrice(req.Price)
	body["ORD_SVR_DVSN_CD"] = "0"
	body["ORD_DVSN"] = "00"

	err := e.call(ctx, request{client: e.orderClient, method: http.MethodPost, path: pathOrder, trID: e.trID(tr), body: body}, nil)
	if err != nil {
		e.logger.Error("Order failed", zap.Stringer("order", req), zap.Error(err))
		return err
	}
	e.logger.Info("Order sent", zap.Stringer("order", req))
	return nil
}

func parseNum(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func formatPrice(p float64) string {
	if p == 0 {
		return "0"
	}
	return decimal.NewFromFloat(p).StringFixed(2)
}
