package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"etf-trend-bot/internal/bot"
	"etf-trend-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockOperator struct {
	calls []string
}

func (m *mockOperator) Status(ctx context.Context) (models.StatusReport, error) {
	return models.StatusReport{Equity: 11100, Positions: []models.PositionLine{{Symbol: "TQQQ", Qty: 10}}}, nil
}

func (m *mockOperator) Review(ctx context.Context) models.ReviewReport {
	return models.ReviewReport{Lines: []models.ReviewLine{{Symbol: "TQQQ", Buy: true}}}
}

func (m *mockOperator) CancelAllTargets(ctx context.Context) (int, error) {
	m.calls = append(m.calls, "cancel")
	return 2, nil
}

func (m *mockOperator) ManualSell(ctx context.Context, symbol string) error {
	m.calls = append(m.calls, "sell "+symbol)
	if symbol == "SOXL" {
		return fmt.Errorf("%s: %w", symbol, bot.ErrNoPosition)
	}
	return nil
}

func (m *mockOperator) ManualBuy(ctx context.Context, symbol string) error {
	m.calls = append(m.calls, "buy "+symbol)
	if symbol != "TQQQ" && symbol != "SOXL" {
		return fmt.Errorf("%s: %w", symbol, bot.ErrUnknownSymbol)
	}
	return nil
}

func (m *mockOperator) TestOrder(ctx context.Context, symbol string, side models.Side) (string, error) {
	m.calls = append(m.calls, "test "+side.String()+" "+symbol)
	if side == models.Sell {
		return "no position", nil
	}
	return "", nil
}

func do(t *testing.T, s *Server, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestReadEndpoints(t *testing.T) {
	s := New(&mockOperator{}, zap.NewNop())

	code, body := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = do(t, s, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 11100.0, body["Equity"])

	code, body = do(t, s, http.MethodGet, "/api/review")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["Lines"], 1)
}

func TestOrderEndpoints(t *testing.T) {
	op := &mockOperator{}
	s := New(op, zap.NewNop())

	code, body := do(t, s, http.MethodPost, "/api/orders/cancel")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["cancelled"])

	code, _ = do(t, s, http.MethodPost, "/api/orders/tqqq/buy")
	assert.Equal(t, http.StatusOK, code)

	code, body = do(t, s, http.MethodPost, "/api/orders/TQQQ/testsell")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no position", body["warning"])

	assert.Equal(t, []string{"cancel", "buy TQQQ", "test SELL TQQQ"}, op.calls)
}

func TestErrorCodes(t *testing.T) {
	s := New(&mockOperator{}, zap.NewNop())

	code, body := do(t, s, http.MethodPost, "/api/orders/SOXL/sell")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "no position")

	code, _ = do(t, s, http.MethodPost, "/api/orders/SPY/buy")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, code)
}
