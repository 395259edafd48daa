package console

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"etf-trend-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockOperator struct {
	calls   []string
	sellErr error
}

func (m *mockOperator) Status(ctx context.Context) (models.StatusReport, error) {
	m.calls = append(m.calls, "status")
	return models.StatusReport{Equity: 1234.5}, nil
}

func (m *mockOperator) Review(ctx context.Context) models.ReviewReport {
	m.calls = append(m.calls, "review")
	return models.ReviewReport{Lines: []models.ReviewLine{{Symbol: "TQQQ", Buy: true}}}
}

func (m *mockOperator) CancelAllTargets(ctx context.Context) (int, error) {
	m.calls = append(m.calls, "cancel")
	return 3, nil
}

func (m *mockOperator) ManualSell(ctx context.Context, symbol string) error {
	m.calls = append(m.calls, "sell "+symbol)
	return m.sellErr
}

func (m *mockOperator) ManualBuy(ctx context.Context, symbol string) error {
	m.calls = append(m.calls, "buy "+symbol)
	return nil
}

func (m *mockOperator) TestOrder(ctx context.Context, symbol string, side models.Side) (string, error) {
	m.calls = append(m.calls, "test "+side.String()+" "+symbol)
	if side == models.Sell {
		return "no position", nil
	}
	return "", nil
}

func run(t *testing.T, op *mockOperator, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := New(op, &out, zap.NewNop())
	require.NoError(t, c.Run(context.Background(), strings.NewReader(input)))
	return out.String()
}

func TestDispatch(t *testing.T) {
	op := &mockOperator{}
	out := run(t, op, "status\nreview\n\ncancel\nbuy tqqq\nSELL soxl\ntestbuy TQQQ\ntestsell TQQQ\n")

	assert.Equal(t, []string{"status", "review", "cancel", "buy TQQQ", "sell SOXL", "test BUY TQQQ", "test SELL TQQQ"}, op.calls)
	assert.Contains(t, out, "1234.50")
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "cancelled 3 order(s)")
	assert.Contains(t, out, "sell SOXL submitted")
	assert.Contains(t, out, "warning: no position")
}

func TestUnknownCommandPrintsHelp(t *testing.T) {
	op := &mockOperator{}
	out := run(t, op, "liquidate\n")
	assert.Contains(t, out, `unknown command "liquidate"`)
	assert.Contains(t, out, "testsell SYMBOL")
	assert.Empty(t, op.calls)
}

func TestMissingSymbol(t *testing.T) {
	op := &mockOperator{}
	out := run(t, op, "sell\n")
	assert.Contains(t, out, "usage: sell SYMBOL")
	assert.Empty(t, op.calls)
}

func TestErrorsAreReported(t *testing.T) {
	op := &mockOperator{sellErr: errors.New("no position to sell")}
	out := run(t, op, "sell TQQQ\n")
	assert.Contains(t, out, "error: no position to sell")
	assert.NotContains(t, out, "submitted")
}

func TestExport(t *testing.T) {
	op := &mockOperator{}
	path := filepath.Join(t.TempDir(), "report.xlsx")
	out := run(t, op, "export "+path+"\n")

	assert.Contains(t, out, "wrote "+path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Equal(t, []string{"status", "review"}, op.calls)
}
