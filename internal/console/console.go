// Package console reads operator commands from a line-oriented stream.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"etf-trend-bot/internal/models"
	"etf-trend-bot/internal/reporter"

	"go.uber.org/zap"
)

// Operator is what the console drives.
type Operator interface {
	Status(ctx context.Context) (models.StatusReport, error)
	Review(ctx context.Context) models.ReviewReport
	CancelAllTargets(ctx context.Context) (int, error)
	ManualSell(ctx context.Context, symbol string) error
	ManualBuy(ctx context.Context, symbol string) error
	TestOrder(ctx context.Context, symbol string, side models.Side) (string, error)
}

const help = `commands:
  status            positions, cash and equity
  review            entry checklist on the latest data
  cancel            cancel every open order on every target
  buy SYMBOL        buy one share at a marketable limit
  sell SYMBOL       sell the whole position and start the ignore-sync window
  testbuy SYMBOL    one share at half the price, rests unfilled
  testsell SYMBOL   one share at 1.5x the price, rests unfilled
  export FILE       write status and review to an xlsx workbook
  help              this text
`

// Console dispatches one command per input line.
type Console struct {
	op     Operator
	out    io.Writer
	logger *zap.Logger
}

// New returns a console that writes replies to out.
func New(op Operator, out io.Writer, logger *zap.Logger) *Console {
	return &Console{op: op, out: out, logger: logger}
}

// Run reads commands until in is exhausted or ctx is cancelled.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		c.Execute(ctx, scanner.Text())
	}
	return scanner.Err()
}

// Execute runs a single command line.
func (c *Console) Execute(ctx context.Context, line string) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	symbol := ""
	if len(fields) > 1 {
		symbol = strings.ToUpper(fields[1])
	}
	c.logger.Info("Operator command", zap.String("cmd", cmd), zap.String("symbol", symbol))

	switch cmd {
	case "status":
		r, err := c.op.Status(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		reporter.WriteStatus(c.out, r)
	case "review":
		reporter.WriteReview(c.out, c.op.Review(ctx))
	case "cancel":
		n, err := c.op.CancelAllTargets(ctx)
		fmt.Fprintf(c.out, "cancelled %d order(s)\n", n)
		if err != nil {
			c.fail(err)
		}
	case "buy", "sell", "testbuy", "testsell":
		if symbol == "" {
			fmt.Fprintf(c.out, "usage: %s SYMBOL\n", cmd)
			return
		}
		c.order(ctx, cmd, symbol)
	case "export":
		if len(fields) < 2 {
			fmt.Fprintln(c.out, "usage: export FILE")
			return
		}
		c.export(ctx, fields[1])
	case "help":
		fmt.Fprint(c.out, help)
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", cmd)
		fmt.Fprint(c.out, help)
	}
}

func (c *Console) order(ctx context.Context, cmd, symbol string) {
	var (
		warning string
		err     error
	)
	switch cmd {
	case "buy":
		err = c.op.ManualBuy(ctx, symbol)
	case "sell":
		err = c.op.ManualSell(ctx, symbol)
	case "testbuy":
		warning, err = c.op.TestOrder(ctx, symbol, models.Buy)
	case "testsell":
		warning, err = c.op.TestOrder(ctx, symbol, models.Sell)
	}
	if warning != "" {
		fmt.Fprintf(c.out, "warning: %s\n", warning)
	}
	if err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintf(c.out, "%s %s submitted\n", cmd, symbol)
}

func (c *Console) export(ctx context.Context, path string) {
	status, err := c.op.Status(ctx)
	if err != nil {
		c.fail(err)
		return
	}
	file, err := os.Create(path)
	if err != nil {
		c.fail(err)
		return
	}
	err = reporter.WriteWorkbook(file, status, c.op.Review(ctx))
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		c.fail(err)
		return
	}
	fmt.Fprintf(c.out, "wrote %s\n", path)
}

func (c *Console) fail(err error) {
	c.logger.Warn("Operator command failed", zap.Error(err))
	fmt.Fprintf(c.out, "error: %v\n", err)
}
