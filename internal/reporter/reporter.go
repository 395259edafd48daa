// Package reporter renders the operator views as text tables.
package reporter

import (
	"fmt"
	"io"

	"etf-trend-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// WriteStatus prints positions, cash and equity.
func WriteStatus(w io.Writer, r models.StatusReport) {
	market := "CLOSED"
	if r.MarketOpen {
		market = "OPEN"
	}
	fmt.Fprintf(w, "%s  market %s  window %s  opening take-profit done: %t\n",
		r.Now.Format(timeLayout), market, windowOrDash(r.Window), r.PhaseADone)

	t := newTable(w)
	t.AppendHeader(table.Row{"Symbol", "Qty", "Virtual", "Price", "Avg", "Value", "P&L", "Rate %", "Max %", "Weight %", ""})
	for _, p := range r.Positions {
		flag := ""
		if p.Ignored {
			flag = "ignore-sync"
		}
		t.AppendRow(table.Row{
			p.Symbol,
			p.Qty,
			p.VirtualQty,
			money(p.Price),
			money(p.AvgPrice),
			money(p.Value),
			money(p.ProfitAmt),
			pct(p.ProfitRate),
			pct(p.MaxProfit),
			pct(p.Weight),
			flag,
		})
	}
	t.AppendFooter(table.Row{"Cash", "", "", "", "", money(r.Cash)})
	t.AppendFooter(table.Row{"Equity", "", "", "", "", money(r.Equity)})
	t.SetColumnConfigs(rightAligned(2, 3, 4, 5, 6, 7, 8, 9, 10))
	t.Render()
}

// WriteReview prints the entry checklist of every target.
func WriteReview(w io.Writer, r models.ReviewReport) {
	note := ""
	if !r.MarketOpen {
		note = "  (market closed, latest daily data)"
	}
	fmt.Fprintf(w, "%s  market review%s\n", r.Now.Format(timeLayout), note)

	t := newTable(w)
	t.AppendHeader(table.Row{"Symbol", "Price", "SMA20", "SMA120", "BB Lower", "BB Upper", "ADX", "Trend", "Cross", "Reclaim", "Strong", "Signal"})
	for _, l := range r.Lines {
		if l.Err != "" {
			t.AppendRow(table.Row{l.Symbol, "", "", "", "", "", "", "", "", "", "", "n/a: " + l.Err})
			continue
		}
		in := l.Indicators
		t.AppendRow(table.Row{
			l.Symbol,
			money(l.Price),
			money(in.SMA20),
			money(in.SMA120),
			money(in.BBLower),
			money(in.BBUpper),
			fmt.Sprintf("%.1f", in.ADX),
			mark(l.LongTerm),
			mark(l.CrossUp),
			mark(l.Reclaim),
			mark(l.Strength),
			signal(l),
		})
	}
	t.SetColumnConfigs(rightAligned(2, 3, 4, 5, 6, 7))
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func rightAligned(cols ...int) []table.ColumnConfig {
	out := make([]table.ColumnConfig, 0, len(cols))
	for _, c := range cols {
		out = append(out, table.ColumnConfig{Number: c, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	return out
}

func signal(l models.ReviewLine) string {
	switch {
	case l.Buy:
		return "BUY"
	case l.BelowSMA20:
		return "below SMA20"
	}
	return "-"
}

func windowOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}
