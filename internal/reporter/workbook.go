package reporter

import (
	"fmt"
	"io"

	"etf-trend-bot/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	statusSheet = "Status"
	reviewSheet = "Review"
)

// WriteWorkbook writes the status and review views as an xlsx workbook with
// one sheet each.
func WriteWorkbook(w io.Writer, status models.StatusReport, review models.ReviewReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statusSheet); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Time", status.Now.Format(timeLayout), "Market open", status.MarketOpen, "Window", status.Window},
		{"Symbol", "Qty", "Virtual", "Price", "Avg", "Value", "P&L", "Rate %", "Max %", "Weight %", "Ignore-sync"},
	}
	for _, p := range status.Positions {
		rows = append(rows, []interface{}{
			p.Symbol, p.Qty, p.VirtualQty, p.Price, p.AvgPrice, p.Value, p.ProfitAmt, p.ProfitRate, p.MaxProfit, p.Weight, p.Ignored,
		})
	}
	rows = append(rows, []interface{}{"Cash", status.Cash}, []interface{}{"Equity", status.Equity})
	if err := writeRows(f, statusSheet, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(reviewSheet); err != nil {
		return err
	}
	rows = [][]interface{}{
		{"Time", review.Now.Format(timeLayout), "Market open", review.MarketOpen},
		{"Symbol", "Price", "SMA20", "SMA120", "BB Lower", "BB Upper", "ADX", "Trend", "Cross", "Reclaim", "Strong", "Below SMA20", "Buy", "Error"},
	}
	for _, l := range review.Lines {
		in := l.Indicators
		rows = append(rows, []interface{}{
			l.Symbol, l.Price, in.SMA20, in.SMA120, in.BBLower, in.BBUpper, in.ADX,
			l.LongTerm, l.CrossUp, l.Reclaim, l.Strength, l.BelowSMA20, l.Buy, l.Err,
		})
	}
	if err := writeRows(f, reviewSheet, rows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
