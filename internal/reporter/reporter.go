// Package reporter renders the per-cycle symbol table and the session trade
// summary for console inspection.
package reporter

import (
	"fmt"
	"io"
	"math"

	"spot-dca-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CycleRow is one symbol's line in the per-cycle table.
type CycleRow struct {
	Symbol    string
	Price     float64
	ChangePct float64
	Peak      float64
	TrailStop float64
	Position  float64
	AvgBuy    float64
	Trades    int
	Profit    float64
	Action    string
}

// RenderCycle prints one cycle's snapshot for all evaluated symbols.
func RenderCycle(w io.Writer, quoteCurrency string, rows []CycleRow) {
	if len(rows) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{
		"Symbol", "Price", "Change %", "Peak", "Trail stop",
		"Position", "Avg buy", "Trades", fmt.Sprintf("PnL (%s)", quoteCurrency), "Action",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Change %", Align: text.AlignRight},
		{Name: fmt.Sprintf("PnL (%s)", quoteCurrency), Align: text.AlignRight},
	})

	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Symbol,
			fmt.Sprintf("%.8g", r.Price),
			fmt.Sprintf("%+.2f", r.ChangePct),
			formatOrDash(r.Peak),
			formatOrDash(r.TrailStop),
			fmt.Sprintf("%.6f", r.Position),
			formatOrDash(r.AvgBuy),
			r.Trades,
			fmt.Sprintf("%+.2f", r.Profit),
			r.Action,
		})
	}
	t.Render()
}

func formatOrDash(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.8g", v)
}

// Metrics summarizes the realized performance of a trade log.
type Metrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	AvgProfitLoss float64
	TotalProfit   float64
}

// Summarize computes realized metrics from confirmed SELL records.
func Summarize(trades []models.TradeRecord) *Metrics {
	m := &Metrics{TotalTrades: len(trades)}

	var totalWin, totalLoss float64
	for _, trade := range trades {
		if trade.Side != models.Sell {
			continue
		}
		m.TotalProfit += trade.Profit
		if trade.Profit > 0 {
			m.WinningTrades++
			totalWin += trade.Profit
		} else {
			m.LosingTrades++
			totalLoss += trade.Profit
		}
	}

	sells := m.WinningTrades + m.LosingTrades
	if sells > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(sells) * 100
	}
	if m.WinningTrades > 0 && m.LosingTrades > 0 {
		avgWin := totalWin / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}
	return m
}

// RenderSummary prints the session trade summary.
func RenderSummary(w io.Writer, quoteCurrency string, m *Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Trade summary")
	t.AppendRows([]table.Row{
		{"Total trades", m.TotalTrades},
		{"Winning sells", m.WinningTrades},
		{"Losing sells", m.LosingTrades},
		{"Win rate", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"Avg profit/loss ratio", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"Realized profit", fmt.Sprintf("%+.2f %s", m.TotalProfit, quoteCurrency)},
	})
	t.Render()
}
