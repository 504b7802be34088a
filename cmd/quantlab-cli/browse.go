package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"quantlab/internal/report"
	"quantlab/pkg/quantlab"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	errorBarStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	buyStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	equityBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

const (
	paneTrades = iota
	paneEquity
	paneCount
)

type backtestDoneMsg struct {
	res *quantlab.BacktestResponse
	err error
}

type browseModel struct {
	client *quantlab.Client
	req    quantlab.BacktestRequest

	res     *quantlab.BacktestResponse
	err     error
	loading bool
	pane    int

	viewport      viewport.Model
	ready         bool
	width, height int
}

func runBrowse(client *quantlab.Client, args []string) error {
	fs := flag.NewFlagSet("browse", flag.ExitOnError)
	request := backtestFlags(fs)
	_ = fs.Parse(args)

	req, err := request()
	if err != nil {
		return err
	}

	m := browseModel{client: client, req: req, loading: true}
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

func (m browseModel) Init() tea.Cmd {
	return m.runBacktest()
}

func (m browseModel) runBacktest() tea.Cmd {
	client, req := m.client, m.req
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		res, err := client.Backtest(ctx, req)
		return backtestDoneMsg{res: res, err: err}
	}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.pane = (m.pane + 1) % paneCount
			if m.ready {
				m.viewport.SetContent(m.renderContent())
				m.viewport.GotoTop()
			}
			return m, nil
		case "r":
			if !m.loading {
				m.loading = true
				return m, m.runBacktest()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerH := 1
		footerH := 1
		vpHeight := m.height - headerH - footerH
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.viewport.SetContent(m.renderContent())
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil

	case backtestDoneMsg:
		m.loading = false
		m.res, m.err = msg.res, msg.err
		if m.ready {
			m.viewport.SetContent(m.renderContent())
			m.viewport.GotoTop()
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m browseModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	subject := m.req.StrategyID
	if subject == "" {
		subject = "inline rule"
	}
	headerText := fmt.Sprintf(" %s  %s  %s..%s ", strings.ToUpper(m.req.Ticker), subject, m.req.StartDate, m.req.EndDate)

	var header string
	switch {
	case m.loading:
		header = headerStyle.Render(padOrTrunc(headerText+"   running... ", m.width))
	case m.err != nil:
		header = errorBarStyle.Render(padOrTrunc(headerText+"   failed ", m.width))
	default:
		met := m.res.Metrics
		headerText += fmt.Sprintf("   return %s   sharpe %s   maxDD %s   trips %d   win %.0f%%   PF %s ",
			report.FormatPct(met.TotalReturnPct),
			report.FormatRatio(float64(met.SharpeRatio)),
			report.FormatPct(-met.MaxDrawdownPct),
			met.NumTrades,
			met.WinRate,
			report.FormatRatio(float64(met.ProfitFactor)),
		)
		header = headerStyle.Render(padOrTrunc(headerText, m.width))
	}

	pane := "trades"
	if m.pane == paneEquity {
		pane = "equity"
	}
	footer := dimStyle.Render(padOrTrunc(
		fmt.Sprintf(" [%s]  tab: switch pane   r: rerun   ↑/↓ pgup/pgdn: scroll   q: quit   %3.0f%%",
			pane, m.viewport.ScrollPercent()*100), m.width))

	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m browseModel) renderContent() string {
	if m.loading && m.res == nil && m.err == nil {
		return dimStyle.Render(" running backtest...")
	}
	if m.err != nil {
		var b strings.Builder
		b.WriteString(lossStyle.Render(" " + m.err.Error()))
		b.WriteString("\n")
		var apiErr *quantlab.APIError
		if errors.As(m.err, &apiErr) && len(apiErr.Body.Trades) > 0 {
			b.WriteString("\n")
			b.WriteString(dimStyle.Render(" trades before the failure:"))
			b.WriteString("\n")
			b.WriteString(renderTrades(apiErr.Body.Trades))
		}
		return b.String()
	}
	if m.pane == paneEquity {
		return renderEquity(m.res.EquityCurve, m.width)
	}
	return renderTrades(m.res.Trades)
}

func renderTrades(trades []quantlab.Trade) string {
	if len(trades) == 0 {
		return dimStyle.Render(" no trades")
	}
	var b strings.Builder
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf(" %-10s  %-4s  %12s  %10s  %14s  %12s  %s",
		"date", "side", "price", "shares", "value", "pnl", "reason")))
	b.WriteString("\n")
	for _, t := range trades {
		side := buyStyle.Render(fmt.Sprintf("%-4s", t.Type))
		pnl := fmt.Sprintf("%12s", "")
		if t.Type == "SELL" {
			s := fmt.Sprintf("%12s", report.FormatMoney(t.PnL))
			switch {
			case t.PnL > 0:
				pnl = gainStyle.Render(s)
			case t.PnL < 0:
				pnl = lossStyle.Render(s)
			default:
				pnl = s
			}
			side = fmt.Sprintf("%-4s", t.Type)
		}
		fmt.Fprintf(&b, " %-10s  %s  %12s  %10s  %14s  %s  %s\n",
			t.Date, side, report.FormatMoney(t.Price), report.FormatInt(t.Shares),
			report.FormatMoney(t.Value), pnl, dimStyle.Render(t.Reason))
	}
	return b.String()
}

// renderEquity lists the equity curve with a bar scaled between the curve's
// low and high.
func renderEquity(curve []quantlab.EquityPoint, width int) string {
	if len(curve) == 0 {
		return dimStyle.Render(" no equity points")
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range curve {
		lo = math.Min(lo, p.Equity)
		hi = math.Max(hi, p.Equity)
	}
	barWidth := width - 62
	if barWidth < 10 {
		barWidth = 10
	}

	var b strings.Builder
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf(" %-10s  %14s  %14s  %14s", "date", "equity", "cash", "position")))
	b.WriteString("\n")
	for _, p := range curve {
		n := 1
		if hi > lo {
			n += int(float64(barWidth-1) * (p.Equity - lo) / (hi - lo))
		}
		fmt.Fprintf(&b, " %-10s  %14s  %14s  %14s  %s\n",
			p.Date, report.FormatMoney(p.Equity), report.FormatMoney(p.Cash),
			report.FormatMoney(p.PositionValue), equityBarStyle.Render(strings.Repeat("█", n)))
	}
	return b.String()
}

func padOrTrunc(s string, width int) string {
	r := []rune(s)
	if width <= 0 {
		return s
	}
	if len(r) > width {
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-len(r))
}
