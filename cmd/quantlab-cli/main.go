package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"quantlab/internal/report"
	"quantlab/pkg/quantlab"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: quantlab-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  status       Check that quantlab-server is up\n")
		fmt.Fprintf(os.Stderr, "  optimize     Optimise a portfolio of tickers\n")
		fmt.Fprintf(os.Stderr, "  backtest     Backtest a strategy on one ticker\n")
		fmt.Fprintf(os.Stderr, "  browse       Backtest interactively and page through the results\n")
		fmt.Fprintf(os.Stderr, "  strategies   List, show, create or delete strategies\n")
		fmt.Fprintf(os.Stderr, "\nThe server address is read from QUANTLAB_URL (default http://localhost:8080).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	baseURL := "http://localhost:8080"
	if v := os.Getenv("QUANTLAB_URL"); v != "" {
		baseURL = v
	}
	client := quantlab.NewClient(baseURL)
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("quantlab-cli %s\n", version)
	case "status":
		if err = client.Health(ctx); err == nil {
			fmt.Printf("%s: ok\n", baseURL)
		}
	case "optimize":
		err = runOptimize(ctx, client, os.Args[2:], os.Stdout)
	case "backtest":
		err = runBacktest(ctx, client, os.Args[2:], os.Stdout)
	case "browse":
		err = runBrowse(client, os.Args[2:])
	case "strategies":
		err = runStrategies(ctx, client, os.Args[2:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var apiErr *quantlab.APIError
		if errors.As(err, &apiErr) && len(apiErr.Body.Trades) > 0 {
			fmt.Fprintln(os.Stderr, "trades before the failure:")
			printTrades(os.Stderr, apiErr.Body.Trades)
		}
		os.Exit(1)
	}
}

func runOptimize(ctx context.Context, client *quantlab.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	tickers := fs.String("tickers", "", "comma-separated tickers, at least two")
	rf := fs.Float64("rf", 0.02, "annual risk-free rate")
	_ = fs.Parse(args)

	res, err := client.Optimize(ctx, quantlab.OptimizeRequest{
		Tickers:      splitList(*tickers),
		RiskFreeRate: *rf,
	})
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(res.Weights))
	for s := range res.Weights {
		symbols = append(symbols, s)
	}
	sort.Slice(symbols, func(i, j int) bool { return res.Weights[symbols[i]] > res.Weights[symbols[j]] })

	table := tablewriter.NewWriter(out)
	table.Header("Ticker", "Weight")
	for _, s := range symbols {
		table.Append(s, report.FormatWeight(res.Weights[s]))
	}
	table.Render()

	fmt.Fprintf(out, "\nExpected return %s  Risk %s  Sharpe %s\n",
		report.FormatWeight(res.Return), report.FormatWeight(res.Risk), report.FormatRatio(float64(res.SharpeRatio)))
	fmt.Fprintf(out, "Efficient frontier: %d points\n", len(res.EfficientFrontier.Volatility))
	return nil
}

// backtestFlags registers the backtest request flags on fs and returns a
// function building the request once fs is parsed.
func backtestFlags(fs *flag.FlagSet) func() (quantlab.BacktestRequest, error) {
	ticker := fs.String("ticker", "", "ticker symbol")
	strategyID := fs.String("strategy", "", "catalog strategy ID")
	ruleFile := fs.String("rule-file", "", "path to an inline rule document")
	start := fs.String("start", time.Now().AddDate(-1, 0, 0).Format(quantlab.DateLayout), "start date, YYYY-MM-DD")
	end := fs.String("end", time.Now().Format(quantlab.DateLayout), "end date, YYYY-MM-DD (inclusive)")
	capital := fs.Float64("capital", 0, "initial capital (server default when 0)")
	commission := fs.Float64("commission", -1, "commission rate per trade (server default when negative)")
	rf := fs.Float64("rf", 0, "annual risk-free rate for the Sharpe ratio")

	return func() (quantlab.BacktestRequest, error) {
		req := quantlab.BacktestRequest{
			Ticker:       *ticker,
			StrategyID:   *strategyID,
			StartDate:    *start,
			EndDate:      *end,
			RiskFreeRate: *rf,
		}
		if *ruleFile != "" {
			b, err := os.ReadFile(*ruleFile)
			if err != nil {
				return req, fmt.Errorf("reading rule file: %w", err)
			}
			req.Rule = string(b)
		}
		if *capital > 0 {
			req.InitialCapital = capital
		}
		if *commission >= 0 {
			req.Commission = commission
		}
		return req, nil
	}
}

func runBacktest(ctx context.Context, client *quantlab.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	request := backtestFlags(fs)
	showTrades := fs.Bool("trades", false, "print the trade log")
	_ = fs.Parse(args)

	req, err := request()
	if err != nil {
		return err
	}

	res, err := client.Backtest(ctx, req)
	if err != nil {
		return err
	}

	m := res.Metrics
	table := tablewriter.NewWriter(out)
	table.Header("Metric", "Value")
	table.Append("Initial capital", report.FormatMoney(m.InitialCapital))
	table.Append("Final equity", report.FormatMoney(m.FinalEquity))
	table.Append("Total return", fmt.Sprintf("%s (%s)", report.FormatMoney(m.TotalReturn), report.FormatPct(m.TotalReturnPct)))
	table.Append("Sharpe ratio", report.FormatRatio(float64(m.SharpeRatio)))
	table.Append("Max drawdown", fmt.Sprintf("%s (%s)", report.FormatMoney(m.MaxDrawdown), report.FormatPct(-m.MaxDrawdownPct)))
	table.Append("Round trips", fmt.Sprintf("%d (%d won, %d lost)", m.NumTrades, m.WinningTrades, m.LosingTrades))
	table.Append("Win rate", fmt.Sprintf("%.1f%%", m.WinRate))
	table.Append("Avg win / loss", fmt.Sprintf("%s / %s", report.FormatMoney(m.AvgWin), report.FormatMoney(m.AvgLoss)))
	table.Append("Profit factor", report.FormatRatio(float64(m.ProfitFactor)))
	table.Render()

	if *showTrades && len(res.Trades) > 0 {
		fmt.Fprintln(out)
		printTrades(out, res.Trades)
	}
	return nil
}

func runStrategies(ctx context.Context, client *quantlab.Client, args []string, out io.Writer) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		list, err := client.ListStrategies(ctx)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(out)
		table.Header("ID", "Name", "Custom", "Description")
		for _, s := range list {
			table.Append(s.ID, s.Name, fmt.Sprintf("%t", s.IsCustom), s.Description)
		}
		table.Render()

	case "show":
		if len(args) != 1 {
			return errors.New("usage: strategies show <id>")
		}
		s, err := client.GetStrategy(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s)\n%s\n\n%s\n", s.Name, s.ID, s.Description, s.Rule)

	case "create":
		fs := flag.NewFlagSet("strategies create", flag.ExitOnError)
		name := fs.String("name", "", "strategy name")
		desc := fs.String("description", "", "short description")
		ruleFile := fs.String("rule-file", "", "path to the rule document")
		_ = fs.Parse(args)

		b, err := os.ReadFile(*ruleFile)
		if err != nil {
			return fmt.Errorf("reading rule file: %w", err)
		}
		s, err := client.CreateStrategy(ctx, quantlab.CreateStrategyRequest{
			Name:        *name,
			Rule:        string(b),
			Description: *desc,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s (%s)\n", s.ID, s.Slug)

	case "delete":
		if len(args) != 1 {
			return errors.New("usage: strategies delete <id>")
		}
		if err := client.DeleteStrategy(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", args[0])

	default:
		return fmt.Errorf("unknown strategies subcommand %q", sub)
	}
	return nil
}

func printTrades(w io.Writer, trades []quantlab.Trade) {
	table := tablewriter.NewWriter(w)
	table.Header("Date", "Type", "Price", "Shares", "Value", "PnL", "Reason")
	for _, t := range trades {
		pnl := ""
		if t.Type == "SELL" {
			pnl = report.FormatMoney(t.PnL)
		}
		table.Append(t.Date, t.Type, report.FormatMoney(t.Price), report.FormatInt(t.Shares),
			report.FormatMoney(t.Value), pnl, t.Reason)
	}
	table.Render()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
