// Command backtest-cli runs a single backtest over a tree definition and a
// Price DB slice, printing the resulting metrics suite.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"jupitor/internal/backtest"
	"jupitor/internal/config"
	"jupitor/internal/pricedb"
	"jupitor/internal/store"
	"jupitor/internal/tree"
	"jupitor/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/jupitor.yaml", "path to YAML configuration")
	treePath := flag.String("tree", "", "path to a JSON FlowNode tree (required)")
	tickers := flag.String("tickers", "", "comma-separated list of tickers to load (required); only these and -benchmark are loaded")
	start := flag.String("start", "", "start date, YYYY-MM-DD (required)")
	end := flag.String("end", "", "end date, YYYY-MM-DD (required)")
	mode := flag.String("mode", "", "CC, OC, or OO (defaults to the config's backtest.default_mode)")
	costBps := flag.Float64("cost-bps", -1, "transaction cost in basis points (defaults to the config's backtest.default_cost_bps)")
	benchmark := flag.String("benchmark", "", "optional benchmark ticker for Beta/Treynor")
	riskFree := flag.Float64("risk-free", 0, "annualized risk-free rate")
	warmup := flag.Int("warmup", -1, "override the computed warm-up start index")
	trace := flag.Bool("trace", false, "collect full branch/condition/contribution trace")
	jsonOut := flag.Bool("json", false, "print the full result (metrics + equity curve) as JSON instead of a summary table")
	flag.Parse()

	if *treePath == "" || *tickers == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	root, err := loadTree(*treePath)
	if err != nil {
		log.Fatalf("failed to load tree: %v", err)
	}
	registry := tree.NewRegistry()
	registry.Register(root)

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	symbols := splitTickers(*tickers)
	if *benchmark != "" {
		symbols = append(symbols, *benchmark)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	ctx := context.Background()
	db, err := pricedb.Load(ctx, pstore, "us", symbols, startDate, endDate)
	if err != nil {
		log.Fatalf("failed to load price db: %v", err)
	}

	opts := backtest.Options{
		Mode:         resolveMode(*mode, cfg.Backtest.DefaultMode),
		CostBps:      resolveCostBps(*costBps, cfg.Backtest.DefaultCostBps),
		WarmupStart:  *warmup,
		Benchmark:    *benchmark,
		RiskFreeRate: *riskFree,
		Trace:        *trace,
	}
	if opts.WarmupStart < 0 {
		opts.WarmupStart = backtest.WarmupIndex(root)
	}

	slog.Info("running backtest",
		"tree", *treePath,
		"mode", opts.Mode,
		"costBps", opts.CostBps,
		"warmupStart", opts.WarmupStart,
		"days", db.Len(),
	)

	driver := backtest.NewDriver(db, logger)
	res, err := driver.Run(ctx, root, registry.Resolver(), opts)
	if err != nil {
		log.Fatalf("backtest run failed: %v", err)
	}

	if *jsonOut {
		printJSON(res)
		return
	}
	printSummary(res)
}

func loadTree(path string) (*tree.FlowNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tree file: %w", err)
	}
	var root tree.FlowNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing tree JSON: %w", err)
	}
	return &root, nil
}

func splitTickers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolveMode(flagValue, configValue string) backtest.Mode {
	v := flagValue
	if v == "" {
		v = configValue
	}
	switch strings.ToUpper(v) {
	case "OC":
		return backtest.OC
	case "OO":
		return backtest.OO
	default:
		return backtest.CC
	}
}

func resolveCostBps(flagValue, configValue float64) float64 {
	if flagValue >= 0 {
		return flagValue
	}
	return configValue
}

func printSummary(res *backtest.Result) {
	m := res.Metrics
	fmt.Printf("days evaluated:  %d\n", len(res.Dates))
	fmt.Printf("final equity:    %.4f\n", lastOrZero(res.Equity))
	fmt.Printf("CAGR:            %.4f\n", m.CAGR)
	fmt.Printf("Sharpe:          %.4f\n", m.Sharpe)
	fmt.Printf("Sortino:         %.4f\n", m.Sortino)
	fmt.Printf("Calmar:          %.4f\n", m.Calmar)
	fmt.Printf("Treynor:         %.4f\n", m.Treynor)
	fmt.Printf("Beta:            %.4f\n", m.Beta)
	fmt.Printf("Volatility:      %.4f\n", m.Volatility)
	fmt.Printf("MaxDrawdown:     %.4f\n", m.MaxDrawdown)
	fmt.Printf("WinRate:         %.4f\n", m.WinRate)
	fmt.Printf("AvgTurnover:     %.4f\n", m.AvgTurnover)
	fmt.Printf("AvgHoldings:     %.4f\n", m.AvgHoldings)
	fmt.Printf("TIM:             %.4f\n", m.TIM)
	fmt.Printf("TIMAR:           %.4f\n", m.TIMAR)
	if len(res.Warnings) > 0 {
		fmt.Printf("warnings:        %d (use -json to inspect)\n", len(res.Warnings))
	}
}

func printJSON(res *backtest.Result) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("encoding result: %v", err)
	}
}

func lastOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}
