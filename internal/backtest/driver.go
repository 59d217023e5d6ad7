// Package backtest implements the day-by-day driver: it walks a Price DB
// under a root FlowNode, applies transaction costs on turnover, and reduces
// the resulting equity curve into the standard metrics suite.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jupitor/internal/alloc"
	"jupitor/internal/evalctx"
	"jupitor/internal/indicator"
	"jupitor/internal/pricedb"
	"jupitor/internal/trace"
	"jupitor/internal/tree"
)

// Mode names the decision-price / indicator-index policy for one backtest.
type Mode string

const (
	// CC: decide and execute at the same day's close; indicators read
	// through the same day's index.
	CC Mode = "CC"
	// OC: decide and execute within the same bar, entering at the open and
	// exiting at the close; indicators read the previous day's index (the
	// same look-ahead policy as OO, since the decision must be made before
	// the bar's close is known). This resolves the open question left by
	// the source material on the OC mapping (see DESIGN.md).
	OC Mode = "OC"
	// OO: decide at the previous close, enter and exit at the open;
	// indicators read the previous day's index.
	OO Mode = "OO"
)

func (m Mode) decisionPrice() evalctx.DecisionPrice {
	if m == CC {
		return evalctx.DecisionClose
	}
	return evalctx.DecisionOpen
}

// Options configures one backtest run.
type Options struct {
	Mode Mode

	// CostBps is the flat transaction cost per unit turnover, in basis
	// points (1 bps = 0.0001).
	CostBps float64

	// WarmupStart is the first decision index to evaluate; earlier rows are
	// skipped entirely (no equity point is produced for them). Callers
	// typically derive this from WarmupIndex(root).
	WarmupStart int

	// Benchmark is an optional ticker present in the Price DB used to
	// compute Beta and Treynor. When empty, Beta and Treynor are reported
	// as zero (see DESIGN.md "Benchmark series for Beta/Treynor").
	Benchmark string

	// RiskFreeRate is the annualized risk-free rate subtracted from mean
	// annualized return in Sharpe/Sortino/Treynor.
	RiskFreeRate float64

	// Trace enables full branch/condition/contribution history collection;
	// when false the collector still carries altExit state but skips
	// recording history, matching trace.NewCollector's contract.
	Trace bool
}

// Result is one backtest's complete output: equity curve, per-day
// allocations, warnings, and the reduced metrics suite.
type Result struct {
	Dates             []time.Time
	Equity            []float64
	DailyReturns      []float64
	TargetAllocations []alloc.Allocation
	ActualAllocations []alloc.Allocation
	Turnover          []float64
	// BenchmarkReturns holds the benchmark ticker's own day-over-day
	// returns aligned 1:1 with DailyReturns, populated only when
	// Options.Benchmark is set.
	BenchmarkReturns []float64
	Warnings         []evalctx.Warning
	Trace            *trace.Collector `json:"-"`
	Metrics          Metrics
}

// Driver runs backtests over a fixed Price DB and Indicator Cache.
type Driver struct {
	db  *pricedb.DB
	log *slog.Logger
}

// NewDriver creates a Driver bound to a Price DB. The DB is read-only and
// may be shared by every task a Worker Pool dispatches.
func NewDriver(db *pricedb.DB, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{db: db, log: log}
}

// Run evaluates root day-by-day from opts.WarmupStart to the end of the
// Price DB, producing a Result. resolver resolves `call` node references
// within root's own tree (or a registry root belongs to).
func (d *Driver) Run(ctx context.Context, root *tree.FlowNode, resolver evalctx.Resolver, opts Options) (*Result, error) {
	n := d.db.Len()
	if opts.WarmupStart < 0 || opts.WarmupStart >= n {
		return nil, fmt.Errorf("backtest: warmup start %d out of range for %d days", opts.WarmupStart, n)
	}

	cache := indicator.NewCache(d.db)
	coll := trace.NewCollector(opts.Trace)

	dates := d.db.Dates()
	span := n - opts.WarmupStart

	res := &Result{
		Dates:             make([]time.Time, 0, span),
		Equity:            make([]float64, 0, span),
		DailyReturns:      make([]float64, 0, span),
		TargetAllocations: make([]alloc.Allocation, 0, span),
		ActualAllocations: make([]alloc.Allocation, 0, span),
		Turnover:          make([]float64, 0, span),
		Trace:             coll,
	}

	var warnings []evalctx.Warning
	equity := 1.0
	var prevActual alloc.Allocation

	for i := opts.WarmupStart; i < n; i++ {
		select {
		case <-ctx.Done():
			d.log.Warn("backtest run cancelled", "at_index", i)
			return res, nil
		default:
		}

		coll.SetDay(i)
		ectx := evalctx.New(d.db, cache, i, opts.Mode.decisionPrice(), resolver, coll, &warnings)

		target := alloc.Normalize(tree.Evaluate(ectx, root))

		var netReturn, turnover, benchReturn float64
		if i == opts.WarmupStart {
			prevActual = target
		} else {
			gross := dayReturn(d.db, opts.Mode, target, i)
			turnover = alloc.TurnoverFraction(prevActual, target)
			netReturn = gross - opts.CostBps/10000*turnover
			equity *= 1 + netReturn
			prevActual = target
			if opts.Benchmark != "" {
				benchReturn = dayReturn(d.db, opts.Mode, alloc.Single(opts.Benchmark), i)
			}
		}

		res.Dates = append(res.Dates, dates[i])
		res.Equity = append(res.Equity, equity)
		res.DailyReturns = append(res.DailyReturns, netReturn)
		res.TargetAllocations = append(res.TargetAllocations, target)
		res.ActualAllocations = append(res.ActualAllocations, target.Clone())
		res.Turnover = append(res.Turnover, turnover)
		if opts.Benchmark != "" {
			res.BenchmarkReturns = append(res.BenchmarkReturns, benchReturn)
		}
	}

	res.Warnings = warnings
	res.Metrics = computeMetrics(res, opts)
	return res, nil
}

// dayReturn computes the weighted gross return for day i under allocation
// target, per the entry/exit price pair for mode. Tickers with a missing
// price at either bar contribute zero to the sum; their weight remains
// implicitly priced as cash for that day (see spec §4.5 step 3).
func dayReturn(db *pricedb.DB, mode Mode, target alloc.Allocation, i int) float64 {
	total := 0.0
	for ticker, weight := range target {
		if weight == 0 || ticker == alloc.CashTicker {
			continue
		}
		var entry, exit *float64
		switch mode {
		case CC:
			entry, exit = db.Close(ticker, i-1), db.Close(ticker, i)
		case OC:
			entry, exit = db.Open(ticker, i), db.Close(ticker, i)
		case OO:
			entry, exit = db.Open(ticker, i-1), db.Open(ticker, i)
		default:
			entry, exit = db.Close(ticker, i-1), db.Close(ticker, i)
		}
		if entry == nil || exit == nil || *entry == 0 {
			continue
		}
		entryPrice, exitPrice := *entry, *exit
		total += weight * (exitPrice/entryPrice - 1)
	}
	return total
}
