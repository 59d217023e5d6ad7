package backtest

import (
	"math"

	"jupitor/internal/alloc"
)

// TradingDaysPerYear is the annualization factor used across the metrics
// suite.
const TradingDaysPerYear = 252.0

// Metrics is the standard result summary computed over one backtest's
// equity curve.
type Metrics struct {
	CAGR        float64
	Sharpe      float64
	Sortino     float64
	Calmar      float64
	Treynor     float64
	Beta        float64
	Volatility  float64
	MaxDrawdown float64
	WinRate     float64
	AvgTurnover float64
	AvgHoldings float64
	TIM         float64 // fraction of days holding a non-cash position
	TIMAR       float64 // TIM-adjusted return: CAGR / TIM
}

func computeMetrics(res *Result, opts Options) Metrics {
	n := len(res.DailyReturns)
	if n == 0 {
		return Metrics{}
	}

	// DailyReturns[0] is always the zero-return baseline day; everything
	// downstream of mean/variance/drawdown should look at the days that
	// actually experienced a return.
	rets := res.DailyReturns[1:]
	m := Metrics{}

	if len(rets) == 0 {
		m.MaxDrawdown = maxDrawdown(res.Equity)
		return m
	}

	meanDaily := mean(rets)
	m.Volatility = stdev(rets, meanDaily) * math.Sqrt(TradingDaysPerYear)
	m.MaxDrawdown = maxDrawdown(res.Equity)

	years := float64(n-1) / TradingDaysPerYear
	finalEquity := res.Equity[len(res.Equity)-1]
	if years > 0 && finalEquity > 0 {
		m.CAGR = math.Pow(finalEquity, 1/years) - 1
	}

	annualMean := meanDaily * TradingDaysPerYear
	excess := annualMean - opts.RiskFreeRate
	if m.Volatility > 0 {
		m.Sharpe = excess / m.Volatility
	}

	downside := downsideDeviation(rets) * math.Sqrt(TradingDaysPerYear)
	if downside > 0 {
		m.Sortino = excess / downside
	}

	if m.MaxDrawdown > 0 {
		m.Calmar = m.CAGR / m.MaxDrawdown
	}

	if opts.Benchmark != "" && len(res.BenchmarkReturns) == n {
		beta, ok := computeBeta(rets, res.BenchmarkReturns[1:])
		if ok {
			m.Beta = beta
			if beta != 0 {
				m.Treynor = excess / beta
			}
		}
	}

	wins := 0
	for _, r := range rets {
		if r > 0 {
			wins++
		}
	}
	m.WinRate = float64(wins) / float64(len(rets))

	m.AvgTurnover = mean(res.Turnover[1:])
	m.AvgHoldings = avgHoldings(res.ActualAllocations)

	timDays := 0
	for _, a := range res.ActualAllocations {
		if holdsPosition(a) {
			timDays++
		}
	}
	m.TIM = float64(timDays) / float64(n)
	if m.TIM > 0 {
		m.TIMAR = m.CAGR / m.TIM
	}

	return m
}

func holdsPosition(a alloc.Allocation) bool {
	for ticker, w := range a {
		if ticker == alloc.CashTicker {
			continue
		}
		if w > alloc.Epsilon {
			return true
		}
	}
	return false
}

func avgHoldings(allocs []alloc.Allocation) float64 {
	if len(allocs) == 0 {
		return 0
	}
	total := 0
	for _, a := range allocs {
		for ticker, w := range a {
			if ticker == alloc.CashTicker || w <= alloc.Epsilon {
				continue
			}
			total++
		}
	}
	return float64(total) / float64(len(allocs))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

func stdev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		d := x - m
		total += d * d
	}
	return math.Sqrt(total / float64(len(xs)-1))
}

// downsideDeviation is the stdev of only the negative returns, against a
// zero target (the minimum acceptable return).
func downsideDeviation(xs []float64) float64 {
	total := 0.0
	n := 0
	for _, x := range xs {
		if x < 0 {
			total += x * x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(total / float64(n))
}

// maxDrawdown returns the largest peak-to-trough decline observed over the
// equity curve, as a positive fraction.
func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func computeBeta(rets, bench []float64) (float64, bool) {
	n := len(rets)
	if n != len(bench) || n < 2 {
		return 0, false
	}
	mr, mb := mean(rets), mean(bench)
	var cov, varB float64
	for i := 0; i < n; i++ {
		dr := rets[i] - mr
		db := bench[i] - mb
		cov += dr * db
		varB += db * db
	}
	if varB == 0 {
		return 0, false
	}
	return cov / varB, true
}
