package indicator

import "jupitor/internal/pricedb"

// cacheKey distinguishes windowless kernels (window 0) from windowed ones,
// per (series-kind, ticker, window).
type cacheKey struct {
	kind   Kind
	ticker string
	window int
}

// Cache is the per-backtest memoization layer over the indicator kernels.
// It is never shared across backtests of different date ranges or
// combinations: a fresh Cache is created per task by the backtest driver.
// Cache is not safe for concurrent use; each task owns exactly one.
type Cache struct {
	db      *pricedb.DB
	series  map[cacheKey][]*float64
	closes  map[string][]*float64
	returns map[string][]*float64
	calls   int // number of producer invocations, exposed for cache-idempotence tests
}

// NewCache creates an indicator cache bound to a single Price DB.
func NewCache(db *pricedb.DB) *Cache {
	return &Cache{
		db:      db,
		series:  make(map[cacheKey][]*float64),
		closes:  make(map[string][]*float64),
		returns: make(map[string][]*float64),
	}
}

// Calls returns the number of times a kernel producer has actually run,
// for idempotence assertions in tests.
func (c *Cache) Calls() int { return c.calls }

// GetSeries resolves (kind, ticker, window) to a stored array, invoking
// producer exactly once and caching the result on first access.
func (c *Cache) GetSeries(kind Kind, ticker string, window int, producer func() []*float64) []*float64 {
	key := cacheKey{kind: kind, ticker: ticker, window: window}
	if s, ok := c.series[key]; ok {
		return s
	}
	c.calls++
	s := producer()
	c.series[key] = s
	return s
}

// Closes returns the memoized adjusted-close series for ticker, building it
// from the Price DB on first access.
func (c *Cache) Closes(ticker string) []*float64 {
	if s, ok := c.closes[ticker]; ok {
		return s
	}
	n := c.db.Len()
	out := make([]*float64, n)
	if series, ok := c.db.Series(ticker); ok {
		copy(out, series.AdjClose)
	}
	c.closes[ticker] = out
	return out
}

// Highs returns the raw high series for ticker (not cached beyond this
// call's direct DB read, since highs/lows are only consumed by Aroon which
// itself is cached by (kind, ticker, window)).
func (c *Cache) Highs(ticker string) []*float64 {
	if series, ok := c.db.Series(ticker); ok {
		return series.High
	}
	return nullSeries(c.db.Len())
}

// Lows returns the raw low series for ticker.
func (c *Cache) Lows(ticker string) []*float64 {
	if series, ok := c.db.Series(ticker); ok {
		return series.Low
	}
	return nullSeries(c.db.Len())
}

// Returns returns the memoized simple-return series for ticker:
// returns[i] = close[i]/close[i-1] - 1, with returns[0] = null.
func (c *Cache) Returns(ticker string) []*float64 {
	if s, ok := c.returns[ticker]; ok {
		return s
	}
	closes := c.Closes(ticker)
	n := len(closes)
	out := nullSeries(n)
	for i := 1; i < n; i++ {
		if isNil(closes[i]) || isNil(closes[i-1]) || val(closes[i-1]) == 0 {
			continue
		}
		out[i] = ptr(val(closes[i])/val(closes[i-1]) - 1)
	}
	c.returns[ticker] = out
	return out
}

// Series resolves a named indicator kind for a ticker and window, computing
// it through the appropriate kernel and memoizing the result. Kernels that
// operate on multiple inputs (Aroon, MACD, PPO) are keyed on ticker+window
// like any other; CurrentPrice is handled separately by evalctx since it is
// explicitly excluded from caching.
func (c *Cache) Series(kind Kind, ticker string, window int) []*float64 {
	switch kind {
	case KindClose:
		return c.Closes(ticker)
	case KindSMA:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return SMA(c.Closes(ticker), window) })
	case KindEMA:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return EMA(c.Closes(ticker), window) })
	case KindRSI:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return RSI(c.Closes(ticker), window) })
	case KindStdDev:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return StdDev(c.Closes(ticker), window) })
	case KindStdDevReturns:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return StdDev(c.Returns(ticker), window) })
	case KindMaxDrawdown:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return MaxDrawdown(c.Closes(ticker), window) })
	case KindDrawdown:
		return c.GetSeries(kind, ticker, 0, func() []*float64 { return Drawdown(c.Closes(ticker)) })
	case KindCumulativeReturn:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return CumulativeReturn(c.Closes(ticker), window) })
	case KindSMAOfReturns:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return SMAOfReturns(c.Returns(ticker), window) })
	case KindMomentumWeighted:
		return c.GetSeries(kind, ticker, 0, func() []*float64 { return MomentumWeighted(c.Closes(ticker)) })
	case KindMomentumUnweighted:
		return c.GetSeries(kind, ticker, 0, func() []*float64 { return MomentumUnweighted(c.Closes(ticker)) })
	case KindMomentum12moSMA:
		return c.GetSeries(kind, ticker, 0, func() []*float64 { return Momentum12moSMA(c.Closes(ticker)) })
	case KindAroonUp:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return AroonUp(c.Highs(ticker), window) })
	case KindAroonDown:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return AroonDown(c.Lows(ticker), window) })
	case KindAroonOsc:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return AroonOscillator(c.Highs(ticker), c.Lows(ticker), window) })
	case KindMACDHistogram:
		return c.GetSeries(kind, ticker, 0, func() []*float64 { return MACDHistogram(c.Closes(ticker)) })
	case KindPPOHistogram:
		return c.GetSeries(kind, ticker, 0, func() []*float64 { return PPOHistogram(c.Closes(ticker)) })
	case KindTrendClarity:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return TrendClarity(c.Closes(ticker), window) })
	case KindUltimateSmoother:
		return c.GetSeries(kind, ticker, window, func() []*float64 { return UltimateSmoother(c.Closes(ticker), window) })
	default:
		return nullSeries(c.db.Len())
	}
}

// At returns the value of kind/ticker/window at index i, or nil when out of
// range or the underlying series value is null.
func (c *Cache) At(kind Kind, ticker string, window, i int) *float64 {
	s := c.Series(kind, ticker, window)
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}
