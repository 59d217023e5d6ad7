// Package indicator implements the rolling-window indicator kernels and
// their per-backtest memoization cache. Every kernel is a pure function of
// an input series and a window length; all arithmetic on a null input
// produces a null output rather than propagating NaN.
package indicator

// Kind names a computable series kind for cache-key purposes.
type Kind string

const (
	KindClose              Kind = "close"
	KindSMA                Kind = "sma"
	KindEMA                Kind = "ema"
	KindRSI                Kind = "rsi"
	KindStdDev             Kind = "stddev"
	KindStdDevReturns      Kind = "stddev_returns"
	KindMaxDrawdown        Kind = "max_drawdown"
	KindDrawdown           Kind = "drawdown"
	KindCumulativeReturn   Kind = "cumulative_return"
	KindSMAOfReturns       Kind = "sma_of_returns"
	KindMomentumWeighted   Kind = "momentum_weighted"
	KindMomentumUnweighted Kind = "momentum_unweighted"
	KindMomentum12moSMA    Kind = "momentum_12mo_sma"
	KindAroonUp            Kind = "aroon_up"
	KindAroonDown          Kind = "aroon_down"
	KindAroonOsc           Kind = "aroon_oscillator"
	KindMACDHistogram      Kind = "macd_histogram"
	KindPPOHistogram       Kind = "ppo_histogram"
	KindTrendClarity       Kind = "trend_clarity"
	KindUltimateSmoother   Kind = "ultimate_smoother"
	KindCurrentPrice       Kind = "current_price" // meta, never cached
)

func isNil(v *float64) bool { return v == nil }

func val(v *float64) float64 { return *v }

func ptr(f float64) *float64 {
	v := f
	return &v
}

// nullSeries returns a series of n null values.
func nullSeries(n int) []*float64 {
	return make([]*float64, n)
}

// windowDefined reports whether closes[i-w+1 .. i] are all non-null.
func windowDefined(closes []*float64, i, w int) bool {
	if i-w+1 < 0 {
		return false
	}
	for j := i - w + 1; j <= i; j++ {
		if isNil(closes[j]) {
			return false
		}
	}
	return true
}
