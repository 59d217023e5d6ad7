package indicator

import "math"

// SMA computes the simple moving average of closes over window w.
// out[i] is null for i < w-1, or whenever the trailing window contains a
// null input.
func SMA(closes []*float64, w int) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	if w < 1 {
		w = 1
	}
	for i := 0; i < n; i++ {
		if !windowDefined(closes, i, w) {
			continue
		}
		sum := 0.0
		for j := i - w + 1; j <= i; j++ {
			sum += val(closes[j])
		}
		out[i] = ptr(sum / float64(w))
	}
	return out
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first w consecutive defined values and smoothed thereafter with
// alpha = 2/(w+1).
func EMA(closes []*float64, w int) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	if w < 1 {
		w = 1
	}
	alpha := 2.0 / (float64(w) + 1)

	seedIdx := -1
	for i := w - 1; i < n; i++ {
		if windowDefined(closes, i, w) {
			seedIdx = i
			break
		}
	}
	if seedIdx < 0 {
		return out
	}
	sum := 0.0
	for j := seedIdx - w + 1; j <= seedIdx; j++ {
		sum += val(closes[j])
	}
	prev := sum / float64(w)
	out[seedIdx] = ptr(prev)

	for i := seedIdx + 1; i < n; i++ {
		if isNil(closes[i]) {
			out[i] = nil
			// A null input yields a null output and leaves prev as it
			// was, so smoothing resumes from it at the next defined input.
			continue
		}
		prev = alpha*val(closes[i]) + (1-alpha)*prev
		out[i] = ptr(prev)
	}
	return out
}

// RSI computes the Wilder Relative Strength Index over window w.
func RSI(closes []*float64, w int) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	if w < 1 {
		w = 1
	}
	if n < w+1 {
		return out
	}

	// Seed index: need w changes, i.e. w+1 closes ending at seedIdx.
	seedIdx := w
	for i := 0; i <= seedIdx; i++ {
		if isNil(closes[i]) {
			return out
		}
	}

	gainSum, lossSum := 0.0, 0.0
	for i := 1; i <= seedIdx; i++ {
		change := val(closes[i]) - val(closes[i-1])
		if change > 0 {
			gainSum += change
		} else {
			lossSum += -change
		}
	}
	avgGain := gainSum / float64(w)
	avgLoss := lossSum / float64(w)
	out[seedIdx] = ptr(rsiFromAvg(avgGain, avgLoss))

	for i := seedIdx + 1; i < n; i++ {
		if isNil(closes[i]) || isNil(closes[i-1]) {
			out[i] = nil
			continue
		}
		change := val(closes[i]) - val(closes[i-1])
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(w-1) + gain) / float64(w)
		avgLoss = (avgLoss*float64(w-1) + loss) / float64(w)
		out[i] = ptr(rsiFromAvg(avgGain, avgLoss))
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// StdDev computes the sample standard deviation (divisor w-1) of values
// over the trailing window w.
func StdDev(values []*float64, w int) []*float64 {
	n := len(values)
	out := nullSeries(n)
	if w < 2 {
		w = 2
	}
	for i := 0; i < n; i++ {
		if !windowDefined(values, i, w) {
			continue
		}
		sum := 0.0
		for j := i - w + 1; j <= i; j++ {
			sum += val(values[j])
		}
		mean := sum / float64(w)
		sqSum := 0.0
		for j := i - w + 1; j <= i; j++ {
			d := val(values[j]) - mean
			sqSum += d * d
		}
		out[i] = ptr(math.Sqrt(sqSum / float64(w-1)))
	}
	return out
}

// MaxDrawdown reports, within the trailing window w, the minimum of
// close[j]/max(close[k<=j in window]) - 1. The result is always <= 0.
func MaxDrawdown(closes []*float64, w int) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	if w < 1 {
		w = 1
	}
	for i := 0; i < n; i++ {
		if !windowDefined(closes, i, w) {
			continue
		}
		peak := val(closes[i-w+1])
		worst := 0.0
		for j := i - w + 1; j <= i; j++ {
			c := val(closes[j])
			if c > peak {
				peak = c
			}
			dd := c/peak - 1
			if dd < worst {
				worst = dd
			}
		}
		out[i] = ptr(worst)
	}
	return out
}

// Drawdown is the windowless running drawdown: close[i]/max(close[0..i]) - 1.
func Drawdown(closes []*float64) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	peak := math.Inf(-1)
	peakSet := false
	for i := 0; i < n; i++ {
		if isNil(closes[i]) {
			continue
		}
		c := val(closes[i])
		if !peakSet || c > peak {
			peak = c
			peakSet = true
		}
		out[i] = ptr(c/peak - 1)
	}
	return out
}

// CumulativeReturn computes close[i]/close[i-w+1] - 1.
func CumulativeReturn(closes []*float64, w int) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	if w < 1 {
		w = 1
	}
	for i := 0; i < n; i++ {
		j := i - w + 1
		if j < 0 || isNil(closes[i]) || isNil(closes[j]) {
			continue
		}
		base := val(closes[j])
		if base == 0 {
			continue
		}
		out[i] = ptr(val(closes[i])/base - 1)
	}
	return out
}

// SMAOfReturns applies SMA to a returns series.
func SMAOfReturns(returns []*float64, w int) []*float64 {
	return SMA(returns, w)
}

const (
	momentum1mo  = 21
	momentum3mo  = 63
	momentum6mo  = 126
	momentum12mo = 252
)

func momentumLegs(closes []*float64, i int) (r1, r3, r6, r12 float64, ok bool) {
	if i < momentum12mo {
		return 0, 0, 0, 0, false
	}
	legReturn := func(lag int) (float64, bool) {
		cur, base := closes[i], closes[i-lag]
		if isNil(cur) || isNil(base) || val(base) == 0 {
			return 0, false
		}
		return val(cur)/val(base) - 1, true
	}
	var ok1, ok3, ok6, ok12 bool
	r1, ok1 = legReturn(momentum1mo)
	r3, ok3 = legReturn(momentum3mo)
	r6, ok6 = legReturn(momentum6mo)
	r12, ok12 = legReturn(momentum12mo)
	if !ok1 || !ok3 || !ok6 || !ok12 {
		return 0, 0, 0, 0, false
	}
	return r1, r3, r6, r12, true
}

// MomentumWeighted computes the windowless weighted-momentum kernel using
// 1/3/6/12-month legs with weights 12/4/2/1 over a divisor of 19.
func MomentumWeighted(closes []*float64) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	for i := 0; i < n; i++ {
		r1, r3, r6, r12, ok := momentumLegs(closes, i)
		if !ok {
			continue
		}
		out[i] = ptr((12*r1 + 4*r3 + 2*r6 + r12) / 19)
	}
	return out
}

// MomentumUnweighted computes the unweighted mean of the four momentum legs.
func MomentumUnweighted(closes []*float64) []*float64 {
	n := len(closes)
	out := nullSeries(n)
	for i := 0; i < n; i++ {
		r1, r3, r6, r12, ok := momentumLegs(closes, i)
		if !ok {
			continue
		}
		out[i] = ptr((r1 + r3 + r6 + r12) / 4)
	}
	return out
}

// Momentum12moSMA computes close[i]/SMA252(close)[i] - 1.
func Momentum12moSMA(closes []*float64) []*float64 {
	sma := SMA(closes, momentum12mo)
	n := len(closes)
	out := nullSeries(n)
	for i := 0; i < n; i++ {
		if isNil(closes[i]) || isNil(sma[i]) || val(sma[i]) == 0 {
			continue
		}
		out[i] = ptr(val(closes[i])/val(sma[i]) - 1)
	}
	return out
}

// AroonUp computes 100*(w - barsSinceHigh)/w over the trailing window w+1
// (the window includes the current bar).
func AroonUp(highs []*float64, w int) []*float64 {
	return aroon(highs, w, true)
}

// AroonDown computes the analogous measure on lows.
func AroonDown(lows []*float64, w int) []*float64 {
	return aroon(lows, w, false)
}

// AroonOscillator is AroonUp(highs) - AroonDown(lows), both over window w;
// it is null wherever either side is null.
func AroonOscillator(highs, lows []*float64, w int) []*float64 {
	up := AroonUp(highs, w)
	down := AroonDown(lows, w)
	n := len(highs)
	out := nullSeries(n)
	for i := 0; i < n; i++ {
		if isNil(up[i]) || isNil(down[i]) {
			continue
		}
		out[i] = ptr(val(up[i]) - val(down[i]))
	}
	return out
}

func aroon(values []*float64, w int, high bool) []*float64 {
	n := len(values)
	out := nullSeries(n)
	if w < 1 {
		w = 1
	}
	span := w + 1
	for i := 0; i < n; i++ {
		if !windowDefined(values, i, span) {
			continue
		}
		bestIdx := i - span + 1
		best := val(values[bestIdx])
		for j := bestIdx + 1; j <= i; j++ {
			v := val(values[j])
			if (high && v >= best) || (!high && v <= best) {
				best = v
				bestIdx = j
			}
		}
		barsSince := i - bestIdx
		out[i] = ptr(100 * float64(w-barsSince) / float64(w))
	}
	return out
}

// MACDHistogram is EMA(12) - EMA(26), minus EMA(9) of that line.
func MACDHistogram(closes []*float64) []*float64 {
	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)
	n := len(closes)
	macdLine := nullSeries(n)
	for i := 0; i < n; i++ {
		if isNil(ema12[i]) || isNil(ema26[i]) {
			continue
		}
		macdLine[i] = ptr(val(ema12[i]) - val(ema26[i]))
	}
	signal := EMA(macdLine, 9)
	out := nullSeries(n)
	for i := 0; i < n; i++ {
		if isNil(macdLine[i]) || isNil(signal[i]) {
			continue
		}
		out[i] = ptr(val(macdLine[i]) - val(signal[i]))
	}
	return out
}

// PPOHistogram is the percentage analogue of MACDHistogram:
// (EMA12-EMA26)/EMA26, minus EMA(9) of that line.
func PPOHistogram(closes []*float64) []*float64 {
	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)
	n := len(closes)
	ppoLine := nullSeries(n)
	for i := 0; i < n; i++ {
		if isNil(ema12[i]) || isNil(ema26[i]) || val(ema26[i]) == 0 {
			continue
		}
		ppoLine[i] = ptr((val(ema12[i]) - val(ema26[i])) / val(ema26[i]))
	}
	signal := EMA(ppoLine, 9)
	out := nullSeries(n)
	for i := 0; i < n; i++ {
		if isNil(ppoLine[i]) || isNil(signal[i]) {
			continue
		}
		out[i] = ptr(val(ppoLine[i]) - val(signal[i]))
	}
	return out
}

// TrendClarity computes the R^2 of an ordinary least squares regression of
// values on time over the trailing window w.
func TrendClarity(values []*float64, w int) []*float64 {
	n := len(values)
	out := nullSeries(n)
	if w < 2 {
		w = 2
	}
	for i := 0; i < n; i++ {
		if !windowDefined(values, i, w) {
			continue
		}
		// x = 0..w-1 (left to right in index order, per determinism note).
		var sumX, sumY, sumXY, sumXX, sumYY float64
		for k := 0; k < w; k++ {
			x := float64(k)
			y := val(values[i-w+1+k])
			sumX += x
			sumY += y
			sumXY += x * y
			sumXX += x * x
			sumYY += y * y
		}
		fw := float64(w)
		numerator := fw*sumXY - sumX*sumY
		denom := math.Sqrt((fw*sumXX - sumX*sumX) * (fw*sumYY - sumY*sumY))
		if denom == 0 {
			out[i] = ptr(0)
			continue
		}
		r := numerator / denom
		out[i] = ptr(r * r)
	}
	return out
}

// UltimateSmoother implements John Ehlers' low-lag smoother. The first w-1
// samples pass through unchanged; thereafter a second-order recurrence
// derived from w suppresses high-frequency noise with minimal lag.
func UltimateSmoother(values []*float64, w int) []*float64 {
	n := len(values)
	out := nullSeries(n)
	if w < 2 {
		w = 2
	}

	a1 := math.Exp(-1.414 * math.Pi / float64(w))
	c2 := 2 * a1 * math.Cos(1.414*math.Pi/float64(w))
	c3 := -a1 * a1
	c1 := (1 + c2 - c3) / 4

	for i := 0; i < n; i++ {
		if isNil(values[i]) {
			continue
		}
		if i < w-1 {
			out[i] = ptr(val(values[i]))
			continue
		}
		if i < 2 || isNil(out[i-1]) || isNil(out[i-2]) || isNil(values[i-1]) || isNil(values[i-2]) {
			out[i] = ptr(val(values[i]))
			continue
		}
		smoothed := c1*(val(values[i])+2*val(values[i-1])+val(values[i-2])) +
			c2*val(out[i-1]) + c3*val(out[i-2])
		out[i] = ptr(smoothed)
	}
	return out
}
