package alloc

// Mode is a child-weighting regime used when combining a node's children
// into its own allocation.
type Mode string

const (
	Equal   Mode = "equal"
	Defined Mode = "defined"
	Inverse Mode = "inverse" // inverse volatility: share ∝ 1/vol
	Pro     Mode = "pro"     // pro volatility: share ∝ vol
	Capped  Mode = "capped"
)

// DefaultCap is the per-child maximum share used by the capped weighting
// mode. The source material left the exact cap value and fallback algorithm
// underspecified (see DESIGN.md "Open Questions"); 0.20 is this
// implementation's explicit, documented choice.
const DefaultCap = 0.20

// VolFunc computes a volatility proxy for a child's allocation over a
// trailing window of the given length. ok is false when the proxy is
// undefined (e.g. insufficient history), in which case the caller falls
// back to an equal share for that child.
type VolFunc func(child Allocation, window int) (vol float64, ok bool)

// Child bundles a child's evaluated allocation with its user-defined share,
// used by the Defined and Capped weighting modes.
type Child struct {
	Alloc        Allocation
	DefinedShare float64
}

// WeightChildren computes per-child shares summing to at most 1 under the
// given mode. For Capped mode, any excess left over after redistribution is
// returned as a synthetic fallback share assigned to cappedFallback (or to
// CashTicker if cappedFallback is empty); fallbackShare is 0 when nothing
// spills over.
func WeightChildren(mode Mode, children []Child, volWindow int, vol VolFunc, cappedFallback string, capValue float64) (shares []float64, fallbackTicker string, fallbackShare float64) {
	n := len(children)
	if n == 0 {
		return nil, "", 0
	}

	switch mode {
	case Defined:
		shares = definedShares(children)
	case Inverse:
		shares = volShares(children, volWindow, vol, true)
	case Pro:
		shares = volShares(children, volWindow, vol, false)
	case Capped:
		base := definedShares(children)
		if capValue <= 0 {
			capValue = DefaultCap
		}
		shares, fallbackShare = capShares(base, capValue)
		fallbackTicker = cappedFallback
		if fallbackTicker == "" {
			fallbackTicker = CashTicker
		}
		return shares, fallbackTicker, fallbackShare
	case Equal:
		fallthrough
	default:
		shares = equalShares(n)
	}

	return shares, "", 0
}

func equalShares(n int) []float64 {
	shares := make([]float64, n)
	share := 1.0 / float64(n)
	for i := range shares {
		shares[i] = share
	}
	return shares
}

// definedShares reads each child's user-defined weight (stored in the
// node's `window` field by the external tree encoding) and normalizes by
// their sum. Falls back to equal shares when the sum is zero or absent.
func definedShares(children []Child) []float64 {
	n := len(children)
	total := 0.0
	for _, c := range children {
		total += c.DefinedShare
	}
	if total <= 0 {
		return equalShares(n)
	}
	shares := make([]float64, n)
	for i, c := range children {
		shares[i] = c.DefinedShare / total
	}
	return shares
}

// volShares computes shares proportional to (inverse=true: 1/vol, else:
// vol). Children with a null or zero volatility proxy fall back to an
// equal share among themselves, and the remaining weight is distributed
// proportionally among the children with a valid proxy.
func volShares(children []Child, window int, vol VolFunc, inverse bool) []float64 {
	n := len(children)
	shares := make([]float64, n)
	proxies := make([]float64, n)
	valid := make([]bool, n)

	nValid := 0
	for i, c := range children {
		v, ok := vol(c.Alloc, window)
		if !ok || v == 0 {
			valid[i] = false
			continue
		}
		if inverse {
			proxies[i] = 1 / v
		} else {
			proxies[i] = v
		}
		valid[i] = true
		nValid++
	}

	nInvalid := n - nValid
	if nInvalid == n {
		// No child has a usable proxy: equal split across all.
		return equalShares(n)
	}

	// Children lacking a proxy split an equal share of the whole; the
	// remainder is distributed proportionally among valid children.
	invalidMass := float64(nInvalid) / float64(n)
	validMass := 1 - invalidMass

	if nInvalid > 0 {
		perInvalid := invalidMass / float64(nInvalid)
		for i := range children {
			if !valid[i] {
				shares[i] = perInvalid
			}
		}
	}

	if nValid > 0 {
		proxySum := 0.0
		for i := range children {
			if valid[i] {
				proxySum += proxies[i]
			}
		}
		if proxySum > 0 {
			for i := range children {
				if valid[i] {
					shares[i] = validMass * proxies[i] / proxySum
				}
			}
		} else {
			perValid := validMass / float64(nValid)
			for i := range children {
				if valid[i] {
					shares[i] = perValid
				}
			}
		}
	}

	return shares
}

// capShares caps each target share at cap and redistributes the excess to
// uncapped children in repeated rounds until either no child remains
// uncapped or the excess converges to (near) zero. Any excess left after
// every child is capped is returned as fallbackShare, to be assigned to a
// synthetic fallback ticker by the caller.
func capShares(target []float64, capValue float64) (shares []float64, fallbackShare float64) {
	n := len(target)
	shares = make([]float64, n)
	copy(shares, target)
	capped := make([]bool, n)

	for round := 0; round < n+1; round++ {
		excess := 0.0
		for i, s := range shares {
			if !capped[i] && s > capValue {
				excess += s - capValue
				shares[i] = capValue
				capped[i] = true
			}
		}
		if excess <= Epsilon {
			break
		}

		// Redistribute proportionally among still-uncapped children.
		uncappedSum := 0.0
		for i, s := range shares {
			if !capped[i] {
				uncappedSum += s
			}
		}
		if uncappedSum <= 0 {
			fallbackShare += excess
			break
		}
		for i := range shares {
			if !capped[i] {
				shares[i] += excess * shares[i] / uncappedSum
			}
		}
	}

	// A final pass in case redistribution itself pushed a child over cap.
	residual := 0.0
	for i, s := range shares {
		if s > capValue {
			residual += s - capValue
			shares[i] = capValue
		}
	}
	fallbackShare += residual

	return shares, fallbackShare
}
