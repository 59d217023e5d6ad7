package tree

import (
	"sort"

	"jupitor/internal/alloc"
	"jupitor/internal/condition"
	"jupitor/internal/evalctx"
	"jupitor/internal/indicator"
)

// weightSpec bundles a node's weighting parameters for one branch
// ("", "then", or "else"); "" means the node's own (non-branching) slot.
type weightSpec struct {
	mode           alloc.Mode
	volWindow      int
	cappedFallback string
	cap            float64
}

func (n *FlowNode) weightSpecFor(branch string) weightSpec {
	mode := n.Weighting
	volWindow := n.VolWindow
	fallback := n.CappedFallback

	switch branch {
	case SlotThen:
		if n.WeightingThen != "" {
			mode = n.WeightingThen
		}
		if n.VolWindowThen != 0 {
			volWindow = n.VolWindowThen
		}
		if n.CappedFallbackThen != "" {
			fallback = n.CappedFallbackThen
		}
	case SlotElse:
		if n.WeightingElse != "" {
			mode = n.WeightingElse
		}
		if n.VolWindowElse != 0 {
			volWindow = n.VolWindowElse
		}
		if n.CappedFallbackElse != "" {
			fallback = n.CappedFallbackElse
		}
	}

	return weightSpec{mode: mode, volWindow: volWindow, cappedFallback: fallback, cap: n.CappedCap}
}

// readIndicator reads kind/ticker/window at the context's indicator index,
// special-casing CurrentPrice which tracks the decision index and is
// excluded from the indicator cache (see evalctx.Context.CurrentPrice).
func readIndicator(ctx *evalctx.Context, kind indicator.Kind, ticker string, window int) *float64 {
	if kind == indicator.KindCurrentPrice {
		return ctx.CurrentPrice(ticker)
	}
	return ctx.AtIndicatorIndex(kind, ticker, window)
}

// volFunc builds an alloc.VolFunc over the given context: the volatility
// proxy for a child allocation is the weighted sum over its tickers of
// stdev-of-returns at the given window. A nil result for any held ticker
// makes the whole proxy undefined, matching "if any vol is null or zero,
// assign equal shares" in §4.4.
func volFunc(ctx *evalctx.Context) alloc.VolFunc {
	return func(child alloc.Allocation, window int) (float64, bool) {
		if len(child) == 0 {
			return 0, false
		}
		total := 0.0
		for ticker, weight := range child {
			if weight == 0 {
				continue
			}
			if ticker == alloc.CashTicker {
				continue
			}
			v := ctx.AtIndicatorIndex(indicator.KindStdDevReturns, ticker, window)
			if v == nil {
				return 0, false
			}
			total += weight * *v
		}
		if total == 0 {
			return 0, false
		}
		return total, true
	}
}

// evaluateNode is the entry point: evaluate a single node into an
// Allocation for the current day, dispatching on its Kind. callStack holds
// the call-ref ids currently being resolved, for cycle detection.
func evaluateNode(ctx *evalctx.Context, node *FlowNode, callStack map[string]bool) alloc.Allocation {
	if node == nil {
		return alloc.New()
	}

	var result alloc.Allocation
	switch node.Kind {
	case KindPosition:
		result = evalPosition(node)
	case KindCall:
		result = evalCall(ctx, node, callStack)
	case KindBasic:
		result = combineSlot(ctx, node, SlotNext, "", callStack)
	case KindIndicator:
		result = evalIndicator(ctx, node, callStack)
	case KindNumbered:
		result = evalNumbered(ctx, node, callStack)
	case KindFunction:
		result = evalFunction(ctx, node, callStack)
	case KindAltExit:
		result = evalAltExit(ctx, node, callStack)
	case KindScaling:
		result = evalScaling(ctx, node, callStack)
	default:
		result = alloc.New()
	}

	if ctx.Trace != nil {
		ctx.Trace.RecordContribution(node.ID, result)
	}
	return result
}

func evalPosition(node *FlowNode) alloc.Allocation {
	seen := make(map[string]bool, len(node.Positions))
	var tickers []string
	for _, t := range node.Positions {
		if t == alloc.CashTicker {
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	if len(tickers) == 0 {
		return alloc.New()
	}
	share := 1.0 / float64(len(tickers))
	out := make(alloc.Allocation, len(tickers))
	for _, t := range tickers {
		out[t] = share
	}
	return out
}

func evalCall(ctx *evalctx.Context, node *FlowNode, callStack map[string]bool) alloc.Allocation {
	if callStack[node.CallRefID] {
		ctx.Warn(node.ID, evalctx.WarnCyclicCall, "self-referencing call")
		return alloc.New()
	}
	target, ok := ctx.Resolve(node.CallRefID)
	if !ok {
		ctx.Warn(node.ID, evalctx.WarnUnresolvedCall, "call target not found: "+node.CallRefID)
		return alloc.New()
	}
	targetNode, ok := target.(*FlowNode)
	if !ok || targetNode == nil {
		ctx.Warn(node.ID, evalctx.WarnUnresolvedCall, "call target has unexpected type")
		return alloc.New()
	}

	nextStack := make(map[string]bool, len(callStack)+1)
	for k := range callStack {
		nextStack[k] = true
	}
	nextStack[node.CallRefID] = true

	return evaluateNode(ctx, targetNode, nextStack)
}

func evalIndicator(ctx *evalctx.Context, node *FlowNode, callStack map[string]bool) alloc.Allocation {
	ok := condition.EvalLines(ctx, node.Conditions)
	slot := SlotElse
	branch := SlotElse
	if ok {
		slot = SlotThen
		branch = SlotThen
	}
	if ctx.Trace != nil {
		ctx.Trace.RecordBranch(node.ID, slot)
	}
	return combineSlot(ctx, node, slot, branch, callStack)
}

func evalNumbered(ctx *evalctx.Context, node *FlowNode, callStack map[string]bool) alloc.Allocation {
	nTrue := 0
	for _, item := range node.Numbered.Items {
		if condition.EvalLines(ctx, item.Conditions) {
			nTrue++
		}
	}

	if node.Numbered.Quantifier == QuantifierLadder {
		slot := LadderSlot(nTrue)
		if _, ok := node.Children[slot]; !ok {
			return alloc.New()
		}
		if ctx.Trace != nil {
			ctx.Trace.RecordBranch(node.ID, slot)
		}
		return combineSlot(ctx, node, slot, "", callStack)
	}

	ok := quantifierHolds(node.Numbered.Quantifier, nTrue, len(node.Numbered.Items), node.Numbered.N)
	slot := SlotElse
	branch := SlotElse
	if ok {
		slot = SlotThen
		branch = SlotThen
	}
	if ctx.Trace != nil {
		ctx.Trace.RecordBranch(node.ID, slot)
	}
	return combineSlot(ctx, node, slot, branch, callStack)
}

func quantifierHolds(q Quantifier, nTrue, total, n int) bool {
	switch q {
	case QuantifierAny:
		return nTrue >= 1
	case QuantifierAll:
		return nTrue == total
	case QuantifierNone:
		return nTrue == 0
	case QuantifierExactly:
		return nTrue == n
	case QuantifierAtLeast:
		return nTrue >= n
	case QuantifierAtMost:
		return nTrue <= n
	default:
		return false
	}
}

type scoredCandidate struct {
	alloc alloc.Allocation
	score float64
}

func evalFunction(ctx *evalctx.Context, node *FlowNode, callStack map[string]bool) alloc.Allocation {
	kids := node.Children[SlotNext]
	window := node.Function.Window
	if window <= 0 {
		window = 1
	}
	kind := condition.KindForMetric(node.Function.Metric)

	var candidates []scoredCandidate
	for _, k := range kids {
		a := evaluateNode(ctx, k, callStack)
		if len(a) == 0 {
			continue
		}
		score := 0.0
		scoredAny := false
		for ticker, weight := range a {
			if ticker == alloc.CashTicker {
				continue
			}
			v := readIndicator(ctx, kind, ticker, window)
			if v == nil {
				continue
			}
			score += *v * weight
			scoredAny = true
		}
		if !scoredAny {
			continue
		}
		candidates = append(candidates, scoredCandidate{alloc: a, score: score})
	}

	if len(candidates) == 0 {
		return alloc.New()
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	pickN := node.Function.PickN
	if pickN <= 0 {
		pickN = 1
	}
	if pickN > len(candidates) {
		pickN = len(candidates)
	}

	var selected []scoredCandidate
	if node.Function.Rank == RankBottom {
		selected = candidates[:pickN]
	} else {
		selected = candidates[len(candidates)-pickN:]
	}

	children := make([]alloc.Child, len(selected))
	allocs := make([]alloc.Allocation, len(selected))
	for i, s := range selected {
		children[i] = alloc.Child{Alloc: s.alloc}
		allocs[i] = s.alloc
	}

	spec := node.weightSpecFor("")
	shares, fallbackTicker, fallbackShare := alloc.WeightChildren(spec.mode, children, spec.volWindow, volFunc(ctx), spec.cappedFallback, spec.cap)
	merged := alloc.WeightedMerge(allocs, shares)
	if fallbackShare > 0 {
		merged[fallbackTickerOrCash(fallbackTicker)] += fallbackShare
	}
	return alloc.Normalize(merged)
}

func evalAltExit(ctx *evalctx.Context, node *FlowNode, callStack map[string]bool) alloc.Allocation {
	entry := condition.EvalLines(ctx, node.AltExit.EntryConditions)
	exit := condition.EvalLines(ctx, node.AltExit.ExitConditions)

	var prev string
	var hasPrev bool
	if ctx.Trace != nil {
		prev, hasPrev = ctx.Trace.AltExitState(node.ID)
	}

	var newState string
	switch {
	case !hasPrev:
		newState = SlotElse
		if entry {
			newState = SlotThen
		}
	case prev == SlotThen:
		newState = SlotThen
		if exit {
			newState = SlotElse
		}
	default: // prev == SlotElse
		newState = SlotElse
		if entry {
			newState = SlotThen
		}
	}

	if ctx.Trace != nil {
		ctx.Trace.SetAltExitState(node.ID, newState)
		ctx.Trace.RecordBranch(node.ID, newState)
	}

	return combineSlot(ctx, node, newState, newState, callStack)
}

func evalScaling(ctx *evalctx.Context, node *FlowNode, callStack map[string]bool) alloc.Allocation {
	kind := condition.KindForMetric(node.Scaling.ScaleMetric)
	current := readIndicator(ctx, kind, node.Scaling.ScaleTicker, node.Scaling.ScaleWindow)

	var thenWeight, elseWeight float64
	if current == nil {
		thenWeight, elseWeight = 0.5, 0.5
	} else {
		from, to := node.Scaling.ScaleFrom, node.Scaling.ScaleTo
		inverted := from > to
		lo, hi := from, to
		if inverted {
			lo, hi = to, from
		}
		c := *current
		switch {
		case c <= lo:
			if inverted {
				thenWeight, elseWeight = 0, 1
			} else {
				thenWeight, elseWeight = 1, 0
			}
		case c >= hi:
			if inverted {
				thenWeight, elseWeight = 1, 0
			} else {
				thenWeight, elseWeight = 0, 1
			}
		default:
			ratio := (c - lo) / (hi - lo)
			if inverted {
				elseWeight = 1 - ratio
			} else {
				elseWeight = ratio
			}
			thenWeight = 1 - elseWeight
		}
	}

	thenAlloc := combineSlot(ctx, node, SlotThen, SlotThen, callStack)
	elseAlloc := combineSlot(ctx, node, SlotElse, SlotElse, callStack)

	merged := alloc.Merge(thenAlloc.Scale(thenWeight), elseAlloc.Scale(elseWeight))
	return alloc.Normalize(merged)
}

// combineSlot evaluates every child in node.Children[slot], weights them
// per the node's weighting spec for branch, additively merges, and
// normalizes.
func combineSlot(ctx *evalctx.Context, node *FlowNode, slot, branch string, callStack map[string]bool) alloc.Allocation {
	kids := node.Children[slot]
	if len(kids) == 0 {
		return alloc.New()
	}

	childAllocs := make([]alloc.Allocation, len(kids))
	children := make([]alloc.Child, len(kids))
	for i, k := range kids {
		a := evaluateNode(ctx, k, callStack)
		childAllocs[i] = a
		var definedShare float64
		if k != nil {
			definedShare = k.Window
		}
		children[i] = alloc.Child{Alloc: a, DefinedShare: definedShare}
	}

	spec := node.weightSpecFor(branch)
	shares, fallbackTicker, fallbackShare := alloc.WeightChildren(spec.mode, children, spec.volWindow, volFunc(ctx), spec.cappedFallback, spec.cap)
	merged := alloc.WeightedMerge(childAllocs, shares)
	if fallbackShare > 0 {
		merged[fallbackTickerOrCash(fallbackTicker)] += fallbackShare
	}
	return alloc.Normalize(merged)
}

func fallbackTickerOrCash(t string) string {
	if t == "" {
		return alloc.CashTicker
	}
	return t
}

// Evaluate is the exported entry point used by the backtest driver: it
// evaluates root for the current day with an empty call stack.
func Evaluate(ctx *evalctx.Context, root *FlowNode) alloc.Allocation {
	return evaluateNode(ctx, root, make(map[string]bool))
}
