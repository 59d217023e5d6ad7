package backtest

import "jupitor/internal/tree"

// WarmupIndex walks root and returns the first index at which every
// windowed indicator referenced by the tree could have produced a value:
// max(window) - 1 across every condition, function, scaling, and
// weighting-mode window in the tree, clamped to 0.
func WarmupIndex(root *tree.FlowNode) int {
	w := maxWindow(root, 0)
	if w <= 1 {
		return 0
	}
	return w - 1
}

func maxWindow(n *tree.FlowNode, best int) int {
	if n == nil {
		return best
	}

	best = maxOf(best, n.VolWindow, n.VolWindowThen, n.VolWindowElse)

	for _, c := range n.Conditions {
		best = maxOf(best, c.Window, c.RightWindow)
	}
	for _, item := range n.Numbered.Items {
		for _, c := range item.Conditions {
			best = maxOf(best, c.Window, c.RightWindow)
		}
	}
	for _, c := range n.AltExit.EntryConditions {
		best = maxOf(best, c.Window, c.RightWindow)
	}
	for _, c := range n.AltExit.ExitConditions {
		best = maxOf(best, c.Window, c.RightWindow)
	}
	best = maxOf(best, n.Function.Window, n.Scaling.ScaleWindow)

	for _, kids := range n.Children {
		for _, k := range kids {
			best = maxWindow(k, best)
		}
	}
	return best
}

func maxOf(best int, vs ...int) int {
	for _, v := range vs {
		if v > best {
			best = v
		}
	}
	return best
}
