// Package sweep implements the Parameter Combinator: enumerating the
// Cartesian product of parameter ranges and ticker-list substitutions into
// concrete, independently-evaluable trees.
package sweep

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"jupitor/internal/condition"
	"jupitor/internal/tree"
)

// RangeType distinguishes the two kinds of sweepable field the source
// material enumerates.
type RangeType string

const (
	Period    RangeType = "period"
	Threshold RangeType = "threshold"
)

// ParameterRange designates one mutable field in the template tree by a
// dotted path scoped to NodeID, plus its discretization.
type ParameterRange struct {
	ID   string
	Type RangeType

	NodeID      string
	ConditionID string // optional: addresses a ConditionLine within NodeID

	// Path names the field within the node (or, if ConditionID is set,
	// within that condition). Recognized node-level paths: "definedWeight"
	// (the node's Defined-weighting share), "volWindow", "volWindowThen",
	// "volWindowElse", "cappedCap", "function.window", "function.pickN",
	// "scaling.scaleWindow", "scaling.scaleFrom", "scaling.scaleTo",
	// "numbered.n". Recognized condition-level fields (the final path
	// segment): "window", "threshold", "rightWindow", "forDays". A path of
	// the form "conditions.<condId>.<field>" is equivalent to setting
	// ConditionID and Path to "<field>" directly.
	Path string

	CurrentValue float64
	Enabled      bool
	Min, Max     float64
	Step         float64
}

// Combination is one concrete point in the sweep's Cartesian product: a
// Branch ID plus the resolved value for every enabled range and, when the
// template uses ticker-list substitution, a concrete ticker per list id.
type Combination struct {
	ID               string
	Values           map[string]float64
	TickerAssignment map[string]string
}

// Enumerate produces the Cartesian product of every enabled range's
// discretized values, crossed with every ticker list's candidates. A
// disabled or zero-step range contributes no axis and no value, so the
// template's own field is left as it is. An empty
// combination (no enabled ranges, no ticker lists) still yields exactly one
// Combination -- applying it to the template is the identity.
func Enumerate(ranges []ParameterRange, tickerLists map[string][]string) []Combination {
	type axis struct {
		kind   string // "range" or "ticker"
		id     string
		values []float64
		tokens []string
	}

	var axes []axis
	for _, r := range ranges {
		if !r.Enabled || r.Step <= 0 {
			continue
		}
		axes = append(axes, axis{kind: "range", id: r.ID, values: discretize(r)})
	}
	listIDs := make([]string, 0, len(tickerLists))
	for id := range tickerLists {
		listIDs = append(listIDs, id)
	}
	sort.Strings(listIDs)
	for _, id := range listIDs {
		axes = append(axes, axis{kind: "ticker", id: id, tokens: tickerLists[id]})
	}

	type point struct {
		values map[string]float64
		assign map[string]string
	}
	points := []point{{values: map[string]float64{}, assign: map[string]string{}}}

	for _, ax := range axes {
		var next []point
		if ax.kind == "range" {
			for _, p := range points {
				for _, v := range ax.values {
					next = append(next, point{values: mergeFloat(p.values, ax.id, v), assign: p.assign})
				}
			}
		} else {
			for _, p := range points {
				for _, tkr := range ax.tokens {
					next = append(next, point{values: p.values, assign: mergeString(p.assign, ax.id, tkr)})
				}
			}
		}
		points = next
	}

	out := make([]Combination, len(points))
	for i, p := range points {
		out[i] = Combination{ID: uuid.NewString(), Values: p.values, TickerAssignment: p.assign}
	}
	return out
}

func mergeFloat(base map[string]float64, k string, v float64) map[string]float64 {
	out := make(map[string]float64, len(base)+1)
	for bk, bv := range base {
		out[bk] = bv
	}
	out[k] = v
	return out
}

func mergeString(base map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for bk, bv := range base {
		out[bk] = bv
	}
	out[k] = v
	return out
}

// discretize walks [r.Min, r.Max] by r.Step, inclusive of Max only when
// reachable by an integer number of steps from Min.
func discretize(r ParameterRange) []float64 {
	if r.Step <= 0 {
		return []float64{r.CurrentValue}
	}
	var out []float64
	const epsilon = 1e-9
	for v := r.Min; v <= r.Max+epsilon; v += r.Step {
		out = append(out, v)
	}
	if len(out) == 0 {
		out = append(out, r.CurrentValue)
	}
	return out
}

// ApplyBranchToTree deep-clones template and applies combo's resolved
// values and ticker assignments to the clone, per the dotted-path rules in
// ParameterRange.Path. Unresolvable node/condition ids are tolerated and
// skipped rather than erroring, since sweep definitions often outlive minor
// template edits.
func ApplyBranchToTree(template *tree.FlowNode, combo Combination, ranges []ParameterRange) *tree.FlowNode {
	clone := template.Clone()
	nodes := indexNodesByID(clone)

	byID := make(map[string]ParameterRange, len(ranges))
	for _, r := range ranges {
		byID[r.ID] = r
	}

	for rangeID, value := range combo.Values {
		r, ok := byID[rangeID]
		if !ok {
			continue
		}
		node, ok := nodes[r.NodeID]
		if !ok {
			continue
		}
		applyValue(node, r, value)
	}

	if len(combo.TickerAssignment) > 0 {
		applyTickerAssignment(clone, combo.TickerAssignment)
	}

	return clone
}

func indexNodesByID(n *tree.FlowNode) map[string]*tree.FlowNode {
	out := make(map[string]*tree.FlowNode)
	var walk func(*tree.FlowNode)
	walk = func(n *tree.FlowNode) {
		if n == nil {
			return
		}
		out[n.ID] = n
		for _, kids := range n.Children {
			for _, k := range kids {
				walk(k)
			}
		}
	}
	walk(n)
	return out
}

func applyValue(node *tree.FlowNode, r ParameterRange, value float64) {
	condID, field := splitConditionPath(r)
	if condID != "" {
		line := findCondition(node, condID)
		if line != nil {
			setLineField(line, field, value)
		}
		return
	}
	setNodeField(node, field, value)
}

// splitConditionPath resolves ConditionID/Path into (conditionID, field),
// supporting both the explicit-ConditionID form and the inlined
// "conditions.<id>.<field>" path form.
func splitConditionPath(r ParameterRange) (condID, field string) {
	if r.ConditionID != "" {
		return r.ConditionID, lastSegment(r.Path)
	}
	if strings.HasPrefix(r.Path, "conditions.") {
		parts := strings.SplitN(r.Path, ".", 3)
		if len(parts) == 3 {
			return parts[1], parts[2]
		}
	}
	return "", r.Path
}

func lastSegment(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// findCondition locates a ConditionLine by id anywhere a node can carry one
// (its own Conditions, each Numbered item's Conditions, or AltExit's entry
// and exit lists), tolerating slight id-prefix variants.
func findCondition(node *tree.FlowNode, condID string) *condition.Line {
	if l := findInLines(node.Conditions, condID); l != nil {
		return l
	}
	for i := range node.Numbered.Items {
		if l := findInLines(node.Numbered.Items[i].Conditions, condID); l != nil {
			return l
		}
	}
	if l := findInLines(node.AltExit.EntryConditions, condID); l != nil {
		return l
	}
	if l := findInLines(node.AltExit.ExitConditions, condID); l != nil {
		return l
	}
	return nil
}

func findInLines(lines []condition.Line, condID string) *condition.Line {
	for i := range lines {
		id := lines[i].ID
		if id == condID || strings.HasPrefix(id, condID) || strings.HasPrefix(condID, id) {
			return &lines[i]
		}
	}
	return nil
}

func setLineField(line *condition.Line, field string, value float64) {
	switch field {
	case "window":
		line.Window = intOf(value)
	case "threshold":
		line.Threshold = value
	case "rightWindow":
		line.RightWindow = intOf(value)
	case "forDays":
		line.ForDays = intOf(value)
	}
}

func setNodeField(node *tree.FlowNode, path string, value float64) {
	switch path {
	case "definedWeight":
		node.Window = value
	case "volWindow":
		node.VolWindow = intOf(value)
	case "volWindowThen":
		node.VolWindowThen = intOf(value)
	case "volWindowElse":
		node.VolWindowElse = intOf(value)
	case "cappedCap":
		node.CappedCap = value
	case "function.window":
		node.Function.Window = intOf(value)
	case "function.pickN":
		node.Function.PickN = intOf(value)
	case "scaling.scaleWindow":
		node.Scaling.ScaleWindow = intOf(value)
	case "scaling.scaleFrom":
		node.Scaling.ScaleFrom = value
	case "scaling.scaleTo":
		node.Scaling.ScaleTo = value
	case "numbered.n":
		node.Numbered.N = intOf(value)
	}
}

// intOf coerces a swept value to a safe, positive-biased int per the
// InvalidParameter error-handling rule: max(1, floor(x)).
func intOf(v float64) int {
	i := int(v)
	if i < 1 {
		return 1
	}
	return i
}

func applyTickerAssignment(n *tree.FlowNode, assign map[string]string) {
	if n == nil {
		return
	}
	for i := range n.Positions {
		if t, ok := assign[n.Positions[i]]; ok {
			n.Positions[i] = t
		}
	}
	substituteLines(n.Conditions, assign)
	for i := range n.Numbered.Items {
		substituteLines(n.Numbered.Items[i].Conditions, assign)
	}
	substituteLines(n.AltExit.EntryConditions, assign)
	substituteLines(n.AltExit.ExitConditions, assign)
	if t, ok := assign[n.Scaling.ScaleTicker]; ok {
		n.Scaling.ScaleTicker = t
	}

	for _, kids := range n.Children {
		for _, k := range kids {
			applyTickerAssignment(k, assign)
		}
	}
}

func substituteLines(lines []condition.Line, assign map[string]string) {
	for i := range lines {
		if t, ok := assign[lines[i].Ticker]; ok {
			lines[i].Ticker = t
		}
		if t, ok := assign[lines[i].RightTicker]; ok {
			lines[i].RightTicker = t
		}
	}
}

// BranchLabel renders a human-readable label for a combination, primarily
// for progress and log output (never for correctness).
func BranchLabel(c Combination) string {
	var b strings.Builder
	b.WriteString(c.ID)
	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(strconv.FormatFloat(c.Values[k], 'g', -1, 64))
	}
	return b.String()
}
