// Package tree implements the FlowNode arena and the recursive node
// evaluator: dispatch across the eight node dialects (position, call,
// basic, indicator, numbered, function, altExit, scaling) producing a
// per-day Allocation, with cycle detection for call references.
package tree

import (
	"jupitor/internal/alloc"
	"jupitor/internal/condition"
)

// Kind is a FlowNode dialect tag.
type Kind string

const (
	KindPosition  Kind = "position"
	KindCall      Kind = "call"
	KindBasic     Kind = "basic"
	KindIndicator Kind = "indicator"
	KindNumbered  Kind = "numbered"
	KindFunction  Kind = "function"
	KindAltExit   Kind = "altExit"
	KindScaling   Kind = "scaling"
)

// Quantifier is the numbered node's aggregation rule over its items.
type Quantifier string

const (
	QuantifierAny     Quantifier = "any"
	QuantifierAll     Quantifier = "all"
	QuantifierNone    Quantifier = "none"
	QuantifierExactly Quantifier = "exactly"
	QuantifierAtLeast Quantifier = "atLeast"
	QuantifierAtMost  Quantifier = "atMost"
	QuantifierLadder  Quantifier = "ladder"
)

// Rank is the function node's selection direction.
type Rank string

const (
	RankTop    Rank = "Top"
	RankBottom Rank = "Bottom"
)

// Slot names the child-array keys used across node kinds.
const (
	SlotNext  = "next"
	SlotThen  = "then"
	SlotElse  = "else"
	SlotEnter = "enter"
	SlotExit  = "exit"
)

// LadderSlot returns the ladder-k slot name for k true conditions.
func LadderSlot(k int) string {
	return "ladder-" + itoa(k)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NumberedItem is one item of a numbered node: its own condition list and a
// stable id (items are enumerated for quantifier purposes, not addressed by
// id elsewhere).
type NumberedItem struct {
	ID         string
	Conditions []condition.Line
}

// NumberedPayload is the numbered node's kind-specific data.
type NumberedPayload struct {
	Items      []NumberedItem
	Quantifier Quantifier
	N          int // used by exactly/atLeast/atMost
}

// FunctionPayload is the function node's kind-specific data.
type FunctionPayload struct {
	Metric string
	Window int
	Rank   Rank
	PickN  int // selection count N >= 1 ("bottom" in the external encoding)
}

// AltExitPayload is the altExit node's kind-specific data: two independent
// condition lists.
type AltExitPayload struct {
	EntryConditions []condition.Line
	ExitConditions  []condition.Line
}

// ScalingPayload is the scaling node's kind-specific data.
type ScalingPayload struct {
	ScaleMetric string
	ScaleWindow int
	ScaleTicker string
	ScaleFrom   float64
	ScaleTo     float64
}

// FlowNode is the tagged-union tree entity. Every operation dispatches on
// Kind; payload fields irrelevant to a given Kind are simply unused rather
// than modeled as separate Go types, keeping clone/serialize trivial.
type FlowNode struct {
	ID    string
	Kind  Kind
	Title string

	Weighting     alloc.Mode
	WeightingThen alloc.Mode
	WeightingElse alloc.Mode

	// Window doubles as the Defined-weighting share for this node's
	// parent to read, per the external encoding described in §4.4.
	Window float64

	CappedFallback     string
	CappedFallbackThen string
	CappedFallbackElse string
	CappedCap          float64 // 0 means alloc.DefaultCap

	VolWindow     int
	VolWindowThen int
	VolWindowElse int

	Children map[string][]*FlowNode

	// Kind-specific payloads.
	Positions  []string         // position
	CallRefID  string           // call
	Conditions []condition.Line // indicator
	Numbered   NumberedPayload  // numbered
	Function   FunctionPayload  // function
	AltExit    AltExitPayload   // altExit
	Scaling    ScalingPayload   // scaling
}

// Clone returns a structural deep copy of the node and its entire subtree:
// child arrays are new arrays, never shared with the original. Parameter
// combinations are applied to clones, never to the template tree.
func (n *FlowNode) Clone() *FlowNode {
	if n == nil {
		return nil
	}
	out := *n

	out.Positions = append([]string(nil), n.Positions...)
	out.Conditions = cloneConditions(n.Conditions)

	out.Numbered = NumberedPayload{
		Quantifier: n.Numbered.Quantifier,
		N:          n.Numbered.N,
	}
	for _, item := range n.Numbered.Items {
		out.Numbered.Items = append(out.Numbered.Items, NumberedItem{
			ID:         item.ID,
			Conditions: cloneConditions(item.Conditions),
		})
	}

	out.AltExit = AltExitPayload{
		EntryConditions: cloneConditions(n.AltExit.EntryConditions),
		ExitConditions:  cloneConditions(n.AltExit.ExitConditions),
	}

	if n.Children != nil {
		out.Children = make(map[string][]*FlowNode, len(n.Children))
		for slot, kids := range n.Children {
			cloned := make([]*FlowNode, len(kids))
			for i, k := range kids {
				cloned[i] = k.Clone()
			}
			out.Children[slot] = cloned
		}
	}

	return &out
}

func cloneConditions(in []condition.Line) []condition.Line {
	return append([]condition.Line(nil), in...)
}
