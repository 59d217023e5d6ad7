// Package evalctx defines the per-day Eval Context: the immutable handle
// threaded through one day's tree evaluation, bundling the decision index,
// indicator index, decision-price mode, warning sink, trace sink, and call
// resolver.
package evalctx

import (
	"time"

	"jupitor/internal/alloc"
	"jupitor/internal/indicator"
	"jupitor/internal/pricedb"
)

// DecisionPrice selects which price marks a day's decision, and therefore
// which indicator index avoids look-ahead.
type DecisionPrice string

const (
	// DecisionClose uses the same-day close to mark decisions; indicator
	// evaluation uses the same-day index.
	DecisionClose DecisionPrice = "close"
	// DecisionOpen uses the same-day open to mark decisions; indicator
	// evaluation uses the previous day's index to avoid look-ahead.
	DecisionOpen DecisionPrice = "open"
)

// Warning records a per-day, per-node quality issue. Warnings never abort a
// backtest; they are attached to the result for inspection.
type Warning struct {
	Date    time.Time
	NodeID  string
	Kind    string
	Message string
}

const (
	WarnMissingData    = "MissingData"
	WarnUnresolvedCall = "UnresolvedCall"
	WarnCyclicCall     = "CyclicCall"
)

// Resolver looks up a call node's target by id. The returned value is an
// opaque node handle (concretely a *tree.FlowNode) -- evalctx does not
// depend on the tree package so that tree can depend on evalctx instead of
// the two forming an import cycle.
type Resolver func(callRefID string) (node any, ok bool)

// TraceSink receives evaluation events as the node evaluator walks the
// tree. Implementations are per-task (one backtest's trace never crosses
// into another task's).
type TraceSink interface {
	// RecordBranch records which slot a branching node dispatched into on
	// the current day (e.g. "then", "else", "ladder-2").
	RecordBranch(nodeID, slot string)

	// RecordConditionOutcome records a single condition line's boolean
	// result on the current day.
	RecordConditionOutcome(conditionID string, outcome bool)

	// AltExitState returns the carried-over state for an altExit node from
	// the previous day ("then", "else", or ok=false at t=0).
	AltExitState(nodeID string) (state string, ok bool)

	// SetAltExitState persists an altExit node's new state for the next day.
	SetAltExitState(nodeID, state string)

	// RecordContribution records a node's evaluated allocation for the
	// current day.
	RecordContribution(nodeID string, a alloc.Allocation)
}

// Context is the immutable per-day handle passed through evaluateNode and
// evalCondition. A new Context is built by the driver for every trading day.
type Context struct {
	DB    *pricedb.DB
	Cache *indicator.Cache

	// DecisionIndex is the row in the Price DB for today's trade decision.
	DecisionIndex int
	// IndicatorIndex is the row fed to indicator reads: equal to
	// DecisionIndex under DecisionClose, or DecisionIndex-1 under
	// DecisionOpen.
	IndicatorIndex int

	DecisionPrice DecisionPrice
	Date          time.Time

	Resolve  Resolver
	Trace    TraceSink
	warnings *[]Warning
}

// New builds a Context for one trading day.
func New(db *pricedb.DB, cache *indicator.Cache, decisionIndex int, decisionPrice DecisionPrice, resolve Resolver, trace TraceSink, warnings *[]Warning) *Context {
	indicatorIndex := decisionIndex
	if decisionPrice == DecisionOpen {
		indicatorIndex = decisionIndex - 1
	}
	date := time.Time{}
	if decisionIndex >= 0 && decisionIndex < db.Len() {
		date = db.Dates()[decisionIndex]
	}
	return &Context{
		DB:             db,
		Cache:          cache,
		DecisionIndex:  decisionIndex,
		IndicatorIndex: indicatorIndex,
		DecisionPrice:  decisionPrice,
		Date:           date,
		Resolve:        resolve,
		Trace:          trace,
		warnings:       warnings,
	}
}

// Warn appends a warning at the context's current date.
func (c *Context) Warn(nodeID, kind, message string) {
	if c.warnings == nil {
		return
	}
	*c.warnings = append(*c.warnings, Warning{
		Date:    c.Date,
		NodeID:  nodeID,
		Kind:    kind,
		Message: message,
	})
}

// CurrentPrice returns the meta "current price" reading for ticker: under
// DecisionClose it is close[DecisionIndex]; under DecisionOpen it is
// open[DecisionIndex]. This kernel is explicitly excluded from the
// indicator cache (it tracks the decision index, not the indicator index).
func (c *Context) CurrentPrice(ticker string) *float64 {
	switch c.DecisionPrice {
	case DecisionOpen:
		return c.DB.Open(ticker, c.DecisionIndex)
	default:
		return c.DB.Close(ticker, c.DecisionIndex)
	}
}

// AtIndicatorIndex reads a cached series at the context's indicator index.
func (c *Context) AtIndicatorIndex(kind indicator.Kind, ticker string, window int) *float64 {
	return c.Cache.At(kind, ticker, window, c.IndicatorIndex)
}
