package tree

import (
	"testing"
	"time"

	"jupitor/internal/alloc"
	"jupitor/internal/condition"
	"jupitor/internal/evalctx"
	"jupitor/internal/indicator"
	"jupitor/internal/pricedb"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func buildDB(t *testing.T, tickers map[string][]float64, n int) *pricedb.DB {
	t.Helper()
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = day(2024, 1, 1+i)
	}
	b, err := pricedb.NewBuilder(dates)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	for ticker, closes := range tickers {
		for i, c := range closes {
			b.AddBar(pricedb.Bar{Ticker: ticker, Date: dates[i], Close: c, AdjClose: c, Open: c})
		}
	}
	db, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return db
}

type memTrace struct {
	branches     map[string]string
	altExit      map[string]string
	contribs     map[string]alloc.Allocation
	conditionLog map[string]bool
}

func newMemTrace() *memTrace {
	return &memTrace{
		branches:     map[string]string{},
		altExit:      map[string]string{},
		contribs:     map[string]alloc.Allocation{},
		conditionLog: map[string]bool{},
	}
}

func (m *memTrace) RecordBranch(nodeID, slot string)      { m.branches[nodeID] = slot }
func (m *memTrace) RecordConditionOutcome(id string, ok bool) { m.conditionLog[id] = ok }
func (m *memTrace) AltExitState(nodeID string) (string, bool) {
	s, ok := m.altExit[nodeID]
	return s, ok
}
func (m *memTrace) SetAltExitState(nodeID, state string) { m.altExit[nodeID] = state }
func (m *memTrace) RecordContribution(nodeID string, a alloc.Allocation) {
	m.contribs[nodeID] = a
}

func ctxAt(db *pricedb.DB, cache *indicator.Cache, i int, resolve evalctx.Resolver, trace evalctx.TraceSink) *evalctx.Context {
	return evalctx.New(db, cache, i, evalctx.DecisionClose, resolve, trace, &[]evalctx.Warning{})
}

func TestEvalPositionDedupesAndSplitsEqually(t *testing.T) {
	node := &FlowNode{ID: "p1", Kind: KindPosition, Positions: []string{"AAPL", "MSFT", "AAPL", alloc.CashTicker}}
	got := evalPosition(node)
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct tickers, got %d (%v)", len(got), got)
	}
	if got["AAPL"] != 0.5 || got["MSFT"] != 0.5 {
		t.Errorf("expected equal 50/50 split, got %v", got)
	}
}

func TestEvalPositionAllCashIsEmpty(t *testing.T) {
	node := &FlowNode{ID: "p1", Kind: KindPosition, Positions: []string{alloc.CashTicker}}
	got := evalPosition(node)
	if len(got) != 0 {
		t.Errorf("expected empty allocation for all-cash position, got %v", got)
	}
}

func TestEvalCallDetectsSelfCycle(t *testing.T) {
	db := buildDB(t, map[string][]float64{"AAPL": {100, 101}}, 2)
	cache := indicator.NewCache(db)

	self := &FlowNode{ID: "loop", Kind: KindCall, CallRefID: "loop"}
	reg := NewRegistry()
	reg.Register(self)

	trace := newMemTrace()
	ctx := ctxAt(db, cache, 0, reg.Resolver(), trace)

	got := Evaluate(ctx, self)
	if len(got) != 0 {
		t.Errorf("expected empty allocation on self-referencing call, got %v", got)
	}
}

func TestEvalCallResolvesTarget(t *testing.T) {
	db := buildDB(t, map[string][]float64{"AAPL": {100, 101}}, 2)
	cache := indicator.NewCache(db)

	target := &FlowNode{ID: "target", Kind: KindPosition, Positions: []string{"AAPL"}}
	caller := &FlowNode{ID: "caller", Kind: KindCall, CallRefID: "target"}

	reg := NewRegistry()
	reg.Register(target)
	reg.Register(caller)

	ctx := ctxAt(db, cache, 0, reg.Resolver(), newMemTrace())
	got := Evaluate(ctx, caller)
	if got["AAPL"] != 1.0 {
		t.Errorf("expected full AAPL allocation via call, got %v", got)
	}
}

func TestEvalIndicatorDispatchesThenElse(t *testing.T) {
	closes := []float64{100, 100, 100, 200}
	db := buildDB(t, map[string][]float64{"AAPL": closes}, 4)
	cache := indicator.NewCache(db)

	thenNode := &FlowNode{ID: "then-leaf", Kind: KindPosition, Positions: []string{"AAPL"}}
	elseNode := &FlowNode{ID: "else-leaf", Kind: KindPosition, Positions: []string{alloc.CashTicker}}
	root := &FlowNode{
		ID:   "ind",
		Kind: KindIndicator,
		Conditions: []condition.Line{
			{ID: "c1", Metric: "CurrentPrice", Ticker: "AAPL", Comparator: condition.LessThan, Threshold: 150},
		},
		Children: map[string][]*FlowNode{
			SlotThen: {thenNode},
			SlotElse: {elseNode},
		},
	}

	trace := newMemTrace()
	ctx := ctxAt(db, cache, 0, nil, trace)
	got := Evaluate(ctx, root)
	if got["AAPL"] != 1.0 {
		t.Errorf("expected full AAPL allocation on the then branch, got %v", got)
	}
	if trace.branches["ind"] != SlotThen {
		t.Errorf("expected branch recorded as then, got %q", trace.branches["ind"])
	}

	ctxHigh := ctxAt(db, cache, 3, nil, trace)
	gotHigh := Evaluate(ctxHigh, root)
	if len(gotHigh) != 0 {
		t.Errorf("expected empty (cash) allocation on the else branch, got %v", gotHigh)
	}
}

func TestEvalNumberedLadderDispatchesByTrueCount(t *testing.T) {
	closes := []float64{100}
	db := buildDB(t, map[string][]float64{"AAPL": closes}, 1)
	cache := indicator.NewCache(db)

	ladder0 := &FlowNode{ID: "l0", Kind: KindPosition, Positions: []string{alloc.CashTicker}}
	ladder1 := &FlowNode{ID: "l1", Kind: KindPosition, Positions: []string{"AAPL"}}

	root := &FlowNode{
		ID:   "numbered",
		Kind: KindNumbered,
		Numbered: NumberedPayload{
			Quantifier: QuantifierLadder,
			Items: []NumberedItem{
				{ID: "i1", Conditions: []condition.Line{
					{ID: "c1", Metric: "CurrentPrice", Ticker: "AAPL", Comparator: condition.LessThan, Threshold: 200},
				}},
			},
		},
		Children: map[string][]*FlowNode{
			LadderSlot(0): {ladder0},
			LadderSlot(1): {ladder1},
		},
	}

	ctx := ctxAt(db, cache, 0, nil, newMemTrace())
	got := Evaluate(ctx, root)
	if got["AAPL"] != 1.0 {
		t.Errorf("expected ladder-1 dispatch (one true condition), got %v", got)
	}
}

func TestEvalAltExitCarriesStateAcrossDays(t *testing.T) {
	closes := []float64{100, 200, 120, 50}
	db := buildDB(t, map[string][]float64{"AAPL": closes}, 4)
	cache := indicator.NewCache(db)

	enter := &FlowNode{ID: "enter-leaf", Kind: KindPosition, Positions: []string{"AAPL"}}
	exit := &FlowNode{ID: "exit-leaf", Kind: KindPosition, Positions: []string{alloc.CashTicker}}
	root := &FlowNode{
		ID:   "alt",
		Kind: KindAltExit,
		AltExit: AltExitPayload{
			EntryConditions: []condition.Line{
				{ID: "entry", Metric: "CurrentPrice", Ticker: "AAPL", Comparator: condition.GreaterThan, Threshold: 150},
			},
			ExitConditions: []condition.Line{
				{ID: "exit", Metric: "CurrentPrice", Ticker: "AAPL", Comparator: condition.LessThan, Threshold: 80},
			},
		},
		Children: map[string][]*FlowNode{
			SlotThen: {enter},
			SlotElse: {exit},
		},
	}

	trace := newMemTrace()

	// Day 0: price 100, entry (>150) false -> stays/starts else.
	got0 := Evaluate(ctxAt(db, cache, 0, nil, trace), root)
	if len(got0) != 0 {
		t.Errorf("day0: expected cash, got %v", got0)
	}

	// Day 1: price 200, entry true -> enters.
	got1 := Evaluate(ctxAt(db, cache, 1, nil, trace), root)
	if got1["AAPL"] != 1.0 {
		t.Errorf("day1: expected full AAPL after entry trigger, got %v", got1)
	}

	// Day 2: price 120, exit (<80) false, entry (>150) also false now but
	// state should carry over to "then" since exit didn't fire.
	got2 := Evaluate(ctxAt(db, cache, 2, nil, trace), root)
	if got2["AAPL"] != 1.0 {
		t.Errorf("day2: expected carried-over AAPL position, got %v", got2)
	}

	// Day 3: price 50, exit fires -> back to cash.
	got3 := Evaluate(ctxAt(db, cache, 3, nil, trace), root)
	if len(got3) != 0 {
		t.Errorf("day3: expected cash after exit trigger, got %v", got3)
	}
}

func TestEvalFunctionSelectsTopByMetric(t *testing.T) {
	db := buildDB(t, map[string][]float64{
		"AAPL": {100, 110},
		"MSFT": {100, 90},
	}, 2)
	cache := indicator.NewCache(db)

	aapl := &FlowNode{ID: "aapl", Kind: KindPosition, Positions: []string{"AAPL"}}
	msft := &FlowNode{ID: "msft", Kind: KindPosition, Positions: []string{"MSFT"}}

	root := &FlowNode{
		ID:   "fn",
		Kind: KindFunction,
		Function: FunctionPayload{
			Metric: "CurrentPrice",
			Rank:   RankTop,
			PickN:  1,
		},
		Children: map[string][]*FlowNode{
			SlotNext: {aapl, msft},
		},
	}

	ctx := ctxAt(db, cache, 1, nil, newMemTrace())
	got := Evaluate(ctx, root)
	if got["AAPL"] != 1.0 {
		t.Errorf("expected AAPL (higher current price) selected, got %v", got)
	}
}

func TestEvalScalingBlendsThenAndElseByRatio(t *testing.T) {
	db := buildDB(t, map[string][]float64{"AAPL": {50}}, 1)
	cache := indicator.NewCache(db)

	then := &FlowNode{ID: "then", Kind: KindPosition, Positions: []string{"AAPL"}}
	els := &FlowNode{ID: "else", Kind: KindPosition, Positions: []string{alloc.CashTicker}}

	root := &FlowNode{
		ID:   "scale",
		Kind: KindScaling,
		Scaling: ScalingPayload{
			ScaleMetric: "CurrentPrice",
			ScaleTicker: "AAPL",
			ScaleFrom:   0,
			ScaleTo:     100,
		},
		Children: map[string][]*FlowNode{
			SlotThen: {then},
			SlotElse: {els},
		},
	}

	ctx := ctxAt(db, cache, 0, nil, newMemTrace())
	got := Evaluate(ctx, root)
	if got["AAPL"] < 0.49 || got["AAPL"] > 0.51 {
		t.Errorf("expected roughly 50%% AAPL at the midpoint, got %v", got["AAPL"])
	}
}

func TestCombineSlotEqualWeighting(t *testing.T) {
	db := buildDB(t, map[string][]float64{"AAPL": {100}, "MSFT": {100}}, 1)
	cache := indicator.NewCache(db)

	a := &FlowNode{ID: "a", Kind: KindPosition, Positions: []string{"AAPL"}}
	b := &FlowNode{ID: "b", Kind: KindPosition, Positions: []string{"MSFT"}}
	root := &FlowNode{
		ID:        "basic",
		Kind:      KindBasic,
		Weighting: alloc.Equal,
		Children:  map[string][]*FlowNode{SlotNext: {a, b}},
	}

	ctx := ctxAt(db, cache, 0, nil, newMemTrace())
	got := Evaluate(ctx, root)
	if got["AAPL"] != 0.5 || got["MSFT"] != 0.5 {
		t.Errorf("expected 50/50 equal weighting, got %v", got)
	}
}

func TestCombineSlotToleratesNilChildSlot(t *testing.T) {
	db := buildDB(t, map[string][]float64{"AAPL": {100}}, 1)
	cache := indicator.NewCache(db)

	a := &FlowNode{ID: "a", Kind: KindPosition, Positions: []string{"AAPL"}}
	root := &FlowNode{
		ID:        "basic",
		Kind:      KindBasic,
		Weighting: alloc.Equal,
		Children:  map[string][]*FlowNode{SlotNext: {a, nil}},
	}

	ctx := ctxAt(db, cache, 0, nil, newMemTrace())
	got := Evaluate(ctx, root)
	if got["AAPL"] != 0.5 {
		t.Errorf("expected nil slot placeholder to count as an empty, equally-weighted child, got %v", got)
	}
}
