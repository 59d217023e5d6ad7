package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"jupitor/internal/condition"
	"jupitor/internal/pricedb"
	"jupitor/internal/tree"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func buildDB(t *testing.T, closes map[string][]float64, n int) *pricedb.DB {
	t.Helper()
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = day(2024, 1, 1+i)
	}
	b, err := pricedb.NewBuilder(dates)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	for ticker, cs := range closes {
		for i, c := range cs {
			b.AddBar(pricedb.Bar{Ticker: ticker, Date: dates[i], Close: c, AdjClose: c, Open: c})
		}
	}
	db, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return db
}

func TestConstantTreeGeometricEquity(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104}
	db := buildDB(t, map[string][]float64{"SPY": closes}, len(closes))

	root := &tree.FlowNode{ID: "pos", Kind: tree.KindPosition, Positions: []string{"SPY"}}
	drv := NewDriver(db, nil)

	res, err := drv.Run(context.Background(), root, nil, Options{Mode: CC, CostBps: 0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantEquity := 1.0
	for i := 1; i < len(closes); i++ {
		wantEquity *= closes[i] / closes[i-1]
	}
	gotEquity := res.Equity[len(res.Equity)-1]
	if math.Abs(gotEquity-wantEquity) > 1e-9 {
		t.Errorf("final equity = %v, want %v", gotEquity, wantEquity)
	}

	for i, a := range res.TargetAllocations {
		if a["SPY"] != 1.0 {
			t.Errorf("day %d: expected full SPY allocation, got %v", i, a)
		}
	}
	for i := 1; i < len(res.Turnover); i++ {
		if res.Turnover[i] != 0 {
			t.Errorf("day %d: expected zero turnover after establishing the position, got %v", i, res.Turnover[i])
		}
	}
}

func TestZeroTurnoverMeansCostHasNoEffect(t *testing.T) {
	closes := []float64{100, 110, 100, 110}
	db := buildDB(t, map[string][]float64{"A": closes}, len(closes))

	simple := &tree.FlowNode{ID: "simple", Kind: tree.KindPosition, Positions: []string{"A"}}

	resNoCost, err := NewDriver(db, nil).Run(context.Background(), simple, nil, Options{Mode: CC, CostBps: 0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	resCost, err := NewDriver(db, nil).Run(context.Background(), simple, nil, Options{Mode: CC, CostBps: 50})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if math.Abs(resNoCost.Equity[len(resNoCost.Equity)-1]-resCost.Equity[len(resCost.Equity)-1]) > 1e-12 {
		t.Errorf("expected cost to have no effect on a zero-turnover position")
	}
}

func TestFullTurnoverAppliesCostEachRebalance(t *testing.T) {
	closes := map[string][]float64{
		"A": {100, 110, 100, 110},
		"B": {100, 90, 100, 90},
	}
	db := buildDB(t, closes, 4)

	aPos := &tree.FlowNode{ID: "a", Kind: tree.KindPosition, Positions: []string{"A"}}
	bPos := &tree.FlowNode{ID: "b", Kind: tree.KindPosition, Positions: []string{"B"}}
	root := &tree.FlowNode{
		ID:   "ind",
		Kind: tree.KindIndicator,
		Conditions: []condition.Line{
			{ID: "c1", Metric: "CurrentPrice", Ticker: "A", Comparator: condition.GreaterThan, Threshold: 105},
		},
		Children: map[string][]*tree.FlowNode{
			tree.SlotThen: {aPos},
			tree.SlotElse: {bPos},
		},
	}

	resNoCost, err := NewDriver(db, nil).Run(context.Background(), root, nil, Options{Mode: CC, CostBps: 0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	resCost, err := NewDriver(db, nil).Run(context.Background(), root, nil, Options{Mode: CC, CostBps: 100})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 1; i < len(resNoCost.Turnover); i++ {
		if resNoCost.Turnover[i] != 1.0 {
			t.Errorf("day %d: expected full turnover on each flip, got %v", i, resNoCost.Turnover[i])
		}
	}

	finalNoCost := resNoCost.Equity[len(resNoCost.Equity)-1]
	finalCost := resCost.Equity[len(resCost.Equity)-1]
	if finalCost >= finalNoCost {
		t.Errorf("expected cost to strictly reduce final equity: nocost=%v cost=%v", finalNoCost, finalCost)
	}
}

func TestWarmupIndexReflectsWidestWindow(t *testing.T) {
	root := &tree.FlowNode{
		ID:         "ind",
		Kind:       tree.KindIndicator,
		VolWindow:  10,
		Conditions: nil,
		Children: map[string][]*tree.FlowNode{
			tree.SlotThen: {{ID: "leaf", Kind: tree.KindPosition, Positions: []string{"X"}, VolWindow: 20}},
		},
	}
	if got := WarmupIndex(root); got != 19 {
		t.Errorf("WarmupIndex = %d, want 19", got)
	}
}
