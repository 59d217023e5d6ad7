// Command backtest-sweep enumerates a parameter sweep's Cartesian product,
// runs every combination through a worker pool, and renders a live progress
// bar while it drains.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"jupitor/internal/backtest"
	"jupitor/internal/config"
	"jupitor/internal/jobstore"
	"jupitor/internal/pricedb"
	"jupitor/internal/store"
	"jupitor/internal/sweep"
	"jupitor/internal/tree"
	"jupitor/internal/util"
	"jupitor/internal/workerpool"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func main() {
	cfgPath := flag.String("config", "config/jupitor.yaml", "path to YAML configuration")
	treePath := flag.String("tree", "", "path to a JSON FlowNode template (required)")
	rangesPath := flag.String("ranges", "", "path to a JSON []sweep.ParameterRange file (required)")
	tickerListsPath := flag.String("ticker-lists", "", "optional path to a JSON map[string][]string of ticker-list substitutions")
	tickers := flag.String("tickers", "", "comma-separated tickers to load beyond the sweep's ticker lists (required)")
	start := flag.String("start", "", "start date, YYYY-MM-DD (required)")
	end := flag.String("end", "", "end date, YYYY-MM-DD (required)")
	mode := flag.String("mode", "", "CC, OC, or OO (defaults to the config's backtest.default_mode)")
	costBps := flag.Float64("cost-bps", -1, "transaction cost in basis points")
	benchmark := flag.String("benchmark", "", "optional benchmark ticker for Beta/Treynor")
	riskFree := flag.Float64("risk-free", 0, "annualized risk-free rate")
	workers := flag.Int("workers", 0, "worker pool size (defaults to the config, or NumCPU-1)")
	jobName := flag.String("job-name", "", "optional name to save this sweep under")
	jobDB := flag.String("job-db", "", "optional SQLite path to persist the job definition before running")
	top := flag.Int("top", 10, "number of top branches (by CAGR) to print at the end")
	flag.Parse()

	if *treePath == "" || *rangesPath == "" || *tickers == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	template, err := loadTree(*treePath)
	if err != nil {
		log.Fatalf("failed to load tree: %v", err)
	}
	ranges, err := loadRanges(*rangesPath)
	if err != nil {
		log.Fatalf("failed to load ranges: %v", err)
	}
	tickerLists, err := loadTickerLists(*tickerListsPath)
	if err != nil {
		log.Fatalf("failed to load ticker lists: %v", err)
	}

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	opts := backtest.Options{
		Mode:         resolveMode(*mode, cfg.Backtest.DefaultMode),
		CostBps:      resolveCostBps(*costBps, cfg.Backtest.DefaultCostBps),
		WarmupStart:  -1,
		Benchmark:    *benchmark,
		RiskFreeRate: *riskFree,
	}

	if *jobDB != "" {
		js, err := jobstore.Open(*jobDB)
		if err != nil {
			log.Fatalf("failed to open job store: %v", err)
		}
		job := &jobstore.Job{Name: *jobName, Template: template, Ranges: ranges, TickerLists: tickerLists, Options: opts}
		if err := js.SaveJob(context.Background(), job); err != nil {
			log.Fatalf("failed to save job: %v", err)
		}
		js.Close()
		logger.Info("saved sweep job", "id", job.ID, "name", job.Name)
	}

	symbols := splitTickers(*tickers)
	for _, list := range tickerLists {
		symbols = append(symbols, list...)
	}
	if *benchmark != "" {
		symbols = append(symbols, *benchmark)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	ctx := context.Background()
	db, err := pricedb.Load(ctx, pstore, "us", symbols, startDate, endDate)
	if err != nil {
		log.Fatalf("failed to load price db: %v", err)
	}

	combos := sweep.Enumerate(ranges, tickerLists)
	logger.Info("enumerated sweep", "combinations", len(combos))

	tasks := make([]workerpool.Task, len(combos))
	for i, combo := range combos {
		clone := sweep.ApplyBranchToTree(template, combo, ranges)
		registry := tree.NewRegistry()
		registry.Register(clone)

		taskOpts := opts
		taskOpts.WarmupStart = backtest.WarmupIndex(clone)

		tasks[i] = workerpool.Task{
			BranchID: combo.ID,
			Tree:     clone,
			Resolver: registry.Resolver(),
			Options:  taskOpts,
			Meta:     combo,
		}
	}

	workerCount := resolveWorkers(*workers, cfg.Backtest.Workers)
	pool := workerpool.New(workerCount, db, logger)

	updates := make(chan workerpool.Progress, 8)
	done := make(chan []workerpool.TaskResult, 1)
	go func() {
		results := pool.Run(ctx, tasks, func(p workerpool.Progress) {
			select {
			case updates <- p:
			default:
			}
		})
		done <- results
		close(updates)
	}()

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	initial := sweepModel{bar: bar, total: len(tasks), updates: updates, done: done}
	final, err := tea.NewProgram(initial).Run()
	if err != nil {
		log.Fatalf("progress display failed: %v", err)
	}

	m := final.(sweepModel)
	printTopBranches(m.results, *top)
}

// ---------------------------------------------------------------------------
// Bubble Tea progress display
// ---------------------------------------------------------------------------

type progressMsg workerpool.Progress
type doneMsg struct{ results []workerpool.TaskResult }

type sweepModel struct {
	bar     progress.Model
	total   int
	current workerpool.Progress
	updates <-chan workerpool.Progress
	done    <-chan []workerpool.TaskResult
	results []workerpool.TaskResult
}

func waitForEvent(updates <-chan workerpool.Progress, done <-chan []workerpool.TaskResult) tea.Cmd {
	return func() tea.Msg {
		select {
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			return progressMsg(p)
		case results := <-done:
			return doneMsg{results: results}
		}
	}
}

func (m sweepModel) Init() tea.Cmd {
	if m.total == 0 {
		return tea.Quit
	}
	return waitForEvent(m.updates, m.done)
}

func (m sweepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.current = workerpool.Progress(msg)
		return m, waitForEvent(m.updates, m.done)
	case doneMsg:
		m.results = msg.results
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m sweepModel) View() string {
	if m.total == 0 {
		return "no combinations to run\n"
	}
	frac := float64(m.current.Completed) / float64(m.total)
	failLine := ""
	if m.current.Failed > 0 {
		failLine = failStyle.Render(fmt.Sprintf(" failed=%d", m.current.Failed))
	}
	return fmt.Sprintf("%s\n%s\n%s %d/%d passing=%d%s  %s\n",
		headerStyle.Render("sweeping parameter combinations"),
		m.bar.ViewAs(frac),
		statStyle.Render("progress:"),
		m.current.Completed, m.total, m.current.Passing, failLine,
		m.current.Elapsed.Round(time.Millisecond),
	)
}

// ---------------------------------------------------------------------------
// Loading and summarizing
// ---------------------------------------------------------------------------

func loadTree(path string) (*tree.FlowNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tree file: %w", err)
	}
	var root tree.FlowNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing tree JSON: %w", err)
	}
	return &root, nil
}

func loadRanges(path string) ([]sweep.ParameterRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ranges file: %w", err)
	}
	var ranges []sweep.ParameterRange
	if err := json.Unmarshal(data, &ranges); err != nil {
		return nil, fmt.Errorf("parsing ranges JSON: %w", err)
	}
	return ranges, nil
}

func loadTickerLists(path string) (map[string][]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ticker lists file: %w", err)
	}
	var lists map[string][]string
	if err := json.Unmarshal(data, &lists); err != nil {
		return nil, fmt.Errorf("parsing ticker lists JSON: %w", err)
	}
	return lists, nil
}

func splitTickers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolveMode(flagValue, configValue string) backtest.Mode {
	v := flagValue
	if v == "" {
		v = configValue
	}
	switch strings.ToUpper(v) {
	case "OC":
		return backtest.OC
	case "OO":
		return backtest.OO
	default:
		return backtest.CC
	}
}

func resolveCostBps(flagValue, configValue float64) float64 {
	if flagValue >= 0 {
		return flagValue
	}
	return configValue
}

func resolveWorkers(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	if configValue > 0 {
		return configValue
	}
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

func printTopBranches(results []workerpool.TaskResult, top int) {
	type scored struct {
		branchID string
		cagr     float64
		sharpe   float64
		err      error
	}

	var scoredResults []scored
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			scoredResults = append(scoredResults, scored{branchID: r.BranchID, err: r.Err})
			continue
		}
		scoredResults = append(scoredResults, scored{branchID: r.BranchID, cagr: r.Result.Metrics.CAGR, sharpe: r.Result.Metrics.Sharpe})
	}

	sort.Slice(scoredResults, func(i, j int) bool {
		if scoredResults[i].err != nil || scoredResults[j].err != nil {
			return scoredResults[i].err == nil
		}
		return scoredResults[i].cagr > scoredResults[j].cagr
	})

	fmt.Printf("\n%d branches, %d failed\n", len(results), failed)
	if top > len(scoredResults) {
		top = len(scoredResults)
	}
	for i := 0; i < top; i++ {
		s := scoredResults[i]
		if s.err != nil {
			fmt.Printf("  %s  error: %v\n", s.branchID, s.err)
			continue
		}
		fmt.Printf("  %s  CAGR=%.4f Sharpe=%.4f\n", s.branchID, s.cagr, s.sharpe)
	}
}
