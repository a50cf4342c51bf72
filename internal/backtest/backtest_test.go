package backtest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/backtest"
	"github.com/voltdesk/dispatch-backend/internal/data"
	"github.com/voltdesk/dispatch-backend/pkg/types"
)

func backtestParams() types.BatteryParams {
	return types.BatteryParams{PMax: 10, SocMin: 0, SocMax: 40, Efficiency: 0.9, InitialSoc: 20}
}

func fastConfig() *backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.WindowPeriods = 24
	cfg.Pipeline.Optimizer.Seed = 17
	cfg.Pipeline.Optimizer.MaxGenerations = 20
	cfg.Pipeline.Optimizer.PopulationSize = 16
	return cfg
}

func TestRunSplitsIntoWindows(t *testing.T) {
	series := data.Synthetic(3, 1.0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	runner := backtest.NewRunner(zap.NewNop(), fastConfig())
	result, err := runner.Run(context.Background(), series, backtestParams(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(result.Windows))
	}
	for i, w := range result.Windows {
		if w.Index != i {
			t.Errorf("windows out of order: index %d at position %d", w.Index, i)
		}
		if w.End-w.Start != 24 {
			t.Errorf("window %d spans %d periods, want 24", i, w.End-w.Start)
		}
	}
	if result.FailedWindows != 0 {
		t.Errorf("FailedWindows = %d, want 0", result.FailedWindows)
	}
	if result.ID == "" {
		t.Error("result carries no ID")
	}
}

func TestRunMergesShortTail(t *testing.T) {
	// 60 hourly periods with 24-period windows: 24 + 24 + 12, and the
	// 12-period tail is too short to stand alone.
	series := data.Synthetic(3, 1.0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	series.Prices = series.Prices[:60]
	series.Timestamps = series.Timestamps[:60]

	runner := backtest.NewRunner(zap.NewNop(), fastConfig())
	result, err := runner.Run(context.Background(), series, backtestParams(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Windows) != 2 {
		t.Fatalf("got %d windows, want 2 (tail merged)", len(result.Windows))
	}
	last := result.Windows[len(result.Windows)-1]
	if last.End != 60 {
		t.Errorf("last window ends at %d, want 60", last.End)
	}
	if last.End-last.Start != 36 {
		t.Errorf("merged window spans %d periods, want 36", last.End-last.Start)
	}
}

func TestRunAggregatesTotals(t *testing.T) {
	series := data.Synthetic(2, 1.0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	runner := backtest.NewRunner(zap.NewNop(), fastConfig())
	result, err := runner.Run(context.Background(), series, backtestParams(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var revenue, charged float64
	for _, w := range result.Windows {
		if !w.Result.Success {
			continue
		}
		revenue += w.Result.TotalRevenue
		charged += w.Result.TotalEnergyCharged
	}
	total, _ := result.TotalRevenue.Float64()
	if diff := total - revenue; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("aggregate revenue %v does not match window sum %v", total, revenue)
	}
	if charged != result.TotalCharged {
		t.Errorf("aggregate charged %v does not match window sum %v", result.TotalCharged, charged)
	}
}

func TestRunReportsProgress(t *testing.T) {
	series := data.Synthetic(2, 1.0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var mu sync.Mutex
	var calls []int
	progress := func(done, total int) {
		mu.Lock()
		calls = append(calls, done)
		_ = total
		mu.Unlock()
	}

	runner := backtest.NewRunner(zap.NewNop(), fastConfig())
	if _, err := runner.Run(context.Background(), series, backtestParams(), progress); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("progress called %d times, want 2", len(calls))
	}
	seen := map[int]bool{}
	for _, c := range calls {
		seen[c] = true
	}
	if !seen[1] || !seen[2] {
		t.Errorf("progress counts %v, want {1,2}", calls)
	}
}

func TestRunRejectsInvalidParams(t *testing.T) {
	series := data.Synthetic(1, 1.0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	params := backtestParams()
	params.SocMin = 40

	runner := backtest.NewRunner(zap.NewNop(), fastConfig())
	if _, err := runner.Run(context.Background(), series, params, nil); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunRejectsShortSeries(t *testing.T) {
	series := types.PriceSeries{Prices: []float64{1, 2, 3}, IntervalHours: 1.0}
	runner := backtest.NewRunner(zap.NewNop(), fastConfig())
	if _, err := runner.Run(context.Background(), series, backtestParams(), nil); err == nil {
		t.Fatal("expected error for a series below the minimum length")
	}
}
