// Package backtest slices a long price series into independent windows and
// optimizes each one in parallel. Window runs are pure pipeline calls, so
// they can fan out across the worker pool without shared state.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/categorize"
	"github.com/voltdesk/dispatch-backend/internal/pipeline"
	"github.com/voltdesk/dispatch-backend/internal/workers"
	"github.com/voltdesk/dispatch-backend/pkg/types"
)

// Config configures a backtest run.
type Config struct {
	// WindowPeriods is the number of periods per optimization window
	// (e.g. 720 for one month of hourly data).
	WindowPeriods int

	Method   categorize.Method
	Pipeline *pipeline.Config
	Pool     *workers.PoolConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WindowPeriods: 720,
		Method:        categorize.DefaultMethod,
		Pipeline:      pipeline.DefaultConfig(),
		Pool:          workers.DefaultPoolConfig("backtest"),
	}
}

// WindowResult holds the outcome of one window.
type WindowResult struct {
	Index   int                       `json:"index"`
	Start   int                       `json:"start"`
	End     int                       `json:"end"`
	Result  *types.OptimizationResult `json:"result"`
}

// Result aggregates all windows. Money totals are accumulated in decimals so
// long backtests do not drift; the per-window numerics stay float64.
type Result struct {
	ID      string         `json:"id"`
	Windows []WindowResult `json:"windows"`

	TotalRevenue     decimal.Decimal `json:"totalRevenue"`
	TotalCharged     float64         `json:"totalEnergyCharged"`
	TotalDischarged  float64         `json:"totalEnergyDischarged"`
	TotalCycles      float64         `json:"totalCycles"`
	FailedWindows    int             `json:"failedWindows"`
	FallbackWindows  int             `json:"fallbackWindows"`
	Duration         time.Duration   `json:"duration"`
}

// ProgressFunc is invoked after every finished window.
type ProgressFunc func(done, total int)

// Runner drives windowed backtests.
type Runner struct {
	logger *zap.Logger
	config *Config
}

// NewRunner creates a backtest runner.
func NewRunner(logger *zap.Logger, config *Config) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Runner{logger: logger, config: config}
}

// Run optimizes every window of the series in parallel and aggregates the
// results. A window that fails validation is recorded and the rest of the
// backtest continues.
func (r *Runner) Run(ctx context.Context, series types.PriceSeries, params types.BatteryParams, progress ProgressFunc) (*Result, error) {
	start := time.Now()

	if err := params.Validate(); err != nil {
		return nil, err
	}
	if series.Len() < types.MinSeriesLength {
		return nil, fmt.Errorf("%w: series too short for backtest", types.ErrInvalidInput)
	}
	windowPeriods := r.config.WindowPeriods
	if windowPeriods < types.MinSeriesLength {
		windowPeriods = types.MinSeriesLength
	}

	windows := sliceWindows(series, windowPeriods)
	r.logger.Info("starting backtest",
		zap.Int("windows", len(windows)),
		zap.Int("window_periods", windowPeriods),
	)

	pool := workers.NewPool(r.logger, r.config.Pool)
	pool.Start()
	defer pool.Stop()

	p := pipeline.New(r.logger, r.config.Pipeline)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]WindowResult, 0, len(windows))
		done    int
	)

	for i, w := range windows {
		i, w := i, w
		wg.Add(1)
		task := workers.TaskFunc(func() error {
			defer wg.Done()
			res := p.Optimize(ctx, w.series, params, r.config.Method, categorize.Options{})

			mu.Lock()
			results = append(results, WindowResult{Index: i, Start: w.start, End: w.end, Result: res})
			done++
			n := done
			mu.Unlock()

			if progress != nil {
				progress(n, len(windows))
			}
			if !res.Success {
				return fmt.Errorf("window %d: %s", i, res.Error)
			}
			return nil
		})
		if err := pool.Submit(task); err != nil {
			wg.Done()
			return nil, err
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })

	out := &Result{
		ID:           uuid.NewString(),
		Windows:      results,
		TotalRevenue: decimal.Zero,
	}
	for _, wr := range results {
		if !wr.Result.Success {
			out.FailedWindows++
			continue
		}
		if wr.Result.UsedFallback {
			out.FallbackWindows++
		}
		out.TotalRevenue = out.TotalRevenue.Add(decimal.NewFromFloat(wr.Result.TotalRevenue))
		out.TotalCharged += wr.Result.TotalEnergyCharged
		out.TotalDischarged += wr.Result.TotalEnergyDischarged
		out.TotalCycles += wr.Result.Cycles
	}
	out.Duration = time.Since(start)

	r.logger.Info("backtest finished",
		zap.String("id", out.ID),
		zap.String("total_revenue", out.TotalRevenue.StringFixed(2)),
		zap.Int("failed_windows", out.FailedWindows),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

type window struct {
	start, end int
	series     types.PriceSeries
}

// sliceWindows cuts the series into consecutive windows. A short tail that
// cannot satisfy the minimum series length is merged into the previous
// window rather than dropped.
func sliceWindows(series types.PriceSeries, windowPeriods int) []window {
	var windows []window
	n := series.Len()
	for start := 0; start < n; start += windowPeriods {
		end := start + windowPeriods
		if end > n {
			end = n
		}
		if end-start < types.MinSeriesLength && len(windows) > 0 {
			prev := &windows[len(windows)-1]
			prev.end = end
			prev.series = subSeries(series, prev.start, end)
			break
		}
		windows = append(windows, window{start: start, end: end, series: subSeries(series, start, end)})
	}
	return windows
}

func subSeries(series types.PriceSeries, start, end int) types.PriceSeries {
	sub := types.PriceSeries{
		Prices:        series.Prices[start:end],
		IntervalHours: series.IntervalHours,
	}
	if len(series.Timestamps) == series.Len() {
		sub.Timestamps = series.Timestamps[start:end]
	}
	return sub
}
