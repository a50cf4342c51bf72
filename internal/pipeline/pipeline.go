// Package pipeline wires the full optimization chain: price categorization,
// HMM training, Viterbi decoding, seeded population construction,
// differential evolution, final simulation, and diagnostics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/categorize"
	"github.com/voltdesk/dispatch-backend/internal/diagnostics"
	"github.com/voltdesk/dispatch-backend/internal/hmm"
	"github.com/voltdesk/dispatch-backend/internal/optimizer"
	"github.com/voltdesk/dispatch-backend/internal/seed"
	"github.com/voltdesk/dispatch-backend/internal/sim"
	"github.com/voltdesk/dispatch-backend/pkg/types"
	"github.com/voltdesk/dispatch-backend/pkg/utils"
)

// Config assembles the per-stage configuration.
type Config struct {
	HMM       *hmm.Config
	Optimizer *optimizer.Config
	Seed      *seed.Config

	// SocPenalty weighs SoC excursions in the fitness function, in currency
	// units per MWh of excursion.
	SocPenalty float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HMM:        hmm.DefaultConfig(),
		Optimizer:  optimizer.DefaultConfig(),
		Seed:       seed.DefaultConfig(),
		SocPenalty: 1000,
	}
}

// Pipeline is the primary entry point consumed by the API layer and the
// backtest driver. It holds no mutable state between calls: every Optimize
// invocation constructs fresh model parameters, populations, and schedules,
// so concurrent calls on one instance are safe.
type Pipeline struct {
	logger *zap.Logger
	config *Config
}

// New creates a pipeline.
func New(logger *zap.Logger, config *Config) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{logger: logger, config: config}
}

// Reset clears cached state between runs. The pipeline is pure by
// construction, so this is an idempotent no-op; it exists so callers that
// reset defensively before each run keep working.
func (p *Pipeline) Reset() {}

// Optimize runs the full chain and never panics outward: input validation
// errors surface as {Success:false, Error}, training non-convergence
// degrades gracefully, and optimizer failures fall back to the heuristic
// schedule. Only a simulation inconsistency aborts with a bare error result.
func (p *Pipeline) Optimize(ctx context.Context, series types.PriceSeries, params types.BatteryParams, method categorize.Method, opts categorize.Options) *types.OptimizationResult {
	start := time.Now()

	if err := validateInputs(series, params); err != nil {
		return failure(err, start)
	}

	catResult, err := categorize.Categorize(series.Prices, method, opts)
	if err != nil {
		return failure(err, start)
	}

	model := hmm.NewModel(p.logger, p.config.HMM)
	hmmParams, trainErr := model.Train(catResult.Categories)
	converged := trainErr == nil
	if trainErr != nil && !errors.Is(trainErr, types.ErrNotConverged) {
		return failure(trainErr, start)
	}
	if !converged {
		p.logger.Warn("using non-converged HMM estimate",
			zap.Int("iterations", hmmParams.Iterations),
		)
	}

	statePath, _, err := model.Viterbi(catResult.Categories, hmmParams)
	if err != nil {
		return failure(err, start)
	}

	schedule, usedFallback, err := p.search(ctx, series, params, statePath)
	if err != nil {
		return failure(err, start)
	}

	report := diagnostics.Report(schedule, params, statePath, series.IntervalHours, converged)

	result := &types.OptimizationResult{
		Success:               true,
		TotalRevenue:          schedule.TotalRevenue,
		TotalEnergyCharged:    schedule.TotalEnergyCharged,
		TotalEnergyDischarged: schedule.TotalEnergyDischarged,
		OperationalEfficiency: schedule.OperationalEfficiency,
		AvgPrice:              utils.Mean(series.Prices),
		Cycles:                schedule.Cycles,
		VWAPCharge:            schedule.VWAPCharge,
		VWAPDischarge:         schedule.VWAPDischarge,
		PriceCategories:       catResult.Categories,
		StatePath:             statePath,
		Transition:            hmmParams.Transition,
		Emission:              hmmParams.Emission,
		Schedule:              schedule,
		DebugReport:           report,
		UsedFallback:          usedFallback,
		Duration:              time.Since(start),
	}
	return result
}

// search runs differential evolution and falls back to the heuristic
// schedule when the search fails. Simulation inconsistencies propagate.
func (p *Pipeline) search(ctx context.Context, series types.PriceSeries, params types.BatteryParams, statePath []int) (*types.Schedule, bool, error) {
	de := optimizer.NewOptimizer(p.logger, p.config.Optimizer)
	rng := de.NewRand()

	population, err := seed.Population(p.config.Seed, statePath, params, p.config.Optimizer.PopulationSize, rng)
	if err != nil {
		return nil, false, err
	}

	var simErr error
	fitness := func(v types.DispatchVector) (float64, error) {
		sched, err := sim.Simulate(v, series, params)
		if err != nil {
			if errors.Is(err, types.ErrSimulationInconsistency) {
				simErr = err
			}
			return 0, err
		}
		penalty := p.config.SocPenalty * sim.SocExcursion(v, series, params)
		return -sched.TotalRevenue + penalty, nil
	}

	deResult, err := de.Optimize(ctx, population, params, fitness, rng)
	if simErr != nil {
		return nil, false, simErr
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		p.logger.Warn("search failed, using heuristic fallback", zap.Error(err))
		sched, fbErr := p.SimpleOptimize(series, params)
		if fbErr != nil {
			return nil, false, fbErr
		}
		return sched, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	sched, err := sim.Simulate(deResult.Best, series, params)
	if err != nil {
		return nil, false, err
	}
	return sched, false, nil
}

// SimpleOptimize produces a valid but non-optimal schedule from a rule-based
// charge-low/discharge-high vector. It reuses the same simulator as the full
// pipeline, so the constraint semantics cannot diverge.
func (p *Pipeline) SimpleOptimize(series types.PriceSeries, params types.BatteryParams) (*types.Schedule, error) {
	if err := validateInputs(series, params); err != nil {
		return nil, err
	}

	catResult, err := categorize.Categorize(series.Prices, categorize.MethodQuantile, categorize.Options{})
	if err != nil {
		return nil, err
	}

	v := types.NewDispatchVector(series.Len())
	for t, c := range catResult.Categories {
		switch c {
		case types.CategoryLow:
			v.Charge[t] = params.PMax
		case types.CategoryHigh:
			v.Discharge[t] = params.PMax
		}
	}
	return sim.Simulate(v, series, params)
}

func validateInputs(series types.PriceSeries, params types.BatteryParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return series.Validate()
}

func failure(err error, start time.Time) *types.OptimizationResult {
	return &types.OptimizationResult{
		Success:  false,
		Error:    errorMessage(err),
		Duration: time.Since(start),
	}
}

// errorMessage keeps the SoC bounds message byte-exact for API consumers
// that match on it.
func errorMessage(err error) string {
	if errors.Is(err, types.ErrSocBounds) {
		return types.ErrSocBounds.Error()
	}
	return fmt.Sprintf("%v", err)
}
