// Package optimizer searches the space of per-period charge/discharge pairs
// with differential evolution: rand/1 mutation, uniform crossover, greedy
// selection, and a repair step that projects every candidate back into the
// feasible box.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/pkg/types"
	"github.com/voltdesk/dispatch-backend/pkg/utils"
)

// FitnessFunc scores a candidate. The optimizer minimizes, so callers hand
// in negative revenue plus any penalty terms.
type FitnessFunc func(types.DispatchVector) (float64, error)

// Config configures the search.
type Config struct {
	PopulationSize   int
	MaxGenerations   int
	MutationFactor   float64 // F, scales the difference vector
	CrossoverProb    float64 // CR, per-gene recombination probability
	StallGenerations int     // stop after this many generations without improvement
	StallEpsilon     float64 // minimum improvement that resets the stall counter
	Seed             int64   // 0 means time-based seeding
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PopulationSize:   40,
		MaxGenerations:   150,
		MutationFactor:   0.8,
		CrossoverProb:    0.9,
		StallGenerations: 25,
		StallEpsilon:     1e-6,
	}
}

// Optimizer runs differential evolution over dispatch vectors.
type Optimizer struct {
	logger *zap.Logger
	config *Config
}

// Result reports the best candidate and the search trajectory.
type Result struct {
	Best            types.DispatchVector `json:"-"`
	BestFitness     float64              `json:"bestFitness"`
	Generations     int                  `json:"generations"`
	ConvergenceHist []float64            `json:"convergenceHistory"`
	Duration        time.Duration        `json:"duration"`
}

// NewOptimizer creates an optimizer.
func NewOptimizer(logger *zap.Logger, config *Config) *Optimizer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Optimizer{logger: logger, config: config}
}

// NewRand builds the PRNG that drives the whole search. All stochastic draws
// (population sampling included) come from one generator, so a fixed seed
// makes the run fully reproducible.
func (o *Optimizer) NewRand() *rand.Rand {
	seed := o.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Optimize evolves the given population. The population is repaired and
// evaluated before the first generation; if the search box is degenerate the
// call fails fast without entering the generation loop.
func (o *Optimizer) Optimize(ctx context.Context, population []types.DispatchVector, params types.BatteryParams, fitness FitnessFunc, rng *rand.Rand) (*Result, error) {
	start := time.Now()

	if params.PMax <= 0 {
		return nil, fmt.Errorf("%w: pMax must be > 0", types.ErrInvalidParameters)
	}
	if len(population) < 4 {
		return nil, fmt.Errorf("%w: need at least 4 individuals, got %d", types.ErrInvalidParameters, len(population))
	}

	scores := make([]float64, len(population))
	feasible := 0
	for i := range population {
		repair(population[i], params.PMax)
		s, err := fitness(population[i])
		if err != nil || math.IsNaN(s) {
			scores[i] = math.Inf(1)
			continue
		}
		scores[i] = s
		feasible++
	}
	if feasible == 0 {
		return nil, fmt.Errorf("%w: no individual in the initial population evaluates", types.ErrOptimizationFailure)
	}

	bestIdx := argmin(scores)
	best := population[bestIdx].Clone()
	bestScore := scores[bestIdx]

	result := &Result{
		ConvergenceHist: make([]float64, 0, o.config.MaxGenerations),
	}

	stall := 0
	for gen := 0; gen < o.config.MaxGenerations; gen++ {
		select {
		case <-ctx.Done():
			result.Best = best
			result.BestFitness = bestScore
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		improved := false
		for i := range population {
			trial := o.trial(population, i, params.PMax, rng)
			s, err := fitness(trial)
			if err != nil || math.IsNaN(s) {
				continue
			}
			// Greedy selection: replace only if not worse.
			if s <= scores[i] {
				population[i] = trial
				scores[i] = s
			}
			if s < bestScore-o.config.StallEpsilon {
				improved = true
			}
			if s < bestScore {
				bestScore = s
				best = trial.Clone()
			}
		}

		result.Generations = gen + 1
		result.ConvergenceHist = append(result.ConvergenceHist, bestScore)

		if improved {
			stall = 0
		} else {
			stall++
			if stall >= o.config.StallGenerations {
				o.logger.Debug("search stalled",
					zap.Int("generation", gen+1),
					zap.Float64("best_fitness", bestScore),
				)
				break
			}
		}
	}

	result.Best = best
	result.BestFitness = bestScore
	result.Duration = time.Since(start)

	o.logger.Debug("differential evolution finished",
		zap.Int("generations", result.Generations),
		zap.Float64("best_fitness", bestScore),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// trial builds one candidate for target index i: mutate three distinct other
// members, recombine with the target gene-by-gene, then repair.
func (o *Optimizer) trial(population []types.DispatchVector, i int, pMax float64, rng *rand.Rand) types.DispatchVector {
	a, b, c := pickThree(len(population), i, rng)
	target := population[i]
	T := target.Len()
	trial := types.NewDispatchVector(T)

	F := o.config.MutationFactor
	CR := o.config.CrossoverProb

	// jRand guarantees at least one gene comes from the mutant.
	jRand := rng.Intn(2 * T)

	for t := 0; t < T; t++ {
		mc := population[a].Charge[t] + F*(population[b].Charge[t]-population[c].Charge[t])
		md := population[a].Discharge[t] + F*(population[b].Discharge[t]-population[c].Discharge[t])

		if rng.Float64() < CR || t == jRand {
			trial.Charge[t] = mc
		} else {
			trial.Charge[t] = target.Charge[t]
		}
		if rng.Float64() < CR || t+T == jRand {
			trial.Discharge[t] = md
		} else {
			trial.Discharge[t] = target.Discharge[t]
		}
	}

	repair(trial, pMax)
	return trial
}

// repair projects a candidate into the feasible box: every gene clamped to
// [0, pMax], and when both charge and discharge are nonzero in the same
// period the smaller one is zeroed.
func repair(v types.DispatchVector, pMax float64) {
	for t := range v.Charge {
		c := utils.Clamp(v.Charge[t], 0, pMax)
		d := utils.Clamp(v.Discharge[t], 0, pMax)
		if c > 0 && d > 0 {
			if c >= d {
				d = 0
			} else {
				c = 0
			}
		}
		v.Charge[t] = c
		v.Discharge[t] = d
	}
}

func pickThree(n, exclude int, rng *rand.Rand) (int, int, int) {
	pick := func(taken ...int) int {
		for {
			idx := rng.Intn(n)
			ok := idx != exclude
			for _, tk := range taken {
				if idx == tk {
					ok = false
				}
			}
			if ok {
				return idx
			}
		}
	}
	a := pick()
	b := pick(a)
	c := pick(a, b)
	return a, b, c
}

func argmin(scores []float64) int {
	best := 0
	for i, s := range scores {
		if s < scores[best] {
			best = i
		}
	}
	return best
}
