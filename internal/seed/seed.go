// Package seed converts a Viterbi-decoded regime path into the initial
// population for the dispatch optimizer.
package seed

import (
	"fmt"
	"math/rand"

	"github.com/voltdesk/dispatch-backend/pkg/types"
	"github.com/voltdesk/dispatch-backend/pkg/utils"
)

// Reference fractions of pMax used when mapping regimes to dispatch.
const (
	activeFraction = 0.8
	idleFraction   = 0.1
)

// Config tunes population construction.
type Config struct {
	// SeedFraction is the share of the population derived from the decoded
	// path; the rest is sampled uniformly within bounds for diversity.
	SeedFraction float64

	// PerturbScale scales the deterministic per-slot perturbation applied
	// to seeded individuals, as a fraction of pMax.
	PerturbScale float64
}

// DefaultConfig returns the reference mixture: 80% seeded, 20% random.
func DefaultConfig() *Config {
	return &Config{
		SeedFraction: 0.8,
		PerturbScale: 0.05,
	}
}

// Build maps a state path to a single dispatch vector: Low regimes charge at
// a high fraction of pMax, High regimes discharge at the same fraction, and
// Medium regimes carry a small symmetric charge and discharge that the
// optimizer's repair step later resolves to one side.
func Build(statePath []int, params types.BatteryParams) (types.DispatchVector, error) {
	if len(statePath) == 0 {
		return types.DispatchVector{}, fmt.Errorf("%w: empty state path", types.ErrInvalidInput)
	}
	v := types.NewDispatchVector(len(statePath))
	for t, state := range statePath {
		switch state {
		case 1:
			v.Charge[t] = activeFraction * params.PMax
		case 2:
			v.Charge[t] = idleFraction * params.PMax
			v.Discharge[t] = idleFraction * params.PMax
		case 3:
			v.Discharge[t] = activeFraction * params.PMax
		default:
			return types.DispatchVector{}, fmt.Errorf("%w: state %d at period %d out of range", types.ErrInvalidInput, state, t)
		}
	}
	return v, nil
}

// Population builds the optimizer's initial population as a mixture: a
// majority of individuals derived from the seed with a deterministic
// per-slot perturbation (indexed by population slot, not by a random draw),
// and the remainder drawn from rng within [0, pMax]. All randomness flows
// through rng, so a fixed seed reproduces the population exactly.
func Population(cfg *Config, statePath []int, params types.BatteryParams, size int, rng *rand.Rand) ([]types.DispatchVector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0", types.ErrInvalidParameters)
	}

	base, err := Build(statePath, params)
	if err != nil {
		return nil, err
	}

	seeded := int(cfg.SeedFraction * float64(size))
	if seeded > size {
		seeded = size
	}

	population := make([]types.DispatchVector, size)
	for slot := 0; slot < seeded; slot++ {
		population[slot] = perturb(base, params, slot, cfg.PerturbScale)
	}
	for slot := seeded; slot < size; slot++ {
		population[slot] = random(len(statePath), params, rng)
	}
	return population, nil
}

// perturb shifts every gene by a slot-indexed offset that alternates sign
// and grows with the slot number, so each seeded individual is distinct but
// reproducible without a random draw.
func perturb(base types.DispatchVector, params types.BatteryParams, slot int, scale float64) types.DispatchVector {
	v := base.Clone()
	offset := scale * params.PMax * float64(slot%5)
	if slot%2 == 1 {
		offset = -offset
	}
	for t := range v.Charge {
		v.Charge[t] = utils.Clamp(v.Charge[t]+offset, 0, params.PMax)
		v.Discharge[t] = utils.Clamp(v.Discharge[t]-offset, 0, params.PMax)
	}
	return v
}

func random(periods int, params types.BatteryParams, rng *rand.Rand) types.DispatchVector {
	v := types.NewDispatchVector(periods)
	for t := 0; t < periods; t++ {
		// Pick a side first so random individuals are not all near-idle
		// after repair.
		if rng.Float64() < 0.5 {
			v.Charge[t] = rng.Float64() * params.PMax
		} else {
			v.Discharge[t] = rng.Float64() * params.PMax
		}
	}
	return v
}
