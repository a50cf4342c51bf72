// Package hmm implements a discrete three-state Hidden Markov Model over the
// categorized price sequence: Baum-Welch training with scaled
// forward-backward recursions and log-space Viterbi decoding.
package hmm

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/pkg/types"
)

// NumStates is the number of hidden regimes (Low/Medium/High).
const NumStates = 3

// Config configures training.
type Config struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: 100,
		Tolerance:     1e-4,
	}
}

// Model holds a trained or initialized HMM. All mutation happens inside
// Train; afterwards the parameters are read-only.
type Model struct {
	logger *zap.Logger
	config *Config
}

// NewModel creates a regime model.
func NewModel(logger *zap.Logger, config *Config) *Model {
	if config == nil {
		config = DefaultConfig()
	}
	return &Model{logger: logger, config: config}
}

// initialParameters builds the fixed starting point for Baum-Welch:
// diagonal-dominant transitions (regimes persist) and identity-leaning
// emissions (state i prefers symbol i). Deterministic, so training needs no
// RNG and repeated runs agree exactly.
func initialParameters() types.HMMParameters {
	transition := make([][]float64, NumStates)
	emission := make([][]float64, NumStates)
	initial := make([]float64, NumStates)
	for i := 0; i < NumStates; i++ {
		transition[i] = make([]float64, NumStates)
		emission[i] = make([]float64, types.NumCategories)
		initial[i] = 1.0 / NumStates
		for j := 0; j < NumStates; j++ {
			if i == j {
				transition[i][j] = 0.8
			} else {
				transition[i][j] = 0.1
			}
		}
		for s := 0; s < types.NumCategories; s++ {
			if i == s {
				emission[i][s] = 0.6
			} else {
				emission[i][s] = 0.2
			}
		}
	}
	return types.HMMParameters{Transition: transition, Emission: emission, Initial: initial}
}

// Train estimates transition and emission matrices from the observation
// sequence using Baum-Welch. Returns the last estimate together with
// types.ErrNotConverged when the iteration cap was reached before the
// log-likelihood increase fell below the tolerance; callers may still use
// the returned parameters.
func (m *Model) Train(observations []types.PriceCategory) (types.HMMParameters, error) {
	if len(observations) < 2 {
		return types.HMMParameters{}, fmt.Errorf("%w: need at least 2 observations", types.ErrInvalidInput)
	}
	obs, err := toSymbols(observations)
	if err != nil {
		return types.HMMParameters{}, err
	}

	params := initialParameters()
	prevLL := math.Inf(-1)

	for iter := 1; iter <= m.config.MaxIterations; iter++ {
		alpha, scale := forward(obs, params)
		beta := backward(obs, params, scale)

		ll := logLikelihood(scale)
		params = reestimate(obs, params, alpha, beta)
		params.Iterations = iter
		params.LogLikelihood = ll

		if iter > 1 && ll-prevLL < m.config.Tolerance {
			params.Converged = true
			m.logger.Debug("baum-welch converged",
				zap.Int("iterations", iter),
				zap.Float64("log_likelihood", ll),
			)
			return params, nil
		}
		prevLL = ll
	}

	m.logger.Warn("baum-welch hit iteration cap",
		zap.Int("max_iterations", m.config.MaxIterations),
		zap.Float64("log_likelihood", prevLL),
	)
	return params, fmt.Errorf("%w after %d iterations", types.ErrNotConverged, m.config.MaxIterations)
}

// Viterbi decodes the most likely state sequence for the observations under
// the given parameters. Works in log space; ties prefer the lower-indexed
// state so decoding is reproducible. States in the returned path are 1-based
// (1=Low, 2=Medium, 3=High).
func (m *Model) Viterbi(observations []types.PriceCategory, params types.HMMParameters) ([]int, float64, error) {
	obs, err := toSymbols(observations)
	if err != nil {
		return nil, 0, err
	}
	T := len(obs)

	logProb := make([][]float64, T)
	backptr := make([][]int, T)
	for t := range logProb {
		logProb[t] = make([]float64, NumStates)
		backptr[t] = make([]int, NumStates)
	}

	for i := 0; i < NumStates; i++ {
		logProb[0][i] = safeLog(params.Initial[i]) + safeLog(params.Emission[i][obs[0]])
	}

	for t := 1; t < T; t++ {
		for j := 0; j < NumStates; j++ {
			best := math.Inf(-1)
			bestState := 0
			for i := 0; i < NumStates; i++ {
				// Strict inequality keeps the lower-indexed state on ties.
				if v := logProb[t-1][i] + safeLog(params.Transition[i][j]); v > best {
					best = v
					bestState = i
				}
			}
			logProb[t][j] = best + safeLog(params.Emission[j][obs[t]])
			backptr[t][j] = bestState
		}
	}

	bestFinal := math.Inf(-1)
	state := 0
	for i := 0; i < NumStates; i++ {
		if logProb[T-1][i] > bestFinal {
			bestFinal = logProb[T-1][i]
			state = i
		}
	}

	path := make([]int, T)
	path[T-1] = state + 1
	for t := T - 1; t > 0; t-- {
		state = backptr[t][state]
		path[t-1] = state + 1
	}
	return path, bestFinal, nil
}

// forward computes the scaled alpha variables. scale[t] is the inverse of
// the column sum at t, so the product of 1/scale values recovers the
// sequence likelihood without underflow.
func forward(obs []int, p types.HMMParameters) (alpha [][]float64, scale []float64) {
	T := len(obs)
	alpha = make([][]float64, T)
	scale = make([]float64, T)

	alpha[0] = make([]float64, NumStates)
	sum := 0.0
	for i := 0; i < NumStates; i++ {
		alpha[0][i] = p.Initial[i] * p.Emission[i][obs[0]]
		sum += alpha[0][i]
	}
	scale[0] = normalize(alpha[0], sum)

	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, NumStates)
		sum = 0.0
		for j := 0; j < NumStates; j++ {
			acc := 0.0
			for i := 0; i < NumStates; i++ {
				acc += alpha[t-1][i] * p.Transition[i][j]
			}
			alpha[t][j] = acc * p.Emission[j][obs[t]]
			sum += alpha[t][j]
		}
		scale[t] = normalize(alpha[t], sum)
	}
	return alpha, scale
}

// backward computes the beta variables using the same scale factors as the
// forward pass.
func backward(obs []int, p types.HMMParameters, scale []float64) [][]float64 {
	T := len(obs)
	beta := make([][]float64, T)

	beta[T-1] = make([]float64, NumStates)
	for i := 0; i < NumStates; i++ {
		beta[T-1][i] = scale[T-1]
	}

	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, NumStates)
		for i := 0; i < NumStates; i++ {
			acc := 0.0
			for j := 0; j < NumStates; j++ {
				acc += p.Transition[i][j] * p.Emission[j][obs[t+1]] * beta[t+1][j]
			}
			beta[t][i] = acc * scale[t]
		}
	}
	return beta
}

// reestimate performs the M-step: expected transition counts over expected
// state occupancy, and expected emission counts per state and symbol.
func reestimate(obs []int, p types.HMMParameters, alpha, beta [][]float64) types.HMMParameters {
	T := len(obs)

	// gamma[t][i]: probability of state i at t.
	gamma := make([][]float64, T)
	for t := 0; t < T; t++ {
		gamma[t] = make([]float64, NumStates)
		sum := 0.0
		for i := 0; i < NumStates; i++ {
			gamma[t][i] = alpha[t][i] * beta[t][i]
			sum += gamma[t][i]
		}
		if sum > 0 {
			for i := 0; i < NumStates; i++ {
				gamma[t][i] /= sum
			}
		}
	}

	next := types.HMMParameters{
		Transition: make([][]float64, NumStates),
		Emission:   make([][]float64, NumStates),
		Initial:    make([]float64, NumStates),
	}
	for i := 0; i < NumStates; i++ {
		next.Initial[i] = gamma[0][i]
	}

	for i := 0; i < NumStates; i++ {
		next.Transition[i] = make([]float64, NumStates)
		occupancy := 0.0
		for t := 0; t < T-1; t++ {
			occupancy += gamma[t][i]
		}

		for j := 0; j < NumStates; j++ {
			xiSum := 0.0
			for t := 0; t < T-1; t++ {
				// xi[t][i][j] before normalization; the alpha/beta scaling
				// cancels inside the ratio below.
				num := alpha[t][i] * p.Transition[i][j] * p.Emission[j][obs[t+1]] * beta[t+1][j]
				den := 0.0
				for a := 0; a < NumStates; a++ {
					for b := 0; b < NumStates; b++ {
						den += alpha[t][a] * p.Transition[a][b] * p.Emission[b][obs[t+1]] * beta[t+1][b]
					}
				}
				if den > 0 {
					xiSum += num / den
				}
			}
			if occupancy > 0 {
				next.Transition[i][j] = xiSum / occupancy
			} else {
				next.Transition[i][j] = p.Transition[i][j]
			}
		}
		normalizeRow(next.Transition[i])

		next.Emission[i] = make([]float64, types.NumCategories)
		total := 0.0
		for t := 0; t < T; t++ {
			total += gamma[t][i]
		}
		for s := 0; s < types.NumCategories; s++ {
			count := 0.0
			for t := 0; t < T; t++ {
				if obs[t] == s {
					count += gamma[t][i]
				}
			}
			if total > 0 {
				next.Emission[i][s] = count / total
			} else {
				next.Emission[i][s] = p.Emission[i][s]
			}
		}
		normalizeRow(next.Emission[i])
	}

	return next
}

// logLikelihood recovers log P(obs) from the forward scale factors.
func logLikelihood(scale []float64) float64 {
	ll := 0.0
	for _, s := range scale {
		ll -= math.Log(s)
	}
	return ll
}

// normalize divides the row by sum and returns the scale factor 1/sum. A
// zero sum falls back to uniform mass to keep the recursion alive.
func normalize(row []float64, sum float64) float64 {
	if sum <= 0 {
		for i := range row {
			row[i] = 1.0 / float64(len(row))
		}
		return float64(len(row))
	}
	for i := range row {
		row[i] /= sum
	}
	return 1.0 / sum
}

func normalizeRow(row []float64) {
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum <= 0 {
		for i := range row {
			row[i] = 1.0 / float64(len(row))
		}
		return
	}
	for i := range row {
		row[i] /= sum
	}
}

func safeLog(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return math.Log(p)
}

func toSymbols(observations []types.PriceCategory) ([]int, error) {
	obs := make([]int, len(observations))
	for i, c := range observations {
		if c < types.CategoryLow || c > types.CategoryHigh {
			return nil, fmt.Errorf("%w: observation %d out of range", types.ErrInvalidInput, i)
		}
		obs[i] = int(c) - 1
	}
	return obs, nil
}
