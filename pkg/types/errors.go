package types

import "errors"

// Error taxonomy for the optimization pipeline.
var (
	// ErrInvalidInput marks malformed or insufficient inputs. Detected
	// before any numeric work begins and surfaced synchronously.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotConverged marks HMM training that hit the iteration cap before
	// meeting the log-likelihood tolerance. Non-fatal: the last parameter
	// estimate is still usable.
	ErrNotConverged = errors.New("training did not converge")

	// ErrInvalidParameters marks a degenerate search space handed to the
	// optimizer (e.g. non-positive pMax).
	ErrInvalidParameters = errors.New("invalid optimizer parameters")

	// ErrOptimizationFailure marks a search that produced no feasible
	// candidate. Recovered by the heuristic fallback.
	ErrOptimizationFailure = errors.New("optimization produced no feasible candidate")

	// ErrSimulationInconsistency marks an internal invariant violation in
	// the simulator. Always fatal for the call.
	ErrSimulationInconsistency = errors.New("simulation inconsistency")
)
