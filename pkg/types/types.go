// Package types provides the shared data model for the dispatch backend.
package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// PriceCategory is an ordinal price level assigned to one period.
type PriceCategory int

const (
	CategoryLow    PriceCategory = 1
	CategoryMedium PriceCategory = 2
	CategoryHigh   PriceCategory = 3
)

// NumCategories is the size of the category alphabet.
const NumCategories = 3

// MinSeriesLength is the minimum number of periods accepted by the pipeline.
const MinSeriesLength = 24

func (c PriceCategory) String() string {
	switch c {
	case CategoryLow:
		return "low"
	case CategoryMedium:
		return "medium"
	case CategoryHigh:
		return "high"
	}
	return "unknown"
}

// PriceSeries is an ordered sequence of non-negative prices, one per period.
// Timestamps are optional; when present they must be parallel to Prices.
type PriceSeries struct {
	Prices     []float64   `json:"prices"`
	Timestamps []time.Time `json:"timestamps,omitempty"`

	// IntervalHours is the period length in hours (1.0 for hourly,
	// 0.25 for 15-minute data).
	IntervalHours float64 `json:"intervalHours"`
}

// Len returns the number of periods.
func (s PriceSeries) Len() int { return len(s.Prices) }

// Validate checks the series against the pipeline's input contract.
func (s PriceSeries) Validate() error {
	if len(s.Prices) < MinSeriesLength {
		return fmt.Errorf("%w: need at least %d periods, got %d", ErrInvalidInput, MinSeriesLength, len(s.Prices))
	}
	if s.IntervalHours <= 0 {
		return fmt.Errorf("%w: interval hours must be > 0", ErrInvalidInput)
	}
	if len(s.Timestamps) > 0 && len(s.Timestamps) != len(s.Prices) {
		return fmt.Errorf("%w: %d timestamps for %d prices", ErrInvalidInput, len(s.Timestamps), len(s.Prices))
	}
	for i, p := range s.Prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: price at period %d is not finite", ErrInvalidInput, i)
		}
		if p < 0 {
			return fmt.Errorf("%w: price at period %d is negative", ErrInvalidInput, i)
		}
	}
	return nil
}

// BatteryParams defines the physical parameters of the battery.
// Units: PMax in MW, SoC bounds in MWh, Efficiency is round-trip in (0,1].
type BatteryParams struct {
	PMax       float64 `json:"pMax"`
	SocMin     float64 `json:"socMin"`
	SocMax     float64 `json:"socMax"`
	Efficiency float64 `json:"efficiency"`
	InitialSoc float64 `json:"initialSoc"`
}

// ErrSocBounds carries the exact message surfaced when the SoC window is
// degenerate; callers match on the string at the API boundary.
var ErrSocBounds = errors.New("Minimum SoC must be less than maximum SoC")

// Validate checks the parameters before any numeric work starts.
func (p BatteryParams) Validate() error {
	if p.PMax <= 0 {
		return fmt.Errorf("%w: pMax must be > 0", ErrInvalidInput)
	}
	if p.SocMin < 0 {
		return fmt.Errorf("%w: socMin must be >= 0", ErrInvalidInput)
	}
	if p.SocMin >= p.SocMax {
		return ErrSocBounds
	}
	if p.Efficiency <= 0 || p.Efficiency > 1 {
		return fmt.Errorf("%w: efficiency must be in (0, 1]", ErrInvalidInput)
	}
	if p.InitialSoc < p.SocMin || p.InitialSoc > p.SocMax {
		return fmt.Errorf("%w: initial SoC must be within [socMin, socMax]", ErrInvalidInput)
	}
	return nil
}

// UsableCapacity returns the SoC range available for cycling, in MWh.
func (p BatteryParams) UsableCapacity() float64 { return p.SocMax - p.SocMin }

// LegEfficiency returns the per-leg efficiency. Round-trip efficiency is
// split symmetrically: sqrt(eta) applied on the charge leg and again on the
// discharge leg, so a full cycle loses exactly (1 - eta) of the energy.
func (p BatteryParams) LegEfficiency() float64 { return math.Sqrt(p.Efficiency) }

// DispatchVector holds per-period charge and discharge power setpoints in MW.
// Both slices have length T; after repair at most one of the pair is nonzero
// in any period.
type DispatchVector struct {
	Charge    []float64 `json:"charge"`
	Discharge []float64 `json:"discharge"`
}

// NewDispatchVector allocates a zeroed vector for T periods.
func NewDispatchVector(periods int) DispatchVector {
	return DispatchVector{
		Charge:    make([]float64, periods),
		Discharge: make([]float64, periods),
	}
}

// Len returns the number of periods.
func (d DispatchVector) Len() int { return len(d.Charge) }

// Clone returns a deep copy.
func (d DispatchVector) Clone() DispatchVector {
	out := NewDispatchVector(d.Len())
	copy(out.Charge, d.Charge)
	copy(out.Discharge, d.Discharge)
	return out
}

// Schedule is the simulated outcome of a dispatch vector.
type Schedule struct {
	Soc         []float64   `json:"soc"`
	Charging    []float64   `json:"charging"`
	Discharging []float64   `json:"discharging"`
	Revenue     []float64   `json:"revenue"`
	Timestamps  []time.Time `json:"timestamps,omitempty"`

	TotalRevenue          float64 `json:"totalRevenue"`
	TotalEnergyCharged    float64 `json:"totalEnergyCharged"`
	TotalEnergyDischarged float64 `json:"totalEnergyDischarged"`
	OperationalEfficiency float64 `json:"operationalEfficiency"`
	Cycles                float64 `json:"cycles"`
	VWAPCharge            float64 `json:"vwapCharge"`
	VWAPDischarge         float64 `json:"vwapDischarge"`
}

// CategorizationResult pairs the category sequence with the thresholds the
// method derived from the series.
type CategorizationResult struct {
	Categories []PriceCategory `json:"categories"`
	Method     string          `json:"method"`

	// LowThreshold/HighThreshold separate Low|Medium and Medium|High for the
	// threshold-based methods. Centroids is populated by kmeans only.
	LowThreshold  float64   `json:"lowThreshold"`
	HighThreshold float64   `json:"highThreshold"`
	Centroids     []float64 `json:"centroids,omitempty"`
}

// HMMParameters holds the trained model: row-stochastic transition and
// emission matrices plus the initial-state distribution.
type HMMParameters struct {
	Transition [][]float64 `json:"transitionMatrix"`
	Emission   [][]float64 `json:"emissionMatrix"`
	Initial    []float64   `json:"initialDistribution"`

	LogLikelihood float64 `json:"logLikelihood"`
	Iterations    int     `json:"iterations"`
	Converged     bool    `json:"converged"`
}

// DebugReport is the diagnostics summary derived from a simulated schedule.
type DebugReport struct {
	ChargeByState    map[string]float64 `json:"chargeByState"`
	DischargeByState map[string]float64 `json:"dischargeByState"`

	SocUtilizationPct float64 `json:"socUtilizationPct"`
	ReachedSocMin     bool    `json:"reachedSocMin"`
	ReachedSocMax     bool    `json:"reachedSocMax"`

	HighStateUnderutilized  bool `json:"highStateUnderutilized"`
	PowerConstraintBinding  bool `json:"powerConstraintBinding"`
	EnergyConstraintBinding bool `json:"energyConstraintBinding"`

	TrainingConverged bool `json:"trainingConverged"`
}

// OptimizationResult is the structured result returned by one Optimize call.
type OptimizationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	TotalRevenue          float64 `json:"totalRevenue"`
	TotalEnergyCharged    float64 `json:"totalEnergyCharged"`
	TotalEnergyDischarged float64 `json:"totalEnergyDischarged"`
	OperationalEfficiency float64 `json:"operationalEfficiency"`
	AvgPrice              float64 `json:"avgPrice"`
	Cycles                float64 `json:"cycles"`
	VWAPCharge            float64 `json:"vwapCharge"`
	VWAPDischarge         float64 `json:"vwapDischarge"`

	PriceCategories []PriceCategory `json:"priceCategories,omitempty"`
	StatePath       []int           `json:"statePath,omitempty"`
	Transition      [][]float64     `json:"transitionMatrix,omitempty"`
	Emission        [][]float64     `json:"emissionMatrix,omitempty"`

	Schedule    *Schedule    `json:"schedule,omitempty"`
	DebugReport *DebugReport `json:"debugReport,omitempty"`

	// UsedFallback is set when the heuristic schedule replaced the full
	// pipeline output.
	UsedFallback bool `json:"usedFallback,omitempty"`

	Duration time.Duration `json:"duration"`
}
