// Package diagnostics derives human-facing summary statistics from a
// simulated schedule. The report explains the result; nothing in the
// optimizer consumes it.
package diagnostics

import (
	"math"

	"github.com/voltdesk/dispatch-backend/pkg/types"
)

const (
	// boundTolerance is the slack used when checking whether the SoC
	// trajectory touched its limits.
	boundTolerance = 1e-6

	// underutilizationFraction flags the High-price regime when its
	// discharge volume falls below this share of the theoretical maximum.
	underutilizationFraction = 0.25

	// bindingFraction marks a power or energy constraint as binding when
	// the schedule spends at least this share of periods at the limit.
	bindingFraction = 0.10
)

var stateNames = map[int]string{
	1: "low",
	2: "medium",
	3: "high",
}

// Report summarizes a schedule against the regime path that produced it.
func Report(schedule *types.Schedule, params types.BatteryParams, statePath []int, intervalHours float64, trainingConverged bool) *types.DebugReport {
	r := &types.DebugReport{
		ChargeByState:     map[string]float64{"low": 0, "medium": 0, "high": 0},
		DischargeByState:  map[string]float64{"low": 0, "medium": 0, "high": 0},
		ReachedSocMin:     false,
		ReachedSocMax:     false,
		TrainingConverged: trainingConverged,
	}

	T := len(schedule.Soc)
	minSoc := math.Inf(1)
	maxSoc := math.Inf(-1)
	powerLimited := 0
	highStatePeriods := 0

	for t := 0; t < T; t++ {
		if t < len(statePath) {
			name := stateNames[statePath[t]]
			r.ChargeByState[name] += schedule.Charging[t] * intervalHours
			r.DischargeByState[name] += schedule.Discharging[t] * intervalHours
			if statePath[t] == 3 {
				highStatePeriods++
			}
		}

		soc := schedule.Soc[t]
		if soc < minSoc {
			minSoc = soc
		}
		if soc > maxSoc {
			maxSoc = soc
		}
		if soc <= params.SocMin+boundTolerance {
			r.ReachedSocMin = true
		}
		if soc >= params.SocMax-boundTolerance {
			r.ReachedSocMax = true
		}

		if schedule.Charging[t] >= params.PMax-boundTolerance ||
			schedule.Discharging[t] >= params.PMax-boundTolerance {
			powerLimited++
		}
	}

	if usable := params.UsableCapacity(); usable > 0 && T > 0 {
		r.SocUtilizationPct = 100 * (maxSoc - minSoc) / usable
	}

	if highStatePeriods > 0 {
		theoreticalMax := float64(highStatePeriods) * params.PMax * intervalHours
		if r.DischargeByState["high"] < underutilizationFraction*theoreticalMax {
			r.HighStateUnderutilized = true
		}
	}

	if T > 0 {
		r.PowerConstraintBinding = float64(powerLimited)/float64(T) >= bindingFraction
	}
	// The energy constraint binds when the trajectory pinned itself against
	// both SoC limits.
	r.EnergyConstraintBinding = r.ReachedSocMin && r.ReachedSocMax

	return r
}
