// Package sim deterministically replays a dispatch vector against prices and
// battery parameters, producing the SoC trajectory, per-period revenue, and
// aggregate metrics. The simulator is the single source of battery physics:
// it saturates charge and discharge at the SoC bounds regardless of what the
// optimizer requested.
package sim

import (
	"fmt"
	"math"

	"github.com/voltdesk/dispatch-backend/pkg/types"
	"github.com/voltdesk/dispatch-backend/pkg/utils"
)

// Simulate walks the dispatch vector period by period and applies the SoC
// recurrence
//
//	soc_t = soc_{t-1} + charge_t*dt*etaLeg - discharge_t*dt/etaLeg
//
// with etaLeg = sqrt(round-trip efficiency) on each leg. Requested power that
// would push SoC outside [socMin, socMax] is clipped, so every returned
// schedule is physically feasible. Pure: no RNG, no side effects.
func Simulate(dispatch types.DispatchVector, series types.PriceSeries, params types.BatteryParams) (*types.Schedule, error) {
	T := series.Len()
	if dispatch.Len() != T {
		return nil, fmt.Errorf("%w: dispatch has %d periods, series has %d", types.ErrInvalidInput, dispatch.Len(), T)
	}

	eta := params.LegEfficiency()
	dt := series.IntervalHours

	sched := &types.Schedule{
		Soc:         make([]float64, T),
		Charging:    make([]float64, T),
		Discharging: make([]float64, T),
		Revenue:     make([]float64, T),
	}
	if len(series.Timestamps) == T {
		sched.Timestamps = series.Timestamps
	}

	soc := params.InitialSoc
	var chargeCost, dischargeRevenue float64

	for t := 0; t < T; t++ {
		price := series.Prices[t]

		charge := utils.Clamp(dispatch.Charge[t], 0, params.PMax)
		discharge := utils.Clamp(dispatch.Discharge[t], 0, params.PMax)
		// Physics forbids simultaneous charge and discharge; keep the
		// larger request.
		if charge > 0 && discharge > 0 {
			if charge >= discharge {
				discharge = 0
			} else {
				charge = 0
			}
		}

		// Saturate at the SoC bounds.
		if charge > 0 {
			headroom := params.SocMax - soc
			maxCharge := headroom / (eta * dt)
			if charge > maxCharge {
				charge = maxCharge
			}
			soc += charge * dt * eta
		} else if discharge > 0 {
			available := soc - params.SocMin
			maxDischarge := available * eta / dt
			if discharge > maxDischarge {
				discharge = maxDischarge
			}
			soc -= discharge * dt / eta
		}

		if math.IsNaN(soc) || math.IsInf(soc, 0) {
			return nil, fmt.Errorf("%w: SoC is not finite at period %d", types.ErrSimulationInconsistency, t)
		}
		// Numeric drift only; real violations were prevented above.
		soc = utils.Clamp(soc, params.SocMin, params.SocMax)

		chargedEnergy := charge * dt
		dischargedEnergy := discharge * dt

		sched.Soc[t] = soc
		sched.Charging[t] = charge
		sched.Discharging[t] = discharge
		sched.Revenue[t] = price*dischargedEnergy - price*chargedEnergy

		sched.TotalRevenue += sched.Revenue[t]
		sched.TotalEnergyCharged += chargedEnergy
		sched.TotalEnergyDischarged += dischargedEnergy
		chargeCost += price * chargedEnergy
		dischargeRevenue += price * dischargedEnergy
	}

	if math.IsNaN(sched.TotalRevenue) {
		return nil, fmt.Errorf("%w: total revenue is NaN", types.ErrSimulationInconsistency)
	}

	if sched.TotalEnergyCharged > 0 {
		sched.OperationalEfficiency = sched.TotalEnergyDischarged / sched.TotalEnergyCharged
		sched.VWAPCharge = chargeCost / sched.TotalEnergyCharged
	}
	if sched.TotalEnergyDischarged > 0 {
		sched.VWAPDischarge = dischargeRevenue / sched.TotalEnergyDischarged
	}
	if usable := params.UsableCapacity(); usable > 0 {
		sched.Cycles = sched.TotalEnergyDischarged / usable
	}

	return sched, nil
}

// SocExcursion measures how far an unclipped trajectory would stray outside
// the SoC bounds. The optimizer uses it as a soft penalty so the search is
// steered toward feasible candidates before the simulator's hard clamp ever
// applies.
func SocExcursion(dispatch types.DispatchVector, series types.PriceSeries, params types.BatteryParams) float64 {
	eta := params.LegEfficiency()
	dt := series.IntervalHours

	soc := params.InitialSoc
	excursion := 0.0
	for t := 0; t < dispatch.Len(); t++ {
		charge := utils.Clamp(dispatch.Charge[t], 0, params.PMax)
		discharge := utils.Clamp(dispatch.Discharge[t], 0, params.PMax)
		soc += charge*dt*eta - discharge*dt/eta
		if soc > params.SocMax {
			excursion += soc - params.SocMax
			soc = params.SocMax
		} else if soc < params.SocMin {
			excursion += params.SocMin - soc
			soc = params.SocMin
		}
	}
	return excursion
}
