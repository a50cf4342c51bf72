package pipeline_test

import (
	"context"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/categorize"
	"github.com/voltdesk/dispatch-backend/internal/pipeline"
	"github.com/voltdesk/dispatch-backend/pkg/types"
)

func rampSeries() types.PriceSeries {
	prices := make([]float64, 24)
	for i := range prices {
		prices[i] = float64((i + 1) * 10)
	}
	return types.PriceSeries{Prices: prices, IntervalHours: 1.0}
}

func rampParams() types.BatteryParams {
	return types.BatteryParams{PMax: 5, SocMin: 0, SocMax: 20, Efficiency: 1.0, InitialSoc: 0}
}

func seededConfig(seed int64) *pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Optimizer.Seed = seed
	cfg.Optimizer.MaxGenerations = 60
	return cfg
}

func TestOptimizeConstantSeriesFails(t *testing.T) {
	p := pipeline.New(zap.NewNop(), seededConfig(1))

	prices := make([]float64, 24)
	for i := range prices {
		prices[i] = 50
	}
	series := types.PriceSeries{Prices: prices, IntervalHours: 1.0}

	result := p.Optimize(context.Background(), series, rampParams(), categorize.MethodQuantile, categorize.Options{})
	if result.Success {
		t.Fatal("expected failure for a constant price series")
	}
	if result.Error == "" {
		t.Error("failure result carries no error message")
	}
}

func TestOptimizeRampEarnsRevenue(t *testing.T) {
	p := pipeline.New(zap.NewNop(), seededConfig(7))

	result := p.Optimize(context.Background(), rampSeries(), rampParams(), categorize.MethodQuantile, categorize.Options{})
	if !result.Success {
		t.Fatalf("optimize failed: %s", result.Error)
	}
	if result.TotalRevenue <= 0 {
		t.Errorf("expected positive revenue on a ramp, got %v", result.TotalRevenue)
	}
	if result.Schedule == nil {
		t.Fatal("successful result carries no schedule")
	}

	// The ramp rewards charging early and discharging late.
	params := rampParams()
	early, late := 0.0, 0.0
	for t2, chg := range result.Schedule.Charging {
		if t2 < 12 {
			early += chg
		} else {
			late += result.Schedule.Discharging[t2]
		}
	}
	if early <= 0 || late <= 0 {
		t.Errorf("expected early charging and late discharging, got %v / %v", early, late)
	}
	for t2, soc := range result.Schedule.Soc {
		if soc < params.SocMin-1e-9 || soc > params.SocMax+1e-9 {
			t.Fatalf("SoC out of bounds at period %d: %v", t2, soc)
		}
	}
}

func TestOptimizeRejectsDegenerateSocWindow(t *testing.T) {
	p := pipeline.New(zap.NewNop(), nil)

	params := rampParams()
	params.SocMin = 20
	params.SocMax = 20
	params.InitialSoc = 20

	result := p.Optimize(context.Background(), rampSeries(), params, categorize.MethodQuantile, categorize.Options{})
	if result.Success {
		t.Fatal("expected failure for socMin >= socMax")
	}
	if result.Error != "Minimum SoC must be less than maximum SoC" {
		t.Errorf("unexpected error message: %q", result.Error)
	}
	if result.Schedule != nil {
		t.Error("no schedule must be produced on validation failure")
	}
}

func TestOptimizeCrossResolutionConsistency(t *testing.T) {
	params := rampParams()

	hourly := rampSeries()
	quarter := types.PriceSeries{IntervalHours: 0.25}
	for _, price := range hourly.Prices {
		for k := 0; k < 4; k++ {
			quarter.Prices = append(quarter.Prices, price)
		}
	}

	p := pipeline.New(zap.NewNop(), seededConfig(13))
	resHourly := p.Optimize(context.Background(), hourly, params, categorize.MethodQuantile, categorize.Options{})
	resQuarter := p.Optimize(context.Background(), quarter, params, categorize.MethodQuantile, categorize.Options{})

	if !resHourly.Success || !resQuarter.Success {
		t.Fatalf("optimize failed: %q / %q", resHourly.Error, resQuarter.Error)
	}
	if resHourly.TotalRevenue <= 0 || resQuarter.TotalRevenue <= 0 {
		t.Fatalf("expected positive revenue at both resolutions, got %v / %v",
			resHourly.TotalRevenue, resQuarter.TotalRevenue)
	}

	// Both runs cover the same 24 hours, so the same power limit bounds the
	// total energy moved regardless of resolution.
	maxEnergy := params.PMax * 24
	for _, r := range []*types.OptimizationResult{resHourly, resQuarter} {
		if r.TotalEnergyCharged > maxEnergy+1e-9 || r.TotalEnergyDischarged > maxEnergy+1e-9 {
			t.Errorf("energy exceeds power-limited maximum: charged %v discharged %v",
				r.TotalEnergyCharged, r.TotalEnergyDischarged)
		}
	}
}

func TestOptimizeDeterministicWithFixedSeed(t *testing.T) {
	p := pipeline.New(zap.NewNop(), seededConfig(42))
	series := rampSeries()
	params := rampParams()

	first := p.Optimize(context.Background(), series, params, categorize.MethodQuantile, categorize.Options{})
	p.Reset()
	second := p.Optimize(context.Background(), series, params, categorize.MethodQuantile, categorize.Options{})

	if !first.Success || !second.Success {
		t.Fatalf("optimize failed: %q / %q", first.Error, second.Error)
	}
	if first.TotalRevenue != second.TotalRevenue {
		t.Fatalf("fixed seed produced different revenue: %v vs %v", first.TotalRevenue, second.TotalRevenue)
	}
	for t2 := range first.Schedule.Soc {
		if first.Schedule.Soc[t2] != second.Schedule.Soc[t2] {
			t.Fatalf("SoC trajectory diverged at period %d", t2)
		}
	}
	for i := range first.Transition {
		for j := range first.Transition[i] {
			if first.Transition[i][j] != second.Transition[i][j] {
				t.Fatalf("transition matrix diverged at [%d][%d]", i, j)
			}
		}
	}
}

func TestOptimizeResultCarriesDiagnostics(t *testing.T) {
	p := pipeline.New(zap.NewNop(), seededConfig(5))

	result := p.Optimize(context.Background(), rampSeries(), rampParams(), categorize.MethodQuantile, categorize.Options{})
	if !result.Success {
		t.Fatalf("optimize failed: %s", result.Error)
	}
	if result.DebugReport == nil {
		t.Fatal("successful result carries no debug report")
	}
	if len(result.StatePath) != 24 {
		t.Errorf("state path length %d, want 24", len(result.StatePath))
	}
	if len(result.PriceCategories) != 24 {
		t.Errorf("category sequence length %d, want 24", len(result.PriceCategories))
	}
	for i, row := range result.Transition {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("transition row %d sums to %v", i, sum)
		}
	}
}

func TestSimpleOptimizeProducesValidSchedule(t *testing.T) {
	p := pipeline.New(zap.NewNop(), nil)
	params := rampParams()

	sched, err := p.SimpleOptimize(rampSeries(), params)
	if err != nil {
		t.Fatalf("SimpleOptimize failed: %v", err)
	}
	if sched.TotalRevenue <= 0 {
		t.Errorf("expected positive heuristic revenue on a ramp, got %v", sched.TotalRevenue)
	}
	for t2, soc := range sched.Soc {
		if soc < params.SocMin-1e-9 || soc > params.SocMax+1e-9 {
			t.Fatalf("SoC out of bounds at period %d: %v", t2, soc)
		}
		if sched.Charging[t2] > 0 && sched.Discharging[t2] > 0 {
			t.Fatalf("simultaneous charge and discharge at period %d", t2)
		}
	}
}

func TestSimpleOptimizeValidatesInput(t *testing.T) {
	p := pipeline.New(zap.NewNop(), nil)
	params := rampParams()
	params.PMax = -1
	if _, err := p.SimpleOptimize(rampSeries(), params); err == nil {
		t.Fatal("expected validation error")
	}
}
