// Package main provides a CLI that runs one dispatch optimization over a
// CSV price file (or a synthetic series) and prints the summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/categorize"
	"github.com/voltdesk/dispatch-backend/internal/data"
	"github.com/voltdesk/dispatch-backend/internal/optimizer"
	"github.com/voltdesk/dispatch-backend/internal/pipeline"
	"github.com/voltdesk/dispatch-backend/pkg/types"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file with (timestamp,price) or (price) rows")
	days := flag.Int("days", 7, "Days of synthetic data when no CSV is given")
	intervalHours := flag.Float64("interval", 1.0, "Period length in hours")
	pMax := flag.Float64("pmax", 5.0, "Max charge/discharge power in MW")
	socMin := flag.Float64("soc-min", 0.0, "Minimum SoC in MWh")
	socMax := flag.Float64("soc-max", 20.0, "Maximum SoC in MWh")
	efficiency := flag.Float64("efficiency", 0.9, "Round-trip efficiency in (0,1]")
	initialSoc := flag.Float64("initial-soc", 10.0, "Initial SoC in MWh")
	method := flag.String("method", "quantile", "Categorization method (quantile, zscore, adaptive, volatility, kmeans)")
	seedFlag := flag.Int64("seed", 1, "Optimizer seed (0 for time-based)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	var series types.PriceSeries
	var err error
	if *csvPath != "" {
		series, err = data.LoadCSV(*csvPath, *intervalHours)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", *csvPath, err)
			os.Exit(1)
		}
	} else {
		series = data.Synthetic(*days, *intervalHours, time.Now().Truncate(24*time.Hour))
	}

	quality := data.NewValidator(logger, nil).Assess(series)
	if len(quality.Issues) > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d data quality issues, score %d/100\n", len(quality.Issues), quality.Score)
	}
	if !quality.Usable {
		fmt.Fprintln(os.Stderr, "input series failed quality assessment; refusing to optimize")
		os.Exit(1)
	}

	params := types.BatteryParams{
		PMax:       *pMax,
		SocMin:     *socMin,
		SocMax:     *socMax,
		Efficiency: *efficiency,
		InitialSoc: *initialSoc,
	}

	m, err := categorize.ParseMethod(*method)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := pipeline.DefaultConfig()
	cfg.Optimizer = optimizer.DefaultConfig()
	cfg.Optimizer.Seed = *seedFlag

	p := pipeline.New(logger, cfg)
	result := p.Optimize(context.Background(), series, params, m, categorize.Options{})
	if !result.Success {
		fmt.Fprintf(os.Stderr, "optimization failed: %s\n", result.Error)
		os.Exit(1)
	}

	fmt.Printf("Periods:               %d (%.2fh each)\n", series.Len(), series.IntervalHours)
	fmt.Printf("Total revenue:         %.2f\n", result.TotalRevenue)
	fmt.Printf("Energy charged:        %.2f MWh\n", result.TotalEnergyCharged)
	fmt.Printf("Energy discharged:     %.2f MWh\n", result.TotalEnergyDischarged)
	fmt.Printf("Operational efficiency: %.3f\n", result.OperationalEfficiency)
	fmt.Printf("Cycles:                %.2f\n", result.Cycles)
	fmt.Printf("VWAP charge:           %.2f\n", result.VWAPCharge)
	fmt.Printf("VWAP discharge:        %.2f\n", result.VWAPDischarge)
	fmt.Printf("Avg price:             %.2f\n", result.AvgPrice)
	if result.UsedFallback {
		fmt.Println("Note: heuristic fallback schedule was used")
	}
	if result.DebugReport != nil {
		r := result.DebugReport
		fmt.Printf("SoC utilization:       %.1f%%\n", r.SocUtilizationPct)
		fmt.Printf("Training converged:    %v\n", r.TrainingConverged)
		if r.HighStateUnderutilized {
			fmt.Println("Warning: discharge underused in high-price regime")
		}
	}
}
