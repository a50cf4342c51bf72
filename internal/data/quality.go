// Bad input data ruins optimization results quietly, so the quality
// validator flags gaps, spikes, and flat stretches before a series reaches
// the pipeline.
package data

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/pkg/types"
	"github.com/voltdesk/dispatch-backend/pkg/utils"
)

// QualityConfig tunes the quality checks.
type QualityConfig struct {
	// SpikeZScore flags prices further than this many stddevs from the mean.
	SpikeZScore float64

	// FlatRunLength flags this many consecutive identical prices. A fully
	// flat series cannot be categorized at all.
	FlatRunLength int

	// MinScore is the usability cutoff for the 0-100 quality score.
	MinScore int
}

// DefaultQualityConfig returns the reference thresholds.
func DefaultQualityConfig() *QualityConfig {
	return &QualityConfig{
		SpikeZScore:   6.0,
		FlatRunLength: 12,
		MinScore:      50,
	}
}

// Issue is one detected data problem.
type Issue struct {
	Type     string `json:"type"`     // "gap", "spike", "flat_run"
	Severity string `json:"severity"` // "high", "medium", "low"
	Period   int    `json:"period"`
	Message  string `json:"message"`
}

// QualityReport summarizes the assessment of one series.
type QualityReport struct {
	TotalPeriods int     `json:"totalPeriods"`
	Issues       []Issue `json:"issues"`
	Score        int     `json:"qualityScore"` // 0-100
	Usable       bool    `json:"usable"`

	GapCount   int `json:"gapCount"`
	SpikeCount int `json:"spikeCount"`
	FlatRuns   int `json:"flatRuns"`
}

// Validator checks price-series integrity.
type Validator struct {
	logger *zap.Logger
	config *QualityConfig
}

// NewValidator creates a validator.
func NewValidator(logger *zap.Logger, config *QualityConfig) *Validator {
	if config == nil {
		config = DefaultQualityConfig()
	}
	return &Validator{logger: logger, config: config}
}

// Assess scans the series and scores it. The report never blocks the
// pipeline by itself; callers decide what to do with an unusable score.
func (v *Validator) Assess(series types.PriceSeries) *QualityReport {
	report := &QualityReport{TotalPeriods: series.Len()}

	v.checkGaps(series, report)
	v.checkSpikes(series, report)
	v.checkFlatRuns(series, report)

	penalty := 10*report.GapCount + 5*report.SpikeCount + 15*report.FlatRuns
	report.Score = int(utils.Clamp(float64(100-penalty), 0, 100))
	report.Usable = report.Score >= v.config.MinScore

	if !report.Usable {
		v.logger.Warn("price series failed quality assessment",
			zap.Int("score", report.Score),
			zap.Int("issues", len(report.Issues)),
		)
	}
	return report
}

// checkGaps compares consecutive timestamps against the declared interval.
// Series without timestamps cannot have gaps detected.
func (v *Validator) checkGaps(series types.PriceSeries, report *QualityReport) {
	if len(series.Timestamps) != series.Len() || series.IntervalHours <= 0 {
		return
	}
	expected := time.Duration(series.IntervalHours * float64(time.Hour))
	for i := 1; i < len(series.Timestamps); i++ {
		gap := series.Timestamps[i].Sub(series.Timestamps[i-1])
		if gap == expected {
			continue
		}
		report.GapCount++
		report.Issues = append(report.Issues, Issue{
			Type:     "gap",
			Severity: "high",
			Period:   i,
			Message:  fmt.Sprintf("expected %s between periods, got %s", expected, gap),
		})
	}
}

func (v *Validator) checkSpikes(series types.PriceSeries, report *QualityReport) {
	mu, sigma := utils.MeanStddev(series.Prices)
	if sigma == 0 {
		return
	}
	for i, p := range series.Prices {
		z := math.Abs(p-mu) / sigma
		if z <= v.config.SpikeZScore {
			continue
		}
		report.SpikeCount++
		report.Issues = append(report.Issues, Issue{
			Type:     "spike",
			Severity: "medium",
			Period:   i,
			Message:  fmt.Sprintf("price %.2f is %.1f stddevs from the mean", p, z),
		})
	}
}

func (v *Validator) checkFlatRuns(series types.PriceSeries, report *QualityReport) {
	run := 1
	for i := 1; i <= series.Len(); i++ {
		if i < series.Len() && series.Prices[i] == series.Prices[i-1] {
			run++
			continue
		}
		if run >= v.config.FlatRunLength {
			report.FlatRuns++
			report.Issues = append(report.Issues, Issue{
				Type:     "flat_run",
				Severity: "low",
				Period:   i - run,
				Message:  fmt.Sprintf("%d identical prices starting at period %d", run, i-run),
			})
		}
		run = 1
	}
}
