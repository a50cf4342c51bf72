// Package categorize assigns each price observation to one of three ordinal
// levels (Low/Medium/High) using a selectable statistical method.
package categorize

import (
	"fmt"

	"github.com/voltdesk/dispatch-backend/pkg/types"
	"github.com/voltdesk/dispatch-backend/pkg/utils"
)

// Method selects the categorization algorithm.
type Method string

const (
	MethodQuantile   Method = "quantile"
	MethodZScore     Method = "zscore"
	MethodAdaptive   Method = "adaptive"
	MethodVolatility Method = "volatility"
	MethodKMeans     Method = "kmeans"
)

// DefaultMethod is used when the caller does not name one.
const DefaultMethod = MethodQuantile

// Options tunes the individual methods. Zero values fall back to defaults.
type Options struct {
	// ZLow/ZHigh are the z-score cut points for MethodZScore.
	ZLow  float64
	ZHigh float64

	// Window is the rolling-window length for MethodAdaptive and the local
	// volatility window for MethodVolatility.
	Window int

	// VolScale multiplies the local volatility when deriving the cut points
	// for MethodVolatility.
	VolScale float64

	// MaxKMeansIterations bounds the Lloyd iterations for MethodKMeans.
	MaxKMeansIterations int
}

func (o Options) withDefaults() Options {
	if o.ZLow == 0 {
		o.ZLow = -0.5
	}
	if o.ZHigh == 0 {
		o.ZHigh = 0.5
	}
	if o.Window <= 0 {
		o.Window = 24
	}
	if o.VolScale == 0 {
		o.VolScale = 1.0
	}
	if o.MaxKMeansIterations <= 0 {
		o.MaxKMeansIterations = 100
	}
	return o
}

// categorizer is the single interface every method implements.
type categorizer interface {
	categorize(prices []float64, opts Options) (types.CategorizationResult, error)
}

// ParseMethod maps a request tag to a Method, defaulting on empty input.
func ParseMethod(tag string) (Method, error) {
	switch Method(tag) {
	case MethodQuantile, MethodZScore, MethodAdaptive, MethodVolatility, MethodKMeans:
		return Method(tag), nil
	case "":
		return DefaultMethod, nil
	}
	return "", fmt.Errorf("%w: unknown categorization method %q", types.ErrInvalidInput, tag)
}

// Categorize assigns a category to every price. It is a pure function of its
// inputs: identical inputs always yield identical assignments.
func Categorize(prices []float64, method Method, opts Options) (types.CategorizationResult, error) {
	if err := validate(prices); err != nil {
		return types.CategorizationResult{}, err
	}
	opts = opts.withDefaults()

	var c categorizer
	switch method {
	case MethodQuantile, "":
		c = quantileCategorizer{}
	case MethodZScore:
		c = zscoreCategorizer{}
	case MethodAdaptive:
		c = adaptiveCategorizer{}
	case MethodVolatility:
		c = volatilityCategorizer{}
	case MethodKMeans:
		c = kmeansCategorizer{}
	default:
		return types.CategorizationResult{}, fmt.Errorf("%w: unknown categorization method %q", types.ErrInvalidInput, method)
	}

	result, err := c.categorize(prices, opts)
	if err != nil {
		return types.CategorizationResult{}, err
	}
	result.Method = string(method)
	return result, nil
}

func validate(prices []float64) error {
	if len(prices) < types.MinSeriesLength {
		return fmt.Errorf("%w: need at least %d periods, got %d", types.ErrInvalidInput, types.MinSeriesLength, len(prices))
	}
	distinct := false
	for _, p := range prices[1:] {
		if p != prices[0] {
			distinct = true
			break
		}
	}
	if !distinct {
		return fmt.Errorf("%w: series has no price variation", types.ErrInvalidInput)
	}
	return nil
}

// quantileCategorizer bins by terciles of the empirical distribution.
type quantileCategorizer struct{}

func (quantileCategorizer) categorize(prices []float64, _ Options) (types.CategorizationResult, error) {
	low := utils.Quantile(prices, 1.0/3.0)
	high := utils.Quantile(prices, 2.0/3.0)
	return types.CategorizationResult{
		Categories:    binByThresholds(prices, low, high),
		LowThreshold:  low,
		HighThreshold: high,
	}, nil
}

// zscoreCategorizer bins by standardized distance from the series mean.
type zscoreCategorizer struct{}

func (zscoreCategorizer) categorize(prices []float64, opts Options) (types.CategorizationResult, error) {
	mu, sigma := utils.MeanStddev(prices)
	if sigma == 0 {
		return types.CategorizationResult{}, fmt.Errorf("%w: zero variance", types.ErrInvalidInput)
	}
	low := mu + opts.ZLow*sigma
	high := mu + opts.ZHigh*sigma
	return types.CategorizationResult{
		Categories:    binByThresholds(prices, low, high),
		LowThreshold:  low,
		HighThreshold: high,
	}, nil
}

// adaptiveCategorizer recomputes quantile thresholds over a trailing window
// so the bins track slow drifts in the price level.
type adaptiveCategorizer struct{}

func (adaptiveCategorizer) categorize(prices []float64, opts Options) (types.CategorizationResult, error) {
	n := len(prices)
	cats := make([]types.PriceCategory, n)
	var lastLow, lastHigh float64

	for t := 0; t < n; t++ {
		start := t - opts.Window + 1
		if start < 0 {
			start = 0
		}
		window := prices[start : t+1]
		if len(window) < 3 || allEqual(window) {
			// Not enough local information yet; fall back to the global
			// terciles for the leading edge.
			lastLow = utils.Quantile(prices, 1.0/3.0)
			lastHigh = utils.Quantile(prices, 2.0/3.0)
		} else {
			lastLow = utils.Quantile(window, 1.0/3.0)
			lastHigh = utils.Quantile(window, 2.0/3.0)
		}
		cats[t] = binOne(prices[t], lastLow, lastHigh)
	}

	return types.CategorizationResult{
		Categories:    cats,
		LowThreshold:  lastLow,
		HighThreshold: lastHigh,
	}, nil
}

// volatilityCategorizer widens or narrows the band around the rolling mean
// in proportion to local volatility, so calm stretches still produce all
// three categories.
type volatilityCategorizer struct{}

func (volatilityCategorizer) categorize(prices []float64, opts Options) (types.CategorizationResult, error) {
	n := len(prices)
	cats := make([]types.PriceCategory, n)
	globalMu, globalSigma := utils.MeanStddev(prices)
	if globalSigma == 0 {
		return types.CategorizationResult{}, fmt.Errorf("%w: zero variance", types.ErrInvalidInput)
	}
	var lastLow, lastHigh float64

	for t := 0; t < n; t++ {
		start := t - opts.Window + 1
		if start < 0 {
			start = 0
		}
		window := prices[start : t+1]
		mu, sigma := utils.MeanStddev(window)
		if sigma == 0 {
			mu, sigma = globalMu, globalSigma
		}
		band := opts.VolScale * sigma / 2
		lastLow = mu - band
		lastHigh = mu + band
		cats[t] = binOne(prices[t], lastLow, lastHigh)
	}

	return types.CategorizationResult{
		Categories:    cats,
		LowThreshold:  lastLow,
		HighThreshold: lastHigh,
	}, nil
}

// binByThresholds maps each price to a category given two ordered cut points.
func binByThresholds(prices []float64, low, high float64) []types.PriceCategory {
	cats := make([]types.PriceCategory, len(prices))
	for i, p := range prices {
		cats[i] = binOne(p, low, high)
	}
	return cats
}

func binOne(p, low, high float64) types.PriceCategory {
	switch {
	case p <= low:
		return types.CategoryLow
	case p >= high:
		return types.CategoryHigh
	default:
		return types.CategoryMedium
	}
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
