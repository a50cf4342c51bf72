// Package data provides price-series ingress for the CLI and tests: a CSV
// loader for (timestamp, price) files and a synthetic generator for demos.
// Market data acquisition itself is a collaborator concern; the core
// pipeline only ever sees a validated PriceSeries.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voltdesk/dispatch-backend/pkg/types"
)

// LoadCSV reads a price series from a CSV file with either one column
// (price) or two columns (timestamp, price). A header row is skipped when
// the first field does not parse as a number or RFC 3339 timestamp.
func LoadCSV(path string, intervalHours float64) (types.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.PriceSeries{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, intervalHours)
}

// ReadCSV parses CSV price data from a reader.
func ReadCSV(r io.Reader, intervalHours float64) (types.PriceSeries, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	series := types.PriceSeries{IntervalHours: intervalHours}
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.PriceSeries{}, fmt.Errorf("csv row %d: %w", row+1, err)
		}
		row++
		if len(record) == 0 {
			continue
		}

		var tsField, priceField string
		if len(record) == 1 {
			priceField = record[0]
		} else {
			tsField = record[0]
			priceField = record[1]
		}

		price, perr := strconv.ParseFloat(strings.TrimSpace(priceField), 64)
		if perr != nil {
			if row == 1 {
				// Header row.
				continue
			}
			return types.PriceSeries{}, fmt.Errorf("csv row %d: bad price %q", row, priceField)
		}

		if tsField != "" {
			ts, terr := parseTimestamp(strings.TrimSpace(tsField))
			if terr != nil {
				return types.PriceSeries{}, fmt.Errorf("csv row %d: %w", row, terr)
			}
			series.Timestamps = append(series.Timestamps, ts)
		}
		series.Prices = append(series.Prices, price)
	}

	if len(series.Timestamps) > 0 && len(series.Timestamps) != len(series.Prices) {
		return types.PriceSeries{}, fmt.Errorf("mixed rows: %d timestamps for %d prices", len(series.Timestamps), len(series.Prices))
	}
	return series, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// Synthetic generates a daily-shaped price series for demos and tests: a
// base level with two peaks (morning and evening) plus a deterministic
// phase-shifted ripple so every day differs slightly.
func Synthetic(days int, intervalHours float64, start time.Time) types.PriceSeries {
	periodsPerDay := int(24 / intervalHours)
	n := days * periodsPerDay

	series := types.PriceSeries{
		Prices:        make([]float64, n),
		Timestamps:    make([]time.Time, n),
		IntervalHours: intervalHours,
	}

	for i := 0; i < n; i++ {
		hour := float64(i%periodsPerDay) * intervalHours
		day := i / periodsPerDay

		base := 40.0
		morning := 25 * math.Exp(-math.Pow(hour-8, 2)/8)
		evening := 45 * math.Exp(-math.Pow(hour-19, 2)/6)
		night := -15 * math.Exp(-math.Pow(hour-3, 2)/10)
		ripple := 5 * math.Sin(float64(i)*0.7+float64(day))

		price := base + morning + evening + night + ripple
		if price < 0 {
			price = 0
		}
		series.Prices[i] = price
		series.Timestamps[i] = start.Add(time.Duration(float64(i) * intervalHours * float64(time.Hour)))
	}
	return series
}
