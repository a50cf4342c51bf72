package categorize_test

import (
	"testing"

	"github.com/voltdesk/dispatch-backend/internal/categorize"
	"github.com/voltdesk/dispatch-backend/pkg/types"
)

func rampPrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 10 * float64(i+1)
	}
	return prices
}

func TestCategorizeAllMethods(t *testing.T) {
	prices := rampPrices(48)

	methods := []categorize.Method{
		categorize.MethodQuantile,
		categorize.MethodZScore,
		categorize.MethodAdaptive,
		categorize.MethodVolatility,
		categorize.MethodKMeans,
	}

	for _, method := range methods {
		method := method
		t.Run(string(method), func(t *testing.T) {
			result, err := categorize.Categorize(prices, method, categorize.Options{})
			if err != nil {
				t.Fatalf("Categorize failed: %v", err)
			}
			if len(result.Categories) != len(prices) {
				t.Fatalf("expected %d categories, got %d", len(prices), len(result.Categories))
			}
			for i, c := range result.Categories {
				if c < types.CategoryLow || c > types.CategoryHigh {
					t.Errorf("category %d at period %d out of range", c, i)
				}
			}
			if result.Method != string(method) {
				t.Errorf("method tag %q, want %q", result.Method, method)
			}
		})
	}
}

func TestCategorizeQuantileOrdering(t *testing.T) {
	prices := rampPrices(30)
	result, err := categorize.Categorize(prices, categorize.MethodQuantile, categorize.Options{})
	if err != nil {
		t.Fatalf("Categorize failed: %v", err)
	}

	// On a strict ramp the categories must be non-decreasing.
	for i := 1; i < len(result.Categories); i++ {
		if result.Categories[i] < result.Categories[i-1] {
			t.Fatalf("categories not monotone on a ramp at %d: %v -> %v", i, result.Categories[i-1], result.Categories[i])
		}
	}
	if result.Categories[0] != types.CategoryLow {
		t.Errorf("lowest price categorized as %v", result.Categories[0])
	}
	if result.Categories[len(prices)-1] != types.CategoryHigh {
		t.Errorf("highest price categorized as %v", result.Categories[len(prices)-1])
	}
	if result.LowThreshold >= result.HighThreshold {
		t.Errorf("thresholds not ordered: %v >= %v", result.LowThreshold, result.HighThreshold)
	}
}

func TestCategorizeDeterminism(t *testing.T) {
	prices := rampPrices(36)
	for _, method := range []categorize.Method{categorize.MethodQuantile, categorize.MethodKMeans, categorize.MethodAdaptive} {
		a, err := categorize.Categorize(prices, method, categorize.Options{})
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		b, err := categorize.Categorize(prices, method, categorize.Options{})
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		for i := range a.Categories {
			if a.Categories[i] != b.Categories[i] {
				t.Fatalf("%s: categories differ at %d between identical runs", method, i)
			}
		}
	}
}

func TestCategorizeConstantSeriesFails(t *testing.T) {
	prices := make([]float64, 24)
	for i := range prices {
		prices[i] = 50
	}
	_, err := categorize.Categorize(prices, categorize.MethodQuantile, categorize.Options{})
	if err == nil {
		t.Fatal("expected error for constant series")
	}
}

func TestCategorizeShortSeriesFails(t *testing.T) {
	_, err := categorize.Categorize(rampPrices(10), categorize.MethodQuantile, categorize.Options{})
	if err == nil {
		t.Fatal("expected error for short series")
	}
}

func TestCategorizeUnknownMethodFails(t *testing.T) {
	_, err := categorize.Categorize(rampPrices(24), categorize.Method("magic"), categorize.Options{})
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestKMeansCentroidsOrdered(t *testing.T) {
	// Three well-separated clusters.
	prices := make([]float64, 0, 30)
	for i := 0; i < 10; i++ {
		prices = append(prices, 10+float64(i)*0.1)
	}
	for i := 0; i < 10; i++ {
		prices = append(prices, 50+float64(i)*0.1)
	}
	for i := 0; i < 10; i++ {
		prices = append(prices, 90+float64(i)*0.1)
	}

	result, err := categorize.Categorize(prices, categorize.MethodKMeans, categorize.Options{})
	if err != nil {
		t.Fatalf("Categorize failed: %v", err)
	}
	if len(result.Centroids) != 3 {
		t.Fatalf("expected 3 centroids, got %d", len(result.Centroids))
	}
	if !(result.Centroids[0] < result.Centroids[1] && result.Centroids[1] < result.Centroids[2]) {
		t.Errorf("centroids not ascending: %v", result.Centroids)
	}
	for i := 0; i < 10; i++ {
		if result.Categories[i] != types.CategoryLow {
			t.Errorf("low cluster member %d categorized as %v", i, result.Categories[i])
		}
		if result.Categories[20+i] != types.CategoryHigh {
			t.Errorf("high cluster member %d categorized as %v", 20+i, result.Categories[20+i])
		}
	}
}

func TestParseMethodDefault(t *testing.T) {
	m, err := categorize.ParseMethod("")
	if err != nil {
		t.Fatalf("ParseMethod failed: %v", err)
	}
	if m != categorize.DefaultMethod {
		t.Errorf("empty tag mapped to %q", m)
	}
	if _, err := categorize.ParseMethod("nope"); err == nil {
		t.Error("expected error for unknown tag")
	}
}
