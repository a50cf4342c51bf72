package categorize

import (
	"fmt"
	"sort"

	"github.com/voltdesk/dispatch-backend/pkg/types"
	"github.com/voltdesk/dispatch-backend/pkg/utils"
)

// kmeansCategorizer clusters prices with 1-D k-means (k=3) and assigns
// Low/Medium/High by ascending centroid value. Centroids are seeded from the
// empirical terciles, which makes the clustering deterministic.
type kmeansCategorizer struct{}

func (kmeansCategorizer) categorize(prices []float64, opts Options) (types.CategorizationResult, error) {
	const k = types.NumCategories

	centroids := []float64{
		utils.Quantile(prices, 1.0/6.0),
		utils.Quantile(prices, 0.5),
		utils.Quantile(prices, 5.0/6.0),
	}
	if centroids[0] == centroids[k-1] {
		return types.CategorizationResult{}, fmt.Errorf("%w: zero spread for kmeans", types.ErrInvalidInput)
	}

	assignments := make([]int, len(prices))
	for iter := 0; iter < opts.MaxKMeansIterations; iter++ {
		changed := false
		for i, p := range prices {
			best := nearestCentroid(p, centroids)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}

		sums := make([]float64, k)
		counts := make([]int, k)
		for i, p := range prices {
			sums[assignments[i]] += p
			counts[assignments[i]]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}

		if !changed {
			break
		}
	}

	// Order clusters by centroid so cluster index maps to Low < Medium < High.
	order := []int{0, 1, 2}
	sort.Slice(order, func(a, b int) bool { return centroids[order[a]] < centroids[order[b]] })
	rank := make([]int, k)
	for r, c := range order {
		rank[c] = r
	}

	cats := make([]types.PriceCategory, len(prices))
	for i := range prices {
		cats[i] = types.PriceCategory(rank[assignments[i]] + 1)
	}

	sorted := []float64{centroids[order[0]], centroids[order[1]], centroids[order[2]]}
	return types.CategorizationResult{
		Categories:    cats,
		Centroids:     sorted,
		LowThreshold:  (sorted[0] + sorted[1]) / 2,
		HighThreshold: (sorted[1] + sorted[2]) / 2,
	}, nil
}

func nearestCentroid(p float64, centroids []float64) int {
	best := 0
	bestDist := dist(p, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := dist(p, centroids[c]); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func dist(a, b float64) float64 {
	d := a - b
	return d * d
}
