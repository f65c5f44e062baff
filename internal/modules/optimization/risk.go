package optimization

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// calculateSampleCovariance calculates the sample covariance matrix from returns.
// Returns a symmetric matrix where element (i,j) is the covariance between tickers[i] and tickers[j].
func calculateSampleCovariance(returns map[string][]float64, tickers []string) ([][]float64, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided")
	}

	// All columns must share one length
	var returnLength int
	for _, ticker := range tickers {
		ret, ok := returns[ticker]
		if !ok {
			return nil, fmt.Errorf("missing returns for %s", ticker)
		}
		if returnLength == 0 {
			returnLength = len(ret)
		}
		if len(ret) != returnLength {
			return nil, fmt.Errorf("inconsistent return lengths: expected %d, got %d for %s", returnLength, len(ret), ticker)
		}
		if floats.HasNaN(ret) {
			return nil, fmt.Errorf("returns for %s contain NaN", ticker)
		}
	}

	if returnLength < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", returnLength)
	}

	n := len(tickers)
	covMatrix := make([][]float64, n)
	for i := range covMatrix {
		covMatrix[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// Sample covariance, N-1 denominator
			cov := stat.Covariance(returns[tickers[i]], returns[tickers[j]], nil)
			covMatrix[i][j] = cov
			if i != j {
				covMatrix[j][i] = cov
			}
		}
	}

	return covMatrix, nil
}

// projectCappedSimplex returns the Euclidean projection of x onto
// {w : Σw = 1, 0 ≤ w_i ≤ upper}. The set must be non-empty (upper·n ≥ 1).
//
// The projection is w_i = clamp(x_i − τ, 0, upper) for the τ at which the
// clamped values sum to 1; τ is found by bisection.
func projectCappedSimplex(x []float64, upper float64) []float64 {
	n := len(x)
	w := make([]float64, n)
	if n == 0 {
		return w
	}

	sum := func(tau float64) float64 {
		var s float64
		for _, v := range x {
			s += math.Max(0, math.Min(upper, v-tau))
		}
		return s
	}

	// sum(lo) = n·upper ≥ 1, sum(hi) = 0
	lo := floats.Min(x) - upper
	hi := floats.Max(x)
	for iter := 0; iter < 200 && hi-lo > 1e-15; iter++ {
		mid := (lo + hi) / 2
		if sum(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	tau := (lo + hi) / 2

	for i, v := range x {
		w[i] = math.Max(0, math.Min(upper, v-tau))
	}

	// Spread bisection slack over coordinates that still have room
	if slack := 1 - floats.Sum(w); slack != 0 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return w[idx[a]] > w[idx[b]] })
		for _, i := range idx {
			adjusted := math.Max(0, math.Min(upper, w[i]+slack))
			slack -= adjusted - w[i]
			w[i] = adjusted
			if slack == 0 {
				break
			}
		}
	}

	return w
}
