// Package performance computes return statistics and rankings from simulated
// weekly portfolio value series.
package performance

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PeriodsPerYear annualizes weekly statistics
const PeriodsPerYear = 52

// ErrTooFewPoints is returned when a series is too short to analyze
var ErrTooFewPoints = errors.New("value series needs at least two points")

// ValuePoint is the portfolio state after one simulated week
type ValuePoint struct {
	Date       time.Time          `json:"date" msgpack:"date"`
	Cash       float64            `json:"cash" msgpack:"cash"`
	TotalValue float64            `json:"total_value" msgpack:"total_value"`
	Holdings   map[string]float64 `json:"holdings" msgpack:"holdings"` // ticker -> position value
}

// Metrics summarizes a value series
type Metrics struct {
	Periods          int                `json:"periods"`
	InitialValue     float64            `json:"initial_value"`
	FinalValue       float64            `json:"final_value"`
	CumulativeReturn float64            `json:"cumulative_return"`
	Sharpe           float64            `json:"sharpe"`
	Volatility       float64            `json:"volatility"`
	MaxDrawdown      float64            `json:"max_drawdown"`
	Sortino          float64            `json:"sortino"`
	Alpha            *float64           `json:"alpha,omitempty"`
	Beta             *float64           `json:"beta,omitempty"`
	TrackingError    *float64           `json:"tracking_error,omitempty"`
	Allocation       map[string]float64 `json:"allocation"` // ticker -> average % of portfolio value
}

// Analyze computes the statistics of series. benchmark, when non-empty, holds
// benchmark values aligned with series and adds alpha, beta and tracking error.
func Analyze(series []ValuePoint, benchmark []float64) (*Metrics, error) {
	if len(series) < 2 {
		return nil, ErrTooFewPoints
	}

	sorted := make([]ValuePoint, len(series))
	copy(sorted, series)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i] = p.TotalValue
	}
	returns := Returns(values)

	m := &Metrics{
		Periods:      len(sorted),
		InitialValue: values[0],
		FinalValue:   values[len(values)-1],
		Sharpe:       Sharpe(returns),
		Volatility:   Volatility(returns),
		MaxDrawdown:  MaxDrawdown(values),
		Sortino:      Sortino(returns),
		Allocation:   Allocation(sorted),
	}
	if values[0] != 0 {
		m.CumulativeReturn = values[len(values)-1]/values[0] - 1
	}

	if len(benchmark) > 0 {
		if len(benchmark) != len(values) {
			return nil, errors.New("benchmark length does not match the value series")
		}
		benchReturns := Returns(benchmark)
		if len(benchReturns) == len(returns) && len(returns) >= 2 {
			alpha, beta := AlphaBeta(returns, benchReturns)
			te := TrackingError(returns, benchReturns)
			m.Alpha, m.Beta, m.TrackingError = &alpha, &beta, &te
		}
	}
	return m, nil
}

// Returns converts a value series to simple period returns.
// A period starting from zero value has no defined return and yields 0.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i-1] = values[i]/values[i-1] - 1
		}
	}
	return out
}

// Sharpe is mean/stdev of weekly returns, annualized by √52. Zero when undefined.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(PeriodsPerYear)
}

// Volatility is the sample stdev of weekly returns, annualized by √52
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(PeriodsPerYear)
}

// Sortino is mean return over the stdev of negative returns, annualized by √52.
// Zero when fewer than two returns are negative.
func Sortino(returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0
	}
	std := stat.StdDev(downside, nil)
	if std == 0 {
		return 0
	}
	return stat.Mean(returns, nil) / std * math.Sqrt(PeriodsPerYear)
}

// MaxDrawdown is the most negative (value - running max) / running max, in [-1, 0]
func MaxDrawdown(values []float64) float64 {
	worst := 0.0
	peak := math.Inf(-1)
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (v - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// AlphaBeta regresses portfolio on benchmark returns. Beta is the sample
// covariance over the benchmark sample variance; alpha is the weekly intercept.
func AlphaBeta(portfolio, benchmark []float64) (alpha, beta float64) {
	variance := stat.Variance(benchmark, nil)
	if variance == 0 {
		return stat.Mean(portfolio, nil), 0
	}
	beta = stat.Covariance(portfolio, benchmark, nil) / variance
	alpha = stat.Mean(portfolio, nil) - beta*stat.Mean(benchmark, nil)
	return alpha, beta
}

// TrackingError is the population stdev of the weekly active returns
func TrackingError(portfolio, benchmark []float64) float64 {
	n := len(portfolio)
	if n == 0 {
		return 0
	}
	active := make([]float64, n)
	floats.SubTo(active, portfolio, benchmark)
	if n == 1 {
		return 0
	}
	return math.Sqrt(stat.Variance(active, nil) * float64(n-1) / float64(n))
}

// Allocation returns each ticker's average value, negatives clipped to zero,
// as a percentage of the average total value. A ticker absent from a point
// counts as zero for that week.
func Allocation(series []ValuePoint) map[string]float64 {
	out := make(map[string]float64)
	if len(series) == 0 {
		return out
	}

	sums := make(map[string]float64)
	totals := make([]float64, len(series))
	for i, p := range series {
		totals[i] = p.TotalValue
		for ticker, v := range p.Holdings {
			sums[ticker] += v
		}
	}

	meanTotal := stat.Mean(totals, nil)
	if meanTotal == 0 {
		return out
	}
	n := float64(len(series))
	for ticker, sum := range sums {
		out[ticker] = math.Max(sum/n, 0) / meanTotal * 100
	}
	return out
}
