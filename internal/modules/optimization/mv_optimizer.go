package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/metrics"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Options parameterize the max-Sharpe problem.
type Options struct {
	RiskFreeRate        float64 // Annual risk-free rate
	MaxWeight           float64 // Upper bound for every weight
	AnnualizationFactor float64 // Periods per year applied to mean and variance
}

// DefaultOptions returns the historical fund parameters (252 applied to weekly returns).
func DefaultOptions() Options {
	return Options{
		RiskFreeRate:        0.02,
		MaxWeight:           0.20,
		AnnualizationFactor: 252,
	}
}

// Result is the outcome of one optimization.
type Result struct {
	Weights   map[string]float64
	Converged bool    // false when Weights is the equal-weight fallback
	Sharpe    float64 // Annualized Sharpe ratio of Weights
}

// MVOptimizer performs long-only max-Sharpe mean-variance optimization.
type MVOptimizer struct {
	opts Options
	log  zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(opts Options, log zerolog.Logger) *MVOptimizer {
	if opts.AnnualizationFactor <= 0 {
		opts.AnnualizationFactor = DefaultOptions().AnnualizationFactor
	}
	return &MVOptimizer{
		opts: opts,
		log:  log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// Options returns the optimizer parameters.
func (mvo *MVOptimizer) Options() Options {
	return mvo.opts
}

// Optimize computes weights maximizing the annualized Sharpe ratio
//
//	(f·μ'w − r_f) / (√f·√(w'Σw))
//
// subject to Σw = 1 and 0 ≤ w_i ≤ max_weight, starting from equal weights.
//
// The window must be a complete matrix (every column the same length, at least 2 periods);
// otherwise an error is returned. Solver failures and non-convergence are not errors:
// the equal-weight vector is returned with Converged=false.
func (mvo *MVOptimizer) Optimize(window domain.ReturnsWindow) (*Result, error) {
	tickers := window.Tickers
	n := len(tickers)
	if n == 0 {
		return nil, fmt.Errorf("no instruments provided")
	}

	sigma, err := calculateSampleCovariance(window.Series, tickers)
	if err != nil {
		return nil, err
	}

	mu := make([]float64, n)
	for i, ticker := range tickers {
		mu[i] = stat.Mean(window.Series[ticker], nil)
	}

	maxWeight := mvo.opts.MaxWeight
	if maxWeight*float64(n) < 1-1e-12 {
		mvo.log.Warn().
			Int("instruments", n).
			Float64("max_weight", maxWeight).
			Msg("Weight cap infeasible for instrument count, using equal weights")
		metrics.OptimizerFallbacksTotal.WithLabelValues("infeasible_cap").Inc()
		return mvo.fallback(tickers, mu, sigma), nil
	}

	// Penalty keeps the unconstrained iterate close to its projection
	penaltyWeight := 1000.0

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectCappedSimplex(x, maxWeight)

			obj := -mvo.sharpe(w, mu, sigma)
			for i := range x {
				d := x[i] - w[i]
				obj += penaltyWeight * d * d
			}
			return obj
		},
	}

	initial := equalWeights(n)
	settings := &optimize.Settings{
		FuncEvaluations: 20000 * n,
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if err != nil {
		mvo.log.Warn().Err(err).Int("instruments", n).Msg("Optimization failed, using equal weights")
		metrics.OptimizerFallbacksTotal.WithLabelValues("solver_error").Inc()
		return mvo.fallback(tickers, mu, sigma), nil
	}

	if !converged(result.Status) {
		mvo.log.Warn().
			Err(domain.ErrNotConverged).
			Str("status", result.Status.String()).
			Int("instruments", n).
			Msg("Optimization did not converge, using equal weights")
		metrics.OptimizerFallbacksTotal.WithLabelValues("not_converged").Inc()
		return mvo.fallback(tickers, mu, sigma), nil
	}

	xFinal := projectCappedSimplex(result.X, maxWeight)
	weights := make(map[string]float64, n)
	for i, ticker := range tickers {
		weights[ticker] = xFinal[i]
	}

	return &Result{
		Weights:   weights,
		Converged: true,
		Sharpe:    mvo.sharpe(xFinal, mu, sigma),
	}, nil
}

// sharpe returns the annualized Sharpe ratio of w.
func (mvo *MVOptimizer) sharpe(w, mu []float64, sigma [][]float64) float64 {
	f := mvo.opts.AnnualizationFactor
	n := len(w)

	var returnVal, variance float64
	for i := 0; i < n; i++ {
		returnVal += mu[i] * w[i]
		for j := 0; j < n; j++ {
			variance += w[i] * w[j] * sigma[i][j]
		}
	}
	stdDev := math.Sqrt(math.Max(variance, 1e-10))

	return (f*returnVal - mvo.opts.RiskFreeRate) / (math.Sqrt(f) * stdDev)
}

func (mvo *MVOptimizer) fallback(tickers []string, mu []float64, sigma [][]float64) *Result {
	w := equalWeights(len(tickers))
	weights := make(map[string]float64, len(tickers))
	for i, ticker := range tickers {
		weights[ticker] = w[i]
	}
	return &Result{
		Weights:   weights,
		Converged: false,
		Sharpe:    mvo.sharpe(w, mu, sigma),
	}
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}
