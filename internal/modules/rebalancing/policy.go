package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/aristath/fundsim/internal/modules/optimization"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Skip reasons
const (
	SkipInsufficientFunds    = "insufficient_funds"
	SkipInsufficientHoldings = "insufficient_holdings"
	SkipBudgetExhausted      = "budget_exhausted"
)

// Input is everything a policy sees for one period.
type Input struct {
	Date    time.Time
	Book    *Book // Working copy; the policy applies its trades to it
	Returns domain.ReturnsWindow
	Budget  *MonthlyBudget
}

// Skip is a trade a policy computed but did not emit.
type Skip struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
	Reason   string `json:"reason"`
}

// Decision is a policy's output for one period. The updated positions and
// cash are left in Input.Book.
type Decision struct {
	Trades []domain.Trade
	Skips  []Skip
}

// Policy decides a period's trades for one strategy.
type Policy interface {
	Kind() domain.StrategyKind
	Decide(ctx context.Context, in Input) (Decision, error)
}

// Optimizer produces target weights for a complete returns window.
type Optimizer interface {
	Optimize(window domain.ReturnsWindow) (*optimization.Result, error)
}

// Registry binds every strategy kind to its policy.
type Registry struct {
	policies map[domain.StrategyKind]Policy
}

// NewRegistry creates the registry with the LowRisk, MediumRisk and HighRisk policies.
func NewRegistry(cfg config.PolicyConfig, optimizer Optimizer, log zerolog.Logger) *Registry {
	r := &Registry{policies: make(map[domain.StrategyKind]Policy)}
	r.Register(NewLowRisk(cfg, optimizer, log))
	r.Register(NewMediumRisk(cfg, optimizer, log))
	r.Register(NewHighRisk())
	return r
}

// Register adds or replaces the policy for its kind.
func (r *Registry) Register(p Policy) {
	r.policies[p.Kind()] = p
}

// Get returns the policy bound to kind.
func (r *Registry) Get(kind domain.StrategyKind) (Policy, error) {
	p, ok := r.policies[kind]
	if !ok {
		return nil, fmt.Errorf("no policy registered for strategy %q", kind)
	}
	return p, nil
}

// roundTo rounds x to the given number of decimals.
func roundTo(x float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(x*pow) / pow
}

// annualizedVolatility is the sample standard deviation of series times √factor.
// Fewer than two observations yield NaN.
func annualizedVolatility(series []float64, factor float64) float64 {
	if len(series) < 2 {
		return math.NaN()
	}
	return stat.StdDev(series, nil) * math.Sqrt(factor)
}

// portfolioReturns returns the weighted sum of per-instrument returns, using
// the book's current weights. Instruments missing from the window contribute nothing.
func portfolioReturns(book *Book, window domain.ReturnsWindow) []float64 {
	out := make([]float64, window.Periods())
	for _, p := range book.Positions() {
		series, ok := window.Series[p.Ticker]
		if !ok {
			continue
		}
		for i, r := range series {
			out[i] += r * p.Weight
		}
	}
	return out
}

// rebalanceToTargets trades every position toward its target weight. Both weights are rounded
// before differencing. allow is asked before each trade; returning false records a budget skip.
// Funds and holdings shortfalls are recorded as skips, never returned as errors.
func rebalanceToTargets(book *Book, targets map[string]float64, decimals int, allow func() bool, onTrade func()) (Decision, error) {
	var d Decision
	for _, p := range book.Positions() {
		current, _ := book.Position(p.Ticker)
		delta := roundTo(targets[p.Ticker], decimals) - roundTo(current.Weight, decimals)
		quantity := book.QuantityFor(delta, current.Price)
		if quantity == 0 {
			continue
		}
		if allow != nil && !allow() {
			d.Skips = append(d.Skips, Skip{Ticker: p.Ticker, Quantity: quantity, Reason: SkipBudgetExhausted})
			continue
		}

		trade, err := book.Apply(p.Ticker, quantity)
		if err != nil {
			reason, ok := skipReason(err)
			if !ok {
				return d, err
			}
			d.Skips = append(d.Skips, Skip{Ticker: p.Ticker, Quantity: quantity, Reason: reason})
			continue
		}
		d.Trades = append(d.Trades, trade)
		if onTrade != nil {
			onTrade()
		}
	}
	return d, nil
}

func skipReason(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return SkipInsufficientFunds, true
	case errors.Is(err, domain.ErrInsufficientHoldings):
		return SkipInsufficientHoldings, true
	}
	return "", false
}
