package rebalancing

import (
	"context"
	"math"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/rs/zerolog"
)

// LowRisk targets an annualized portfolio volatility.
//
// Above target it sells down instruments that are individually riskier than the
// target, never buying. Below target it moves toward max-Sharpe weights.
// At target (or when volatility is undefined) it does nothing.
// It has no turnover budget.
type LowRisk struct {
	cfg       config.PolicyConfig
	optimizer Optimizer
	log       zerolog.Logger
}

// NewLowRisk creates the volatility-targeting policy.
func NewLowRisk(cfg config.PolicyConfig, optimizer Optimizer, log zerolog.Logger) *LowRisk {
	return &LowRisk{
		cfg:       cfg,
		optimizer: optimizer,
		log:       log.With().Str("policy", string(domain.StrategyLowRisk)).Logger(),
	}
}

// Kind implements Policy.
func (p *LowRisk) Kind() domain.StrategyKind {
	return domain.StrategyLowRisk
}

// Decide implements Policy.
func (p *LowRisk) Decide(ctx context.Context, in Input) (Decision, error) {
	window := in.Returns.Complete()
	volatility := annualizedVolatility(portfolioReturns(in.Book, window), p.cfg.AnnualizationFactor)

	p.log.Debug().
		Time("date", in.Date).
		Float64("volatility", volatility).
		Float64("target", p.cfg.TargetVolatility).
		Msg("Portfolio volatility")

	switch {
	case math.IsNaN(volatility):
		return Decision{}, nil
	case volatility > p.cfg.TargetVolatility:
		return p.deleverage(in.Book, window, volatility)
	case volatility < p.cfg.TargetVolatility:
		return p.reallocate(in.Book, window)
	}
	return Decision{}, nil
}

// deleverage sells risky instruments toward weight·(target/volatility).
// Holdings shortfalls become skips; any other trade error aborts the period.
func (p *LowRisk) deleverage(book *Book, window domain.ReturnsWindow, volatility float64) (Decision, error) {
	risky := make(map[string]bool)
	for _, ticker := range window.Tickers {
		if annualizedVolatility(window.Series[ticker], p.cfg.AnnualizationFactor) > p.cfg.TargetVolatility {
			risky[ticker] = true
		}
	}

	scale := p.cfg.TargetVolatility / volatility
	decimals := p.cfg.WeightDecimals

	var d Decision
	var lastDelta *float64
	for _, pos := range book.Positions() {
		current, _ := book.Position(pos.Ticker)

		var delta float64
		if risky[pos.Ticker] {
			target := roundTo(current.Weight*scale, decimals)
			delta = target - roundTo(current.Weight, decimals)
			lastDelta = &delta
		} else {
			// Legacy sizing reuses the previous risky delta for every following position
			if p.cfg.Deleverage != config.DeleverageLegacy || lastDelta == nil {
				continue
			}
			delta = *lastDelta
		}

		quantity := book.QuantityFor(delta, current.Price)
		if quantity >= 0 {
			continue
		}

		trade, err := book.Apply(pos.Ticker, quantity)
		if err != nil {
			reason, ok := skipReason(err)
			if !ok {
				return d, err
			}
			d.Skips = append(d.Skips, Skip{Ticker: pos.Ticker, Quantity: quantity, Reason: reason})
			continue
		}
		d.Trades = append(d.Trades, trade)
	}
	return d, nil
}

// reallocate trades toward the optimizer's max-Sharpe weights.
func (p *LowRisk) reallocate(book *Book, window domain.ReturnsWindow) (Decision, error) {
	if window.Len() == 0 {
		return Decision{}, nil
	}
	result, err := p.optimizer.Optimize(window)
	if err != nil {
		p.log.Warn().Err(err).Msg("Optimizer rejected returns window, no trades")
		return Decision{}, nil
	}
	return rebalanceToTargets(book, result.Weights, p.cfg.WeightDecimals, nil, nil)
}
