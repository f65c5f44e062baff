package rebalancing

import (
	"context"
	"fmt"

	"github.com/aristath/fundsim/internal/config"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/rs/zerolog"
)

// MediumRisk moves toward max-Sharpe weights under a monthly trade budget.
// The budget is checked and consumed per trade, so a period emits at most
// the trades remaining for the month.
type MediumRisk struct {
	cfg       config.PolicyConfig
	optimizer Optimizer
	log       zerolog.Logger
}

// NewMediumRisk creates the turnover-constrained policy.
func NewMediumRisk(cfg config.PolicyConfig, optimizer Optimizer, log zerolog.Logger) *MediumRisk {
	return &MediumRisk{
		cfg:       cfg,
		optimizer: optimizer,
		log:       log.With().Str("policy", string(domain.StrategyMediumRisk)).Logger(),
	}
}

// Kind implements Policy.
func (p *MediumRisk) Kind() domain.StrategyKind {
	return domain.StrategyMediumRisk
}

// Decide implements Policy.
func (p *MediumRisk) Decide(ctx context.Context, in Input) (Decision, error) {
	if in.Budget == nil {
		return Decision{}, fmt.Errorf("medium risk policy requires a monthly budget")
	}
	if in.Budget.Remaining() == 0 {
		p.log.Debug().
			Time("date", in.Date).
			Int("used", in.Budget.Used()).
			Int("limit", in.Budget.Limit()).
			Msg("Monthly trade budget exhausted")
		return Decision{}, nil
	}

	window := in.Returns.Complete()
	if window.Len() == 0 {
		return Decision{}, nil
	}
	result, err := p.optimizer.Optimize(window)
	if err != nil {
		p.log.Warn().Err(err).Msg("Optimizer rejected returns window, no trades")
		return Decision{}, nil
	}

	return rebalanceToTargets(in.Book, result.Weights, p.cfg.WeightDecimals,
		func() bool { return in.Budget.Remaining() > 0 },
		in.Budget.Consume,
	)
}
