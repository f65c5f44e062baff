package rebalancing

import (
	"context"

	"github.com/aristath/fundsim/internal/domain"
)

// HighRisk is the reserved high-yield equity slot. It performs no trades.
type HighRisk struct{}

// NewHighRisk creates the no-op policy.
func NewHighRisk() *HighRisk {
	return &HighRisk{}
}

// Kind implements Policy.
func (p *HighRisk) Kind() domain.StrategyKind {
	return domain.StrategyHighRisk
}

// Decide implements Policy.
func (p *HighRisk) Decide(ctx context.Context, in Input) (Decision, error) {
	return Decision{}, nil
}
