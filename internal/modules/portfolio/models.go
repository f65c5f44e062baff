// Package portfolio stores clients, managers, portfolios and their positions.
package portfolio

import (
	"time"

	"github.com/aristath/fundsim/internal/domain"
)

// Client is an investor whose money a portfolio manages
type Client struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Country          string    `json:"country,omitempty"`
	RiskProfile      string    `json:"risk_profile"`
	InvestmentAmount float64   `json:"investment_amount"`
	RegistrationDate time.Time `json:"registration_date"`
}

// Manager runs portfolios for one or more strategies
type Manager struct {
	ID         int64                 `json:"id"`
	Name       string                `json:"name"`
	Email      string                `json:"email,omitempty"`
	Strategies []domain.StrategyKind `json:"strategies"`
}

// Runs reports whether the manager is allowed to run strategy
func (m Manager) Runs(strategy domain.StrategyKind) bool {
	for _, s := range m.Strategies {
		if s == strategy {
			return true
		}
	}
	return false
}
