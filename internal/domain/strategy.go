package domain

import (
	"fmt"
	"strings"
)

// StrategyKind is the closed set of risk strategies a portfolio can run
type StrategyKind string

const (
	// StrategyLowRisk targets a fixed annualized volatility
	StrategyLowRisk StrategyKind = "LowRisk"
	// StrategyMediumRisk runs mean-variance rebalancing under a monthly trade budget
	StrategyMediumRisk StrategyKind = "MediumRisk"
	// StrategyHighRisk is reserved and currently trades nothing
	StrategyHighRisk StrategyKind = "HighRisk"
)

// AllStrategies lists every strategy kind
var AllStrategies = []StrategyKind{StrategyLowRisk, StrategyMediumRisk, StrategyHighRisk}

// ParseStrategyKind accepts the canonical names and the labels stored by onboarding
// ("Low Risk", "Medium Risk", "High Risk", "High Yield Equity Only").
func ParseStrategyKind(s string) (StrategyKind, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(s), ""))
	switch normalized {
	case "lowrisk":
		return StrategyLowRisk, nil
	case "mediumrisk":
		return StrategyMediumRisk, nil
	case "highrisk", "highyieldequityonly":
		return StrategyHighRisk, nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Label returns the human-readable label
func (k StrategyKind) Label() string {
	switch k {
	case StrategyLowRisk:
		return "Low Risk"
	case StrategyMediumRisk:
		return "Medium Risk"
	case StrategyHighRisk:
		return "High Risk"
	}
	return string(k)
}

// Valid reports whether k is a member of the closed set
func (k StrategyKind) Valid() bool {
	for _, s := range AllStrategies {
		if s == k {
			return true
		}
	}
	return false
}
