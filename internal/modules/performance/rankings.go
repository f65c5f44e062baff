package performance

import (
	"sort"

	"github.com/aristath/fundsim/internal/domain"
)

// PortfolioPerformance is one portfolio's result over an analysis window
type PortfolioPerformance struct {
	PortfolioID    int64               `json:"portfolio_id"`
	Client         string              `json:"client"`
	Manager        string              `json:"manager"`
	Strategy       domain.StrategyKind `json:"strategy"`
	InitialValue   float64             `json:"initial_value"`
	FinalValue     float64             `json:"final_value"`
	PerformancePct float64             `json:"performance_pct"`
}

// ManagerPerformance aggregates a manager's portfolios
type ManagerPerformance struct {
	Manager               string  `json:"manager"`
	Portfolios            int     `json:"portfolios"`
	AveragePerformancePct float64 `json:"average_performance_pct"`
	TotalAUM              float64 `json:"total_aum"`
}

// Rankings holds both leaderboards, best first
type Rankings struct {
	Portfolios []PortfolioPerformance `json:"portfolios"`
	Managers   []ManagerPerformance   `json:"managers"`
}

// PerformancePct is (final - initial) / initial × 100, or 0 for a zero initial value
func PerformancePct(initial, final float64) float64 {
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial * 100
}

// Rank sorts portfolios by performance and aggregates them per manager name.
// Ties keep input order.
func Rank(results []PortfolioPerformance) Rankings {
	portfolios := make([]PortfolioPerformance, len(results))
	copy(portfolios, results)
	sort.SliceStable(portfolios, func(i, j int) bool {
		return portfolios[i].PerformancePct > portfolios[j].PerformancePct
	})

	byName := make(map[string]*ManagerPerformance)
	var order []string
	for _, r := range results {
		m, ok := byName[r.Manager]
		if !ok {
			m = &ManagerPerformance{Manager: r.Manager}
			byName[r.Manager] = m
			order = append(order, r.Manager)
		}
		m.Portfolios++
		m.AveragePerformancePct += r.PerformancePct
		m.TotalAUM += r.FinalValue
	}

	managers := make([]ManagerPerformance, 0, len(order))
	for _, name := range order {
		m := byName[name]
		m.AveragePerformancePct /= float64(m.Portfolios)
		managers = append(managers, *m)
	}
	sort.SliceStable(managers, func(i, j int) bool {
		return managers[i].AveragePerformancePct > managers[j].AveragePerformancePct
	})

	return Rankings{Portfolios: portfolios, Managers: managers}
}
