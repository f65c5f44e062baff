package rebalancing

import "time"

// MonthlyBudget counts trades per calendar month for turnover-constrained policies.
// The count resets whenever the observed month changes.
type MonthlyBudget struct {
	limit int
	month int // year*12 + month of the last observed date, 0 before the first
	used  int
}

// BudgetSnapshot is a saved budget state
type BudgetSnapshot struct {
	month int
	used  int
}

// NewMonthlyBudget creates a budget allowing limit trades per month.
func NewMonthlyBudget(limit int) *MonthlyBudget {
	return &MonthlyBudget{limit: limit}
}

// Observe moves the budget to date's month, resetting the count when the month changed.
// It reports whether a reset happened.
func (b *MonthlyBudget) Observe(date time.Time) bool {
	key := date.Year()*12 + int(date.Month())
	if key == b.month {
		return false
	}
	b.month = key
	b.used = 0
	return true
}

// Remaining returns how many trades are still allowed this month.
func (b *MonthlyBudget) Remaining() int {
	if r := b.limit - b.used; r > 0 {
		return r
	}
	return 0
}

// Used returns the trades counted this month.
func (b *MonthlyBudget) Used() int {
	return b.used
}

// Limit returns the monthly allowance.
func (b *MonthlyBudget) Limit() int {
	return b.limit
}

// Consume counts one trade.
func (b *MonthlyBudget) Consume() {
	b.used++
}

// Snapshot captures the current state.
func (b *MonthlyBudget) Snapshot() BudgetSnapshot {
	return BudgetSnapshot{month: b.month, used: b.used}
}

// Restore rolls the budget back to a snapshot.
func (b *MonthlyBudget) Restore(s BudgetSnapshot) {
	b.month = s.month
	b.used = s.used
}
