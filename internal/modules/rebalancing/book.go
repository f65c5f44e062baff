// Package rebalancing provides the risk strategy policies that turn a portfolio's
// positions and trailing returns into trades.
package rebalancing

import (
	"fmt"
	"math"

	"github.com/aristath/fundsim/internal/domain"
)

// Book is the in-memory working copy of one portfolio's positions and cash
// during a single rebalancing period. Trades are applied to the book at the
// position's current price; weights are recomputed after every trade.
type Book struct {
	positions []domain.Position
	index     map[string]int // ticker -> position index
	cash      float64
	value     float64 // portfolio value used to size weight deltas, fixed for the period
}

// NewBook copies positions and cash into a new book. portfolioValue is the value
// weight deltas are converted against.
func NewBook(positions []domain.Position, cash domain.Cash, portfolioValue float64) *Book {
	b := &Book{
		positions: make([]domain.Position, len(positions)),
		index:     make(map[string]int, len(positions)),
		cash:      cash.Value,
		value:     portfolioValue,
	}
	copy(b.positions, positions)
	for i, p := range b.positions {
		b.index[p.Ticker] = i
	}
	b.renormalize()
	return b
}

// Positions returns a copy of the current positions in their original order.
func (b *Book) Positions() []domain.Position {
	out := make([]domain.Position, len(b.positions))
	copy(out, b.positions)
	return out
}

// Position returns the position for ticker.
func (b *Book) Position(ticker string) (domain.Position, bool) {
	i, ok := b.index[ticker]
	if !ok {
		return domain.Position{}, false
	}
	return b.positions[i], true
}

// Cash returns the current cash pseudo-position.
func (b *Book) Cash() domain.Cash {
	total := b.TotalValue()
	c := domain.Cash{Value: b.cash}
	if total > 0 {
		c.Weight = b.cash / total
	}
	return c
}

// PortfolioValue returns the value weight deltas are sized against.
func (b *Book) PortfolioValue() float64 {
	return b.value
}

// TotalValue returns Σ position values + cash.
func (b *Book) TotalValue() float64 {
	total := b.cash
	for _, p := range b.positions {
		total += p.Value
	}
	return total
}

// QuantityFor converts a weight delta into a signed share quantity at price,
// truncated toward zero.
func (b *Book) QuantityFor(weightDelta, price float64) int64 {
	if price <= 0 || math.IsNaN(weightDelta) || math.IsInf(weightDelta, 0) {
		return 0
	}
	return int64(weightDelta * b.value / price)
}

// CanApply reports why a trade of quantity shares of ticker cannot be applied, if it cannot.
// A BUY needs quantity·price ≤ cash; a SELL needs |quantity| ≤ held quantity.
func (b *Book) CanApply(ticker string, quantity int64) error {
	i, ok := b.index[ticker]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, ticker)
	}
	p := b.positions[i]
	switch {
	case quantity > 0:
		if float64(quantity)*p.Price > b.cash {
			return fmt.Errorf("%w: buying %d %s costs %.2f, cash %.2f",
				domain.ErrInsufficientFunds, quantity, ticker, float64(quantity)*p.Price, b.cash)
		}
	case quantity < 0:
		if -quantity > p.Quantity {
			return fmt.Errorf("%w: selling %d %s, holding %d",
				domain.ErrInsufficientHoldings, -quantity, ticker, p.Quantity)
		}
	}
	return nil
}

// Apply executes a signed quantity of ticker at its current price and returns the trade.
// Zero quantities are rejected by the caller's contract; Apply treats them as an error.
func (b *Book) Apply(ticker string, quantity int64) (domain.Trade, error) {
	if quantity == 0 {
		return domain.Trade{}, fmt.Errorf("zero quantity trade for %s", ticker)
	}
	if err := b.CanApply(ticker, quantity); err != nil {
		return domain.Trade{}, err
	}

	i := b.index[ticker]
	p := &b.positions[i]
	amount := float64(quantity) * p.Price

	p.Quantity += quantity
	p.Value = float64(p.Quantity) * p.Price
	b.cash -= amount
	b.renormalize()

	action := domain.ActionBuy
	if quantity < 0 {
		action = domain.ActionSell
	}

	return domain.Trade{
		PortfolioID:  p.PortfolioID,
		InstrumentID: p.InstrumentID,
		Ticker:       p.Ticker,
		Action:       action,
		Quantity:     quantity,
		Price:        p.Price,
	}, nil
}

// renormalize recomputes every value and weight from quantity, price and the current total.
func (b *Book) renormalize() {
	for i := range b.positions {
		p := &b.positions[i]
		p.Value = float64(p.Quantity) * p.Price
	}
	total := b.TotalValue()
	for i := range b.positions {
		if total > 0 {
			b.positions[i].Weight = b.positions[i].Value / total
		} else {
			b.positions[i].Weight = 0
		}
	}
}
