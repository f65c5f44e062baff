package rebalancing

import (
	"testing"

	"github.com/aristath/fundsim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoAssetBook() *Book {
	positions := []domain.Position{
		{PortfolioID: 1, InstrumentID: 10, Ticker: "AAA", Quantity: 500, Price: 100},
		{PortfolioID: 1, InstrumentID: 20, Ticker: "BBB", Quantity: 250, Price: 80},
	}
	// 50,000 + 20,000 + 30,000 cash
	return NewBook(positions, domain.Cash{Value: 30000}, 100000)
}

func assertWeightsNormalized(t *testing.T, b *Book) {
	t.Helper()
	total := b.TotalValue()
	for _, p := range b.Positions() {
		assert.InDelta(t, float64(p.Quantity)*p.Price, p.Value, 1e-9, p.Ticker)
		assert.InDelta(t, p.Value/total, p.Weight, 1e-9, p.Ticker)
	}
	assert.InDelta(t, b.Cash().Value/total, b.Cash().Weight, 1e-9)
}

func TestNewBook_RecomputesWeights(t *testing.T) {
	// Stored weights are ignored
	positions := []domain.Position{
		{Ticker: "AAA", Quantity: 10, Price: 10, Weight: 0.9, Value: 1},
	}
	b := NewBook(positions, domain.Cash{Value: 100, Weight: 0.5}, 200)

	p, ok := b.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 100.0, p.Value)
	assert.InDelta(t, 0.5, p.Weight, 1e-12)
	assert.InDelta(t, 0.5, b.Cash().Weight, 1e-12)
	assert.Equal(t, 200.0, b.TotalValue())

	// Caller's slice is not aliased
	positions[0].Quantity = 99
	p, _ = b.Position("AAA")
	assert.Equal(t, int64(10), p.Quantity)
}

func TestBook_ApplyBuyConservesValue(t *testing.T) {
	b := twoAssetBook()
	before := b.TotalValue()

	trade, err := b.Apply("AAA", 100)
	require.NoError(t, err)

	assert.Equal(t, domain.ActionBuy, trade.Action)
	assert.Equal(t, int64(100), trade.Quantity)
	assert.Equal(t, 100.0, trade.Price)
	assert.Equal(t, int64(10), trade.InstrumentID)
	assert.Equal(t, int64(1), trade.PortfolioID)

	p, _ := b.Position("AAA")
	assert.Equal(t, int64(600), p.Quantity)
	assert.Equal(t, 60000.0, p.Value)
	assert.Equal(t, 20000.0, b.Cash().Value)
	assert.InDelta(t, before, b.TotalValue(), 1e-9)
	assertWeightsNormalized(t, b)
}

func TestBook_ApplySellConservesValue(t *testing.T) {
	b := twoAssetBook()

	trade, err := b.Apply("BBB", -50)
	require.NoError(t, err)

	assert.Equal(t, domain.ActionSell, trade.Action)
	assert.Equal(t, int64(-50), trade.Quantity)
	assert.Equal(t, -4000.0, trade.Amount())

	p, _ := b.Position("BBB")
	assert.Equal(t, int64(200), p.Quantity)
	assert.Equal(t, 34000.0, b.Cash().Value)
	assert.InDelta(t, 100000.0, b.TotalValue(), 1e-9)
	assertWeightsNormalized(t, b)
}

func TestBook_RejectsOverdraftAndOversell(t *testing.T) {
	b := twoAssetBook()

	_, err := b.Apply("AAA", 301) // 30,100 > 30,000 cash
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = b.Apply("BBB", -251)
	assert.ErrorIs(t, err, domain.ErrInsufficientHoldings)

	_, err = b.Apply("ZZZ", 1)
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)

	_, err = b.Apply("AAA", 0)
	assert.Error(t, err)

	// Exactly all cash and exactly all holdings are allowed
	_, err = b.Apply("AAA", 300)
	require.NoError(t, err)
	assert.Equal(t, 0.0, b.Cash().Value)

	_, err = b.Apply("BBB", -250)
	require.NoError(t, err)
	p, _ := b.Position("BBB")
	assert.Equal(t, int64(0), p.Quantity)
	assert.GreaterOrEqual(t, b.Cash().Value, 0.0)
}

func TestBook_QuantityForTruncatesTowardZero(t *testing.T) {
	b := twoAssetBook()

	tests := []struct {
		delta float64
		price float64
		want  int64
	}{
		{0.10, 100, 100},
		{0.0105, 100, 10},  // 10.5 -> 10
		{-0.0105, 100, -10}, // -10.5 -> -10
		{0.00009, 100, 0},
		{0.1, 0, 0},
		{-0.08000000000000002, 100, -80},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.QuantityFor(tt.delta, tt.price), "delta=%v price=%v", tt.delta, tt.price)
	}
}

func TestBook_EmptyPortfolio(t *testing.T) {
	b := NewBook(nil, domain.Cash{}, 0)
	assert.Equal(t, 0.0, b.TotalValue())
	assert.Equal(t, 0.0, b.Cash().Weight)
	assert.Empty(t, b.Positions())
}
