package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategyKind(t *testing.T) {
	tests := []struct {
		input   string
		want    StrategyKind
		wantErr bool
	}{
		{"LowRisk", StrategyLowRisk, false},
		{"Low Risk", StrategyLowRisk, false},
		{"medium risk", StrategyMediumRisk, false},
		{"MediumRisk", StrategyMediumRisk, false},
		{"High Risk", StrategyHighRisk, false},
		{"High Yield Equity Only", StrategyHighRisk, false},
		{"Aggressive", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStrategyKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestStrategyKind_Label(t *testing.T) {
	assert.Equal(t, "Low Risk", StrategyLowRisk.Label())
	assert.Equal(t, "Medium Risk", StrategyMediumRisk.Label())
	assert.Equal(t, "High Risk", StrategyHighRisk.Label())
	assert.False(t, StrategyKind("Other").Valid())
}

func TestReturnsWindow_Complete(t *testing.T) {
	w := NewReturnsWindow(map[string][]float64{
		"BBB": {0.01, 0.02, 0.03},
		"AAA": {0.01, -0.01, 0.02},
		"CCC": {0.05},
	})

	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, w.Tickers)
	assert.Equal(t, 3, w.Periods())

	c := w.Complete()
	assert.Equal(t, []string{"AAA", "BBB"}, c.Tickers)
	assert.Contains(t, c.Series, "AAA")
	assert.NotContains(t, c.Series, "CCC")
	assert.Equal(t, 2, c.Len())
}

func TestReturnsWindow_CompleteEmpty(t *testing.T) {
	c := NewReturnsWindow(nil).Complete()
	assert.Equal(t, 0, c.Len())
}

func TestTrade_Amount(t *testing.T) {
	buy := Trade{Action: ActionBuy, Quantity: 10, Price: 5}
	sell := Trade{Action: ActionSell, Quantity: -4, Price: 5}
	assert.Equal(t, 50.0, buy.Amount())
	assert.Equal(t, -20.0, sell.Amount())
}

func TestErrors_Unwrap(t *testing.T) {
	cfgErr := &ConfigurationError{PortfolioID: 7, Err: ErrPortfolioNotFound}
	wrapped := fmt.Errorf("driver: %w", cfgErr)
	assert.ErrorIs(t, wrapped, ErrPortfolioNotFound)

	var target *ConfigurationError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, int64(7), target.PortfolioID)

	cause := errors.New("disk full")
	pErr := &PersistenceError{Op: "commit period", Err: cause}
	assert.ErrorIs(t, pErr, cause)
	assert.Contains(t, pErr.Error(), "commit period")

	gap := &DataGapError{InstrumentID: 3, Date: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "no price for instrument 3 as of 2024-01-08", gap.Error())
}
