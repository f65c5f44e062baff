// Package domain provides core domain models and types.
package domain

import (
	"sort"
	"time"
)

// Action is the side of a trade
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Portfolio represents a managed portfolio as stored
type Portfolio struct {
	ID        int64        `json:"id"`
	ManagerID int64        `json:"manager_id"`
	ClientID  int64        `json:"client_id"`
	Name      string       `json:"name"`
	Strategy  StrategyKind `json:"strategy"`
	Sector    string       `json:"sector"`
	Size      int          `json:"size"`       // Declared instrument count
	Value     float64      `json:"value"`      // Σ position values + cash after the last write
	CashValue float64      `json:"cash_value"` // Cash balance
}

// Position is the holding of one instrument in a portfolio.
// Weight and Value are always derived from Quantity, Price and the portfolio total.
type Position struct {
	PortfolioID  int64   `json:"portfolio_id"`
	InstrumentID int64   `json:"instrument_id"`
	Ticker       string  `json:"ticker"`
	Quantity     int64   `json:"quantity"`
	Weight       float64 `json:"weight"`
	Price        float64 `json:"price"`
	Value        float64 `json:"value"`
}

// Cash is the cash pseudo-position (price fixed at 1)
type Cash struct {
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// Trade is an executed trade as recorded in the ledger.
// Quantity is signed: positive for BUY, negative for SELL.
type Trade struct {
	ID           int64     `json:"id,omitempty"`
	PortfolioID  int64     `json:"portfolio_id"`
	InstrumentID int64     `json:"instrument_id"`
	Ticker       string    `json:"ticker"`
	Date         time.Time `json:"date"`
	Action       Action    `json:"action"`
	Quantity     int64     `json:"quantity"`
	Price        float64   `json:"price"`
	RunID        string    `json:"run_id,omitempty"`
}

// Amount returns the cash amount moved by the trade (negative for SELL)
func (t Trade) Amount() float64 {
	return float64(t.Quantity) * t.Price
}

// ReturnsWindow holds trailing periodic returns per ticker, oldest first.
// Tickers keeps a stable column order.
type ReturnsWindow struct {
	Tickers []string
	Series  map[string][]float64
}

// NewReturnsWindow builds a window from a ticker → returns map with tickers sorted
func NewReturnsWindow(series map[string][]float64) ReturnsWindow {
	tickers := make([]string, 0, len(series))
	for ticker := range series {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return ReturnsWindow{Tickers: tickers, Series: series}
}

// Len returns the number of instruments in the window
func (w ReturnsWindow) Len() int {
	return len(w.Tickers)
}

// Periods returns the longest series length
func (w ReturnsWindow) Periods() int {
	maxLen := 0
	for _, ticker := range w.Tickers {
		if n := len(w.Series[ticker]); n > maxLen {
			maxLen = n
		}
	}
	return maxLen
}

// Complete returns a window containing only the columns whose length equals
// the longest column, so the result is a rectangular matrix.
func (w ReturnsWindow) Complete() ReturnsWindow {
	periods := w.Periods()
	out := ReturnsWindow{Series: make(map[string][]float64)}
	if periods == 0 {
		return out
	}
	for _, ticker := range w.Tickers {
		if s := w.Series[ticker]; len(s) == periods {
			out.Tickers = append(out.Tickers, ticker)
			out.Series[ticker] = s
		}
	}
	return out
}

// PricePoint is one dated price observation with its periodic return
type PricePoint struct {
	Date    time.Time `json:"date"`
	Price   float64   `json:"price"`
	Returns float64   `json:"returns"`
}

// PortfolioSummary is a portfolio joined with client and manager names
type PortfolioSummary struct {
	Portfolio
	ClientName       string  `json:"client_name"`
	ManagerName      string  `json:"manager_name"`
	InvestmentAmount float64 `json:"investment_amount"`
}
