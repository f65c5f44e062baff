package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/fundsim/internal/domain"
)

// MockHistory is an in-memory HistoryProvider.
// Prices and returns are keyed by ticker and date.
type MockHistory struct {
	mu       sync.RWMutex
	window   int
	tickers  map[int64]string               // instrument id -> ticker
	holdings map[int64][]int64              // portfolio id -> instrument ids
	points   map[string][]domain.PricePoint // ticker -> points sorted by date
	err      error
}

// NewMockHistory creates a mock provider returning at most window returns per instrument.
func NewMockHistory(window int) *MockHistory {
	return &MockHistory{
		window:   window,
		tickers:  make(map[int64]string),
		holdings: make(map[int64][]int64),
		points:   make(map[string][]domain.PricePoint),
	}
}

// AddInstrument registers an instrument held by a portfolio.
func (m *MockHistory) AddInstrument(portfolioID, instrumentID int64, ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[instrumentID] = ticker
	m.holdings[portfolioID] = append(m.holdings[portfolioID], instrumentID)
}

// AddPoints appends dated observations for a ticker.
func (m *MockHistory) AddPoints(ticker string, points ...domain.PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[ticker] = append(m.points[ticker], points...)
	sort.Slice(m.points[ticker], func(i, j int) bool {
		return m.points[ticker][i].Date.Before(m.points[ticker][j].Date)
	})
}

// SetError makes every call fail with err.
func (m *MockHistory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetTrailingReturns implements domain.HistoryProvider.
func (m *MockHistory) GetTrailingReturns(ctx context.Context, portfolioID int64, asOf time.Time) (domain.ReturnsWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return domain.ReturnsWindow{}, m.err
	}

	series := make(map[string][]float64)
	for _, id := range m.holdings[portfolioID] {
		ticker := m.tickers[id]
		var returns []float64
		for _, p := range m.points[ticker] {
			if p.Date.After(asOf) {
				break
			}
			returns = append(returns, p.Returns)
		}
		if len(returns) == 0 {
			continue
		}
		if len(returns) > m.window {
			returns = returns[len(returns)-m.window:]
		}
		series[ticker] = returns
	}
	return domain.NewReturnsWindow(series), nil
}

// GetLastPrice implements domain.HistoryProvider.
func (m *MockHistory) GetLastPrice(ctx context.Context, instrumentID int64, asOf time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}

	price, found := 0.0, false
	for _, p := range m.points[m.tickers[instrumentID]] {
		if p.Date.After(asOf) {
			break
		}
		price, found = p.Price, true
	}
	if !found {
		return 0, &domain.DataGapError{InstrumentID: instrumentID, Date: asOf}
	}
	return price, nil
}

// MockPortfolioStore is an in-memory PortfolioReader, PositionStore and Resetter.
// Prices come from the attached HistoryProvider, as in the SQL store.
type MockPortfolioStore struct {
	mu         sync.RWMutex
	history    domain.HistoryProvider
	portfolios map[int64]*domain.Portfolio
	positions  map[int64][]domain.Position // stored quantity/weight/value per instrument
	writeErr   error
	writes     int
}

// NewMockPortfolioStore creates an empty store.
func NewMockPortfolioStore(history domain.HistoryProvider) *MockPortfolioStore {
	return &MockPortfolioStore{
		history:    history,
		portfolios: make(map[int64]*domain.Portfolio),
		positions:  make(map[int64][]domain.Position),
	}
}

// AddPortfolio registers a portfolio with zero-quantity positions for the given instruments.
func (m *MockPortfolioStore) AddPortfolio(p domain.Portfolio, instruments map[int64]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := p
	m.portfolios[p.ID] = &copied

	ids := make([]int64, 0, len(instruments))
	for id := range instruments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.positions[p.ID] = append(m.positions[p.ID], domain.Position{
			PortfolioID:  p.ID,
			InstrumentID: id,
			Ticker:       instruments[id],
		})
	}
}

// AddHolding registers one more zero-quantity instrument on an existing portfolio.
func (m *MockPortfolioStore) AddHolding(portfolioID, instrumentID int64, ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[portfolioID] = append(m.positions[portfolioID], domain.Position{
		PortfolioID:  portfolioID,
		InstrumentID: instrumentID,
		Ticker:       ticker,
	})
}

// SetPosition overrides the stored quantity of one instrument.
func (m *MockPortfolioStore) SetPosition(portfolioID, instrumentID, quantity int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.positions[portfolioID] {
		if m.positions[portfolioID][i].InstrumentID == instrumentID {
			m.positions[portfolioID][i].Quantity = quantity
		}
	}
}

// SetWriteError makes WritePositions fail with err.
func (m *MockPortfolioStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Writes returns the number of successful position writes, committed periods included.
func (m *MockPortfolioStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Stored returns the stored positions and portfolio record.
func (m *MockPortfolioStore) Stored(portfolioID int64) ([]domain.Position, domain.Portfolio) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Position, len(m.positions[portfolioID]))
	copy(out, m.positions[portfolioID])
	var p domain.Portfolio
	if stored, ok := m.portfolios[portfolioID]; ok {
		p = *stored
	}
	return out, p
}

// GetPortfolio implements domain.PortfolioReader.
func (m *MockPortfolioStore) GetPortfolio(ctx context.Context, portfolioID int64) (*domain.Portfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.portfolios[portfolioID]
	if !ok {
		return nil, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}
	copied := *p
	return &copied, nil
}

// ReadPositions implements domain.PositionStore.
func (m *MockPortfolioStore) ReadPositions(ctx context.Context, portfolioID int64, asOf time.Time) ([]domain.Position, domain.Cash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.portfolios[portfolioID]
	if !ok {
		return nil, domain.Cash{}, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}

	var positions []domain.Position
	total := p.CashValue
	for _, stored := range m.positions[portfolioID] {
		price, err := m.history.GetLastPrice(ctx, stored.InstrumentID, asOf)
		if err != nil {
			continue
		}
		pos := stored
		pos.Price = price
		pos.Value = float64(pos.Quantity) * price
		total += pos.Value
		positions = append(positions, pos)
	}
	for i := range positions {
		if total > 0 {
			positions[i].Weight = positions[i].Value / total
		}
	}
	cash := domain.Cash{Value: p.CashValue}
	if total > 0 {
		cash.Weight = p.CashValue / total
	}
	return positions, cash, nil
}

// WritePositions implements domain.PositionStore.
func (m *MockPortfolioStore) WritePositions(ctx context.Context, portfolioID int64, positions []domain.Position, cash domain.Cash, totalValue float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	return m.writeLocked(portfolioID, positions, cash, totalValue)
}

func (m *MockPortfolioStore) writeLocked(portfolioID int64, positions []domain.Position, cash domain.Cash, totalValue float64) error {
	p, ok := m.portfolios[portfolioID]
	if !ok {
		return fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}
	for _, pos := range positions {
		for i := range m.positions[portfolioID] {
			if m.positions[portfolioID][i].InstrumentID == pos.InstrumentID {
				m.positions[portfolioID][i].Quantity = pos.Quantity
				m.positions[portfolioID][i].Weight = pos.Weight
				m.positions[portfolioID][i].Value = pos.Value
			}
		}
	}
	p.CashValue = cash.Value
	p.Value = totalValue
	m.writes++
	return nil
}

// ClearPositions implements domain.PositionStore.
func (m *MockPortfolioStore) ClearPositions(ctx context.Context, portfolioID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.positions[portfolioID] {
		m.positions[portfolioID][i].Quantity = 0
		m.positions[portfolioID][i].Weight = 0
		m.positions[portfolioID][i].Value = 0
	}
	return nil
}

// ResetPortfolio implements domain.Resetter.
func (m *MockPortfolioStore) ResetPortfolio(ctx context.Context, portfolioID int64, initialValue float64) error {
	if err := m.ClearPositions(ctx, portfolioID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.portfolios[portfolioID]
	if !ok {
		return fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}
	p.CashValue = initialValue
	p.Value = initialValue
	return nil
}

// MockLedger is an in-memory TradeLedger.
type MockLedger struct {
	mu     sync.RWMutex
	trades []domain.Trade
	err    error
}

// NewMockLedger creates an empty ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

// SetError makes AppendTrades fail with err.
func (m *MockLedger) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// AppendTrades implements domain.TradeLedger.
func (m *MockLedger) AppendTrades(ctx context.Context, trades []domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.trades = append(m.trades, trades...)
	return nil
}

// Trades returns every appended trade.
func (m *MockLedger) Trades() []domain.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// MockUnitOfWork is an in-memory domain.PeriodCommitter over a MockPortfolioStore
// and a MockLedger. Either both are updated or neither is.
type MockUnitOfWork struct {
	store  *MockPortfolioStore
	ledger *MockLedger
}

// NewMockUnitOfWork commits periods to store and ledger.
func NewMockUnitOfWork(store *MockPortfolioStore, ledger *MockLedger) *MockUnitOfWork {
	return &MockUnitOfWork{store: store, ledger: ledger}
}

// CommitPeriod implements domain.PeriodCommitter. The store's write error and the
// ledger's error are both checked before anything is changed.
func (u *MockUnitOfWork) CommitPeriod(ctx context.Context, portfolioID int64, positions []domain.Position, cash domain.Cash, totalValue float64, trades []domain.Trade) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.ledger.mu.Lock()
	defer u.ledger.mu.Unlock()

	if u.store.writeErr != nil {
		return u.store.writeErr
	}
	if u.ledger.err != nil {
		return fmt.Errorf("failed to append trades: %w", u.ledger.err)
	}
	if err := u.store.writeLocked(portfolioID, positions, cash, totalValue); err != nil {
		return err
	}
	u.ledger.trades = append(u.ledger.trades, trades...)
	return nil
}
