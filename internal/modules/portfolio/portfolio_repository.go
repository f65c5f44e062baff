package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundsim/internal/database"
	"github.com/aristath/fundsim/internal/domain"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// ErrClientNotFound is returned when a client id does not exist
var ErrClientNotFound = errors.New("client not found")

// PortfolioRepository implements domain.PortfolioReader, domain.PositionStore and
// domain.Resetter. Prices for marking positions come from the HistoryProvider.
type PortfolioRepository struct {
	db      *sql.DB
	history domain.HistoryProvider
	log     zerolog.Logger
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db *sql.DB, history domain.HistoryProvider, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:      db,
		history: history,
		log:     log.With().Str("repo", "portfolio").Logger(),
	}
}

// CreateManager inserts a manager and the strategies they run
func (r *PortfolioRepository) CreateManager(ctx context.Context, m Manager) (*Manager, error) {
	for _, s := range m.Strategies {
		if !s.Valid() {
			return nil, fmt.Errorf("invalid strategy %q for manager %s", s, m.Name)
		}
	}

	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `INSERT INTO managers (name, email) VALUES (?, ?)`,
			m.Name, sql.NullString{String: m.Email, Valid: m.Email != ""})
		if err != nil {
			return fmt.Errorf("failed to insert manager: %w", err)
		}
		if m.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get manager id: %w", err)
		}

		for _, s := range m.Strategies {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO manager_strategies (manager_id, strategy) VALUES (?, ?)`,
				m.ID, s.Label()); err != nil {
				return fmt.Errorf("failed to insert manager strategy: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindManager returns the manager with the fewest portfolios among those running
// strategy, or nil when nobody runs it.
func (r *PortfolioRepository) FindManager(ctx context.Context, strategy domain.StrategyKind) (*Manager, error) {
	var m Manager
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.name, m.email
		FROM managers m
		JOIN manager_strategies ms ON ms.manager_id = m.id
		LEFT JOIN portfolios p ON p.manager_id = m.id
		WHERE ms.strategy = ?
		GROUP BY m.id
		ORDER BY COUNT(p.id), m.id
		LIMIT 1
	`, strategy.Label()).Scan(&m.ID, &m.Name, &email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find manager for %s: %w", strategy, err)
	}
	m.Email = email.String
	m.Strategies = []domain.StrategyKind{strategy}
	return &m, nil
}

// CreateClient inserts a client
func (r *PortfolioRepository) CreateClient(ctx context.Context, c Client) (*Client, error) {
	if c.InvestmentAmount < 0 {
		return nil, fmt.Errorf("investment amount must be non-negative")
	}
	if c.RegistrationDate.IsZero() {
		c.RegistrationDate = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (name, country, risk_profile, investment_amount, registration_date)
		VALUES (?, ?, ?, ?, ?)
	`, c.Name, sql.NullString{String: c.Country, Valid: c.Country != ""}, c.RiskProfile,
		c.InvestmentAmount, c.RegistrationDate.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to insert client: %w", err)
	}
	if c.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get client id: %w", err)
	}
	return &c, nil
}

// GetClient returns the client or ErrClientNotFound
func (r *PortfolioRepository) GetClient(ctx context.Context, clientID int64) (*Client, error) {
	var c Client
	var country sql.NullString
	var registered string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, country, risk_profile, investment_amount, registration_date
		FROM clients WHERE id = ?
	`, clientID).Scan(&c.ID, &c.Name, &country, &c.RiskProfile, &c.InvestmentAmount, &registered)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client %d: %w", clientID, ErrClientNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %d: %w", clientID, err)
	}
	c.Country = country.String
	if c.RegistrationDate, err = time.Parse(dateLayout, registered); err != nil {
		return nil, fmt.Errorf("invalid registration date %q: %w", registered, err)
	}
	return &c, nil
}

// CreatePortfolio inserts a portfolio holding zero units of each instrument.
// Value and cash start at p.Value; Size is the number of instruments.
func (r *PortfolioRepository) CreatePortfolio(ctx context.Context, p domain.Portfolio, instrumentIDs []int64) (*domain.Portfolio, error) {
	if !p.Strategy.Valid() {
		return nil, fmt.Errorf("invalid strategy %q", p.Strategy)
	}

	p.Size = len(instrumentIDs)
	p.CashValue = p.Value

	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO portfolios (manager_id, client_id, name, strategy, investment_sector, size, value, cash_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ManagerID, p.ClientID, p.Name, p.Strategy.Label(),
			sql.NullString{String: p.Sector, Valid: p.Sector != ""}, p.Size, p.Value, p.CashValue)
		if err != nil {
			return fmt.Errorf("failed to insert portfolio: %w", err)
		}
		if p.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get portfolio id: %w", err)
		}

		for _, id := range instrumentIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO portfolio_positions (portfolio_id, instrument_id, quantity, weight, value)
				VALUES (?, ?, 0, 0, 0)
			`, p.ID, id); err != nil {
				return fmt.Errorf("failed to insert position for instrument %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Int64("portfolio_id", p.ID).Str("strategy", string(p.Strategy)).Int("size", p.Size).Msg("Portfolio created")
	return &p, nil
}

// GetPortfolio implements domain.PortfolioReader
func (r *PortfolioRepository) GetPortfolio(ctx context.Context, portfolioID int64) (*domain.Portfolio, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, manager_id, client_id, name, strategy, investment_sector, size, value, cash_value
		FROM portfolios WHERE id = ?
	`, portfolioID)

	p, err := scanPortfolio(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio %d: %w", portfolioID, err)
	}
	return p, nil
}

// ListPortfolioIDs returns every portfolio id in ascending order
func (r *PortfolioRepository) ListPortfolioIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPortfolioSummaries returns every portfolio with its client and manager
// names and the client's initial investment, ordered by id.
func (r *PortfolioRepository) ListPortfolioSummaries(ctx context.Context) ([]domain.PortfolioSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.manager_id, p.client_id, p.name, p.strategy, p.investment_sector, p.size, p.value, p.cash_value,
			c.name, m.name, c.investment_amount
		FROM portfolios p
		JOIN clients c ON c.id = p.client_id
		JOIN managers m ON m.id = p.manager_id
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio summaries: %w", err)
	}
	defer rows.Close()

	summaries := []domain.PortfolioSummary{}
	for rows.Next() {
		var s domain.PortfolioSummary
		var strategy string
		var sector sql.NullString
		if err := rows.Scan(&s.ID, &s.ManagerID, &s.ClientID, &s.Name, &strategy, &sector, &s.Size, &s.Value, &s.CashValue,
			&s.ClientName, &s.ManagerName, &s.InvestmentAmount); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio summary: %w", err)
		}
		if s.Strategy, err = domain.ParseStrategyKind(strategy); err != nil {
			return nil, fmt.Errorf("portfolio %d: %w", s.ID, err)
		}
		s.Sector = sector.String
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio summaries: %w", err)
	}
	return summaries, nil
}

// ReadPositions implements domain.PositionStore. Each position is valued at the
// last price on or before asOf; instruments without a price are left out.
func (r *PortfolioRepository) ReadPositions(ctx context.Context, portfolioID int64, asOf time.Time) ([]domain.Position, domain.Cash, error) {
	var cashValue float64
	err := r.db.QueryRowContext(ctx, `SELECT cash_value FROM portfolios WHERE id = ?`, portfolioID).Scan(&cashValue)
	if err == sql.ErrNoRows {
		return nil, domain.Cash{}, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}
	if err != nil {
		return nil, domain.Cash{}, fmt.Errorf("failed to read cash: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT pp.instrument_id, i.ticker, pp.quantity
		FROM portfolio_positions pp
		JOIN instruments i ON i.id = pp.instrument_id
		WHERE pp.portfolio_id = ?
		ORDER BY pp.instrument_id
	`, portfolioID)
	if err != nil {
		return nil, domain.Cash{}, fmt.Errorf("failed to query positions: %w", err)
	}

	var stored []domain.Position
	for rows.Next() {
		p := domain.Position{PortfolioID: portfolioID}
		if err := rows.Scan(&p.InstrumentID, &p.Ticker, &p.Quantity); err != nil {
			rows.Close()
			return nil, domain.Cash{}, fmt.Errorf("failed to scan position: %w", err)
		}
		stored = append(stored, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, domain.Cash{}, fmt.Errorf("error iterating positions: %w", err)
	}
	rows.Close()

	positions := make([]domain.Position, 0, len(stored))
	total := cashValue
	for _, p := range stored {
		price, err := r.history.GetLastPrice(ctx, p.InstrumentID, asOf)
		if err != nil {
			var gap *domain.DataGapError
			if errors.As(err, &gap) {
				r.log.Debug().Str("ticker", p.Ticker).Time("date", asOf).Msg("No price, position excluded")
				continue
			}
			return nil, domain.Cash{}, err
		}
		p.Price = price
		p.Value = float64(p.Quantity) * price
		total += p.Value
		positions = append(positions, p)
	}

	cash := domain.Cash{Value: cashValue}
	if total > 0 {
		for i := range positions {
			positions[i].Weight = positions[i].Value / total
		}
		cash.Weight = cashValue / total
	}
	return positions, cash, nil
}

// WritePositions implements domain.PositionStore. Every position row and the
// portfolio's value and cash are written in one transaction.
func (r *PortfolioRepository) WritePositions(ctx context.Context, portfolioID int64, positions []domain.Position, cash domain.Cash, totalValue float64) error {
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		return writePositionsTx(ctx, tx, portfolioID, positions, cash, totalValue)
	})
}

func writePositionsTx(ctx context.Context, tx *sql.Tx, portfolioID int64, positions []domain.Position, cash domain.Cash, totalValue float64) error {
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE portfolio_positions SET quantity = ?, weight = ?, value = ?
		WHERE portfolio_id = ? AND instrument_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare position update: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		if p.Quantity < 0 {
			return fmt.Errorf("negative quantity %d for %s", p.Quantity, p.Ticker)
		}
		result, err := stmt.ExecContext(ctx, p.Quantity, p.Weight, p.Value, portfolioID, p.InstrumentID)
		if err != nil {
			return fmt.Errorf("failed to update position %s: %w", p.Ticker, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("portfolio %d holds no instrument %d", portfolioID, p.InstrumentID)
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE portfolios SET value = ?, cash_value = ?, updated_at = strftime('%s', 'now') WHERE id = ?
	`, totalValue, cash.Value, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to update portfolio value: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}
	return nil
}

// ClearPositions implements domain.PositionStore
func (r *PortfolioRepository) ClearPositions(ctx context.Context, portfolioID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE portfolio_positions SET quantity = 0, weight = 0, value = 0 WHERE portfolio_id = ?
	`, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	return nil
}

// ResetPortfolio implements domain.Resetter
func (r *PortfolioRepository) ResetPortfolio(ctx context.Context, portfolioID int64, initialValue float64) error {
	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE portfolios SET value = ?, cash_value = ?, updated_at = strftime('%s', 'now') WHERE id = ?
		`, initialValue, initialValue, portfolioID)
		if err != nil {
			return fmt.Errorf("failed to reset portfolio: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE portfolio_positions SET quantity = 0, weight = 0, value = 0 WHERE portfolio_id = ?
		`, portfolioID); err != nil {
			return fmt.Errorf("failed to clear positions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Int64("portfolio_id", portfolioID).Float64("value", initialValue).Msg("Portfolio reset")
	return nil
}

// ReinitializeFromClient resets the portfolio to its client's investment amount
// and returns that amount.
func (r *PortfolioRepository) ReinitializeFromClient(ctx context.Context, portfolioID int64) (float64, error) {
	var amount float64
	err := r.db.QueryRowContext(ctx, `
		SELECT c.investment_amount FROM portfolios p JOIN clients c ON c.id = p.client_id WHERE p.id = ?
	`, portfolioID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrPortfolioNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get investment amount: %w", err)
	}

	if err := r.ResetPortfolio(ctx, portfolioID, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(s scanner) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var strategy string
	var sector sql.NullString
	if err := s.Scan(&p.ID, &p.ManagerID, &p.ClientID, &p.Name, &strategy, &sector, &p.Size, &p.Value, &p.CashValue); err != nil {
		return nil, err
	}
	kind, err := domain.ParseStrategyKind(strategy)
	if err != nil {
		return nil, fmt.Errorf("portfolio %d: %w", p.ID, err)
	}
	p.Strategy = kind
	p.Sector = sector.String
	return &p, nil
}
