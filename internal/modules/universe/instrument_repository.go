// Package universe holds the instrument catalogue.
package universe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrInstrumentNotFound is returned when a ticker is not in the catalogue
var ErrInstrumentNotFound = errors.New("instrument not found")

// Instrument is one tradable instrument
type Instrument struct {
	ID          int64   `json:"id"`
	Ticker      string  `json:"ticker"`
	CompanyName string  `json:"company_name,omitempty"`
	Sector      string  `json:"sector,omitempty"`
	Industry    string  `json:"industry,omitempty"`
	Country     string  `json:"country,omitempty"`
	Exchange    string  `json:"exchange,omitempty"`
	MarketCap   float64 `json:"market_cap,omitempty"`
}

// InstrumentRepository handles instrument catalogue operations
type InstrumentRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewInstrumentRepository creates a new instrument repository
func NewInstrumentRepository(db *sql.DB, log zerolog.Logger) *InstrumentRepository {
	return &InstrumentRepository{
		db:  db,
		log: log.With().Str("repo", "instrument").Logger(),
	}
}

// Create inserts an instrument and returns it with its id set.
// Tickers are stored upper-case and must be unique.
func (r *InstrumentRepository) Create(ctx context.Context, inst Instrument) (*Instrument, error) {
	inst.Ticker = normalizeTicker(inst.Ticker)
	if inst.Ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO instruments (ticker, company_name, sector, industry, country, exchange, market_cap)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, inst.Ticker, nullString(inst.CompanyName), nullString(inst.Sector), nullString(inst.Industry),
		nullString(inst.Country), nullString(inst.Exchange), inst.MarketCap)
	if err != nil {
		return nil, fmt.Errorf("failed to insert instrument %s: %w", inst.Ticker, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument id: %w", err)
	}
	inst.ID = id

	r.log.Debug().Str("ticker", inst.Ticker).Int64("id", id).Msg("Instrument created")
	return &inst, nil
}

// GetOrCreate returns the instrument for ticker, creating it from inst when absent
func (r *InstrumentRepository) GetOrCreate(ctx context.Context, inst Instrument) (*Instrument, error) {
	existing, err := r.GetByTicker(ctx, inst.Ticker)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrInstrumentNotFound) {
		return nil, err
	}
	return r.Create(ctx, inst)
}

// GetByTicker returns the instrument or ErrInstrumentNotFound
func (r *InstrumentRepository) GetByTicker(ctx context.Context, ticker string) (*Instrument, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, ticker, company_name, sector, industry, country, exchange, market_cap
		FROM instruments WHERE ticker = ?
	`, normalizeTicker(ticker))

	inst, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", ticker, ErrInstrumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument %s: %w", ticker, err)
	}
	return inst, nil
}

// List returns all instruments ordered by ticker. An empty sector matches all.
func (r *InstrumentRepository) List(ctx context.Context, sector string) ([]Instrument, error) {
	query := `SELECT id, ticker, company_name, sector, industry, country, exchange, market_cap FROM instruments`
	var args []interface{}
	if sector != "" {
		query += ` WHERE sector = ?`
		args = append(args, sector)
	}
	query += ` ORDER BY ticker`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	instruments := []Instrument{}
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}
	return instruments, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInstrument(s scanner) (*Instrument, error) {
	var inst Instrument
	var name, sector, industry, country, exchange sql.NullString
	var marketCap sql.NullFloat64

	if err := s.Scan(&inst.ID, &inst.Ticker, &name, &sector, &industry, &country, &exchange, &marketCap); err != nil {
		return nil, err
	}

	inst.CompanyName = name.String
	inst.Sector = sector.String
	inst.Industry = industry.String
	inst.Country = country.String
	inst.Exchange = exchange.String
	inst.MarketCap = marketCap.Float64
	return &inst, nil
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
