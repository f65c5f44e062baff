package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPortfolioNotFound is returned when a portfolio id does not exist
	ErrPortfolioNotFound = errors.New("portfolio not found")
	// ErrNotConverged is returned by the optimizer when the solver did not converge
	ErrNotConverged = errors.New("optimizer did not converge")
	// ErrInsufficientFunds means a BUY would overdraw cash
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientHoldings means a SELL would exceed the held quantity
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrUnknownInstrument means a trade references an instrument the book does not hold
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// ConfigurationError aborts a simulation run before it starts
type ConfigurationError struct {
	PortfolioID int64
	Err         error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for portfolio %d: %v", e.PortfolioID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DataGapError means an instrument has no price as of a date
type DataGapError struct {
	InstrumentID int64
	Date         time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("no price for instrument %d as of %s", e.InstrumentID, e.Date.Format("2006-01-02"))
}

// PersistenceError means a period's atomic write failed; nothing from the period was applied
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
