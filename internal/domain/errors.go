package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors checked with errors.Is at call sites.
var (
	ErrNotFound    = errors.New("not found")
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// ValidationError reports invalid input to an operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientFundsError reports that a buy or conversion exceeds the
// available balance in the given currency.
type InsufficientFundsError struct {
	Currency  string
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %.2f %s, have %.2f %s",
		e.Required, e.Currency, e.Available, e.Currency)
}

// InvalidTradeError reports a trade that fails a pre-execution check.
type InvalidTradeError struct {
	Symbol string
	Side   string
	Reason string
}

func (e *InvalidTradeError) Error() string {
	return fmt.Sprintf("invalid trade %s %s: %s", e.Side, e.Symbol, e.Reason)
}

// CurrencyConversionError reports a failed FX routing or conversion leg.
type CurrencyConversionError struct {
	From   string
	To     string
	Reason string
}

func (e *CurrencyConversionError) Error() string {
	return fmt.Sprintf("currency conversion %s->%s: %s", e.From, e.To, e.Reason)
}

// BrokerError wraps a failure reported by the broker API.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }
