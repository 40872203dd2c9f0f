// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	// Recoverable per tick.
	ErrInsufficientHistory = errors.New("insufficient price history")
	ErrOrderRejected       = errors.New("order rejected")

	// Session fatal.
	ErrGatewayDisconnected = errors.New("gateway disconnected")
	ErrFeedTerminated      = errors.New("market data feed terminated")
	ErrFeedGap             = errors.New("market data feed gap")

	// Startup fatal.
	ErrInvalidContract = errors.New("invalid contract configuration")
	ErrConfigInvalid   = errors.New("invalid configuration")

	ErrSessionRunning = errors.New("session already running")
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotConnected   = errors.New("not connected")
)

// IsFatal reports whether err must stop the tick loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrGatewayDisconnected) ||
		errors.Is(err, ErrFeedTerminated) ||
		errors.Is(err, ErrFeedGap) ||
		errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrConfigInvalid)
}

// GatewayError represents an error from the brokerage gateway.
type GatewayError struct {
	Op      string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway error [%s]: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway error [%s]: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError.
func NewGatewayError(op, message string, err error) *GatewayError {
	return &GatewayError{
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	TradeID string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] trade %s %s: %s: %v", e.OrderID, e.TradeID, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] trade %s %s: %s", e.OrderID, e.TradeID, e.Action, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, tradeID, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		TradeID: tradeID,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap ties every validation failure to ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
