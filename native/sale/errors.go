package sale

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Error categories. Every failure returned by the engine wraps exactly one of
// these so hosts can classify it with errors.Is.
var (
	ErrValidation   = errors.New("sale: invalid request")
	ErrUnauthorized = errors.New("sale: unauthorized")
	ErrNotFound     = errors.New("sale: not found")
	ErrCapacity     = errors.New("sale: capacity exhausted")
	ErrState        = errors.New("sale: invalid state")
	ErrArithmetic   = errors.New("sale: arithmetic overflow")
	ErrExternal     = errors.New("sale: external dependency failed")

	// ErrPaused is returned by every mutating action while the platform is paused.
	ErrPaused = fmt.Errorf("%w: contract is paused", ErrState)

	errNilState = errors.New("sale engine: state not configured")
)

// CeilingError reports that a purchase exceeded the largest amount the buyer
// may still purchase in the sale.
type CeilingError struct {
	Ceiling *uint256.Int
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("sale: amount exceeds ceiling, you cannot buy more than %s tokens", e.Ceiling.Dec())
}

// Unwrap classifies the error as a capacity failure.
func (e *CeilingError) Unwrap() error { return ErrCapacity }

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func capacityf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCapacity, fmt.Sprintf(format, args...))
}

func statef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

func overflow(what string) error {
	return fmt.Errorf("%w: %s", ErrArithmetic, what)
}
