package domain

import (
	"errors"
	"fmt"
	"strings"

	"slotbook/internal/models"
)

var (
	ErrInvalidService  = errors.New("service is unknown or inactive")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrSlotConflict    = errors.New("slot is held by another session")
	ErrBookingNotFound = errors.New("booking not found")
)

var (
	ErrHoldNotFound = errors.New("hold not found")
	ErrHoldNotOwned = errors.New("hold belongs to another session")
	ErrHoldExpired  = errors.New("hold has expired")
)

var (
	ErrPaymentMismatch = errors.New("payment does not match the held service")
	ErrPaymentFailed   = errors.New("payment was not completed")
)

var (
	ErrValidation             = errors.New("validation error")
	ErrNetwork                = errors.New("network error")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
)

var (
	ErrInvalidTransition   = errors.New("operation not allowed in current step")
	ErrOperationInProgress = errors.New("another operation is in progress")
	ErrAbandoned           = errors.New("booking was abandoned")
)

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError enumerates every offending field of a submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// OrNil returns the error only when at least one field failed.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// SlotUnavailableError is returned to the wizard when a slot cannot be held.
// Available carries a freshly queried slot list for the user to choose from.
type SlotUnavailableError struct {
	SlotID    string
	Available []*models.AvailabilitySlot
	Cause     error
}

func (e *SlotUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("slot %s is not available: %v", e.SlotID, e.Cause)
	}
	return fmt.Sprintf("slot %s is not available", e.SlotID)
}

func (e *SlotUnavailableError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrSlotUnavailable, e.Cause}
	}
	return []error{ErrSlotUnavailable}
}

// NetworkError marks a transport failure. It is retryable by the user but
// never retried automatically.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

type PaymentMismatchError struct {
	ExpectedAmount   int64
	ExpectedCurrency string
	GotAmount        int64
	GotCurrency      string
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d %s, got %d %s",
		ErrPaymentMismatch, e.ExpectedAmount, e.ExpectedCurrency, e.GotAmount, e.GotCurrency)
}

func (e *PaymentMismatchError) Unwrap() error { return ErrPaymentMismatch }

// Wire codes shared by the HTTP server and client.
const (
	CodeServiceNotFound        = "SERVICE_NOT_FOUND"
	CodeSlotNotFound           = "INVALID_TIME_SLOT"
	CodeSlotUnavailable        = "SLOT_UNAVAILABLE"
	CodeSlotConflict           = "SLOT_ALREADY_BOOKED"
	CodeHoldNotFound           = "HOLD_NOT_FOUND"
	CodeHoldNotOwned           = "HOLD_NOT_OWNED"
	CodeHoldExpired            = "HOLD_EXPIRED"
	CodePaymentMismatch        = "PAYMENT_MISMATCH"
	CodePaymentFailed          = "PAYMENT_FAILED"
	CodeBookingNotFound        = "BOOKING_NOT_FOUND"
	CodeConcurrentModification = "CONCURRENT_BOOKING_ATTEMPT"
	CodeValidation             = "VALIDATION_ERROR"
	CodeNetwork                = "NETWORK_ERROR"
	CodeInternal               = "INTERNAL_ERROR"
)

var codeTable = []struct {
	err  error
	code string
}{
	{ErrValidation, CodeValidation},
	{ErrPaymentMismatch, CodePaymentMismatch},
	{ErrPaymentFailed, CodePaymentFailed},
	{ErrSlotConflict, CodeSlotConflict},
	{ErrSlotUnavailable, CodeSlotUnavailable},
	{ErrSlotNotFound, CodeSlotNotFound},
	{ErrInvalidService, CodeServiceNotFound},
	{ErrHoldExpired, CodeHoldExpired},
	{ErrHoldNotOwned, CodeHoldNotOwned},
	{ErrHoldNotFound, CodeHoldNotFound},
	{ErrBookingNotFound, CodeBookingNotFound},
	{ErrConcurrentModification, CodeConcurrentModification},
	{ErrNetwork, CodeNetwork},
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	for _, row := range codeTable {
		if errors.Is(err, row.err) {
			return row.code
		}
	}
	return CodeInternal
}

// FromCode maps a wire code back to its sentinel. Unknown codes yield nil.
func FromCode(code string) error {
	for _, row := range codeTable {
		if row.code == code {
			return row.err
		}
	}
	return nil
}

// Retryable reports whether repeating the same action may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrPaymentFailed) ||
		errors.Is(err, ErrConcurrentModification)
}
