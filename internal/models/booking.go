package models

import "time"

// Hold is a short-lived exclusive claim on a slot.
type Hold struct {
	ID        string     `json:"id"`
	SlotID    string     `json:"slot_id"`
	SessionID string     `json:"session_id"`
	Status    HoldStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// ExpiredAt reports whether the hold has lapsed at the given instant.
func (h *Hold) ExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

type ClientDetails struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Notes           string `json:"notes,omitempty"`
	AcceptTerms     bool   `json:"accept_terms"`
	AcceptMarketing bool   `json:"accept_marketing"`
}

// PaymentConfirmation is produced by the payment provider and passed through
// the wizard untouched.
type PaymentConfirmation struct {
	PaymentID   string `json:"payment_id"`
	Provider    string `json:"provider"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	FailureCode string `json:"failure_code,omitempty"`
}

func (p PaymentConfirmation) Succeeded() bool {
	return p.Status == PaymentSucceeded
}

type Booking struct {
	ID          string        `json:"id"`
	ServiceID   string        `json:"service_id"`
	ServiceName string        `json:"service_name"`
	SlotID      string        `json:"slot_id"`
	HoldID      string        `json:"hold_id"`
	SessionID   string        `json:"session_id"`
	Client      ClientDetails `json:"client"`
	Status      BookingStatus `json:"status"`
	PaymentRef  string        `json:"payment_ref"`
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Version     int64         `json:"version"`
}

// FinalizeRequest carries everything needed to turn a hold into a booking.
type FinalizeRequest struct {
	HoldID    string              `json:"hold_id"`
	SessionID string              `json:"session_id"`
	Payment   PaymentConfirmation `json:"payment"`
	Client    ClientDetails       `json:"client"`
}
