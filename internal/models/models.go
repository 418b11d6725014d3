package models

import "time"

// BookingDraft is the session-scoped snapshot of wizard progress. It is never
// authoritative: only a finalized Booking is business state.
type BookingDraft struct {
	SessionID     string         `json:"session_id"`
	Step          WizardStep     `json:"step"`
	History       []WizardStep   `json:"history,omitempty"`
	ServiceID     string         `json:"service_id,omitempty"`
	Date          string         `json:"date,omitempty"`
	SlotID        string         `json:"slot_id,omitempty"`
	SlotStart     time.Time      `json:"slot_start,omitempty"`
	HoldID        string         `json:"hold_id,omitempty"`
	HoldExpiresAt time.Time      `json:"hold_expires_at,omitempty"`
	Details       *ClientDetails `json:"details,omitempty"`
	BookingID     string         `json:"booking_id,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so stored drafts never alias live wizard state.
func (d *BookingDraft) Clone() *BookingDraft {
	if d == nil {
		return nil
	}
	c := *d
	if d.History != nil {
		c.History = append([]WizardStep(nil), d.History...)
	}
	if d.Details != nil {
		details := *d.Details
		c.Details = &details
	}
	return &c
}

// HasHold reports whether the draft references an outstanding hold.
func (d *BookingDraft) HasHold() bool {
	return d != nil && d.HoldID != ""
}

// ClearSlot drops the slot selection and the hold that backs it.
func (d *BookingDraft) ClearSlot() {
	d.SlotID = ""
	d.SlotStart = time.Time{}
	d.HoldID = ""
	d.HoldExpiresAt = time.Time{}
}
