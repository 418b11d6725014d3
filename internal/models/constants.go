package models

import "time"

type BookingStatus string

const (
	StatusPending     BookingStatus = "pending"
	StatusConfirmed   BookingStatus = "confirmed"
	StatusCancelled   BookingStatus = "cancelled"
	StatusRescheduled BookingStatus = "rescheduled"
)

// LiveStatuses are the booking statuses that still occupy a slot.
var LiveStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusRescheduled}

type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
	HoldConsumed HoldStatus = "consumed"
	HoldExpired  HoldStatus = "expired"
)

type WizardStep string

const (
	StepChooseService WizardStep = "choose_service"
	StepSelectTime    WizardStep = "select_time"
	StepClientDetails WizardStep = "client_details"
	StepPayment       WizardStep = "payment"
	StepCompleted     WizardStep = "completed"
)

const (
	PaymentSucceeded      = "succeeded"
	PaymentFailed         = "failed"
	PaymentRequiresAction = "requires_action"

	ProviderStripe = "stripe"
)

const (
	// HoldTTL is how long a slot stays claimed before it returns to the pool.
	HoldTTL = 5 * time.Minute

	// DefaultDraftTTL bounds how long an abandoned draft survives in storage.
	DefaultDraftTTL = 24 * time.Hour

	DefaultTimezone = "Europe/Warsaw"
	DefaultCurrency = "PLN"
	DefaultMarket   = "pl"

	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"

	// RateLimitMessages is how many bot messages a user may send per window.
	RateLimitMessages = 20

	// RateLimitWindow is in seconds.
	RateLimitWindow = 60

	ServicesCacheTTL = 10 * time.Minute

	// ReleaseQueueSize bounds the background hold release queue.
	ReleaseQueueSize = 256

	// DefaultSlotDays how many days ahead slots are generated
	DefaultSlotDays = 14
)
