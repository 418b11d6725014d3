package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// WizardDeps are shared by every wizard of a process.
type WizardDeps struct {
	Backend      domain.BookingBackend
	Holds        *HoldManager
	Finalizer    *Finalizer
	Availability *AvailabilityClient
	Drafts       domain.DraftStore
	Details      *DetailsValidator
	Clock        domain.Clock
	Logger       *zerolog.Logger
}

// Wizard drives one session through
// choose_service -> select_time -> client_details -> payment -> completed.
//
// At most one backend call is in flight per wizard. Abandon may interrupt it;
// a call that resolves after Abandon reports ErrAbandoned and releases what
// it acquired.
type Wizard struct {
	sessionID string
	deps      WizardDeps
	logger    zerolog.Logger

	mu         sync.Mutex
	draft      *models.BookingDraft
	latest     []*models.AvailabilitySlot
	inFlight   bool
	cancel     context.CancelFunc
	generation uint64
}

func NewWizard(sessionID string, deps WizardDeps) *Wizard {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Details == nil {
		deps.Details = NewDetailsValidator(MarketPL)
	}
	deps.Logger = orNop(deps.Logger)

	return &Wizard{
		sessionID: sessionID,
		deps:      deps,
		logger:    deps.Logger.With().Str("session_id", sessionID).Logger(),
		draft:     newDraft(sessionID),
	}
}

func newDraft(sessionID string) *models.BookingDraft {
	return &models.BookingDraft{SessionID: sessionID, Step: models.StepChooseService}
}

// call is one in-flight backend operation.
type call struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
}

// begin reserves the wizard for a backend call. Callers hold w.mu.
func (w *Wizard) begin(ctx context.Context) (*call, error) {
	if w.inFlight {
		return nil, domain.ErrOperationInProgress
	}
	callCtx, cancel := context.WithCancel(ctx)
	w.inFlight = true
	w.cancel = cancel
	return &call{ctx: callCtx, cancel: cancel, generation: w.generation}, nil
}

// settle ends the call and reports whether its result may still be applied.
// Callers hold w.mu.
func (w *Wizard) settle(c *call) bool {
	c.cancel()
	if c.generation != w.generation {
		return false
	}
	w.inFlight = false
	w.cancel = nil
	return true
}

func (w *Wizard) requireStep(op string, allowed ...models.WizardStep) error {
	for _, step := range allowed {
		if w.draft.Step == step {
			return nil
		}
	}
	return fmt.Errorf("%s in step %s: %w", op, w.draft.Step, domain.ErrInvalidTransition)
}

func (w *Wizard) advance(to models.WizardStep) {
	from := w.draft.Step
	w.draft.History = append(w.draft.History, from)
	w.draft.Step = to
	metrics.IncWizardTransition(string(from), string(to))
}

// rewindTo drops history back to step, used when a hold is lost.
func (w *Wizard) rewindTo(step models.WizardStep) {
	from := w.draft.Step
	for i := len(w.draft.History) - 1; i >= 0; i-- {
		if w.draft.History[i] == step {
			w.draft.History = w.draft.History[:i]
			break
		}
	}
	w.draft.Step = step
	metrics.IncWizardTransition(string(from), string(step))
}

func (w *Wizard) loseHold() {
	if w.draft.HoldID != "" {
		w.deps.Holds.Forget(w.draft.HoldID)
	}
	w.draft.ClearSlot()
	w.rewindTo(models.StepSelectTime)
}

func (w *Wizard) persist(ctx context.Context) {
	if err := w.deps.Drafts.Save(ctx, w.draft); err != nil {
		w.logger.Warn().Err(err).Str("step", string(w.draft.Step)).Msg("draft not saved")
	}
}

// Step returns the current wizard step.
func (w *Wizard) Step() models.WizardStep {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft.Step
}

// Draft returns a copy of the current progress.
func (w *Wizard) Draft() *models.BookingDraft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft.Clone()
}

// Slots returns the latest availability response.
func (w *Wizard) Slots() []*models.AvailabilitySlot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*models.AvailabilitySlot(nil), w.latest...)
}

// Remaining is the time left on the current hold, zero without one.
func (w *Wizard) Remaining() time.Duration {
	w.mu.Lock()
	holdID := w.draft.HoldID
	w.mu.Unlock()
	if holdID == "" {
		return 0
	}
	return w.deps.Holds.Remaining(holdID)
}

func (w *Wizard) SelectService(ctx context.Context, serviceID string) (*models.Service, error) {
	w.mu.Lock()
	if err := w.requireStep("select service", models.StepChooseService); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	c, err := w.begin(ctx)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	previousService := w.draft.ServiceID
	previousHold := w.draft.HoldID
	w.mu.Unlock()

	svc, err := w.deps.Backend.GetService(c.ctx, serviceID)
	if err == nil && !svc.IsActive {
		err = fmt.Errorf("service %s is inactive: %w", serviceID, domain.ErrInvalidService)
	}

	changed := err == nil && previousService != "" && previousService != svc.ID
	if changed && previousHold != "" {
		if relErr := w.deps.Holds.Release(c.ctx, previousHold); relErr != nil {
			w.logger.Warn().Err(relErr).Str("hold_id", previousHold).Msg("release on service change failed")
			w.deps.Holds.ReleaseAsync(c.ctx, previousHold)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.settle(c) {
		return nil, domain.ErrAbandoned
	}
	if err != nil {
		return nil, err
	}

	if changed {
		w.draft.ClearSlot()
		w.draft.Date = ""
		w.draft.Details = nil
		w.latest = nil
	}
	w.draft.ServiceID = svc.ID
	w.advance(models.StepSelectTime)
	w.persist(ctx)
	return svc, nil
}

// LoadSlots fetches open slots for the chosen service on date (YYYY-MM-DD).
func (w *Wizard) LoadSlots(ctx context.Context, date string) ([]*models.AvailabilitySlot, error) {
	w.mu.Lock()
	if err := w.requireStep("load slots", models.StepSelectTime); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	c, err := w.begin(ctx)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	serviceID := w.draft.ServiceID
	w.mu.Unlock()

	slots, err := w.deps.Availability.Query(c.ctx, serviceID, date)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.settle(c) {
		return nil, domain.ErrAbandoned
	}
	if err != nil {
		return nil, err
	}

	w.latest = slots
	w.draft.Date = date
	w.persist(ctx)
	return append([]*models.AvailabilitySlot(nil), slots...), nil
}

func (w *Wizard) findLatest(slotID string) *models.AvailabilitySlot {
	for _, slot := range w.latest {
		if slot.ID == slotID {
			return slot
		}
	}
	return nil
}

// SelectSlot claims slotID and moves to client details. A slot taken by
// another session yields *domain.SlotUnavailableError carrying a refreshed
// slot list.
func (w *Wizard) SelectSlot(ctx context.Context, slotID string) (*models.Hold, error) {
	w.mu.Lock()
	if err := w.requireStep("select slot", models.StepSelectTime); err != nil {
		w.mu.Unlock()
		return nil, err
	}

	if w.draft.HoldID != "" && w.draft.SlotID == slotID && w.deps.Holds.Valid(w.draft.HoldID) {
		hold := &models.Hold{
			ID:        w.draft.HoldID,
			SlotID:    slotID,
			SessionID: w.sessionID,
			Status:    models.HoldActive,
			ExpiresAt: w.draft.HoldExpiresAt,
		}
		w.advance(models.StepClientDetails)
		w.persist(ctx)
		w.mu.Unlock()
		return hold, nil
	}

	slot := w.findLatest(slotID)
	if slot == nil {
		err := &domain.SlotUnavailableError{
			SlotID:    slotID,
			Available: append([]*models.AvailabilitySlot(nil), w.latest...),
		}
		w.mu.Unlock()
		return nil, err
	}

	c, err := w.begin(ctx)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	previousHold := w.draft.HoldID
	serviceID := w.draft.ServiceID
	date := w.draft.Date
	w.mu.Unlock()

	if previousHold != "" {
		if relErr := w.deps.Holds.Release(c.ctx, previousHold); relErr != nil {
			w.logger.Warn().Err(relErr).Str("hold_id", previousHold).Msg("release of previous hold failed")
			w.deps.Holds.ReleaseAsync(c.ctx, previousHold)
		}
	}

	hold, err := w.deps.Holds.Acquire(c.ctx, slotID, w.sessionID)

	var refreshed []*models.AvailabilitySlot
	lost := err != nil && (errors.Is(err, domain.ErrSlotConflict) ||
		errors.Is(err, domain.ErrSlotUnavailable) ||
		errors.Is(err, domain.ErrSlotNotFound))
	if lost {
		var qerr error
		refreshed, qerr = w.deps.Availability.Query(c.ctx, serviceID, date)
		if qerr != nil {
			w.logger.Warn().Err(qerr).Msg("availability refresh failed")
			refreshed = nil
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.settle(c) {
		if hold != nil {
			w.deps.Holds.ReleaseAsync(ctx, hold.ID)
		}
		return nil, domain.ErrAbandoned
	}

	if previousHold != "" {
		w.draft.ClearSlot()
	}

	if err != nil {
		if !lost {
			if previousHold != "" {
				w.persist(ctx)
			}
			return nil, err
		}
		if refreshed != nil {
			w.latest = refreshed
		} else {
			w.latest = dropSlot(w.latest, slotID)
		}
		w.persist(ctx)
		return nil, &domain.SlotUnavailableError{
			SlotID:    slotID,
			Available: append([]*models.AvailabilitySlot(nil), w.latest...),
			Cause:     err,
		}
	}

	w.draft.SlotID = slot.ID
	w.draft.SlotStart = slot.StartTime
	w.draft.HoldID = hold.ID
	w.draft.HoldExpiresAt = hold.ExpiresAt
	if deadline, ok := w.deps.Holds.Deadline(hold.ID); ok {
		w.draft.HoldExpiresAt = deadline
	}
	w.advance(models.StepClientDetails)
	w.persist(ctx)
	return hold, nil
}

func dropSlot(slots []*models.AvailabilitySlot, slotID string) []*models.AvailabilitySlot {
	out := make([]*models.AvailabilitySlot, 0, len(slots))
	for _, s := range slots {
		if s.ID != slotID {
			out = append(out, s)
		}
	}
	return out
}

// SubmitDetails validates and stores the client's contact data. Details are
// validated again every time the step is submitted, including after Back.
func (w *Wizard) SubmitDetails(ctx context.Context, details models.ClientDetails) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireStep("submit details", models.StepClientDetails); err != nil {
		return err
	}
	if w.inFlight {
		return domain.ErrOperationInProgress
	}

	if !w.deps.Holds.Valid(w.draft.HoldID) {
		holdID := w.draft.HoldID
		w.loseHold()
		w.persist(ctx)
		return fmt.Errorf("hold %s: %w", holdID, domain.ErrHoldExpired)
	}

	clean, err := w.deps.Details.Validate(details)
	if err != nil {
		return err
	}

	w.draft.Details = &clean
	w.advance(models.StepPayment)
	w.persist(ctx)
	return nil
}

// ConfirmPayment finalizes the booking. A failed payment keeps the hold so
// the client can pay again; a lost hold sends the wizard back to select_time.
func (w *Wizard) ConfirmPayment(ctx context.Context, payment models.PaymentConfirmation) (*models.Booking, error) {
	w.mu.Lock()
	if err := w.requireStep("confirm payment", models.StepPayment); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if w.inFlight {
		w.mu.Unlock()
		return nil, domain.ErrOperationInProgress
	}
	if !payment.Succeeded() {
		w.mu.Unlock()
		return nil, fmt.Errorf("payment %s is %s: %w", payment.PaymentID, payment.Status, domain.ErrPaymentFailed)
	}
	if !w.deps.Holds.Valid(w.draft.HoldID) {
		holdID := w.draft.HoldID
		w.loseHold()
		w.persist(ctx)
		w.mu.Unlock()
		return nil, fmt.Errorf("hold %s: %w", holdID, domain.ErrHoldExpired)
	}

	c, err := w.begin(ctx)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	req := models.FinalizeRequest{
		HoldID:    w.draft.HoldID,
		SessionID: w.sessionID,
		Payment:   payment,
	}
	if w.draft.Details != nil {
		req.Client = *w.draft.Details
	}
	w.mu.Unlock()

	booking, err := w.deps.Finalizer.Finalize(c.ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.settle(c) {
		if booking != nil {
			w.logger.Warn().Str("booking_id", booking.ID).Msg("booking finalized after abandon")
		}
		return nil, domain.ErrAbandoned
	}

	if err != nil {
		if holdGone(err) {
			w.loseHold()
			w.persist(ctx)
		}
		return nil, err
	}

	w.draft.BookingID = booking.ID
	w.draft.HoldID = ""
	w.advance(models.StepCompleted)
	if clearErr := w.deps.Drafts.Clear(ctx, w.sessionID); clearErr != nil {
		w.logger.Warn().Err(clearErr).Msg("draft not cleared after booking")
	}
	w.logger.Info().Str("booking_id", booking.ID).Msg("wizard completed")
	return booking, nil
}

// Back returns to the previous step. Data entered in later steps, including
// the hold, is kept.
func (w *Wizard) Back(ctx context.Context) (models.WizardStep, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight {
		return w.draft.Step, domain.ErrOperationInProgress
	}
	if w.draft.Step == models.StepCompleted || len(w.draft.History) == 0 {
		return w.draft.Step, fmt.Errorf("back from %s: %w", w.draft.Step, domain.ErrInvalidTransition)
	}

	from := w.draft.Step
	last := len(w.draft.History) - 1
	w.draft.Step = w.draft.History[last]
	w.draft.History = w.draft.History[:last]
	metrics.IncWizardTransition(string(from), string(w.draft.Step))
	w.persist(ctx)
	return w.draft.Step, nil
}

// Abandon cancels any in-flight call, releases the outstanding hold in the
// background and clears the draft. The wizard starts over at choose_service.
func (w *Wizard) Abandon(ctx context.Context) error {
	w.mu.Lock()
	w.generation++
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.inFlight = false
	holdID := w.draft.HoldID
	from := w.draft.Step
	w.draft = newDraft(w.sessionID)
	w.latest = nil
	w.mu.Unlock()

	if holdID != "" {
		w.deps.Holds.ReleaseAsync(ctx, holdID)
	}
	if from != models.StepChooseService {
		metrics.IncWizardTransition(string(from), string(models.StepChooseService))
	}
	w.logger.Info().Str("step", string(from)).Str("hold_id", holdID).Msg("booking abandoned")

	if err := w.deps.Drafts.Clear(ctx, w.sessionID); err != nil {
		return fmt.Errorf("abandon: %w", err)
	}
	return nil
}

// Resume restores progress from the persisted draft. It reports false when
// the session has nothing to resume. A hold that lapsed while the session was
// away sends the wizard back to select_time.
func (w *Wizard) Resume(ctx context.Context) (bool, error) {
	draft, err := w.deps.Drafts.Load(ctx, w.sessionID)
	if err != nil {
		return false, err
	}
	if draft == nil {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight {
		return false, domain.ErrOperationInProgress
	}
	if draft.Step == "" {
		draft.Step = models.StepChooseService
	}
	w.draft = draft.Clone()
	w.draft.SessionID = w.sessionID
	w.latest = nil

	if w.draft.HoldID == "" {
		return true, nil
	}
	if !w.deps.Clock.Now().Before(w.draft.HoldExpiresAt) {
		w.logger.Info().Str("hold_id", w.draft.HoldID).Msg("hold lapsed while away")
		w.draft.ClearSlot()
		if w.draft.Step == models.StepClientDetails || w.draft.Step == models.StepPayment {
			w.rewindTo(models.StepSelectTime)
		}
		w.persist(ctx)
		return true, nil
	}

	w.deps.Holds.Track(&models.Hold{
		ID:        w.draft.HoldID,
		SlotID:    w.draft.SlotID,
		SessionID: w.sessionID,
		Status:    models.HoldActive,
		ExpiresAt: w.draft.HoldExpiresAt,
	}, time.Time{})
	return true, nil
}
