package api

import (
	"errors"
	"net/http"

	"slotbook/internal/domain"
	"slotbook/internal/models"
)

// errorResponse is the JSON envelope for every non-2xx answer.
type errorResponse struct {
	Error     string                     `json:"error"`
	Code      string                     `json:"code,omitempty"`
	Fields    []domain.FieldError        `json:"fields,omitempty"`
	Available []*models.AvailabilitySlot `json:"available,omitempty"`
}

var codeStatus = map[string]int{
	domain.CodeValidation:             http.StatusBadRequest,
	domain.CodeServiceNotFound:        http.StatusNotFound,
	domain.CodeSlotNotFound:           http.StatusNotFound,
	domain.CodeSlotUnavailable:        http.StatusConflict,
	domain.CodeSlotConflict:           http.StatusConflict,
	domain.CodeHoldNotFound:           http.StatusNotFound,
	domain.CodeHoldNotOwned:           http.StatusForbidden,
	domain.CodeHoldExpired:            http.StatusGone,
	domain.CodePaymentMismatch:        http.StatusUnprocessableEntity,
	domain.CodePaymentFailed:          http.StatusPaymentRequired,
	domain.CodeBookingNotFound:        http.StatusNotFound,
	domain.CodeConcurrentModification: http.StatusConflict,
	domain.CodeNetwork:                http.StatusBadGateway,
	domain.CodeInternal:               http.StatusInternalServerError,
}

// StatusForCode maps a wire code to its HTTP status.
func StatusForCode(code string) int {
	if s, ok := codeStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func errorEnvelope(err error) (int, errorResponse) {
	code := domain.ErrorCode(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	var serr *domain.SlotUnavailableError
	if errors.As(err, &serr) {
		resp.Available = serr.Available
	}
	if code == domain.CodeInternal {
		resp.Error = "internal error"
	}
	return StatusForCode(code), resp
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := errorEnvelope(err)
	writeJSON(w, status, resp)
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

// RemoteError is a domain failure reported by the server. It unwraps to the
// matching domain sentinel so callers can keep using errors.Is.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return domain.FromCode(e.Code)
}

// decodeError rebuilds a typed domain error from an envelope.
func decodeError(status int, resp errorResponse) error {
	if resp.Code == domain.CodeValidation && len(resp.Fields) > 0 {
		return &domain.ValidationError{Fields: resp.Fields}
	}
	remote := &RemoteError{Status: status, Code: resp.Code, Message: resp.Error}
	if resp.Code == domain.CodeSlotUnavailable {
		return &domain.SlotUnavailableError{Available: resp.Available, Cause: remote}
	}
	return remote
}
