package bot

import (
	"errors"
	"fmt"
	"strings"

	"slotbook/internal/domain"
)

func (b *Bot) getErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		var sb strings.Builder
		sb.WriteString("⚠️ Please check your details:\n")
		for _, f := range verr.Fields {
			sb.WriteString(fmt.Sprintf("• %s %s\n", f.Field, f.Reason))
		}
		return sb.String()
	}

	switch {
	case errors.Is(err, domain.ErrSlotUnavailable), errors.Is(err, domain.ErrSlotConflict):
		return "⚠️ Sorry, this time was just taken. Please choose another one."
	case errors.Is(err, domain.ErrHoldExpired):
		return "⌛ Your reservation of this time has expired. Please choose a time again."
	case errors.Is(err, domain.ErrHoldNotFound), errors.Is(err, domain.ErrHoldNotOwned):
		return "⚠️ Your reservation of this time is no longer valid. Please choose a time again."
	case errors.Is(err, domain.ErrPaymentMismatch):
		return "⚠️ The payment does not match the price of the service. Please contact us."
	case errors.Is(err, domain.ErrPaymentFailed):
		return "❌ The payment was not completed. You can try again while the time is reserved."
	case errors.Is(err, domain.ErrInvalidService):
		return "⚠️ This service is not available right now."
	case errors.Is(err, domain.ErrInvalidTransition):
		return "⚠️ That action is not available at this step. Use /back or /cancel."
	case errors.Is(err, domain.ErrOperationInProgress):
		return "⏳ Still working on your previous request, one moment please."
	case errors.Is(err, domain.ErrNetwork):
		return "📡 The booking service is unreachable right now. Please try again."
	}

	return "❌ Something went wrong while processing your request. Please try again later."
}
