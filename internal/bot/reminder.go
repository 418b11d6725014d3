package bot

import (
	"context"
	"fmt"
	"time"

	"slotbook/internal/models"
)

const (
	holdWarningThreshold = time.Minute
	reminderInterval     = 15 * time.Second
)

// StartHoldReminders warns chats once when their reserved time is about to
// return to the pool.
func (b *Bot) StartHoldReminders(ctx context.Context, interval time.Duration) {
	if b == nil || b.tg == nil {
		return
	}
	if interval <= 0 {
		interval = reminderInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sendHoldReminders()
				b.evictIdleSessions(b.clock.Now())
			}
		}
	}()
}

// sendHoldReminders returns how many warnings were sent.
func (b *Bot) sendHoldReminders() int {
	sent := 0
	for _, s := range b.snapshot() {
		draft := s.wizard.Draft()
		if !shouldRemindStep(draft.Step) || draft.HoldID == "" {
			continue
		}
		left := s.wizard.Remaining()
		if left <= 0 || left > holdWarningThreshold {
			continue
		}

		b.mu.Lock()
		warned := s.warnedHold == draft.HoldID
		if !warned {
			s.warnedHold = draft.HoldID
		}
		b.mu.Unlock()
		if warned {
			continue
		}

		b.sendMessage(s.chatID, formatReminderMessage(b.formatTime(draft.SlotStart), left))
		sent++
	}
	return sent
}

func shouldRemindStep(step models.WizardStep) bool {
	switch step {
	case models.StepClientDetails, models.StepPayment:
		return true
	default:
		return false
	}
}

func formatReminderMessage(slot string, left time.Duration) string {
	return fmt.Sprintf("⏳ Your reservation of %s expires in about %d seconds. Finish the booking to keep it.",
		slot, int(left.Round(time.Second).Seconds()))
}

// minutesLeft rounds up so a running hold never reads as zero.
func minutesLeft(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
