package service

import (
	"context"
	"fmt"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// DraftService persists wizard progress per session. Drafts are a resume aid
// only and never consulted for business decisions.
type DraftService struct {
	repo   domain.DraftRepository
	clock  domain.Clock
	logger *zerolog.Logger
}

var _ domain.DraftStore = (*DraftService)(nil)

func NewDraftService(repo domain.DraftRepository, clock domain.Clock, logger *zerolog.Logger) *DraftService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &DraftService{
		repo:   repo,
		clock:  clock,
		logger: orNop(logger),
	}
}

func orNop(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return logger
}

func (s *DraftService) Save(ctx context.Context, draft *models.BookingDraft) error {
	if draft == nil || draft.SessionID == "" {
		return fmt.Errorf("draft without session: %w", domain.ErrValidation)
	}
	snapshot := draft.Clone()
	snapshot.UpdatedAt = s.clock.Now()

	if err := s.repo.SaveDraft(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Str("session_id", draft.SessionID).Msg("failed to save draft")
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load returns nil without error when the session has no draft.
func (s *DraftService) Load(ctx context.Context, sessionID string) (*models.BookingDraft, error) {
	draft, err := s.repo.LoadDraft(ctx, sessionID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load draft")
		return nil, fmt.Errorf("load draft: %w", err)
	}
	return draft, nil
}

func (s *DraftService) Clear(ctx context.Context, sessionID string) error {
	if err := s.repo.ClearDraft(ctx, sessionID); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to clear draft")
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
