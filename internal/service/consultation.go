package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telecare/config"
	"telecare/internal/domain"
	"telecare/internal/notification"
	"telecare/internal/repository"
	"telecare/pkg/auth"
	"telecare/pkg/validator"
)

var (
	ErrConsultationEnded = errors.New("consultation has ended")
	ErrNotWaiting        = errors.New("no patient waiting")
	ErrInvalidJoinLink   = errors.New("join link is invalid or already used")
	ErrInvalidEmail      = errors.New("invalid email address")
)

type ConsultationServiceImpl struct {
	consultationRepo repository.ConsultationRepository
	messageRepo      repository.MessageRepository
	joinLinks        *auth.JoinLinkManager
	notifier         InviteNotifier
	cfg              *config.Config
	logger           *zap.Logger
}

func NewConsultationService(
	consultationRepo repository.ConsultationRepository,
	messageRepo repository.MessageRepository,
	joinLinks *auth.JoinLinkManager,
	notifier InviteNotifier,
	cfg *config.Config,
	logger *zap.Logger,
) *ConsultationServiceImpl {
	return &ConsultationServiceImpl{
		consultationRepo: consultationRepo,
		messageRepo:      messageRepo,
		joinLinks:        joinLinks,
		notifier:         notifier,
		cfg:              cfg,
		logger:           logger,
	}
}

func (s *ConsultationServiceImpl) Create(ctx context.Context, dto domain.CreateConsultationDTO) (int64, error) {
	return s.consultationRepo.Create(ctx, dto)
}

func (s *ConsultationServiceImpl) GetByID(ctx context.Context, id int64) (*domain.Consultation, error) {
	return s.consultationRepo.GetByID(ctx, id)
}

func (s *ConsultationServiceImpl) Join(ctx context.Context, consultationID, participantID int64, role domain.ParticipantRole) (*domain.JoinSnapshot, error) {
	consultation, err := s.consultationRepo.GetByID(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("consultation not found: %w", err)
	}
	if consultation.Status == domain.SessionStatusEnded {
		return nil, ErrConsultationEnded
	}

	participant, err := s.consultationRepo.GetParticipant(ctx, consultationID, participantID)
	if err != nil {
		return nil, fmt.Errorf("participant not found: %w", err)
	}

	// Unadmitted patients wait; everyone else goes straight to the active
	// set. Re-joining an already admitted patient keeps them active.
	if role == domain.RolePatient && !participant.IsActive {
		if err := s.consultationRepo.SetParticipantWaiting(ctx, consultationID, participantID); err != nil {
			return nil, err
		}
	} else if !participant.IsActive {
		if err := s.consultationRepo.SetParticipantActive(ctx, consultationID, participantID, true); err != nil {
			return nil, err
		}
	}

	participants, err := s.consultationRepo.ListParticipants(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	messages, hasMore, err := s.messageRepo.PageDesc(ctx, consultationID, 0, s.cfg.Session.HistoryPageSize)
	if err != nil {
		return nil, err
	}

	return &domain.JoinSnapshot{
		Participants:    participants,
		Messages:        messages,
		HasMoreMessages: hasMore,
		Capabilities: domain.MediaCapabilities{
			Video:       true,
			Audio:       true,
			ScreenShare: true,
		},
	}, nil
}

func (s *ConsultationServiceImpl) Admit(ctx context.Context, consultationID int64, patientID *int64) (*domain.Participant, error) {
	consultation, err := s.consultationRepo.GetByID(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("consultation not found: %w", err)
	}
	if consultation.Status == domain.SessionStatusEnded {
		return nil, ErrConsultationEnded
	}

	var id int64
	if patientID != nil {
		id = *patientID
	} else {
		waiting, err := s.consultationRepo.ListWaiting(ctx, consultationID)
		if err != nil {
			return nil, err
		}
		if len(waiting) == 0 {
			return nil, ErrNotWaiting
		}
		id = waiting[0].ParticipantID
	}

	participant, err := s.consultationRepo.GetParticipant(ctx, consultationID, id)
	if err != nil {
		return nil, fmt.Errorf("participant not found: %w", err)
	}
	if participant.IsActive {
		return participant, nil
	}

	if err := s.consultationRepo.AdmitParticipant(ctx, consultationID, id); err != nil {
		return nil, err
	}
	if err := s.consultationRepo.SetStarted(ctx, consultationID, time.Now()); err != nil {
		return nil, err
	}

	s.logger.Info("patient admitted",
		zap.Int64("consultation_id", consultationID),
		zap.Int64("patient_id", id))

	return s.consultationRepo.GetParticipant(ctx, consultationID, id)
}

func (s *ConsultationServiceImpl) GetParticipant(ctx context.Context, consultationID, participantID int64) (*domain.Participant, error) {
	return s.consultationRepo.GetParticipant(ctx, consultationID, participantID)
}

func (s *ConsultationServiceImpl) Leave(ctx context.Context, consultationID, participantID int64) error {
	if err := s.consultationRepo.RemoveParticipant(ctx, consultationID, participantID); err != nil {
		return err
	}

	// When the last active patient leaves, the consultation returns to
	// waiting so the practitioner can admit the next one.
	participants, err := s.consultationRepo.ListParticipants(ctx, consultationID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.Role == domain.RolePatient && p.IsActive {
			return nil
		}
	}
	return s.consultationRepo.UpdateStatus(ctx, consultationID, domain.SessionStatusWaiting)
}

func (s *ConsultationServiceImpl) End(ctx context.Context, consultationID int64) error {
	return s.consultationRepo.SetEnded(ctx, consultationID, time.Now())
}

func (s *ConsultationServiceImpl) ListWaiting(ctx context.Context, consultationID int64) ([]domain.WaitingRoomEntry, error) {
	entries, err := s.consultationRepo.ListWaiting(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		// Display heuristic only, not a correctness guarantee.
		entries[i].EstimatedWaitMinutes = i * s.cfg.Session.AvgConsultationMinutes
	}
	return entries, nil
}

func (s *ConsultationServiceImpl) AddParticipant(ctx context.Context, consultationID int64, dto domain.AddParticipantDTO) (*domain.AddParticipantResult, error) {
	if !validator.ValidateEmail(dto.Email) {
		return nil, ErrInvalidEmail
	}
	dto.Name = validator.FormatName(validator.SanitizeString(dto.Name))

	participant, err := s.consultationRepo.AddParticipant(ctx, consultationID, dto)
	if err != nil {
		return nil, err
	}

	result := &domain.AddParticipantResult{Participant: *participant}

	link, err := s.GenerateJoinLink(ctx, consultationID, domain.JoinLinkDTO{
		Email: dto.Email,
		Role:  dto.Role,
		Name:  dto.Name,
	})
	if err != nil {
		// The record exists; the operator can generate a link manually.
		result.EmailError = err.Error()
		s.logger.Warn("join link generation failed after adding participant",
			zap.Int64("consultation_id", consultationID),
			zap.String("email", dto.Email),
			zap.Error(err))
		return result, nil
	}

	err = s.notifier.EnqueueInviteEmail(ctx, notification.InviteEmailPayload{
		ConsultationID: consultationID,
		Email:          dto.Email,
		Name:           dto.Name,
		Role:           dto.Role,
		JoinURL:        link.Link,
		ExpiresAt:      link.ExpiresAt,
	})
	if err != nil {
		result.EmailError = err.Error()
		s.logger.Warn("invite email not queued",
			zap.Int64("consultation_id", consultationID),
			zap.String("email", dto.Email),
			zap.Error(err))
		return result, nil
	}

	result.EmailSent = true
	return result, nil
}

func (s *ConsultationServiceImpl) GenerateJoinLink(ctx context.Context, consultationID int64, dto domain.JoinLinkDTO) (*domain.JoinLink, error) {
	if !validator.ValidateEmail(dto.Email) {
		return nil, ErrInvalidEmail
	}

	ttl := time.Duration(dto.ExpiresInMinutes) * time.Minute
	token, expiresAt, err := s.joinLinks.Issue(consultationID, dto.Email, dto.Name, dto.Role, ttl)
	if err != nil {
		return nil, err
	}

	tokenHash, err := auth.HashToken(token)
	if err != nil {
		return nil, err
	}
	_, err = s.consultationRepo.CreateJoinLink(ctx, domain.JoinLinkRecord{
		ConsultationID: consultationID,
		Email:          dto.Email,
		Role:           dto.Role,
		TokenHash:      tokenHash,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return nil, err
	}

	return &domain.JoinLink{
		Link:      fmt.Sprintf("%s/join?token=%s", s.cfg.SMTP.BaseURL, token),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *ConsultationServiceImpl) RedeemJoinLink(ctx context.Context, token string) (*domain.Participant, int64, error) {
	claims, err := s.joinLinks.Parse(token)
	if err != nil {
		return nil, 0, err
	}

	links, err := s.consultationRepo.ListJoinLinksByEmail(ctx, claims.ConsultationID, claims.Email)
	if err != nil {
		return nil, 0, err
	}

	var matched *domain.JoinLinkRecord
	for i := range links {
		ok, err := auth.VerifyToken(token, links[i].TokenHash)
		if err == nil && ok {
			matched = &links[i]
			break
		}
	}
	if matched == nil {
		return nil, 0, ErrInvalidJoinLink
	}

	if err := s.consultationRepo.MarkJoinLinkUsed(ctx, matched.ID); err != nil {
		return nil, 0, err
	}

	// Reuse the invited participant record when one exists for this email.
	participants, err := s.consultationRepo.ListParticipants(ctx, claims.ConsultationID)
	if err != nil {
		return nil, 0, err
	}
	for i := range participants {
		if participants[i].Email == claims.Email {
			return &participants[i], claims.ConsultationID, nil
		}
	}

	participant, err := s.consultationRepo.AddParticipant(ctx, claims.ConsultationID, domain.AddParticipantDTO{
		Role:  claims.Role,
		Email: claims.Email,
		Name:  claims.Name,
	})
	if err != nil {
		return nil, 0, err
	}
	return participant, claims.ConsultationID, nil
}

func (s *ConsultationServiceImpl) RemoveParticipant(ctx context.Context, consultationID, participantID int64) error {
	if err := s.consultationRepo.RemoveParticipant(ctx, consultationID, participantID); err != nil {
		return err
	}
	s.logger.Info("participant removed",
		zap.Int64("consultation_id", consultationID),
		zap.Int64("participant_id", participantID))
	return nil
}
