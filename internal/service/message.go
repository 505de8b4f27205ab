package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"telecare/internal/domain"
	"telecare/internal/repository"
)

var ErrEmptyMessage = errors.New("message has no content or attachment")

type MessageServiceImpl struct {
	messageRepo      repository.MessageRepository
	consultationRepo repository.ConsultationRepository
	logger           *zap.Logger
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	consultationRepo repository.ConsultationRepository,
	logger *zap.Logger,
) *MessageServiceImpl {
	return &MessageServiceImpl{
		messageRepo:      messageRepo,
		consultationRepo: consultationRepo,
		logger:           logger,
	}
}

func (s *MessageServiceImpl) Save(ctx context.Context, dto domain.CreateMessageDTO) (*domain.ChatMessage, error) {
	if dto.Content == "" && dto.Attachment == nil {
		return nil, ErrEmptyMessage
	}
	return s.messageRepo.Create(ctx, dto)
}

func (s *MessageServiceImpl) Page(ctx context.Context, consultationID int64, offset, limit int) (*domain.MessagePage, error) {
	messages, hasMore, err := s.messageRepo.PageDesc(ctx, consultationID, offset, limit)
	if err != nil {
		return nil, err
	}
	return &domain.MessagePage{Messages: messages, HasMore: hasMore}, nil
}

func (s *MessageServiceImpl) After(ctx context.Context, consultationID, afterID int64, limit int) ([]domain.ChatMessage, error) {
	return s.messageRepo.After(ctx, consultationID, afterID, limit)
}

func (s *MessageServiceImpl) MarkRead(ctx context.Context, messageID, userID int64) (*domain.ReadReceipt, bool, error) {
	readAt, added, err := s.messageRepo.MarkRead(ctx, messageID, userID)
	if err != nil {
		return nil, false, err
	}
	receipt := &domain.ReadReceipt{UserID: userID, ReadAt: readAt}
	if !added {
		return receipt, false, nil
	}

	// Completion means every active participant besides the sender has a
	// receipt.
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return receipt, false, err
	}
	participants, err := s.consultationRepo.ListParticipants(ctx, msg.ConsultationID)
	if err != nil {
		return receipt, false, err
	}

	others := 0
	for _, p := range participants {
		if p.IsActive && p.ID != msg.SenderID {
			others++
		}
	}
	readers := 0
	for _, r := range msg.ReadBy {
		if r.UserID != msg.SenderID {
			readers++
		}
	}
	return receipt, others > 0 && readers >= others, nil
}
