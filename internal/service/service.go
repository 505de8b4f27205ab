package service

import (
	"context"

	"go.uber.org/zap"

	"telecare/config"
	"telecare/internal/domain"
	"telecare/internal/notification"
	"telecare/internal/repository"
	"telecare/pkg/auth"
)

// InviteNotifier queues invite emails for background delivery
type InviteNotifier interface {
	EnqueueInviteEmail(ctx context.Context, payload notification.InviteEmailPayload) error
}

type Deps struct {
	Repos     *repository.Repositories
	Logger    *zap.Logger
	Config    *config.Config
	JoinLinks *auth.JoinLinkManager
	Notifier  InviteNotifier
}

type Services struct {
	Consultation ConsultationService
	Message      MessageService
}

func NewServices(deps Deps) *Services {
	return &Services{
		Consultation: NewConsultationService(deps.Repos.Consultation, deps.Repos.Message, deps.JoinLinks, deps.Notifier, deps.Config, deps.Logger),
		Message:      NewMessageService(deps.Repos.Message, deps.Repos.Consultation, deps.Logger),
	}
}

type ConsultationService interface {
	Create(ctx context.Context, dto domain.CreateConsultationDTO) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Consultation, error)

	// Join is idempotent; re-joining returns the current snapshot.
	Join(ctx context.Context, consultationID, participantID int64, role domain.ParticipantRole) (*domain.JoinSnapshot, error)
	// Admit is a no-op if the patient is already admitted. A nil patientID
	// admits the longest waiting patient.
	Admit(ctx context.Context, consultationID int64, patientID *int64) (*domain.Participant, error)
	GetParticipant(ctx context.Context, consultationID, participantID int64) (*domain.Participant, error)
	Leave(ctx context.Context, consultationID, participantID int64) error
	End(ctx context.Context, consultationID int64) error
	ListWaiting(ctx context.Context, consultationID int64) ([]domain.WaitingRoomEntry, error)

	// AddParticipant always creates the participant record; email delivery
	// failure is reported in the result, never as an error.
	AddParticipant(ctx context.Context, consultationID int64, dto domain.AddParticipantDTO) (*domain.AddParticipantResult, error)
	GenerateJoinLink(ctx context.Context, consultationID int64, dto domain.JoinLinkDTO) (*domain.JoinLink, error)
	RedeemJoinLink(ctx context.Context, token string) (*domain.Participant, int64, error)
	RemoveParticipant(ctx context.Context, consultationID, participantID int64) error
}

type MessageService interface {
	Save(ctx context.Context, dto domain.CreateMessageDTO) (*domain.ChatMessage, error)
	Page(ctx context.Context, consultationID int64, offset, limit int) (*domain.MessagePage, error)
	After(ctx context.Context, consultationID, afterID int64, limit int) ([]domain.ChatMessage, error)
	// MarkRead records a receipt and reports whether the message is now read
	// by every active participant besides the sender.
	MarkRead(ctx context.Context, messageID, userID int64) (*domain.ReadReceipt, bool, error)
}
