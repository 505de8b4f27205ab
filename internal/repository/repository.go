package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"telecare/internal/domain"
)

type Repositories struct {
	Consultation ConsultationRepository
	Message      MessageRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		Consultation: NewConsultationRepository(db),
		Message:      NewMessageRepository(db),
	}
}

type ConsultationRepository interface {
	Create(ctx context.Context, dto domain.CreateConsultationDTO) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Consultation, error)
	UpdateStatus(ctx context.Context, id int64, status domain.SessionStatus) error
	SetStarted(ctx context.Context, id int64, startedAt time.Time) error
	SetEnded(ctx context.Context, id int64, endedAt time.Time) error

	AddParticipant(ctx context.Context, consultationID int64, dto domain.AddParticipantDTO) (*domain.Participant, error)
	GetParticipant(ctx context.Context, consultationID, participantID int64) (*domain.Participant, error)
	ListParticipants(ctx context.Context, consultationID int64) ([]domain.Participant, error)
	SetParticipantActive(ctx context.Context, consultationID, participantID int64, active bool) error
	SetParticipantWaiting(ctx context.Context, consultationID, participantID int64) error
	AdmitParticipant(ctx context.Context, consultationID, participantID int64) error
	RemoveParticipant(ctx context.Context, consultationID, participantID int64) error
	ListWaiting(ctx context.Context, consultationID int64) ([]domain.WaitingRoomEntry, error)

	CreateJoinLink(ctx context.Context, record domain.JoinLinkRecord) (int64, error)
	ListJoinLinksByEmail(ctx context.Context, consultationID int64, email string) ([]domain.JoinLinkRecord, error)
	MarkJoinLinkUsed(ctx context.Context, id int64) error
}

type MessageRepository interface {
	// Create is idempotent on (consultation_id, client_uuid): a resend of the
	// same client message returns the already stored row.
	Create(ctx context.Context, dto domain.CreateMessageDTO) (*domain.ChatMessage, error)
	GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error)
	// PageDesc returns one page of history counted from the newest message,
	// ascending by id within the page, with a has-more flag for older rows.
	PageDesc(ctx context.Context, consultationID int64, offset, limit int) ([]domain.ChatMessage, bool, error)
	// After returns messages with id greater than afterID, used to fill the
	// gap after a chat channel reconnect.
	After(ctx context.Context, consultationID, afterID int64, limit int) ([]domain.ChatMessage, error)
	MarkRead(ctx context.Context, messageID, userID int64) (time.Time, bool, error)
}
