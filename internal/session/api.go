package session

import (
	"context"

	"telecare/internal/domain"
)

// ConsultationAPI is the collaborator contract the coordinator consumes for
// everything that is not carried on the real-time channels. All calls are
// network calls and must honor the context.
type ConsultationAPI interface {
	// JoinConsultation is idempotent; re-joining returns the current snapshot.
	JoinConsultation(ctx context.Context, consultationID, userID int64, role domain.ParticipantRole) (*domain.JoinSnapshot, error)

	// AdmitPatient is a no-op if the patient is already admitted.
	// A nil patientID admits the first patient in the queue.
	AdmitPatient(ctx context.Context, consultationID int64, patientID *int64) error

	// AddParticipant always creates the participant record, even when the
	// invite email could not be delivered.
	AddParticipant(ctx context.Context, consultationID int64, dto domain.AddParticipantDTO) (*domain.AddParticipantResult, error)

	// GenerateJoinLink issues a magic link so operators are never blocked
	// purely by notification failure.
	GenerateJoinLink(ctx context.Context, consultationID int64, dto domain.JoinLinkDTO) (*domain.JoinLink, error)

	RemoveParticipant(ctx context.Context, consultationID, participantID int64) error
}

// AttachmentUploader uploads a file on the HTTP side channel, reporting
// progress percentages. Uploads are outside the chat ordering guarantees.
type AttachmentUploader interface {
	Upload(ctx context.Context, filename string, data []byte, progress func(pct int)) (*domain.Attachment, error)
}
