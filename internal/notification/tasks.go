package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"telecare/internal/domain"
)

const TypeInviteEmail = "notification:invite_email"

// InviteEmailPayload carries everything the worker needs to render and send
// a consultation invite.
type InviteEmailPayload struct {
	ConsultationID int64                  `json:"consultation_id"`
	Email          string                 `json:"email"`
	Name           string                 `json:"name"`
	Role           domain.ParticipantRole `json:"role"`
	JoinURL        string                 `json:"join_url"`
	ExpiresAt      time.Time              `json:"expires_at"`
}

func NewInviteEmailTask(payload InviteEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invite email payload: %w", err)
	}
	return asynq.NewTask(TypeInviteEmail, data,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
	), nil
}
