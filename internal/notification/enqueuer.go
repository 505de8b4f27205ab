package notification

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer queues notification tasks for background delivery. Delivery
// failure never blocks the operation that requested the notification.
type Enqueuer struct {
	client *asynq.Client
	logger *zap.Logger
}

func NewEnqueuer(client *asynq.Client, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{client: client, logger: logger}
}

func (e *Enqueuer) EnqueueInviteEmail(ctx context.Context, payload InviteEmailPayload) error {
	task, err := NewInviteEmailTask(payload)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue invite email: %w", err)
	}
	e.logger.Info("invite email queued",
		zap.String("task_id", info.ID),
		zap.Int64("consultation_id", payload.ConsultationID),
		zap.String("email", payload.Email))
	return nil
}
