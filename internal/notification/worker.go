package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// EmailSender delivers a rendered invite email
type EmailSender interface {
	SendInvite(ctx context.Context, payload InviteEmailPayload) error
}

// Worker consumes queued notification tasks
type Worker struct {
	sender EmailSender
	logger *zap.Logger
}

func NewWorker(sender EmailSender, logger *zap.Logger) *Worker {
	return &Worker{sender: sender, logger: logger}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeInviteEmail, w.handleInviteEmail)
}

func (w *Worker) handleInviteEmail(ctx context.Context, task *asynq.Task) error {
	var payload InviteEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal invite email payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.sender.SendInvite(ctx, payload); err != nil {
		w.logger.Warn("invite email delivery failed",
			zap.Int64("consultation_id", payload.ConsultationID),
			zap.String("email", payload.Email),
			zap.Error(err))
		return err
	}

	w.logger.Info("invite email sent",
		zap.Int64("consultation_id", payload.ConsultationID),
		zap.String("email", payload.Email))
	return nil
}
