package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telecare/internal/domain"
)

type MessageRepositoryImpl struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepositoryImpl {
	return &MessageRepositoryImpl{db: db}
}

func (r *MessageRepositoryImpl) Create(ctx context.Context, dto domain.CreateMessageDTO) (*domain.ChatMessage, error) {
	query := `
		INSERT INTO messages (consultation_id, client_uuid, sender_id, sender_role, content, attachment_url, attachment_name, attachment_size, attachment_content_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (consultation_id, client_uuid) DO NOTHING
		RETURNING id, consultation_id, client_uuid, sender_id, sender_role, content, attachment_url, attachment_name, attachment_size, attachment_content_type, created_at`

	var attachmentURL, attachmentName, attachmentContentType *string
	var attachmentSize *int64
	if dto.Attachment != nil {
		attachmentURL = &dto.Attachment.URL
		attachmentName = &dto.Attachment.Name
		attachmentSize = &dto.Attachment.Size
		attachmentContentType = &dto.Attachment.ContentType
	}

	msg, err := r.scanMessage(r.db.QueryRow(ctx, query,
		dto.ConsultationID,
		dto.ClientUUID,
		dto.SenderID,
		dto.SenderRole,
		dto.Content,
		attachmentURL,
		attachmentName,
		attachmentSize,
		attachmentContentType,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Resend of an already stored message; return the original row.
		return r.getByClientUUID(ctx, dto.ConsultationID, dto.ClientUUID)
	}
	if err != nil {
		return nil, err
	}
	msg.Status = domain.DeliverySent
	return msg, nil
}

func (r *MessageRepositoryImpl) GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	query := `
		SELECT id, consultation_id, client_uuid, sender_id, sender_role, content, attachment_url, attachment_name, attachment_size, attachment_content_type, created_at
		FROM messages
		WHERE id = $1`

	msg, err := r.scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.attachReads(ctx, []*domain.ChatMessage{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepositoryImpl) getByClientUUID(ctx context.Context, consultationID int64, clientUUID string) (*domain.ChatMessage, error) {
	query := `
		SELECT id, consultation_id, client_uuid, sender_id, sender_role, content, attachment_url, attachment_name, attachment_size, attachment_content_type, created_at
		FROM messages
		WHERE consultation_id = $1 AND client_uuid = $2`

	msg, err := r.scanMessage(r.db.QueryRow(ctx, query, consultationID, clientUUID))
	if err != nil {
		return nil, err
	}
	msg.Status = domain.DeliverySent
	return msg, nil
}

func (r *MessageRepositoryImpl) PageDesc(ctx context.Context, consultationID int64, offset, limit int) ([]domain.ChatMessage, bool, error) {
	query := `
		SELECT id, consultation_id, client_uuid, sender_id, sender_role, content, attachment_url, attachment_name, attachment_size, attachment_content_type, created_at
		FROM messages
		WHERE consultation_id = $1
		ORDER BY id DESC
		OFFSET $2 LIMIT $3`

	rows, err := r.db.Query(ctx, query, consultationID, offset, limit)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	messages, err := r.collectMessages(ctx, rows)
	if err != nil {
		return nil, false, err
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM messages WHERE consultation_id = $1", consultationID).Scan(&total); err != nil {
		return nil, false, err
	}
	hasMore := offset+len(messages) < total

	// Pages are served newest-first; callers display ascending by id.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, hasMore, nil
}

func (r *MessageRepositoryImpl) After(ctx context.Context, consultationID, afterID int64, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, consultation_id, client_uuid, sender_id, sender_role, content, attachment_url, attachment_name, attachment_size, attachment_content_type, created_at
		FROM messages
		WHERE consultation_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, consultationID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectMessages(ctx, rows)
}

func (r *MessageRepositoryImpl) MarkRead(ctx context.Context, messageID, userID int64) (time.Time, bool, error) {
	query := `
		INSERT INTO message_reads (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
		RETURNING read_at`

	var readAt time.Time
	err := r.db.QueryRow(ctx, query, messageID, userID).Scan(&readAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Receipt already recorded; read state never regresses.
		existing := `SELECT read_at FROM message_reads WHERE message_id = $1 AND user_id = $2`
		if err := r.db.QueryRow(ctx, existing, messageID, userID).Scan(&readAt); err != nil {
			return time.Time{}, false, err
		}
		return readAt, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return readAt, true, nil
}

func (r *MessageRepositoryImpl) scanMessage(row pgx.Row) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	var attachmentURL, attachmentName, attachmentContentType *string
	var attachmentSize *int64

	err := row.Scan(
		&msg.ID,
		&msg.ConsultationID,
		&msg.ClientUUID,
		&msg.SenderID,
		&msg.SenderRole,
		&msg.Content,
		&attachmentURL,
		&attachmentName,
		&attachmentSize,
		&attachmentContentType,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if attachmentURL != nil {
		msg.Attachment = &domain.Attachment{URL: *attachmentURL}
		if attachmentName != nil {
			msg.Attachment.Name = *attachmentName
		}
		if attachmentSize != nil {
			msg.Attachment.Size = *attachmentSize
		}
		if attachmentContentType != nil {
			msg.Attachment.ContentType = *attachmentContentType
		}
	}
	msg.Status = domain.DeliverySent
	return &msg, nil
}

func (r *MessageRepositoryImpl) collectMessages(ctx context.Context, rows pgx.Rows) ([]domain.ChatMessage, error) {
	var messages []*domain.ChatMessage
	for rows.Next() {
		msg, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachReads(ctx, messages); err != nil {
		return nil, err
	}

	out := make([]domain.ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = *m
	}
	return out, nil
}

func (r *MessageRepositoryImpl) attachReads(ctx context.Context, messages []*domain.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int64, len(messages))
	byID := make(map[int64]*domain.ChatMessage, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	query := `
		SELECT message_id, user_id, read_at
		FROM message_reads
		WHERE message_id = ANY($1)
		ORDER BY read_at`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID int64
		var receipt domain.ReadReceipt
		if err := rows.Scan(&messageID, &receipt.UserID, &receipt.ReadAt); err != nil {
			return err
		}
		if msg, ok := byID[messageID]; ok {
			msg.ReadBy = append(msg.ReadBy, receipt)
		}
	}
	return rows.Err()
}
