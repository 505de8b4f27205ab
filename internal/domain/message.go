package domain

import (
	"time"
)

// DeliveryStatus is the per-message lifecycle flag, independent of content.
// It only advances: pending -> sent -> read.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryRead    DeliveryStatus = "read"
)

// ReadReceipt records that one user read a message
type ReadReceipt struct {
	UserID int64     `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Attachment references an uploaded file attached to a message
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// ChatMessage represents a message in a consultation chat.
// ID, sender, and content are immutable after server confirmation;
// Status and ReadBy advance monotonically.
type ChatMessage struct {
	ID             int64           `json:"id" db:"id"`
	ClientUUID     string          `json:"client_uuid" db:"client_uuid"`
	ConsultationID int64           `json:"consultation_id" db:"consultation_id"`
	SenderID       int64           `json:"sender_id" db:"sender_id"`
	SenderRole     ParticipantRole `json:"sender_role" db:"sender_role"`
	Content        string          `json:"content" db:"content"`
	Attachment     *Attachment     `json:"attachment,omitempty"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Status         DeliveryStatus  `json:"delivery_status"`
	ReadBy         []ReadReceipt   `json:"read_by,omitempty"`
}

// ReadByUser reports whether userID already appears in the read set
func (m *ChatMessage) ReadByUser(userID int64) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// CreateMessageDTO represents the data required to persist a chat message
type CreateMessageDTO struct {
	ConsultationID int64           `json:"consultation_id" binding:"required"`
	ClientUUID     string          `json:"client_uuid" binding:"required"`
	SenderID       int64           `json:"sender_id" binding:"required"`
	SenderRole     ParticipantRole `json:"sender_role" binding:"required"`
	Content        string          `json:"content"`
	Attachment     *Attachment     `json:"attachment,omitempty"`
}

// MessagePage is one page of history, newest first on the wire,
// with HasMore signalling whether older messages remain.
type MessagePage struct {
	Messages []ChatMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}
