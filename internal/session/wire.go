package session

import (
	"encoding/json"
	"fmt"
	"time"

	"telecare/internal/domain"
)

// Wire event types exchanged over the control channel
const (
	EventJoin                 = "join"
	EventAdmit                = "admit"
	EventPatientWaiting       = "patient_waiting"
	EventPatientAdmitted      = "patient_admitted"
	EventPatientLeft          = "patient_left"
	EventParticipantAdded     = "participant_added"
	EventParticipantRemoved   = "participant_removed"
	EventConsultationEnded    = "consultation_ended"
	EventWaitingRoomUpdate    = "waiting_room_update"
	EventMediaToggleBroadcast = "media_toggle_broadcast"
	EventConnectionQuality    = "connection_quality"
)

// Wire event types exchanged over the chat channel
const (
	EventSendMessage        = "send_message"
	EventNewMessage         = "new_message"
	EventRequestHistory     = "request_history"
	EventMessageHistory     = "message_history"
	EventLoadMore           = "load_more"
	EventMoreMessagesLoaded = "more_messages_loaded"
	EventTyping             = "typing"
	EventReadMessage        = "read_message"
	EventMessageRead        = "message_read"
)

// Wire event types exchanged over the media channel
const (
	EventMediaReady              = "media_ready"
	EventMediaToggle             = "media_toggle"
	EventConnectionQualityUpdate = "connection_quality_update"
)

// Envelope is the frame carried on every channel. The payload is a typed
// struct decoded per event type, so handlers never shape-check raw maps.
type Envelope struct {
	Type           string          `json:"type"`
	ConsultationID int64           `json:"consultation_id,omitempty"`
	SenderID       int64           `json:"sender_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
}

// NewEnvelope builds an envelope with a marshalled payload
func NewEnvelope(eventType string, consultationID, senderID int64, payload interface{}) (Envelope, error) {
	env := Envelope{
		Type:           eventType,
		ConsultationID: consultationID,
		SenderID:       senderID,
		Timestamp:      time.Now().Format(time.RFC3339),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Decode unmarshals the payload into a typed struct
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// JoinPayload announces a participant on the control channel
type JoinPayload struct {
	UserID int64                  `json:"user_id"`
	Name   string                 `json:"name"`
	Role   domain.ParticipantRole `json:"role"`
}

// AdmitPayload requests admission of a waiting patient. The correlation id
// is echoed back in the patient_admitted acknowledgment.
type AdmitPayload struct {
	PatientID     int64  `json:"patient_id"`
	CorrelationID string `json:"correlation_id"`
}

// PatientWaitingPayload notifies that a patient entered the waiting room
type PatientWaitingPayload struct {
	PatientID int64     `json:"patient_id"`
	Name      string    `json:"name"`
	EnteredAt time.Time `json:"entered_at"`
}

// PatientAdmittedPayload confirms an admission; CorrelationID matches the
// admit request when the admission was initiated by this client.
type PatientAdmittedPayload struct {
	PatientID     int64  `json:"patient_id"`
	Name          string `json:"name"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// PatientLeftPayload notifies that a participant left the session
type PatientLeftPayload struct {
	ParticipantID int64 `json:"participant_id"`
	EndSession    bool  `json:"end_session,omitempty"`
}

// ParticipantAddedPayload notifies that a participant record was created
type ParticipantAddedPayload struct {
	Participant domain.Participant `json:"participant"`
}

// ParticipantRemovedPayload is the authoritative removal of another party,
// distinct from a voluntary leave.
type ParticipantRemovedPayload struct {
	ParticipantID int64 `json:"participant_id"`
}

// ConsultationEndedPayload terminates the session for all participants
type ConsultationEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// WaitingRoomUpdatePayload carries the server's authoritative waiting list
type WaitingRoomUpdatePayload struct {
	Entries []domain.WaitingRoomEntry `json:"entries"`
}

// MediaTogglePayload reports a participant enabling or disabling a media kind
type MediaTogglePayload struct {
	ParticipantID int64            `json:"participant_id"`
	Kind          domain.MediaKind `json:"kind"`
	Enabled       bool             `json:"enabled"`
}

// ConnectionQualityPayload shares a participant's quality classification.
// Display and telemetry only, never used for control decisions.
type ConnectionQualityPayload struct {
	ParticipantID int64                    `json:"participant_id"`
	Quality       domain.ConnectionQuality `json:"quality"`
	RTTMillis     int64                    `json:"rtt_ms,omitempty"`
}

// SendMessagePayload submits a chat message. ClientUUID is the correlation
// token reconciling the optimistic local copy with the server-assigned id.
type SendMessagePayload struct {
	ClientUUID string             `json:"client_uuid"`
	Content    string             `json:"content"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// NewMessagePayload broadcasts a server-confirmed message
type NewMessagePayload struct {
	Message domain.ChatMessage `json:"message"`
}

// RequestHistoryPayload asks for messages with id greater than AfterID,
// used to re-synchronize the chat channel after a reconnect.
type RequestHistoryPayload struct {
	AfterID int64 `json:"after_id"`
	Limit   int   `json:"limit,omitempty"`
}

// MessageHistoryPayload answers a history request
type MessageHistoryPayload struct {
	Messages []domain.ChatMessage `json:"messages"`
	HasMore  bool                 `json:"has_more"`
}

// LoadMorePayload asks for the next page of older messages. Offset is the
// number of messages the caller already holds; the cursor is exclusive.
type LoadMorePayload struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// MoreMessagesLoadedPayload answers a load_more request
type MoreMessagesLoadedPayload struct {
	Messages []domain.ChatMessage `json:"messages"`
	HasMore  bool                 `json:"has_more"`
}

// TypingPayload is an ephemeral typing indicator
type TypingPayload struct {
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

// ReadMessagePayload reports that a user read a message
type ReadMessagePayload struct {
	MessageID int64 `json:"message_id"`
	UserID    int64 `json:"user_id"`
}

// MessageReadPayload broadcasts a recorded read receipt
type MessageReadPayload struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// MediaReadyPayload reports negotiated media capabilities. The media channel
// renegotiates from scratch on every reconnect; there is no partial resume.
type MediaReadyPayload struct {
	Capabilities domain.MediaCapabilities `json:"capabilities"`
}
