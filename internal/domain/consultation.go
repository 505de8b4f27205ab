package domain

import (
	"time"
)

// SessionStatus represents the lifecycle state of a consultation session
type SessionStatus string

const (
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusWaiting    SessionStatus = "waiting"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusEnded      SessionStatus = "ended"
	SessionStatusError      SessionStatus = "error"
)

// ParticipantRole represents the role of a participant in a consultation
type ParticipantRole string

const (
	RolePractitioner ParticipantRole = "practitioner"
	RolePatient      ParticipantRole = "patient"
	RoleExpert       ParticipantRole = "expert"
	RoleGuest        ParticipantRole = "guest"
)

// MediaStatus tracks which media kinds a participant currently has enabled
type MediaStatus struct {
	Video       bool `json:"video"`
	Audio       bool `json:"audio"`
	ScreenShare bool `json:"screen_share"`
}

// MediaKind identifies one toggleable media stream
type MediaKind string

const (
	MediaKindVideo       MediaKind = "video"
	MediaKindAudio       MediaKind = "audio"
	MediaKindScreenShare MediaKind = "screen_share"
)

// MediaCapabilities describes what the media backend negotiated for a session
type MediaCapabilities struct {
	Video       bool `json:"video"`
	Audio       bool `json:"audio"`
	ScreenShare bool `json:"screen_share"`
}

// Participant represents a user attached to a consultation.
// A participant is in at most one of the active set and the waiting room.
type Participant struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Email         string          `json:"email,omitempty" db:"email"`
	Role          ParticipantRole `json:"role" db:"role"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	InWaitingRoom bool            `json:"in_waiting_room" db:"in_waiting_room"`
	JoinedAt      time.Time       `json:"joined_at" db:"joined_at"`
	Media         MediaStatus     `json:"media_status"`
}

// Consultation is the persisted consultation record
type Consultation struct {
	ID             int64         `json:"id" db:"id"`
	PractitionerID int64         `json:"practitioner_id" db:"practitioner_id"`
	Topic          string        `json:"topic" db:"topic"`
	Status         SessionStatus `json:"status" db:"status"`
	ScheduledAt    *time.Time    `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty" db:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// CreateConsultationDTO represents the data required to schedule a consultation
type CreateConsultationDTO struct {
	PractitionerID int64      `json:"practitioner_id" binding:"required"`
	Topic          string     `json:"topic"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
}

// JoinLinkRecord is a persisted join link. Only the token hash is stored, so
// database rows cannot be replayed as links.
type JoinLinkRecord struct {
	ID             int64           `json:"id" db:"id"`
	ConsultationID int64           `json:"consultation_id" db:"consultation_id"`
	Email          string          `json:"email" db:"email"`
	Role           ParticipantRole `json:"role" db:"role"`
	TokenHash      string          `json:"-" db:"token_hash"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	UsedAt         *time.Time      `json:"used_at,omitempty" db:"used_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// WaitingRoomStatus summarizes the waiting room for UI display
type WaitingRoomStatus struct {
	HasWaiting   bool `json:"has_waiting"`
	WaitingCount int  `json:"waiting_count"`
}

// WaitingRoomEntry is one patient waiting to be admitted.
// QueuePosition is the 1-based rank by EnteredAt among currently waiting entries.
type WaitingRoomEntry struct {
	ParticipantID        int64     `json:"participant_id"`
	Name                 string    `json:"name"`
	EnteredAt            time.Time `json:"entered_at"`
	QueuePosition        int       `json:"queue_position"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
}

// ConsultationSession is a read-only snapshot of one consultation's state
// as seen by a single coordinator instance.
type ConsultationSession struct {
	ConsultationID   int64             `json:"consultation_id"`
	Status           SessionStatus     `json:"session_status"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	ParticipantCount int               `json:"participant_count"`
	Media            MediaStatus       `json:"media_status"`
	WaitingRoom      WaitingRoomStatus `json:"waiting_room_status"`
}

// ChannelKind identifies one of the three logical real-time channels
type ChannelKind string

const (
	ChannelControl ChannelKind = "control"
	ChannelMedia   ChannelKind = "media"
	ChannelChat    ChannelKind = "chat"
)

// LinkStatus represents the connection status of a single channel
type LinkStatus string

const (
	LinkDisconnected LinkStatus = "disconnected"
	LinkConnecting   LinkStatus = "connecting"
	LinkConnected    LinkStatus = "connected"
	LinkReconnecting LinkStatus = "reconnecting"
	LinkError        LinkStatus = "error"
)

// ConnectionQuality is a display-only classification derived from round-trip latency
type ConnectionQuality string

const (
	QualityGood         ConnectionQuality = "good"
	QualityFair         ConnectionQuality = "fair"
	QualityPoor         ConnectionQuality = "poor"
	QualityDisconnected ConnectionQuality = "disconnected"
)

// ConnectionState describes one channel's connection, independent per channel
type ConnectionState struct {
	Channel           ChannelKind       `json:"channel"`
	Status            LinkStatus        `json:"status"`
	LastConnectedAt   *time.Time        `json:"last_connected_at,omitempty"`
	ReconnectAttempts int               `json:"reconnect_attempts"`
	Quality           ConnectionQuality `json:"quality"`
}

// TimelineEvent is an ephemeral user-facing notification. Never persisted,
// never affects session correctness.
type TimelineEvent struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	ActorID int64     `json:"actor_id,omitempty"`
	At      time.Time `json:"at"`
}

// JoinSnapshot is the state returned by the join collaborator API
type JoinSnapshot struct {
	Participants    []Participant     `json:"participants"`
	Messages        []ChatMessage     `json:"messages"`
	HasMoreMessages bool              `json:"has_more_messages"`
	Capabilities    MediaCapabilities `json:"media_capabilities"`
}

// AddParticipantDTO represents the data required to add a participant
type AddParticipantDTO struct {
	Role  ParticipantRole `json:"role" binding:"required"`
	Email string          `json:"email" binding:"required,email"`
	Name  string          `json:"name" binding:"required"`
	Notes string          `json:"notes,omitempty"`
}

// AddParticipantResult reports the outcome of adding a participant.
// The participant record is always created; email delivery may still fail.
type AddParticipantResult struct {
	Participant Participant `json:"participant"`
	EmailSent   bool        `json:"email_sent"`
	EmailError  string      `json:"email_error,omitempty"`
}

// JoinLinkDTO represents the data required to generate a magic join link
type JoinLinkDTO struct {
	Email            string          `json:"email" binding:"required,email"`
	Role             ParticipantRole `json:"role" binding:"required"`
	Name             string          `json:"name" binding:"required"`
	ExpiresInMinutes int             `json:"expires_in_minutes"`
}

// JoinLink is a single-use, time-bounded URL granting access to one consultation
type JoinLink struct {
	Link      string    `json:"link"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
