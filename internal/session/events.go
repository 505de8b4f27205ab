package session

import (
	"time"

	"telecare/internal/domain"
)

// Timeline event kinds surfaced to the UI
const (
	TimelinePatientWaiting     = "patient_waiting"
	TimelinePatientAdmitted    = "patient_admitted"
	TimelineParticipantLeft    = "participant_left"
	TimelineParticipantAdded   = "participant_added"
	TimelineParticipantRemoved = "participant_removed"
	TimelineMessageReceived    = "message_received"
	TimelineMessagePending     = "message_pending"
	TimelineMediaToggled       = "media_toggled"
	TimelineConnectionDegraded = "connection_degraded"
	TimelineConnectionRestored = "connection_restored"
	TimelineNotificationFailed = "notification_failed"
	TimelineUploadProgress     = "upload_progress"
	TimelineSessionEnded       = "session_ended"
)

// EventAggregator keeps a bounded, time-ordered buffer of user-facing
// notifications derived from state transitions on all channels. Ephemeral:
// never persisted and never consulted for session correctness.
type EventAggregator struct {
	capacity int
	events   []domain.TimelineEvent
	now      func() time.Time
}

// NewEventAggregator creates a ring buffer keeping the last capacity events
func NewEventAggregator(capacity int) *EventAggregator {
	if capacity <= 0 {
		capacity = 50
	}
	return &EventAggregator{
		capacity: capacity,
		now:      time.Now,
	}
}

// Add appends an event, evicting the oldest when full
func (a *EventAggregator) Add(kind, message string, actorID int64) {
	a.events = append(a.events, domain.TimelineEvent{
		Kind:    kind,
		Message: message,
		ActorID: actorID,
		At:      a.now(),
	})
	if len(a.events) > a.capacity {
		a.events = a.events[len(a.events)-a.capacity:]
	}
}

// Events returns the buffered events, oldest first
func (a *EventAggregator) Events() []domain.TimelineEvent {
	out := make([]domain.TimelineEvent, len(a.events))
	copy(out, a.events)
	return out
}

// Reset drops all buffered events
func (a *EventAggregator) Reset() {
	a.events = nil
}
