package session

import (
	"fmt"
	"sort"
	"time"

	"telecare/internal/domain"
)

// StateMachine owns the authoritative lifecycle state of one consultation:
//
//	connecting -> waiting -> active -> ended
//
// with error reachable from any state and exited only by Retry. It also owns
// the active participant set and, jointly with the WaitingQueue, enforces
// that a participant is in at most one of {active set, waiting room}.
//
// Not internally synchronized; the owning coordinator serializes access.
type StateMachine struct {
	consultationID  int64
	status          domain.SessionStatus
	active          map[int64]*domain.Participant
	queue           *WaitingQueue
	startedAt       *time.Time
	patientAdmitted bool
	failure         error
	endReason       string
	now             func() time.Time
}

// NewStateMachine creates a machine in the connecting state
func NewStateMachine(consultationID int64, queue *WaitingQueue) *StateMachine {
	return &StateMachine{
		consultationID: consultationID,
		status:         domain.SessionStatusConnecting,
		active:         make(map[int64]*domain.Participant),
		queue:          queue,
		now:            time.Now,
	}
}

// Status returns the current lifecycle state
func (m *StateMachine) Status() domain.SessionStatus {
	return m.status
}

// StartedAt returns the consultation start time, stamped on first admission
func (m *StateMachine) StartedAt() *time.Time {
	return m.startedAt
}

// Failure returns the cause recorded by Fail, if any
func (m *StateMachine) Failure() error {
	return m.failure
}

// LoadSnapshot seeds the participant sets from the join API response.
// Valid only while connecting.
func (m *StateMachine) LoadSnapshot(participants []domain.Participant) error {
	if m.status != domain.SessionStatusConnecting {
		return fmt.Errorf("load snapshot in %s: %w", m.status, ErrInvalidTransition)
	}
	for i := range participants {
		p := participants[i]
		switch {
		case p.InWaitingRoom:
			_, _ = m.queue.EnqueueAt(p.ID, p.Name, p.JoinedAt)
		case p.IsActive:
			cp := p
			m.active[p.ID] = &cp
			if p.Role == domain.RolePatient {
				m.patientAdmitted = true
			}
		}
	}
	return nil
}

// RequestJoin transitions out of connecting for the local user. A patient
// not yet admitted enters the waiting room; everyone else joins the active
// set. The session becomes active only once a patient has been admitted,
// otherwise it waits.
func (m *StateMachine) RequestJoin(userID int64, name string, role domain.ParticipantRole) error {
	if m.status != domain.SessionStatusConnecting {
		return fmt.Errorf("join in %s: %w", m.status, ErrInvalidTransition)
	}
	if role == domain.RolePatient && m.active[userID] == nil {
		if !m.queue.Contains(userID) {
			_, _ = m.queue.Enqueue(userID, name)
		}
		m.status = domain.SessionStatusWaiting
		return nil
	}
	if m.active[userID] == nil {
		m.active[userID] = &domain.Participant{
			ID:       userID,
			Name:     name,
			Role:     role,
			IsActive: true,
			JoinedAt: m.now(),
		}
	}
	if m.patientAdmitted {
		m.status = domain.SessionStatusActive
	} else {
		m.status = domain.SessionStatusWaiting
	}
	return nil
}

// Admit moves a waiting patient into the active set. Admitting an already
// active participant is an idempotent no-op. The first admitted patient
// transitions the session to active and stamps the consultation start time.
func (m *StateMachine) Admit(participantID int64, name string) error {
	if m.status == domain.SessionStatusEnded {
		return ErrSessionClosed
	}
	if m.status != domain.SessionStatusWaiting && m.status != domain.SessionStatusActive {
		return fmt.Errorf("admit in %s: %w", m.status, ErrInvalidTransition)
	}
	if m.active[participantID] != nil {
		return nil
	}
	joined := m.now()
	if entry, err := m.queue.DequeueAdmit(participantID); err == nil {
		if name == "" {
			name = entry.Name
		}
	}
	m.active[participantID] = &domain.Participant{
		ID:       participantID,
		Name:     name,
		Role:     domain.RolePatient,
		IsActive: true,
		JoinedAt: joined,
	}
	if !m.patientAdmitted {
		m.patientAdmitted = true
		m.startedAt = &joined
	}
	m.status = domain.SessionStatusActive
	return nil
}

// MarkJoined records a non-patient participant announced on the control
// channel. Idempotent.
func (m *StateMachine) MarkJoined(participantID int64, name string, role domain.ParticipantRole) {
	if m.active[participantID] != nil {
		return
	}
	m.active[participantID] = &domain.Participant{
		ID:       participantID,
		Name:     name,
		Role:     role,
		IsActive: true,
		JoinedAt: m.now(),
	}
}

// RecordLeave removes a participant. When the sole patient leaves and the
// leave is not session-ending, the session reverts to waiting rather than
// ending: the practitioner stays and may admit the next patient.
func (m *StateMachine) RecordLeave(participantID int64, endSession bool) {
	if endSession {
		_ = m.End("ended by leaving participant")
		return
	}
	p, wasActive := m.active[participantID]
	if wasActive {
		delete(m.active, participantID)
	} else {
		m.queue.Remove(participantID)
		return
	}
	if p.Role == domain.RolePatient && m.status == domain.SessionStatusActive && !m.anyActivePatient() {
		m.status = domain.SessionStatusWaiting
	}
}

// End transitions to the terminal ended state from any non-terminal state.
// Subsequent operations fail with ErrSessionClosed.
func (m *StateMachine) End(reason string) error {
	if m.status == domain.SessionStatusEnded {
		return ErrSessionClosed
	}
	m.status = domain.SessionStatusEnded
	m.endReason = reason
	return nil
}

// Fail transitions to the error state from any state, recording the cause
func (m *StateMachine) Fail(cause error) {
	m.status = domain.SessionStatusError
	m.failure = cause
}

// Retry exits the error state back to connecting with all per-session
// collections reset.
func (m *StateMachine) Retry() error {
	if m.status != domain.SessionStatusError {
		return fmt.Errorf("retry in %s: %w", m.status, ErrInvalidTransition)
	}
	m.status = domain.SessionStatusConnecting
	m.active = make(map[int64]*domain.Participant)
	m.queue.Reset()
	m.startedAt = nil
	m.patientAdmitted = false
	m.failure = nil
	m.endReason = ""
	return nil
}

// SetMedia updates a participant's media status
func (m *StateMachine) SetMedia(participantID int64, kind domain.MediaKind, enabled bool) {
	p, ok := m.active[participantID]
	if !ok {
		return
	}
	switch kind {
	case domain.MediaKindVideo:
		p.Media.Video = enabled
	case domain.MediaKindAudio:
		p.Media.Audio = enabled
	case domain.MediaKindScreenShare:
		p.Media.ScreenShare = enabled
	}
}

// Participant returns one active participant
func (m *StateMachine) Participant(id int64) (domain.Participant, bool) {
	p, ok := m.active[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Participants returns the active set ordered by id
func (m *StateMachine) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(m.active))
	for _, p := range m.active {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCountExcluding counts active participants other than the given user,
// used to decide when a message's read set is complete.
func (m *StateMachine) ActiveCountExcluding(userID int64) int {
	n := 0
	for id := range m.active {
		if id != userID {
			n++
		}
	}
	return n
}

// Snapshot returns the session state by value for UI consumption
func (m *StateMachine) Snapshot(localUserID int64) domain.ConsultationSession {
	s := domain.ConsultationSession{
		ConsultationID:   m.consultationID,
		Status:           m.status,
		StartedAt:        m.startedAt,
		ParticipantCount: len(m.active),
		WaitingRoom:      m.queue.Status(),
	}
	if p, ok := m.active[localUserID]; ok {
		s.Media = p.Media
	}
	return s
}

func (m *StateMachine) anyActivePatient() bool {
	for _, p := range m.active {
		if p.Role == domain.RolePatient {
			return true
		}
	}
	return false
}
