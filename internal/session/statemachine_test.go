package session

import (
	"errors"
	"testing"
	"time"

	"telecare/internal/domain"
)

func newTestStateMachine() *StateMachine {
	return NewStateMachine(1, NewWaitingQueue(15))
}

func TestPractitionerJoinsEmptyConsultation(t *testing.T) {
	m := newTestStateMachine()

	if err := m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner); err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.Status() != domain.SessionStatusWaiting {
		t.Fatalf("got status %s, want waiting", m.Status())
	}
	if m.StartedAt() != nil {
		t.Error("start time stamped before any admission")
	}
}

func TestPatientJoinEntersWaitingRoom(t *testing.T) {
	m := newTestStateMachine()

	if err := m.RequestJoin(200, "Pat", domain.RolePatient); err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.Status() != domain.SessionStatusWaiting {
		t.Fatalf("got status %s, want waiting", m.Status())
	}
	if _, active := m.Participant(200); active {
		t.Error("unadmitted patient in active set")
	}
	if len(m.Participants()) != 0 {
		t.Errorf("got %d active participants, want 0", len(m.Participants()))
	}
}

func TestFirstAdmissionActivatesSession(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)

	if err := m.Admit(200, "Pat"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if m.Status() != domain.SessionStatusActive {
		t.Fatalf("got status %s, want active", m.Status())
	}
	if m.StartedAt() == nil {
		t.Fatal("start time not stamped on first admission")
	}
	p, ok := m.Participant(200)
	if !ok || p.Role != domain.RolePatient {
		t.Fatalf("admitted patient missing from active set: %+v", p)
	}
}

func TestAdmitIsIdempotent(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)
	m.Admit(200, "Pat")
	started := m.StartedAt()

	if err := m.Admit(200, "Pat"); err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if len(m.Participants()) != 2 {
		t.Errorf("got %d participants, want 2", len(m.Participants()))
	}
	if m.StartedAt() != started {
		t.Error("start time changed on repeat admission")
	}
}

func TestAdmitAfterEnd(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)
	m.End("done")

	if err := m.Admit(200, "Pat"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("got %v, want ErrSessionClosed", err)
	}
}

func TestSolePatientLeaveRevertsToWaiting(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)
	m.Admit(200, "Pat")

	m.RecordLeave(200, false)
	if m.Status() != domain.SessionStatusWaiting {
		t.Fatalf("got status %s, want waiting after sole patient left", m.Status())
	}
	if _, active := m.Participant(100); !active {
		t.Error("practitioner removed when patient left")
	}

	// A second admission reactivates the session.
	if err := m.Admit(300, "Sam"); err != nil {
		t.Fatalf("re-admit: %v", err)
	}
	if m.Status() != domain.SessionStatusActive {
		t.Fatalf("got status %s, want active", m.Status())
	}
}

func TestLeaveWithRemainingPatientStaysActive(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)
	m.Admit(200, "Pat")
	m.Admit(300, "Sam")

	m.RecordLeave(200, false)
	if m.Status() != domain.SessionStatusActive {
		t.Fatalf("got status %s, want active with a patient remaining", m.Status())
	}
}

func TestEndingLeaveTerminatesSession(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)
	m.Admit(200, "Pat")

	m.RecordLeave(100, true)
	if m.Status() != domain.SessionStatusEnded {
		t.Fatalf("got status %s, want ended", m.Status())
	}
	if err := m.End("again"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("got %v, want ErrSessionClosed on repeat end", err)
	}
}

func TestLeaveWhileWaitingDropsQueueEntry(t *testing.T) {
	queue := NewWaitingQueue(15)
	m := NewStateMachine(1, queue)
	m.RequestJoin(200, "Pat", domain.RolePatient)

	m.RecordLeave(200, false)
	if queue.Contains(200) {
		t.Error("waiting patient not removed from queue on leave")
	}
}

func TestRetryOnlyFromError(t *testing.T) {
	m := newTestStateMachine()
	if err := m.Retry(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}

	cause := errors.New("join refused")
	m.Fail(cause)
	if m.Status() != domain.SessionStatusError {
		t.Fatalf("got status %s, want error", m.Status())
	}
	if !errors.Is(m.Failure(), cause) {
		t.Fatalf("got failure %v, want %v", m.Failure(), cause)
	}

	if err := m.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if m.Status() != domain.SessionStatusConnecting {
		t.Fatalf("got status %s, want connecting", m.Status())
	}
	if m.Failure() != nil || m.StartedAt() != nil || len(m.Participants()) != 0 {
		t.Error("retry did not reset session state")
	}
}

func TestLoadSnapshotSeedsBothSets(t *testing.T) {
	queue := NewWaitingQueue(15)
	m := NewStateMachine(1, queue)
	joined := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	err := m.LoadSnapshot([]domain.Participant{
		{ID: 100, Name: "Dr. Adams", Role: domain.RolePractitioner, IsActive: true, JoinedAt: joined},
		{ID: 200, Name: "Pat", Role: domain.RolePatient, IsActive: true, JoinedAt: joined},
		{ID: 300, Name: "Sam", Role: domain.RolePatient, InWaitingRoom: true, JoinedAt: joined},
	})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(m.Participants()) != 2 {
		t.Errorf("got %d active, want 2", len(m.Participants()))
	}
	if !queue.Contains(300) {
		t.Error("waiting participant not queued")
	}

	// A practitioner joining a session with an admitted patient goes active.
	if err := m.RequestJoin(101, "Dr. Brown", domain.RolePractitioner); err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.Status() != domain.SessionStatusActive {
		t.Fatalf("got status %s, want active", m.Status())
	}

	if err := m.LoadSnapshot(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition outside connecting", err)
	}
}

func TestSetMediaAndSnapshot(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)
	m.Admit(200, "Pat")

	m.SetMedia(100, domain.MediaKindVideo, true)
	m.SetMedia(100, domain.MediaKindScreenShare, true)
	m.SetMedia(999, domain.MediaKindAudio, true) // unknown participant ignored

	snap := m.Snapshot(100)
	if !snap.Media.Video || !snap.Media.ScreenShare || snap.Media.Audio {
		t.Errorf("got media %+v, want video+screenshare", snap.Media)
	}
	if snap.ParticipantCount != 2 {
		t.Errorf("got count %d, want 2", snap.ParticipantCount)
	}
	if snap.Status != domain.SessionStatusActive {
		t.Errorf("got status %s, want active", snap.Status)
	}
}

func TestActiveCountExcluding(t *testing.T) {
	m := newTestStateMachine()
	m.RequestJoin(100, "Dr. Adams", domain.RolePractitioner)
	m.Admit(200, "Pat")
	m.MarkJoined(300, "Expert", domain.RoleExpert)

	if got := m.ActiveCountExcluding(200); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := m.ActiveCountExcluding(999); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}
