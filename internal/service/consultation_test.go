package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"telecare/config"
	"telecare/internal/domain"
	"telecare/internal/notification"
	"telecare/pkg/auth"

	"testing"
)

var errNotFound = errors.New("not found")

type fakeConsultationRepo struct {
	consultations map[int64]*domain.Consultation
	participants  map[int64]*domain.Participant
	byConsult     map[int64][]int64
	enteredAt     map[int64]time.Time
	links         map[int64]*domain.JoinLinkRecord
	nextID        int64
}

func newFakeConsultationRepo() *fakeConsultationRepo {
	return &fakeConsultationRepo{
		consultations: make(map[int64]*domain.Consultation),
		participants:  make(map[int64]*domain.Participant),
		byConsult:     make(map[int64][]int64),
		enteredAt:     make(map[int64]time.Time),
		links:         make(map[int64]*domain.JoinLinkRecord),
	}
}

func (f *fakeConsultationRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeConsultationRepo) Create(ctx context.Context, dto domain.CreateConsultationDTO) (int64, error) {
	id := f.id()
	f.consultations[id] = &domain.Consultation{
		ID:             id,
		PractitionerID: dto.PractitionerID,
		Topic:          dto.Topic,
		Status:         domain.SessionStatusWaiting,
		ScheduledAt:    dto.ScheduledAt,
		CreatedAt:      time.Now(),
	}
	return id, nil
}

func (f *fakeConsultationRepo) GetByID(ctx context.Context, id int64) (*domain.Consultation, error) {
	c, ok := f.consultations[id]
	if !ok {
		return nil, errNotFound
	}
	copy := *c
	return &copy, nil
}

func (f *fakeConsultationRepo) UpdateStatus(ctx context.Context, id int64, status domain.SessionStatus) error {
	c, ok := f.consultations[id]
	if !ok {
		return errNotFound
	}
	c.Status = status
	return nil
}

func (f *fakeConsultationRepo) SetStarted(ctx context.Context, id int64, startedAt time.Time) error {
	c, ok := f.consultations[id]
	if !ok {
		return errNotFound
	}
	c.Status = domain.SessionStatusActive
	if c.StartedAt == nil {
		c.StartedAt = &startedAt
	}
	return nil
}

func (f *fakeConsultationRepo) SetEnded(ctx context.Context, id int64, endedAt time.Time) error {
	c, ok := f.consultations[id]
	if !ok {
		return errNotFound
	}
	c.Status = domain.SessionStatusEnded
	c.EndedAt = &endedAt
	return nil
}

func (f *fakeConsultationRepo) AddParticipant(ctx context.Context, consultationID int64, dto domain.AddParticipantDTO) (*domain.Participant, error) {
	id := f.id()
	p := &domain.Participant{
		ID:       id,
		Name:     dto.Name,
		Email:    dto.Email,
		Role:     dto.Role,
		JoinedAt: time.Now(),
	}
	f.participants[id] = p
	f.byConsult[consultationID] = append(f.byConsult[consultationID], id)
	copy := *p
	return &copy, nil
}

func (f *fakeConsultationRepo) GetParticipant(ctx context.Context, consultationID, participantID int64) (*domain.Participant, error) {
	p, ok := f.participants[participantID]
	if !ok {
		return nil, errNotFound
	}
	copy := *p
	return &copy, nil
}

func (f *fakeConsultationRepo) ListParticipants(ctx context.Context, consultationID int64) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, id := range f.byConsult[consultationID] {
		out = append(out, *f.participants[id])
	}
	return out, nil
}

func (f *fakeConsultationRepo) SetParticipantActive(ctx context.Context, consultationID, participantID int64, active bool) error {
	p, ok := f.participants[participantID]
	if !ok {
		return errNotFound
	}
	p.IsActive = active
	p.InWaitingRoom = false
	return nil
}

func (f *fakeConsultationRepo) SetParticipantWaiting(ctx context.Context, consultationID, participantID int64) error {
	p, ok := f.participants[participantID]
	if !ok {
		return errNotFound
	}
	p.InWaitingRoom = true
	p.IsActive = false
	if _, seen := f.enteredAt[participantID]; !seen {
		f.enteredAt[participantID] = time.Now()
	}
	return nil
}

func (f *fakeConsultationRepo) AdmitParticipant(ctx context.Context, consultationID, participantID int64) error {
	p, ok := f.participants[participantID]
	if !ok {
		return errNotFound
	}
	if !p.InWaitingRoom {
		return nil
	}
	p.InWaitingRoom = false
	p.IsActive = true
	delete(f.enteredAt, participantID)
	return nil
}

func (f *fakeConsultationRepo) RemoveParticipant(ctx context.Context, consultationID, participantID int64) error {
	p, ok := f.participants[participantID]
	if !ok {
		return errNotFound
	}
	p.IsActive = false
	p.InWaitingRoom = false
	delete(f.enteredAt, participantID)
	return nil
}

func (f *fakeConsultationRepo) ListWaiting(ctx context.Context, consultationID int64) ([]domain.WaitingRoomEntry, error) {
	var entries []domain.WaitingRoomEntry
	for _, id := range f.byConsult[consultationID] {
		p := f.participants[id]
		if p.InWaitingRoom {
			entries = append(entries, domain.WaitingRoomEntry{
				ParticipantID: p.ID,
				Name:          p.Name,
				EnteredAt:     f.enteredAt[p.ID],
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EnteredAt.Equal(entries[j].EnteredAt) {
			return entries[i].ParticipantID < entries[j].ParticipantID
		}
		return entries[i].EnteredAt.Before(entries[j].EnteredAt)
	})
	for i := range entries {
		entries[i].QueuePosition = i + 1
	}
	return entries, nil
}

func (f *fakeConsultationRepo) CreateJoinLink(ctx context.Context, record domain.JoinLinkRecord) (int64, error) {
	id := f.id()
	record.ID = id
	record.CreatedAt = time.Now()
	f.links[id] = &record
	return id, nil
}

func (f *fakeConsultationRepo) ListJoinLinksByEmail(ctx context.Context, consultationID int64, email string) ([]domain.JoinLinkRecord, error) {
	var out []domain.JoinLinkRecord
	for _, l := range f.links {
		if l.ConsultationID == consultationID && l.Email == email && l.UsedAt == nil && l.ExpiresAt.After(time.Now()) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeConsultationRepo) MarkJoinLinkUsed(ctx context.Context, id int64) error {
	l, ok := f.links[id]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	l.UsedAt = &now
	return nil
}

type fakeMessageRepo struct {
	messages map[int64]*domain.ChatMessage
	byUUID   map[string]int64
	nextID   int64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: make(map[int64]*domain.ChatMessage),
		byUUID:   make(map[string]int64),
	}
}

func (f *fakeMessageRepo) Create(ctx context.Context, dto domain.CreateMessageDTO) (*domain.ChatMessage, error) {
	if id, ok := f.byUUID[dto.ClientUUID]; ok {
		copy := *f.messages[id]
		return &copy, nil
	}
	f.nextID++
	m := &domain.ChatMessage{
		ID:             f.nextID,
		ClientUUID:     dto.ClientUUID,
		ConsultationID: dto.ConsultationID,
		SenderID:       dto.SenderID,
		SenderRole:     dto.SenderRole,
		Content:        dto.Content,
		Attachment:     dto.Attachment,
		CreatedAt:      time.Now(),
		Status:         domain.DeliverySent,
	}
	f.messages[m.ID] = m
	f.byUUID[dto.ClientUUID] = m.ID
	copy := *m
	return &copy, nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id int64) (*domain.ChatMessage, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, errNotFound
	}
	copy := *m
	copy.ReadBy = append([]domain.ReadReceipt(nil), m.ReadBy...)
	return &copy, nil
}

func (f *fakeMessageRepo) PageDesc(ctx context.Context, consultationID int64, offset, limit int) ([]domain.ChatMessage, bool, error) {
	var all []domain.ChatMessage
	for _, m := range f.messages {
		if m.ConsultationID == consultationID {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return nil, false, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	return page, end < len(all), nil
}

func (f *fakeMessageRepo) After(ctx context.Context, consultationID, afterID int64, limit int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	for _, m := range f.messages {
		if m.ConsultationID == consultationID && m.ID > afterID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMessageRepo) MarkRead(ctx context.Context, messageID, userID int64) (time.Time, bool, error) {
	m, ok := f.messages[messageID]
	if !ok {
		return time.Time{}, false, errNotFound
	}
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return r.ReadAt, false, nil
		}
	}
	now := time.Now()
	m.ReadBy = append(m.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: now})
	return now, true, nil
}

type fakeNotifier struct {
	sent []notification.InviteEmailPayload
	err  error
}

func (f *fakeNotifier) EnqueueInviteEmail(ctx context.Context, payload notification.InviteEmailPayload) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, payload)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		SMTP: config.SMTPConfig{BaseURL: "http://localhost:8080"},
		Session: config.SessionConfig{
			HistoryPageSize:        50,
			AvgConsultationMinutes: 15,
		},
	}
}

type consultationFixture struct {
	svc      *ConsultationServiceImpl
	repo     *fakeConsultationRepo
	msgs     *fakeMessageRepo
	notifier *fakeNotifier
}

func newConsultationFixture(t *testing.T) *consultationFixture {
	t.Helper()
	repo := newFakeConsultationRepo()
	msgs := newFakeMessageRepo()
	notifier := &fakeNotifier{}
	svc := NewConsultationService(
		repo,
		msgs,
		auth.NewJoinLinkManager("test-key", time.Hour),
		notifier,
		testConfig(),
		zap.NewNop(),
	)
	return &consultationFixture{svc: svc, repo: repo, msgs: msgs, notifier: notifier}
}

func (fx *consultationFixture) newConsultation(t *testing.T) int64 {
	t.Helper()
	id, err := fx.svc.Create(context.Background(), domain.CreateConsultationDTO{PractitionerID: 1, Topic: "checkup"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func (fx *consultationFixture) newParticipant(t *testing.T, consultationID int64, name string, role domain.ParticipantRole) int64 {
	t.Helper()
	p, err := fx.repo.AddParticipant(context.Background(), consultationID, domain.AddParticipantDTO{
		Name:  name,
		Email: name + "@example.com",
		Role:  role,
	})
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	return p.ID
}

func TestJoinPatientEntersWaitingRoom(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)
	pid := fx.newParticipant(t, cid, "pat", domain.RolePatient)

	snapshot, err := fx.svc.Join(context.Background(), cid, pid, domain.RolePatient)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(snapshot.Participants) != 1 {
		t.Fatalf("got %d participants, want 1", len(snapshot.Participants))
	}

	p, _ := fx.repo.GetParticipant(context.Background(), cid, pid)
	if !p.InWaitingRoom || p.IsActive {
		t.Fatalf("patient state after join: waiting=%v active=%v", p.InWaitingRoom, p.IsActive)
	}
}

func TestJoinPractitionerGoesActive(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)
	pid := fx.newParticipant(t, cid, "doc", domain.RolePractitioner)

	if _, err := fx.svc.Join(context.Background(), cid, pid, domain.RolePractitioner); err != nil {
		t.Fatalf("Join: %v", err)
	}

	p, _ := fx.repo.GetParticipant(context.Background(), cid, pid)
	if !p.IsActive || p.InWaitingRoom {
		t.Fatalf("practitioner state after join: active=%v waiting=%v", p.IsActive, p.InWaitingRoom)
	}
}

func TestJoinEndedConsultation(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)
	pid := fx.newParticipant(t, cid, "pat", domain.RolePatient)

	if err := fx.svc.End(context.Background(), cid); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := fx.svc.Join(context.Background(), cid, pid, domain.RolePatient); !errors.Is(err, ErrConsultationEnded) {
		t.Fatalf("err = %v, want ErrConsultationEnded", err)
	}
}

func TestAdmitLongestWaiting(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)
	first := fx.newParticipant(t, cid, "first", domain.RolePatient)
	second := fx.newParticipant(t, cid, "second", domain.RolePatient)

	fx.repo.SetParticipantWaiting(context.Background(), cid, first)
	fx.repo.enteredAt[first] = time.Now().Add(-2 * time.Minute)
	fx.repo.SetParticipantWaiting(context.Background(), cid, second)

	admitted, err := fx.svc.Admit(context.Background(), cid, nil)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if admitted.ID != first {
		t.Fatalf("admitted %d, want longest waiting %d", admitted.ID, first)
	}
	if !admitted.IsActive || admitted.InWaitingRoom {
		t.Fatalf("admitted state: active=%v waiting=%v", admitted.IsActive, admitted.InWaitingRoom)
	}

	c, _ := fx.svc.GetByID(context.Background(), cid)
	if c.Status != domain.SessionStatusActive {
		t.Errorf("status = %s, want active", c.Status)
	}
	if c.StartedAt == nil {
		t.Error("StartedAt not stamped on first admission")
	}
}

func TestAdmitIdempotent(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)
	pid := fx.newParticipant(t, cid, "pat", domain.RolePatient)

	fx.repo.SetParticipantWaiting(context.Background(), cid, pid)
	if _, err := fx.svc.Admit(context.Background(), cid, &pid); err != nil {
		t.Fatalf("first Admit: %v", err)
	}

	c, _ := fx.svc.GetByID(context.Background(), cid)
	started := *c.StartedAt

	again, err := fx.svc.Admit(context.Background(), cid, &pid)
	if err != nil {
		t.Fatalf("second Admit: %v", err)
	}
	if !again.IsActive {
		t.Fatal("participant no longer active after repeat admission")
	}

	c, _ = fx.svc.GetByID(context.Background(), cid)
	if !c.StartedAt.Equal(started) {
		t.Error("StartedAt changed on repeat admission")
	}
}

func TestAdmitNoneWaiting(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)

	if _, err := fx.svc.Admit(context.Background(), cid, nil); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("err = %v, want ErrNotWaiting", err)
	}
}

func TestLeaveLastPatientRevertsToWaiting(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)
	doc := fx.newParticipant(t, cid, "doc", domain.RolePractitioner)
	pat := fx.newParticipant(t, cid, "pat", domain.RolePatient)

	fx.repo.SetParticipantActive(context.Background(), cid, doc, true)
	fx.repo.SetParticipantWaiting(context.Background(), cid, pat)
	if _, err := fx.svc.Admit(context.Background(), cid, &pat); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if err := fx.svc.Leave(context.Background(), cid, pat); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	c, _ := fx.svc.GetByID(context.Background(), cid)
	if c.Status != domain.SessionStatusWaiting {
		t.Fatalf("status after sole patient left = %s, want waiting", c.Status)
	}
}

func TestAddParticipantSendsInvite(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)

	result, err := fx.svc.AddParticipant(context.Background(), cid, domain.AddParticipantDTO{
		Name:  "guest one",
		Email: "guest@example.com",
		Role:  domain.RoleGuest,
	})
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if !result.EmailSent {
		t.Fatalf("EmailSent = false, error: %s", result.EmailError)
	}
	if result.Participant.Name != "Guest One" {
		t.Errorf("name not normalized: %q", result.Participant.Name)
	}
	if len(fx.notifier.sent) != 1 {
		t.Fatalf("queued %d emails, want 1", len(fx.notifier.sent))
	}
	if fx.notifier.sent[0].JoinURL == "" {
		t.Error("invite email has no join URL")
	}
}

func TestAddParticipantEmailFailureNonFatal(t *testing.T) {
	fx := newConsultationFixture(t)
	fx.notifier.err = errors.New("redis down")
	cid := fx.newConsultation(t)

	result, err := fx.svc.AddParticipant(context.Background(), cid, domain.AddParticipantDTO{
		Name:  "guest",
		Email: "guest@example.com",
		Role:  domain.RoleGuest,
	})
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if result.EmailSent {
		t.Fatal("EmailSent = true despite enqueue failure")
	}
	if result.EmailError == "" {
		t.Fatal("EmailError empty")
	}
	// The record still exists, so the operator can share a link manually.
	participants, _ := fx.repo.ListParticipants(context.Background(), cid)
	if len(participants) != 1 {
		t.Fatalf("got %d participants, want 1", len(participants))
	}
}

func TestAddParticipantRejectsInvalidEmail(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)

	_, err := fx.svc.AddParticipant(context.Background(), cid, domain.AddParticipantDTO{
		Name:  "guest",
		Email: "not-an-email",
		Role:  domain.RoleGuest,
	})
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("err = %v, want ErrInvalidEmail", err)
	}
}

func TestGenerateAndRedeemJoinLink(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)

	link, err := fx.svc.GenerateJoinLink(context.Background(), cid, domain.JoinLinkDTO{
		Email: "expert@example.com",
		Name:  "Dr. Lee",
		Role:  domain.RoleExpert,
	})
	if err != nil {
		t.Fatalf("GenerateJoinLink: %v", err)
	}
	if link.Token == "" || link.Link == "" {
		t.Fatal("empty link or token")
	}

	participant, gotCID, err := fx.svc.RedeemJoinLink(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("RedeemJoinLink: %v", err)
	}
	if gotCID != cid {
		t.Errorf("consultation id = %d, want %d", gotCID, cid)
	}
	if participant.Email != "expert@example.com" || participant.Role != domain.RoleExpert {
		t.Errorf("participant = %+v", participant)
	}

	// Single use: the second redemption finds no live link row.
	if _, _, err := fx.svc.RedeemJoinLink(context.Background(), link.Token); !errors.Is(err, ErrInvalidJoinLink) {
		t.Fatalf("second redemption err = %v, want ErrInvalidJoinLink", err)
	}
}

func TestRedeemJoinLinkReusesParticipantRecord(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)

	result, err := fx.svc.AddParticipant(context.Background(), cid, domain.AddParticipantDTO{
		Name:  "guest",
		Email: "guest@example.com",
		Role:  domain.RoleGuest,
	})
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	link, err := fx.svc.GenerateJoinLink(context.Background(), cid, domain.JoinLinkDTO{
		Email: "guest@example.com",
		Name:  "guest",
		Role:  domain.RoleGuest,
	})
	if err != nil {
		t.Fatalf("GenerateJoinLink: %v", err)
	}

	participant, _, err := fx.svc.RedeemJoinLink(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("RedeemJoinLink: %v", err)
	}
	if participant.ID != result.Participant.ID {
		t.Fatalf("redeemed participant %d, want existing record %d", participant.ID, result.Participant.ID)
	}
}

func TestListWaitingEstimates(t *testing.T) {
	fx := newConsultationFixture(t)
	cid := fx.newConsultation(t)
	first := fx.newParticipant(t, cid, "first", domain.RolePatient)
	second := fx.newParticipant(t, cid, "second", domain.RolePatient)

	fx.repo.SetParticipantWaiting(context.Background(), cid, first)
	fx.repo.enteredAt[first] = time.Now().Add(-time.Minute)
	fx.repo.SetParticipantWaiting(context.Background(), cid, second)

	entries, err := fx.svc.ListWaiting(context.Background(), cid)
	if err != nil {
		t.Fatalf("ListWaiting: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].EstimatedWaitMinutes != 0 || entries[1].EstimatedWaitMinutes != 15 {
		t.Errorf("estimates = %d, %d; want 0, 15",
			entries[0].EstimatedWaitMinutes, entries[1].EstimatedWaitMinutes)
	}
}
