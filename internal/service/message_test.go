package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"telecare/internal/domain"
)

type messageFixture struct {
	svc  *MessageServiceImpl
	repo *fakeMessageRepo
	crep *fakeConsultationRepo
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	repo := newFakeMessageRepo()
	crep := newFakeConsultationRepo()
	return &messageFixture{
		svc:  NewMessageService(repo, crep, zap.NewNop()),
		repo: repo,
		crep: crep,
	}
}

func (fx *messageFixture) save(t *testing.T, cid, sender int64, uuid, content string) *domain.ChatMessage {
	t.Helper()
	msg, err := fx.svc.Save(context.Background(), domain.CreateMessageDTO{
		ConsultationID: cid,
		ClientUUID:     uuid,
		SenderID:       sender,
		SenderRole:     domain.RolePatient,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return msg
}

func TestSaveRejectsEmptyMessage(t *testing.T) {
	fx := newMessageFixture(t)
	_, err := fx.svc.Save(context.Background(), domain.CreateMessageDTO{
		ConsultationID: 1,
		ClientUUID:     "u1",
		SenderID:       1,
	})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestSaveIdempotentOnClientUUID(t *testing.T) {
	fx := newMessageFixture(t)
	first := fx.save(t, 1, 10, "uuid-1", "hello")
	second := fx.save(t, 1, 10, "uuid-1", "hello")
	if first.ID != second.ID {
		t.Fatalf("resend got id %d, want %d", second.ID, first.ID)
	}
	third := fx.save(t, 1, 10, "uuid-2", "hello again")
	if third.ID == first.ID {
		t.Fatal("distinct client uuid reused a server id")
	}
}

func TestMarkReadCompletion(t *testing.T) {
	fx := newMessageFixture(t)

	// Three active participants: sender 10 plus readers 20 and 30.
	ctx := context.Background()
	cid, _ := fx.crep.Create(ctx, domain.CreateConsultationDTO{PractitionerID: 1})
	for _, id := range []string{"a", "b", "c"} {
		p, _ := fx.crep.AddParticipant(ctx, cid, domain.AddParticipantDTO{Name: id, Email: id + "@x.com", Role: domain.RolePatient})
		fx.crep.SetParticipantActive(ctx, cid, p.ID, true)
	}
	participants, _ := fx.crep.ListParticipants(ctx, cid)
	sender, readerA, readerB := participants[0].ID, participants[1].ID, participants[2].ID

	msg := fx.save(t, cid, sender, "uuid-1", "hello")

	receipt, complete, err := fx.svc.MarkRead(ctx, msg.ID, readerA)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if receipt.UserID != readerA {
		t.Errorf("receipt user = %d, want %d", receipt.UserID, readerA)
	}
	if complete {
		t.Fatal("complete after one of two readers")
	}

	_, complete, err = fx.svc.MarkRead(ctx, msg.ID, readerB)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !complete {
		t.Fatal("not complete after every other active participant read")
	}
}

func TestMarkReadRepeatIsNoOp(t *testing.T) {
	fx := newMessageFixture(t)
	ctx := context.Background()
	cid, _ := fx.crep.Create(ctx, domain.CreateConsultationDTO{PractitionerID: 1})
	msg := fx.save(t, cid, 10, "uuid-1", "hello")

	first, _, err := fx.svc.MarkRead(ctx, msg.ID, 20)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	second, complete, err := fx.svc.MarkRead(ctx, msg.ID, 20)
	if err != nil {
		t.Fatalf("repeat MarkRead: %v", err)
	}
	if complete {
		t.Fatal("repeat receipt reported completion")
	}
	if !second.ReadAt.Equal(first.ReadAt) {
		t.Error("repeat receipt changed the original read time")
	}
}

func TestPageHasMore(t *testing.T) {
	fx := newMessageFixture(t)
	for i := 0; i < 5; i++ {
		fx.save(t, 1, 10, string(rune('a'+i)), "msg")
	}

	page, err := fx.svc.Page(context.Background(), 1, 0, 2)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("page: %d messages, hasMore=%v", len(page.Messages), page.HasMore)
	}
	// Newest two, ascending within the page.
	if page.Messages[0].ID != 4 || page.Messages[1].ID != 5 {
		t.Errorf("page ids = %d, %d; want 4, 5", page.Messages[0].ID, page.Messages[1].ID)
	}

	last, err := fx.svc.Page(context.Background(), 1, 4, 2)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(last.Messages) != 1 || last.HasMore {
		t.Fatalf("last page: %d messages, hasMore=%v", len(last.Messages), last.HasMore)
	}
}
