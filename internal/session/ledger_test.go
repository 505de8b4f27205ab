package session

import (
	"fmt"
	"testing"
	"time"

	"telecare/internal/domain"
)

func serverMessages(from, to int64) []domain.ChatMessage {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var out []domain.ChatMessage
	for id := from; id <= to; id++ {
		out = append(out, domain.ChatMessage{
			ID:             id,
			ConsultationID: 1,
			SenderID:       100,
			SenderRole:     domain.RolePractitioner,
			Content:        fmt.Sprintf("message %d", id),
			CreatedAt:      base.Add(time.Duration(id) * time.Second),
			Status:         domain.DeliverySent,
		})
	}
	return out
}

func TestLedgerAppendAndConfirm(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	l.LoadSnapshot(serverMessages(1, 3), false)

	msg := l.Append(200, domain.RolePatient, "hello", nil)
	if msg.Status != domain.DeliveryPending {
		t.Fatalf("got status %s, want pending", msg.Status)
	}
	if msg.ID != 4 {
		t.Fatalf("got provisional id %d, want 4", msg.ID)
	}
	if msg.ClientUUID == "" {
		t.Fatal("no correlation uuid assigned")
	}

	confirmedAt := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	confirmed, ok := l.Confirm(msg.ClientUUID, 17, confirmedAt)
	if !ok {
		t.Fatal("confirm did not match pending message")
	}
	if confirmed.ID != 17 || confirmed.Status != domain.DeliverySent {
		t.Fatalf("got id=%d status=%s, want server id 17 sent", confirmed.ID, confirmed.Status)
	}
	if _, ok := l.Message(4); ok {
		t.Error("provisional id still resolvable after confirmation")
	}
	if got := l.LastServerID(); got != 17 {
		t.Errorf("got last server id %d, want 17", got)
	}

	// Second confirmation of the same uuid is a no-op.
	if _, ok := l.Confirm(msg.ClientUUID, 18, confirmedAt); ok {
		t.Error("confirmed an already confirmed message")
	}
}

func TestLedgerIngestConfirmsOwnEcho(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	local := l.Append(200, domain.RolePatient, "hello", nil)

	echo := domain.ChatMessage{
		ID:         42,
		ClientUUID: local.ClientUUID,
		SenderID:   200,
		Content:    "hello",
		Status:     domain.DeliverySent,
	}
	msg, added := l.Ingest(echo)
	if !added || msg.ID != 42 {
		t.Fatalf("echo not reconciled: added=%v id=%d", added, msg.ID)
	}
	if got := len(l.Messages()); got != 1 {
		t.Fatalf("got %d messages, want 1 (no duplicate)", got)
	}

	// Redelivery of the same echo is dropped.
	if _, added := l.Ingest(echo); added {
		t.Error("duplicate echo was added")
	}
	if got := len(l.Messages()); got != 1 {
		t.Fatalf("got %d messages after redelivery, want 1", got)
	}
}

func TestLedgerIngestKeepsArrivalOnContestedID(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	l.LoadSnapshot(serverMessages(1, 3), false)

	local := l.Append(200, domain.RolePatient, "mine", nil)
	if local.ID != 4 {
		t.Fatalf("got provisional id %d, want 4", local.ID)
	}

	// Another participant's message lands with the server id the local
	// pending entry had picked provisionally.
	remote, added := l.Ingest(domain.ChatMessage{
		ID:         4,
		ClientUUID: "peer-uuid",
		SenderID:   100,
		SenderRole: domain.RolePractitioner,
		Content:    "theirs",
		Status:     domain.DeliverySent,
	})
	if !added {
		t.Fatal("arrival with a contested id was dropped")
	}
	if remote.SenderID != 100 || remote.Content != "theirs" {
		t.Fatalf("got sender=%d content=%q for server id 4, want the arrival", remote.SenderID, remote.Content)
	}
	if got, ok := l.Message(4); !ok || got.Content != "theirs" {
		t.Fatalf("server id 4 resolves to %q, want the arrival", got.Content)
	}

	// The local message is still pending, moved to a free provisional id.
	pending := l.Pending()
	if len(pending) != 1 || pending[0].ClientUUID != local.ClientUUID {
		t.Fatalf("got %d pending, want the local message still pending", len(pending))
	}
	if pending[0].ID <= 4 {
		t.Fatalf("pending kept contested id %d", pending[0].ID)
	}

	// Confirmation still matches by uuid and leaves a contiguous ledger.
	confirmed, ok := l.Confirm(local.ClientUUID, 5, time.Time{})
	if !ok || confirmed.ID != 5 {
		t.Fatalf("confirm after collision: ok=%v id=%d", ok, confirmed.ID)
	}
	msgs := l.Messages()
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != int64(i+1) {
			t.Fatalf("message %d has id %d, gap or duplicate in ledger", i, m.ID)
		}
	}
}

func TestLedgerIngestOrdersByID(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	l.Ingest(domain.ChatMessage{ID: 5, SenderID: 100, Content: "late"})
	l.Ingest(domain.ChatMessage{ID: 2, SenderID: 200, Content: "early"})

	msgs := l.Messages()
	if msgs[0].ID != 2 || msgs[1].ID != 5 {
		t.Fatalf("messages not ordered by id: %d, %d", msgs[0].ID, msgs[1].ID)
	}
}

func TestLedgerMarkReadMonotonic(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	l.Ingest(domain.ChatMessage{ID: 1, SenderID: 100, Content: "hi", Status: domain.DeliverySent})
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	// Two other active participants: one receipt is not enough.
	if !l.MarkRead(1, 200, at, 2) {
		t.Fatal("first receipt rejected")
	}
	msg, _ := l.Message(1)
	if msg.Status != domain.DeliverySent {
		t.Fatalf("got status %s after partial read, want sent", msg.Status)
	}

	// Repeat receipt from the same user changes nothing.
	if l.MarkRead(1, 200, at, 2) {
		t.Error("duplicate receipt recorded")
	}

	if !l.MarkRead(1, 300, at, 2) {
		t.Fatal("second receipt rejected")
	}
	msg, _ = l.Message(1)
	if msg.Status != domain.DeliveryRead {
		t.Fatalf("got status %s, want read", msg.Status)
	}
	if len(msg.ReadBy) != 2 {
		t.Fatalf("got %d receipts, want 2", len(msg.ReadBy))
	}

	// Status never regresses even if the active count later grows.
	l.MarkRead(1, 400, at, 5)
	msg, _ = l.Message(1)
	if msg.Status != domain.DeliveryRead {
		t.Fatalf("status regressed to %s", msg.Status)
	}

	// Sender's own receipt does not count toward completion.
	l.Ingest(domain.ChatMessage{ID: 2, SenderID: 100, Content: "again", Status: domain.DeliverySent})
	l.MarkRead(2, 100, at, 1)
	msg, _ = l.Message(2)
	if msg.Status == domain.DeliveryRead {
		t.Error("sender receipt completed the read set")
	}
}

func TestLedgerPaginationAcrossPages(t *testing.T) {
	l := NewLedger(1, 5*time.Second)

	// Join snapshot delivers the newest page of a 120 message history.
	l.LoadSnapshot(serverMessages(71, 120), true)
	if got := l.LoadedCount(); got != 50 {
		t.Fatalf("got offset %d after snapshot, want 50", got)
	}
	if !l.HasMore() {
		t.Fatal("hasMore lost after snapshot")
	}

	if added := l.MergeOlder(serverMessages(21, 70), true); added != 50 {
		t.Fatalf("got %d added for second page, want 50", added)
	}
	if got := l.LoadedCount(); got != 100 {
		t.Fatalf("got offset %d after second page, want 100", got)
	}

	if added := l.MergeOlder(serverMessages(1, 20), false); added != 20 {
		t.Fatalf("got %d added for last page, want 20", added)
	}
	if l.HasMore() {
		t.Error("hasMore still set after final page")
	}

	msgs := l.Messages()
	if len(msgs) != 120 {
		t.Fatalf("got %d messages, want 120", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != int64(i+1) {
			t.Fatalf("message %d has id %d, gap or duplicate in ledger", i, m.ID)
		}
	}
}

func TestLedgerMergeOlderSkipsOverlap(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	l.LoadSnapshot(serverMessages(40, 60), true)

	// Overlapping page after a concurrent insert shifted server offsets.
	if added := l.MergeOlder(serverMessages(35, 45), true); added != 5 {
		t.Fatalf("got %d added, want 5 (overlap skipped)", added)
	}
	if got := len(l.Messages()); got != 26 {
		t.Fatalf("got %d messages, want 26", got)
	}
}

func TestLedgerPendingAndResendBookkeeping(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	l.LoadSnapshot(serverMessages(1, 2), false)
	first := l.Append(200, domain.RolePatient, "first", nil)
	second := l.Append(200, domain.RolePatient, "second", nil)

	pending := l.Pending()
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].ClientUUID != first.ClientUUID || pending[1].ClientUUID != second.ClientUUID {
		t.Error("pending not in append order")
	}

	// Pending messages do not move the pagination offset or resume point.
	if got := l.LoadedCount(); got != 2 {
		t.Errorf("got offset %d, want 2", got)
	}
	if got := l.LastServerID(); got != 2 {
		t.Errorf("got resume id %d, want 2", got)
	}

	l.Confirm(first.ClientUUID, 3, time.Time{})
	if got := len(l.Pending()); got != 1 {
		t.Fatalf("got %d pending after confirm, want 1", got)
	}
}

func TestLedgerTypingExpiry(t *testing.T) {
	l := NewLedger(1, 5*time.Second)
	current := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }

	l.SetTyping(200, true)
	l.SetTyping(300, true)
	if got := l.TypingUsers(); len(got) != 2 || got[0] != 200 {
		t.Fatalf("got typing %v, want [200 300]", got)
	}

	l.SetTyping(300, false)
	if got := l.TypingUsers(); len(got) != 1 || got[0] != 200 {
		t.Fatalf("got typing %v, want [200]", got)
	}

	// A lost stop signal expires after the TTL.
	current = current.Add(6 * time.Second)
	if got := l.TypingUsers(); len(got) != 0 {
		t.Fatalf("got typing %v, want none after TTL", got)
	}
}
