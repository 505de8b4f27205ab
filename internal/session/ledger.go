package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"telecare/internal/domain"
)

// Ledger is the append-only chat log of one consultation. Message ids are
// server-assigned and monotonic; locally appended messages carry an
// optimistic provisional id plus a client uuid, and are reconciled against
// the server-confirmed id on acknowledgment. The ledger's id order, not
// arrival order, is authoritative for display.
//
// Not internally synchronized; the owning coordinator serializes access.
type Ledger struct {
	consultationID int64
	messages       []*domain.ChatMessage
	byID           map[int64]*domain.ChatMessage
	byUUID         map[string]*domain.ChatMessage
	hasMore        bool
	typing         map[int64]time.Time
	typingTTL      time.Duration
	now            func() time.Time
}

// NewLedger creates an empty ledger. typingTTL bounds how long a typing
// indicator survives without a stop signal, tolerating lost disconnects.
func NewLedger(consultationID int64, typingTTL time.Duration) *Ledger {
	return &Ledger{
		consultationID: consultationID,
		byID:           make(map[int64]*domain.ChatMessage),
		byUUID:         make(map[string]*domain.ChatMessage),
		typing:         make(map[int64]time.Time),
		typingTTL:      typingTTL,
		now:            time.Now,
	}
}

// LoadSnapshot seeds the ledger from the join API response
func (l *Ledger) LoadSnapshot(messages []domain.ChatMessage, hasMore bool) {
	l.Reset()
	for i := range messages {
		m := messages[i]
		if m.Status == "" || m.Status == domain.DeliveryPending {
			m.Status = domain.DeliverySent
		}
		l.insert(&m)
	}
	l.hasMore = hasMore
}

// Append creates an optimistic local message with status pending and the
// next provisional id. The returned message is for immediate UI display;
// the provisional id is never persisted as-is.
func (l *Ledger) Append(senderID int64, role domain.ParticipantRole, content string, attachment *domain.Attachment) *domain.ChatMessage {
	msg := &domain.ChatMessage{
		ID:             l.nextID(),
		ClientUUID:     uuid.NewString(),
		ConsultationID: l.consultationID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		Attachment:     attachment,
		CreatedAt:      l.now(),
		Status:         domain.DeliveryPending,
	}
	l.insert(msg)
	return msg
}

// Confirm reconciles a pending message with its server-assigned id, matching
// by the client correlation uuid, never by id or content.
func (l *Ledger) Confirm(clientUUID string, serverID int64, createdAt time.Time) (*domain.ChatMessage, bool) {
	msg, ok := l.byUUID[clientUUID]
	if !ok {
		return nil, false
	}
	if msg.Status != domain.DeliveryPending {
		return msg, false
	}
	msg.ID = serverID
	if !createdAt.IsZero() {
		msg.CreatedAt = createdAt
	}
	msg.Status = domain.DeliverySent
	l.byID[serverID] = msg
	l.sortMessages()
	return msg, true
}

// Ingest records a server-confirmed message arriving on the chat channel.
// A message whose client uuid matches a local pending entry confirms it; a
// message whose id is already confirmed is a duplicate and is dropped. A
// local pending message squatting on the arriving id is renumbered, never
// overwritten: provisional ids hold no claim against the server. Returns
// the ledger's copy and whether it was newly added or confirmed.
func (l *Ledger) Ingest(incoming domain.ChatMessage) (*domain.ChatMessage, bool) {
	if incoming.ClientUUID != "" {
		if msg, confirmed := l.Confirm(incoming.ClientUUID, incoming.ID, incoming.CreatedAt); confirmed {
			return msg, true
		} else if msg != nil {
			return msg, false
		}
	}
	if existing, ok := l.byID[incoming.ID]; ok {
		return existing, false
	}
	l.rekeyPending(incoming.ID)
	m := incoming
	if m.Status == "" || m.Status == domain.DeliveryPending {
		m.Status = domain.DeliverySent
	}
	l.insert(&m)
	return l.byID[m.ID], true
}

// MarkRead adds a read receipt. Idempotent: readBy only grows, and the
// delivery status becomes read once the receipt set covers all
// otherActiveCount participants besides the sender; it never regresses.
func (l *Ledger) MarkRead(messageID, userID int64, readAt time.Time, otherActiveCount int) bool {
	msg, ok := l.byID[messageID]
	if !ok {
		return false
	}
	if msg.ReadByUser(userID) {
		return false
	}
	if readAt.IsZero() {
		readAt = l.now()
	}
	msg.ReadBy = append(msg.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: readAt})
	if msg.Status != domain.DeliveryRead {
		readers := 0
		for _, r := range msg.ReadBy {
			if r.UserID != msg.SenderID {
				readers++
			}
		}
		if otherActiveCount > 0 && readers >= otherActiveCount {
			msg.Status = domain.DeliveryRead
		}
	}
	return true
}

// MergeOlder prepends a page of older messages returned by load_more.
// Messages already present are skipped, so successive pages never duplicate
// and never skip given the exclusive server-side cursor. Returns how many
// messages were added.
func (l *Ledger) MergeOlder(messages []domain.ChatMessage, hasMore bool) int {
	added := 0
	for i := range messages {
		m := messages[i]
		if _, ok := l.byID[m.ID]; ok {
			continue
		}
		if m.Status == "" || m.Status == domain.DeliveryPending {
			m.Status = domain.DeliverySent
		}
		l.insert(&m)
		added++
	}
	l.hasMore = hasMore
	return added
}

// HasMore reports whether older messages remain on the server
func (l *Ledger) HasMore() bool {
	return l.hasMore
}

// Messages returns all loaded messages ordered by id ascending
func (l *Ledger) Messages() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(l.messages))
	for i, m := range l.messages {
		out[i] = *m
	}
	return out
}

// Message returns one message by id
func (l *Ledger) Message(id int64) (domain.ChatMessage, bool) {
	m, ok := l.byID[id]
	if !ok {
		return domain.ChatMessage{}, false
	}
	return *m, true
}

// Pending returns local messages not yet confirmed by the server, oldest
// first, for resend after a chat channel reconnect.
func (l *Ledger) Pending() []domain.ChatMessage {
	var out []domain.ChatMessage
	for _, m := range l.messages {
		if m.Status == domain.DeliveryPending {
			out = append(out, *m)
		}
	}
	return out
}

// LoadedCount returns the number of server-confirmed messages held, which is
// the exclusive offset for the next load_more request.
func (l *Ledger) LoadedCount() int {
	n := 0
	for _, m := range l.messages {
		if m.Status != domain.DeliveryPending {
			n++
		}
	}
	return n
}

// LastServerID returns the highest confirmed message id, the resume point
// for a history re-request after reconnect.
func (l *Ledger) LastServerID() int64 {
	var last int64
	for _, m := range l.messages {
		if m.Status != domain.DeliveryPending && m.ID > last {
			last = m.ID
		}
	}
	return last
}

// SetTyping records an ephemeral typing indicator for a user
func (l *Ledger) SetTyping(userID int64, isTyping bool) {
	if isTyping {
		l.typing[userID] = l.now()
		return
	}
	delete(l.typing, userID)
}

// TypingUsers returns users typing within the TTL window, pruning expired
// entries so a lost stop signal cannot leave a stuck indicator.
func (l *Ledger) TypingUsers() []int64 {
	cutoff := l.now().Add(-l.typingTTL)
	var out []int64
	for id, at := range l.typing {
		if at.Before(cutoff) {
			delete(l.typing, id)
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reset drops all ledger state
func (l *Ledger) Reset() {
	l.messages = nil
	l.byID = make(map[int64]*domain.ChatMessage)
	l.byUUID = make(map[string]*domain.ChatMessage)
	l.typing = make(map[int64]time.Time)
	l.hasMore = false
}

func (l *Ledger) insert(m *domain.ChatMessage) {
	l.messages = append(l.messages, m)
	// Provisional ids stay out of the server-id index; pending messages are
	// reachable only through their client uuid until confirmation.
	if m.Status != domain.DeliveryPending {
		l.byID[m.ID] = m
	}
	if m.ClientUUID != "" {
		l.byUUID[m.ClientUUID] = m
	}
	l.sortMessages()
}

// rekeyPending renumbers pending messages when an arrival claims one of
// their provisional ids, keeping them past the ledger's highest id in their
// original append order.
func (l *Ledger) rekeyPending(takenID int64) {
	collided := false
	for _, m := range l.messages {
		if m.Status == domain.DeliveryPending && m.ID == takenID {
			collided = true
			break
		}
	}
	if !collided {
		return
	}
	for _, m := range l.messages {
		if m.Status == domain.DeliveryPending {
			m.ID = l.nextID()
		}
	}
	l.sortMessages()
}

func (l *Ledger) sortMessages() {
	sort.Slice(l.messages, func(i, j int) bool { return l.messages[i].ID < l.messages[j].ID })
}

// nextID picks the provisional id for an optimistic append: one past the
// highest id currently held, pending or confirmed.
func (l *Ledger) nextID() int64 {
	var max int64
	for _, m := range l.messages {
		if m.ID > max {
			max = m.ID
		}
	}
	return max + 1
}
