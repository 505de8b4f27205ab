package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telecare/internal/domain"
)

// LinkFactory builds a fresh ChannelLink for a channel kind. Retry needs new
// links because closed links cannot be reused.
type LinkFactory func(kind domain.ChannelKind) *ChannelLink

// Config wires one coordinator instance
type Config struct {
	ConsultationID int64
	UserID         int64
	UserName       string
	Role           domain.ParticipantRole

	API      ConsultationAPI
	Uploader AttachmentUploader
	NewLink  LinkFactory
	Logger   *zap.Logger

	AckTimeout             time.Duration
	HistoryPageSize        int
	TypingTTL              time.Duration
	AvgConsultationMinutes int
	EventBufferSize        int
}

type inboundItem struct {
	kind  domain.ChannelKind
	env   *Envelope
	state *domain.ConnectionState
}

// Coordinator owns one consultation session for one local participant: the
// state machine, chat ledger, waiting queue, event buffer, and the three
// channel links. Channel read loops produce into a single inbound queue that
// one dispatch goroutine consumes; public operations and the dispatcher
// serialize all mutations on one mutex. No state is shared across
// consultations.
type Coordinator struct {
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	sm           *StateMachine
	queue        *WaitingQueue
	ledger       *Ledger
	events       *EventAggregator
	links        map[domain.ChannelKind]*ChannelLink
	caps         domain.MediaCapabilities
	acks         map[string]chan struct{}
	degraded     bool
	closed       bool
	mediaStarted bool

	inbox   chan inboundItem
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runOnce sync.Once
}

// NewCoordinator creates a coordinator in the connecting state. Initialize
// must be called before any other operation.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 5 * time.Second
	}
	if cfg.AvgConsultationMinutes <= 0 {
		cfg.AvgConsultationMinutes = 15
	}
	queue := NewWaitingQueue(cfg.AvgConsultationMinutes)
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.Int64("consultation_id", cfg.ConsultationID), zap.Int64("user_id", cfg.UserID)),
		sm:     NewStateMachine(cfg.ConsultationID, queue),
		queue:  queue,
		ledger: NewLedger(cfg.ConsultationID, cfg.TypingTTL),
		events: NewEventAggregator(cfg.EventBufferSize),
		links:  make(map[domain.ChannelKind]*ChannelLink),
		acks:   make(map[string]chan struct{}),
		inbox:  make(chan inboundItem, 128),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize joins the consultation: fetch the snapshot from the collaborator
// API, seed the state owners, connect the channels, and announce presence.
// If the join API succeeds but channels fail, the coordinator still exposes
// the snapshot in degraded mode and keeps reconnecting in the background.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.mu.Unlock()

	snap, err := c.cfg.API.JoinConsultation(ctx, c.cfg.ConsultationID, c.cfg.UserID, c.cfg.Role)
	if err != nil {
		c.mu.Lock()
		c.sm.Fail(err)
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}

	c.mu.Lock()
	if err := c.sm.LoadSnapshot(snap.Participants); err != nil {
		c.mu.Unlock()
		return err
	}
	c.ledger.LoadSnapshot(snap.Messages, snap.HasMoreMessages)
	c.caps = snap.Capabilities
	if err := c.sm.RequestJoin(c.cfg.UserID, c.cfg.UserName, c.cfg.Role); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.runOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})

	c.startLinks(ctx)
	return nil
}

// startLinks creates and connects the control and chat channels. The media
// channel is created but connected only after control reports connected.
func (c *Coordinator) startLinks(ctx context.Context) {
	c.mu.Lock()
	for _, kind := range []domain.ChannelKind{domain.ChannelControl, domain.ChannelChat, domain.ChannelMedia} {
		link := c.cfg.NewLink(kind)
		c.links[kind] = link
		c.wg.Add(2)
		go c.pumpEnvelopes(link)
		go c.pumpStates(link)
	}
	control := c.links[domain.ChannelControl]
	chat := c.links[domain.ChannelChat]
	c.mu.Unlock()

	controlErr := control.Connect(ctx)
	chatErr := chat.Connect(ctx)
	if controlErr != nil || chatErr != nil {
		c.mu.Lock()
		c.degraded = true
		c.events.Add(TimelineConnectionDegraded, "joined in degraded mode, reconnecting in background", c.cfg.UserID)
		c.mu.Unlock()
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	for {
		select {
		case item := <-c.inbox:
			c.dispatch(item)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) pumpEnvelopes(link *ChannelLink) {
	defer c.wg.Done()
	for env := range link.Inbound() {
		e := env
		select {
		case c.inbox <- inboundItem{kind: link.Kind(), env: &e}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) pumpStates(link *ChannelLink) {
	defer c.wg.Done()
	for st := range link.States() {
		s := st
		select {
		case c.inbox <- inboundItem{kind: link.Kind(), state: &s}:
		case <-c.ctx.Done():
			return
		}
	}
}

// AdmitPatient emits an admit control message and waits for the server
// acknowledgment, retrying once on timeout so admission never silently
// hangs. A zero patientID admits the patient at the head of the queue.
func (c *Coordinator) AdmitPatient(ctx context.Context, patientID int64) error {
	c.mu.Lock()
	if c.closed || c.sm.Status() == domain.SessionStatusEnded {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if patientID == 0 {
		positions := c.queue.Positions()
		if len(positions) == 0 {
			c.mu.Unlock()
			return ErrNotQueued
		}
		patientID = positions[0].ParticipantID
	}
	if _, already := c.sm.Participant(patientID); already {
		c.mu.Unlock()
		return nil
	}
	control := c.links[domain.ChannelControl]
	corr := uuid.NewString()
	ack := make(chan struct{})
	c.acks[corr] = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.acks, corr)
		c.mu.Unlock()
	}()

	env, err := NewEnvelope(EventAdmit, c.cfg.ConsultationID, c.cfg.UserID, AdmitPayload{
		PatientID:     patientID,
		CorrelationID: corr,
	})
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := control.Send(env); err != nil {
			return fmt.Errorf("admit patient %d: %w", patientID, err)
		}
		select {
		case <-ack:
			c.mu.Lock()
			err := c.sm.Admit(patientID, "")
			c.mu.Unlock()
			return err
		case <-time.After(c.cfg.AckTimeout):
			c.logger.Warn("admit acknowledgment timed out",
				zap.Int64("patient_id", patientID),
				zap.Int("attempt", attempt+1))
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrSessionClosed
		}
	}
	return fmt.Errorf("admit patient %d: %w", patientID, ErrAckTimeout)
}

// SendMessage appends the message optimistically and pushes it over the chat
// channel. When the channel is down the message stays pending and is resent
// on reconnect; it is never dropped. The returned message is the optimistic
// local copy for immediate UI display.
func (c *Coordinator) SendMessage(content string) (*domain.ChatMessage, error) {
	return c.sendChat(content, nil)
}

// SendFile uploads the file through the attachment side channel, surfacing
// progress percentages, then sends a message referencing the attachment.
func (c *Coordinator) SendFile(ctx context.Context, filename string, data []byte) (*domain.ChatMessage, error) {
	c.mu.Lock()
	if c.closed || c.sm.Status() == domain.SessionStatusEnded {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	c.mu.Unlock()

	attachment, err := c.cfg.Uploader.Upload(ctx, filename, data, func(pct int) {
		c.mu.Lock()
		c.events.Add(TimelineUploadProgress, fmt.Sprintf("%s: %d%%", filename, pct), c.cfg.UserID)
		c.mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %v", ErrDeliveryFailed, filename, err)
	}
	return c.sendChat("", attachment)
}

func (c *Coordinator) sendChat(content string, attachment *domain.Attachment) (*domain.ChatMessage, error) {
	c.mu.Lock()
	if c.closed || c.sm.Status() == domain.SessionStatusEnded {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	msg := c.ledger.Append(c.cfg.UserID, c.cfg.Role, content, attachment)
	out := *msg
	chat := c.links[domain.ChannelChat]
	c.mu.Unlock()

	env, err := NewEnvelope(EventSendMessage, c.cfg.ConsultationID, c.cfg.UserID, SendMessagePayload{
		ClientUUID: msg.ClientUUID,
		Content:    content,
		Attachment: attachment,
	})
	if err != nil {
		return nil, err
	}
	if chat == nil || chat.Send(env) != nil {
		// Stays pending; the reconnect resync resends it.
		c.mu.Lock()
		c.events.Add(TimelineMessagePending, "message queued, waiting for connection", c.cfg.UserID)
		c.mu.Unlock()
	}
	return &out, nil
}

// LoadOlderMessages requests the next page of history older than what the
// ledger holds. The page arrives asynchronously on the chat channel.
func (c *Coordinator) LoadOlderMessages() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if !c.ledger.HasMore() {
		c.mu.Unlock()
		return nil
	}
	offset := c.ledger.LoadedCount()
	chat := c.links[domain.ChannelChat]
	c.mu.Unlock()

	env, err := NewEnvelope(EventLoadMore, c.cfg.ConsultationID, c.cfg.UserID, LoadMorePayload{
		Offset: offset,
		Limit:  c.cfg.HistoryPageSize,
	})
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChannelNotReady
	}
	return chat.Send(env)
}

// MarkMessageRead records the local user's read receipt and reports it
func (c *Coordinator) MarkMessageRead(messageID int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	msg, ok := c.ledger.Message(messageID)
	if ok {
		others := c.sm.ActiveCountExcluding(msg.SenderID)
		c.ledger.MarkRead(messageID, c.cfg.UserID, time.Time{}, others)
	}
	chat := c.links[domain.ChannelChat]
	c.mu.Unlock()

	env, err := NewEnvelope(EventReadMessage, c.cfg.ConsultationID, c.cfg.UserID, ReadMessagePayload{
		MessageID: messageID,
		UserID:    c.cfg.UserID,
	})
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChannelNotReady
	}
	return chat.Send(env)
}

// SetTyping reports the local user's typing state on the chat channel
func (c *Coordinator) SetTyping(isTyping bool) error {
	c.mu.Lock()
	chat := c.links[domain.ChannelChat]
	c.mu.Unlock()
	env, err := NewEnvelope(EventTyping, c.cfg.ConsultationID, c.cfg.UserID, TypingPayload{
		UserID:   c.cfg.UserID,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChannelNotReady
	}
	return chat.Send(env)
}

// ToggleMedia enables or disables one local media kind. Media cannot start
// before the control channel is connected.
func (c *Coordinator) ToggleMedia(kind domain.MediaKind, enabled bool) error {
	c.mu.Lock()
	if c.closed || c.sm.Status() == domain.SessionStatusEnded {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	control := c.links[domain.ChannelControl]
	media := c.links[domain.ChannelMedia]
	if control == nil || control.State().Status != domain.LinkConnected {
		c.mu.Unlock()
		return ErrChannelNotReady
	}
	c.sm.SetMedia(c.cfg.UserID, kind, enabled)
	c.mu.Unlock()

	payload := MediaTogglePayload{ParticipantID: c.cfg.UserID, Kind: kind, Enabled: enabled}
	if media != nil {
		if env, err := NewEnvelope(EventMediaToggle, c.cfg.ConsultationID, c.cfg.UserID, payload); err == nil {
			// Best effort; the control broadcast is the authoritative signal.
			_ = media.Send(env)
		}
	}
	env, err := NewEnvelope(EventMediaToggleBroadcast, c.cfg.ConsultationID, c.cfg.UserID, payload)
	if err != nil {
		return err
	}
	return control.Send(env)
}

// AddParticipant creates the participant through the collaborator API. Email
// delivery failure is non-fatal: the record exists either way and a join
// link stays obtainable through JoinLink.
func (c *Coordinator) AddParticipant(ctx context.Context, dto domain.AddParticipantDTO) (*domain.AddParticipantResult, error) {
	result, err := c.cfg.API.AddParticipant(ctx, c.cfg.ConsultationID, dto)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.events.Add(TimelineParticipantAdded, fmt.Sprintf("%s added as %s", dto.Name, dto.Role), result.Participant.ID)
	if !result.EmailSent {
		c.events.Add(TimelineNotificationFailed, fmt.Sprintf("invite email to %s failed, share the join link manually", dto.Email), result.Participant.ID)
	}
	c.mu.Unlock()
	return result, nil
}

// JoinLink generates a shareable magic link for a participant
func (c *Coordinator) JoinLink(ctx context.Context, dto domain.JoinLinkDTO) (*domain.JoinLink, error) {
	return c.cfg.API.GenerateJoinLink(ctx, c.cfg.ConsultationID, dto)
}

// RemoveParticipant authoritatively removes another party. Deliberately a
// separate operation from Leave so callers cannot conflate the two.
func (c *Coordinator) RemoveParticipant(ctx context.Context, participantID int64) error {
	if err := c.cfg.API.RemoveParticipant(ctx, c.cfg.ConsultationID, participantID); err != nil {
		return err
	}
	c.mu.Lock()
	c.sm.RecordLeave(participantID, false)
	c.queue.Remove(participantID)
	c.events.Add(TimelineParticipantRemoved, "participant removed", participantID)
	c.mu.Unlock()
	return nil
}

// Leave tears down the local side only: stops all three links, cancels
// in-flight retries and backoffs, and releases local media before returning.
// Other participants' consultation state is unaffected.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, kind := range []domain.MediaKind{domain.MediaKindVideo, domain.MediaKindAudio, domain.MediaKindScreenShare} {
		c.sm.SetMedia(c.cfg.UserID, kind, false)
	}
	links := make([]*ChannelLink, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	c.cancel()
	for _, l := range links {
		l.Close()
	}
	c.wg.Wait()
	c.logger.Info("left consultation")
}

// Retry exits the error state and re-runs the full join sequence with fresh
// links and reset collections.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if err := c.sm.Retry(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.ledger.Reset()
	c.events.Reset()
	c.degraded = false
	c.mediaStarted = false
	old := c.links
	c.links = make(map[domain.ChannelKind]*ChannelLink)
	c.mu.Unlock()

	for _, l := range old {
		l.Close()
	}
	return c.Initialize(ctx)
}

// Session returns a read-only snapshot of the consultation state
func (c *Coordinator) Session() domain.ConsultationSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Snapshot(c.cfg.UserID)
}

// Participants returns the active set ordered by id
func (c *Coordinator) Participants() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.Participants()
}

// WaitingRoom returns the ordered admission queue
func (c *Coordinator) WaitingRoom() []domain.WaitingRoomEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Positions()
}

// Messages returns the chat log ordered by id
func (c *Coordinator) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Messages()
}

// Events returns the buffered timeline events, oldest first
func (c *Coordinator) Events() []domain.TimelineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.Events()
}

// TypingUsers returns users currently typing
func (c *Coordinator) TypingUsers() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.TypingUsers()
}

// ConnectionStates returns the per-channel connection states
func (c *Coordinator) ConnectionStates() map[domain.ChannelKind]domain.ConnectionState {
	c.mu.Lock()
	links := make(map[domain.ChannelKind]*ChannelLink, len(c.links))
	for k, l := range c.links {
		links[k] = l
	}
	c.mu.Unlock()
	out := make(map[domain.ChannelKind]domain.ConnectionState, len(links))
	for k, l := range links {
		out[k] = l.State()
	}
	return out
}

// Degraded reports whether the coordinator is running on the snapshot alone
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// linksUpLocked reports whether every started channel is connected. The
// media channel counts only once control has triggered its connect.
func (c *Coordinator) linksUpLocked() bool {
	for kind, link := range c.links {
		if kind == domain.ChannelMedia && !c.mediaStarted {
			continue
		}
		if link.State().Status != domain.LinkConnected {
			return false
		}
	}
	return true
}

// Capabilities returns the negotiated media capabilities
func (c *Coordinator) Capabilities() domain.MediaCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

func (c *Coordinator) dispatch(item inboundItem) {
	if item.state != nil {
		c.handleLinkState(item.kind, *item.state)
		return
	}
	if item.env == nil {
		return
	}
	switch item.kind {
	case domain.ChannelControl:
		c.handleControl(*item.env)
	case domain.ChannelChat:
		c.handleChat(*item.env)
	case domain.ChannelMedia:
		c.handleMedia(*item.env)
	}
}

func (c *Coordinator) handleLinkState(kind domain.ChannelKind, st domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch st.Status {
	case domain.LinkConnected:
		if c.degraded && c.linksUpLocked() {
			c.degraded = false
			c.events.Add(TimelineConnectionRestored, fmt.Sprintf("%s channel restored", kind), c.cfg.UserID)
		}
		c.resyncLocked(kind)
		if kind == domain.ChannelControl && !c.mediaStarted {
			c.mediaStarted = true
			if media := c.links[domain.ChannelMedia]; media != nil {
				go func() { _ = media.Connect(c.ctx) }()
			}
		}
	case domain.LinkError:
		// Reconnect attempts exhausted; surface a retry affordance.
		c.degraded = true
		c.events.Add(TimelineConnectionDegraded, fmt.Sprintf("%s channel lost, retry required", kind), c.cfg.UserID)
	}
}

// resyncLocked re-establishes channel-specific state after a (re)connect:
// the control channel re-announces the local participant, the chat channel
// requests history from the last known id and resends pending messages, and
// the media channel renegotiates capabilities from scratch.
func (c *Coordinator) resyncLocked(kind domain.ChannelKind) {
	link := c.links[kind]
	if link == nil {
		return
	}
	switch kind {
	case domain.ChannelControl:
		if env, err := NewEnvelope(EventJoin, c.cfg.ConsultationID, c.cfg.UserID, JoinPayload{
			UserID: c.cfg.UserID,
			Name:   c.cfg.UserName,
			Role:   c.cfg.Role,
		}); err == nil {
			_ = link.Send(env)
		}
	case domain.ChannelChat:
		if env, err := NewEnvelope(EventRequestHistory, c.cfg.ConsultationID, c.cfg.UserID, RequestHistoryPayload{
			AfterID: c.ledger.LastServerID(),
		}); err == nil {
			_ = link.Send(env)
		}
		for _, pending := range c.ledger.Pending() {
			env, err := NewEnvelope(EventSendMessage, c.cfg.ConsultationID, c.cfg.UserID, SendMessagePayload{
				ClientUUID: pending.ClientUUID,
				Content:    pending.Content,
				Attachment: pending.Attachment,
			})
			if err != nil {
				continue
			}
			_ = link.Send(env)
		}
	case domain.ChannelMedia:
		if env, err := NewEnvelope(EventMediaReady, c.cfg.ConsultationID, c.cfg.UserID, MediaReadyPayload{
			Capabilities: c.caps,
		}); err == nil {
			_ = link.Send(env)
		}
	}
}

func (c *Coordinator) handleControl(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch env.Type {
	case EventJoin:
		var p JoinPayload
		if env.Decode(&p) != nil {
			return
		}
		// Patients are announced through patient_waiting instead.
		if p.Role != domain.RolePatient && p.UserID != c.cfg.UserID {
			c.sm.MarkJoined(p.UserID, p.Name, p.Role)
		}
	case EventPatientWaiting:
		var p PatientWaitingPayload
		if env.Decode(&p) != nil {
			return
		}
		if _, err := c.queue.EnqueueAt(p.PatientID, p.Name, p.EnteredAt); err == nil {
			c.events.Add(TimelinePatientWaiting, fmt.Sprintf("%s entered the waiting room", p.Name), p.PatientID)
		}
	case EventPatientAdmitted:
		var p PatientAdmittedPayload
		if env.Decode(&p) != nil {
			return
		}
		if p.CorrelationID != "" {
			if ack, ok := c.acks[p.CorrelationID]; ok {
				close(ack)
				delete(c.acks, p.CorrelationID)
			}
		}
		if err := c.sm.Admit(p.PatientID, p.Name); err != nil {
			c.logger.Warn("inbound admission rejected", zap.Int64("patient_id", p.PatientID), zap.Error(err))
			return
		}
		c.events.Add(TimelinePatientAdmitted, fmt.Sprintf("%s admitted", p.Name), p.PatientID)
	case EventPatientLeft:
		var p PatientLeftPayload
		if env.Decode(&p) != nil {
			return
		}
		c.sm.RecordLeave(p.ParticipantID, p.EndSession)
		c.events.Add(TimelineParticipantLeft, "participant left", p.ParticipantID)
	case EventParticipantAdded:
		var p ParticipantAddedPayload
		if env.Decode(&p) != nil {
			return
		}
		c.events.Add(TimelineParticipantAdded, fmt.Sprintf("%s invited", p.Participant.Name), p.Participant.ID)
	case EventParticipantRemoved:
		var p ParticipantRemovedPayload
		if env.Decode(&p) != nil {
			return
		}
		if p.ParticipantID == c.cfg.UserID {
			// Authoritative disconnect of the local user.
			_ = c.sm.End("removed from consultation")
			c.events.Add(TimelineSessionEnded, "you were removed from the consultation", p.ParticipantID)
			go c.Leave()
			return
		}
		c.sm.RecordLeave(p.ParticipantID, false)
		c.queue.Remove(p.ParticipantID)
		c.events.Add(TimelineParticipantRemoved, "participant removed", p.ParticipantID)
	case EventConsultationEnded:
		var p ConsultationEndedPayload
		_ = env.Decode(&p)
		_ = c.sm.End(p.Reason)
		c.events.Add(TimelineSessionEnded, "consultation ended", env.SenderID)
	case EventWaitingRoomUpdate:
		var p WaitingRoomUpdatePayload
		if env.Decode(&p) != nil {
			return
		}
		c.queue.Sync(p.Entries)
	case EventMediaToggleBroadcast:
		var p MediaTogglePayload
		if env.Decode(&p) != nil {
			return
		}
		c.sm.SetMedia(p.ParticipantID, p.Kind, p.Enabled)
		c.events.Add(TimelineMediaToggled, fmt.Sprintf("%s %v", p.Kind, p.Enabled), p.ParticipantID)
	case EventConnectionQuality:
		// Telemetry only.
	default:
		c.logger.Debug("unknown control event", zap.String("type", env.Type))
	}
}

func (c *Coordinator) handleChat(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch env.Type {
	case EventNewMessage:
		var p NewMessagePayload
		if env.Decode(&p) != nil {
			return
		}
		msg, added := c.ledger.Ingest(p.Message)
		if added && msg.SenderID != c.cfg.UserID {
			c.events.Add(TimelineMessageReceived, "new message", msg.SenderID)
		}
	case EventMessageHistory:
		var p MessageHistoryPayload
		if env.Decode(&p) != nil {
			return
		}
		for _, m := range p.Messages {
			c.ledger.Ingest(m)
		}
	case EventMoreMessagesLoaded:
		var p MoreMessagesLoadedPayload
		if env.Decode(&p) != nil {
			return
		}
		c.ledger.MergeOlder(p.Messages, p.HasMore)
	case EventTyping:
		var p TypingPayload
		if env.Decode(&p) != nil {
			return
		}
		if p.UserID != c.cfg.UserID {
			c.ledger.SetTyping(p.UserID, p.IsTyping)
		}
	case EventMessageRead:
		var p MessageReadPayload
		if env.Decode(&p) != nil {
			return
		}
		if msg, ok := c.ledger.Message(p.MessageID); ok {
			others := c.sm.ActiveCountExcluding(msg.SenderID)
			c.ledger.MarkRead(p.MessageID, p.UserID, p.ReadAt, others)
		}
	default:
		c.logger.Debug("unknown chat event", zap.String("type", env.Type))
	}
}

func (c *Coordinator) handleMedia(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch env.Type {
	case EventMediaReady:
		var p MediaReadyPayload
		if env.Decode(&p) != nil {
			return
		}
		c.caps = p.Capabilities
	case EventMediaToggle:
		var p MediaTogglePayload
		if env.Decode(&p) != nil {
			return
		}
		c.sm.SetMedia(p.ParticipantID, p.Kind, p.Enabled)
	case EventConnectionQualityUpdate:
		var p ConnectionQualityPayload
		if env.Decode(&p) != nil {
			return
		}
		if media := c.links[domain.ChannelMedia]; media != nil && p.RTTMillis > 0 {
			media.RecordLatency(time.Duration(p.RTTMillis) * time.Millisecond)
		}
	default:
		c.logger.Debug("unknown media event", zap.String("type", env.Type))
	}
}
