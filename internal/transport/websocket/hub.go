package websocket

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"telecare/internal/domain"
	"telecare/internal/service"
	"telecare/internal/session"
)

type clientKey struct {
	participantID int64
	channel       domain.ChannelKind
}

type inboundFrame struct {
	client *Client
	env    session.Envelope
}

// Hub fans consultation traffic out to connected clients. Each consultation
// is a room; a participant holds up to three clients in it, one per channel.
type Hub struct {
	rooms map[int64]map[clientKey]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	services *service.Services
	logger   *zap.Logger
}

func NewHub(services *service.Services, logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[int64]map[clientKey]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 256),
		services:   services,
		logger:     logger,
	}
}

// Run processes hub events. Room state is only touched from this goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case frame := <-h.inbound:
			h.handleFrame(frame.client, frame.env)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	room, ok := h.rooms[client.ConsultationID]
	if !ok {
		room = make(map[clientKey]*Client)
		h.rooms[client.ConsultationID] = room
	}
	key := clientKey{client.ParticipantID, client.Channel}
	if old, ok := room[key]; ok {
		// A reconnect replaces the stale connection.
		close(old.Send)
	}
	room[key] = client

	h.logger.Info("channel client connected",
		zap.Int64("consultation_id", client.ConsultationID),
		zap.Int64("participant_id", client.ParticipantID),
		zap.String("channel", string(client.Channel)))

	if client.Channel == domain.ChannelControl {
		h.announceArrival(client)
	}
}

func (h *Hub) removeClient(client *Client) {
	room, ok := h.rooms[client.ConsultationID]
	if !ok {
		return
	}
	key := clientKey{client.ParticipantID, client.Channel}
	if current, ok := room[key]; !ok || current != client {
		return
	}
	delete(room, key)
	close(client.Send)
	if len(room) == 0 {
		delete(h.rooms, client.ConsultationID)
	}

	h.logger.Info("channel client disconnected",
		zap.Int64("consultation_id", client.ConsultationID),
		zap.Int64("participant_id", client.ParticipantID),
		zap.String("channel", string(client.Channel)))

	// Dropping the control channel is the participant leaving; chat and
	// media reconnects come and go without roster changes.
	if client.Channel == domain.ChannelControl {
		ctx, cancel := h.ctx()
		defer cancel()
		if err := h.services.Consultation.Leave(ctx, client.ConsultationID, client.ParticipantID); err != nil {
			h.logger.Warn("failed to record leave", zap.Error(err))
		}
		h.broadcast(client.ConsultationID, domain.ChannelControl, h.envelope(client, session.EventPatientLeft, session.PatientLeftPayload{
			ParticipantID: client.ParticipantID,
		}), nil)
		h.broadcastWaitingRoom(client.ConsultationID)
	}
}

// announceArrival tells the room about a new control connection: waiting
// patients are announced through the waiting room, everyone else as a join.
func (h *Hub) announceArrival(client *Client) {
	ctx, cancel := h.ctx()
	defer cancel()

	if client.Role == domain.RolePatient {
		waiting, err := h.services.Consultation.ListWaiting(ctx, client.ConsultationID)
		if err == nil {
			for _, entry := range waiting {
				if entry.ParticipantID == client.ParticipantID {
					h.broadcast(client.ConsultationID, domain.ChannelControl, h.envelope(client, session.EventPatientWaiting, session.PatientWaitingPayload{
						PatientID: entry.ParticipantID,
						Name:      entry.Name,
						EnteredAt: entry.EnteredAt,
					}), client)
					h.broadcastWaitingRoom(client.ConsultationID)
					return
				}
			}
		}
	}

	h.broadcast(client.ConsultationID, domain.ChannelControl, h.envelope(client, session.EventJoin, session.JoinPayload{
		UserID: client.ParticipantID,
		Name:   client.Name,
		Role:   client.Role,
	}), client)
}

func (h *Hub) handleFrame(client *Client, env session.Envelope) {
	switch client.Channel {
	case domain.ChannelControl:
		h.handleControl(client, env)
	case domain.ChannelChat:
		h.handleChat(client, env)
	case domain.ChannelMedia:
		// Media negotiation is peer traffic; the hub only relays it.
		h.broadcast(client.ConsultationID, domain.ChannelMedia, env, client)
	}
}

func (h *Hub) handleControl(client *Client, env session.Envelope) {
	ctx, cancel := h.ctx()
	defer cancel()

	switch env.Type {
	case session.EventJoin:
		// Presence is announced on register; a resync re-announce is relayed.
		h.broadcast(client.ConsultationID, domain.ChannelControl, env, client)

	case session.EventAdmit:
		var req session.AdmitPayload
		if err := env.Decode(&req); err != nil {
			return
		}
		var patientID *int64
		if req.PatientID != 0 {
			patientID = &req.PatientID
		}
		participant, err := h.services.Consultation.Admit(ctx, client.ConsultationID, patientID)
		if err != nil {
			h.logger.Warn("admission failed",
				zap.Int64("consultation_id", client.ConsultationID),
				zap.Error(err))
			return
		}
		h.broadcast(client.ConsultationID, domain.ChannelControl, h.envelope(client, session.EventPatientAdmitted, session.PatientAdmittedPayload{
			PatientID:     participant.ID,
			Name:          participant.Name,
			CorrelationID: req.CorrelationID,
		}), nil)
		h.broadcastWaitingRoom(client.ConsultationID)

	case session.EventPatientLeft:
		var req session.PatientLeftPayload
		if err := env.Decode(&req); err != nil {
			return
		}
		if req.EndSession {
			if err := h.services.Consultation.End(ctx, client.ConsultationID); err != nil {
				h.logger.Warn("failed to end consultation", zap.Error(err))
			}
		}
		h.broadcast(client.ConsultationID, domain.ChannelControl, env, client)

	case session.EventConsultationEnded:
		if err := h.services.Consultation.End(ctx, client.ConsultationID); err != nil {
			h.logger.Warn("failed to end consultation", zap.Error(err))
			return
		}
		h.broadcast(client.ConsultationID, domain.ChannelControl, env, nil)

	case session.EventMediaToggleBroadcast, session.EventConnectionQuality:
		h.broadcast(client.ConsultationID, domain.ChannelControl, env, client)

	default:
		h.logger.Debug("unknown control event", zap.String("type", env.Type))
	}
}

func (h *Hub) handleChat(client *Client, env session.Envelope) {
	ctx, cancel := h.ctx()
	defer cancel()

	switch env.Type {
	case session.EventSendMessage:
		var req session.SendMessagePayload
		if err := env.Decode(&req); err != nil {
			return
		}
		msg, err := h.services.Message.Save(ctx, domain.CreateMessageDTO{
			ConsultationID: client.ConsultationID,
			ClientUUID:     req.ClientUUID,
			SenderID:       client.ParticipantID,
			SenderRole:     client.Role,
			Content:        req.Content,
			Attachment:     req.Attachment,
		})
		if err != nil {
			h.logger.Warn("failed to save message",
				zap.Int64("consultation_id", client.ConsultationID),
				zap.Error(err))
			return
		}
		// Everyone gets the confirmed message; the sender's copy carries the
		// client uuid that reconciles its optimistic entry.
		h.broadcast(client.ConsultationID, domain.ChannelChat, h.envelope(client, session.EventNewMessage, session.NewMessagePayload{
			Message: *msg,
		}), nil)

	case session.EventRequestHistory:
		var req session.RequestHistoryPayload
		if err := env.Decode(&req); err != nil {
			return
		}
		messages, err := h.services.Message.After(ctx, client.ConsultationID, req.AfterID, req.Limit)
		if err != nil {
			h.logger.Warn("failed to load history", zap.Error(err))
			return
		}
		h.send(client, h.envelope(client, session.EventMessageHistory, session.MessageHistoryPayload{
			Messages: messages,
		}))

	case session.EventLoadMore:
		var req session.LoadMorePayload
		if err := env.Decode(&req); err != nil {
			return
		}
		page, err := h.services.Message.Page(ctx, client.ConsultationID, req.Offset, req.Limit)
		if err != nil {
			h.logger.Warn("failed to load message page", zap.Error(err))
			return
		}
		h.send(client, h.envelope(client, session.EventMoreMessagesLoaded, session.MoreMessagesLoadedPayload{
			Messages: page.Messages,
			HasMore:  page.HasMore,
		}))

	case session.EventReadMessage:
		var req session.ReadMessagePayload
		if err := env.Decode(&req); err != nil {
			return
		}
		receipt, _, err := h.services.Message.MarkRead(ctx, req.MessageID, client.ParticipantID)
		if err != nil {
			h.logger.Warn("failed to record read receipt", zap.Error(err))
			return
		}
		h.broadcast(client.ConsultationID, domain.ChannelChat, h.envelope(client, session.EventMessageRead, session.MessageReadPayload{
			MessageID: req.MessageID,
			UserID:    client.ParticipantID,
			ReadAt:    receipt.ReadAt,
		}), nil)

	case session.EventTyping:
		h.broadcast(client.ConsultationID, domain.ChannelChat, env, client)

	default:
		h.logger.Debug("unknown chat event", zap.String("type", env.Type))
	}
}

func (h *Hub) broadcastWaitingRoom(consultationID int64) {
	ctx, cancel := h.ctx()
	defer cancel()

	entries, err := h.services.Consultation.ListWaiting(ctx, consultationID)
	if err != nil {
		h.logger.Warn("failed to list waiting room", zap.Error(err))
		return
	}
	env, err := session.NewEnvelope(session.EventWaitingRoomUpdate, consultationID, 0, session.WaitingRoomUpdatePayload{
		Entries: entries,
	})
	if err != nil {
		return
	}
	h.broadcast(consultationID, domain.ChannelControl, env, nil)
}

// broadcast sends an envelope to every client of one channel in a room,
// optionally skipping the originator.
func (h *Hub) broadcast(consultationID int64, channel domain.ChannelKind, env session.Envelope, except *Client) {
	room, ok := h.rooms[consultationID]
	if !ok {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	for key, client := range room {
		if key.channel != channel || client == except {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping frame",
				zap.Int64("participant_id", client.ParticipantID),
				zap.String("channel", string(channel)))
		}
	}
}

func (h *Hub) send(client *Client, env session.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	select {
	case client.Send <- data:
	default:
		h.logger.Warn("client send buffer full, dropping frame",
			zap.Int64("participant_id", client.ParticipantID))
	}
}

func (h *Hub) envelope(client *Client, eventType string, payload interface{}) session.Envelope {
	env, err := session.NewEnvelope(eventType, client.ConsultationID, client.ParticipantID, payload)
	if err != nil {
		h.logger.Error("failed to build envelope", zap.String("type", eventType), zap.Error(err))
		return session.Envelope{Type: eventType}
	}
	return env
}

func (h *Hub) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
