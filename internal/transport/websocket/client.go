package websocket

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"telecare/internal/domain"
	"telecare/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 10 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection bound to a participant and a channel.
type Client struct {
	ConsultationID int64
	ParticipantID  int64
	Name           string
	Role           domain.ParticipantRole
	Channel        domain.ChannelKind

	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub
}

// HandleWebSocket upgrades an HTTP request into a channel connection.
// The channel kind comes from the URL path; identity comes from query params
// resolved by the REST join flow.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	channel := domain.ChannelKind(c.Param("channel"))
	switch channel {
	case domain.ChannelControl, domain.ChannelMedia, domain.ChannelChat:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}

	consultationID, err := strconv.ParseInt(c.Query("consultation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "consultation_id is required"})
		return
	}
	participantID, err := strconv.ParseInt(c.Query("participant_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id is required"})
		return
	}

	ctx, cancel := h.ctx()
	participant, err := h.services.Consultation.GetParticipant(ctx, consultationID, participantID)
	cancel()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ConsultationID: consultationID,
		ParticipantID:  participantID,
		Name:           participant.Name,
		Role:           participant.Role,
		Channel:        channel,
		Conn:           conn,
		Send:           make(chan []byte, 256),
		Hub:            h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("unexpected websocket close",
					zap.Int64("participant_id", c.ParticipantID),
					zap.Error(err))
			}
			break
		}

		var env session.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Hub.logger.Warn("malformed frame",
				zap.Int64("participant_id", c.ParticipantID),
				zap.String("channel", string(c.Channel)),
				zap.Error(err))
			continue
		}
		env.ConsultationID = c.ConsultationID
		env.SenderID = c.ParticipantID

		c.Hub.inbound <- inboundFrame{client: c, env: env}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
