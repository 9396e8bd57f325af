package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/service/messages"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// MessageHandlers persists messages over REST and hands them to the hub.
type MessageHandlers struct {
	messages *messages.Service
	hub      *core.Hub
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(msgs *messages.Service, hub *core.Hub, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		messages: msgs,
		hub:      hub,
		log:      logger,
	}
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Content        string `json:"content"`
	Kind           string `json:"kind"`
}

// SendMessage stores a message and relays it to the conversation room.
// POST /api/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	userID, username, ok := currentUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	rec, err := h.messages.Send(c.Request.Context(), req.ConversationID, userID, req.Content, store.MessageKind(req.Kind))
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("failed to send message")
		}
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}

	relay := rec.Relayable()
	if relay.SenderName == "" {
		relay.SenderName = username
	}
	if err := h.hub.Relay(c.Request.Context(), req.ConversationID, relay); err != nil {
		h.log.Warn().Err(err).Str("message_id", relay.ID).Msg("message stored but not relayed")
	}

	c.JSON(http.StatusCreated, messageData(relay))
}

// MarkRead records a read receipt and relays it to the conversation room.
// POST /api/conversations/:id/messages/:messageId/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	messageID := c.Param("messageId")

	msg, err := h.messages.MarkRead(c.Request.Context(), conversationID, messageID, userID)
	if err != nil {
		status, text := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("message_id", messageID).Msg("failed to mark message read")
		}
		c.JSON(status, ErrorResponse{Error: text})
		return
	}

	if err := h.hub.MarkRead(c.Request.Context(), conversationID, messageID, userID); err != nil {
		h.log.Warn().Err(err).Str("message_id", messageID).Msg("read receipt stored but not relayed")
	}

	c.JSON(http.StatusOK, proto.ReadUpdateData{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         userID,
	})
}
