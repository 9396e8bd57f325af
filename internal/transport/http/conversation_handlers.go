package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/service/conversations"
	"github.com/vovakirdan/dmchat-server/internal/service/messages"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ConversationHandlers serves conversation discovery and history.
type ConversationHandlers struct {
	conversations *conversations.Service
	messages      *messages.Service
	log           *zerolog.Logger
}

// NewConversationHandlers creates a new conversation handlers instance.
func NewConversationHandlers(conv *conversations.Service, msgs *messages.Service, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		conversations: conv,
		messages:      msgs,
		log:           logger,
	}
}

// OpenConversationRequest is the body of POST /api/conversations.
type OpenConversationRequest struct {
	ParticipantID string `json:"participantId"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID           string             `json:"id"`
	Participants []UserResponse     `json:"participants"`
	IsGroup      bool               `json:"isGroup"`
	LastMessage  *proto.MessageData `json:"lastMessage,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

func (h *ConversationHandlers) conversationResponse(conv *store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:           conv.ID,
		Participants: make([]UserResponse, 0, len(conv.Participants)),
		IsGroup:      conv.IsGroup,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, p := range conv.Participants {
		resp.Participants = append(resp.Participants, userResponse(p))
	}
	if conv.LastMessage != nil {
		last := recordData(h.messages.Open(conv.LastMessage))
		resp.LastMessage = &last
	}
	return resp
}

// ListConversations returns the caller's conversations, most recent first.
// GET /api/conversations
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	convs, err := h.conversations.List(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		response = append(response, h.conversationResponse(conv))
	}
	c.JSON(http.StatusOK, response)
}

// OpenConversation finds or creates the direct conversation with participantId.
// POST /api/conversations
func (h *ConversationHandlers) OpenConversation(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	var req OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	conv, created, err := h.conversations.Open(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		h.writeServiceError(c, err, "failed to open conversation")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.Info().Str("conversation_id", conv.ID).Str("user_id", userID).Msg("conversation created")
	}
	c.JSON(status, h.conversationResponse(conv))
}

// GetConversation returns one conversation the caller takes part in.
// GET /api/conversations/:id
func (h *ConversationHandlers) GetConversation(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	conv, err := h.conversations.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeServiceError(c, err, "failed to get conversation")
		return
	}
	c.JSON(http.StatusOK, h.conversationResponse(conv))
}

// History returns decrypted messages, oldest first.
// GET /api/conversations/:id/messages?limit=&before=
func (h *ConversationHandlers) History(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.messages.History(c.Request.Context(), c.Param("id"), userID, limit, c.Query("before"))
	if err != nil {
		h.writeServiceError(c, err, "failed to load history")
		return
	}

	response := make([]proto.MessageData, 0, len(records))
	for _, r := range records {
		response = append(response, recordData(r))
	}
	c.JSON(http.StatusOK, response)
}

func (h *ConversationHandlers) writeServiceError(c *gin.Context, err error, logMsg string) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(logMsg)
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

// statusFor maps service errors to HTTP responses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, conversations.ErrMissingParticipantID),
		errors.Is(err, conversations.ErrCannotMessageSelf),
		errors.Is(err, messages.ErrEmptyMessage),
		errors.Is(err, messages.ErrInvalidKind):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, messages.ErrMessageTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, conversations.ErrUserNotFound),
		errors.Is(err, conversations.ErrConversationNotFound),
		errors.Is(err, messages.ErrMessageNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, conversations.ErrNotParticipant),
		errors.Is(err, messages.ErrNotParticipant),
		errors.Is(err, messages.ErrNotSender):
		return http.StatusForbidden, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
