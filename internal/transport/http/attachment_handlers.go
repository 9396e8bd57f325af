package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/attachments"
	"github.com/vovakirdan/dmchat-server/internal/service/conversations"
)

// AttachmentHandlers signs uploads for image and file messages.
type AttachmentHandlers struct {
	attachments   *attachments.Service
	conversations *conversations.Service
	log           *zerolog.Logger
}

// NewAttachmentHandlers creates a new attachment handlers instance. A nil
// service makes every request fail with 503.
func NewAttachmentHandlers(att *attachments.Service, conv *conversations.Service, logger *zerolog.Logger) *AttachmentHandlers {
	return &AttachmentHandlers{
		attachments:   att,
		conversations: conv,
		log:           logger,
	}
}

// PresignRequest is the body of POST /api/attachments/presign.
type PresignRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Filename       string `json:"filename"`
	ContentType    string `json:"contentType" binding:"required"`
	Size           int64  `json:"size" binding:"required"`
}

// Presign returns upload and download URLs for a new attachment.
// POST /api/attachments/presign
func (h *AttachmentHandlers) Presign(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}
	if !h.attachments.Enabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: attachments.ErrDisabled.Error()})
		return
	}

	var req PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.conversations.CheckParticipant(c.Request.Context(), req.ConversationID, userID); err != nil {
		status, msg := statusFor(err)
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}

	upload, err := h.attachments.PrepareUpload(c.Request.Context(), req.ConversationID, req.Filename, req.ContentType, req.Size)
	if err != nil {
		switch {
		case errors.Is(err, attachments.ErrTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error()})
		case errors.Is(err, attachments.ErrEmpty), errors.Is(err, attachments.ErrInvalidContentType):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("failed to presign upload")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, upload)
}
