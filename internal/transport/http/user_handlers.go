package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/service/conversations"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

const minSearchLength = 2

// UserHandlers provides HTTP handlers for user lookup.
type UserHandlers struct {
	conversations *conversations.Service
	log           *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(svc *conversations.Service, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		conversations: svc,
		log:           logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}

// SearchUsers finds users whose name contains the query, excluding the caller.
// GET /api/users/search?query=
func (h *UserHandlers) SearchUsers(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		return
	}

	query := c.Query("query")
	if query == "" {
		query = c.Query("q")
	}
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < minSearchLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search query must be at least 2 characters"})
		return
	}

	users, err := h.conversations.SearchUsers(c.Request.Context(), trimmed, userID)
	if err != nil {
		h.log.Error().Err(err).Str("query", trimmed).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, userResponse(u))
	}
	c.JSON(http.StatusOK, response)
}
