package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/dmchat-server/internal/attachments"
	"github.com/vovakirdan/dmchat-server/internal/auth"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/service/conversations"
	"github.com/vovakirdan/dmchat-server/internal/service/messages"
)

const (
	authRate  = 1
	authBurst = 10
)

// Deps are the collaborators the HTTP layer talks to.
type Deps struct {
	Hub           *core.Hub
	Auth          *auth.Service
	Conversations *conversations.Service
	Messages      *messages.Service
	Attachments   *attachments.Service
	// Ping reports storage health for /health. Optional.
	Ping func(context.Context) error
}

// NewServer builds an HTTP server with the REST API and the websocket endpoint.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler returns the REST router and the websocket endpoint behind CORS.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler(deps, logger))

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	userHandlers := NewUserHandlers(deps.Conversations, logger)
	convHandlers := NewConversationHandlers(deps.Conversations, deps.Messages, logger)
	msgHandlers := NewMessageHandlers(deps.Messages, deps.Hub, logger)
	attHandlers := NewAttachmentHandlers(deps.Attachments, deps.Conversations, logger)

	authLimiter := newIPRateLimiter(rate.Limit(authRate), authBurst)

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/signup", authLimiter.Middleware(), apiHandlers.Signup)
		authGroup.POST("/signin", authLimiter.Middleware(), apiHandlers.Signin)
		authGroup.POST("/logout", apiHandlers.Logout)
		authGroup.GET("/me", AuthMiddleware(deps.Auth, logger), apiHandlers.Me)

		protected := api.Group("")
		protected.Use(AuthMiddleware(deps.Auth, logger))
		{
			protected.GET("/users/search", userHandlers.SearchUsers)

			protected.GET("/conversations", convHandlers.ListConversations)
			protected.POST("/conversations", convHandlers.OpenConversation)
			protected.GET("/conversations/:id", convHandlers.GetConversation)
			protected.GET("/conversations/:id/messages", convHandlers.History)
			protected.POST("/conversations/:id/messages/:messageId/read", msgHandlers.MarkRead)

			protected.POST("/messages", msgHandlers.SendMessage)

			protected.POST("/attachments/presign", attHandlers.Presign)
		}
	}

	// gin's writer cannot hijack after the 101 is written, so /ws bypasses it.
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps, cfg, logger))
	mux.Handle("/", router)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(mux)
}

func healthHandler(deps Deps, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Ping != nil {
			if err := deps.Ping(c.Request.Context()); err != nil {
				logger.Warn().Err(err).Msg("health check failed")
				c.String(http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		c.String(http.StatusOK, "ok")
	}
}
