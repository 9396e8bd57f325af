package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/attachments"
	"github.com/vovakirdan/dmchat-server/internal/auth"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/seal"
	"github.com/vovakirdan/dmchat-server/internal/service/conversations"
	"github.com/vovakirdan/dmchat-server/internal/service/messages"
	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/store/postgres"
	"github.com/vovakirdan/dmchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/dmchat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *http.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	codec, err := seal.NewFromHex(cfg.MessageKey)
	if err != nil {
		return nil, fmt.Errorf("init codec: %w", err)
	}

	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	})

	att, err := newAttachments(ctx, cfg.S3)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init attachments: %w", err)
	}
	if !att.Enabled() {
		logger.Info().Msg("attachments disabled, s3.bucket is not set")
	}

	if !cfg.Policy.RequireIdentity {
		logger.Warn().Msg("realtime commands from unidentified connections are accepted")
	}
	if !cfg.JWT.Required {
		logger.Warn().Msg("user:online accepted without a token")
	}

	hub := core.NewHub(core.Policy{RequireIdentity: cfg.Policy.RequireIdentity}, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:           hub,
		Auth:          authService,
		Conversations: conversations.New(st),
		Messages:      messages.New(st, codec, int(cfg.MaxMessageBytes), logger),
		Attachments:   att,
		Ping:          st.Ping,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// OpenStore opens the configured database and applies pending migrations.
func OpenStore(ctx context.Context, db config.DatabaseConfig) (store.Store, error) {
	switch db.Driver {
	case config.DriverSQLite, "":
		st, err := sqlite.NewMigrated(ctx, db.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverPostgres:
		st, err := postgres.New(ctx, db.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, db.Driver)
	}
}

// Migrate applies pending migrations and returns the resulting schema version.
func Migrate(ctx context.Context, db config.DatabaseConfig) (int64, error) {
	st, err := OpenStore(ctx, db)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	v, ok := st.(interface {
		SchemaVersion(context.Context) (int64, error)
	})
	if !ok {
		return 0, errors.New("store does not report a schema version")
	}
	return v.SchemaVersion(ctx)
}

func newAttachments(ctx context.Context, cfg config.S3Config) (*attachments.Service, error) {
	if cfg.Bucket == "" {
		return attachments.New(nil, 0, 0), nil
	}
	presigner, err := attachments.NewS3(ctx, attachments.S3Config{
		Bucket:          cfg.Bucket,
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return attachments.New(presigner, 0, 0), nil
}

// Handler exposes the routed handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run starts the hub and the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Websocket connections are hijacked and ignored by Shutdown; stopping
		// the hub closes them.
		stopHub()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
