package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/dmchat-server/internal/auth"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/service/conversations"
	"github.com/vovakirdan/dmchat-server/internal/service/messages"
	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/utils"
)

// envelopeOverhead is read-limit headroom on top of the largest message body.
const envelopeOverhead = 16 << 10

// WSHandler upgrades HTTP connections and bridges them to core.Client.
// Identity and participation checks run here, in the connection's read
// goroutine, so the hub never waits on storage.
type WSHandler struct {
	hub           *core.Hub
	auth          *auth.Service
	conversations *conversations.Service
	messages      *messages.Service
	cfg           *config.Config
	accept        websocket.AcceptOptions
	log           *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:           deps.Hub,
		auth:          deps.Auth,
		conversations: deps.Conversations,
		messages:      deps.Messages,
		cfg:           cfg,
		accept:        acceptOptions(cfg.AllowedOrigins),
		log:           logger,
	}
}

// acceptOptions turns configured origins into websocket host patterns.
// A "*" entry disables the origin check.
func acceptOptions(origins []string) websocket.AcceptOptions {
	var opts websocket.AcceptOptions
	for _, origin := range origins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
			continue
		}
		opts.OriginPatterns = append(opts.OriginPatterns, origin)
	}
	return opts
}

// wsSession is what the read goroutine knows about its connection.
type wsSession struct {
	client   *core.Client
	conn     *websocket.Conn
	token    string
	userID   string
	username string
	limiter  *rate.Limiter
	base     zerolog.Logger
	log      zerolog.Logger
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := h.accept
	conn, err := websocket.Accept(w, r, &opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes + envelopeOverhead)
	}

	client := core.NewClient(utils.NewID())
	base := h.log.With().Str("conn_id", client.ID).Logger()
	sess := &wsSession{
		client:  client,
		conn:    conn,
		token:   tokenFromRequest(r, true),
		limiter: newEventLimiter(h.cfg.RateLimit.EventsPerSecond, h.cfg.RateLimit.Burst),
		base:    base,
		log:     base,
	}

	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)
	sess.log.Debug().Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, sess)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			sess.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	sess.log.Debug().Msg("ws disconnected")

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, sess *wsSession) error {
	for {
		typ, data, err := sess.conn.Read(ctx)
		if err != nil {
			return err
		}

		if !sess.limiter.Allow() {
			if err := h.writeError(ctx, sess, core.ErrCodeRateLimited, "too many events"); err != nil {
				return err
			}
			continue
		}

		if typ != websocket.MessageText {
			if err := h.writeError(ctx, sess, core.ErrCodeBadRequest, "expected a text frame"); err != nil {
				return err
			}
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			if err := h.writeError(ctx, sess, core.ErrCodeBadRequest, "invalid json"); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := h.inboundToCommand(ctx, sess, inbound)
		if protoErr != nil {
			if err := wsjson.Write(ctx, sess.conn, proto.Outbound{Type: proto.TypeError, Error: protoErr}); err != nil {
				return err
			}
			continue
		}
		if cmd != nil && !sess.client.Send(ctx, cmd) {
			return nil
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, sess *wsSession) error {
	for {
		select {
		case event, ok := <-sess.client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, sess.conn, outboundFromEvent(event)); err != nil {
				sess.log.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, sess *wsSession, code, msg string) error {
	return wsjson.Write(ctx, sess.conn, errorOutbound(code, msg))
}

// inboundToCommand decodes one envelope and runs the checks that need storage
// or auth. It returns either a command for the hub or an error for the client.
func (h *WSHandler) inboundToCommand(ctx context.Context, sess *wsSession, in proto.Inbound) (*core.Command, *proto.Error) {
	switch in.Type {
	case proto.TypeUserOnline:
		var d proto.OnlineData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		return h.announce(sess, d)

	case proto.TypeJoinConversation:
		var d proto.ConversationRef
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, protoError(core.ErrCodeBadRequest, err.Error())
		}
		if h.cfg.Policy.RequireParticipant {
			if sess.userID == "" {
				return nil, protoError(core.ErrCodeUnidentified, "announce user:online before joining")
			}
			if err := h.conversations.CheckParticipant(ctx, d.ConversationID, sess.userID); err != nil {
				return nil, h.serviceError(sess, err)
			}
		}
		return &core.Command{Kind: core.CommandJoinConversation, ConversationID: d.ConversationID}, nil

	case proto.TypeLeaveConversation:
		var d proto.ConversationRef
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, protoError(core.ErrCodeBadRequest, err.Error())
		}
		return &core.Command{Kind: core.CommandLeaveConversation, ConversationID: d.ConversationID}, nil

	case proto.TypeMessageSend:
		var d proto.SendData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, protoError(core.ErrCodeBadRequest, err.Error())
		}
		if sess.userID == "" {
			return nil, protoError(core.ErrCodeUnidentified, "announce user:online before sending")
		}

		var (
			rec messages.Record
			err error
		)
		if d.ID != "" {
			rec, err = h.messages.Canonical(ctx, d.ConversationID, d.ID, sess.userID)
		} else {
			rec, err = h.messages.Send(ctx, d.ConversationID, sess.userID, d.Content, store.MessageKind(d.Kind))
		}
		if err != nil {
			return nil, h.serviceError(sess, err)
		}

		msg := rec.Relayable()
		if msg.SenderName == "" {
			msg.SenderName = sess.username
		}
		return &core.Command{
			Kind:           core.CommandSendMessage,
			ConversationID: d.ConversationID,
			UserID:         sess.userID,
			Message:        msg,
		}, nil

	case proto.TypeTypingStart, proto.TypeTypingStop:
		var d proto.TypingData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, protoError(core.ErrCodeBadRequest, err.Error())
		}
		kind := core.CommandTypingStart
		if in.Type == proto.TypeTypingStop {
			kind = core.CommandTypingStop
		}
		return &core.Command{
			Kind:           kind,
			ConversationID: d.ConversationID,
			UserID:         d.UserID,
			Username:       d.Username,
		}, nil

	case proto.TypeMessageRead:
		var d proto.ReadData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, protoError(core.ErrCodeBadRequest, err.Error())
		}
		if sess.userID != "" {
			if _, err := h.messages.MarkRead(ctx, d.ConversationID, d.MessageID, sess.userID); err != nil {
				return nil, h.serviceError(sess, err)
			}
		}
		return &core.Command{
			Kind:           core.CommandMarkRead,
			ConversationID: d.ConversationID,
			MessageID:      d.MessageID,
			UserID:         d.UserID,
		}, nil

	default:
		return nil, protoError(core.ErrCodeBadRequest, "unknown message type")
	}
}

// announce verifies a user:online claim. The token comes from the payload or,
// failing that, from the upgrade request.
func (h *WSHandler) announce(sess *wsSession, d proto.OnlineData) (*core.Command, *proto.Error) {
	if err := d.Validate(); err != nil {
		if errors.Is(err, proto.ErrUnsupportedProtocol) {
			return nil, protoError(core.ErrCodeUnsupported, "unsupported protocol version")
		}
		return nil, protoError(core.ErrCodeBadRequest, err.Error())
	}

	token := d.Token
	if token == "" {
		token = sess.token
	}
	claims, err := h.auth.VerifyAnnouncement(token, d.UserID, h.cfg.JWT.Required)
	if err != nil {
		sess.log.Debug().Err(err).Str("user_id", d.UserID).Msg("announcement rejected")
		return nil, protoError(core.ErrCodeUnauthorized, err.Error())
	}

	userID, username := d.UserID, d.Username
	if claims != nil {
		if userID == "" {
			userID = claims.UserID
		}
		if username == "" {
			username = claims.Username
		}
	}
	sess.userID = userID
	sess.username = username
	sess.log = sess.base.With().Str("user_id", userID).Logger()

	return &core.Command{Kind: core.CommandAnnounce, UserID: userID, Username: username}, nil
}

// serviceError maps storage-backed failures onto wire error codes.
func (h *WSHandler) serviceError(sess *wsSession, err error) *proto.Error {
	switch {
	case errors.Is(err, conversations.ErrNotParticipant), errors.Is(err, messages.ErrNotParticipant):
		return protoError(core.ErrCodeNotParticipant, "not a participant of this conversation")
	case errors.Is(err, messages.ErrNotSender):
		return protoError(core.ErrCodeForbidden, err.Error())
	case errors.Is(err, messages.ErrMessageNotFound), errors.Is(err, conversations.ErrConversationNotFound):
		return protoError(core.ErrCodeNotFound, err.Error())
	case errors.Is(err, messages.ErrEmptyMessage),
		errors.Is(err, messages.ErrMessageTooLarge),
		errors.Is(err, messages.ErrInvalidKind):
		return protoError(core.ErrCodeBadRequest, err.Error())
	default:
		sess.log.Error().Err(err).Msg("ws command failed")
		return protoError(core.ErrCodeInternal, "internal error")
	}
}

func decode(raw json.RawMessage, v any) *proto.Error {
	if len(raw) == 0 {
		return protoError(core.ErrCodeBadRequest, "data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return protoError(core.ErrCodeBadRequest, "invalid data")
	}
	return nil
}

func protoError(code, msg string) *proto.Error {
	return &proto.Error{Code: code, Msg: msg}
}
