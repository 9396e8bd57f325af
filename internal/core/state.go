package core

import "github.com/rs/zerolog"

// Policy toggles the authorization checks the core itself can enforce.
type Policy struct {
	// RequireIdentity rejects room, typing, message and read commands from
	// connections that have not announced a user yet. When false they are
	// accepted and logged.
	RequireIdentity bool
}

// Delivery is one outbound event and the connections it goes to.
type Delivery struct {
	To    []string
	Event *Event
}

type session struct {
	userID   string
	username string
	state    ClientState
}

// State is the realtime core as a plain value: presence, room membership and
// the per-connection lifecycle. Every method takes the current state and an
// inbound event and returns the deliveries it produced, without touching any
// transport. State is not safe for concurrent use; the Hub serializes access.
type State struct {
	presence *Presence
	rooms    *Rooms
	sessions map[string]*session
	policy   Policy
	log      zerolog.Logger
}

// NewState returns an empty core state. A nil logger disables logging.
func NewState(policy Policy, logger *zerolog.Logger) *State {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "core").Logger()
	}
	return &State{
		presence: NewPresence(),
		rooms:    NewRooms(),
		sessions: make(map[string]*session),
		policy:   policy,
		log:      l,
	}
}

// Presence exposes the presence registry for read-only queries.
func (s *State) Presence() *Presence { return s.presence }

// Rooms exposes the membership table for read-only queries.
func (s *State) Rooms() *Rooms { return s.rooms }

// Connect registers a new anonymous connection.
func (s *State) Connect(connID string) {
	if _, exists := s.sessions[connID]; exists {
		return
	}
	s.sessions[connID] = &session{state: StateAnonymous}
}

// StateOf reports the lifecycle state of a connection. Unknown connections are terminated.
func (s *State) StateOf(connID string) ClientState {
	sess, ok := s.sessions[connID]
	if !ok {
		return StateTerminated
	}
	return sess.state
}

// UserOf returns the identity announced on a connection, if any.
func (s *State) UserOf(connID string) string {
	if sess, ok := s.sessions[connID]; ok {
		return sess.userID
	}
	return ""
}

// Connections returns the number of live connections.
func (s *State) Connections() int {
	return len(s.sessions)
}

// Apply handles one command from connID. Commands from unknown or terminated
// connections are dropped.
func (s *State) Apply(connID string, cmd *Command) []Delivery {
	sess, ok := s.sessions[connID]
	if !ok || cmd == nil {
		return nil
	}

	if cmd.Kind == CommandAnnounce {
		return s.announce(connID, sess, cmd)
	}

	if sess.state != StateIdentified {
		if s.policy.RequireIdentity {
			return s.reject(connID, ErrCodeUnidentified, "announce user:online before "+cmd.Kind.String())
		}
		s.log.Warn().Str("conn_id", connID).Str("command", cmd.Kind.String()).Msg("command from unidentified connection")
	}

	switch cmd.Kind {
	case CommandJoinConversation:
		if cmd.ConversationID == "" {
			return s.reject(connID, ErrCodeBadRequest, "conversationId is required")
		}
		if s.rooms.Join(connID, cmd.ConversationID) {
			s.log.Debug().Str("conn_id", connID).Str("conversation_id", cmd.ConversationID).Msg("joined conversation")
		}
		return nil
	case CommandLeaveConversation:
		if cmd.ConversationID == "" {
			return s.reject(connID, ErrCodeBadRequest, "conversationId is required")
		}
		if s.rooms.Leave(connID, cmd.ConversationID) {
			s.log.Debug().Str("conn_id", connID).Str("conversation_id", cmd.ConversationID).Msg("left conversation")
		}
		return nil
	case CommandSendMessage:
		if cmd.Message == nil {
			return s.reject(connID, ErrCodeBadRequest, "message is required")
		}
		conversationID := cmd.ConversationID
		if conversationID == "" {
			conversationID = cmd.Message.ConversationID
		}
		if conversationID == "" {
			return s.reject(connID, ErrCodeBadRequest, "conversationId is required")
		}
		return s.Relay(conversationID, cmd.Message)
	case CommandTypingStart, CommandTypingStop:
		if cmd.ConversationID == "" {
			return s.reject(connID, ErrCodeBadRequest, "conversationId is required")
		}
		return s.typing(connID, sess, cmd)
	case CommandMarkRead:
		if cmd.ConversationID == "" || cmd.MessageID == "" {
			return s.reject(connID, ErrCodeBadRequest, "conversationId and messageId are required")
		}
		userID := sess.userID
		if userID == "" {
			userID = cmd.UserID
		}
		return s.MarkRead(connID, cmd.ConversationID, cmd.MessageID, userID)
	default:
		return s.reject(connID, ErrCodeBadRequest, "unknown command")
	}
}

// announce binds connID to a user and broadcasts the status change to everyone.
// Announcing a different user on the same connection releases the previous one first.
func (s *State) announce(connID string, sess *session, cmd *Command) []Delivery {
	if cmd.UserID == "" {
		return s.reject(connID, ErrCodeBadRequest, "userId is required")
	}

	var out []Delivery
	if sess.userID != "" && sess.userID != cmd.UserID {
		if userID, ok := s.presence.MarkOffline(connID); ok {
			out = append(out, s.statusBroadcast(userID, StatusOffline))
		}
	}

	if replaced := s.presence.MarkOnline(cmd.UserID, connID); replaced != "" {
		s.log.Debug().
			Str("user_id", cmd.UserID).
			Str("conn_id", connID).
			Str("replaced_conn_id", replaced).
			Msg("presence taken over by newer connection")
	}

	sess.userID = cmd.UserID
	sess.username = cmd.Username
	sess.state = StateIdentified

	s.log.Info().Str("user_id", cmd.UserID).Str("conn_id", connID).Msg("user online")

	out = append(out,
		s.statusBroadcast(cmd.UserID, StatusOnline),
		Delivery{
			To:    []string{connID},
			Event: &Event{Kind: EventPresenceSnapshot, Users: s.presence.Online()},
		},
	)
	return out
}

// Disconnect tears down connID: it leaves every room, drops the session and
// clears presence unless a newer connection owns it.
func (s *State) Disconnect(connID string) []Delivery {
	sess, ok := s.sessions[connID]
	if !ok {
		return nil
	}
	left := s.rooms.LeaveAll(connID)
	delete(s.sessions, connID)

	logger := s.log.With().Str("conn_id", connID).Int("rooms_left", len(left)).Logger()

	userID, wasOnline := s.presence.MarkOffline(connID)
	if !wasOnline {
		if sess.userID != "" {
			logger.Debug().Str("user_id", sess.userID).Msg("stale disconnect, presence kept")
		}
		return nil
	}

	logger.Info().Str("user_id", userID).Msg("user offline")
	return []Delivery{s.statusBroadcast(userID, StatusOffline)}
}

func (s *State) statusBroadcast(userID string, status PresenceStatus) Delivery {
	return Delivery{
		To:    s.allConnections(),
		Event: &Event{Kind: EventUserStatus, UserID: userID, Status: status},
	}
}

func (s *State) allConnections() []string {
	out := make([]string, 0, len(s.sessions))
	for connID := range s.sessions {
		out = append(out, connID)
	}
	return out
}

func (s *State) reject(connID, code, msg string) []Delivery {
	return []Delivery{{
		To:    []string{connID},
		Event: &Event{Kind: EventError, Error: NewError(code, msg)},
	}}
}

func without(ids []string, exclude string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
