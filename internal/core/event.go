package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventUserStatus is the global presence change (user:status).
	EventUserStatus EventKind = iota
	// EventPresenceSnapshot lists online users to a freshly identified connection.
	EventPresenceSnapshot
	// EventMessageReceive delivers a persisted message to a room (message:receive).
	EventMessageReceive
	// EventTypingUpdate relays a typing indicator (typing:update).
	EventTypingUpdate
	// EventMessageRead relays a read receipt (message:read:update).
	EventMessageRead
	// EventError notifies a single client about a rejected command.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUserStatus:
		return "user_status"
	case EventPresenceSnapshot:
		return "presence_snapshot"
	case EventMessageReceive:
		return "message_receive"
	case EventTypingUpdate:
		return "typing_update"
	case EventMessageRead:
		return "message_read"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// PresenceStatus is the value carried by EventUserStatus.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Event is sent to clients to describe what happened in the system.
// Events are shared between recipients and must not be mutated after delivery.
type Event struct {
	Kind           EventKind
	ConversationID string
	UserID         string
	Username       string
	Status         PresenceStatus
	IsTyping       bool
	MessageID      string
	Message        *Message
	Users          []string
	Error          *CoreError
}
