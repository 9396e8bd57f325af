package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandAnnounce binds the connection to a user identity (user:online).
	CommandAnnounce CommandKind = iota
	// CommandJoinConversation subscribes the connection to a conversation room.
	CommandJoinConversation
	// CommandLeaveConversation unsubscribes the connection from a conversation room.
	CommandLeaveConversation
	// CommandSendMessage relays an already persisted message to the room.
	CommandSendMessage
	// CommandTypingStart relays a typing indicator to the other room members.
	CommandTypingStart
	// CommandTypingStop clears a typing indicator for the other room members.
	CommandTypingStop
	// CommandMarkRead relays a read receipt to the other room members.
	CommandMarkRead
)

func (k CommandKind) String() string {
	switch k {
	case CommandAnnounce:
		return "announce"
	case CommandJoinConversation:
		return "join_conversation"
	case CommandLeaveConversation:
		return "leave_conversation"
	case CommandSendMessage:
		return "send_message"
	case CommandTypingStart:
		return "typing_start"
	case CommandTypingStop:
		return "typing_stop"
	case CommandMarkRead:
		return "mark_read"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind           CommandKind
	ConversationID string
	UserID         string
	Username       string
	MessageID      string
	Message        *Message
}
