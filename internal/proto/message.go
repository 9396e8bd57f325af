package proto

import (
	"bytes"
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	TypeUserOnline        = "user:online"
	TypeJoinConversation  = "join:conversation"
	TypeLeaveConversation = "leave:conversation"
	TypeMessageSend       = "message:send"
	TypeTypingStart       = "typing:start"
	TypeTypingStop        = "typing:stop"
	TypeMessageRead       = "message:read"

	TypeUserStatus        = "user:status"
	TypePresenceSnapshot  = "presence:snapshot"
	TypeMessageReceive    = "message:receive"
	TypeTypingUpdate      = "typing:update"
	TypeMessageReadUpdate = "message:read:update"
	TypeError             = "error"
)

// OnlineData announces the user behind a connection. Older clients send the
// bare user id as a JSON string.
type OnlineData struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

func (d *OnlineData) UnmarshalJSON(b []byte) error {
	if s, ok, err := bareString(b); ok || err != nil {
		*d = OnlineData{UserID: s}
		return err
	}
	type plain OnlineData
	return json.Unmarshal(b, (*plain)(d))
}

// ConversationRef names a conversation room. Accepts a bare string or
// {"conversationId": "..."}.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

func (d *ConversationRef) UnmarshalJSON(b []byte) error {
	if s, ok, err := bareString(b); ok || err != nil {
		*d = ConversationRef{ConversationID: s}
		return err
	}
	type plain ConversationRef
	return json.Unmarshal(b, (*plain)(d))
}

// SendData is message:send. With an ID it refers to a message already saved
// over REST; without one Content is persisted first.
type SendData struct {
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	Kind           string `json:"kind,omitempty"`
}

// TypingData is typing:start and typing:stop.
type TypingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	Username       string `json:"username,omitempty"`
}

// ReadData is message:read.
type ReadData struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// UserStatusData is user:status, sent to every connection.
type UserStatusData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// PresenceSnapshotData lists the users online when a connection identified itself.
type PresenceSnapshotData struct {
	Users []string `json:"users"`
}

// SealedData is the stored form of a message body, hex encoded.
type SealedData struct {
	Content string `json:"content"`
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
}

// MessageData is the wire shape of a persisted message. Content is the opened
// text (or a placeholder); Sealed carries the body exactly as stored.
type MessageData struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName,omitempty"`
	Content        string      `json:"content"`
	Sealed         *SealedData `json:"sealed,omitempty"`
	Kind           string      `json:"kind"`
	Status         string      `json:"status"`
	ReadBy         []string    `json:"readBy"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// TypingUpdateData is typing:update. Username is only set while typing.
type TypingUpdateData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadUpdateData is message:read:update.
type ReadUpdateData struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func bareString(b []byte) (string, bool, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return "", true, err
	}
	return s, true, nil
}
