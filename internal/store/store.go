package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("conflict")
)

// User represents a registered account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation is a direct conversation between participants.
type Conversation struct {
	ID            string
	Participants  []*User
	IsGroup       bool
	LastMessageID string
	LastMessage   *Message
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// MessageKind is the content type of a message.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

// MessageStatus tracks delivery of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Message is a persisted message. Content, IV and AuthTag hold the sealed body, hex encoded.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	IV             string
	AuthTag        string
	Kind           MessageKind
	Status         MessageStatus
	ReadBy         []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewMessage is the input to CreateMessage.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
	IV             string
	AuthTag        string
	Kind           MessageKind
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SearchUsers finds users whose name contains query, case-insensitively, excluding excludeID.
	SearchUsers(ctx context.Context, query, excludeID string) ([]*User, error)
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// GetOrCreateDirect returns the direct conversation between two users, creating it if needed.
	GetOrCreateDirect(ctx context.Context, userA, userB string) (conv *Conversation, created bool, err error)

	// GetConversation retrieves a conversation with its participants.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists a user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// IsParticipant checks whether the user takes part in the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// UpdateConversationLastMessage points the conversation at its newest message and bumps updated_at.
	UpdateConversationLastMessage(ctx context.Context, conversationID, messageID string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a sealed message with status sent.
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages returns up to limit messages of a conversation in ascending time order.
	// If beforeID is set only messages older than it are considered.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]*Message, error)

	// MarkMessageRead adds userID to the read set and sets the status to read.
	MarkMessageRead(ctx context.Context, messageID, userID string) (*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}

// DirectKey is the dedup key of a direct conversation; it does not depend on argument order.
func DirectKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return "dm:" + userA + ":" + userB
}
