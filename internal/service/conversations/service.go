package conversations

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/dmchat-server/internal/store"
)

// Common errors for conversation operations.
var (
	ErrCannotMessageSelf    = errors.New("cannot open a conversation with yourself")
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrMissingParticipantID = errors.New("participantId is required")
)

// Store is the storage this service needs.
type Store interface {
	store.UserStore
	store.ConversationStore
}

// Service provides conversation discovery and access checks.
type Service struct {
	store Store
}

// New creates a new conversation Service.
func New(st Store) *Service {
	return &Service{
		store: st,
	}
}

// Open returns the direct conversation between userID and participantID,
// creating it on first use. created reports whether it was just created.
func (s *Service) Open(ctx context.Context, userID, participantID string) (conv *store.Conversation, created bool, err error) {
	if participantID == "" {
		return nil, false, ErrMissingParticipantID
	}
	if userID == participantID {
		return nil, false, ErrCannotMessageSelf
	}

	if _, err := s.store.GetUserByID(ctx, participantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, fmt.Errorf("lookup participant: %w", err)
	}

	conv, created, err = s.store.GetOrCreateDirect(ctx, userID, participantID)
	if err != nil {
		return nil, false, fmt.Errorf("open conversation: %w", err)
	}
	return conv, created, nil
}

// List returns the user's conversations, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// Get returns a conversation the user takes part in.
func (s *Service) Get(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// CheckParticipant returns ErrNotParticipant unless userID takes part in the conversation.
func (s *Service) CheckParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// SearchUsers finds people to talk to, never including the caller.
func (s *Service) SearchUsers(ctx context.Context, query, userID string) ([]*store.User, error) {
	users, err := s.store.SearchUsers(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}
