// Package messages owns the message write path (seal, persist, bump the
// conversation) and the read path (open each stored body independently).
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/seal"
	"github.com/vovakirdan/dmchat-server/internal/store"
)

// Placeholder replaces the text of a message that fails to open.
const Placeholder = "[unable to decrypt]"

var (
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrMessageTooLarge = errors.New("message content too large")
	ErrInvalidKind     = errors.New("invalid message kind")
	ErrNotParticipant  = errors.New("not a participant of this conversation")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("message was sent by another user")
)

// Store is the storage this service needs.
type Store interface {
	store.ConversationStore
	store.MessageStore
}

// Record is a stored message together with its opened text.
type Record struct {
	Message *store.Message
	Text    string
	// Opened is false when Text is the placeholder.
	Opened bool
}

// Relayable converts the record into the form the realtime core fans out.
func (r Record) Relayable() *core.Message {
	m := r.Message
	return &core.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        r.Text,
		Sealed:         seal.SealedHex{Content: m.Content, IV: m.IV, AuthTag: m.AuthTag},
		Kind:           string(m.Kind),
		Status:         string(m.Status),
		ReadBy:         append([]string(nil), m.ReadBy...),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// Service seals messages on the way in and opens them on the way out.
type Service struct {
	store    Store
	codec    *seal.Codec
	maxBytes int
	log      zerolog.Logger
}

// New creates a message Service. maxBytes <= 0 disables the size check.
func New(st Store, codec *seal.Codec, maxBytes int, logger *zerolog.Logger) *Service {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "messages").Logger()
	}
	return &Service{
		store:    st,
		codec:    codec,
		maxBytes: maxBytes,
		log:      l,
	}
}

// Send seals text, stores it and makes it the conversation's last message.
func (s *Service) Send(ctx context.Context, conversationID, senderID, text string, kind store.MessageKind) (Record, error) {
	if strings.TrimSpace(text) == "" {
		return Record{}, ErrEmptyMessage
	}
	if s.maxBytes > 0 && len(text) > s.maxBytes {
		return Record{}, ErrMessageTooLarge
	}
	switch kind {
	case "":
		kind = store.MessageKindText
	case store.MessageKindText, store.MessageKindImage, store.MessageKindFile:
	default:
		return Record{}, ErrInvalidKind
	}

	if err := s.checkParticipant(ctx, conversationID, senderID); err != nil {
		return Record{}, err
	}

	sealed, err := s.codec.SealString(text)
	if err != nil {
		return Record{}, fmt.Errorf("seal message: %w", err)
	}

	msg, err := s.store.CreateMessage(ctx, store.NewMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        sealed.Content,
		IV:             sealed.IV,
		AuthTag:        sealed.AuthTag,
		Kind:           kind,
	})
	if err != nil {
		return Record{}, fmt.Errorf("create message: %w", err)
	}

	if err := s.store.UpdateConversationLastMessage(ctx, conversationID, msg.ID); err != nil {
		return Record{}, fmt.Errorf("update last message: %w", err)
	}

	return Record{Message: msg, Text: text, Opened: true}, nil
}

// History returns up to limit messages older than beforeID, oldest first.
// A message that fails to open carries the placeholder; the rest are unaffected.
func (s *Service) History(ctx context.Context, conversationID, userID string, limit int, beforeID string) ([]Record, error) {
	if err := s.checkParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	records := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		records = append(records, s.Open(msg))
	}
	return records, nil
}

// MarkRead records that userID has read the message.
func (s *Service) MarkRead(ctx context.Context, conversationID, messageID, userID string) (*store.Message, error) {
	if err := s.checkParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if _, err := s.messageIn(ctx, conversationID, messageID); err != nil {
		return nil, err
	}

	msg, err := s.store.MarkMessageRead(ctx, messageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return msg, nil
}

// Canonical loads a stored message for relaying. It must belong to the
// conversation and have been sent by senderID.
func (s *Service) Canonical(ctx context.Context, conversationID, messageID, senderID string) (Record, error) {
	msg, err := s.messageIn(ctx, conversationID, messageID)
	if err != nil {
		return Record{}, err
	}
	if msg.SenderID != senderID {
		return Record{}, ErrNotSender
	}
	return s.Open(msg), nil
}

func (s *Service) messageIn(ctx context.Context, conversationID, messageID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg.ConversationID != conversationID {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (s *Service) checkParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// Open decrypts a stored message. Failure yields the placeholder text.
func (s *Service) Open(msg *store.Message) Record {
	text, err := s.codec.OpenString(seal.SealedHex{
		Content: msg.Content,
		IV:      msg.IV,
		AuthTag: msg.AuthTag,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to open message")
		return Record{Message: msg, Text: Placeholder}
	}
	return Record{Message: msg, Text: text, Opened: true}
}
