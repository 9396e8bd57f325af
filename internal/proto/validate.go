package proto

import (
	"errors"
	"fmt"
)

// Message kinds accepted on message:send.
const (
	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"
)

var (
	// ErrMissingField is wrapped by validation errors for empty required fields.
	ErrMissingField = errors.New("missing field")
	// ErrUnsupportedProtocol is returned when a client asks for another protocol version.
	ErrUnsupportedProtocol = errors.New("unsupported protocol version")
	// ErrInvalidKind is returned for an unknown message kind.
	ErrInvalidKind = errors.New("invalid message kind")
)

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// Validate checks the announce payload. A token alone is enough; the user id
// is then taken from it.
func (d OnlineData) Validate() error {
	if d.Protocol != 0 && d.Protocol != ProtocolVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedProtocol, d.Protocol)
	}
	if d.UserID == "" && d.Token == "" {
		return missing("userId")
	}
	return nil
}

func (d ConversationRef) Validate() error {
	if d.ConversationID == "" {
		return missing("conversationId")
	}
	return nil
}

func (d SendData) Validate() error {
	if d.ConversationID == "" {
		return missing("conversationId")
	}
	if d.ID == "" && d.Content == "" {
		return missing("content")
	}
	if !ValidKind(d.Kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	return nil
}

func (d TypingData) Validate() error {
	if d.ConversationID == "" {
		return missing("conversationId")
	}
	return nil
}

func (d ReadData) Validate() error {
	if d.ConversationID == "" {
		return missing("conversationId")
	}
	if d.MessageID == "" {
		return missing("messageId")
	}
	return nil
}

// ValidKind reports whether kind is a known message kind. Empty means text.
func ValidKind(kind string) bool {
	switch kind {
	case "", KindText, KindImage, KindFile:
		return true
	default:
		return false
	}
}
