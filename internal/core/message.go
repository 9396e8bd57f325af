package core

import (
	"time"

	"github.com/vovakirdan/dmchat-server/internal/seal"
)

// Message is a persisted message as relayed to room members. Content is the
// opened plaintext for display; Sealed is the stored ciphertext, IV and tag.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	Sealed         seal.SealedHex
	Kind           string
	Status         string
	ReadBy         []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
