// Package attachments hands out presigned URLs for image and file messages.
// Bytes go straight between the client and object storage; the message body
// then carries the object key.
package attachments

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/dmchat-server/internal/store"
)

var (
	ErrDisabled           = errors.New("attachments are not configured")
	ErrTooLarge           = errors.New("attachment too large")
	ErrEmpty              = errors.New("attachment is empty")
	ErrInvalidContentType = errors.New("invalid content type")
)

const (
	DefaultMaxSize = 25 << 20
	DefaultTTL     = 15 * time.Minute
)

// Presigner signs object storage URLs.
type Presigner interface {
	PresignUpload(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Upload describes where a client should put an attachment.
type Upload struct {
	Key         string            `json:"key"`
	UploadURL   string            `json:"uploadUrl"`
	DownloadURL string            `json:"downloadUrl"`
	Kind        store.MessageKind `json:"kind"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Service validates attachment requests and signs URLs. A Service with a nil
// presigner reports ErrDisabled.
type Service struct {
	presigner Presigner
	maxSize   int64
	ttl       time.Duration
	now       func() time.Time
}

// New creates a Service. Zero maxSize or ttl pick the defaults.
func New(p Presigner, maxSize int64, ttl time.Duration) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{presigner: p, maxSize: maxSize, ttl: ttl, now: time.Now}
}

// Enabled reports whether uploads can be signed.
func (s *Service) Enabled() bool {
	return s != nil && s.presigner != nil
}

// PrepareUpload signs a PUT for a new object under the conversation prefix.
func (s *Service) PrepareUpload(ctx context.Context, conversationID, filename, contentType string, size int64) (Upload, error) {
	if !s.Enabled() {
		return Upload{}, ErrDisabled
	}
	if size <= 0 {
		return Upload{}, ErrEmpty
	}
	if size > s.maxSize {
		return Upload{}, ErrTooLarge
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" || !strings.Contains(contentType, "/") {
		return Upload{}, ErrInvalidContentType
	}

	key := ObjectKey(conversationID, filename)
	uploadURL, err := s.presigner.PresignUpload(ctx, key, contentType, size, s.ttl)
	if err != nil {
		return Upload{}, err
	}
	downloadURL, err := s.presigner.PresignDownload(ctx, key, s.ttl)
	if err != nil {
		return Upload{}, err
	}

	return Upload{
		Key:         key,
		UploadURL:   uploadURL,
		DownloadURL: downloadURL,
		Kind:        KindFor(contentType),
		ExpiresAt:   s.now().Add(s.ttl),
	}, nil
}

// ObjectKey places a fresh object under the conversation, keeping the file extension.
func ObjectKey(conversationID, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base("/" + filename)))
	if len(ext) > 10 {
		ext = ""
	}
	return "conversations/" + conversationID + "/" + uuid.NewString() + ext
}

// KindFor maps a content type to a message kind.
func KindFor(contentType string) store.MessageKind {
	if strings.HasPrefix(contentType, "image/") {
		return store.MessageKindImage
	}
	return store.MessageKindFile
}
