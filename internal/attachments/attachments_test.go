package attachments

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/dmchat-server/internal/store"
)

type fakePresigner struct {
	uploads []string
}

func (f *fakePresigner) PresignUpload(_ context.Context, key, contentType string, size int64, _ time.Duration) (string, error) {
	f.uploads = append(f.uploads, key)
	return "https://upload.example/" + key + "?type=" + contentType, nil
}

func (f *fakePresigner) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://download.example/" + key, nil
}

func TestPrepareUpload(t *testing.T) {
	fake := &fakePresigner{}
	svc := New(fake, 1024, time.Minute)

	up, err := svc.PrepareUpload(context.Background(), "conv-1", "cat.PNG", "image/png", 512)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !strings.HasPrefix(up.Key, "conversations/conv-1/") || !strings.HasSuffix(up.Key, ".png") {
		t.Fatalf("unexpected key %q", up.Key)
	}
	if up.Kind != store.MessageKindImage {
		t.Fatalf("expected image kind, got %q", up.Kind)
	}
	if len(fake.uploads) != 1 || fake.uploads[0] != up.Key {
		t.Fatalf("presigner not called with key: %v", fake.uploads)
	}

	doc, err := svc.PrepareUpload(context.Background(), "conv-1", "notes.pdf", "application/pdf", 10)
	if err != nil {
		t.Fatalf("prepare pdf: %v", err)
	}
	if doc.Kind != store.MessageKindFile {
		t.Fatalf("expected file kind, got %q", doc.Kind)
	}
}

func TestPrepareUploadValidation(t *testing.T) {
	svc := New(&fakePresigner{}, 1024, time.Minute)

	tests := []struct {
		name        string
		contentType string
		size        int64
		want        error
	}{
		{name: "empty", contentType: "image/png", size: 0, want: ErrEmpty},
		{name: "too large", contentType: "image/png", size: 2048, want: ErrTooLarge},
		{name: "bad type", contentType: "png", size: 10, want: ErrInvalidContentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.PrepareUpload(context.Background(), "c", "f", tt.contentType, tt.size); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	var disabled *Service
	if _, err := disabled.PrepareUpload(context.Background(), "c", "f", "image/png", 1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := New(nil, 0, 0).PrepareUpload(context.Background(), "c", "f", "image/png", 1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled for nil presigner, got %v", err)
	}
}

func TestS3PresignerSignsOffline(t *testing.T) {
	p, err := NewS3(context.Background(), S3Config{
		Bucket:          "dmchat",
		Endpoint:        "http://127.0.0.1:9000",
		Region:          "us-east-1",
		AccessKeyID:     "test-access",
		SecretAccessKey: "test-secret",
	})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}

	raw, err := p.PresignUpload(context.Background(), "conversations/c/obj.png", "image/png", 10, time.Minute)
	if err != nil {
		t.Fatalf("presign upload: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "127.0.0.1:9000" || u.Path != "/dmchat/conversations/c/obj.png" {
		t.Fatalf("expected path-style url, got %s", raw)
	}
	if u.Query().Get("X-Amz-Signature") == "" || u.Query().Get("X-Amz-Expires") != "60" {
		t.Fatalf("url not signed: %s", raw)
	}

	if _, err := p.PresignDownload(context.Background(), "conversations/c/obj.png", time.Minute); err != nil {
		t.Fatalf("presign download: %v", err)
	}
}
