// Package clientbox is the passphrase-keyed client layer: XChaCha20-Poly1305 over
// a key derived with HKDF-SHA256. Its output is a single base64 string, so the
// server stores and relays it as ordinary message text.
package clientbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "dmchat clientbox v1"

var (
	// ErrAuthentication is returned when a box does not verify under the key.
	ErrAuthentication = errors.New("clientbox: authentication failed")
	// ErrEmptyPassphrase is returned by New for an empty passphrase.
	ErrEmptyPassphrase = errors.New("clientbox: empty passphrase")
)

// Box seals and opens strings under a shared passphrase.
type Box struct {
	key []byte
}

// New derives the box key from passphrase. salt scopes the key, typically a
// conversation id, so the same passphrase yields different keys per conversation.
func New(passphrase, salt string) (*Box, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("clientbox: derive key: %w", err)
	}
	return &Box{key: key}, nil
}

// Seal returns base64(nonce || ciphertext || tag).
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("clientbox: init: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("clientbox: nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (b *Box) Open(boxed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(boxed)
	if err != nil {
		return "", ErrAuthentication
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("clientbox: init: %w", err)
	}
	if len(raw) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return "", ErrAuthentication
	}
	nonce, ct := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(plaintext), nil
}
