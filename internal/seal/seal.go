// Package seal encrypts message bodies at rest with AES-256-GCM.
//
// Every Seal call draws a fresh random 96-bit nonce. The persisted form keeps the
// ciphertext, the nonce (IV) and the authentication tag as separate hex strings so
// that a stored message row can be opened again without any framing knowledge.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM standard nonce length.
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

var (
	// ErrAuthentication is returned by Open when the tag does not verify.
	ErrAuthentication = errors.New("message authentication failed")
	// ErrInvalidKey is returned when the key is not KeySize bytes.
	ErrInvalidKey = errors.New("invalid message key")
	// ErrMalformed is returned when sealed fields have the wrong shape.
	ErrMalformed = errors.New("malformed sealed content")
)

// Sealed is the output of Seal: ciphertext plus what is needed to verify and open it.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// SealedHex is the hex-encoded storage form of Sealed.
type SealedHex struct {
	Content string `json:"content"`
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
}

// Codec seals and opens message bodies under a single key. Safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New builds a codec from a raw 32-byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewFromHex builds a codec from a hex-encoded key, the form used in configuration.
func NewFromHex(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return New(key)
}

// GenerateKey returns a fresh random key, hex-encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts plaintext under a fresh nonce.
func (c *Codec) Seal(plaintext []byte) (Sealed, error) {
	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("read nonce: %w", err)
	}

	out := c.aead.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize

	return Sealed{
		Ciphertext: out[:split:split],
		IV:         iv,
		AuthTag:    out[split:],
	}, nil
}

// Open verifies and decrypts a sealed value.
func (c *Codec) Open(s Sealed) ([]byte, error) {
	if len(s.IV) != NonceSize || len(s.AuthTag) != TagSize {
		return nil, ErrMalformed
	}

	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.AuthTag...)

	plaintext, err := c.aead.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// SealString seals a UTF-8 string and returns the storage form.
func (c *Codec) SealString(plaintext string) (SealedHex, error) {
	s, err := c.Seal([]byte(plaintext))
	if err != nil {
		return SealedHex{}, err
	}
	return s.Hex(), nil
}

// OpenString opens the storage form back into a string.
func (c *Codec) OpenString(h SealedHex) (string, error) {
	s, err := h.Decode()
	if err != nil {
		return "", err
	}
	plaintext, err := c.Open(s)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Hex encodes every field as lowercase hex.
func (s Sealed) Hex() SealedHex {
	return SealedHex{
		Content: hex.EncodeToString(s.Ciphertext),
		IV:      hex.EncodeToString(s.IV),
		AuthTag: hex.EncodeToString(s.AuthTag),
	}
}

// Decode parses the hex fields back into bytes.
func (h SealedHex) Decode() (Sealed, error) {
	ct, err := hex.DecodeString(h.Content)
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: content: %v", ErrMalformed, err)
	}
	iv, err := hex.DecodeString(h.IV)
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: iv: %v", ErrMalformed, err)
	}
	tag, err := hex.DecodeString(h.AuthTag)
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: auth tag: %v", ErrMalformed, err)
	}
	return Sealed{Ciphertext: ct, IV: iv, AuthTag: tag}, nil
}
