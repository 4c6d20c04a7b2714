// Package encryption seals and opens user-supplied API keys with
// AES-256-GCM. Payloads keep the IV, auth tag, and ciphertext as separate
// hex fields so rows stay inspectable and tamper failures stay explicit.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	ivSize  = 16
	tagSize = 16
	keySize = 32
)

// ErrKeyUnreadable means a stored payload could not be opened: the master
// key changed or the ciphertext was tampered with. Callers treat this as
// "credential needs re-entry", not as a transient failure.
var ErrKeyUnreadable = errors.New("encryption: stored key unreadable")

// EncryptedPayload is the at-rest form of a sealed secret. All fields are
// hex encoded.
type EncryptedPayload struct {
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
	Data    string `json:"data"`
}

// Service seals and opens payloads under a single 256-bit master key.
type Service struct {
	aead cipher.AEAD
}

// New derives the master key from a hex secret. The secret must contain at
// least 64 hex characters; only the first 64 are used.
func New(hexSecret string) (*Service, error) {
	if len(hexSecret) < 2*keySize {
		return nil, fmt.Errorf("encryption: master secret must be at least %d hex characters", 2*keySize)
	}
	key, err := hex.DecodeString(hexSecret[:2*keySize])
	if err != nil {
		return nil, fmt.Errorf("encryption: master secret is not hex: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}
	return &Service{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (s *Service) Encrypt(plaintext string) (*EncryptedPayload, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	sealed := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	data, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return &EncryptedPayload{
		IV:      hex.EncodeToString(iv),
		AuthTag: hex.EncodeToString(tag),
		Data:    hex.EncodeToString(data),
	}, nil
}

// Decrypt opens a sealed payload. Any authentication failure, including a
// rotated master key, returns ErrKeyUnreadable.
func (s *Service) Decrypt(p *EncryptedPayload) (string, error) {
	iv, err := hex.DecodeString(p.IV)
	if err != nil || len(iv) != ivSize {
		return "", ErrKeyUnreadable
	}
	tag, err := hex.DecodeString(p.AuthTag)
	if err != nil || len(tag) != tagSize {
		return "", ErrKeyUnreadable
	}
	data, err := hex.DecodeString(p.Data)
	if err != nil {
		return "", ErrKeyUnreadable
	}
	plaintext, err := s.aead.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return "", ErrKeyUnreadable
	}
	return string(plaintext), nil
}
