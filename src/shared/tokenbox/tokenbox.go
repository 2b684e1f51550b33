// Package tokenbox encrypts third-party OAuth tokens before they are stored.
package tokenbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceSize = 24
	prefix    = "v1:"
)

var (
	ErrEmptyKey  = errors.New("tokenbox: empty key")
	ErrMalformed = errors.New("tokenbox: malformed ciphertext")
	ErrDecrypt   = errors.New("tokenbox: decryption failed")
)

// Box seals and opens short secrets with NaCl secretbox.
type Box struct {
	key [32]byte
}

// New derives a 256-bit key from secret.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal encrypts plaintext into a printable string.
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("tokenbox: read nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string) (string, error) {
	if len(sealed) < len(prefix) || sealed[:len(prefix)] != prefix {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(prefix):])
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
