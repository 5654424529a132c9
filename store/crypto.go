package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// encPrefix marks a cell holding ciphertext. Cells written before
// encryption was enabled keep their plaintext and load unchanged.
const encPrefix = "enc:"

// textCipher encrypts text cells at rest with XChaCha20-Poly1305. A nil
// textCipher passes text through unchanged.
type textCipher struct {
	aead cipher.AEAD
}

// newTextCipher builds a cipher from a base64-encoded 32-byte key. An
// empty secret disables encryption.
func newTextCipher(secret string) (*textCipher, error) {
	if secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("store: decoding encryption secret: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("store: encryption secret must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("store: building cipher: %w", err)
	}
	return &textCipher{aead: aead}, nil
}

// NewSecret generates a fresh base64-encoded key for the store's at-rest
// text encryption.
func NewSecret() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("store: generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// seal encrypts a text cell. The nonce is prepended to the ciphertext and
// the whole cell base64-encoded behind the enc: marker.
func (c *textCipher) seal(text string) (string, error) {
	if c == nil {
		return text, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("store: generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(text), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a text cell. Cells without the enc: marker are plaintext
// and returned unchanged.
func (c *textCipher) open(cell string) (string, error) {
	if !strings.HasPrefix(cell, encPrefix) {
		return cell, nil
	}
	if c == nil {
		return "", fmt.Errorf("store: cell is encrypted but no encryption secret is configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(cell, encPrefix))
	if err != nil {
		return "", fmt.Errorf("store: decoding encrypted cell: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("store: encrypted cell is truncated")
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("store: decrypting cell: %w", err)
	}
	return string(plain), nil
}
