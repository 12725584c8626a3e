// Package cryptox implements authenticated encryption of at-rest secrets.
//
// Secrets are sealed with AES-256-GCM using a random 16-byte IV per call and
// serialized as "hex(iv):hex(tag):hex(ciphertext)" so that the stored value
// is self-describing. Decrypting with a different key, or after any byte of
// the ciphertext or tag has been altered, fails authentication instead of
// returning garbage plaintext.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dsmirnov/credvault/internal/common"
)

const (
	// KeySize is the required encryption key length (AES-256).
	KeySize = 32

	ivSize  = 16
	tagSize = 16
)

var (
	// ErrMalformedFormat means the serialized value is not three
	// colon-separated hex fields. No cryptographic work was attempted.
	ErrMalformedFormat = errors.New("malformed encrypted secret")

	// ErrAuthenticationFailed means the GCM tag did not verify: the
	// ciphertext or tag was tampered with, or the key is wrong.
	ErrAuthenticationFailed = errors.New("secret authentication failed")
)

// SecretCipher encrypts and decrypts opaque secret bytes with a single
// process-wide 32-byte key. It is stateless and safe for concurrent use.
type SecretCipher struct {
	aead cipher.AEAD
}

// New returns a SecretCipher for the given key. The key must be exactly
// 32 bytes; anything else is a configuration error and the caller must not
// start serving requests.
func New(key []byte) (*SecretCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}

	return &SecretCipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random IV and returns the serialized
// form "hex(iv):hex(tag):hex(ciphertext)". Two calls on the same plaintext
// produce different outputs.
func (c *SecretCipher) Encrypt(plaintext []byte) (string, error) {
	iv, err := common.GenerateRandByteArray(ivSize)
	if err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)

	// Seal appends the tag to the ciphertext; the stored format keeps them
	// in separate fields.
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt parses the serialized form and opens it with the process key.
// Structural problems yield ErrMalformedFormat before any cryptographic
// operation; a failed tag check yields ErrAuthenticationFailed and no
// plaintext.
func (c *SecretCipher) Decrypt(serialized string) ([]byte, error) {
	iv, tag, ciphertext, err := parseSerialized(serialized)
	if err != nil {
		return nil, err
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return plaintext, nil
}

// parseSerialized splits "hex(iv):hex(tag):hex(ciphertext)" and decodes the
// three fields. The iv and tag must decode to their fixed sizes; the
// ciphertext may be empty (empty plaintext).
func parseSerialized(serialized string) (iv, tag, ciphertext []byte, err error) {
	parts := strings.Split(serialized, ":")
	if len(parts) != 3 {
		return nil, nil, nil, ErrMalformedFormat
	}

	iv, err = hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, nil, nil, ErrMalformedFormat
	}

	tag, err = hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, nil, ErrMalformedFormat
	}

	ciphertext, err = hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, ErrMalformedFormat
	}

	return iv, tag, ciphertext, nil
}
