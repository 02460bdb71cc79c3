package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "cmoptin settings v1"

// Crypter seals option records with AES-256-GCM.
type Crypter struct {
	aead cipher.AEAD
}

// New creates a Crypter. key must be exactly 32 bytes.
func New(key []byte) (*Crypter, error) {
	if len(key) != 32 {
		return nil, errors.New("crypto: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Crypter{aead: gcm}, nil
}

// NewFromSecret derives a 32-byte key from an operator supplied secret.
func NewFromSecret(secret string) (*Crypter, error) {
	if secret == "" {
		return nil, errors.New("crypto: empty secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return New(key)
}

// Encrypt returns ciphertext with the nonce prepended.
func (c *Crypter) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
func (c *Crypter) Decrypt(ciphertext []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, errors.New("crypto: ciphertext too short")
	}
	return c.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
}

// EncryptString is Encrypt with base64 output, for text columns.
func (c *Crypter) EncryptString(plaintext []byte) (string, error) {
	ct, err := c.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func (c *Crypter) DecryptString(s string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode: %w", err)
	}
	return c.Decrypt(ct)
}
