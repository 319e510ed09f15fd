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
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SecretPrefix marks a configuration value as an encrypted secret.
const SecretPrefix = "enc:"

const keyInfo = "reportmailer config secrets v1"

var ErrNoKey = errors.New("crypto: encrypted value but no SECRETS_KEY configured")

// Crypter encrypts and decrypts data using AES-256-GCM.
type Crypter struct {
	key []byte
}

// New creates a Crypter. key must be exactly 32 bytes.
func New(key []byte) *Crypter {
	if len(key) != 32 {
		panic("crypto: key must be 32 bytes")
	}
	return &Crypter{key: key}
}

// FromPassphrase derives a 32-byte key from an operator passphrase with HKDF-SHA256.
func FromPassphrase(passphrase string) (*Crypter, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return New(key), nil
}

// Encrypt encrypts plaintext using AES-256-GCM and returns ciphertext with
// the nonce prepended.
func (c *Crypter) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
func (c *Crypter) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("crypto: ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Seal encrypts a secret into its "enc:<base64>" configuration form.
func (c *Crypter) Seal(secret string) (string, error) {
	ct, err := c.Encrypt([]byte(secret))
	if err != nil {
		return "", err
	}
	return SecretPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open returns value unchanged unless it carries SecretPrefix, in which case
// it is decoded and decrypted.
func (c *Crypter) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: decode secret: %w", err)
	}
	pt, err := c.Decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt secret: %w", err)
	}
	return string(pt), nil
}

// IsSealed reports whether value is an encrypted configuration secret.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

func (c *Crypter) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
