// Package crypto provides the key derivation and authenticated encryption
// used for locked vault folders.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize     = 16     // Salt size in bytes
	KeySize      = 32     // AES-256 key size
	NonceSize    = 12     // GCM nonce size
	TagSize      = 16     // GCM authentication tag size
	DefaultIters = 210000 // PBKDF2-HMAC-SHA256 iterations for new locks
	MaxIters     = 10 * DefaultIters
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
)

// KDF derives folder keys from passphrases.
type KDF struct {
	Salt       []byte
	Iterations int
}

// NewKDF creates a KDF with a fresh random salt.
func NewKDF(iterations int) (*KDF, error) {
	if iterations < 1 {
		iterations = DefaultIters
	}
	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, err
	}
	return &KDF{Salt: salt, Iterations: iterations}, nil
}

// DeriveKey derives a raw AES-256 key from a passphrase.
func (k *KDF) DeriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), k.Salt, k.Iterations, KeySize, sha256.New)
}

// Encryptor derives the key for passphrase and returns a ready Encryptor.
func (k *KDF) Encryptor(passphrase string) (*Encryptor, error) {
	return NewEncryptor(k.DeriveKey(passphrase))
}

// Encryptor seals and opens blobs with AES-256-GCM. Each blob is
// nonce || ciphertext || tag.
type Encryptor struct {
	key  []byte
	aead cipher.AEAD
}

// NewEncryptor creates an encryptor for a 32-byte key. The encryptor owns key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{key: key, aead: gcm}, nil
}

// Encrypt seals plaintext under a random nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce, err := GenerateRandom(NonceSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce)
	return e.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (e *Encryptor) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := e.aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Destroy zeroes the raw key bytes held by e. The AES key schedule inside the
// cipher is not reachable and stays in memory until collected. The encryptor
// must not be used after.
func (e *Encryptor) Destroy() {
	ClearBytes(e.key)
}

// ClearBytes overwrites b with zeros.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare reports whether a and b are equal without leaking timing.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom returns n random bytes.
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
