// Package security seals the persisted exchange session and masks
// credentials before they reach logs or the terminal.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionKeySize is the size of the AES-256 key in bytes.
	EncryptionKeySize = 32
	// SaltSize is the size of the salt for key derivation.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000

	sealVersion = 1
)

// ErrWrongPassphrase is returned when a sealed blob does not open.
var ErrWrongPassphrase = errors.New("invalid passphrase or corrupted data")

// Sealed is the on-disk form of an encrypted blob.
type Sealed struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Version    int    `json:"version"`
}

// Sealer encrypts blobs with a key derived from a passphrase. Every Seal
// uses a fresh salt and nonce.
type Sealer struct {
	passphrase string
}

// NewSealer creates a sealer. An empty passphrase is rejected.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required")
	}
	return &Sealer{passphrase: passphrase}, nil
}

// Seal encrypts plaintext and returns the JSON-encoded Sealed envelope.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	key := deriveKey(s.passphrase, salt)
	nonce, ciphertext, err := encrypt(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}

	return json.Marshal(Sealed{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Version:    sealVersion,
	})
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	var env Sealed
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing sealed data: %w", err)
	}
	if env.Version != sealVersion {
		return nil, fmt.Errorf("unsupported seal version %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	plaintext, err := decrypt(ciphertext, deriveKey(s.passphrase, salt), nonce)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// IsSealed reports whether data looks like a Seal envelope rather than a
// plain session snapshot.
func IsSealed(data []byte) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, hasCipher := fields["ciphertext"]
	_, hasNonce := fields["nonce"]
	return hasCipher && hasNonce
}

// deriveKey derives an encryption key from a password using PBKDF2.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

// encrypt encrypts plaintext using AES-256-GCM.
func encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// decrypt decrypts ciphertext using AES-256-GCM.
func decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	return plaintext, nil
}
