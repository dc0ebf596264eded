package tokenization

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidKey is returned when the key is not 16, 24 or 32 bytes.
var ErrInvalidKey = errors.New("tokenization key must be 16, 24 or 32 bytes")

// TokenizationService seals payout account numbers before they are stored.
// Tokens are AES-GCM ciphertexts with the nonce prepended, base64 encoded.
// Fingerprints are keyed HMAC-SHA256 digests used to detect a seller adding
// the same account twice without decrypting stored rows.
type TokenizationService struct {
	key []byte
}

func NewTokenizationService(encryptionKey []byte) (*TokenizationService, error) {
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}
	return &TokenizationService{key: encryptionKey}, nil
}

func (s *TokenizationService) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Tokenize encrypts value. Two calls with the same value yield different tokens.
func (s *TokenizationService) Tokenize(value string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Detokenize reverses Tokenize.
func (s *TokenizationService) Detokenize(token string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("token too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Fingerprint is deterministic for a given key and value.
func (s *TokenizationService) Fingerprint(value string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
