package tokenization

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

var testKey = []byte("0123456789ABCDEF0123456789ABCDEF") // 32-byte key for AES-256

func newService(t *testing.T) *TokenizationService {
	t.Helper()
	s, err := NewTokenizationService(testKey)
	if err != nil {
		t.Fatalf("NewTokenizationService error: %v", err)
	}
	return s
}

func TestNewTokenizationService(t *testing.T) {
	service := newService(t)
	if !bytes.Equal(service.key, testKey) {
		t.Errorf("Expected key %v, got %v", testKey, service.key)
	}
}

func TestInvalidKeySize(t *testing.T) {
	for _, k := range [][]byte{nil, []byte("short"), bytes.Repeat([]byte("a"), 33)} {
		if _, err := NewTokenizationService(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key of %d bytes: expected ErrInvalidKey, got %v", len(k), err)
		}
	}
}

func TestTokenizeDetokenize(t *testing.T) {
	service := newService(t)
	testData := []string{
		"TR120006200000000012345678",
		"GB82WEST12345698765432",
		"",
		"çalışma hesabı",
	}

	for _, original := range testData {
		token, err := service.Tokenize(original)
		if err != nil {
			t.Errorf("Tokenize(%q) error: %v", original, err)
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(token); err != nil {
			t.Errorf("Token %q is not valid base64", token)
		}

		decrypted, err := service.Detokenize(token)
		if err != nil {
			t.Errorf("Detokenize(%q) error: %v", token, err)
			continue
		}
		if decrypted != original {
			t.Errorf("Expected %q, got %q", original, decrypted)
		}
	}
}

func TestTokenizeIsRandomized(t *testing.T) {
	service := newService(t)
	a, _ := service.Tokenize("TR120006200000000012345678")
	b, _ := service.Tokenize("TR120006200000000012345678")
	if a == b {
		t.Error("expected distinct tokens for repeated tokenization")
	}
}

func TestDetokenize_InvalidToken(t *testing.T) {
	service := newService(t)
	if _, err := service.Detokenize("not base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := service.Detokenize(base64.StdEncoding.EncodeToString([]byte("abc"))); err == nil {
		t.Error("expected error for short token")
	}

	other, _ := NewTokenizationService([]byte("ABCDEF0123456789ABCDEF0123456789"))
	token, _ := other.Tokenize("secret")
	if _, err := service.Detokenize(token); err == nil {
		t.Error("expected error when opening with the wrong key")
	}
}

func TestFingerprint(t *testing.T) {
	service := newService(t)
	a := service.Fingerprint("TR120006200000000012345678")
	b := service.Fingerprint("TR120006200000000012345678")
	c := service.Fingerprint("TR120006200000000012345679")
	if a != b {
		t.Error("fingerprint must be deterministic")
	}
	if a == c {
		t.Error("different values must not share a fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
