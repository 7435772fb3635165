package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherRoundTrip(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	first, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct salts, got identical hashes")
	}
	if strings.Contains(first, "correct horse") {
		t.Fatalf("hash leaks plaintext: %s", first)
	}
	if !h.Verify("correct horse", first) || !h.Verify("correct horse", second) {
		t.Fatalf("expected both hashes to verify")
	}
	if h.Verify("battery staple", first) {
		t.Fatalf("expected mismatch for a different password")
	}
}

func TestHasherMalformedHash(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	for _, hash := range []string{"", "plain", "$2a$04$short"} {
		if h.Verify("whatever1", hash) {
			t.Fatalf("expected false for malformed hash %q", hash)
		}
	}
}

func TestHasherRejectsBadInput(t *testing.T) {
	if _, err := NewHasher(bcrypt.MaxCost + 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for cost, got %v", err)
	}
	h, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if _, err := h.Hash(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty password, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("x", maxPasswordBytes+1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for long password, got %v", err)
	}
}
