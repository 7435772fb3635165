package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is the bcrypt input limit; longer inputs are rejected
// rather than silently truncated.
const maxPasswordBytes = 72

// Hasher hashes and verifies passwords with bcrypt. Every hash embeds its own
// random salt and cost, so two hashes of the same password differ.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher constructs a Hasher using the given bcrypt work factor.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("hmsauth-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("precompute dummy hash: %w", err)
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Hash returns the bcrypt hash of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares plaintext against a stored hash. A malformed hash is a
// mismatch, never an error.
func (h *Hasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		h.VerifyDummy(plaintext)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// VerifyDummy burns one comparison against a fixed hash of the configured cost.
// Login calls it when no account matches so the response time does not reveal
// whether the email is registered.
func (h *Hasher) VerifyDummy(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
