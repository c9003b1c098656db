package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid API token")

// tokenBytes is the entropy of a generated token, hex encoded on output.
const tokenBytes = 32

// GenerateToken returns a random hex token for use as the API token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the bcrypt hash to configure as API_TOKEN_HASH. The
// empty token is refused since Verify never accepts it.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// Verifier checks bearer tokens against a single bcrypt hash. Tokens that
// verified once are remembered by digest so bcrypt runs once per token, not
// once per request.
type Verifier struct {
	hash     []byte
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewVerifier returns a Verifier for hash. An empty hash disables
// verification: every token, including none, is accepted.
func NewVerifier(hash string) *Verifier {
	return &Verifier{hash: []byte(hash), verified: make(map[[sha256.Size]byte]struct{})}
}

func (v *Verifier) Enabled() bool {
	return len(v.hash) > 0
}

func (v *Verifier) Verify(token string) error {
	if !v.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}

	digest := sha256.Sum256([]byte(token))
	v.mu.RLock()
	_, ok := v.verified[digest]
	v.mu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	v.mu.Lock()
	v.verified[digest] = struct{}{}
	v.mu.Unlock()
	return nil
}
