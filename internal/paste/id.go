package paste

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IDAlphabet is base58 without the look-alike characters 0, O, I and l.
const IDAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ123456789"

// IDLength is the number of characters in a paste id.
const IDLength = 10

// rejectAbove keeps byte -> alphabet mapping uniform: 232 = 4*58.
const rejectAbove = 256 - 256%len(IDAlphabet)

// NewID returns a random paste id derived from the SHA-224 digest of a fresh UUID.
func NewID() string {
	out := make([]byte, 0, IDLength)
	seed := uuid.New()
	digest := sha256.Sum224(seed[:])
	for len(out) < IDLength {
		for _, b := range digest {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, IDAlphabet[int(b)%len(IDAlphabet)])
			if len(out) == IDLength {
				break
			}
		}
		digest = sha256.Sum224(digest[:])
	}
	return string(out)
}

// ValidID reports whether s has the shape of a paste id.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(IDAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// Signer issues and verifies delete tokens: HMAC-SHA256 of the paste id.
type Signer struct {
	secret []byte
}

// NewSigner returns a signer for secret. An empty secret is replaced by random bytes,
// so tokens stop validating after a restart.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	return &Signer{secret: append([]byte(nil), secret...)}, nil
}

const tokenLength = 22

// Token returns the delete token for id.
func (s *Signer) Token(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:tokenLength]
}

// Valid reports whether token belongs to id.
func (s *Signer) Valid(id, token string) bool {
	if len(token) != tokenLength {
		return false
	}
	return hmac.Equal([]byte(s.Token(id)), []byte(token))
}
