package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/samber/oops"
)

// VerificationTokenBytes is the entropy of a verification or reset token;
// hex encoding doubles it to 64 URL-safe characters.
const VerificationTokenBytes = 32

type TokenGenerator struct {
	entropy io.Reader
}

func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{entropy: rand.Reader}
}

// Generate returns an opaque token for delivery and the digest to persist.
func (g *TokenGenerator) Generate() (token string, digest string, err error) {
	raw := make([]byte, VerificationTokenBytes)
	if _, err := io.ReadFull(g.entropy, raw); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(raw)
	return token, Digest(token), nil
}

// Digest is the lookup key stored in place of a delivered token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
