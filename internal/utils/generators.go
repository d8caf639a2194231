package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// GenerateSessionToken returns a 32-byte random hex token used to key a
// scan session.
func GenerateSessionToken() (string, error) {
	return randomHex(32)
}

// GenerateNonce returns the 16-byte random hex nonce paired with a session
// token. The nonce is single-use.
func GenerateNonce() (string, error) {
	return randomHex(16)
}

// GenerateSigningKey returns the per-ticket secret used to derive scan
// signatures. It is generated once at issuance and never leaves the server.
func GenerateSigningKey() (string, error) {
	return randomHex(32)
}

// GenerateMagicToken returns the token behind a ticket's magic link.
func GenerateMagicToken() (string, error) {
	return randomHex(24)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateTicketCode returns a short human-presentable ticket code,
// e.g. "TKT-4F7Q2M". Not unique by construction; the tickets table carries
// a uniqueness constraint, so a collision surfaces as an insert error.
func GenerateTicketCode() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			n = big.NewInt(int64(i))
		}
		code[i] = alphabet[n.Int64()]
	}
	return fmt.Sprintf("TKT-%s", code)
}

// GenerateUUID creates a random UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}
