package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Compute derives the scan signature for a ticket: hex-encoded HMAC-SHA256
// of the ticket id keyed by the ticket's signing key. The issuance side
// embeds this in the QR payload; gate devices present it back on scan
// requests.
func Compute(ticketID, signingKey string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(ticketID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks a client-presented signature against the expected one in
// constant time. It never returns an error: a missing key, malformed
// signature or mismatch all come back false and the caller maps that to a
// rejection.
func Validate(ticketID, signingKey, presented string) bool {
	if ticketID == "" || signingKey == "" || presented == "" {
		return false
	}
	got, err := hex.DecodeString(presented)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(ticketID))
	return hmac.Equal(got, mac.Sum(nil))
}
