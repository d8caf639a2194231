package qr

import (
	"encoding/json"

	"github.com/skip2/go-qrcode"

	"ms-scanning/internal/scan/signature"
)

// Payload is what a ticket's QR code carries: the ticket id plus the
// HMAC signature derived from the ticket's signing key. The key itself
// never appears in the QR; a gate device presents exactly these two fields
// on a scan request.
type Payload struct {
	TicketID  string `json:"ticket_id"`
	Signature string `json:"signature"`
}

// Encode renders the scan payload for a ticket as a QR PNG.
func Encode(ticketID, signingKey string) ([]byte, error) {
	payload := Payload{
		TicketID:  ticketID,
		Signature: signature.Compute(ticketID, signingKey),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(string(data), qrcode.Medium, 256)
}

// DecodePayload parses the JSON a gate device reads out of a QR code.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}
