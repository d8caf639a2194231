package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket lifecycle statuses. A ticket enters the admission cycle once it is
// paid (or directly issued) and bounces between "in" and "out" on confirmed
// scans. "invalid" and "refunded" are terminal.
const (
	TicketStatusIssued   = "issued"
	TicketStatusPaid     = "paid"
	TicketStatusIn       = "in"
	TicketStatusOut      = "out"
	TicketStatusReserved = "reserved"
	TicketStatusInvalid  = "invalid"
	TicketStatusRefunded = "refunded"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID     string    `bun:"ticket_id,pk" json:"ticket_id"`
	EventID      string    `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID string    `bun:"ticket_type_id" json:"ticket_type_id"`
	Status       string    `bun:"status,notnull" json:"status"`
	Code         string    `bun:"code,notnull" json:"code"`
	BuyerName    string    `bun:"buyer_name" json:"buyer_name"`
	BuyerEmail   string    `bun:"buyer_email" json:"-"`
	BuyerPhone   string    `bun:"buyer_phone" json:"-"`
	SigningKey   string    `bun:"signing_key,notnull" json:"-"`
	MagicToken   string    `bun:"magic_token,notnull" json:"-"`
	IssuedAt     time.Time `bun:"issued_at,notnull" json:"issued_at"`
	UpdatedAt    time.Time `bun:"updated_at" json:"updated_at"`
}

// Scannable reports whether the ticket can still take part in the admission
// cycle at all.
func (t *Ticket) Scannable() bool {
	return t.Status != TicketStatusInvalid && t.Status != TicketStatusRefunded
}

// Admitted reports whether the attendee is currently inside.
func (t *Ticket) Admitted() bool {
	return t.Status == TicketStatusIn
}

// TicketSummary is the client-facing view of a ticket. It never carries the
// signing key, the magic token or buyer contact details.
type TicketSummary struct {
	TicketID  string `json:"ticket_id"`
	EventID   string `json:"event_id"`
	Status    string `json:"status"`
	Code      string `json:"code"`
	BuyerName string `json:"buyer_name,omitempty"`
}

func (t *Ticket) Summary() TicketSummary {
	return TicketSummary{
		TicketID:  t.TicketID,
		EventID:   t.EventID,
		Status:    t.Status,
		Code:      t.Code,
		BuyerName: t.BuyerName,
	}
}
