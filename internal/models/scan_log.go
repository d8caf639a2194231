package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Scan actions after normalization. The API also accepts "entry"/"exit"
// which map onto these.
const (
	ScanActionIn  = "in"
	ScanActionOut = "out"
)

const (
	ScanResultSuccess = "success"
	ScanResultFailure = "failure"
)

// ScanLog is one append-only audit row per confirm attempt, whether the
// attempt succeeded or was rejected.
type ScanLog struct {
	bun.BaseModel `bun:"table:scan_logs"`

	ID        string    `bun:"id,pk" json:"id"`
	TicketID  string    `bun:"ticket_id" json:"ticket_id"`
	EventID   string    `bun:"event_id" json:"event_id"`
	GateID    string    `bun:"gate_id" json:"gate_id"`
	AgentID   string    `bun:"agent_id" json:"agent_id"`
	Action    string    `bun:"action,notnull" json:"action"`
	Result    string    `bun:"result,notnull" json:"result"`
	Reason    string    `bun:"reason" json:"reason,omitempty"`
	ScannedAt time.Time `bun:"scanned_at,notnull" json:"scanned_at"`
}
