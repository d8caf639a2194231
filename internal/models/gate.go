package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Gate is a physical or logical access point where scans happen.
type Gate struct {
	bun.BaseModel `bun:"table:gates"`

	ID        string    `bun:"id,pk" json:"id"`
	EventID   string    `bun:"event_id,notnull" json:"event_id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Active    bool      `bun:"active,notnull" json:"active"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Agent is a staff member operating a gate device.
type Agent struct {
	bun.BaseModel `bun:"table:agents"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Active    bool      `bun:"active,notnull" json:"active"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}
