package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-scanning/internal/models"
)

var ErrTicketNotFound = errors.New("ticket not found")

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetTicketByID(id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", id).
		Limit(1).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicketStatusIf moves a ticket to newStatus only while its current
// status is one of fromStatuses, in a single conditional UPDATE. The false
// return means another scan won the race (or the ticket moved to a terminal
// status in between); the caller must re-read and reject.
func (d *DB) UpdateTicketStatusIf(id, newStatus string, fromStatuses ...string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", newStatus).
		Set("updated_at = ?", time.Now()).
		Where("ticket_id = ?", id).
		Where("status IN (?)", bun.In(fromStatuses)).
		Exec(context.Background())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (d *DB) CreateScanLog(entry models.ScanLog) error {
	_, err := d.Bun.NewInsert().Model(&entry).Exec(context.Background())
	return err
}

func (d *DB) GetScanLogsByTicket(ticketID string) ([]models.ScanLog, error) {
	var logs []models.ScanLog
	err := d.Bun.NewSelect().
		Model(&logs).
		Where("ticket_id = ?", ticketID).
		Order("scanned_at ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// GateActive checks that the gate exists and is active.
func (d *DB) GateActive(gateID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Gate)(nil)).
		Where("id = ?", gateID).
		Where("active = ?", true).
		Exists(context.Background())
}

// AgentActive checks that the agent exists and is active.
func (d *DB) AgentActive(agentID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Agent)(nil)).
		Where("id = ?", agentID).
		Where("active = ?", true).
		Exists(context.Background())
}
