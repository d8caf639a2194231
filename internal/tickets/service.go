package tickets

import (
	"errors"
	"fmt"
	"time"

	"ms-scanning/internal/logger"
	"ms-scanning/internal/models"
	ticketdb "ms-scanning/internal/tickets/db"
	"ms-scanning/internal/tickets/qr"
	"ms-scanning/internal/utils"
)

var ErrTicketNotFound = errors.New("ticket not found")

// ErrStatusConflict is returned when an administrative transition is not
// allowed from the ticket's current status, e.g. refunding an already
// invalidated ticket.
var ErrStatusConflict = errors.New("ticket status conflict")

type TicketDBLayer interface {
	CreateTicket(ticket models.Ticket) error
	GetTicketByID(id string) (*models.Ticket, error)
	GetTicketByMagicToken(token string) (*models.Ticket, error)
	GetTicketsByEvent(eventID string) ([]models.Ticket, error)
	UpdateTicketStatusIf(id, newStatus string, fromStatuses ...string) (bool, error)
}

// Notifier publishes ticket lifecycle events; best effort.
type Notifier interface {
	PublishTicketIssued(ticket models.Ticket) error
}

type TicketService struct {
	DB       TicketDBLayer
	Notifier Notifier
	Logger   *logger.Logger
}

func NewTicketService(db TicketDBLayer, notifier Notifier, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, Notifier: notifier, Logger: log}
}

type IssueTicketInput struct {
	EventID      string `json:"event_id"`
	TicketTypeID string `json:"ticket_type_id"`
	BuyerName    string `json:"buyer_name"`
	BuyerEmail   string `json:"buyer_email"`
	BuyerPhone   string `json:"buyer_phone"`
	Paid         bool   `json:"paid"`
}

// IssueTicket creates a ticket with a fresh id, human code, signing key and
// magic-link token. The signing key is generated here and only ever read
// back server-side to derive scan signatures.
func (s *TicketService) IssueTicket(in IssueTicketInput) (*models.Ticket, error) {
	if in.EventID == "" {
		return nil, errors.New("event_id is required")
	}

	signingKey, err := utils.GenerateSigningKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	magicToken, err := utils.GenerateMagicToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate magic token: %w", err)
	}

	status := models.TicketStatusIssued
	if in.Paid {
		status = models.TicketStatusPaid
	}

	ticket := models.Ticket{
		TicketID:     utils.GenerateUUID(),
		EventID:      in.EventID,
		TicketTypeID: in.TicketTypeID,
		Status:       status,
		Code:         utils.GenerateTicketCode(),
		BuyerName:    in.BuyerName,
		BuyerEmail:   in.BuyerEmail,
		BuyerPhone:   in.BuyerPhone,
		SigningKey:   signingKey,
		MagicToken:   magicToken,
		IssuedAt:     time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.DB.CreateTicket(ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.Logger.LogScan("ISSUE", ticket.TicketID, fmt.Sprintf("issued for event %s with code %s", ticket.EventID, ticket.Code))

	if s.Notifier != nil {
		go func() {
			if err := s.Notifier.PublishTicketIssued(ticket); err != nil {
				s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish ticket issued event for %s: %v", ticket.TicketID, err))
			}
		}()
	}

	return &ticket, nil
}

func (s *TicketService) GetTicket(ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ticketID)
	if errors.Is(err, ticketdb.ErrTicketNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket %s: %w", ticketID, err)
	}
	return ticket, nil
}

// GetTicketByMagicToken resolves a magic link to the ticket's public
// summary.
func (s *TicketService) GetTicketByMagicToken(token string) (*models.TicketSummary, error) {
	ticket, err := s.DB.GetTicketByMagicToken(token)
	if errors.Is(err, ticketdb.ErrTicketNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve magic token: %w", err)
	}
	summary := ticket.Summary()
	return &summary, nil
}

func (s *TicketService) GetTicketsByEvent(eventID string) ([]models.Ticket, error) {
	tickets, err := s.DB.GetTicketsByEvent(eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for event %s: %w", eventID, err)
	}
	return tickets, nil
}

// MarkPaid flips an issued or reserved ticket to paid.
func (s *TicketService) MarkPaid(ticketID string) error {
	return s.transition(ticketID, models.TicketStatusPaid,
		models.TicketStatusIssued, models.TicketStatusReserved)
}

// Invalidate terminally voids a ticket. An attendee currently inside keeps
// a consistent audit trail: the scan log still shows the last entry.
func (s *TicketService) Invalidate(ticketID string) error {
	return s.transition(ticketID, models.TicketStatusInvalid,
		models.TicketStatusIssued, models.TicketStatusReserved, models.TicketStatusPaid,
		models.TicketStatusIn, models.TicketStatusOut)
}

// Refund terminally refunds a ticket.
func (s *TicketService) Refund(ticketID string) error {
	return s.transition(ticketID, models.TicketStatusRefunded,
		models.TicketStatusIssued, models.TicketStatusReserved, models.TicketStatusPaid,
		models.TicketStatusIn, models.TicketStatusOut)
}

func (s *TicketService) transition(ticketID, newStatus string, from ...string) error {
	ok, err := s.DB.UpdateTicketStatusIf(ticketID, newStatus, from...)
	if err != nil {
		return fmt.Errorf("failed to update ticket %s: %w", ticketID, err)
	}
	if !ok {
		if _, err := s.GetTicket(ticketID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	s.Logger.LogScan("STATUS", ticketID, fmt.Sprintf("moved to %s", newStatus))
	return nil
}

// TicketQR renders the scan QR PNG for a ticket.
func (s *TicketService) TicketQR(ticketID string) ([]byte, error) {
	ticket, err := s.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	png, err := qr.Encode(ticket.TicketID, ticket.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR for ticket %s: %w", ticketID, err)
	}
	return png, nil
}
