package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-scanning/internal/logger"
	"ms-scanning/internal/models"
	scandb "ms-scanning/internal/scan/db"
	"ms-scanning/internal/scan/session"
	"ms-scanning/internal/scan/signature"
	"ms-scanning/internal/utils"
)

type ScanDBLayer interface {
	GetTicketByID(id string) (*models.Ticket, error)
	UpdateTicketStatusIf(id, newStatus string, fromStatuses ...string) (bool, error)
	CreateScanLog(entry models.ScanLog) error
	GetScanLogsByTicket(ticketID string) ([]models.ScanLog, error)
	GateActive(gateID string) (bool, error)
	AgentActive(agentID string) (bool, error)
}

type SessionCache interface {
	Create(ctx context.Context, ticketID string) (*session.Session, error)
	Consume(ctx context.Context, token, nonce string) (string, error)
}

type AdmissionCounter interface {
	Increment(ctx context.Context, eventID string) (int64, error)
	Decrement(ctx context.Context, eventID string) (int64, bool, error)
	Get(ctx context.Context, eventID string) (int64, error)
}

// Notifier publishes scan events to interested services. Best effort: a
// publish failure never fails or delays a confirm.
type Notifier interface {
	PublishScanRecorded(entry models.ScanLog) error
}

// ScanService coordinates the two-phase scan protocol: request issues a
// single-use session for a signature-validated ticket, confirm consumes the
// session and applies the in/out transition exactly once.
type ScanService struct {
	DB       ScanDBLayer
	Sessions SessionCache
	Counter  AdmissionCounter
	Notifier Notifier
	Logger   *logger.Logger
}

func NewScanService(db ScanDBLayer, sessions SessionCache, counter AdmissionCounter, notifier Notifier, log *logger.Logger) *ScanService {
	return &ScanService{
		DB:       db,
		Sessions: sessions,
		Counter:  counter,
		Notifier: notifier,
		Logger:   log,
	}
}

type RequestResult struct {
	Valid        bool                  `json:"valid"`
	Code         string                `json:"code"`
	Message      string                `json:"message"`
	SessionToken string                `json:"scan_session_token,omitempty"`
	Nonce        string                `json:"scan_nonce,omitempty"`
	ExpiresIn    int                   `json:"expires_in,omitempty"`
	Ticket       *models.TicketSummary `json:"ticket,omitempty"`
}

type ConfirmInput struct {
	SessionToken string
	Nonce        string
	GateID       string
	AgentID      string
	Action       string
}

type ConfirmResult struct {
	Valid     bool                  `json:"valid"`
	Code      string                `json:"code"`
	Message   string                `json:"message"`
	Ticket    *models.TicketSummary `json:"ticket,omitempty"`
	ScanLogID string                `json:"scan_log_id,omitempty"`
}

func rejectRequest(code string) *RequestResult {
	return &RequestResult{Valid: false, Code: code, Message: Message(code)}
}

func rejectConfirm(code string) *ConfirmResult {
	return &ConfirmResult{Valid: false, Code: code, Message: Message(code)}
}

// RequestScan validates a ticket's signature and issues a scan session.
// Nothing here mutates the ticket or the counter, so the endpoint is safe
// to retry. A returned error means infrastructure failure; every protocol
// outcome is a result value.
func (s *ScanService) RequestScan(ctx context.Context, ticketID, sig string) (*RequestResult, error) {
	ticket, err := s.DB.GetTicketByID(ticketID)
	if errors.Is(err, scandb.ErrTicketNotFound) {
		return rejectRequest(CodeTicketNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket %s: %w", ticketID, err)
	}

	if !ticket.Scannable() {
		return rejectRequest(CodeTicketInvalid), nil
	}

	if !signature.Validate(ticket.TicketID, ticket.SigningKey, sig) {
		s.Logger.LogSecurity("BAD_SIGNATURE", fmt.Sprintf("rejected scan request for ticket %s", ticketID))
		return rejectRequest(CodeInvalidSignature), nil
	}

	sess, err := s.Sessions.Create(ctx, ticket.TicketID)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan session: %w", err)
	}

	summary := ticket.Summary()
	s.Logger.LogScan("REQUEST", ticket.TicketID, "scan session issued")

	return &RequestResult{
		Valid:        true,
		Code:         CodeSessionIssued,
		Message:      Message(CodeSessionIssued),
		SessionToken: sess.Token,
		Nonce:        sess.Nonce,
		ExpiresIn:    int(time.Until(sess.ExpiresAt).Round(time.Second).Seconds()),
		Ticket:       &summary,
	}, nil
}

// ConfirmScan consumes a session and applies the admission transition. The
// consume-once session plus the conditional status update together give
// per-ticket serializability: of two racing confirms for the same physical
// transition, exactly one succeeds.
//
// Every attempt, success or rejection, appends one scan log row. The row is
// written after the status/counter commit; if the append itself fails the
// admission stands and the failure is reported to operators via the error
// log.
func (s *ScanService) ConfirmScan(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	action, ok := normalizeAction(in.Action)
	if !ok {
		s.appendLog(models.ScanLog{
			GateID:  in.GateID,
			AgentID: in.AgentID,
			Action:  in.Action,
			Result:  models.ScanResultFailure,
			Reason:  CodeInvalidAction,
		})
		return rejectConfirm(CodeInvalidAction), nil
	}

	// Verify the device identity before burning the session: a confirm
	// from a misconfigured gate should not force the attendee back
	// through the request phase.
	if ok, err := s.DB.GateActive(in.GateID); err != nil {
		return nil, fmt.Errorf("failed to check gate %s: %w", in.GateID, err)
	} else if !ok {
		s.appendFailure("", "", in, action, CodeGateUnknown)
		return rejectConfirm(CodeGateUnknown), nil
	}
	if ok, err := s.DB.AgentActive(in.AgentID); err != nil {
		return nil, fmt.Errorf("failed to check agent %s: %w", in.AgentID, err)
	} else if !ok {
		s.appendFailure("", "", in, action, CodeAgentUnknown)
		return rejectConfirm(CodeAgentUnknown), nil
	}

	ticketID, err := s.Sessions.Consume(ctx, in.SessionToken, in.Nonce)
	if err != nil {
		code, known := consumeRejection(err)
		if !known {
			return nil, fmt.Errorf("failed to consume scan session: %w", err)
		}
		// ticketID is "" when the session row no longer exists.
		s.appendFailure(ticketID, "", in, action, code)
		return rejectConfirm(code), nil
	}

	// Re-fetch: the ticket can have been invalidated between request and
	// confirm.
	ticket, err := s.DB.GetTicketByID(ticketID)
	if errors.Is(err, scandb.ErrTicketNotFound) {
		s.appendFailure(ticketID, "", in, action, CodeTicketNotFound)
		return rejectConfirm(CodeTicketNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket %s: %w", ticketID, err)
	}
	if !ticket.Scannable() {
		s.appendFailure(ticket.TicketID, ticket.EventID, in, action, CodeTicketInvalid)
		return rejectConfirm(CodeTicketInvalid), nil
	}

	var rejection string
	switch action {
	case models.ScanActionIn:
		rejection, err = s.admit(ctx, ticket)
	case models.ScanActionOut:
		rejection, err = s.release(ctx, ticket)
	}
	if err != nil {
		return nil, err
	}
	if rejection != "" {
		s.appendFailure(ticket.TicketID, ticket.EventID, in, action, rejection)
		return rejectConfirm(rejection), nil
	}

	entry := models.ScanLog{
		ID:        utils.GenerateUUID(),
		TicketID:  ticket.TicketID,
		EventID:   ticket.EventID,
		GateID:    in.GateID,
		AgentID:   in.AgentID,
		Action:    action,
		Result:    models.ScanResultSuccess,
		ScannedAt: time.Now(),
	}
	s.appendLog(entry)
	s.notify(entry)

	ticket.Status = action
	summary := ticket.Summary()

	code := CodeInOK
	if action == models.ScanActionOut {
		code = CodeOutOK
	}
	s.Logger.LogScan(action, ticket.TicketID, fmt.Sprintf("confirmed at gate %s by agent %s", in.GateID, in.AgentID))

	return &ConfirmResult{
		Valid:     true,
		Code:      code,
		Message:   Message(code),
		Ticket:    &summary,
		ScanLogID: entry.ID,
	}, nil
}

// admit applies the "in" transition. Returns a rejection code, or "" on
// success.
func (s *ScanService) admit(ctx context.Context, ticket *models.Ticket) (string, error) {
	if ticket.Admitted() {
		return CodeAlreadyIn, nil
	}

	// Conditional update: only one of two racing admits flips the row.
	ok, err := s.DB.UpdateTicketStatusIf(ticket.TicketID, models.TicketStatusIn,
		models.TicketStatusPaid, models.TicketStatusIssued, models.TicketStatusOut)
	if err != nil {
		return "", fmt.Errorf("failed to admit ticket %s: %w", ticket.TicketID, err)
	}
	if !ok {
		return s.lostRace(ticket.TicketID, models.ScanActionIn)
	}

	if _, err := s.Counter.Increment(ctx, ticket.EventID); err != nil {
		s.Logger.Error("COUNTER", fmt.Sprintf("failed to increment count for event %s: %v", ticket.EventID, err))
	}
	return "", nil
}

// release applies the "out" transition. Returns a rejection code, or "" on
// success.
func (s *ScanService) release(ctx context.Context, ticket *models.Ticket) (string, error) {
	if !ticket.Admitted() {
		return CodeNotIn, nil
	}

	ok, err := s.DB.UpdateTicketStatusIf(ticket.TicketID, models.TicketStatusOut, models.TicketStatusIn)
	if err != nil {
		return "", fmt.Errorf("failed to release ticket %s: %w", ticket.TicketID, err)
	}
	if !ok {
		return s.lostRace(ticket.TicketID, models.ScanActionOut)
	}

	_, floored, err := s.Counter.Decrement(ctx, ticket.EventID)
	if err != nil {
		s.Logger.Error("COUNTER", fmt.Sprintf("failed to decrement count for event %s: %v", ticket.EventID, err))
	} else if floored {
		s.Logger.LogSecurity("COUNTER_FLOOR", fmt.Sprintf("admission count for event %s was already zero on exit of ticket %s", ticket.EventID, ticket.TicketID))
	}
	return "", nil
}

// lostRace picks the rejection code after a failed conditional update by
// re-reading the row.
func (s *ScanService) lostRace(ticketID, action string) (string, error) {
	current, err := s.DB.GetTicketByID(ticketID)
	if err != nil {
		return "", fmt.Errorf("failed to re-read ticket %s after update conflict: %w", ticketID, err)
	}
	if action == models.ScanActionIn && current.Admitted() {
		return CodeAlreadyIn, nil
	}
	if action == models.ScanActionOut && !current.Admitted() {
		return CodeNotIn, nil
	}
	return CodeTicketInvalid, nil
}

// GetOccupancy returns the number of attendees currently inside an event.
func (s *ScanService) GetOccupancy(ctx context.Context, eventID string) (int64, error) {
	return s.Counter.Get(ctx, eventID)
}

// GetScanHistory returns the audit trail for a ticket, oldest first.
func (s *ScanService) GetScanHistory(ticketID string) ([]models.ScanLog, error) {
	logs, err := s.DB.GetScanLogsByTicket(ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scan logs for ticket %s: %w", ticketID, err)
	}
	return logs, nil
}

func (s *ScanService) appendFailure(ticketID, eventID string, in ConfirmInput, action, reason string) {
	s.appendLog(models.ScanLog{
		TicketID: ticketID,
		EventID:  eventID,
		GateID:   in.GateID,
		AgentID:  in.AgentID,
		Action:   action,
		Result:   models.ScanResultFailure,
		Reason:   reason,
	})
}

func (s *ScanService) appendLog(entry models.ScanLog) {
	if entry.ID == "" {
		entry.ID = utils.GenerateUUID()
	}
	if entry.ScannedAt.IsZero() {
		entry.ScannedAt = time.Now()
	}
	if err := s.DB.CreateScanLog(entry); err != nil {
		s.Logger.Error("SCANLOG", fmt.Sprintf("failed to append scan log for ticket %s: %v", entry.TicketID, err))
	}
}

func (s *ScanService) notify(entry models.ScanLog) {
	if s.Notifier == nil {
		return
	}
	go func() {
		if err := s.Notifier.PublishScanRecorded(entry); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish scan event for ticket %s: %v", entry.TicketID, err))
		}
	}()
}

func normalizeAction(action string) (string, bool) {
	switch action {
	case models.ScanActionIn, "entry":
		return models.ScanActionIn, true
	case models.ScanActionOut, "exit":
		return models.ScanActionOut, true
	default:
		return "", false
	}
}

func consumeRejection(err error) (string, bool) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound, true
	case errors.Is(err, session.ErrSessionExpired):
		return CodeSessionExpired, true
	case errors.Is(err, session.ErrNonceMismatch):
		return CodeNonceMismatch, true
	case errors.Is(err, session.ErrAlreadyConsumed):
		return CodeAlreadyConsumed, true
	default:
		return "", false
	}
}
