package scan

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-scanning/internal/models"
	"ms-scanning/internal/scan/counter"
	scandb "ms-scanning/internal/scan/db"
	"ms-scanning/internal/scan/session"
	"ms-scanning/internal/scan/signature"
)

// fakeScanDB is a mutex-protected in-memory ScanDBLayer. The conditional
// status update has the same winner-takes-all semantics as the SQL UPDATE,
// which the concurrency tests depend on.
type fakeScanDB struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket
	logs    []models.ScanLog
	gates   map[string]bool
	agents  map[string]bool
}

func newFakeScanDB() *fakeScanDB {
	return &fakeScanDB{
		tickets: make(map[string]*models.Ticket),
		gates:   map[string]bool{"gate-a": true},
		agents:  map[string]bool{"agent-a": true},
	}
}

func (f *fakeScanDB) addTicket(t models.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := t
	f.tickets[t.TicketID] = &copied
}

func (f *fakeScanDB) GetTicketByID(id string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, scandb.ErrTicketNotFound
	}
	copied := *t
	return &copied, nil
}

func (f *fakeScanDB) UpdateTicketStatusIf(id, newStatus string, fromStatuses ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return false, nil
	}
	for _, from := range fromStatuses {
		if t.Status == from {
			t.Status = newStatus
			t.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeScanDB) CreateScanLog(entry models.ScanLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeScanDB) GetScanLogsByTicket(ticketID string) ([]models.ScanLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ScanLog
	for _, l := range f.logs {
		if l.TicketID == ticketID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeScanDB) GateActive(gateID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gates[gateID], nil
}

func (f *fakeScanDB) AgentActive(agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[agentID], nil
}

func (f *fakeScanDB) logCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

func (f *fakeScanDB) lastLog() models.ScanLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[len(f.logs)-1]
}

type captureNotifier struct {
	mu      sync.Mutex
	entries []models.ScanLog
}

func (c *captureNotifier) PublishScanRecorded(entry models.ScanLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func setupScanService(t *testing.T) (*ScanService, *fakeScanDB, *session.Cache, *redis.Client) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newFakeScanDB()
	cache := session.NewCache(client, 90*time.Second, 5*time.Minute)
	svc := NewScanService(db, cache, counter.NewCounter(client), &captureNotifier{}, nil)
	return svc, db, cache, client
}

func paidTicket(id string) models.Ticket {
	return models.Ticket{
		TicketID:   id,
		EventID:    "event-1",
		Status:     models.TicketStatusPaid,
		Code:       "TKT-TEST01",
		SigningKey: "signing-key-" + id,
		IssuedAt:   time.Now(),
	}
}

func validSig(t models.Ticket) string {
	return signature.Compute(t.TicketID, t.SigningKey)
}

func TestRequestScanUnknownTicket(t *testing.T) {
	svc, _, _, _ := setupScanService(t)

	res, err := svc.RequestScan(context.Background(), "no-such-ticket", "sig")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeTicketNotFound, res.Code)
}

func TestRequestScanRejectsTerminalStatuses(t *testing.T) {
	svc, db, _, _ := setupScanService(t)

	for _, status := range []string{models.TicketStatusInvalid, models.TicketStatusRefunded} {
		ticket := paidTicket("ticket-" + status)
		ticket.Status = status
		db.addTicket(ticket)

		// Even a valid signature must not get a session.
		res, err := svc.RequestScan(context.Background(), ticket.TicketID, validSig(ticket))
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, CodeTicketInvalid, res.Code)
		assert.Empty(t, res.SessionToken)
	}
}

func TestRequestScanRejectsBadSignature(t *testing.T) {
	svc, db, cache, _ := setupScanService(t)

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	res, err := svc.RequestScan(context.Background(), "ticket-1", "deadbeef")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeInvalidSignature, res.Code)

	// No session may be created on rejection.
	live, err := cache.LiveToken(context.Background(), "ticket-1")
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestRequestScanIssuesSession(t *testing.T) {
	svc, db, _, _ := setupScanService(t)

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	res, err := svc.RequestScan(context.Background(), "ticket-1", validSig(ticket))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, CodeSessionIssued, res.Code)
	assert.NotEmpty(t, res.SessionToken)
	assert.NotEmpty(t, res.Nonce)
	assert.Greater(t, res.ExpiresIn, 0)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, models.TicketStatusPaid, res.Ticket.Status)
}

// Full protocol walk: request, enter, replayed confirm, new request, exit.
func TestScanLifecycle(t *testing.T) {
	svc, db, _, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)
	require.True(t, req.Valid)

	confirm, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "entry",
	})
	require.NoError(t, err)
	assert.True(t, confirm.Valid)
	assert.Equal(t, CodeInOK, confirm.Code)
	assert.Equal(t, models.TicketStatusIn, confirm.Ticket.Status)
	assert.NotEmpty(t, confirm.ScanLogID)

	count, err := svc.GetOccupancy(ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Replaying the consumed session must fail.
	replay, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.False(t, replay.Valid)
	assert.Equal(t, CodeAlreadyConsumed, replay.Code)

	// Fresh request for the exit.
	req2, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)
	require.True(t, req2.Valid)

	exit, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req2.SessionToken,
		Nonce:        req2.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "exit",
	})
	require.NoError(t, err)
	assert.True(t, exit.Valid)
	assert.Equal(t, CodeOutOK, exit.Code)
	assert.Equal(t, models.TicketStatusOut, exit.Ticket.Status)

	count, err = svc.GetOccupancy(ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Every confirm attempt leaves an audit row, replay failures included.
	history, err := svc.GetScanHistory("ticket-1")
	require.NoError(t, err)
	assert.Len(t, history, 3) // in, replay failure, out
	assert.Equal(t, models.ScanResultSuccess, history[0].Result)
	assert.Equal(t, models.ScanResultFailure, history[1].Result)
	assert.Equal(t, CodeAlreadyConsumed, history[1].Reason)
	assert.Equal(t, models.ScanResultSuccess, history[2].Result)
}

func TestConfirmAlreadyInLeavesStateUntouched(t *testing.T) {
	svc, db, _, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	ticket.Status = models.TicketStatusIn
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	res, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeAlreadyIn, res.Code)

	current, err := db.GetTicketByID("ticket-1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusIn, current.Status, "ticket status unchanged")

	count, err := svc.GetOccupancy(ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "counter unchanged")

	last := db.lastLog()
	assert.Equal(t, models.ScanResultFailure, last.Result)
	assert.Equal(t, CodeAlreadyIn, last.Reason)
}

func TestConfirmOutWhenOutsideRejectsNotIn(t *testing.T) {
	svc, db, _, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	res, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "out",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeNotIn, res.Code)
}

func TestConfirmExpiredSession(t *testing.T) {
	svc, db, _, client := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	past := strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10)
	require.NoError(t, client.HSet(ctx, "scan_session:"+req.SessionToken, "expires_at", past).Err())

	res, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeSessionExpired, res.Code)

	current, err := db.GetTicketByID("ticket-1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPaid, current.Status)
}

func TestConfirmTicketInvalidatedBetweenRequestAndConfirm(t *testing.T) {
	svc, db, _, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	// Refund lands while the gate agent hesitates.
	db.mu.Lock()
	db.tickets["ticket-1"].Status = models.TicketStatusRefunded
	db.mu.Unlock()

	res, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeTicketInvalid, res.Code)
}

func TestConfirmUnknownGateDoesNotConsumeSession(t *testing.T) {
	svc, db, _, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	res, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-bogus",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeGateUnknown, res.Code)

	// The session survives for a retry from a valid gate.
	retry, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.True(t, retry.Valid)
}

func TestConfirmUnknownAgent(t *testing.T) {
	svc, db, _, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	res, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-bogus",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.Equal(t, CodeAgentUnknown, res.Code)
}

func TestConfirmInvalidAction(t *testing.T) {
	svc, db, _, _ := setupScanService(t)

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	res, err := svc.ConfirmScan(context.Background(), ConfirmInput{
		SessionToken: "whatever",
		Nonce:        "whatever",
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "sideways",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, CodeInvalidAction, res.Code)
}

func TestConcurrentConfirmsSameSessionOneWinner(t *testing.T) {
	svc, db, _, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	results := make(chan *ConfirmResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ConfirmScan(ctx, ConfirmInput{
				SessionToken: req.SessionToken,
				Nonce:        req.Nonce,
				GateID:       "gate-a",
				AgentID:      "agent-a",
				Action:       "in",
			})
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejected int
	for res := range results {
		if res.Valid {
			successes++
		} else {
			rejected++
			assert.Equal(t, CodeAlreadyConsumed, res.Code)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, rejected)

	count, err := svc.GetOccupancy(ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "counter incremented exactly once")
}

// Two distinct sessions attempting the same physical entry: the second
// confirm must see ALREADY_IN, never a double count.
func TestRacingSessionsNeverDoubleAdmit(t *testing.T) {
	svc, db, cache, _ := setupScanService(t)
	ctx := context.Background()

	ticket := paidTicket("ticket-1")
	db.addTicket(ticket)

	sess, err := cache.Create(ctx, "ticket-1")
	require.NoError(t, err)

	res1, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: sess.Token,
		Nonce:        sess.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.True(t, res1.Valid)

	req, err := svc.RequestScan(ctx, "ticket-1", validSig(ticket))
	require.NoError(t, err)

	res2, err := svc.ConfirmScan(ctx, ConfirmInput{
		SessionToken: req.SessionToken,
		Nonce:        req.Nonce,
		GateID:       "gate-a",
		AgentID:      "agent-a",
		Action:       "in",
	})
	require.NoError(t, err)
	assert.False(t, res2.Valid)
	assert.Equal(t, CodeAlreadyIn, res2.Code)

	count, err := svc.GetOccupancy(ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
