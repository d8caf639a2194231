package tickets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-scanning/internal/models"
	ticketdb "ms-scanning/internal/tickets/db"
)

// MockTicketDBLayer is a mock implementation of the TicketDBLayer interface
type MockTicketDBLayer struct {
	mock.Mock
}

func (m *MockTicketDBLayer) CreateTicket(ticket models.Ticket) error {
	args := m.Called(ticket)
	return args.Error(0)
}

func (m *MockTicketDBLayer) GetTicketByID(id string) (*models.Ticket, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockTicketDBLayer) GetTicketByMagicToken(token string) (*models.Ticket, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockTicketDBLayer) GetTicketsByEvent(eventID string) ([]models.Ticket, error) {
	args := m.Called(eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockTicketDBLayer) UpdateTicketStatusIf(id, newStatus string, fromStatuses ...string) (bool, error) {
	args := m.Called(id, newStatus, fromStatuses)
	return args.Bool(0), args.Error(1)
}

func TestIssueTicket(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	var created models.Ticket
	mockDB.On("CreateTicket", mock.MatchedBy(func(ticket models.Ticket) bool {
		created = ticket
		return ticket.EventID == "event-1"
	})).Return(nil)

	ticket, err := svc.IssueTicket(IssueTicketInput{
		EventID:      "event-1",
		TicketTypeID: "ga",
		BuyerName:    "Dana",
		BuyerEmail:   "dana@example.com",
	})
	require.NoError(t, err)
	mockDB.AssertExpectations(t)

	assert.NotEmpty(t, ticket.TicketID)
	assert.Equal(t, models.TicketStatusIssued, ticket.Status)
	assert.Len(t, ticket.SigningKey, 64, "signing key is 32 random bytes hex encoded")
	assert.NotEmpty(t, ticket.MagicToken)
	assert.Contains(t, ticket.Code, "TKT-")
	assert.Equal(t, created.SigningKey, ticket.SigningKey)
}

func TestIssueTicketPaidUpfront(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("CreateTicket", mock.Anything).Return(nil)

	ticket, err := svc.IssueTicket(IssueTicketInput{EventID: "event-1", Paid: true})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPaid, ticket.Status)
}

func TestIssueTicketRequiresEvent(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	_, err := svc.IssueTicket(IssueTicketInput{})
	assert.Error(t, err)
	mockDB.AssertNotCalled(t, "CreateTicket", mock.Anything)
}

func TestSummaryNeverLeaksSecrets(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("CreateTicket", mock.Anything).Return(nil)

	ticket, err := svc.IssueTicket(IssueTicketInput{EventID: "event-1", BuyerEmail: "dana@example.com"})
	require.NoError(t, err)

	summary := ticket.Summary()
	assert.Equal(t, ticket.TicketID, summary.TicketID)
	assert.Equal(t, ticket.Code, summary.Code)
	// TicketSummary has no field for the signing key, magic token or
	// contact details; this stays true by construction.
}

func TestMarkPaid(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("UpdateTicketStatusIf", "ticket-1", models.TicketStatusPaid,
		[]string{models.TicketStatusIssued, models.TicketStatusReserved}).Return(true, nil)

	err := svc.MarkPaid("ticket-1")
	assert.NoError(t, err)
	mockDB.AssertExpectations(t)
}

func TestInvalidateRefundedTicketConflicts(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("UpdateTicketStatusIf", "ticket-1", models.TicketStatusInvalid, mock.Anything).Return(false, nil)
	mockDB.On("GetTicketByID", "ticket-1").Return(&models.Ticket{
		TicketID: "ticket-1",
		Status:   models.TicketStatusRefunded,
	}, nil)

	err := svc.Invalidate("ticket-1")
	assert.ErrorIs(t, err, ErrStatusConflict, "terminal statuses cannot be overwritten")
}

func TestTransitionUnknownTicket(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("UpdateTicketStatusIf", "missing", models.TicketStatusPaid, mock.Anything).Return(false, nil)
	mockDB.On("GetTicketByID", "missing").Return(nil, ticketdb.ErrTicketNotFound)

	err := svc.MarkPaid("missing")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestGetTicketByMagicToken(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("GetTicketByMagicToken", "magic-1").Return(&models.Ticket{
		TicketID:   "ticket-1",
		EventID:    "event-1",
		Status:     models.TicketStatusPaid,
		Code:       "TKT-AAAAAA",
		BuyerName:  "Dana",
		BuyerEmail: "dana@example.com",
		SigningKey: "secret",
	}, nil)

	summary, err := svc.GetTicketByMagicToken("magic-1")
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", summary.TicketID)
	assert.Equal(t, "Dana", summary.BuyerName)
}

func TestGetTicketByMagicTokenNotFound(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("GetTicketByMagicToken", "nope").Return(nil, ticketdb.ErrTicketNotFound)

	_, err := svc.GetTicketByMagicToken("nope")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketQR(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("GetTicketByID", "ticket-1").Return(&models.Ticket{
		TicketID:   "ticket-1",
		SigningKey: "secret-key",
		Status:     models.TicketStatusPaid,
	}, nil)

	png, err := svc.TicketQR("ticket-1")
	require.NoError(t, err)
	assert.NotEmpty(t, png)
	// PNG magic bytes.
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestIssueTicketCreateFails(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := NewTicketService(mockDB, nil, nil)

	mockDB.On("CreateTicket", mock.Anything).Return(errors.New("db down"))

	_, err := svc.IssueTicket(IssueTicketInput{EventID: "event-1"})
	assert.Error(t, err)
}
