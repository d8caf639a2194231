package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-scanning/internal/logger"
	"ms-scanning/internal/tickets"
	"ms-scanning/internal/utils"
)

type Handler struct {
	TicketService *tickets.TicketService
	Logger        *logger.Logger
}

func NewHandler(ticketService *tickets.TicketService, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

// IssueTicket handles POST /tickets.
func (h *Handler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	var input tickets.IssueTicketInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := h.TicketService.IssueTicket(input)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ticket issuance failed: %v", err))
		http.Error(w, "failed to issue ticket", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("ticket issued", ticket.Summary()))
}

// GetTicket handles GET /tickets/{ticketID}.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	ticket, err := h.TicketService.GetTicket(ticketID)
	if errors.Is(err, tickets.ErrTicketNotFound) {
		http.Error(w, "ticket not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ticket lookup failed for %s: %v", ticketID, err))
		http.Error(w, "failed to load ticket", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("ticket found", ticket.Summary()))
}

// GetTicketQR handles GET /tickets/{ticketID}/qr and responds with a PNG.
func (h *Handler) GetTicketQR(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")

	png, err := h.TicketService.TicketQR(ticketID)
	if errors.Is(err, tickets.ErrTicketNotFound) {
		http.Error(w, "ticket not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("QR render failed for %s: %v", ticketID, err))
		http.Error(w, "failed to render QR", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// MarkPaid handles POST /tickets/{ticketID}/paid.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, h.TicketService.MarkPaid, "ticket marked paid")
}

// Invalidate handles POST /tickets/{ticketID}/invalidate.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, h.TicketService.Invalidate, "ticket invalidated")
}

// Refund handles POST /tickets/{ticketID}/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, h.TicketService.Refund, "ticket refunded")
}

func (h *Handler) adminTransition(w http.ResponseWriter, r *http.Request, op func(string) error, message string) {
	ticketID := chi.URLParam(r, "ticketID")

	err := op(ticketID)
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		http.Error(w, "ticket not found", http.StatusNotFound)
	case errors.Is(err, tickets.ErrStatusConflict):
		writeJSON(w, http.StatusConflict, utils.ErrorResponse(message+" rejected", "ticket status does not allow this transition"))
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("status transition failed for %s: %v", ticketID, err))
		http.Error(w, "failed to update ticket", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, utils.SuccessResponse(message, nil))
	}
}

// GetTicketByMagicToken handles GET /tickets/magic/{token}: the
// unauthenticated public view behind a magic link.
func (h *Handler) GetTicketByMagicToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	summary, err := h.TicketService.GetTicketByMagicToken(token)
	if errors.Is(err, tickets.ErrTicketNotFound) {
		http.Error(w, "ticket not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("magic link lookup failed: %v", err))
		http.Error(w, "failed to load ticket", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("ticket found", summary))
}

// ListEventTickets handles GET /events/{eventID}/tickets.
func (h *Handler) ListEventTickets(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	eventTickets, err := h.TicketService.GetTicketsByEvent(eventID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ticket listing failed for event %s: %v", eventID, err))
		http.Error(w, "failed to list tickets", http.StatusInternalServerError)
		return
	}

	summaries := make([]interface{}, 0, len(eventTickets))
	for _, t := range eventTickets {
		summaries = append(summaries, t.Summary())
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("tickets found", summaries))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
