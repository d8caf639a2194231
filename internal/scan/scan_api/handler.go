package scan_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-scanning/internal/auth"
	"ms-scanning/internal/logger"
	"ms-scanning/internal/models"
	"ms-scanning/internal/scan"
)

// Handler exposes the two-phase scan protocol over HTTP. Protocol outcomes
// (rejections included) are 200 responses with the valid/code fields; only
// infrastructure failures map to 503.
type Handler struct {
	ScanService *scan.ScanService
	Logger      *logger.Logger
}

func NewHandler(scanService *scan.ScanService, log *logger.Logger) *Handler {
	return &Handler{ScanService: scanService, Logger: log}
}

type requestScanBody struct {
	TicketID  string `json:"ticket_id"`
	Signature string `json:"signature"`
}

// RequestScan handles POST /scan/request.
func (h *Handler) RequestScan(w http.ResponseWriter, r *http.Request) {
	var body requestScanBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.TicketID == "" || body.Signature == "" {
		http.Error(w, "ticket_id and signature are required", http.StatusBadRequest)
		return
	}

	result, err := h.ScanService.RequestScan(r.Context(), body.TicketID, body.Signature)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("scan request failed for ticket %s: %v", body.TicketID, err))
		h.writeUnavailable(w)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type confirmScanBody struct {
	SessionToken string `json:"scan_session_token"`
	Nonce        string `json:"scan_nonce"`
	GateID       string `json:"gate_id"`
	AgentID      string `json:"agent_id"`
	Action       string `json:"action"`
}

// ConfirmScan handles POST /scan/confirm. The agent identity comes from
// the Bearer token; a body agent_id is allowed but must match it.
func (h *Handler) ConfirmScan(w http.ResponseWriter, r *http.Request) {
	var body confirmScanBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.SessionToken == "" || body.Nonce == "" || body.GateID == "" || body.Action == "" {
		http.Error(w, "scan_session_token, scan_nonce, gate_id and action are required", http.StatusBadRequest)
		return
	}

	agentID := auth.AgentID(r.Context())
	if agentID == "" {
		agentID = body.AgentID
	}
	if agentID == "" {
		http.Error(w, "agent identity is required", http.StatusUnauthorized)
		return
	}
	if body.AgentID != "" && body.AgentID != agentID {
		h.Logger.LogSecurity("AGENT_MISMATCH", fmt.Sprintf("token agent %s does not match body agent %s", agentID, body.AgentID))
		http.Error(w, "agent_id does not match authenticated agent", http.StatusForbidden)
		return
	}

	result, err := h.ScanService.ConfirmScan(r.Context(), scan.ConfirmInput{
		SessionToken: body.SessionToken,
		Nonce:        body.Nonce,
		GateID:       body.GateID,
		AgentID:      agentID,
		Action:       body.Action,
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("scan confirm failed: %v", err))
		h.writeUnavailable(w)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetOccupancy handles GET /scan/occupancy/{eventID}.
func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "eventID is required", http.StatusBadRequest)
		return
	}

	count, err := h.ScanService.GetOccupancy(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("occupancy lookup failed for event %s: %v", eventID, err))
		h.writeUnavailable(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": eventID,
		"inside":   count,
	})
}

// GetScanHistory handles GET /scan/log/{ticketID}.
func (h *Handler) GetScanHistory(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	if ticketID == "" {
		http.Error(w, "ticketID is required", http.StatusBadRequest)
		return
	}

	logs, err := h.ScanService.GetScanHistory(ticketID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("scan history lookup failed for ticket %s: %v", ticketID, err))
		h.writeUnavailable(w)
		return
	}
	if logs == nil {
		logs = []models.ScanLog{}
	}

	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) writeUnavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"valid":   false,
		"code":    scan.CodeUnavailable,
		"message": scan.Message(scan.CodeUnavailable),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
