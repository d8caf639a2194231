package scan

// Stable result codes surfaced to gate devices. Gate UIs key their
// success/failure screens off these, so they are part of the wire contract
// and must not be renamed.
const (
	CodeSessionIssued = "SESSION_ISSUED"
	CodeInOK          = "IN_OK"
	CodeOutOK         = "OUT_OK"

	CodeTicketNotFound   = "TICKET_NOT_FOUND"
	CodeTicketInvalid    = "TICKET_INVALID"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeNonceMismatch    = "NONCE_MISMATCH"
	CodeAlreadyConsumed  = "ALREADY_CONSUMED"
	CodeAlreadyIn        = "ALREADY_IN"
	CodeNotIn            = "NOT_IN"
	CodeInvalidAction    = "INVALID_ACTION"
	CodeGateUnknown      = "GATE_UNKNOWN"
	CodeAgentUnknown     = "AGENT_UNKNOWN"

	// CodeUnavailable marks infrastructure failure, not a protocol
	// outcome. The request endpoint may be retried as-is; confirm must
	// restart from a fresh request.
	CodeUnavailable = "UNAVAILABLE"
)

var codeMessages = map[string]string{
	CodeSessionIssued:    "scan session issued",
	CodeInOK:             "entry recorded",
	CodeOutOK:            "exit recorded",
	CodeTicketNotFound:   "ticket not found",
	CodeTicketInvalid:    "ticket is not valid for admission",
	CodeInvalidSignature: "ticket signature is invalid",
	CodeSessionNotFound:  "scan session not found",
	CodeSessionExpired:   "scan session expired, request a new scan",
	CodeNonceMismatch:    "scan nonce does not match",
	CodeAlreadyConsumed:  "scan session already used",
	CodeAlreadyIn:        "attendee is already inside",
	CodeNotIn:            "attendee is not inside",
	CodeInvalidAction:    "action must be in, out, entry or exit",
	CodeGateUnknown:      "gate is unknown or inactive",
	CodeAgentUnknown:     "agent is unknown or inactive",
	CodeUnavailable:      "scan service temporarily unavailable",
}

// Message returns the human-readable text for a result code.
func Message(code string) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return code
}
