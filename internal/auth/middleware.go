package auth

import (
	"context"
	"net/http"
)

type contextKey string

const agentIDKey contextKey = "agent_id"

// Middleware authenticates gate devices: it extracts the Bearer token,
// resolves the agent id from its 'sub' claim and stores it in the request
// context. Handlers downstream read it with AgentID.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, "authorization required: "+err.Error(), http.StatusUnauthorized)
				return
			}

			agentID, err := ExtractAgentIDFromJWT(tokenString, secret)
			if err != nil {
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), agentIDKey, agentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentID returns the authenticated agent id from the request context, or
// "" when the request did not pass through the middleware.
func AgentID(ctx context.Context) string {
	if id, ok := ctx.Value(agentIDKey).(string); ok {
		return id
	}
	return ""
}
