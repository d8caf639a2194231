package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-scanning/internal/utils"
)

// Typed consume rejections. The orchestrator maps these onto the stable
// rejection codes returned to gate devices.
var (
	ErrSessionNotFound = errors.New("scan session not found")
	ErrSessionExpired  = errors.New("scan session expired")
	ErrNonceMismatch   = errors.New("scan nonce mismatch")
	ErrAlreadyConsumed = errors.New("scan session already consumed")
)

// Session is the short-lived credential binding one validated scan request
// to one ticket.
type Session struct {
	Token     string
	Nonce     string
	TicketID  string
	ExpiresAt time.Time
}

// Cache stores scan sessions in Redis. A session lives under
// scan_session:{token} as a hash; scan_session_ticket:{ticketID} points at
// the ticket's current live token so a new request can invalidate the old
// session. Entries stay in Redis for TTL+grace past creation so a late
// confirm is told "expired" rather than "not found"; after the grace they
// are evicted by Redis.
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
	Grace  time.Duration
}

func NewCache(client *redis.Client, ttl, grace time.Duration) *Cache {
	return &Cache{Client: client, TTL: ttl, Grace: grace}
}

func sessionKey(token string) string {
	return "scan_session:" + token
}

func ticketKey(ticketID string) string {
	return "scan_session_ticket:" + ticketID
}

// Create issues a fresh session for the ticket. Any prior unconsumed session
// for the same ticket is invalidated first: at most one live session per
// ticket.
func (c *Cache) Create(ctx context.Context, ticketID string) (*Session, error) {
	token, err := utils.GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	nonce, err := utils.GenerateNonce()
	if err != nil {
		return nil, err
	}

	// Drop the previous session for this ticket, if any.
	oldToken, err := c.Client.Get(ctx, ticketKey(ticketID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to look up prior session: %w", err)
	}
	if err == nil && oldToken != "" {
		if err := c.Client.Del(ctx, sessionKey(oldToken)).Err(); err != nil {
			return nil, fmt.Errorf("failed to invalidate prior session: %w", err)
		}
	}

	now := time.Now()
	expiresAt := now.Add(c.TTL)
	retention := c.TTL + c.Grace

	pipe := c.Client.TxPipeline()
	pipe.HSet(ctx, sessionKey(token),
		"ticket_id", ticketID,
		"nonce", nonce,
		"expires_at", strconv.FormatInt(expiresAt.Unix(), 10),
		"consumed", "0",
	)
	pipe.Expire(ctx, sessionKey(token), retention)
	pipe.Set(ctx, ticketKey(ticketID), token, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store scan session: %w", err)
	}

	return &Session{
		Token:     token,
		Nonce:     nonce,
		TicketID:  ticketID,
		ExpiresAt: expiresAt,
	}, nil
}

// consumeScript checks existence, expiry, consumed flag and nonce, and marks
// the session consumed, all in one Redis round trip. Exactly one of N
// concurrent consumers for the same token observes "not yet consumed".
//
// Returns {status, ticket_id} where status is 0=ok, 1=not found, 2=expired,
// 3=nonce mismatch, 4=already consumed.
var consumeScript = redis.NewScript(`
local vals = redis.call("HMGET", KEYS[1], "ticket_id", "nonce", "expires_at", "consumed")
if not vals[1] then
    return {1, ""}
end
if tonumber(ARGV[2]) >= tonumber(vals[3]) then
    return {2, vals[1]}
end
if vals[4] == "1" then
    return {4, vals[1]}
end
if vals[2] ~= ARGV[1] then
    return {3, vals[1]}
end
redis.call("HSET", KEYS[1], "consumed", "1")
return {0, vals[1]}
`)

// Consume atomically consumes the session and returns the bound ticket id.
// On rejection the ticket id is still returned when the session row exists,
// so the failed attempt can be attributed in the scan log.
func (c *Cache) Consume(ctx context.Context, token, nonce string) (string, error) {
	res, err := consumeScript.Run(ctx, c.Client,
		[]string{sessionKey(token)},
		nonce, strconv.FormatInt(time.Now().Unix(), 10),
	).Result()
	if err != nil {
		return "", fmt.Errorf("failed to consume scan session: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return "", fmt.Errorf("unexpected consume reply: %v", res)
	}
	status, _ := reply[0].(int64)
	ticketID, _ := reply[1].(string)

	switch status {
	case 0:
		return ticketID, nil
	case 1:
		return "", ErrSessionNotFound
	case 2:
		return ticketID, ErrSessionExpired
	case 3:
		return ticketID, ErrNonceMismatch
	case 4:
		return ticketID, ErrAlreadyConsumed
	default:
		return "", fmt.Errorf("unexpected consume status %d", status)
	}
}

// LiveToken returns the current live session token for a ticket, or "" if
// none is recorded.
func (c *Cache) LiveToken(ctx context.Context, ticketID string) (string, error) {
	token, err := c.Client.Get(ctx, ticketKey(ticketID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}
