package counter

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Counter tracks how many attendees are currently inside each event. One
// Redis key per event, created lazily on the first scan, mutated only with
// single-step atomic operations so concurrent gates never race a
// read-then-write.
type Counter struct {
	Client *redis.Client
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{Client: client}
}

func countKey(eventID string) string {
	return "admission_count:" + eventID
}

// Increment records one confirmed entry and returns the new count.
func (c *Counter) Increment(ctx context.Context, eventID string) (int64, error) {
	count, err := c.Client.Incr(ctx, countKey(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment admission count: %w", err)
	}
	return count, nil
}

// decrementScript floors at zero: a confirmed exit can never drive the
// count negative. Status 1 in the reply flags that the floor was hit,
// which the caller reports as an integrity anomaly.
var decrementScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count <= 0 then
    return {1, 0}
end
return {0, redis.call("DECR", KEYS[1])}
`)

// Decrement records one confirmed exit and returns the new count. The
// second return value is true when the counter was already at zero; the
// count stays at zero in that case.
func (c *Counter) Decrement(ctx context.Context, eventID string) (int64, bool, error) {
	res, err := decrementScript.Run(ctx, c.Client, []string{countKey(eventID)}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to decrement admission count: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, false, fmt.Errorf("unexpected decrement reply: %v", res)
	}
	floored, _ := reply[0].(int64)
	count, _ := reply[1].(int64)

	return count, floored == 1, nil
}

// Get returns the current count for an event. A never-scanned event reads
// as zero.
func (c *Counter) Get(ctx context.Context, eventID string) (int64, error) {
	count, err := c.Client.Get(ctx, countKey(eventID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read admission count: %w", err)
	}
	return count, nil
}
