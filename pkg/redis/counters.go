package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// FixedWindowAllow counts one request against scope in the current window and
// reports whether the count is still within limit. Windows are aligned to the
// epoch so every replica agrees on the bucket; a counter whose EXPIRE was lost
// only ever inflates its own bucket.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if err := c.ready(); err != nil {
		return false, 0, err
	}
	if window <= 0 {
		return false, 0, fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	bucket := c.clock().UnixNano() / int64(window)
	key := c.RateLimitKey(scope) + ":" + strconv.FormatInt(bucket, 10)

	count, err := c.cmd.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := c.cmd.Expire(ctx, key, window).Err(); err != nil {
			return false, count, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= limit, count, nil
}

// ReleaseIfHeld deletes key atomically when its value is still owner. It
// reports whether the key was removed.
func (c *Client) ReleaseIfHeld(ctx context.Context, key, owner string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	removed, err := c.cmd.Eval(ctx, releaseScript, []string{key}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return removed == 1, nil
}
