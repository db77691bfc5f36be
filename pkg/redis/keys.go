package redis

import "strings"

const keyNamespace = "orgplans"

// Key families. Each family owns its own TTL policy.
const (
	familyIdempotency = "idempotency"
	familyRateLimit   = "rate_limit"
	familyLock        = "lock"
)

// IdempotencyKey names a dedupe record, e.g. the stripe event guard or a
// replayed checkout request.
func (c *Client) IdempotencyKey(scope, id string) string {
	return namespaced(familyIdempotency, scope, id)
}

// RateLimitKey names the counter family for scope. Window counters append
// their bucket to it.
func (c *Client) RateLimitKey(scope string) string {
	return namespaced(familyRateLimit, scope)
}

func (c *Client) LockKey(name string) string {
	return namespaced(familyLock, name)
}

func namespaced(family string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(family)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
