package redis

import "strings"

const keyNamespace = "tl"

type keyspace string

const (
	idempotencyKeys keyspace = "idempotency"
	rateLimitKeys   keyspace = "rate_limit"
	etaKeys         keyspace = "eta"
	lockKeys        keyspace = "lock"
)

// key joins the namespace, keyspace and non-empty parts with ':'.
func (k keyspace) key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(string(k))
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

// IdempotencyKey namespaces a processed-marker for scope and id.
func (c *Client) IdempotencyKey(scope, id string) string { return idempotencyKeys.key(scope, id) }

// RateLimitKey namespaces a request counter.
func (c *Client) RateLimitKey(scope string) string { return rateLimitKeys.key(scope) }

// ETAKey is the cache key for a service request's latest ETA.
func (c *Client) ETAKey(requestID string) string { return etaKeys.key(requestID) }

// LockKey is the key a cron job lock is held under.
func (c *Client) LockKey(name string) string { return lockKeys.key(name) }
