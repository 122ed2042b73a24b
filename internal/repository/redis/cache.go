// Package redis provides the Redis-backed ingestion lock used to keep
// concurrent deliveries of the same inbound message from racing each other
// into the store.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client for ingestion locking.
type Cache struct {
	client *goredis.Client
}

// NewCache creates a new Cache backed by the given Redis client.
func NewCache(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

// lockTTL bounds how long an ingestion lock is held before it expires on its
// own, in case the holder crashes mid-processing.
const lockTTL = 2 * time.Minute

// TryLock attempts to acquire the ingestion lock for a normalized message-id.
// It reports true if this call acquired the lock (the caller should proceed
// with ingestion), or false if another in-flight ingestion already holds it
// (the caller should treat the notification as a duplicate and skip it).
// Locks are best-effort: the unique constraint on inbound_emails.message_id
// is the hard dedup guarantee; this just avoids redundant S3 fetches and
// MIME parsing when SNS or S3 redelivers the same event.
func (c *Cache) TryLock(ctx context.Context, messageID string) (bool, error) {
	key := ingestLockKey(messageID)
	ok, err := c.client.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring ingestion lock for %s: %w", messageID, err)
	}
	return ok, nil
}

// Unlock releases the ingestion lock early, once the message has been
// durably persisted (or definitively failed), so a legitimate retry of the
// same message-id is not blocked for the full TTL.
func (c *Cache) Unlock(ctx context.Context, messageID string) error {
	if err := c.client.Del(ctx, ingestLockKey(messageID)).Err(); err != nil {
		return fmt.Errorf("releasing ingestion lock for %s: %w", messageID, err)
	}
	return nil
}

func ingestLockKey(messageID string) string {
	return "ingest:lock:" + messageID
}
