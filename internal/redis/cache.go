package redis

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"routechat/internal/session"
)

const defaultSnapshotTTL = 30 * time.Minute

// SnapshotCache stores serialized session snapshots with a TTL so a
// restarted process can rehydrate warm conversations. All operations are
// best effort; failures degrade to a cache miss. Satisfies session.Cache.
type SnapshotCache struct {
	client *Client
	ttl    time.Duration
}

func NewSnapshotCache(client *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(key session.Key) string {
	return "session:snapshot:" + key.String()
}

// LoadSnapshot fetches the cached snapshot for key, if present.
func (c *SnapshotCache) LoadSnapshot(ctx context.Context, key session.Key) (*session.Session, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, snapshotKey(key))
	if err != nil {
		if err != ErrCacheMiss {
			log.Printf("session snapshot load failed: %v", err)
		}
		return nil, false
	}
	var snap session.Session
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		log.Printf("session snapshot decode failed: %v", err)
		return nil, false
	}
	return &snap, true
}

// SaveSnapshot writes the snapshot through with the configured TTL.
func (c *SnapshotCache) SaveSnapshot(ctx context.Context, s *session.Session) {
	if c == nil || c.client == nil || s == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("session snapshot marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, snapshotKey(s.Key), data, c.ttl); err != nil {
		log.Printf("session snapshot save failed: %v", err)
	}
}
