package scope

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"relay/internal/taskevent"
)

// Snapshot is the server's current view of a scope, fetched after an ack to
// recover whatever was missed while disconnected. Reconnection recovers live
// state through snapshots, never through event replay.
type Snapshot struct {
	ScopeID   string            `json:"scopeId"`
	Events    []taskevent.Event `json:"events"`
	FetchedAt time.Time         `json:"-"`
}

// SnapshotFetcher retrieves the current snapshot of a scope.
type SnapshotFetcher func(ctx context.Context, scopeID string) (*Snapshot, error)

const (
	snapshotCacheSize = 64
	snapshotTTL       = 5 * time.Second
)

// snapshotCache deduplicates concurrent snapshot fetches per scope and keeps
// a short-lived LRU of results so a flapping connection does not hammer the
// snapshot endpoint.
type snapshotCache struct {
	fetch SnapshotFetcher
	group singleflight.Group
	cache *lru.Cache[string, *Snapshot]
}

func newSnapshotCache(fetch SnapshotFetcher) *snapshotCache {
	cache, _ := lru.New[string, *Snapshot](snapshotCacheSize)
	return &snapshotCache{fetch: fetch, cache: cache}
}

func (c *snapshotCache) get(ctx context.Context, scopeID string) (*Snapshot, error) {
	if cached, ok := c.cache.Get(scopeID); ok && time.Since(cached.FetchedAt) < snapshotTTL {
		return cached, nil
	}

	result, err, _ := c.group.Do(scopeID, func() (any, error) {
		snapshot, err := c.fetch(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		snapshot.FetchedAt = time.Now()
		c.cache.Add(scopeID, snapshot)
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// invalidate drops the cached snapshot for a scope, forcing the next get to
// hit the fetcher.
func (c *snapshotCache) invalidate(scopeID string) {
	c.cache.Remove(scopeID)
}
