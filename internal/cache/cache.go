// Package cache implements a TTL-guarded singleton memoizing the
// coordinator's last successful server listing, with concurrent
// refreshes coalesced so only one coordinator round trip is ever in
// flight at a time.
//
// The single-flight coalescing is hand-rolled rather than built on
// golang.org/x/sync/singleflight because the two kinds of caller need
// different outcomes on a failed refresh: the caller that triggered the
// refresh should see the failure, while callers who merely joined an
// in-flight refresh should fall back to the previous cached value
// instead of the error. singleflight.Group.Do hands the identical
// (value, error) pair to every caller waiting on a key and only reports
// whether the result was shared, not which caller triggered the fetch,
// so that distinction can't be expressed through its API. A per-cache
// mutex plus a "refresh in progress" future, where waiters register and
// are resolved together, gives each caller the outcome it needs.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ottdbridge/bridge/internal/protocol"
)

// Fetcher performs one coordinator list-servers round trip.
type Fetcher func(ctx context.Context) ([]protocol.ServerRecord, error)

// refresh is the in-flight future for one coordinator round trip.
type refresh struct {
	done    chan struct{}
	servers []protocol.ServerRecord
	err     error
}

// ServerListCache memoizes the last successful listing for a fixed TTL.
// It always hands out value copies of its held slice: callers receive
// their own backing array, never a reference into cache state, so a
// caller mutating its result can't corrupt what later callers see.
type ServerListCache struct {
	ttl   time.Duration
	fetch Fetcher

	mu        sync.Mutex
	servers   []protocol.ServerRecord
	fetchedAt time.Time
	hasEntry  bool
	inFlight  *refresh
}

// New creates a cache with the given TTL and fetch function.
func New(ttl time.Duration, fetch Fetcher) *ServerListCache {
	return &ServerListCache{ttl: ttl, fetch: fetch}
}

// Get returns the cached listing if still fresh, otherwise triggers a
// refresh. Concurrent callers during a refresh observe single-flight:
// only one coordinator round trip is in flight, the rest await the same
// future. On refresh failure, joiners receive the previous cached value
// (if any) while the triggering caller receives the failure; fetchedAt
// is not advanced on failure.
func (c *ServerListCache) Get(ctx context.Context) ([]protocol.ServerRecord, error) {
	c.mu.Lock()
	if c.hasEntry && time.Since(c.fetchedAt) < c.ttl {
		servers := cloneRecords(c.servers)
		c.mu.Unlock()
		return servers, nil
	}

	if c.inFlight != nil {
		r := c.inFlight
		prevHasEntry, prev := c.hasEntry, cloneRecords(c.servers)
		c.mu.Unlock()
		return c.join(ctx, r, prevHasEntry, prev)
	}

	r := &refresh{done: make(chan struct{})}
	c.inFlight = r
	c.mu.Unlock()

	servers, err := c.fetch(ctx)

	c.mu.Lock()
	if err == nil {
		c.servers = servers
		c.fetchedAt = time.Now()
		c.hasEntry = true
	}
	r.servers, r.err = cloneRecords(c.servers), err
	if err == nil {
		r.servers = cloneRecords(servers)
	}
	c.inFlight = nil
	close(r.done)
	c.mu.Unlock()

	// Leader: surface the real outcome, even on failure. Clone before
	// returning so the caller can't mutate the slice just stored in
	// c.servers out from under later callers.
	return cloneRecords(servers), err
}

// join waits for an in-flight refresh. On success it returns the fresh
// result; on failure it falls back to the previous cached value (if any)
// rather than propagating the leader's error.
func (c *ServerListCache) join(ctx context.Context, r *refresh, prevHasEntry bool, prev []protocol.ServerRecord) ([]protocol.ServerRecord, error) {
	select {
	case <-r.done:
		if r.err == nil {
			return cloneRecords(r.servers), nil
		}
		if prevHasEntry {
			return prev, nil
		}
		return nil, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func cloneRecords(in []protocol.ServerRecord) []protocol.ServerRecord {
	if in == nil {
		return nil
	}
	out := make([]protocol.ServerRecord, len(in))
	copy(out, in)
	for i := range out {
		if out[i].NewGRFs != nil {
			out[i].NewGRFs = append([]string(nil), out[i].NewGRFs...)
		}
	}
	return out
}
