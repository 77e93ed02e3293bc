package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ottdbridge/bridge/internal/protocol"
)

func TestGetReturnsFreshValueWithoutRefetch(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) ([]protocol.ServerRecord, error) {
		atomic.AddInt32(&calls, 1)
		return []protocol.ServerRecord{{Name: "srv1"}}, nil
	}
	c := New(time.Minute, fetch)

	first, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
	if len(first) != 1 || len(second) != 1 || first[0].Name != second[0].Name {
		t.Fatalf("first=%v second=%v", first, second)
	}
}

// Concurrent calls within a TTL window contact the coordinator at
// most once.
func TestConcurrentGetsSingleFlight(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	fetch := func(ctx context.Context) ([]protocol.ServerRecord, error) {
		atomic.AddInt32(&calls, 1)
		<-block
		return []protocol.ServerRecord{{Name: "srv1"}}, nil
	}
	c := New(time.Minute, fetch)

	var wg sync.WaitGroup
	results := make([][]protocol.ServerRecord, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = r
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
	for _, r := range results {
		if len(r) != 1 || r[0].Name != "srv1" {
			t.Fatalf("unexpected result %v", r)
		}
	}
}

func TestRefreshFailureLeaderGetsError(t *testing.T) {
	var first = true
	fetch := func(ctx context.Context) ([]protocol.ServerRecord, error) {
		if first {
			first = false
			return []protocol.ServerRecord{{Name: "cached"}}, nil
		}
		return nil, errors.New("coordinator unreachable")
	}
	c := New(time.Millisecond, fetch)

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("initial Get: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // let the entry expire

	_, err := c.Get(context.Background())
	if err == nil {
		t.Fatal("expected the triggering caller to observe the refresh failure")
	}
}

func TestGetReturnsDistinctBackingArrays(t *testing.T) {
	fetch := func(ctx context.Context) ([]protocol.ServerRecord, error) {
		return []protocol.ServerRecord{{Name: "srv1"}}, nil
	}
	c := New(time.Minute, fetch)

	first, _ := c.Get(context.Background())
	first[0].Name = "mutated"

	second, _ := c.Get(context.Background())
	if second[0].Name != "srv1" {
		t.Fatalf("mutation of one caller's slice leaked into cache state: %q", second[0].Name)
	}
}
