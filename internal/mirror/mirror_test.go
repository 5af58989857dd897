package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
)

// fakeCache records every item set on it.
type fakeCache struct {
	mu    sync.Mutex
	items []*memcache.Item
	err   error
}

func (f *fakeCache) Set(item *memcache.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeCache) last() (*memcache.Item, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, 0
	}
	return f.items[len(f.items)-1], len(f.items)
}

func decode(t *testing.T, item *memcache.Item) Document {
	t.Helper()
	var doc Document
	if err := json.Unmarshal(item.Value, &doc); err != nil {
		t.Fatalf("decoding mirrored value: %v", err)
	}
	return doc
}

func TestWriteStoresDocument(t *testing.T) {
	cache := &fakeCache{}
	m := New(cache, "twitter_stats", 2*time.Minute)
	snap := snapshot.New(map[string]float64{"twitter_tweets_total": 12}, snapshot.SourceLive, 5, time.Now())

	if err := m.Write(snap); err != nil {
		t.Fatalf("Write: %v", err)
	}
	item, n := cache.last()
	if n != 1 {
		t.Fatalf("%d items set", n)
	}
	if item.Key != "twitter_stats" || item.Expiration != 120 {
		t.Errorf("key %q expiration %d", item.Key, item.Expiration)
	}
	doc := decode(t, item)
	if doc.ID != snap.ID || doc.Cycle != 5 || doc.Source != "live" || doc.Metrics["twitter_tweets_total"] != 12 {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestTTLStaysRelative(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{0, 0},
		{-time.Minute, 0},
		{time.Hour, 3600},
		{MaxTTL, 2592000},
		{90 * 24 * time.Hour, 2592000},
	}
	for _, tt := range tests {
		cache := &fakeCache{}
		if err := New(cache, "k", tt.ttl).Write(snapshot.New(nil, snapshot.SourceLive, 1, time.Now())); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if item, _ := cache.last(); item.Expiration != tt.want {
			t.Errorf("ttl %s: expiration %d, want %d", tt.ttl, item.Expiration, tt.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	cache := &fakeCache{err: memcache.ErrNoServers}
	m := New(cache, "k", 0)
	err := m.Write(snapshot.New(nil, snapshot.SourceFallback, 0, time.Now()))
	if !errors.Is(err, memcache.ErrNoServers) {
		t.Errorf("got %v, want ErrNoServers", err)
	}
}

func TestStartMirrorsPublishes(t *testing.T) {
	cache := &fakeCache{}
	snaps := snapshot.NewStore(snapshot.New(snapshot.Fallback(), snapshot.SourceFallback, 0, time.Now()))
	m := New(cache, "k", 0)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, snaps)

	waitFor(t, func() bool { _, n := cache.last(); return n >= 1 })
	live := snapshot.New(map[string]float64{"twitter_tweets_total": 1}, snapshot.SourceLive, 1, time.Now())
	snaps.Publish(live)
	waitFor(t, func() bool {
		item, _ := cache.last()
		return item != nil && decode(t, item).ID == live.ID
	})

	cancel()
	m.Wait()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
