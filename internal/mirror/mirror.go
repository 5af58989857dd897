// Package mirror copies every published snapshot into memcached so other
// processes can read the latest statistics without calling the exporter.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	log "github.com/golang/glog"

	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
)

// MaxTTL is the longest relative expiration memcached accepts; larger
// values are read as a Unix timestamp.
const MaxTTL = 30 * 24 * time.Hour

// Setter is the part of *memcache.Client the mirror uses.
type Setter interface {
	Set(item *memcache.Item) error
}

// Document is the JSON value stored under the mirror key.
type Document struct {
	ID      string             `json:"id"`
	Cycle   uint64             `json:"cycle"`
	Source  string             `json:"source"`
	Taken   time.Time          `json:"taken"`
	Metrics map[string]float64 `json:"metrics"`
}

// Mirror writes snapshots to memcached as they are published.
type Mirror struct {
	client Setter
	key    string
	// expiration in seconds; zero keeps the item until evicted
	expiration int32

	wg sync.WaitGroup
}

// NewClient returns a memcached client for servers ("host:port").
func NewClient(timeout time.Duration, servers ...string) *memcache.Client {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}

// New returns a mirror writing under key. A positive ttl expires the item
// when the exporter stops refreshing it; it is capped at MaxTTL.
func New(client Setter, key string, ttl time.Duration) *Mirror {
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Mirror{client: client, key: key, expiration: int32(ttl / time.Second)}
}

// Write stores snap under the mirror key.
func (m *Mirror) Write(snap *snapshot.Snapshot) error {
	raw, err := json.Marshal(Document{
		ID:      snap.ID,
		Cycle:   snap.Cycle,
		Source:  string(snap.Source),
		Taken:   snap.Taken,
		Metrics: snap.Values(),
	})
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", snap.ID, err)
	}
	item := &memcache.Item{Key: m.key, Value: raw, Expiration: m.expiration}
	if err := m.client.Set(item); err != nil {
		return fmt.Errorf("memcached set %s: %w", m.key, err)
	}
	return nil
}

// Start mirrors the current snapshot and then every published one until
// ctx is cancelled. Failed writes are logged and retried on the next publish.
func (m *Mirror) Start(ctx context.Context, snapshots *snapshot.Store) {
	updates, cancel := snapshots.Subscribe(1)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		m.write(snapshots.Read())
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}
				m.write(snap)
			}
		}
	}()
}

// Wait blocks until the goroutine started by Start exits.
func (m *Mirror) Wait() {
	m.wg.Wait()
}

func (m *Mirror) write(snap *snapshot.Snapshot) {
	if err := m.Write(snap); err != nil {
		log.Warningf("<memcached mirror> cycle %d: %v", snap.Cycle, err)
		return
	}
	log.V(1).Infof("<memcached mirror> cycle %d: %d metrics stored under %s", snap.Cycle, snap.Len(), m.key)
}
