package snapshot

import (
	"sync"
	"sync/atomic"
)

// Store mediates between one writer (the refresher) and any number of
// readers. Read never blocks; Publish holds a lock only while handing the
// new snapshot to subscribers, never while a cycle runs.
type Store struct {
	current atomic.Pointer[Snapshot]

	// mu protects subscribers.
	mu          sync.Mutex
	subscribers map[int]chan *Snapshot
	nextID      int

	published atomic.Uint64
}

// NewStore returns a store whose visible snapshot is initial.
func NewStore(initial *Snapshot) *Store {
	s := &Store{subscribers: make(map[int]chan *Snapshot)}
	s.current.Store(initial)
	return s
}

// Read returns the current snapshot.
func (s *Store) Read() *Snapshot {
	return s.current.Load()
}

// Publish makes snap the visible snapshot and notifies subscribers. A
// subscriber whose buffer is full misses this notification.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
	s.published.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Published returns how many snapshots have been published.
func (s *Store) Published() uint64 { return s.published.Load() }

// Subscribe registers for publish notifications. The returned function
// unregisters and closes the channel; it is safe to call more than once.
func (s *Store) Subscribe(buffer int) (<-chan *Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Snapshot, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}
