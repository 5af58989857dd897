package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
)

// ErrAlreadyExists indicates a tweet with the same ID is already stored.
var ErrAlreadyExists = errors.New("tweet already exists")

// MemoryStore is an in-memory tweets table that evaluates catalogue queries
// directly. It backs local runs without Cassandra and the refresher tests.
type MemoryStore struct {
	// mu protects tweets and unavailable.
	mu     sync.RWMutex
	tweets map[string]*Tweet
	// unavailable, when set, is returned by Open to simulate an outage.
	unavailable error

	now func() time.Time
}

// NewMemoryStore returns an empty table using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tweets: make(map[string]*Tweet),
		now:    time.Now,
	}
}

// SetClock replaces the clock used to evaluate time windows.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetUnavailable makes Open fail with err until it is called with nil.
func (s *MemoryStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

// Insert stores a copy of t.
func (s *MemoryStore) Insert(t *Tweet) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tweets[t.ID]; exists {
		return ErrAlreadyExists
	}
	copied := *t
	s.tweets[t.ID] = &copied
	return nil
}

// Len returns the number of stored tweets.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tweets)
}

// Seed inserts n synthetic tweets spread over the eight days before now.
// Activity per user is skewed so every activity tier gets some users.
func (s *MemoryStore) Seed(n int, rng *rand.Rand, now time.Time) {
	users := n/8 + 1
	for i := 0; i < n; i++ {
		// squaring a uniform variate favours low user numbers
		u := int(math.Pow(rng.Float64(), 2) * float64(users))
		retweets := int64(math.Floor(math.Pow(rng.Float64(), 4) * 1500))
		likes := int64(math.Floor(math.Pow(rng.Float64(), 3) * 4000))
		length := 5 + rng.Intn(300)
		text := make([]byte, length)
		for j := range text {
			text[j] = byte('a' + rng.Intn(26))
		}
		age := time.Duration(rng.Int63n(int64(8 * 24 * time.Hour)))
		t := NewTweet(fmt.Sprintf("user_%04d", u), string(text), retweets, likes, now.Add(-age))
		_ = s.Insert(t)
	}
}

// Open implements Connector.
func (s *MemoryStore) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, s.unavailable)
	}
	return &memorySession{store: s}, nil
}

type memorySession struct {
	store  *MemoryStore
	closed bool
}

// Query evaluates q against the table.
func (m *memorySession) Query(ctx context.Context, q catalogue.Query) ([]Row, error) {
	if m.closed {
		return nil, fmt.Errorf("%w: session closed", ErrQuery)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	m.store.mu.RLock()
	now := m.store.now()
	matched := make([]*Tweet, 0, len(m.store.tweets))
	for _, t := range m.store.tweets {
		ok, err := matchesAll(t, q.Where, now)
		if err != nil {
			m.store.mu.RUnlock()
			return nil, err
		}
		if ok {
			matched = append(matched, t)
		}
	}
	m.store.mu.RUnlock()

	if !q.Grouped() {
		values, err := aggregate(q.Select, matched)
		if err != nil {
			return nil, err
		}
		return []Row{{Values: values}}, nil
	}

	groups := make(map[interface{}][]*Tweet)
	for _, t := range matched {
		k := t.Key(q.GroupBy)
		groups[k] = append(groups[k], t)
	}
	rows := make([]Row, 0, len(groups))
	for k, members := range groups {
		values, err := aggregate(q.Select, members)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Group: k, Values: values})
	}
	return orderRows(rows, q.OrderBy, q.Descending, q.Limit), nil
}

// Close implements Session.
func (m *memorySession) Close() error {
	m.closed = true
	return nil
}

func matchesAll(t *Tweet, preds []catalogue.Predicate, now time.Time) (bool, error) {
	for _, p := range preds {
		ok, err := matches(t, p, now)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matches(t *Tweet, p catalogue.Predicate, now time.Time) (bool, error) {
	switch p := p.(type) {
	case catalogue.Range:
		v, ok := t.Int(p.Field)
		if !ok {
			return false, fmt.Errorf("%w: range over %s", ErrQuery, p.Field)
		}
		return p.Contains(v), nil
	case catalogue.Since:
		return t.Date.After(p.Cutoff(now)), nil
	case catalogue.AnyOf:
		for _, sub := range p {
			ok, err := matches(t, sub, now)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: unsupported predicate %T", ErrQuery, p)
	}
}

// aggregate computes every select item over rows. Empty inputs yield nil
// for every function except the counts, as a SQL store would.
func aggregate(sel []catalogue.Aggregate, rows []*Tweet) ([]interface{}, error) {
	out := make([]interface{}, len(sel))
	for i, agg := range sel {
		switch agg.Func {
		case catalogue.Count:
			out[i] = int64(len(rows))
			continue
		case catalogue.CountDistinct:
			seen := make(map[interface{}]struct{}, len(rows))
			for _, t := range rows {
				seen[t.Key(agg.Field)] = struct{}{}
			}
			out[i] = int64(len(seen))
			continue
		}

		values := make([]int64, 0, len(rows))
		for _, t := range rows {
			v, ok := t.Int(agg.Field)
			if !ok {
				return nil, fmt.Errorf("%w: %s over %s", ErrQuery, agg.Func, agg.Field)
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			out[i] = nil
			continue
		}

		switch agg.Func {
		case catalogue.Sum:
			out[i] = sum(values)
		case catalogue.Avg:
			out[i] = float64(sum(values)) / float64(len(values))
		case catalogue.Min:
			m := values[0]
			for _, v := range values[1:] {
				if v < m {
					m = v
				}
			}
			out[i] = m
		case catalogue.Max:
			m := values[0]
			for _, v := range values[1:] {
				if v > m {
					m = v
				}
			}
			out[i] = m
		case catalogue.Stddev:
			out[i] = stddev(values)
		case catalogue.Percentile:
			out[i] = percentileCont(values, agg.P)
		default:
			return nil, fmt.Errorf("%w: unsupported function %s", ErrQuery, agg.Func)
		}
	}
	return out, nil
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// stddev is the sample standard deviation; fewer than two values yield nil.
func stddev(values []int64) interface{} {
	if len(values) < 2 {
		return nil
	}
	mean := float64(sum(values)) / float64(len(values))
	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// percentileCont interpolates linearly between the closest ranks, like
// PERCENTILE_CONT. p is a fraction in [0, 1].
func percentileCont(values []int64, p float64) float64 {
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p <= 0 {
		return float64(sorted[0])
	}
	if p >= 1 {
		return float64(sorted[len(sorted)-1])
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo])
}
