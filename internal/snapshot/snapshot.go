// Package snapshot holds the single piece of shared state of the exporter:
// the most recently published set of metric values.
//
// A Snapshot never changes after construction. The Store swaps whole
// snapshots atomically, so a reader always sees every value of one refresh
// cycle and nothing of another.
package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Source tells where the values of a snapshot came from.
type Source string

const (
	SourceLive     Source = "live"     // computed from the data store
	SourceFallback Source = "fallback" // placeholder values
)

// Snapshot is an immutable name → value mapping produced by one cycle.
type Snapshot struct {
	// ID is unique per snapshot.
	ID string
	// Cycle is the refresh cycle number, zero before the first cycle ends.
	Cycle  uint64
	Source Source
	Taken  time.Time

	failure string
	values  map[string]float64
}

// New copies values into a fresh snapshot.
func New(values map[string]float64, source Source, cycle uint64, taken time.Time) *Snapshot {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Snapshot{
		ID:     uuid.New().String(),
		Cycle:  cycle,
		Source: source,
		Taken:  taken.UTC(),
		values: copied,
	}
}

// NewFallback returns a fallback snapshot recording why its cycle failed.
func NewFallback(values map[string]float64, cycle uint64, taken time.Time, failure string) *Snapshot {
	s := New(values, SourceFallback, cycle, taken)
	s.failure = failure
	return s
}

// Err returns the failure description of a fallback cycle, or "".
func (s *Snapshot) Err() string { return s.failure }

// Get returns the value of name.
func (s *Snapshot) Get(name string) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Value returns the value of name, or zero when absent.
func (s *Snapshot) Value(name string) float64 { return s.values[name] }

// Len returns the number of metrics.
func (s *Snapshot) Len() int { return len(s.values) }

// Names returns the metric names in ascending order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the mapping.
func (s *Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Fallback returns the placeholder values published when a cycle fails.
// Each tweet-counting bucket family sums to twitter_tweets_total.
func Fallback() map[string]float64 {
	values := map[string]float64{
		"twitter_tweets_total":   150,
		"twitter_total_retweets": 1875,
		"twitter_total_likes":    3795,
		"twitter_avg_retweets":   12.5,
		"twitter_avg_likes":      25.3,

		"twitter_retweets_0":        45,
		"twitter_retweets_1_10":     60,
		"twitter_retweets_11_50":    30,
		"twitter_retweets_51_100":   10,
		"twitter_retweets_101_500":  4,
		"twitter_retweets_501_1000": 1,
		"twitter_retweets_1000plus": 0,

		"twitter_likes_0":          30,
		"twitter_likes_1_20":       65,
		"twitter_likes_21_100":     40,
		"twitter_likes_101_500":    12,
		"twitter_likes_501_2000":   3,
		"twitter_likes_2001_10000": 0,
		"twitter_likes_10000plus":  0,

		"twitter_text_length_0_50":    20,
		"twitter_text_length_51_100":  45,
		"twitter_text_length_101_150": 55,
		"twitter_text_length_151_200": 25,
		"twitter_text_length_201_280": 5,
		"twitter_text_length_281plus": 0,

		"twitter_users_1_tweet":        15,
		"twitter_users_2_5_tweets":     20,
		"twitter_users_6_20_tweets":    10,
		"twitter_users_21_100_tweets":  4,
		"twitter_users_100plus_tweets": 1,

		"twitter_engagement_0_10":      50,
		"twitter_engagement_11_50":     65,
		"twitter_engagement_51_200":    25,
		"twitter_engagement_201_1000":  8,
		"twitter_engagement_1001_5000": 2,
		"twitter_engagement_5001plus":  0,
	}
	hourly := []float64{2, 1, 0, 0, 0, 1, 3, 8, 12, 15, 18, 20, 22, 25, 18, 15, 12, 10, 8, 6, 4, 3, 2, 1}
	for h, v := range hourly {
		values[fmt.Sprintf("twitter_hour_%02d_tweets", h)] = v
	}
	return values
}
