package store

import (
	"context"
	"errors"
	"math"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, tweets ...*Tweet) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return testNow })
	for _, tw := range tweets {
		if err := s.Insert(tw); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return s
}

func query(t *testing.T, s *MemoryStore, q catalogue.Query) []Row {
	t.Helper()
	sess, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()
	rows, err := sess.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return rows
}

func assertFloat(t *testing.T, label string, got interface{}, want float64) {
	t.Helper()
	f, err := Float(got)
	if err != nil {
		t.Fatalf("%s: %v", label, err)
	}
	if math.Abs(f-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", label, f, want)
	}
}

func sample() []*Tweet {
	return []*Tweet{
		NewTweet("alice", "hello", 0, 0, testNow.Add(-30*time.Minute)),
		NewTweet("alice", "a longer tweet text", 10, 20, testNow.Add(-2*time.Hour)),
		NewTweet("bob", "hi", 200, 600, testNow.Add(-25*time.Hour)),
		NewTweet("carol", "", 1500, 3, testNow.Add(-8*24*time.Hour)),
	}
}

func TestInsertValidates(t *testing.T) {
	s := newTestStore(t)
	if err := s.Insert(NewTweet("", "x", 0, 0, testNow)); !errors.Is(err, ErrEmptyUser) {
		t.Errorf("got %v, want ErrEmptyUser", err)
	}
	if err := s.Insert(NewTweet("u", "x", -1, 0, testNow)); !errors.Is(err, ErrNegativeCounts) {
		t.Errorf("got %v, want ErrNegativeCounts", err)
	}
	tw := NewTweet("u", "x", 0, 0, testNow)
	if err := s.Insert(tw); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(tw); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("got %v, want ErrAlreadyExists", err)
	}
}

func TestScalarAggregates(t *testing.T) {
	s := newTestStore(t, sample()...)
	rows := query(t, s, catalogue.Query{OrderBy: -1, Select: []catalogue.Aggregate{
		{Func: catalogue.Count},
		{Func: catalogue.Sum, Field: catalogue.FieldRetweets},
		{Func: catalogue.Avg, Field: catalogue.FieldLikes},
		{Func: catalogue.Max, Field: catalogue.FieldEngagement},
		{Func: catalogue.Min, Field: catalogue.FieldTextLength},
		{Func: catalogue.CountDistinct, Field: catalogue.FieldUser},
		{Func: catalogue.Percentile, Field: catalogue.FieldRetweets, P: 0.5},
	}})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	v := rows[0].Values
	assertFloat(t, "count", v[0], 4)
	assertFloat(t, "sum", v[1], 1710)
	assertFloat(t, "avg", v[2], 623.0/4)
	assertFloat(t, "max", v[3], 1503)
	assertFloat(t, "min", v[4], 0)
	assertFloat(t, "distinct", v[5], 3)
	// sorted retweets 0,10,200,1500: position 1.5
	assertFloat(t, "median", v[6], 105)
}

func TestEmptyAggregatesAreNull(t *testing.T) {
	s := newTestStore(t)
	rows := query(t, s, catalogue.Query{OrderBy: -1, Select: []catalogue.Aggregate{
		{Func: catalogue.Count},
		{Func: catalogue.Avg, Field: catalogue.FieldLikes},
		{Func: catalogue.Stddev, Field: catalogue.FieldLikes},
	}})
	if rows[0].Values[0] != int64(0) {
		t.Errorf("count = %v, want 0", rows[0].Values[0])
	}
	if rows[0].Values[1] != nil || rows[0].Values[2] != nil {
		t.Errorf("empty avg/stddev should be nil, got %v", rows[0].Values[1:])
	}
}

func TestPredicates(t *testing.T) {
	s := newTestStore(t, sample()...)
	count := func(where ...catalogue.Predicate) float64 {
		rows := query(t, s, catalogue.Query{Where: where, OrderBy: -1,
			Select: []catalogue.Aggregate{{Func: catalogue.Count}}})
		f, _ := Float(rows[0].Values[0])
		return f
	}

	tests := []struct {
		name  string
		where []catalogue.Predicate
		want  float64
	}{
		{"equal", []catalogue.Predicate{catalogue.Equal(catalogue.FieldRetweets, 0)}, 1},
		{"between", []catalogue.Predicate{catalogue.Between(catalogue.FieldRetweets, 1, 500)}, 2},
		{"since 1h", []catalogue.Predicate{catalogue.Since{Window: time.Hour}}, 1},
		{"since 7d", []catalogue.Predicate{catalogue.Since{Window: 7 * 24 * time.Hour}}, 3},
		{"any of", []catalogue.Predicate{catalogue.AnyOf{
			catalogue.AtLeast(catalogue.FieldRetweets, 1001), catalogue.AtLeast(catalogue.FieldLikes, 501)}}, 2},
		{"conjunction", []catalogue.Predicate{
			catalogue.AtLeast(catalogue.FieldRetweets, 1), catalogue.AtMost(catalogue.FieldLikes, 20)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := count(tt.where...); got != tt.want {
				t.Errorf("count = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupedRanking(t *testing.T) {
	s := newTestStore(t, sample()...)
	rows := query(t, s, catalogue.Query{
		GroupBy:    catalogue.FieldUser,
		Select:     []catalogue.Aggregate{{Func: catalogue.Count}, {Func: catalogue.Avg, Field: catalogue.FieldRetweets}},
		OrderBy:    0,
		Descending: true,
		Limit:      2,
	})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Group != "alice" {
		t.Errorf("rank 1 = %v, want alice", rows[0].Group)
	}
	// bob and carol tie on one tweet; ties break by name
	if rows[1].Group != "bob" {
		t.Errorf("rank 2 = %v, want bob", rows[1].Group)
	}
	assertFloat(t, "alice avg retweets", rows[0].Values[1], 5)
}

func TestUnavailable(t *testing.T) {
	s := newTestStore(t)
	s.SetUnavailable(errors.New("connection refused"))
	if _, err := s.Open(context.Background()); !errors.Is(err, ErrConnect) {
		t.Errorf("got %v, want ErrConnect", err)
	}
	s.SetUnavailable(nil)
	if _, err := s.Open(context.Background()); err != nil {
		t.Errorf("Open after recovery: %v", err)
	}
}

func TestCancelledQuery(t *testing.T) {
	s := newTestStore(t, sample()...)
	sess, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Query(ctx, catalogue.Query{OrderBy: -1, Select: []catalogue.Aggregate{{Func: catalogue.Count}}})
	if !errors.Is(err, ErrQuery) || !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want ErrQuery wrapping context.Canceled", err)
	}
}

func TestSeed(t *testing.T) {
	s := newTestStore(t)
	s.Seed(500, rand.New(rand.NewSource(7)), testNow)
	if s.Len() != 500 {
		t.Errorf("Len() = %d, want 500", s.Len())
	}
}

func TestFloat(t *testing.T) {
	tests := []struct {
		in   interface{}
		want float64
	}{
		{nil, 0},
		{int64(7), 7},
		{int32(-3), -3},
		{uint8(255), 255},
		{float32(1.5), 1.5},
		{2.25, 2.25},
		{big.NewInt(42), 42},
		{big.NewFloat(0.5), 0.5},
	}
	for _, tt := range tests {
		got, err := Float(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("Float(%v) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}

	for _, bad := range []interface{}{"text", math.NaN(), math.Inf(1), []byte("1")} {
		if _, err := Float(bad); !errors.Is(err, ErrConvert) {
			t.Errorf("Float(%v) = %v, want ErrConvert", bad, err)
		}
	}
}

func TestOrderRowsKeepsTopN(t *testing.T) {
	var rows []Row
	for i := 0; i < 100; i++ {
		rows = append(rows, Row{Group: i, Values: []interface{}{int64(i % 37)}})
	}
	got := orderRows(rows, 0, true, 5)
	if len(got) != 5 {
		t.Fatalf("got %d rows", len(got))
	}
	for i := 1; i < len(got); i++ {
		prev, _ := Float(got[i-1].Values[0])
		cur, _ := Float(got[i].Values[0])
		if cur > prev {
			t.Errorf("rows out of order at %d: %v > %v", i, cur, prev)
		}
	}
	if top, _ := Float(got[0].Values[0]); top != 36 {
		t.Errorf("top value = %v, want 36", top)
	}
}
