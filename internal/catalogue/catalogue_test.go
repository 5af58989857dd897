package catalogue

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultFamiliesAreValid(t *testing.T) {
	c := Default()
	want := map[string]int{
		"retweets": 7, "likes": 7, "text_length": 6,
		"user_activity": 5, "engagement": 6, "hourly": 24,
	}
	if len(c.Families) != len(want) {
		t.Fatalf("got %d families, want %d", len(c.Families), len(want))
	}
	for key, n := range want {
		f := c.Family(key)
		if f == nil {
			t.Fatalf("family %q missing", key)
		}
		if len(f.Buckets) != n {
			t.Errorf("family %q has %d buckets, want %d", key, len(f.Buckets), n)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("family %q: %v", key, err)
		}
	}
}

func TestMetricsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, name := range Default().Metrics() {
		if seen[name] {
			t.Errorf("metric %q produced twice", name)
		}
		seen[name] = true
	}
	for _, name := range []string{
		"twitter_tweets_total", "twitter_retweets_1000plus", "twitter_users_1_tweet",
		"twitter_hour_00_tweets", "twitter_hour_23_tweets", "twitter_active_users_7d",
		"twitter_tweets_per_hour", "twitter_virality_score", "twitter_top_user_10_avg_likes",
		"twitter_likes_p99", "twitter_viral_tweets", "twitter_likes_per_user",
	} {
		if !seen[name] {
			t.Errorf("metric %q missing", name)
		}
	}
}

func TestOptionsRejectRepeatedMetrics(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"repeated window label", Options{Windows: []TimeWindow{{"1h", time.Hour}, {"1h", 48 * time.Hour}}}},
		{"repeated percentile", Options{Percentiles: []int{50, 50}}},
		{"bucket named like a percentile", Options{Buckets: map[string][]BucketSpec{
			"retweets": {Bucket("0", 0, 0), OpenBucket("p50", 1)},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("got %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestOptionsRejectMalformedWindowLabels(t *testing.T) {
	for _, label := range []string{"last hour", "", "1h;", "день"} {
		_, err := New(Options{Windows: []TimeWindow{{label, time.Hour}}})
		if !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("window %q: got %v, want ErrInvalidOptions", label, err)
		}
	}
}

func TestOptionsHourlyOpenEnd(t *testing.T) {
	_, err := New(Options{Buckets: map[string][]BucketSpec{
		"hourly": {Bucket("am", 0, 43199), OpenBucket("pm", 43200)},
	}})
	if err != nil {
		t.Errorf("open last hourly bucket rejected: %v", err)
	}
}

func TestValidLabel(t *testing.T) {
	tests := map[string]bool{
		"1h": true, "1000plus": true, "2_5_tweets": true, "A_b9": true,
		"": false, "a b": false, "a-b": false, "a.b": false, "é": false,
	}
	for in, want := range tests {
		if got := ValidLabel(in); got != want {
			t.Errorf("ValidLabel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDerivedEntriesFollowTheirOperands(t *testing.T) {
	c := Default()
	produced := make(map[string]bool)
	for _, e := range c.Entries {
		switch e := e.(type) {
		case Scalar:
			for _, agg := range e.Query.Select {
				produced[agg.Metric] = true
			}
		case Grouped:
			for _, m := range e.Family.Metrics() {
				produced[m] = true
			}
		case Derived:
			var operands []string
			switch f := e.Formula.(type) {
			case Ratio:
				operands = append(append(operands, f.Numerator...), f.Denominator)
				if f.Guard != "" {
					operands = append(operands, f.Guard)
				}
			case Alias:
				operands = []string{f.Source}
			}
			for _, op := range operands {
				if !produced[op] {
					t.Errorf("%s uses %s before it is computed", e.Metric, op)
				}
			}
			produced[e.Metric] = true
		}
	}
}

func TestOptionsOverrideBuckets(t *testing.T) {
	c, err := New(Options{Buckets: map[string][]BucketSpec{
		"retweets": {Bucket("none", 0, 0), OpenBucket("some", 1)},
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Family("retweets").Metrics()
	if len(got) != 2 || got[0] != "twitter_retweets_none" || got[1] != "twitter_retweets_some" {
		t.Errorf("unexpected metrics %v", got)
	}
}

func TestOptionsRejectInvalidFamilies(t *testing.T) {
	tests := []struct {
		name    string
		buckets map[string][]BucketSpec
	}{
		{"gap", map[string][]BucketSpec{"likes": {Bucket("a", 0, 5), OpenBucket("b", 7)}}},
		{"overlap", map[string][]BucketSpec{"likes": {Bucket("a", 0, 5), OpenBucket("b", 5)}}},
		{"open in the middle", map[string][]BucketSpec{"likes": {OpenBucket("a", 0), OpenBucket("b", 7)}}},
		{"duplicate label", map[string][]BucketSpec{"likes": {Bucket("a", 0, 5), OpenBucket("a", 6)}}},
		{"unknown family", map[string][]BucketSpec{"followers": {OpenBucket("a", 0)}}},
		{"empty", map[string][]BucketSpec{"likes": {}}},
		{"zero not covered", map[string][]BucketSpec{"retweets": {Bucket("1_10", 1, 10), OpenBucket("11plus", 11)}}},
		{"single tweet users not covered", map[string][]BucketSpec{"user_activity": {OpenBucket("2plus", 2)}}},
		{"end of day not covered", map[string][]BucketSpec{"hourly": {Bucket("am", 0, 43199), Bucket("pm", 43200, 86000)}}},
		{"space in label", map[string][]BucketSpec{"likes": {Bucket("no likes", 0, 0), OpenBucket("some", 1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Options{Buckets: tt.buckets}); !errors.Is(err, ErrInvalidFamily) {
				t.Errorf("got %v, want ErrInvalidFamily", err)
			}
		})
	}
}

func TestParseBuckets(t *testing.T) {
	got, err := ParseBuckets("0:0-0, 1_10:1-10, 11plus:11-")
	if err != nil {
		t.Fatalf("ParseBuckets: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d buckets", len(got))
	}
	if got[1].Label != "1_10" || got[1].Min != 1 || *got[1].Max != 10 {
		t.Errorf("unexpected bucket %+v", got[1])
	}
	if got[2].Max != nil || got[2].Min != 11 {
		t.Errorf("last bucket should be open from 11, got %+v", got[2])
	}

	for _, bad := range []string{"nolabel", "x:1", "x:a-3", "x:1-b"} {
		if _, err := ParseBuckets(bad); !errors.Is(err, ErrInvalidFamily) {
			t.Errorf("ParseBuckets(%q) = %v, want ErrInvalidFamily", bad, err)
		}
	}
}

func TestFamilyLabel(t *testing.T) {
	c := Default()
	tests := []struct {
		family, name, label string
		ok                  bool
	}{
		{"retweets", "twitter_retweets_1_10", "1_10", true},
		{"retweets", "twitter_retweets_p50", "", false},
		{"retweets", "twitter_retweets_per_user", "", false},
		{"engagement", "twitter_engagement_ratio", "", false},
		{"engagement", "twitter_engagement_0_10", "0_10", true},
		{"hourly", "twitter_hour_07_tweets", "07", true},
		{"hourly", "twitter_hour_24_tweets", "", false},
		{"user_activity", "twitter_users_100plus_tweets", "100plus_tweets", true},
	}
	for _, tt := range tests {
		label, ok := c.Family(tt.family).Label(tt.name)
		if label != tt.label || ok != tt.ok {
			t.Errorf("%s.Label(%q) = %q, %v; want %q, %v", tt.family, tt.name, label, ok, tt.label, tt.ok)
		}
	}
}

func TestFamilyLocate(t *testing.T) {
	f := Default().Family("user_activity")
	tests := map[int64]string{1: "1_tweet", 5: "2_5_tweets", 20: "6_20_tweets", 100: "21_100_tweets", 101: "100plus_tweets"}
	for v, want := range tests {
		i := f.Locate(v)
		if i < 0 || f.Buckets[i].Label != want {
			t.Errorf("Locate(%d) = %d, want bucket %s", v, i, want)
		}
	}
	if i := f.Locate(0); i != -1 {
		t.Errorf("Locate(0) = %d, want -1", i)
	}
}

func TestQueryCQLUsesBindMarkers(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := Query{
		Where:   []Predicate{Since{Window: time.Hour}, AnyOf{AtLeast(FieldRetweets, 101), AtLeast(FieldLikes, 501)}},
		Select:  []Aggregate{{Func: Count}, {Func: Percentile, Field: FieldLikes, P: 0.9}},
		GroupBy: FieldUser, OrderBy: 0, Descending: true, Limit: 10,
	}
	stmt, args := q.CQL("tweets", now)

	want := "SELECT user, COUNT(*) AS a0, PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY likes) AS a1 FROM tweets " +
		"WHERE date > ? AND (retweets >= ? OR likes >= ?) GROUP BY user ORDER BY a0 DESC LIMIT ?"
	if stmt != want {
		t.Errorf("statement\n got: %s\nwant: %s", stmt, want)
	}
	if len(args) != 5 {
		t.Fatalf("got %d args, want 5: %v", len(args), args)
	}
	if args[0] != 0.9 {
		t.Errorf("percentile arg = %v", args[0])
	}
	if cutoff, ok := args[1].(time.Time); !ok || !cutoff.Equal(now.Add(-time.Hour)) {
		t.Errorf("cutoff arg = %v", args[1])
	}
	if args[2] != int64(101) || args[3] != int64(501) || args[4] != 10 {
		t.Errorf("unexpected args %v", args[2:])
	}
	if strings.Contains(stmt, "101") || strings.Contains(stmt, "0.9") {
		t.Errorf("values interpolated into statement: %s", stmt)
	}
}

func TestRangeRender(t *testing.T) {
	tests := []struct {
		r    Range
		want string
	}{
		{Equal(FieldRetweets, 0), "retweets = ?"},
		{Between(FieldTextLength, 51, 100), "LENGTH(text) BETWEEN ? AND ?"},
		{AtLeast(FieldEngagement, 5001), "(retweets + likes) >= ?"},
		{AtMost(FieldLikes, 3), "likes <= ?"},
	}
	for _, tt := range tests {
		if got, _ := tt.r.Render(time.Time{}); got != tt.want {
			t.Errorf("Render() = %q, want %q", got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	values := map[string]float64{"rt": 30, "likes": 70, "total": 0, "n": 10, "avg": 0.5}

	r := Ratio{Numerator: []string{"rt", "likes"}, Denominator: "total"}
	if v, err := r.Eval(values); err != nil || v != 0 {
		t.Errorf("zero denominator: got %v, %v; want 0", v, err)
	}

	r = Ratio{Numerator: []string{"rt", "likes"}, Denominator: "n"}
	if v, _ := r.Eval(values); v != 10 {
		t.Errorf("got %v, want 10", v)
	}

	r = Ratio{Numerator: []string{"rt"}, Denominator: "avg", Guard: "n", Floor: 1}
	if v, _ := r.Eval(values); v != 30 {
		t.Errorf("floored: got %v, want 30", v)
	}

	r = Ratio{Numerator: []string{"missing"}, Denominator: "n"}
	if _, err := r.Eval(values); !errors.Is(err, ErrMissingOperand) {
		t.Errorf("got %v, want ErrMissingOperand", err)
	}
}
