package presentation

import (
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
)

func fallbackSnapshot() *snapshot.Snapshot {
	values := snapshot.Fallback()
	values["twitter_retweets_p50"] = 4
	values["twitter_retweets_per_user"] = 2.5
	values["twitter_engagement_ratio"] = 37.8
	values["twitter_likes_per_user"] = 1
	return snapshot.New(values, snapshot.SourceFallback, 0, time.Now())
}

func TestFlatOneLinePerMetric(t *testing.T) {
	snap := fallbackSnapshot()
	out := Flat(snap)
	if !strings.HasSuffix(out, "\n") {
		t.Error("output should end with a newline")
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != snap.Len() {
		t.Fatalf("got %d lines for %d metrics", len(lines), snap.Len())
	}
	seen := make(map[string]bool)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, " ")
		if !ok {
			t.Fatalf("line %q has no space", line)
		}
		if seen[name] {
			t.Errorf("%s appears twice", name)
		}
		seen[name] = true
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			t.Errorf("line %q: %v", line, err)
		}
		if v != snap.Value(name) {
			t.Errorf("%s = %v, want %v", name, v, snap.Value(name))
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := map[float64]string{150: "150", 12.5: "12.5", 0: "0", 25.3: "25.3", 1e6: "1000000"}
	for in, want := range tests {
		if got := FormatValue(in); got != want {
			t.Errorf("FormatValue(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestJSONMatchesSnapshot(t *testing.T) {
	snap := fallbackSnapshot()
	if !reflect.DeepEqual(JSON(snap), snap.Values()) {
		t.Error("JSON differs from the snapshot values")
	}
}

func TestHistogramGroupsBucketsOnly(t *testing.T) {
	h := NewHistogrammer(catalogue.Default().Families)
	got := h.Group(fallbackSnapshot())

	for _, name := range []string{
		"retweet_distribution", "like_distribution", "text_length_distribution",
		"user_activity_distribution", "engagement_distribution", "hourly_distribution",
	} {
		if _, ok := got[name]; !ok {
			t.Errorf("distribution %s missing", name)
		}
	}

	rt := got["retweet_distribution"]
	if len(rt) != 7 || rt["0"] != 45 || rt["1000plus"] != 0 {
		t.Errorf("retweet_distribution = %v", rt)
	}
	for _, excluded := range []string{"p50", "per_user"} {
		if _, ok := rt[excluded]; ok {
			t.Errorf("retweet_distribution includes %s", excluded)
		}
	}
	if _, ok := got["engagement_distribution"]["ratio"]; ok {
		t.Error("engagement_distribution includes the engagement ratio")
	}
	if _, ok := got["like_distribution"]["per_user"]; ok {
		t.Error("like_distribution includes likes per user")
	}
	if hourly := got["hourly_distribution"]; len(hourly) != 24 || hourly["13"] != 25 {
		t.Errorf("hourly_distribution = %v", hourly)
	}
	if users := got["user_activity_distribution"]; users["1_tweet"] != 15 {
		t.Errorf("user_activity_distribution = %v", users)
	}
}

func TestHistogramEmptySnapshot(t *testing.T) {
	h := NewHistogrammer(catalogue.Default().Families)
	got := h.Group(snapshot.New(nil, snapshot.SourceLive, 1, time.Now()))
	if len(got) != 6 {
		t.Fatalf("got %d distributions, want 6", len(got))
	}
	for name, buckets := range got {
		if buckets == nil || len(buckets) != 0 {
			t.Errorf("%s = %v, want empty", name, buckets)
		}
	}
}

func TestPieChartRetweets(t *testing.T) {
	p := NewPieCharts(catalogue.Default())
	chart := p.Chart(fallbackSnapshot(), "retweets")

	wantLabels := []string{"0 RT", "1-10 RT", "11-50 RT", "51-100 RT", "101-500 RT", "501-1000 RT", "1000+ RT"}
	wantValues := []float64{45, 60, 30, 10, 4, 1, 0}
	if !reflect.DeepEqual(chart.Labels, wantLabels) {
		t.Errorf("labels = %v", chart.Labels)
	}
	if !reflect.DeepEqual(chart.Values, wantValues) {
		t.Errorf("values = %v", chart.Values)
	}
	if !reflect.DeepEqual(chart.Colors, Palette) {
		t.Errorf("colors = %v", chart.Colors)
	}
}

func TestPieChartTypes(t *testing.T) {
	p := NewPieCharts(catalogue.Default())
	snap := fallbackSnapshot()
	tests := []struct {
		chart string
		first string
		last  string
		n     int
	}{
		{"likes", "0 Likes", "10000+", 7},
		{"text_length", "0-50 chars", "280+", 6},
	}
	for _, tt := range tests {
		chart := p.Chart(snap, tt.chart)
		if len(chart.Labels) != tt.n || len(chart.Values) != tt.n {
			t.Errorf("%s: %d labels, %d values", tt.chart, len(chart.Labels), len(chart.Values))
			continue
		}
		if chart.Labels[0] != tt.first || chart.Labels[tt.n-1] != tt.last {
			t.Errorf("%s labels = %v", tt.chart, chart.Labels)
		}
	}
}

func TestPieChartMissingBucketsAreZero(t *testing.T) {
	p := NewPieCharts(catalogue.Default())
	chart := p.Chart(snapshot.New(map[string]float64{"twitter_likes_0": 3}, snapshot.SourceLive, 1, time.Now()), "likes")
	want := []float64{3, 0, 0, 0, 0, 0, 0}
	if !reflect.DeepEqual(chart.Values, want) {
		t.Errorf("values = %v", chart.Values)
	}
}

func TestPieChartUnknownType(t *testing.T) {
	p := NewPieCharts(catalogue.Default())
	chart := p.Chart(fallbackSnapshot(), "followers")
	if chart.Labels == nil || chart.Values == nil {
		t.Fatal("unknown type should yield empty, non-nil slices")
	}
	if len(chart.Labels) != 0 || len(chart.Values) != 0 {
		t.Errorf("unexpected chart %+v", chart)
	}
	if len(chart.Colors) != len(Palette) {
		t.Errorf("colors = %v", chart.Colors)
	}
}

func TestPieChartReconfiguredBuckets(t *testing.T) {
	cat, err := catalogue.New(catalogue.Options{Buckets: map[string][]catalogue.BucketSpec{
		"retweets": {catalogue.Bucket("0", 0, 0), catalogue.Bucket("some", 1, 99), catalogue.OpenBucket("many", 100)},
	}})
	if err != nil {
		t.Fatalf("catalogue.New: %v", err)
	}
	chart := NewPieCharts(cat).Chart(snapshot.New(nil, snapshot.SourceLive, 1, time.Now()), "retweets")
	want := []string{"0 RT", "1-99", "100+"}
	if !reflect.DeepEqual(chart.Labels, want) {
		t.Errorf("labels = %v", chart.Labels)
	}
}
