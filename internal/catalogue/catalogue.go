package catalogue

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOptions is returned by New for options that would publish a
// malformed or repeated metric name.
var ErrInvalidOptions = errors.New("invalid catalogue options")

// TimeWindow scopes "active in the last N" statistics.
type TimeWindow struct {
	Label    string
	Duration time.Duration
}

// DefaultWindows are the windows of the activity statistics.
var DefaultWindows = []TimeWindow{
	{Label: "1h", Duration: time.Hour},
	{Label: "6h", Duration: 6 * time.Hour},
	{Label: "24h", Duration: 24 * time.Hour},
	{Label: "7d", Duration: 7 * 24 * time.Hour},
}

// DefaultPercentiles are the retweet and like percentiles, in percent.
var DefaultPercentiles = []int{25, 50, 75, 90, 95, 99}

// Options tunes the catalogue built by New. Zero fields take defaults.
type Options struct {
	Table       string
	TopUsers    int
	Percentiles []int
	Windows     []TimeWindow
	// Buckets replaces the buckets of the family with the given key.
	Buckets map[string][]BucketSpec
	// HourlyWindow bounds the time-of-day histogram.
	HourlyWindow time.Duration
}

// Catalogue is the ordered, validated list of entries of a refresh cycle.
type Catalogue struct {
	Table    string
	Families []*Family
	Entries  []Entry
}

// Default returns the catalogue built from zero Options.
func Default() *Catalogue {
	c, err := New(Options{})
	if err != nil {
		// the built-in families are contiguous
		panic(err)
	}
	return c
}

// Family returns the family registered under key, or nil.
func (c *Catalogue) Family(key string) *Family {
	for _, f := range c.Families {
		if f.Key == key {
			return f
		}
	}
	return nil
}

// Metrics lists every metric name the catalogue publishes on a live cycle,
// in execution order. Ranked entries contribute rank 1..Limit.
func (c *Catalogue) Metrics() []string {
	var names []string
	for _, e := range c.Entries {
		switch e := e.(type) {
		case Scalar:
			for _, agg := range e.Query.Select {
				names = append(names, agg.Metric)
			}
		case Grouped:
			names = append(names, e.Family.Metrics()...)
		case Ranked:
			for rank := 1; rank <= e.Query.Limit; rank++ {
				for _, col := range e.Columns {
					names = append(names, col.Metric(rank))
				}
			}
		case Derived:
			names = append(names, e.Metric)
		}
	}
	return names
}

// New builds the catalogue. The entry order is the execution order: derived
// entries only reference metrics produced by entries before them.
func New(opts Options) (*Catalogue, error) {
	if opts.Table == "" {
		opts.Table = "tweets"
	}
	if opts.TopUsers <= 0 {
		opts.TopUsers = 10
	}
	if len(opts.Percentiles) == 0 {
		opts.Percentiles = DefaultPercentiles
	}
	if len(opts.Windows) == 0 {
		opts.Windows = DefaultWindows
	}
	if opts.HourlyWindow <= 0 {
		opts.HourlyWindow = 7 * 24 * time.Hour
	}

	for _, w := range opts.Windows {
		if !ValidLabel(w.Label) {
			return nil, fmt.Errorf("%w: window label %q is not a metric name part", ErrInvalidOptions, w.Label)
		}
	}

	families := defaultFamilies(opts.HourlyWindow)
	for _, f := range families {
		if buckets, ok := opts.Buckets[f.Key]; ok {
			f.Buckets = buckets
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	for key := range opts.Buckets {
		if familyByKey(families, key) == nil {
			return nil, fmt.Errorf("%w: unknown family %q", ErrInvalidFamily, key)
		}
	}

	c := &Catalogue{Table: opts.Table, Families: families}
	add := func(e ...Entry) { c.Entries = append(c.Entries, e...) }

	add(Scalar{Label: "tweets_total", Query: scalar(nil,
		Aggregate{Metric: "twitter_tweets_total", Func: Count, Int: true},
	)})

	add(Scalar{Label: "engagement_stats", Query: scalar(nil,
		Aggregate{Metric: "twitter_total_retweets", Func: Sum, Field: FieldRetweets, Int: true},
		Aggregate{Metric: "twitter_total_likes", Func: Sum, Field: FieldLikes, Int: true},
		Aggregate{Metric: "twitter_avg_retweets", Func: Avg, Field: FieldRetweets},
		Aggregate{Metric: "twitter_avg_likes", Func: Avg, Field: FieldLikes},
		Aggregate{Metric: "twitter_max_retweets", Func: Max, Field: FieldRetweets, Int: true},
		Aggregate{Metric: "twitter_max_likes", Func: Max, Field: FieldLikes, Int: true},
		Aggregate{Metric: "twitter_min_retweets", Func: Min, Field: FieldRetweets, Int: true},
		Aggregate{Metric: "twitter_min_likes", Func: Min, Field: FieldLikes, Int: true},
		Aggregate{Metric: "twitter_median_retweets", Func: Percentile, Field: FieldRetweets, P: 0.5},
		Aggregate{Metric: "twitter_median_likes", Func: Percentile, Field: FieldLikes, P: 0.5},
		Aggregate{Metric: "twitter_stddev_retweets", Func: Stddev, Field: FieldRetweets},
		Aggregate{Metric: "twitter_stddev_likes", Func: Stddev, Field: FieldLikes},
	)})

	for _, key := range []string{"retweets", "likes", "text_length"} {
		add(bucketEntries(familyByKey(families, key))...)
	}

	users := familyByKey(families, "user_activity")
	add(Grouped{Family: users, Query: Query{
		GroupBy: FieldUser,
		Select:  []Aggregate{{Func: Count, Int: true}},
		OrderBy: -1,
	}})

	add(bucketEntries(familyByKey(families, "engagement"))...)
	add(bucketEntries(familyByKey(families, "hourly"))...)

	add(Scalar{Label: "total_users", Query: scalar(nil,
		Aggregate{Metric: "twitter_total_users", Func: CountDistinct, Field: FieldUser, Int: true},
	)})
	for _, w := range opts.Windows {
		add(Scalar{Label: "active_users_" + w.Label, Query: scalar([]Predicate{Since{Window: w.Duration}},
			Aggregate{Metric: "twitter_active_users_" + w.Label, Func: CountDistinct, Field: FieldUser, Int: true},
		)})
	}
	for _, w := range opts.Windows {
		add(Scalar{Label: "tweets_last_" + w.Label, Query: scalar([]Predicate{Since{Window: w.Duration}},
			Aggregate{Metric: "twitter_tweets_last_" + w.Label, Func: Count, Int: true},
		)})
	}
	add(Derived{Metric: "twitter_tweets_per_hour", Formula: Alias{Source: "twitter_tweets_last_" + opts.Windows[0].Label}})

	add(
		Derived{Metric: "twitter_engagement_ratio", Formula: Ratio{
			Numerator: []string{"twitter_total_retweets", "twitter_total_likes"}, Denominator: "twitter_tweets_total"}},
		Derived{Metric: "twitter_retweet_ratio", Formula: Ratio{
			Numerator: []string{"twitter_total_retweets"}, Denominator: "twitter_tweets_total"}},
		Derived{Metric: "twitter_like_ratio", Formula: Ratio{
			Numerator: []string{"twitter_total_likes"}, Denominator: "twitter_tweets_total"}},
		Derived{Metric: "twitter_virality_score", Formula: Ratio{
			Numerator: []string{"twitter_max_retweets"}, Denominator: "twitter_avg_retweets",
			Guard: "twitter_tweets_total", Floor: 1}},
	)

	add(Ranked{
		Label: "top_users",
		Query: Query{
			GroupBy: FieldUser,
			Select: []Aggregate{
				{Func: Count, Int: true},
				{Func: Avg, Field: FieldRetweets},
				{Func: Avg, Field: FieldLikes},
			},
			OrderBy:    0,
			Descending: true,
			Limit:      opts.TopUsers,
		},
		Columns: []Column{
			{Template: "twitter_top_user_%d_tweets", Select: 0},
			{Template: "twitter_top_user_%d_name_tweets", Select: 0},
			{Template: "twitter_top_user_%d_avg_retweets", Select: 1},
			{Template: "twitter_top_user_%d_avg_likes", Select: 2},
		},
	})

	for _, p := range opts.Percentiles {
		frac := float64(p) / 100
		add(
			Scalar{Label: fmt.Sprintf("retweets_p%d", p), Query: scalar([]Predicate{AtLeast(FieldRetweets, 1)},
				Aggregate{Metric: fmt.Sprintf("twitter_retweets_p%d", p), Func: Percentile, Field: FieldRetweets, P: frac},
			)},
			Scalar{Label: fmt.Sprintf("likes_p%d", p), Query: scalar([]Predicate{AtLeast(FieldLikes, 1)},
				Aggregate{Metric: fmt.Sprintf("twitter_likes_p%d", p), Func: Percentile, Field: FieldLikes, P: frac},
			)},
		)
	}

	add(Scalar{Label: "text_analysis", Query: scalar(nil,
		Aggregate{Metric: "twitter_avg_text_length", Func: Avg, Field: FieldTextLength},
		Aggregate{Metric: "twitter_max_text_length", Func: Max, Field: FieldTextLength, Int: true},
		Aggregate{Metric: "twitter_min_text_length", Func: Min, Field: FieldTextLength, Int: true},
	)})

	add(
		Scalar{Label: "high_engagement", Query: scalar(
			[]Predicate{AnyOf{AtLeast(FieldRetweets, 101), AtLeast(FieldLikes, 501)}},
			Aggregate{Metric: "twitter_high_engagement_tweets", Func: Count, Int: true},
		)},
		Scalar{Label: "viral", Query: scalar([]Predicate{AtLeast(FieldRetweets, 1001)},
			Aggregate{Metric: "twitter_viral_tweets", Func: Count, Int: true},
		)},
	)

	add(
		Derived{Metric: "twitter_tweets_per_user", Formula: Ratio{
			Numerator: []string{"twitter_tweets_total"}, Denominator: "twitter_total_users"}},
		Derived{Metric: "twitter_retweets_per_user", Formula: Ratio{
			Numerator: []string{"twitter_total_retweets"}, Denominator: "twitter_total_users"}},
		Derived{Metric: "twitter_likes_per_user", Formula: Ratio{
			Numerator: []string{"twitter_total_likes"}, Denominator: "twitter_total_users"}},
	)

	seen := make(map[string]bool)
	for _, name := range c.Metrics() {
		if seen[name] {
			return nil, fmt.Errorf("%w: metric %s is produced twice", ErrInvalidOptions, name)
		}
		seen[name] = true
	}
	return c, nil
}

// bucketEntries expands a tweet-counting family into one count query per bucket.
func bucketEntries(f *Family) []Entry {
	entries := make([]Entry, 0, len(f.Buckets))
	for _, b := range f.Buckets {
		where := append(append([]Predicate(nil), f.Domain...), b.Range(f.Field))
		entries = append(entries, Scalar{
			Label: f.Key + "_" + b.Label,
			Query: scalar(where, Aggregate{Metric: f.Metric(b), Func: Count, Int: true}),
		})
	}
	return entries
}

func familyByKey(families []*Family, key string) *Family {
	for _, f := range families {
		if f.Key == key {
			return f
		}
	}
	return nil
}

func defaultFamilies(hourlyWindow time.Duration) []*Family {
	const lastSecond = 24*3600 - 1
	hours := make([]BucketSpec, 24)
	for h := range hours {
		lo := int64(h * 3600)
		hours[h] = Bucket(fmt.Sprintf("%02d", h), lo, lo+3599)
	}
	return []*Family{
		{
			Key: "retweets", Distribution: "retweet_distribution",
			Prefix: "twitter_retweets_", Field: FieldRetweets,
			Buckets: []BucketSpec{
				Bucket("0", 0, 0),
				Bucket("1_10", 1, 10),
				Bucket("11_50", 11, 50),
				Bucket("51_100", 51, 100),
				Bucket("101_500", 101, 500),
				Bucket("501_1000", 501, 1000),
				OpenBucket("1000plus", 1001),
			},
		},
		{
			Key: "likes", Distribution: "like_distribution",
			Prefix: "twitter_likes_", Field: FieldLikes,
			Buckets: []BucketSpec{
				Bucket("0", 0, 0),
				Bucket("1_20", 1, 20),
				Bucket("21_100", 21, 100),
				Bucket("101_500", 101, 500),
				Bucket("501_2000", 501, 2000),
				Bucket("2001_10000", 2001, 10000),
				OpenBucket("10000plus", 10001),
			},
		},
		{
			Key: "text_length", Distribution: "text_length_distribution",
			Prefix: "twitter_text_length_", Field: FieldTextLength,
			Buckets: []BucketSpec{
				Bucket("0_50", 0, 50),
				Bucket("51_100", 51, 100),
				Bucket("101_150", 101, 150),
				Bucket("151_200", 151, 200),
				Bucket("201_280", 201, 280),
				OpenBucket("281plus", 281),
			},
		},
		{
			Key: "user_activity", Distribution: "user_activity_distribution",
			Prefix: "twitter_users_", PerUser: true, Lowest: 1,
			Buckets: []BucketSpec{
				Bucket("1_tweet", 1, 1),
				Bucket("2_5_tweets", 2, 5),
				Bucket("6_20_tweets", 6, 20),
				Bucket("21_100_tweets", 21, 100),
				OpenBucket("100plus_tweets", 101),
			},
		},
		{
			Key: "engagement", Distribution: "engagement_distribution",
			Prefix: "twitter_engagement_", Field: FieldEngagement,
			Buckets: []BucketSpec{
				Bucket("0_10", 0, 10),
				Bucket("11_50", 11, 50),
				Bucket("51_200", 51, 200),
				Bucket("201_1000", 201, 1000),
				Bucket("1001_5000", 1001, 5000),
				OpenBucket("5001plus", 5001),
			},
		},
		{
			Key: "hourly", Distribution: "hourly_distribution",
			Prefix: "twitter_hour_", Suffix: "_tweets", Field: FieldSecondOfDay,
			Domain:  []Predicate{Since{Window: hourlyWindow}},
			Highest: int64Ptr(lastSecond),
			Buckets: hours,
		},
	}
}

func int64Ptr(v int64) *int64 { return &v }
