package catalogue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFamily is returned when a bucket family is not a contiguous,
// non-overlapping partition of its field.
var ErrInvalidFamily = errors.New("invalid bucket family")

// BucketSpec is one histogram bucket: Min is inclusive, Max is inclusive
// and nil for the open-ended last bucket.
type BucketSpec struct {
	Label string
	Min   int64
	Max   *int64
}

// Bucket returns a bounded bucket.
func Bucket(label string, lo, hi int64) BucketSpec {
	return BucketSpec{Label: label, Min: lo, Max: &hi}
}

// OpenBucket returns a bucket without an upper bound.
func OpenBucket(label string, lo int64) BucketSpec {
	return BucketSpec{Label: label, Min: lo}
}

// Range returns the bucket as a predicate over f.
func (b BucketSpec) Range(f Field) Range {
	lo := b.Min
	r := Range{Field: f, Min: &lo}
	if b.Max != nil {
		hi := *b.Max
		r.Max = &hi
	}
	return r
}

// Contains reports whether v falls into the bucket.
func (b BucketSpec) Contains(v int64) bool {
	return v >= b.Min && (b.Max == nil || v <= *b.Max)
}

// Family is a set of mutually exclusive buckets over one field. Every row
// matching Domain falls into exactly one bucket.
type Family struct {
	// Key names the family in configuration ("retweets", "hourly", ...).
	Key string
	// Distribution is the group name in histogram output.
	Distribution string
	Prefix       string
	Suffix       string
	Field        Field
	Domain       []Predicate
	Buckets      []BucketSpec
	// PerUser buckets users by their tweet count instead of counting tweets.
	PerUser bool
	// Lowest is the smallest value the field takes; the first bucket must
	// start at or below it.
	Lowest int64
	// Highest bounds the field from above when set; the last bucket must
	// reach it.
	Highest *int64
}

// Metric returns the metric name of bucket b.
func (f *Family) Metric(b BucketSpec) string { return f.Prefix + b.Label + f.Suffix }

// Metrics returns the bucket metric names in bucket order.
func (f *Family) Metrics() []string {
	names := make([]string, len(f.Buckets))
	for i, b := range f.Buckets {
		names[i] = f.Metric(b)
	}
	return names
}

// Label strips the family prefix and suffix from a metric name. The second
// result is false unless name is one of the family's bucket metrics.
func (f *Family) Label(name string) (string, bool) {
	if !strings.HasPrefix(name, f.Prefix) || !strings.HasSuffix(name, f.Suffix) {
		return "", false
	}
	if len(name) < len(f.Prefix)+len(f.Suffix) {
		return "", false
	}
	label := name[len(f.Prefix) : len(name)-len(f.Suffix)]
	for _, b := range f.Buckets {
		if b.Label == label {
			return label, true
		}
	}
	return "", false
}

// Locate returns the index of the bucket containing v, or -1.
func (f *Family) Locate(v int64) int {
	for i, b := range f.Buckets {
		if b.Contains(v) {
			return i
		}
	}
	return -1
}

// Validate checks that buckets are contiguous, ordered, uniquely labelled
// and cover the whole value range of the field.
func (f *Family) Validate() error {
	if len(f.Buckets) == 0 {
		return fmt.Errorf("%w: %s has no buckets", ErrInvalidFamily, f.Key)
	}
	if first := f.Buckets[0]; first.Min > f.Lowest {
		return fmt.Errorf("%w: %s bucket %q starts at %d, values from %d are not counted",
			ErrInvalidFamily, f.Key, first.Label, first.Min, f.Lowest)
	}
	if last := f.Buckets[len(f.Buckets)-1]; f.Highest != nil && last.Max != nil && *last.Max < *f.Highest {
		return fmt.Errorf("%w: %s bucket %q ends at %d, values up to %d are not counted",
			ErrInvalidFamily, f.Key, last.Label, *last.Max, *f.Highest)
	}
	seen := make(map[string]bool, len(f.Buckets))
	for i, b := range f.Buckets {
		if !ValidLabel(b.Label) {
			return fmt.Errorf("%w: %s bucket %d label %q is not a metric name part", ErrInvalidFamily, f.Key, i, b.Label)
		}
		if seen[b.Label] {
			return fmt.Errorf("%w: %s bucket label %q is repeated", ErrInvalidFamily, f.Key, b.Label)
		}
		seen[b.Label] = true
		if b.Max != nil && *b.Max < b.Min {
			return fmt.Errorf("%w: %s bucket %q is empty", ErrInvalidFamily, f.Key, b.Label)
		}
		if i == len(f.Buckets)-1 {
			break
		}
		if b.Max == nil {
			return fmt.Errorf("%w: %s bucket %q is open but not last", ErrInvalidFamily, f.Key, b.Label)
		}
		if next := f.Buckets[i+1]; next.Min != *b.Max+1 {
			return fmt.Errorf("%w: %s has a gap or overlap between %q and %q", ErrInvalidFamily, f.Key, b.Label, next.Label)
		}
	}
	return nil
}

// ValidLabel reports whether s may be embedded in a metric name: letters,
// digits and underscores only.
func ValidLabel(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ParseBuckets parses a comma separated bucket list of the form
// "label:lo-hi" or "label:lo-" (open ended), e.g. "0:0-0, 1_10:1-10, 11plus:11-".
func ParseBuckets(s string) ([]BucketSpec, error) {
	var out []BucketSpec
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		label, bounds, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bucket %q lacks a label", ErrInvalidFamily, item)
		}
		loText, hiText, ok := strings.Cut(bounds, "-")
		if !ok {
			return nil, fmt.Errorf("%w: bucket %q lacks a range", ErrInvalidFamily, item)
		}
		lo, err := strconv.ParseInt(strings.TrimSpace(loText), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bucket %q: %v", ErrInvalidFamily, item, err)
		}
		label = strings.TrimSpace(label)
		if hiText = strings.TrimSpace(hiText); hiText == "" {
			out = append(out, OpenBucket(label, lo))
			continue
		}
		hi, err := strconv.ParseInt(hiText, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bucket %q: %v", ErrInvalidFamily, item, err)
		}
		out = append(out, Bucket(label, lo, hi))
	}
	return out, nil
}
