// Package catalogue declares, as plain data, every statistic the exporter
// computes on each refresh cycle.
//
// A catalogue is an ordered list of entries. Scalar, Grouped and Ranked
// entries wrap a Query that a store session executes; Derived entries are
// formulas over metrics produced earlier in the same cycle. Adding a bucket,
// a percentile or a time window is a change to the data built by New, never
// to the code that executes it.
package catalogue

import (
	"fmt"
	"strings"
	"time"
)

// Field identifies a column, or an expression over columns, of the tweets table.
type Field int

const (
	FieldNone Field = iota
	FieldRetweets
	FieldLikes
	FieldTextLength
	FieldEngagement // retweets + likes
	FieldUser
	FieldDate
	FieldSecondOfDay // seconds elapsed since midnight UTC of the tweet date
)

// String returns the short field name used in logs and span attributes.
func (f Field) String() string {
	switch f {
	case FieldRetweets:
		return "retweets"
	case FieldLikes:
		return "likes"
	case FieldTextLength:
		return "text_length"
	case FieldEngagement:
		return "engagement"
	case FieldUser:
		return "user"
	case FieldDate:
		return "date"
	case FieldSecondOfDay:
		return "second_of_day"
	default:
		return "none"
	}
}

// CQL returns the statement expression for the field.
func (f Field) CQL() string {
	switch f {
	case FieldRetweets:
		return "retweets"
	case FieldLikes:
		return "likes"
	case FieldTextLength:
		return "LENGTH(text)"
	case FieldEngagement:
		return "(retweets + likes)"
	case FieldUser:
		return "user"
	case FieldDate:
		return "date"
	case FieldSecondOfDay:
		return "toUnixTimestamp(date) % 86400"
	default:
		return ""
	}
}

// Predicate is a row filter. Implementations are Range, Since and AnyOf.
type Predicate interface {
	// Render returns the statement fragment and its bind arguments.
	Render(now time.Time) (string, []interface{})
}

// Range matches rows whose field lies within [Min, Max]. A nil bound is open.
type Range struct {
	Field Field
	Min   *int64
	Max   *int64
}

// Between returns an inclusive range predicate.
func Between(f Field, lo, hi int64) Range { return Range{Field: f, Min: &lo, Max: &hi} }

// AtLeast returns a predicate with only a lower bound.
func AtLeast(f Field, lo int64) Range { return Range{Field: f, Min: &lo} }

// AtMost returns a predicate with only an upper bound.
func AtMost(f Field, hi int64) Range { return Range{Field: f, Max: &hi} }

// Equal returns a predicate matching exactly v.
func Equal(f Field, v int64) Range { return Between(f, v, v) }

// Contains reports whether v satisfies the range.
func (r Range) Contains(v int64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Render implements Predicate.
func (r Range) Render(time.Time) (string, []interface{}) {
	expr := r.Field.CQL()
	switch {
	case r.Min != nil && r.Max != nil && *r.Min == *r.Max:
		return expr + " = ?", []interface{}{*r.Min}
	case r.Min != nil && r.Max != nil:
		return expr + " BETWEEN ? AND ?", []interface{}{*r.Min, *r.Max}
	case r.Min != nil:
		return expr + " >= ?", []interface{}{*r.Min}
	case r.Max != nil:
		return expr + " <= ?", []interface{}{*r.Max}
	default:
		return "", nil
	}
}

// Since matches rows dated strictly after now minus Window.
type Since struct {
	Window time.Duration
}

// Cutoff returns the earliest excluded instant relative to now.
func (s Since) Cutoff(now time.Time) time.Time { return now.Add(-s.Window) }

// Render implements Predicate.
func (s Since) Render(now time.Time) (string, []interface{}) {
	return FieldDate.CQL() + " > ?", []interface{}{s.Cutoff(now)}
}

// AnyOf matches rows satisfying at least one of its predicates.
type AnyOf []Predicate

// Render implements Predicate.
func (a AnyOf) Render(now time.Time) (string, []interface{}) {
	parts := make([]string, 0, len(a))
	var args []interface{}
	for _, p := range a {
		frag, pargs := p.Render(now)
		if frag == "" {
			continue
		}
		parts = append(parts, frag)
		args = append(args, pargs...)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// Func is an aggregation function.
type Func int

const (
	Count Func = iota
	CountDistinct
	Sum
	Avg
	Min
	Max
	Stddev
	Percentile
)

func (fn Func) String() string {
	switch fn {
	case Count:
		return "count"
	case CountDistinct:
		return "count_distinct"
	case Sum:
		return "sum"
	case Avg:
		return "avg"
	case Min:
		return "min"
	case Max:
		return "max"
	case Stddev:
		return "stddev"
	case Percentile:
		return "percentile"
	default:
		return "unknown"
	}
}

// Aggregate is one select item. Metric names the value it produces in a
// Scalar entry; grouped and ranked entries name their outputs themselves.
type Aggregate struct {
	Metric string
	Func   Func
	Field  Field
	// P is the percentile fraction in [0, 1], used only by Percentile.
	P float64
	// Int truncates the value to a whole number.
	Int bool
}

func (a Aggregate) render() (string, []interface{}) {
	expr := a.Field.CQL()
	switch a.Func {
	case Count:
		return "COUNT(*)", nil
	case CountDistinct:
		return "COUNT(DISTINCT " + expr + ")", nil
	case Sum:
		return "SUM(" + expr + ")", nil
	case Avg:
		return "AVG(" + expr + ")", nil
	case Min:
		return "MIN(" + expr + ")", nil
	case Max:
		return "MAX(" + expr + ")", nil
	case Stddev:
		return "STDDEV(" + expr + ")", nil
	case Percentile:
		return "PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY " + expr + ")", []interface{}{a.P}
	default:
		return "", nil
	}
}

// Query is a single statement against the tweets table.
type Query struct {
	Where  []Predicate
	Select []Aggregate
	// GroupBy partitions rows; FieldNone yields exactly one result row.
	GroupBy Field
	// OrderBy indexes Select; negative means unordered.
	OrderBy    int
	Descending bool
	// Limit caps the number of rows; zero means unlimited.
	Limit int
}

// ColumnAlias returns the column alias of the i-th select item.
func ColumnAlias(i int) string { return fmt.Sprintf("a%d", i) }

// Grouped reports whether the query partitions rows.
func (q Query) Grouped() bool { return q.GroupBy != FieldNone }

// CQL renders the statement for table with bind arguments in marker order.
// Only field expressions and fixed keywords are written into the statement.
func (q Query) CQL(table string, now time.Time) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}

	b.WriteString("SELECT ")
	cols := make([]string, 0, len(q.Select)+1)
	if q.Grouped() {
		cols = append(cols, q.GroupBy.CQL())
	}
	for i, agg := range q.Select {
		expr, aargs := agg.render()
		cols = append(cols, expr+" AS "+ColumnAlias(i))
		args = append(args, aargs...)
	}
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(table)

	conds := make([]string, 0, len(q.Where))
	for _, p := range q.Where {
		frag, pargs := p.Render(now)
		if frag == "" {
			continue
		}
		conds = append(conds, frag)
		args = append(args, pargs...)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if q.Grouped() {
		b.WriteString(" GROUP BY ")
		b.WriteString(q.GroupBy.CQL())
	}
	if q.OrderBy >= 0 && q.OrderBy < len(q.Select) {
		b.WriteString(" ORDER BY ")
		b.WriteString(ColumnAlias(q.OrderBy))
		if q.Descending {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args
}

// scalar builds an unordered single-row query.
func scalar(where []Predicate, sel ...Aggregate) Query {
	return Query{Where: where, Select: sel, OrderBy: -1}
}
