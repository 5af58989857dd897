package catalogue

import (
	"errors"
	"fmt"
)

// ErrMissingOperand is returned by a formula referencing a metric that no
// earlier entry of the cycle produced.
var ErrMissingOperand = errors.New("formula operand not computed")

// Entry is one step of a refresh cycle. The concrete kinds are Scalar,
// Grouped, Ranked and Derived.
type Entry interface {
	// Name identifies the entry in logs and traces.
	Name() string
}

// Scalar runs a single-row query; the i-th column becomes Select[i].Metric.
type Scalar struct {
	Label string
	Query Query
}

// Name implements Entry.
func (s Scalar) Name() string { return s.Label }

// Grouped runs a query grouped by user whose first column is a per-group
// count, and publishes how many groups fall into each bucket of Family.
type Grouped struct {
	Query  Query
	Family *Family
}

// Name implements Entry.
func (g Grouped) Name() string { return g.Family.Key }

// Column maps a select item of a ranked query to a metric name template.
// Template receives the 1-based rank, e.g. "twitter_top_user_%d_tweets".
type Column struct {
	Template string
	Select   int
}

// Ranked runs an ordered, limited grouped query and names each value by rank.
type Ranked struct {
	Label   string
	Query   Query
	Columns []Column
}

// Name implements Entry.
func (r Ranked) Name() string { return r.Label }

// Metric returns the metric name of column c at rank (1-based).
func (c Column) Metric(rank int) string { return fmt.Sprintf(c.Template, rank) }

// Formula computes a value from metrics produced earlier in the cycle.
type Formula interface {
	Eval(values map[string]float64) (float64, error)
}

// Derived publishes the result of Formula as Metric.
type Derived struct {
	Metric  string
	Formula Formula
}

// Name implements Entry.
func (d Derived) Name() string { return d.Metric }

// Ratio divides the sum of Numerator metrics by Denominator. The result is
// zero when Guard (or, when Guard is empty, the denominator) is zero. A
// non-zero Floor replaces smaller denominators.
type Ratio struct {
	Numerator   []string
	Denominator string
	Guard       string
	Floor       float64
}

// Eval implements Formula.
func (r Ratio) Eval(values map[string]float64) (float64, error) {
	den, err := operand(values, r.Denominator)
	if err != nil {
		return 0, err
	}
	guard := den
	if r.Guard != "" {
		if guard, err = operand(values, r.Guard); err != nil {
			return 0, err
		}
	}
	var num float64
	for _, name := range r.Numerator {
		v, err := operand(values, name)
		if err != nil {
			return 0, err
		}
		num += v
	}
	if guard == 0 {
		return 0, nil
	}
	if r.Floor != 0 && den < r.Floor {
		den = r.Floor
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

// Alias copies Source.
type Alias struct {
	Source string
}

// Eval implements Formula.
func (a Alias) Eval(values map[string]float64) (float64, error) {
	return operand(values, a.Source)
}

func operand(values map[string]float64, name string) (float64, error) {
	v, ok := values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingOperand, name)
	}
	return v, nil
}
