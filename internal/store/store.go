// Package store is the data store collaborator of the refresher.
//
// A Connector opens a Session per refresh cycle; a Session executes
// catalogue queries and returns positional rows. Two implementations are
// provided: Cassandra (gocql) and an in-memory tweet table used for local
// runs and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
)

// Error classes. Implementations wrap one of these so the refresher can
// classify failures with errors.Is.
var (
	// ErrConnect indicates the store could not be reached.
	ErrConnect = errors.New("store unreachable")

	// ErrQuery indicates a statement was rejected or failed.
	ErrQuery = errors.New("query failed")

	// ErrConvert indicates a result value is not numeric.
	ErrConvert = errors.New("value conversion failed")
)

// Row is one result row. Values are positional, one per select item of the
// query; Group holds the group key of grouped queries.
type Row struct {
	Group  interface{}
	Values []interface{}
}

// Session executes queries. It is used by a single goroutine.
type Session interface {
	Query(ctx context.Context, q catalogue.Query) ([]Row, error)
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Open(ctx context.Context) (Session, error)
}

// Float converts a result value to float64. A nil (SQL NULL) value yields
// zero. NaN and infinities are rejected.
func Float(v interface{}) (float64, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case *big.Int:
		if t == nil {
			return 0, nil
		}
		f, _ = new(big.Float).SetInt(t).Float64()
	case *big.Float:
		if t == nil {
			return 0, nil
		}
		f, _ = t.Float64()
	case fmt.Stringer:
		// decimal types such as *inf.Dec
		parsed, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %T %q", ErrConvert, v, t.String())
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrConvert, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v is not finite", ErrConvert, f)
	}
	return f, nil
}
