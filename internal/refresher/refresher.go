// Package refresher runs the aggregation catalogue against the data store
// on a fixed interval and publishes the result as a snapshot.
//
// Each cycle opens its own session, executes every entry in catalogue
// order into a private staging map and publishes that map in one atomic
// step. Readers never observe a partially built cycle. A cycle that fails
// anywhere publishes the fallback values instead, so the HTTP surface keeps
// answering while the store is down.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
	"github.com/smart-developer1791/twitter-exporter/internal/store"
	"github.com/smart-developer1791/twitter-exporter/pkg/metrics"
)

// ErrTimeout indicates a cycle exceeded its deadline.
var ErrTimeout = errors.New("refresh cycle timed out")

// maxErrorLen caps the error text kept in logs and fallback snapshots.
const maxErrorLen = 100

// Config tunes the refresh loop. Zero fields take defaults.
type Config struct {
	// Interval separates the end of one cycle from the start of the next.
	Interval time.Duration
	// Timeout bounds one cycle, session acquisition included.
	Timeout time.Duration
	// Fallback replaces the built-in placeholder values when non-nil.
	Fallback map[string]float64
}

// Refresher owns the write side of the snapshot store.
type Refresher struct {
	catalogue *catalogue.Catalogue
	connector store.Connector
	snapshots *snapshot.Store
	metrics   *metrics.Collector
	tracer    trace.Tracer
	cfg       Config

	cycle atomic.Uint64
	wg    sync.WaitGroup
	now   func() time.Time
}

// New returns a refresher. It does nothing until Start or Cycle is called.
func New(cat *catalogue.Catalogue, conn store.Connector, snaps *snapshot.Store, m *metrics.Collector, cfg Config) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Fallback == nil {
		cfg.Fallback = snapshot.Fallback()
	}
	return &Refresher{
		catalogue: cat,
		connector: conn,
		snapshots: snaps,
		metrics:   m,
		tracer:    otel.Tracer("github.com/smart-developer1791/twitter-exporter/internal/refresher"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start launches the refresh loop. The first cycle runs immediately; the
// loop exits when ctx is cancelled, finishing the cycle in flight.
func (r *Refresher) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Wait blocks until the loop started by Start has exited.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()

	log.Infof("refresher started: interval %s, timeout %s, %d entries",
		r.cfg.Interval, r.cfg.Timeout, len(r.catalogue.Entries))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("refresher stopping: %v", ctx.Err())
			return
		case <-timer.C:
		}

		r.Cycle(ctx)

		// re-armed after the cycle so slow cycles never overlap
		timer.Reset(r.cfg.Interval)
	}
}

// Cycle runs one refresh cycle and returns the snapshot it published. It
// returns nil without publishing when ctx was cancelled by the caller.
func (r *Refresher) Cycle(ctx context.Context) *snapshot.Snapshot {
	n := r.cycle.Add(1)
	start := r.now()

	ctx, span := r.tracer.Start(ctx, "refresh.cycle", trace.WithAttributes(
		attribute.Int64("cycle", int64(n)),
		attribute.Int("entries", len(r.catalogue.Entries)),
	))
	defer span.End()

	values, err := r.run(ctx)
	duration := r.now().Sub(start)

	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrTimeout) {
		// shutdown, not a store failure
		span.SetStatus(codes.Error, "cancelled")
		log.Infof("cycle %d abandoned: %v", n, ctx.Err())
		return nil
	}

	var snap *snapshot.Snapshot
	if err != nil {
		class := Classify(err)
		msg := Truncate(err.Error(), maxErrorLen)

		snap = snapshot.NewFallback(r.cfg.Fallback, n, r.now(), msg)

		span.RecordError(err)
		span.SetStatus(codes.Error, class)
		r.metrics.RecordCycle(duration, class, snap.Len())
		log.Warningf("cycle %d failed (%s) after %s, publishing fallback: %s", n, class, duration, msg)
	} else {
		snap = snapshot.New(values, snapshot.SourceLive, n, r.now())

		span.SetAttributes(attribute.Int("metrics", snap.Len()))
		r.metrics.RecordCycle(duration, "", snap.Len())
		log.Infof("cycle %d published %d metrics in %s", n, snap.Len(), duration)
	}

	r.snapshots.Publish(snap)
	return snap
}

// run executes the catalogue within the cycle deadline.
func (r *Refresher) run(parent context.Context) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.Timeout)
	defer cancel()

	values, err := r.collect(ctx)
	if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, r.cfg.Timeout, err)
	}
	return values, err
}

// collect opens a session and executes every entry into a staging map.
func (r *Refresher) collect(ctx context.Context) (map[string]float64, error) {
	sess, err := r.connector.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warningf("closing store session: %v", cerr)
		}
	}()

	staging := make(map[string]float64, 256)
	for _, entry := range r.catalogue.Entries {
		if err := r.execute(ctx, sess, entry, staging); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return staging, nil
}

func (r *Refresher) execute(ctx context.Context, sess store.Session, entry catalogue.Entry, staging map[string]float64) (err error) {
	ctx, span := r.tracer.Start(ctx, "refresh.entry", trace.WithAttributes(
		attribute.String("entry", entry.Name()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Classify(err))
		}
		span.End()
	}()

	switch e := entry.(type) {
	case catalogue.Scalar:
		return scalar(ctx, sess, e, staging)
	case catalogue.Grouped:
		return grouped(ctx, sess, e, staging)
	case catalogue.Ranked:
		return ranked(ctx, sess, e, staging)
	case catalogue.Derived:
		v, err := e.Formula.Eval(staging)
		if err != nil {
			return err
		}
		staging[e.Metric] = v
		return nil
	default:
		return fmt.Errorf("%w: unsupported entry %T", store.ErrQuery, entry)
	}
}

func scalar(ctx context.Context, sess store.Session, e catalogue.Scalar, staging map[string]float64) error {
	rows, err := sess.Query(ctx, e.Query)
	if err != nil {
		return err
	}
	var row store.Row
	if len(rows) > 0 {
		row = rows[0]
	}
	for i, agg := range e.Query.Select {
		var raw interface{}
		if i < len(row.Values) {
			raw = row.Values[i]
		}
		v, err := value(raw, agg)
		if err != nil {
			return fmt.Errorf("%s: %w", agg.Metric, err)
		}
		staging[agg.Metric] = v
	}
	return nil
}

// grouped counts how many groups fall into each bucket of the family. The
// first select item of every row is the per-group count.
func grouped(ctx context.Context, sess store.Session, e catalogue.Grouped, staging map[string]float64) error {
	rows, err := sess.Query(ctx, e.Query)
	if err != nil {
		return err
	}
	counts := make([]float64, len(e.Family.Buckets))
	for _, row := range rows {
		if len(row.Values) == 0 {
			return fmt.Errorf("%w: grouped row without a count", store.ErrConvert)
		}
		n, err := store.Float(row.Values[0])
		if err != nil {
			return err
		}
		if i := e.Family.Locate(int64(n)); i >= 0 {
			counts[i]++
		}
	}
	for i, b := range e.Family.Buckets {
		staging[e.Family.Metric(b)] = counts[i]
	}
	return nil
}

// ranked names the values of each row by its 1-based rank. Ranks beyond the
// returned rows produce nothing.
func ranked(ctx context.Context, sess store.Session, e catalogue.Ranked, staging map[string]float64) error {
	rows, err := sess.Query(ctx, e.Query)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if e.Query.Limit > 0 && i >= e.Query.Limit {
			break
		}
		for _, col := range e.Columns {
			if col.Select >= len(row.Values) || col.Select >= len(e.Query.Select) {
				return fmt.Errorf("%w: column %d missing", store.ErrConvert, col.Select)
			}
			v, err := value(row.Values[col.Select], e.Query.Select[col.Select])
			if err != nil {
				return fmt.Errorf("%s: %w", col.Metric(i+1), err)
			}
			staging[col.Metric(i+1)] = v
		}
	}
	return nil
}

func value(raw interface{}, agg catalogue.Aggregate) (float64, error) {
	v, err := store.Float(raw)
	if err != nil {
		return 0, err
	}
	if agg.Int {
		v = math.Trunc(v)
	}
	return v, nil
}

// Classify names the error class of a failed cycle.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, store.ErrConnect):
		return "connect"
	case errors.Is(err, store.ErrConvert):
		return "convert"
	case errors.Is(err, catalogue.ErrMissingOperand):
		return "formula"
	case errors.Is(err, store.ErrQuery):
		return "query"
	default:
		return "unknown"
	}
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
