// Package idempotency implements the idempotent receiver: a guard that admits
// each dedup key once through the metadata store, and a handler middleware
// that applies a duplicate policy to messages whose key was already admitted.
package idempotency

import (
	"context"
	"time"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
	metricspkg "github.com/drblury/handlerflow/internal/runtime/metrics"
	"github.com/drblury/handlerflow/metadatastore"
)

// Admission is the outcome of Guard.Admit. A duplicate is not an error.
type Admission int

const (
	Admitted Admission = iota
	Duplicate
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

const (
	// CounterName counts admissions tagged result=admitted|duplicate.
	CounterName        = "handlerflow.idempotent.receiver"
	counterDescription = "Idempotent receiver admissions"
	counterType        = "idempotent_receiver"
)

// MarkerFunc produces the value stored for an admitted key.
type MarkerFunc func(key string) string

// TimestampMarker stores the admission time.
func TimestampMarker(string) string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMarker replaces the default TimestampMarker.
func WithMarker(marker MarkerFunc) GuardOption {
	return func(g *Guard) {
		if marker != nil {
			g.marker = marker
		}
	}
}

// WithCaptor reports admissions as counters named after the guard.
func WithCaptor(captor metricspkg.Captor) GuardOption {
	return func(g *Guard) {
		g.captor = captor
	}
}

// WithLogger sets the guard logger.
func WithLogger(logger loggingpkg.ServiceLogger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard admits each key at most once per store.
type Guard struct {
	name   string
	store  *metadatastore.Store
	marker MarkerFunc
	captor metricspkg.Captor
	logger loggingpkg.ServiceLogger

	admitted  metricspkg.Counter
	duplicate metricspkg.Counter
}

// NewGuard creates a guard over store. name tags its counters.
func NewGuard(name string, store *metadatastore.Store, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if name == "" {
		name = metricspkg.UnknownName
	}

	g := &Guard{
		name:   name,
		store:  store,
		marker: TimestampMarker,
		captor: metricspkg.NopCaptor{},
		logger: loggingpkg.NewNopServiceLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.captor == nil {
		g.captor = metricspkg.NopCaptor{}
	}

	g.admitted = g.counter("admitted")
	g.duplicate = g.counter("duplicate")
	return g, nil
}

func (g *Guard) counter(result string) metricspkg.Counter {
	return g.captor.Counter(CounterName, counterDescription, metricspkg.Tags{
		Type:      counterType,
		Name:      g.name,
		Result:    result,
		Exception: metricspkg.ExceptionNone,
	})
}

// Admit records key and reports whether it was seen before. A store failure
// reports Duplicate so the key is never treated as admitted.
func (g *Guard) Admit(ctx context.Context, key string) (Admission, error) {
	admission, _, err := g.admit(ctx, key)
	return admission, err
}

func (g *Guard) admit(ctx context.Context, key string) (Admission, string, error) {
	previous, found, err := g.store.PutIfAbsent(ctx, key, g.marker(key))
	if err != nil {
		return Duplicate, "", err
	}
	if found {
		g.duplicate.Increment()
		g.logger.Debug("Duplicate key", loggingpkg.LogFields{"key": key, "admitted_at": previous})
		return Duplicate, previous, nil
	}
	g.admitted.Increment()
	return Admitted, "", nil
}

// Release forgets key so a later message with the same key is admitted again.
func (g *Guard) Release(ctx context.Context, key string) error {
	_, _, err := g.store.Remove(ctx, key)
	return err
}

// Close removes the guard's counters from the captor.
func (g *Guard) Close() {
	g.admitted.Remove()
	g.duplicate.Remove()
}
