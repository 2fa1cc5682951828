// Package sink persists the record list and the per-record details of a sweep.
package sink

import (
	"context"

	"go.uber.org/multierr"

	"github.com/sells-group/geosweep/internal/model"
)

// Key locates the output of one area within one run.
type Key struct {
	RunID string
	Area  string
	Stamp string // run start, YYYYMMDD_HHMM
}

// Sink stores the aggregated list once per area and each detail payload as it
// arrives. Implementations must be safe for concurrent SaveDetail calls.
type Sink interface {
	SaveList(ctx context.Context, key Key, records []model.Record) error
	SaveDetail(ctx context.Context, key Key, d model.Detail) error
	Close() error
}

// Multi fans every call out to several sinks. Every sink is attempted; the
// errors are combined.
type Multi []Sink

// SaveList implements Sink.
func (m Multi) SaveList(ctx context.Context, key Key, records []model.Record) error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.SaveList(ctx, key, records))
	}
	return errs
}

// SaveDetail implements Sink.
func (m Multi) SaveDetail(ctx context.Context, key Key, d model.Detail) error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.SaveDetail(ctx, key, d))
	}
	return errs
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}
