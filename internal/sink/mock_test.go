package sink

import (
	"context"

	"github.com/sells-group/geosweep/internal/model"
)

// recordingSink counts calls and fails with err when set.
type recordingSink struct {
	err     error
	lists   int
	details int
	closed  bool
}

func (r *recordingSink) SaveList(context.Context, Key, []model.Record) error {
	r.lists++
	return r.err
}

func (r *recordingSink) SaveDetail(context.Context, Key, model.Detail) error {
	r.details++
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}
