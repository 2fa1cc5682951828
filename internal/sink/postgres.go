package sink

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geosweep/internal/db"
	"github.com/sells-group/geosweep/internal/model"
)

var (
	recordsUpsert = db.UpsertConfig{
		Table:        "sweep_records",
		Columns:      []string{"run_id", "area", "stamp", "id", "position", "lon", "lat", "raw", "saved_at"},
		ConflictKeys: []string{"run_id", "area", "id"},
	}
	detailsUpsert = db.UpsertConfig{
		Table:        "sweep_details",
		Columns:      []string{"run_id", "area", "stamp", "id", "payload", "saved_at"},
		ConflictKeys: []string{"run_id", "area", "id"},
	}
)

// PostgresSink stores lists and details in PostgreSQL.
type PostgresSink struct {
	pool db.Pool
}

// NewPostgres creates a PostgresSink on an open pool. The sink owns the pool
// and closes it on Close.
func NewPostgres(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sweep_records (
	run_id   TEXT NOT NULL,
	area     TEXT NOT NULL,
	stamp    TEXT NOT NULL,
	id       TEXT NOT NULL,
	position INTEGER NOT NULL,
	lon      DOUBLE PRECISION NOT NULL,
	lat      DOUBLE PRECISION NOT NULL,
	raw      JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, area, id)
);

CREATE TABLE IF NOT EXISTS sweep_details (
	run_id   TEXT NOT NULL,
	area     TEXT NOT NULL,
	stamp    TEXT NOT NULL,
	id       TEXT NOT NULL,
	payload  JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, area, id)
);

CREATE INDEX IF NOT EXISTS idx_sweep_records_area_stamp ON sweep_records(area, stamp);
CREATE INDEX IF NOT EXISTS idx_sweep_details_area_stamp ON sweep_details(area, stamp);
`

// Migrate creates the tables.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// SaveList implements Sink. Rows are copied into a temp table and merged so
// saving the same run twice replaces the earlier rows.
func (s *PostgresSink) SaveList(ctx context.Context, key Key, records []model.Record) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for i, r := range records {
		raw, err := r.MarshalJSON()
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal record %s", r.ID)
		}
		rows = append(rows, []any{key.RunID, key.Area, key.Stamp, r.ID, int32(i), r.Lon, r.Lat, raw, now})
	}
	if _, err := db.BulkUpsert(ctx, s.pool, recordsUpsert, rows); err != nil {
		return eris.Wrapf(err, "postgres: save list for %s", key.Area)
	}
	return nil
}

// SaveDetail implements Sink.
func (s *PostgresSink) SaveDetail(ctx context.Context, key Key, d model.Detail) error {
	err := db.Upsert(ctx, s.pool, detailsUpsert,
		key.RunID, key.Area, key.Stamp, d.ID, []byte(d.Payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save detail %s", d.ID)
}

// Close implements Sink.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
