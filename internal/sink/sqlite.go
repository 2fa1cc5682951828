package sink

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geosweep/internal/model"
)

// SQLiteSink stores lists and details in a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Detail workers write concurrently; one connection serializes them.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteSink{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sweep_records (
	run_id   TEXT NOT NULL,
	area     TEXT NOT NULL,
	stamp    TEXT NOT NULL,
	id       TEXT NOT NULL,
	position INTEGER NOT NULL,
	lon      REAL NOT NULL,
	lat      REAL NOT NULL,
	raw      TEXT NOT NULL,
	saved_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, area, id)
);

CREATE TABLE IF NOT EXISTS sweep_details (
	run_id   TEXT NOT NULL,
	area     TEXT NOT NULL,
	stamp    TEXT NOT NULL,
	id       TEXT NOT NULL,
	payload  TEXT NOT NULL,
	saved_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, area, id)
);

CREATE INDEX IF NOT EXISTS idx_sweep_records_area_stamp ON sweep_records(area, stamp);
CREATE INDEX IF NOT EXISTS idx_sweep_details_area_stamp ON sweep_details(area, stamp);
`

// Migrate creates the tables.
func (s *SQLiteSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// SaveList implements Sink. The whole list is written in one transaction.
func (s *SQLiteSink) SaveList(ctx context.Context, key Key, records []model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin list tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sweep_records (run_id, area, stamp, id, position, lon, lat, raw, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, area, id) DO UPDATE SET
			position = excluded.position,
			lon = excluded.lon,
			lat = excluded.lat,
			raw = excluded.raw,
			saved_at = excluded.saved_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare list insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i, r := range records {
		raw, err := r.MarshalJSON()
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal record %s", r.ID)
		}
		if _, err := stmt.ExecContext(ctx, key.RunID, key.Area, key.Stamp, r.ID, i, r.Lon, r.Lat, string(raw), now); err != nil {
			return eris.Wrapf(err, "sqlite: insert record %s", r.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit list")
}

// SaveDetail implements Sink.
func (s *SQLiteSink) SaveDetail(ctx context.Context, key Key, d model.Detail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_details (run_id, area, stamp, id, payload, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, area, id) DO UPDATE SET
			payload = excluded.payload,
			saved_at = excluded.saved_at`,
		key.RunID, key.Area, key.Stamp, d.ID, string(d.Payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert detail %s", d.ID)
}

// ListRecords returns the stored list of key in its original order.
func (s *SQLiteSink) ListRecords(ctx context.Context, key Key) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lon, lat, raw FROM sweep_records WHERE run_id = ? AND area = ? ORDER BY position`,
		key.RunID, key.Area,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		var r model.Record
		var raw string
		if err := rows.Scan(&r.ID, &r.Lon, &r.Lat, &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Raw = []byte(raw)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

// GetDetail returns the stored payload of id, or nil when there is none.
func (s *SQLiteSink) GetDetail(ctx context.Context, key Key, id string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM sweep_details WHERE run_id = ? AND area = ? AND id = ?`,
		key.RunID, key.Area, id,
	).Scan(&payload)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get detail %s", id)
	}
	return []byte(payload), nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
