// Package duckstore keeps collected readings in a DuckDB file.
package duckstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/marcboeker/go-duckdb"

	"sensorlink-go/services/collector"
	"sensorlink-go/services/transport"
	"sensorlink-go/types"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS batches (
	board       VARCHAR NOT NULL,
	batch_id    VARCHAR NOT NULL,
	taken_ms    BIGINT,
	received_ms BIGINT NOT NULL,
	PRIMARY KEY (board, batch_id)
)`, `
CREATE TABLE IF NOT EXISTS readings (
	board       VARCHAR NOT NULL,
	batch_id    VARCHAR,
	taken_ms    BIGINT,
	received_ms BIGINT NOT NULL,
	port        VARCHAR NOT NULL,
	kind        TINYINT NOT NULL,
	value       DOUBLE,
	description VARCHAR
)`}

type Store struct {
	db   *sql.DB
	path string
}

// Open creates or reopens the database at path. An empty path keeps the
// database in memory.
func Open(path string) (*Store, error) {
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		_, err := execer.ExecContext(context.Background(), "PRAGMA enable_progress_bar=false", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	db := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Insert(ctx context.Context, doc transport.Document, receivedMs int64) (bool, error) {
	rows, err := collector.Rows(doc, receivedMs)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if doc.Batch != "" {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM batches WHERE board = ? AND batch_id = ?`, doc.Board, doc.Batch).Scan(&n)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO batches VALUES (?, ?, ?, ?)`,
			doc.Board, doc.Batch, doc.TakenMs, receivedMs); err != nil {
			return false, err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO readings VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, err
	}
	defer stmt.Close()
	for _, r := range rows {
		val := sql.NullFloat64{Float64: r.Value, Valid: r.Kind == types.InRange}
		if _, err := stmt.ExecContext(ctx, r.Board, r.Batch, r.TakenMs, r.ReceivedMs,
			r.Port, int8(r.Kind), val, r.Description); err != nil {
			return false, fmt.Errorf("insert reading %q: %w", r.Port, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Latest(ctx context.Context, board string, limit int) ([]collector.Row, error) {
	q := `SELECT board, batch_id, taken_ms, received_ms, port, kind, value, description
		FROM readings WHERE board = ? ORDER BY received_ms DESC`
	args := []any{board}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	res, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []collector.Row
	for res.Next() {
		var (
			r     collector.Row
			batch sql.NullString
			taken sql.NullInt64
			kind  int8
			val   sql.NullFloat64
			desc  sql.NullString
		)
		if err := res.Scan(&r.Board, &batch, &taken, &r.ReceivedMs, &r.Port, &kind, &val, &desc); err != nil {
			return nil, err
		}
		r.Batch, r.TakenMs, r.Kind = batch.String, taken.Int64, types.ReadingKind(kind)
		r.Value, r.Description = val.Float64, desc.String
		out = append(out, r)
	}
	return out, res.Err()
}

// Count returns the number of stored readings for board.
func (s *Store) Count(ctx context.Context, board string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM readings WHERE board = ?`, board).Scan(&n)
	return n, err
}

func (s *Store) Close() error { return s.db.Close() }
