// Package sqlite provides a SQLite-backed records.Repository.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"path/filepath"
	"strings"
	"time"

	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

var _ records.Repository = (*Store)(nil)

// Store persists participant records in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite records store and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// List returns all records, newest first.
func (s *Store) List(ctx context.Context) ([]records.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, caption, image_url, created_at
		   FROM employees
		  ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	defer rows.Close()

	out := make([]records.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate records")
	}
	return out, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (records.Record, error) {
	if err := ctx.Err(); err != nil {
		return records.Record{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, caption, image_url, created_at
		   FROM employees
		  WHERE id = ?`,
		strings.TrimSpace(id),
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Record{}, records.ErrNotFound
	}
	return r, err
}

// Create inserts a record with a fresh id.
func (s *Store) Create(ctx context.Context, r records.Record) (records.Record, error) {
	if err := ctx.Err(); err != nil {
		return records.Record{}, err
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Caption = strings.TrimSpace(r.Caption)
	if err := r.Validate(); err != nil {
		return records.Record{}, err
	}

	r.ID = uuid.NewString()
	r.CreatedAt = fromMillis(toMillis(s.now()))

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO employees (id, name, caption, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Caption, r.ImageURL, toMillis(r.CreatedAt),
	)
	if err != nil {
		return records.Record{}, errors.Wrap(err, "create record")
	}
	return r, nil
}

// Update applies patch and returns the updated record.
func (s *Store) Update(ctx context.Context, id string, patch records.Patch) (records.Record, error) {
	if err := ctx.Err(); err != nil {
		return records.Record{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return records.Record{}, errors.Wrap(err, "begin update")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, name, caption, image_url, created_at FROM employees WHERE id = ?`, id)
	current, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return records.Record{}, records.ErrNotFound
	}
	if err != nil {
		return records.Record{}, err
	}

	updated := patch.Apply(current)
	if !patch.Empty() {
		_, err = tx.ExecContext(ctx,
			`UPDATE employees SET name = ?, caption = ?, image_url = ? WHERE id = ?`,
			updated.Name, updated.Caption, updated.ImageURL, id,
		)
		if err != nil {
			return records.Record{}, errors.Wrap(err, "update record")
		}
	}

	if err := tx.Commit(); err != nil {
		return records.Record{}, errors.Wrap(err, "commit update")
	}
	return updated, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete record")
	}
	if n == 0 {
		return records.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (records.Record, error) {
	var r records.Record
	var createdAt int64
	if err := row.Scan(&r.ID, &r.Name, &r.Caption, &r.ImageURL, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, errors.Wrap(err, "scan record")
	}
	r.CreatedAt = fromMillis(createdAt)
	return r, nil
}
