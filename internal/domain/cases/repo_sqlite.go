package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    document TEXT NOT NULL,
    search_terms TEXT NOT NULL DEFAULT '[]',
    saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cases_saved_at ON cases (saved_at DESC);`

type sqliteRepo struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLiteRepo creates the cases table if needed. saved_at holds unix
// nanoseconds so ordering is numeric.
func NewSQLiteRepo(ctx context.Context, conn *sql.DB) (Repository, error) {
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &sqliteRepo{db: conn, nowFunc: time.Now}, nil
}

func (r *sqliteRepo) Insert(ctx context.Context, rec *Record) error {
	terms, err := json.Marshal(orEmptyStrings(rec.SearchTerms))
	if err != nil {
		return err
	}
	id := uuid.New().String()
	savedAt := r.nowFunc().UTC()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO cases (id, document, search_terms, saved_at) VALUES (?, ?, ?, ?)`,
		id, string(rec.Document), string(terms), savedAt.UnixNano())
	if err != nil {
		return err
	}
	rec.ID = id
	rec.SavedAt = savedAt
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*Record, error) {
	var (
		rec   Record
		doc   string
		terms string
		nanos int64
	)
	if err := row.Scan(&rec.ID, &doc, &terms, &nanos); err != nil {
		return nil, err
	}
	rec.Document = []byte(doc)
	rec.SavedAt = time.Unix(0, nanos).UTC()
	if err := json.Unmarshal([]byte(terms), &rec.SearchTerms); err != nil {
		return nil, fmt.Errorf("decode search terms of case %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func (r *sqliteRepo) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Record{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *sqliteRepo) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	return r.list(ctx, `SELECT id, document, search_terms, saved_at FROM cases ORDER BY saved_at DESC, rowid DESC LIMIT ?`, limit)
}

func (r *sqliteRepo) ListAll(ctx context.Context) ([]*Record, error) {
	return r.list(ctx, `SELECT id, document, search_terms, saved_at FROM cases ORDER BY saved_at DESC, rowid DESC`)
}

func (r *sqliteRepo) GetByID(ctx context.Context, id string) (*Record, error) {
	rec, err := scanSQLite(r.db.QueryRowContext(ctx,
		`SELECT id, document, search_terms, saved_at FROM cases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
