package cases

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cdss/cdss/internal/platform/db"
)

type pgRepo struct{ q db.Querier }

// NewPGRepo stores cases in the cases table created by the embedded
// migrations.
func NewPGRepo(q db.Querier) Repository { return &pgRepo{q: q} }

const caseCols = `id::text, document, saved_at, search_terms`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.Document, &rec.SavedAt, &rec.SearchTerms); err != nil {
		return nil, err
	}
	rec.SavedAt = rec.SavedAt.UTC()
	return &rec, nil
}

func (r *pgRepo) Insert(ctx context.Context, rec *Record) error {
	id := uuid.New()
	err := r.q.QueryRow(ctx, `
		INSERT INTO cases (id, document, search_terms)
		VALUES ($1, $2, $3)
		RETURNING saved_at`,
		id, rec.Document, orEmptyStrings(rec.SearchTerms)).Scan(&rec.SavedAt)
	if err != nil {
		return err
	}
	rec.ID = id.String()
	rec.SavedAt = rec.SavedAt.UTC()
	return nil
}

func (r *pgRepo) list(ctx context.Context, sql string, args ...any) ([]*Record, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *pgRepo) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	return r.list(ctx, `SELECT `+caseCols+` FROM cases ORDER BY saved_at DESC LIMIT $1`, limit)
}

func (r *pgRepo) ListAll(ctx context.Context) ([]*Record, error) {
	return r.list(ctx, `SELECT `+caseCols+` FROM cases ORDER BY saved_at DESC`)
}

func (r *pgRepo) GetByID(ctx context.Context, id string) (*Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	rec, err := scanRecord(r.q.QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}
