package cases

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("case not found")

// Repository stores case records. Cases are never updated or deleted.
type Repository interface {
	// Insert assigns ID and SavedAt on rec.
	Insert(ctx context.Context, rec *Record) error
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
	ListAll(ctx context.Context) ([]*Record, error)
	// GetByID returns ErrNotFound when no case has the id.
	GetByID(ctx context.Context, id string) (*Record, error)
}
