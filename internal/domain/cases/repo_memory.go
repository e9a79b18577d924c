package cases

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepo struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]*Record
	nowFunc func() time.Time
}

func NewMemoryRepo() Repository {
	return &memoryRepo{byID: make(map[string]*Record), nowFunc: time.Now}
}

func (r *memoryRepo) Insert(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = uuid.New().String()
	rec.SavedAt = r.nowFunc().UTC()
	cp := copyRecord(rec)
	r.records = append(r.records, cp)
	r.byID[cp.ID] = cp
	return nil
}

// sorted returns records newest first; ties keep the later insert first.
func (r *memoryRepo) sorted() []*Record {
	out := make([]*Record, 0, len(r.records))
	for i := len(r.records) - 1; i >= 0; i-- {
		out = append(out, copyRecord(r.records[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out
}

func (r *memoryRepo) ListRecent(_ context.Context, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.sorted()
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListAll(_ context.Context) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(), nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Document = append([]byte(nil), rec.Document...)
	cp.SearchTerms = append([]string{}, rec.SearchTerms...)
	return &cp
}
