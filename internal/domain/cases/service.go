package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/domain/medical"
)

const DefaultRecentLimit = 10

var ErrSaveFailed = errors.New("failed to save case")

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Save stores b and returns the store-generated id. Backend failures are
// reported as ErrSaveFailed wrapping the cause.
func (s *Service) Save(ctx context.Context, b *Bundle) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	normalize(b)

	doc, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("%w: encode bundle: %w", ErrSaveFailed, err)
	}

	rec := &Record{Document: doc, SearchTerms: b.SearchTerms()}
	if err := s.repo.Insert(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("pseudonymized_id", b.Patient.PseudonymizedID).Msg("case insert failed")
		return "", fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	s.logger.Info().
		Str("case_id", rec.ID).
		Str("encounter_id", b.Encounter.ID).
		Int("search_terms", len(rec.SearchTerms)).
		Msg("case saved")
	return rec.ID, nil
}

// normalize replaces nil slices so a stored bundle decodes to the same shape
// it was saved with.
func normalize(b *Bundle) {
	if b.LabResults == nil {
		b.LabResults = []medical.LaboratoryPanel{}
	}
	if b.Encounter.Symptoms == nil {
		b.Encounter.Symptoms = []medical.Symptom{}
	}
	b.Analysis.Normalize()
}

// ListRecent returns at most limit cases, newest first. A limit <= 0 uses
// DefaultRecentLimit.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*SavedCase, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	recs, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent cases: %w", err)
	}
	return decodeAll(recs)
}

func (s *Service) ListAll(ctx context.Context) ([]*SavedCase, error) {
	recs, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return decodeAll(recs)
}

// GetByID returns nil, nil when no case has the id.
func (s *Service) GetByID(ctx context.Context, id string) (*SavedCase, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", id, err)
	}
	return decode(rec)
}

// Search filters every case by a case-insensitive substring of its search
// terms. An empty term returns all cases.
func (s *Service) Search(ctx context.Context, term string) ([]*SavedCase, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*SavedCase, 0, len(all))
	for _, c := range all {
		if c.Matches(term) {
			out = append(out, c)
		}
	}
	return out, nil
}

func decode(rec *Record) (*SavedCase, error) {
	sc := &SavedCase{ID: rec.ID, SavedAt: rec.SavedAt, SearchTerms: rec.SearchTerms}
	if sc.SearchTerms == nil {
		sc.SearchTerms = []string{}
	}
	if err := json.Unmarshal(rec.Document, &sc.Bundle); err != nil {
		return nil, fmt.Errorf("decode case %s: %w", rec.ID, err)
	}
	return sc, nil
}

func decodeAll(recs []*Record) ([]*SavedCase, error) {
	out := make([]*SavedCase, 0, len(recs))
	for _, rec := range recs {
		sc, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}
