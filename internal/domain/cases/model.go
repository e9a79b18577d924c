package cases

import (
	"strings"
	"time"

	"github.com/hengadev/errsx"

	"github.com/cdss/cdss/internal/domain/medical"
)

// Bundle is everything a clinician saves at the end of an assessment.
type Bundle struct {
	Patient    medical.Patient            `json:"patient"`
	Encounter  medical.ClinicalEncounter  `json:"encounter"`
	History    *medical.MedicalHistory    `json:"history"`
	LabResults []medical.LaboratoryPanel  `json:"labResults"`
	Analysis   medical.DiagnosticAnalysis `json:"analysis"`
}

// Validate checks the fields every stored case must carry.
func (b *Bundle) Validate() error {
	var errs errsx.Map
	if strings.TrimSpace(b.Patient.PseudonymizedID) == "" {
		errs.Set("patient.pseudonymizedId", "is required")
	}
	if strings.TrimSpace(b.Encounter.ID) == "" {
		errs.Set("encounter.id", "is required")
	}
	if len(b.Analysis.DifferentialDiagnoses) == 0 {
		errs.Set("analysis.differentialDiagnoses", "must contain at least one diagnosis")
	}
	return errs.AsError()
}

// SearchTerms lower-cases the pseudonymized id, the chief complaint and each
// diagnosis condition, skipping blanks.
func (b *Bundle) SearchTerms() []string {
	terms := make([]string, 0, 2+len(b.Analysis.DifferentialDiagnoses))
	add := func(s string) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			terms = append(terms, s)
		}
	}
	add(b.Patient.PseudonymizedID)
	add(b.Encounter.ChiefComplaint)
	for _, d := range b.Analysis.DifferentialDiagnoses {
		add(d.Condition)
	}
	return terms
}

// SavedCase is a stored bundle with the fields added at save time.
type SavedCase struct {
	ID string `json:"id"`
	Bundle
	SavedAt     time.Time `json:"savedAt"`
	SearchTerms []string  `json:"searchTerms"`
}

// Matches reports whether term is a substring of any search term,
// case-insensitively. An empty term matches everything.
func (s *SavedCase) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, t := range s.SearchTerms {
		if strings.Contains(t, term) {
			return true
		}
	}
	return false
}

// Record is the storage form of a case: the bundle encoded as a JSON document
// plus indexed columns.
type Record struct {
	ID          string
	Document    []byte
	SavedAt     time.Time
	SearchTerms []string
}
