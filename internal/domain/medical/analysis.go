package medical

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hengadev/errsx"
)

// StandardDisclaimer is attached to every analysis returned to callers.
const StandardDisclaimer = "This analysis is generated by an AI system for clinical decision support only. " +
	"It does not replace professional medical judgment, and all findings must be verified by a qualified clinician."

var ErrMalformedAnalysis = errors.New("malformed analysis payload")

var (
	probabilities   = set("high", "moderate", "low")
	evidenceTypes   = set("symptom", "vital", "lab", "history", "medication", "demographic")
	evidenceWeights = set("strong", "moderate", "weak")
	redFlagLevels   = set("immediate", "urgent", "soon")
	testCategories  = set("laboratory", "imaging", "procedure", "specialist-referral")
	testPriorities  = set("stat", "urgent", "routine")
	pathwayKinds    = set("first-line", "second-line", "alternative")
)

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// ParseDiagnosticAnalysis decodes a model response and rejects payloads that
// are missing required sections or carry out-of-range values. The returned
// error is an errsx.Map keyed by JSON path when the shape is wrong.
func ParseDiagnosticAnalysis(raw []byte) (*DiagnosticAnalysis, error) {
	var required struct {
		DifferentialDiagnoses json.RawMessage `json:"differentialDiagnoses"`
		Reasoning             json.RawMessage `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &required); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}

	var errs errsx.Map
	if isAbsent(required.DifferentialDiagnoses) {
		errs.Set("differentialDiagnoses", "is required")
	}
	if isAbsent(required.Reasoning) {
		errs.Set("reasoning", "is required")
	}
	if !errs.IsEmpty() {
		return nil, errs.AsError()
	}

	var a DiagnosticAnalysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.Normalize()
	return &a, nil
}

func isAbsent(m json.RawMessage) bool {
	return len(m) == 0 || string(m) == "null"
}

// Validate checks value ranges and enum membership.
func (a *DiagnosticAnalysis) Validate() error {
	var errs errsx.Map
	if len(a.DifferentialDiagnoses) == 0 {
		errs.Set("differentialDiagnoses", "must contain at least one diagnosis")
	}
	for i, d := range a.DifferentialDiagnoses {
		key := fmt.Sprintf("differentialDiagnoses[%d]", i)
		if d.Condition == "" {
			errs.Set(key+".condition", "is required")
		}
		if d.ConfidenceScore < 0 || d.ConfidenceScore > 100 {
			errs.Set(key+".confidenceScore", fmt.Sprintf("must be between 0 and 100, got %g", d.ConfidenceScore))
		}
		if !probabilities[d.Probability] {
			errs.Set(key+".probability", fmt.Sprintf("unknown value %q", d.Probability))
		}
		for j, ev := range append(append([]Evidence{}, d.SupportingEvidence...), d.ContradictingEvidence...) {
			if !evidenceTypes[ev.Type] || !evidenceWeights[ev.Weight] {
				errs.Set(fmt.Sprintf("%s.evidence[%d]", key, j), fmt.Sprintf("invalid type %q or weight %q", ev.Type, ev.Weight))
			}
		}
	}
	for i, f := range a.RedFlags {
		if !redFlagLevels[f.Severity] {
			errs.Set(fmt.Sprintf("redFlags[%d].severity", i), fmt.Sprintf("unknown value %q", f.Severity))
		}
		if f.Description == "" {
			errs.Set(fmt.Sprintf("redFlags[%d].description", i), "is required")
		}
	}
	for i, t := range a.SuggestedTests {
		if t.TestName == "" {
			errs.Set(fmt.Sprintf("suggestedTests[%d].testName", i), "is required")
		}
		if !testCategories[t.Category] {
			errs.Set(fmt.Sprintf("suggestedTests[%d].category", i), fmt.Sprintf("unknown value %q", t.Category))
		}
		if !testPriorities[t.Priority] {
			errs.Set(fmt.Sprintf("suggestedTests[%d].priority", i), fmt.Sprintf("unknown value %q", t.Priority))
		}
	}
	for i, p := range a.TreatmentPathways {
		if !pathwayKinds[p.Pathway] {
			errs.Set(fmt.Sprintf("treatmentPathways[%d].pathway", i), fmt.Sprintf("unknown value %q", p.Pathway))
		}
	}
	for i, s := range a.Reasoning.ReasoningSteps {
		if s.Confidence != nil && (*s.Confidence < 0 || *s.Confidence > 100) {
			errs.Set(fmt.Sprintf("reasoning.reasoningSteps[%d].confidence", i), "must be between 0 and 100")
		}
	}
	return errs.AsError()
}

// Normalize orders diagnoses by rank, fills missing ids and ranks, and
// replaces nil lists with empty ones.
func (a *DiagnosticAnalysis) Normalize() {
	ranked := true
	for _, d := range a.DifferentialDiagnoses {
		if d.Rank <= 0 {
			ranked = false
			break
		}
	}
	if ranked {
		sort.SliceStable(a.DifferentialDiagnoses, func(i, j int) bool {
			return a.DifferentialDiagnoses[i].Rank < a.DifferentialDiagnoses[j].Rank
		})
	}
	for i := range a.DifferentialDiagnoses {
		d := &a.DifferentialDiagnoses[i]
		d.Rank = i + 1
		if d.ID == "" {
			d.ID = GenerateID()
		}
		d.SupportingEvidence = orEmpty(d.SupportingEvidence)
		d.ContradictingEvidence = orEmpty(d.ContradictingEvidence)
	}
	for i := range a.RedFlags {
		if a.RedFlags[i].ID == "" {
			a.RedFlags[i].ID = GenerateID()
		}
	}
	for i := range a.SuggestedTests {
		if a.SuggestedTests[i].ID == "" {
			a.SuggestedTests[i].ID = GenerateID()
		}
	}
	for i := range a.TreatmentPathways {
		if a.TreatmentPathways[i].ID == "" {
			a.TreatmentPathways[i].ID = GenerateID()
		}
	}
	a.RedFlags = orEmpty(a.RedFlags)
	a.SuggestedTests = orEmpty(a.SuggestedTests)
	a.TreatmentPathways = orEmpty(a.TreatmentPathways)
	a.Disclaimers = orEmpty(a.Disclaimers)
	a.AuditTrail = orEmpty(a.AuditTrail)
	a.Reasoning.ReasoningSteps = orEmpty(a.Reasoning.ReasoningSteps)
	a.Reasoning.DataSourcesUsed = orEmpty(a.Reasoning.DataSourcesUsed)
	a.Reasoning.Limitations = orEmpty(a.Reasoning.Limitations)
	a.Reasoning.UncertaintyFactors = orEmpty(a.Reasoning.UncertaintyFactors)
}

// EnsureDisclaimer appends StandardDisclaimer unless it is already present.
func (a *DiagnosticAnalysis) EnsureDisclaimer() {
	for _, d := range a.Disclaimers {
		if d == StandardDisclaimer {
			return
		}
	}
	a.Disclaimers = append(a.Disclaimers, StandardDisclaimer)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
