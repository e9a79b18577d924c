package assessment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/domain/cases"
	"github.com/cdss/cdss/internal/domain/cds"
	"github.com/cdss/cdss/internal/domain/intake"
	"github.com/cdss/cdss/internal/domain/medical"
)

var (
	ErrIllegalTransition = errors.New("illegal step transition")
	ErrWrongStep         = errors.New("operation not allowed on the current step")
	ErrNoPatient         = errors.New("patient information is required first")
	ErrNoComplaint       = errors.New("a chief complaint or at least one symptom is required")
	ErrNotReady          = errors.New("analysis needs a patient and an encounter")
	ErrAnalysisRunning   = errors.New("analysis already in progress")
	ErrNotFailed         = errors.New("retry is only possible after a failed analysis")
	ErrNotComplete       = errors.New("analysis is not complete")
	ErrSaveInProgress    = errors.New("case save already in progress")
	ErrAlreadySaved      = errors.New("case already saved")
)

// Analyzer runs the clinical analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req *cds.AnalyzeRequest) (*medical.DiagnosticAnalysis, error)
}

// SymptomExtractor turns a free-text narrative into symptoms.
type SymptomExtractor interface {
	ExtractSymptoms(ctx context.Context, text string) ([]medical.Symptom, error)
}

// CaseSaver persists a finished assessment and returns its id.
type CaseSaver interface {
	SaveCase(ctx context.Context, b *cases.Bundle) (string, error)
}

// Wizard is the six-step assessment workflow. It is safe for concurrent use;
// collaborator calls run without holding the lock.
type Wizard struct {
	mu        sync.Mutex
	step      Step
	completed map[Step]bool

	patient        *medical.Patient
	history        *medical.MedicalHistory
	encounter      *medical.ClinicalEncounter
	chiefComplaint string
	symptoms       []medical.Symptom
	vitals         medical.VitalSigns
	labs           []medical.LaboratoryPanel

	stage    Stage
	analysis *medical.DiagnosticAnalysis
	lastErr  string
	pending  *cds.AnalyzeRequest

	saving  bool
	savedID string

	analyzer  Analyzer
	extractor SymptomExtractor
	saver     CaseSaver
	logger    zerolog.Logger
	nowFunc   func() time.Time
}

func New(analyzer Analyzer, extractor SymptomExtractor, saver CaseSaver, logger zerolog.Logger) *Wizard {
	return &Wizard{
		step:      StepPatientInfo,
		completed: make(map[Step]bool),
		symptoms:  []medical.Symptom{},
		labs:      []medical.LaboratoryPanel{},
		stage:     StageIdle,
		analyzer:  analyzer,
		extractor: extractor,
		saver:     saver,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

func (w *Wizard) now() time.Time { return w.nowFunc().UTC() }

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Wizard) Completed(s Step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed[s]
}

// Stage returns the analysis stage and the error message kept from the last
// failed run.
func (w *Wizard) Stage() (Stage, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stage, w.lastErr
}

func (w *Wizard) Analysis() *medical.DiagnosticAnalysis {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.analysis
}

func (w *Wizard) Symptoms() []medical.Symptom {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]medical.Symptom(nil), w.symptoms...)
}

func (w *Wizard) SavedID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.savedID
}

// Back moves to the previous step.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := transitions[w.step].prev
	if prev == "" {
		return fmt.Errorf("%w: no step before %s", ErrIllegalTransition, w.step)
	}
	w.step = prev
	return nil
}

// Continue moves to the next step once the current one is completed.
func (w *Wizard) Continue() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next := transitions[w.step].next
	if next == "" {
		return fmt.Errorf("%w: no step after %s", ErrIllegalTransition, w.step)
	}
	if !w.completed[w.step] {
		return fmt.Errorf("%w: %s is not completed", ErrIllegalTransition, w.step)
	}
	w.step = next
	return nil
}

// GoTo jumps to a completed step, or to the step right after the current one
// when the current one is completed.
func (w *Wizard) GoTo(target Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !target.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrIllegalTransition, target)
	}
	if target == w.step || w.completed[target] {
		w.step = target
		return nil
	}
	if transitions[w.step].next == target && w.completed[w.step] {
		w.step = target
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, w.step, target)
}

// advance marks the current step completed and moves forward. Caller holds mu.
func (w *Wizard) advance() {
	w.completed[w.step] = true
	if next := transitions[w.step].next; next != "" {
		w.step = next
	}
}

func (w *Wizard) requireStep(s Step) error {
	if w.step != s {
		return fmt.Errorf("%w: on %s, expected %s", ErrWrongStep, w.step, s)
	}
	return nil
}

// SubmitPatient validates the intake and creates the patient. Validation
// failures are returned as the intake errsx.Map.
func (w *Wizard) SubmitPatient(in intake.PatientInput) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepPatientInfo); err != nil {
		return err
	}
	p, err := intake.BuildPatient(in, w.now())
	if err != nil {
		return err
	}
	w.patient = p
	w.advance()
	return nil
}

// SubmitHistory replaces the medical history.
func (w *Wizard) SubmitHistory(in intake.HistoryInput) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepMedicalHistory); err != nil {
		return err
	}
	if w.patient == nil {
		return ErrNoPatient
	}
	w.history = &medical.MedicalHistory{
		PatientID:     w.patient.ID,
		Conditions:    orEmpty(in.Conditions),
		Allergies:     orEmpty(in.Allergies),
		Medications:   orEmpty(in.Medications),
		FamilyHistory: []medical.FamilyHistory{},
		Surgeries:     []medical.Surgery{},
		Lifestyle:     in.Lifestyle,
		LastUpdated:   w.now(),
	}
	w.advance()
	return nil
}

func (w *Wizard) SetChiefComplaint(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chiefComplaint = s
}

// AddSymptom appends s, assigning an id when it has none.
func (w *Wizard) AddSymptom(s medical.Symptom) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.ID == "" {
		s.ID = medical.GenerateID()
	}
	w.symptoms = append(w.symptoms, s)
}

// RemoveSymptom drops the symptom with id and reports whether it existed.
func (w *Wizard) RemoveSymptom(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.symptoms {
		if s.ID == id {
			w.symptoms = append(w.symptoms[:i], w.symptoms[i+1:]...)
			return true
		}
	}
	return false
}

// ExtractSymptoms merges symptoms extracted from text, skipping names already
// present (case-insensitive). Extraction failures are logged and add nothing.
func (w *Wizard) ExtractSymptoms(ctx context.Context, text string) int {
	if w.extractor == nil {
		return 0
	}
	found, err := w.extractor.ExtractSymptoms(ctx, text)
	if err != nil {
		w.logger.Warn().Err(err).Msg("symptom extraction failed")
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[string]bool, len(w.symptoms))
	for _, s := range w.symptoms {
		seen[strings.ToLower(s.Name)] = true
	}
	added := 0
	for _, s := range found {
		key := strings.ToLower(s.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if s.ID == "" {
			s.ID = medical.GenerateID()
		}
		w.symptoms = append(w.symptoms, s)
		added++
	}
	return added
}

// SubmitSymptoms creates or replaces the encounter. Vitals already entered
// are kept.
func (w *Wizard) SubmitSymptoms() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepSymptoms); err != nil {
		return err
	}
	if w.patient == nil {
		return ErrNoPatient
	}
	if strings.TrimSpace(w.chiefComplaint) == "" && len(w.symptoms) == 0 {
		return ErrNoComplaint
	}
	now := w.now()
	w.vitals.RecordedAt = now
	w.encounter = &medical.ClinicalEncounter{
		ID:             medical.GenerateID(),
		PatientID:      w.patient.ID,
		ChiefComplaint: w.chiefComplaint,
		Symptoms:       append([]medical.Symptom{}, w.symptoms...),
		Vitals:         w.vitals,
		CreatedAt:      now,
		Status:         medical.EncounterInProgress,
	}
	w.advance()
	return nil
}

// SubmitVitals records v on the encounter, if any, and advances.
func (w *Wizard) SubmitVitals(v medical.VitalSigns) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepVitals); err != nil {
		return err
	}
	v.RecordedAt = w.now()
	w.vitals = v
	if w.encounter != nil {
		w.encounter.Vitals = v
	}
	w.advance()
	return nil
}

// SubmitLabs stores results as a single complete panel. Empty input clears
// the panels.
func (w *Wizard) SubmitLabs(results []medical.LabResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepLabResults); err != nil {
		return err
	}
	if len(results) == 0 {
		w.labs = []medical.LaboratoryPanel{}
		w.advance()
		return nil
	}
	encounterID := ""
	if w.encounter != nil {
		encounterID = w.encounter.ID
	}
	panel := medical.LaboratoryPanel{
		ID:          medical.GenerateID(),
		EncounterID: encounterID,
		PanelName:   "Clinical Tests",
		CollectedAt: w.now(),
		Results:     make([]medical.LabResult, len(results)),
		Status:      "complete",
	}
	for i, r := range results {
		if r.ID == "" {
			r.ID = medical.GenerateID()
		}
		if r.Flags == nil {
			r.Flags = []string{}
		}
		panel.Results[i] = r
	}
	w.labs = []medical.LaboratoryPanel{panel}
	w.advance()
	return nil
}

// RunAnalysis assembles the request from the current state and sends it. The
// request is kept so Retry sends exactly the same data. It returns
// ErrSaveInProgress while the current analysis is being saved.
func (w *Wizard) RunAnalysis(ctx context.Context) error {
	w.mu.Lock()
	if err := w.requireStep(StepAnalysis); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.patient == nil || w.encounter == nil {
		w.mu.Unlock()
		return ErrNotReady
	}
	if w.saving {
		w.mu.Unlock()
		return ErrSaveInProgress
	}
	if w.stage.running() {
		w.mu.Unlock()
		return ErrAnalysisRunning
	}
	w.stage = StagePreparing
	w.lastErr = ""
	w.pending = w.assembleRequest()
	req := w.pending
	w.mu.Unlock()

	return w.send(ctx, req)
}

// Retry re-sends the request assembled by the failed run.
func (w *Wizard) Retry(ctx context.Context) error {
	w.mu.Lock()
	if w.saving {
		w.mu.Unlock()
		return ErrSaveInProgress
	}
	if w.stage != StageError || w.pending == nil {
		w.mu.Unlock()
		return ErrNotFailed
	}
	w.stage = StagePreparing
	w.lastErr = ""
	req := w.pending
	w.mu.Unlock()

	return w.send(ctx, req)
}

// assembleRequest snapshots the encounter with the current symptoms and
// vitals. Caller holds mu.
func (w *Wizard) assembleRequest() *cds.AnalyzeRequest {
	p := *w.patient
	enc := *w.encounter
	enc.Symptoms = append([]medical.Symptom{}, w.symptoms...)
	enc.Vitals = w.vitals
	var h *medical.MedicalHistory
	if w.history != nil {
		cp := *w.history
		h = &cp
	}
	return &cds.AnalyzeRequest{
		Patient:    &p,
		Encounter:  &enc,
		History:    h,
		LabResults: append([]medical.LaboratoryPanel{}, w.labs...),
	}
}

func (w *Wizard) setStage(s Stage) {
	w.mu.Lock()
	w.stage = s
	w.mu.Unlock()
}

func (w *Wizard) send(ctx context.Context, req *cds.AnalyzeRequest) error {
	w.setStage(StageAnalyzing)
	analysis, err := w.analyzer.Analyze(ctx, req)
	w.setStage(StageProcessing)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stage = StageError
		w.lastErr = err.Error()
		return err
	}
	w.analysis = analysis
	w.stage = StageComplete
	w.completed[StepAnalysis] = true
	w.savedID = ""
	return nil
}

// Bundle returns the case as it would be saved.
func (w *Wizard) Bundle() (*cases.Bundle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bundle()
}

func (w *Wizard) bundle() (*cases.Bundle, error) {
	if w.stage != StageComplete || w.analysis == nil || w.pending == nil {
		return nil, ErrNotComplete
	}
	return &cases.Bundle{
		Patient:    *w.pending.Patient,
		Encounter:  *w.pending.Encounter,
		History:    w.pending.History,
		LabResults: w.pending.LabResults,
		Analysis:   *w.analysis,
	}, nil
}

// Save stores the completed case once. A second call returns ErrAlreadySaved,
// and a call while a save is running returns ErrSaveInProgress.
func (w *Wizard) Save(ctx context.Context) (string, error) {
	w.mu.Lock()
	if w.saving {
		w.mu.Unlock()
		return "", ErrSaveInProgress
	}
	if w.savedID != "" {
		w.mu.Unlock()
		return "", ErrAlreadySaved
	}
	b, err := w.bundle()
	if err != nil {
		w.mu.Unlock()
		return "", err
	}
	w.saving = true
	saved := w.analysis
	w.mu.Unlock()

	id, err := w.saver.SaveCase(ctx, b)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.saving = false
	if err != nil {
		return "", err
	}
	// Only the analysis that was sent may be marked saved.
	if w.analysis == saved {
		w.savedID = id
	}
	return id, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
