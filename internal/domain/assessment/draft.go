package assessment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/domain/cds"
	"github.com/cdss/cdss/internal/domain/medical"
)

// Draft is the serialized wizard state.
type Draft struct {
	Step           Step                        `json:"step"`
	Completed      []Step                      `json:"completed"`
	Patient        *medical.Patient            `json:"patient,omitempty"`
	History        *medical.MedicalHistory     `json:"history,omitempty"`
	Encounter      *medical.ClinicalEncounter  `json:"encounter,omitempty"`
	ChiefComplaint string                      `json:"chiefComplaint"`
	Symptoms       []medical.Symptom           `json:"symptoms"`
	Vitals         medical.VitalSigns          `json:"vitals"`
	Labs           []medical.LaboratoryPanel   `json:"labs"`
	Stage          Stage                       `json:"stage"`
	Analysis       *medical.DiagnosticAnalysis `json:"analysis,omitempty"`
	Error          string                      `json:"error,omitempty"`
	Pending        *cds.AnalyzeRequest         `json:"pending,omitempty"`
	SavedID        string                      `json:"savedId,omitempty"`
}

// Snapshot captures the wizard. A save in flight is not captured.
func (w *Wizard) Snapshot() *Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := &Draft{
		Step:           w.step,
		Completed:      []Step{},
		Patient:        w.patient,
		History:        w.history,
		Encounter:      w.encounter,
		ChiefComplaint: w.chiefComplaint,
		Symptoms:       append([]medical.Symptom{}, w.symptoms...),
		Vitals:         w.vitals,
		Labs:           append([]medical.LaboratoryPanel{}, w.labs...),
		Stage:          w.stage,
		Analysis:       w.analysis,
		Error:          w.lastErr,
		Pending:        w.pending,
		SavedID:        w.savedID,
	}
	for _, s := range Steps {
		if w.completed[s] {
			d.Completed = append(d.Completed, s)
		}
	}
	return d
}

// Restore replaces the wizard state with d. A draft taken mid-analysis is
// restored as failed so it can be retried.
func (w *Wizard) Restore(d *Draft) error {
	if !d.Step.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrIllegalTransition, d.Step)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.step = d.Step
	w.completed = make(map[Step]bool, len(d.Completed))
	for _, s := range d.Completed {
		if s.Valid() {
			w.completed[s] = true
		}
	}
	w.patient = d.Patient
	w.history = d.History
	w.encounter = d.Encounter
	w.chiefComplaint = d.ChiefComplaint
	w.symptoms = orEmpty(d.Symptoms)
	w.vitals = d.Vitals
	w.labs = orEmpty(d.Labs)
	w.analysis = d.Analysis
	w.lastErr = d.Error
	w.pending = d.Pending
	w.savedID = d.SavedID
	w.saving = false

	w.stage = d.Stage
	switch {
	case w.stage == "":
		w.stage = StageIdle
	case w.stage.running():
		w.stage = StageError
		w.lastErr = "analysis interrupted"
	}
	if w.stage == StageError && w.pending == nil {
		w.stage = StageIdle
	}
	return nil
}

// DraftStore keeps drafts as JSON files under a directory. Read and write
// failures are logged and otherwise ignored: Load falls back to nil.
type DraftStore struct {
	dir    string
	logger zerolog.Logger
}

func NewDraftStore(dir string, logger zerolog.Logger) *DraftStore {
	return &DraftStore{dir: dir, logger: logger}
}

func (s *DraftStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key)+".json")
}

// Load returns the draft stored under key, or nil.
func (s *DraftStore) Load(key string) *Draft {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("key", key).Msg("draft read failed")
		}
		return nil
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("draft is corrupt")
		return nil
	}
	return &d
}

// Save writes d under key through a temp file and rename.
func (s *DraftStore) Save(key string, d *Draft) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("draft encode failed")
		return
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.logger.Error().Err(err).Str("dir", s.dir).Msg("draft directory create failed")
		return
	}
	tmp, err := os.CreateTemp(s.dir, ".draft-*")
	if err != nil {
		s.logger.Error().Err(err).Msg("draft write failed")
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		s.logger.Error().AnErr("write", werr).AnErr("close", cerr).Msg("draft write failed")
		return
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		s.logger.Error().Err(err).Msg("draft rename failed")
	}
}

func (s *DraftStore) Remove(key string) {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("key", key).Msg("draft remove failed")
	}
}
