package intake

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"gopkg.in/yaml.v3"

	"github.com/cdss/cdss/internal/domain/medical"
)

// PatientInput is the patient-info step submission.
type PatientInput struct {
	PseudonymizedID string                `json:"pseudonymizedId,omitempty"`
	AgeRange        medical.AgeRange      `json:"ageRange"`
	BiologicalSex   medical.BiologicalSex `json:"biologicalSex"`
	HeightCm        *float64              `json:"heightCm,omitempty"`
	WeightKg        *float64              `json:"weightKg,omitempty"`
	ConsentGiven    bool                  `json:"consentGiven"`
}

// Validate checks the submission and returns an errsx.Map keyed by field name
// when anything is wrong.
func Validate(in PatientInput) error {
	var errs errsx.Map
	if !in.AgeRange.Valid() {
		errs.Set("ageRange", fmt.Sprintf("must be one of %s", joinAgeRanges()))
	}
	if in.BiologicalSex != medical.SexMale && in.BiologicalSex != medical.SexFemale {
		errs.Set("biologicalSex", "must be male or female")
	}
	if in.HeightCm != nil && *in.HeightCm < 0 {
		errs.Set("heightCm", "must not be negative")
	}
	if in.WeightKg != nil && *in.WeightKg < 0 {
		errs.Set("weightKg", "must not be negative")
	}
	if !in.ConsentGiven {
		errs.Set("consentGiven", "patient consent is required")
	}
	return errs.AsError()
}

func joinAgeRanges() string {
	parts := make([]string, len(medical.AgeRanges))
	for i, r := range medical.AgeRanges {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

// BuildPatient validates the input and creates the Patient record. A blank
// pseudonymized id is generated.
func BuildPatient(in PatientInput, now time.Time) (*medical.Patient, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	pid := strings.TrimSpace(in.PseudonymizedID)
	if pid == "" {
		pid = medical.GeneratePseudonymizedID(now)
	}
	consentAt := now
	p := &medical.Patient{
		ID:              medical.GenerateID(),
		PseudonymizedID: pid,
		Demographics: medical.Demographics{
			AgeRange:      in.AgeRange,
			BiologicalSex: in.BiologicalSex,
			HeightCm:      in.HeightCm,
			WeightKg:      in.WeightKg,
		},
		CreatedAt:        now,
		UpdatedAt:        now,
		ConsentGiven:     true,
		ConsentTimestamp: &consentAt,
	}
	if in.HeightCm != nil && in.WeightKg != nil {
		if bmi := medical.CalculateBMI(*in.HeightCm, *in.WeightKg); bmi > 0 {
			p.Demographics.BMI = &bmi
		}
	}
	return p, nil
}

// HistoryInput is the medical-history step submission.
type HistoryInput struct {
	Conditions  []medical.Condition  `json:"conditions"`
	Allergies   []medical.Allergy    `json:"allergies"`
	Medications []medical.Medication `json:"medications"`
	Lifestyle   medical.Lifestyle    `json:"lifestyle"`
}

// SymptomsInput is the symptoms step submission.
type SymptomsInput struct {
	ChiefComplaint string            `json:"chiefComplaint"`
	Symptoms       []medical.Symptom `json:"symptoms"`
	// FreeText is sent to symptom extraction before the step is submitted.
	FreeText string `json:"freeText,omitempty"`
}

// File is a complete intake as read by the CLI.
type File struct {
	Patient  PatientInput        `json:"patient"`
	History  *HistoryInput       `json:"history,omitempty"`
	Symptoms SymptomsInput       `json:"symptoms"`
	Vitals   medical.VitalSigns  `json:"vitals"`
	Labs     []medical.LabResult `json:"labs"`
}

// LoadFile reads an intake file. YAML files are converted to JSON first so
// that the JSON field names and custom decoders apply to both formats.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intake file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse intake yaml: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert intake yaml: %w", err)
		}
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse intake: %w", err)
	}
	return &f, nil
}
