package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/cdss/cdss/internal/domain/medical"
)

// AnalyzeClinicalCase sends the case to the model and returns a validated
// analysis stamped with ids, timestamps and the standard disclaimer.
func (c *Client) AnalyzeClinicalCase(ctx context.Context, p *medical.Patient, e *medical.ClinicalEncounter, h *medical.MedicalHistory, labs []medical.LaboratoryPanel) (*medical.DiagnosticAnalysis, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if p == nil || e == nil {
		return nil, errors.New("patient and encounter are required")
	}

	text, err := c.generateText(ctx, clinicalSystemPrompt, buildAnalysisPrompt(p, e, h, labs), true)
	if err != nil {
		return nil, err
	}
	a, err := medical.ParseDiagnosticAnalysis([]byte(stripFences(text)))
	if err != nil {
		return nil, fmt.Errorf("invalid analysis from model: %w", err)
	}

	a.ID = medical.GenerateID()
	a.EncounterID = e.ID
	a.AnalyzedAt = c.now().UTC()
	a.ModelVersion = c.model
	a.EnsureDisclaimer()
	return a, nil
}

type extractedSymptom struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Onset              string   `json:"onset"`
	Duration           string   `json:"duration"`
	Severity           float64  `json:"severity"`
	Location           string   `json:"location"`
	Characteristics    []string `json:"characteristics"`
	AggravatingFactors []string `json:"aggravatingFactors"`
	RelievingFactors   []string `json:"relievingFactors"`
	AssociatedSymptoms []string `json:"associatedSymptoms"`
	Confidence         *float64 `json:"confidence"`
}

// ExtractSymptoms turns free text into symptom records. Entries without a name
// are dropped and severities are clamped to 1-10.
func (c *Client) ExtractSymptoms(ctx context.Context, text string) ([]medical.Symptom, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	out, err := c.generateText(ctx, "", buildExtractionPrompt(text), true)
	if err != nil {
		return nil, err
	}

	raw := []byte(stripFences(out))
	var items []extractedSymptom
	if err := json.Unmarshal(raw, &items); err != nil {
		// Some responses wrap the array in an object.
		var wrapped struct {
			Symptoms []extractedSymptom `json:"symptoms"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode symptoms: %w", err)
		}
		items = wrapped.Symptoms
	}

	symptoms := make([]medical.Symptom, 0, len(items))
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		symptoms = append(symptoms, medical.Symptom{
			ID:                 medical.GenerateID(),
			Name:               name,
			Description:        it.Description,
			Onset:              normalizeOnset(it.Onset),
			Duration:           it.Duration,
			Severity:           clampSeverity(it.Severity),
			Location:           it.Location,
			Characteristics:    nonNil(it.Characteristics),
			AggravatingFactors: nonNil(it.AggravatingFactors),
			RelievingFactors:   nonNil(it.RelievingFactors),
			AssociatedSymptoms: nonNil(it.AssociatedSymptoms),
			NLPExtracted:       true,
			Confidence:         it.Confidence,
		})
	}
	return symptoms, nil
}

func normalizeOnset(s string) medical.Onset {
	switch medical.Onset(strings.ToLower(strings.TrimSpace(s))) {
	case medical.OnsetSudden:
		return medical.OnsetSudden
	case medical.OnsetGradual:
		return medical.OnsetGradual
	default:
		return medical.OnsetUnknown
	}
}

func clampSeverity(v float64) int {
	n := int(v + 0.5)
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Chat answers a single free-form question.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	return c.generateText(ctx, chatSystemPrompt, message, false)
}

// GenerateImage returns a base64 encoded illustration.
func (c *Client) GenerateImage(ctx context.Context, kind, subject string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityText), string(genai.ModalityImage)},
	}
	parts, err := c.generate(ctx, c.imageModel, genai.Text(buildImagePrompt(kind, subject)), cfg)
	if err != nil {
		return "", err
	}
	for _, p := range parts {
		if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return base64.StdEncoding.EncodeToString(p.InlineData.Data), nil
		}
	}
	return "", errors.New("no image in model response")
}

// GeneratePatientHandout writes a plain-language explanation of a diagnosis.
func (c *Client) GeneratePatientHandout(ctx context.Context, diagnosis string, age medical.AgeRange) (*medical.PatientHandout, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	text, err := c.generateText(ctx, "", buildHandoutPrompt(diagnosis, age), true)
	if err != nil {
		return nil, err
	}
	var h medical.PatientHandout
	if err := json.Unmarshal([]byte(stripFences(text)), &h); err != nil {
		return nil, fmt.Errorf("decode handout: %w", err)
	}
	if h.Summary == "" && h.WhatItMeans == "" {
		return nil, errors.New("handout is empty")
	}
	h.NextSteps = nonNil(h.NextSteps)
	h.WhenToSeekHelp = nonNil(h.WhenToSeekHelp)
	h.QuestionsToAsk = nonNil(h.QuestionsToAsk)
	return &h, nil
}
