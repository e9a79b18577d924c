package cds

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/domain/medical"
	"github.com/cdss/cdss/internal/platform/gemini"
)

// MinExtractionLength is the shortest trimmed narrative sent for extraction.
const MinExtractionLength = 10

type Service struct {
	gw     Gateway
	trail  *AuditTrail
	logger zerolog.Logger
}

// NewService wires the gateway. trail may be nil.
func NewService(gw Gateway, trail *AuditTrail, logger zerolog.Logger) *Service {
	return &Service{gw: gw, trail: trail, logger: logger}
}

// Actor identifies who made an AI request, for the audit trail.
type Actor struct {
	RequestID string
	UserID    string
	Role      string
	IPAddress string
	UserAgent string
}

// Analyze checks the request, then relays it to the gateway. Failures are
// always *Failure.
func (s *Service) Analyze(ctx context.Context, req *AnalyzeRequest, actor Actor) (*medical.DiagnosticAnalysis, error) {
	start := time.Now()
	if req.Patient == nil || req.Encounter == nil {
		return nil, codeFailure(CodeInvalidRequest, nil)
	}
	if !req.Patient.ConsentGiven {
		return nil, codeFailure(CodeConsentRequired, nil)
	}
	if !s.gw.Configured() {
		s.logger.Error().Str("route", "analyze").Str("request_id", actor.RequestID).Msg("GEMINI_API_KEY not configured")
		return nil, codeFailure(CodeConfiguration, nil)
	}

	labs := req.LabResults
	if labs == nil {
		labs = []medical.LaboratoryPanel{}
	}
	analysis, err := s.gw.AnalyzeClinicalCase(ctx, req.Patient, req.Encounter, req.History, labs)
	if err != nil {
		if errors.Is(err, gemini.ErrNotConfigured) {
			return nil, codeFailure(CodeConfiguration, err)
		}
		s.logger.Error().Err(err).Str("route", "analyze").Str("request_id", actor.RequestID).Msg("analysis failed")
		return nil, codeFailure(CodeAnalysisFailed, err)
	}

	elapsed := time.Since(start).Milliseconds()
	s.logger.Info().
		Str("type", "audit").
		Str("action", "clinical-analysis").
		Str("request_id", actor.RequestID).
		Str("patient_id", req.Patient.PseudonymizedID).
		Str("encounter_id", req.Encounter.ID).
		Int64("processing_time_ms", elapsed).
		Msg("clinical analysis completed")

	if s.trail != nil {
		s.trail.Add(medical.AuditEntry{
			Action:       medical.AuditAnalysisRequested,
			ActorID:      actor.UserID,
			ActorRole:    actor.Role,
			ResourceType: "encounter",
			ResourceID:   req.Encounter.ID,
			IPAddress:    actor.IPAddress,
			UserAgent:    actor.UserAgent,
			Details: map[string]any{
				"requestId":        actor.RequestID,
				"patientId":        req.Patient.PseudonymizedID,
				"analysisId":       analysis.ID,
				"processingTimeMs": elapsed,
			},
		})
	}
	return analysis, nil
}

// ExtractSymptoms requires at least MinExtractionLength characters after
// trimming.
func (s *Service) ExtractSymptoms(ctx context.Context, text string) ([]medical.Symptom, error) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinExtractionLength {
		return nil, codeFailure(CodeInvalidInput, nil)
	}
	if !s.gw.Configured() {
		return nil, codeFailure(CodeConfiguration, nil)
	}
	symptoms, err := s.gw.ExtractSymptoms(ctx, text)
	if err != nil {
		s.logger.Error().Err(err).Str("route", "extract-symptoms").Msg("symptom extraction failed")
		return nil, codeFailure(CodeExtractionFailed, err)
	}
	if symptoms == nil {
		symptoms = []medical.Symptom{}
	}
	return symptoms, nil
}

func (s *Service) Chat(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", plainFailure(http.StatusBadRequest, msgMessageRequired, nil)
	}
	if !s.gw.Configured() {
		s.logger.Error().Str("route", "chat").Msg("GEMINI_API_KEY not configured")
		return "", plainFailure(http.StatusInternalServerError, msgChatConfig, nil)
	}
	reply, err := s.gw.Chat(ctx, message)
	if err != nil {
		s.logger.Error().Err(err).Str("route", "chat").Msg("chat failed")
		return "", plainFailure(http.StatusInternalServerError, msgChatFailed, err)
	}
	return reply, nil
}

func (s *Service) GenerateImage(ctx context.Context, kind, subject string) (string, error) {
	if !s.gw.Configured() {
		return "", plainFailure(http.StatusInternalServerError, msgConfigError, nil)
	}
	img, err := s.gw.GenerateImage(ctx, kind, subject)
	if err != nil {
		s.logger.Error().Err(err).Str("route", "generate-image").Str("kind", kind).Msg("image generation failed")
		return "", plainFailure(http.StatusInternalServerError, msgGenerationFailed, err)
	}
	return img, nil
}

func (s *Service) GeneratePatientHandout(ctx context.Context, diagnosis string, age medical.AgeRange) (*medical.PatientHandout, error) {
	if !s.gw.Configured() {
		return nil, plainFailure(http.StatusInternalServerError, msgConfigError, nil)
	}
	h, err := s.gw.GeneratePatientHandout(ctx, diagnosis, age)
	if err != nil {
		s.logger.Error().Err(err).Str("route", "patient-handout").Msg("handout generation failed")
		return nil, plainFailure(http.StatusInternalServerError, msgGenerationFailed, err)
	}
	return h, nil
}
