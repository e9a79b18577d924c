package cds

import (
	"context"
	"net/http"

	"github.com/cdss/cdss/internal/domain/medical"
)

// Gateway is the external model behind the AI routes. *gemini.Client
// implements it.
type Gateway interface {
	Configured() bool
	AnalyzeClinicalCase(ctx context.Context, p *medical.Patient, e *medical.ClinicalEncounter, h *medical.MedicalHistory, labs []medical.LaboratoryPanel) (*medical.DiagnosticAnalysis, error)
	ExtractSymptoms(ctx context.Context, text string) ([]medical.Symptom, error)
	Chat(ctx context.Context, message string) (string, error)
	GenerateImage(ctx context.Context, kind, subject string) (string, error)
	GeneratePatientHandout(ctx context.Context, diagnosis string, age medical.AgeRange) (*medical.PatientHandout, error)
}

// Error codes returned in the analyze and extract envelopes.
const (
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeConsentRequired  = "CONSENT_REQUIRED"
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeAnalysisFailed   = "ANALYSIS_FAILED"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeExtractionFailed = "EXTRACTION_FAILED"
)

var codeMessages = map[string]string{
	CodeRateLimited:      "Too many requests. Please wait before trying again.",
	CodeInvalidRequest:   "Patient and encounter data are required.",
	CodeConsentRequired:  "Patient consent is required for AI analysis.",
	CodeConfiguration:    "AI service is not properly configured.",
	CodeAnalysisFailed:   "Failed to complete clinical analysis. Please try again.",
	CodeInvalidInput:     "Please provide a more detailed description of symptoms.",
	CodeExtractionFailed: "Failed to extract symptoms. Please try again.",
}

var codeStatus = map[string]int{
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeInvalidRequest:   http.StatusBadRequest,
	CodeConsentRequired:  http.StatusForbidden,
	CodeConfiguration:    http.StatusInternalServerError,
	CodeAnalysisFailed:   http.StatusInternalServerError,
	CodeInvalidInput:     http.StatusBadRequest,
	CodeExtractionFailed: http.StatusInternalServerError,
}

// Messages for the plain {"error": ...} routes.
const (
	msgMessageRequired  = "Message is required"
	msgChatConfig       = "AI configuration error"
	msgChatFailed       = "Failed to process chat request"
	msgConfigError      = "Configuration Error"
	msgGenerationFailed = "Generation Failed"
	msgInvalidBody      = "Invalid request body"
)

type AnalyzeRequest struct {
	Patient    *medical.Patient           `json:"patient"`
	Encounter  *medical.ClinicalEncounter `json:"encounter"`
	History    *medical.MedicalHistory    `json:"history"`
	LabResults []medical.LaboratoryPanel  `json:"labResults"`
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type AnalyzeResponse struct {
	Success          bool                        `json:"success"`
	Analysis         *medical.DiagnosticAnalysis `json:"analysis,omitempty"`
	Error            *ErrorBody                  `json:"error,omitempty"`
	ProcessingTimeMs int64                       `json:"processingTimeMs"`
	RequestID        string                      `json:"requestId"`
}

type ExtractRequest struct {
	Text string `json:"text"`
}

type ExtractResponse struct {
	Success          bool              `json:"success"`
	Symptoms         []medical.Symptom `json:"symptoms,omitempty"`
	Error            *ErrorBody        `json:"error,omitempty"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ImageRequest struct {
	Type    string `json:"type"`
	Context string `json:"context"`
}

type HandoutRequest struct {
	Diagnosis  string           `json:"diagnosis"`
	PatientAge medical.AgeRange `json:"patientAge"`
}

// Failure is a route-level error with the status and public message it is
// reported with. Cause never reaches the client except as
// details.originalError on ANALYSIS_FAILED.
type Failure struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	msg := f.Message
	if f.Code != "" {
		msg = f.Code + ": " + msg
	}
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Cause }

func codeFailure(code string, cause error) *Failure {
	return &Failure{Status: codeStatus[code], Code: code, Message: codeMessages[code], Cause: cause}
}

func plainFailure(status int, msg string, cause error) *Failure {
	return &Failure{Status: status, Message: msg, Cause: cause}
}

// body renders f for the code envelopes.
func (f *Failure) body() *ErrorBody {
	b := &ErrorBody{Code: f.Code, Message: f.Message}
	if f.Code == CodeAnalysisFailed && f.Cause != nil {
		b.Details = map[string]any{"originalError": f.Cause.Error()}
	}
	return b
}
