package cds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/domain/medical"
	"github.com/cdss/cdss/internal/platform/auth"
	"github.com/cdss/cdss/internal/platform/middleware"
)

type fakeGateway struct {
	mu         sync.Mutex
	configured bool
	err        error
	calls      int
	lastText   string
	lastLabs   []medical.LaboratoryPanel
}

func newFakeGateway() *fakeGateway { return &fakeGateway{configured: true} }

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) record() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) AnalyzeClinicalCase(_ context.Context, _ *medical.Patient, e *medical.ClinicalEncounter, _ *medical.MedicalHistory, labs []medical.LaboratoryPanel) (*medical.DiagnosticAnalysis, error) {
	if err := g.record(); err != nil {
		return nil, err
	}
	g.lastLabs = labs
	a := &medical.DiagnosticAnalysis{
		ID:          "an-1",
		EncounterID: e.ID,
		DifferentialDiagnoses: []medical.DifferentialDiagnosis{
			{ID: "d1", Rank: 1, Condition: "Acute coronary syndrome", ConfidenceScore: 72, Probability: "high"},
		},
		Disclaimers: []string{medical.StandardDisclaimer},
	}
	a.Normalize()
	return a, nil
}

func (g *fakeGateway) ExtractSymptoms(_ context.Context, text string) ([]medical.Symptom, error) {
	if err := g.record(); err != nil {
		return nil, err
	}
	g.lastText = text
	return []medical.Symptom{{ID: "s1", Name: "Headache", Severity: 5, NLPExtracted: true}}, nil
}

func (g *fakeGateway) Chat(_ context.Context, message string) (string, error) {
	if err := g.record(); err != nil {
		return "", err
	}
	return "echo: " + message, nil
}

func (g *fakeGateway) GenerateImage(_ context.Context, kind, subject string) (string, error) {
	if err := g.record(); err != nil {
		return "", err
	}
	return "aW1n", nil
}

func (g *fakeGateway) GeneratePatientHandout(_ context.Context, diagnosis string, _ medical.AgeRange) (*medical.PatientHandout, error) {
	if err := g.record(); err != nil {
		return nil, err
	}
	return &medical.PatientHandout{Title: diagnosis}, nil
}

type testEnv struct {
	e     *echo.Echo
	gw    *fakeGateway
	trail *AuditTrail
}

func newTestEnv(gw *fakeGateway, limit int) *testEnv {
	trail := NewAuditTrail(10)
	limiter := middleware.NewFixedWindowLimiter(middleware.NewMemoryWindowStore(), limit, time.Minute)
	h := NewHandler(NewService(gw, trail, zerolog.Nop()), limiter, trail, zerolog.Nop())

	e := echo.New()
	api := e.Group("/api", middleware.RequestID(), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), "dr-1", []string{auth.RoleClinician})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)
	return &testEnv{e: e, gw: gw, trail: trail}
}

func (env *testEnv) post(path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

const analyzeBody = `{
  "patient": {"id": "p1", "pseudonymizedId": "PAT-1", "demographics": {"ageRange": "50-59", "biologicalSex": "male"}, "consentGiven": true},
  "encounter": {"id": "enc-1", "patientId": "p1", "chiefComplaint": "chest pain",
    "symptoms": [{"id": "s1", "name": "Chest pain", "severity": 8, "onset": "sudden"}], "status": "in-progress"},
  "history": null
}`

func decodeAnalyze(t *testing.T, rec *httptest.ResponseRecorder) AnalyzeResponse {
	t.Helper()
	var resp AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestAnalyze_RequestIDIsPerCall(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)

	first := env.post("/api/analyze", analyzeBody, middleware.RequestIDHeader, "client-trace-1")
	second := env.post("/api/analyze", analyzeBody, middleware.RequestIDHeader, "client-trace-1")
	a, b := decodeAnalyze(t, first), decodeAnalyze(t, second)

	if a.RequestID == "client-trace-1" || b.RequestID == "client-trace-1" {
		t.Errorf("requestId must not echo the X-Request-ID header, got %q and %q", a.RequestID, b.RequestID)
	}
	if a.RequestID == b.RequestID {
		t.Errorf("expected distinct request ids, both were %q", a.RequestID)
	}
	if first.Header().Get(middleware.RequestIDHeader) != "client-trace-1" {
		t.Errorf("expected the transport header to be kept, got %q", first.Header().Get(middleware.RequestIDHeader))
	}
}

func TestAnalyze_Success(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)

	rec := env.post("/api/analyze", analyzeBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeAnalyze(t, rec)
	if !resp.Success || resp.Analysis == nil || resp.Error != nil {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("expected request id")
	}
	if _, err := uuid.Parse(resp.RequestID); err != nil {
		t.Errorf("expected a uuid request id, got %q", resp.RequestID)
	}
	if resp.Analysis.DifferentialDiagnoses[0].Condition != "Acute coronary syndrome" {
		t.Errorf("unexpected analysis: %+v", resp.Analysis)
	}
	if env.gw.lastLabs == nil {
		t.Error("expected missing labResults to reach the gateway as an empty list")
	}

	entries := env.trail.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Action != medical.AuditAnalysisRequested || entries[0].ResourceID != "enc-1" || entries[0].ActorID != "dr-1" {
		t.Errorf("unexpected audit entry: %+v", entries[0])
	}
	if entries[0].Details["patientId"] != "PAT-1" {
		t.Errorf("expected patient id in audit details, got %v", entries[0].Details)
	}
}

func TestAnalyze_MissingPatient(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)

	rec := env.post("/api/analyze", `{"encounter": {"id": "enc-1"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeAnalyze(t, rec)
	if resp.Success || resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.Error.Message != "Patient and encounter data are required." {
		t.Errorf("unexpected message %q", resp.Error.Message)
	}
	if env.gw.callCount() != 0 {
		t.Error("expected no gateway call")
	}
}

func TestAnalyze_ConsentRequired(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)
	body := strings.Replace(analyzeBody, `"consentGiven": true`, `"consentGiven": false`, 1)

	rec := env.post("/api/analyze", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if resp := decodeAnalyze(t, rec); resp.Error.Code != CodeConsentRequired {
		t.Errorf("expected CONSENT_REQUIRED, got %s", resp.Error.Code)
	}
	if env.gw.callCount() != 0 {
		t.Error("expected no gateway call")
	}
}

func TestAnalyze_NotConfigured(t *testing.T) {
	gw := newFakeGateway()
	gw.configured = false
	env := newTestEnv(gw, 10)

	rec := env.post("/api/analyze", analyzeBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeAnalyze(t, rec)
	if resp.Error.Code != CodeConfiguration || resp.Error.Message != "AI service is not properly configured." {
		t.Errorf("unexpected error: %+v", resp.Error)
	}
	if gw.callCount() != 0 {
		t.Errorf("expected zero outbound calls, got %d", gw.callCount())
	}
}

func TestAnalyze_GatewayFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.err = errors.New("model returned malformed JSON")
	env := newTestEnv(gw, 10)

	rec := env.post("/api/analyze", analyzeBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeAnalyze(t, rec)
	if resp.Error.Code != CodeAnalysisFailed {
		t.Fatalf("expected ANALYSIS_FAILED, got %s", resp.Error.Code)
	}
	if resp.Error.Details["originalError"] != "model returned malformed JSON" {
		t.Errorf("expected original error in details, got %v", resp.Error.Details)
	}
	if len(env.trail.Recent(0)) != 0 {
		t.Error("failed analyses are not audited as completed")
	}
}

func TestAnalyze_RateLimit(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)

	for i := 1; i <= 10; i++ {
		rec := env.post("/api/analyze", analyzeBody, "X-Real-IP", "198.51.100.4")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	// the limiter runs before the body is read
	rec := env.post("/api/analyze", `not json`, "X-Real-IP", "198.51.100.4")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	resp := decodeAnalyze(t, rec)
	if resp.Error.Code != CodeRateLimited || resp.Error.Message != "Too many requests. Please wait before trying again." {
		t.Errorf("unexpected error: %+v", resp.Error)
	}
	if resp.RequestID == "" {
		t.Error("expected request id on rejection")
	}

	if rec := env.post("/api/analyze", analyzeBody, "X-Real-IP", "198.51.100.5"); rec.Code != http.StatusOK {
		t.Errorf("expected other client to pass, got %d", rec.Code)
	}
}

func TestExtractSymptoms_MinimumLength(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)

	rec := env.post("/api/extract-symptoms", `{"text": "123456789"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("9 chars: expected 400, got %d", rec.Code)
	}
	var resp ExtractResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %+v", resp.Error)
	}

	rec = env.post("/api/extract-symptoms", `{"text": "   123456789   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("padded 9 chars: expected 400, got %d", rec.Code)
	}
	if env.gw.callCount() != 0 {
		t.Fatal("expected no gateway call for short input")
	}

	rec = env.post("/api/extract-symptoms", `{"text": "1234567890"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("10 chars: expected 200, got %d", rec.Code)
	}
	resp = ExtractResponse{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || len(resp.Symptoms) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestExtractSymptoms_Failures(t *testing.T) {
	gw := newFakeGateway()
	gw.configured = false
	env := newTestEnv(gw, 10)
	rec := env.post("/api/extract-symptoms", `{"text": "severe headache since yesterday"}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), CodeConfiguration) {
		t.Errorf("expected CONFIGURATION_ERROR, got %d %s", rec.Code, rec.Body.String())
	}

	gw = newFakeGateway()
	gw.err = errors.New("boom")
	env = newTestEnv(gw, 10)
	rec = env.post("/api/extract-symptoms", `{"text": "severe headache since yesterday"}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), CodeExtractionFailed) {
		t.Errorf("expected EXTRACTION_FAILED, got %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("extraction failures must not leak the cause")
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)
	rec := env.post("/api/chat", `{"message": "hello"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"response":"echo: hello"`) {
		t.Errorf("unexpected reply %d %s", rec.Code, rec.Body.String())
	}

	rec = env.post("/api/chat", `{}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Message is required") {
		t.Errorf("unexpected reply %d %s", rec.Code, rec.Body.String())
	}

	gw := newFakeGateway()
	gw.configured = false
	rec = newTestEnv(gw, 10).post("/api/chat", `{"message": "hello"}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "AI configuration error") {
		t.Errorf("unexpected reply %d %s", rec.Code, rec.Body.String())
	}

	gw = newFakeGateway()
	gw.err = errors.New("upstream")
	rec = newTestEnv(gw, 10).post("/api/chat", `{"message": "hello"}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Failed to process chat request") {
		t.Errorf("unexpected reply %d %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateImageAndHandout(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)
	rec := env.post("/api/generate-image", `{"type": "anatomy", "context": "heart"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"image":"aW1n"`) {
		t.Errorf("unexpected image reply %d %s", rec.Code, rec.Body.String())
	}
	rec = env.post("/api/patient-handout", `{"diagnosis": "Asthma", "patientAge": "18-29"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"title":"Asthma"`) {
		t.Errorf("unexpected handout reply %d %s", rec.Code, rec.Body.String())
	}

	gw := newFakeGateway()
	gw.configured = false
	env = newTestEnv(gw, 10)
	for _, path := range []string{"/api/generate-image", "/api/patient-handout"} {
		rec := env.post(path, `{}`)
		if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Configuration Error") {
			t.Errorf("%s: unexpected reply %d %s", path, rec.Code, rec.Body.String())
		}
	}

	gw = newFakeGateway()
	gw.err = errors.New("quota")
	env = newTestEnv(gw, 10)
	for _, path := range []string{"/api/generate-image", "/api/patient-handout"} {
		rec := env.post(path, `{}`)
		if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "Generation Failed") {
			t.Errorf("%s: unexpected reply %d %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestListAudit_RequiresAdmin(t *testing.T) {
	env := newTestEnv(newFakeGateway(), 10)
	env.post("/api/analyze", analyzeBody)

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected clinician to be refused, got %d", rec.Code)
	}

	h := NewHandler(nil, nil, env.trail, zerolog.Nop())
	rec = httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/audit?limit=5", nil), rec)
	if err := h.ListAudit(c); err != nil {
		t.Fatal(err)
	}
	var entries []medical.AuditEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %s", rec.Body.String())
	}
}
