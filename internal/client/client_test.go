package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/domain/assessment"
	"github.com/cdss/cdss/internal/domain/cases"
	"github.com/cdss/cdss/internal/domain/cds"
	"github.com/cdss/cdss/internal/domain/intake"
	"github.com/cdss/cdss/internal/domain/medical"
	"github.com/cdss/cdss/internal/platform/auth"
)

var (
	_ assessment.Analyzer         = (*Client)(nil)
	_ assessment.SymptomExtractor = (*Client)(nil)
	_ assessment.CaseSaver        = (*Client)(nil)
)

type stubGateway struct {
	configured bool
	err        error
}

func (g stubGateway) Configured() bool { return g.configured }

func (g stubGateway) AnalyzeClinicalCase(_ context.Context, _ *medical.Patient, e *medical.ClinicalEncounter, _ *medical.MedicalHistory, _ []medical.LaboratoryPanel) (*medical.DiagnosticAnalysis, error) {
	if g.err != nil {
		return nil, g.err
	}
	a := &medical.DiagnosticAnalysis{
		ID:          "an-1",
		EncounterID: e.ID,
		DifferentialDiagnoses: []medical.DifferentialDiagnosis{
			{Rank: 1, Condition: "Migraine", ConfidenceScore: 81, Probability: "high"},
		},
		RedFlags: []medical.RedFlag{{Severity: "soon", Description: "New neurological deficit", RecommendedAction: "Neurology review"}},
	}
	a.Normalize()
	return a, nil
}

func (g stubGateway) ExtractSymptoms(context.Context, string) ([]medical.Symptom, error) {
	return []medical.Symptom{{ID: "s1", Name: "Photophobia", Severity: 4, NLPExtracted: true}}, nil
}

func (g stubGateway) Chat(context.Context, string) (string, error) { return "", nil }

func (g stubGateway) GenerateImage(context.Context, string, string) (string, error) { return "", nil }

func (g stubGateway) GeneratePatientHandout(context.Context, string, medical.AgeRange) (*medical.PatientHandout, error) {
	return &medical.PatientHandout{}, nil
}

func newServer(t *testing.T, gw stubGateway) *httptest.Server {
	t.Helper()
	e := echo.New()
	api := e.Group("/api", auth.DevAuthMiddleware())
	cds.NewHandler(cds.NewService(gw, nil, zerolog.Nop()), nil, nil, zerolog.Nop()).RegisterRoutes(api)
	cases.NewHandler(cases.NewService(cases.NewMemoryRepo(), zerolog.Nop()), cases.NewIdempotencyStore(0)).RegisterRoutes(api)
	e.GET("/health", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"status": "ok"}) })

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_DrivesWizardEndToEnd(t *testing.T) {
	srv := newServer(t, stubGateway{configured: true})
	c := New(srv.URL)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	w := assessment.New(c, c, c, zerolog.Nop())
	if err := w.SubmitPatient(intake.PatientInput{AgeRange: medical.Age30To39, BiologicalSex: medical.SexFemale, ConsentGiven: true}); err != nil {
		t.Fatal(err)
	}
	if err := w.SubmitHistory(intake.HistoryInput{}); err != nil {
		t.Fatal(err)
	}
	w.SetChiefComplaint("Headache")
	if n := w.ExtractSymptoms(ctx, "throbbing headache and light hurts my eyes"); n != 1 {
		t.Fatalf("expected 1 extracted symptom, got %d", n)
	}
	if err := w.SubmitSymptoms(); err != nil {
		t.Fatal(err)
	}
	if err := w.SubmitVitals(medical.VitalSigns{}); err != nil {
		t.Fatal(err)
	}
	if err := w.SubmitLabs(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.RunAnalysis(ctx); err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if got := w.Analysis().DifferentialDiagnoses[0].Condition; got != "Migraine" {
		t.Errorf("unexpected top diagnosis %q", got)
	}

	id, err := w.Save(ctx)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	recent, err := c.RecentCases(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != id {
		t.Fatalf("expected saved case %s in recent list, got %+v", id, recent)
	}
	if len(recent[0].Encounter.Symptoms) != 1 || recent[0].Encounter.Symptoms[0].Name != "Photophobia" {
		t.Errorf("unexpected stored symptoms: %+v", recent[0].Encounter.Symptoms)
	}
}

func TestClient_AnalyzeEnvelopeError(t *testing.T) {
	srv := newServer(t, stubGateway{configured: false})
	c := New(srv.URL)

	_, err := c.Analyze(context.Background(), &cds.AnalyzeRequest{
		Patient:   &medical.Patient{ConsentGiven: true},
		Encounter: &medical.ClinicalEncounter{ID: "e1"},
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Code != cds.CodeConfiguration {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "AI service is not properly configured.") {
		t.Errorf("expected public message, got %q", err.Error())
	}
}

func TestClient_ExtractTooShort(t *testing.T) {
	srv := newServer(t, stubGateway{configured: true})
	_, err := New(srv.URL).ExtractSymptoms(context.Background(), "short")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != cds.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestClient_SaveCaseRejected(t *testing.T) {
	srv := newServer(t, stubGateway{configured: true})
	_, err := New(srv.URL).SaveCase(context.Background(), &cases.Bundle{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if apiErr.Message != "invalid case" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestClient_SaveCaseSendsOnce(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		atomic.AddInt32(&posts, 1)
		if r.Header.Get(cases.IdempotencyHeader) == "" {
			t.Error("expected an idempotency key")
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := New(srv.URL)
	// Warm a keep-alive connection so the POST goes out on a reused one.
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	_, err := c.SaveCase(context.Background(), &cases.Bundle{})
	if err == nil {
		t.Fatal("expected the dropped connection to surface as an error")
	}
	if n := atomic.LoadInt32(&posts); n != 1 {
		t.Errorf("expected exactly one save request, got %d", n)
	}
}

func TestClient_SendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unhealthy"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, WithToken("tok")).Health(context.Background())
	if got != "Bearer tok" {
		t.Errorf("expected bearer header, got %q", got)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 APIError, got %v", err)
	}
}
