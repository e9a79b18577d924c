package cds

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cdss/cdss/internal/platform/auth"
	"github.com/cdss/cdss/internal/platform/middleware"
	"github.com/cdss/cdss/pkg/pagination"
)

type Handler struct {
	svc     *Service
	limiter *middleware.FixedWindowLimiter
	trail   *AuditTrail
	logger  zerolog.Logger
}

// NewHandler serves the AI routes. limiter throttles /analyze per client
// address and trail backs GET /audit; either may be nil.
func NewHandler(svc *Service, limiter *middleware.FixedWindowLimiter, trail *AuditTrail, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, limiter: limiter, trail: trail, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/analyze", h.Analyze)
	api.POST("/extract-symptoms", h.ExtractSymptoms)
	api.POST("/chat", h.Chat)
	api.POST("/generate-image", h.GenerateImage)
	api.POST("/patient-handout", h.PatientHandout)

	if h.trail != nil {
		admin := api.Group("/audit", auth.RequireRole(auth.RoleAdmin))
		admin.GET("", h.ListAudit)
	}
}

func actorFrom(c echo.Context, rid string) Actor {
	ctx := c.Request().Context()
	return Actor{
		RequestID: rid,
		UserID:    auth.UserIDFromContext(ctx),
		Role:      strings.Join(auth.RolesFromContext(ctx), ","),
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

func asFailure(err error, fallback string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return codeFailure(fallback, err)
}

// Analyze checks the per-client limit before reading the body. Every call
// gets a fresh requestId; the transport X-Request-ID is only logged next to it.
func (h *Handler) Analyze(c echo.Context) error {
	start := time.Now()
	rid := uuid.NewString()
	h.logger.Debug().
		Str("request_id", rid).
		Str("http_request_id", middleware.RequestIDFrom(c)).
		Msg("analyze request")
	fail := func(f *Failure) error {
		return c.JSON(f.Status, AnalyzeResponse{
			Error:            f.body(),
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			RequestID:        rid,
		})
	}

	if h.limiter != nil {
		d, err := h.limiter.Allow(c.Request().Context(), c.RealIP())
		switch {
		case err != nil:
			h.logger.Warn().Err(err).Str("request_id", rid).Msg("analyze limiter unavailable")
		case !d.Allowed:
			middleware.SetRateLimitHeaders(c, d)
			return fail(codeFailure(CodeRateLimited, nil))
		}
	}

	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return fail(codeFailure(CodeInvalidRequest, err))
	}

	analysis, err := h.svc.Analyze(c.Request().Context(), &req, actorFrom(c, rid))
	if err != nil {
		return fail(asFailure(err, CodeAnalysisFailed))
	}
	return c.JSON(http.StatusOK, AnalyzeResponse{
		Success:          true,
		Analysis:         analysis,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		RequestID:        rid,
	})
}

func (h *Handler) ExtractSymptoms(c echo.Context) error {
	start := time.Now()
	fail := func(f *Failure) error {
		return c.JSON(f.Status, ExtractResponse{Error: f.body(), ProcessingTimeMs: time.Since(start).Milliseconds()})
	}

	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return fail(codeFailure(CodeInvalidInput, err))
	}
	symptoms, err := h.svc.ExtractSymptoms(c.Request().Context(), req.Text)
	if err != nil {
		return fail(asFailure(err, CodeExtractionFailed))
	}
	return c.JSON(http.StatusOK, ExtractResponse{
		Success:          true,
		Symptoms:         symptoms,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

func plainError(c echo.Context, err error, fallback string) error {
	var f *Failure
	if !errors.As(err, &f) {
		f = plainFailure(http.StatusInternalServerError, fallback, err)
	}
	return c.JSON(f.Status, map[string]string{"error": f.Message})
}

func (h *Handler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msgMessageRequired})
	}
	reply, err := h.svc.Chat(c.Request().Context(), req.Message)
	if err != nil {
		return plainError(c, err, msgChatFailed)
	}
	return c.JSON(http.StatusOK, map[string]string{"response": reply})
}

func (h *Handler) GenerateImage(c echo.Context) error {
	var req ImageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msgInvalidBody})
	}
	img, err := h.svc.GenerateImage(c.Request().Context(), req.Type, req.Context)
	if err != nil {
		return plainError(c, err, msgGenerationFailed)
	}
	return c.JSON(http.StatusOK, map[string]string{"image": img})
}

func (h *Handler) PatientHandout(c echo.Context) error {
	var req HandoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msgInvalidBody})
	}
	handout, err := h.svc.GeneratePatientHandout(c.Request().Context(), req.Diagnosis, req.PatientAge)
	if err != nil {
		return plainError(c, err, msgGenerationFailed)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"explanation": handout})
}

func (h *Handler) ListAudit(c echo.Context) error {
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.Window(h.trail.Recent(0), pg))
}
