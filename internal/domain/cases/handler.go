package cases

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hengadev/errsx"
	"github.com/labstack/echo/v4"

	"github.com/cdss/cdss/internal/platform/auth"
	"github.com/cdss/cdss/pkg/pagination"
)

type Handler struct {
	svc   *Service
	idemp *IdempotencyStore
}

// NewHandler serves the case routes. idemp may be nil, which disables
// Idempotency-Key handling.
func NewHandler(svc *Service, idemp *IdempotencyStore) *Handler {
	return &Handler{svc: svc, idemp: idemp}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cases", auth.RequireRole(auth.RoleClinician))
	g.POST("", h.SaveCase)
	g.GET("", h.ListRecent)
	g.GET("/all", h.ListAll)
	g.GET("/search", h.Search)
	g.GET("/:id", h.GetCase)
}

type saveResponse struct {
	ID string `json:"id"`
}

func (h *Handler) SaveCase(c echo.Context) error {
	var b Bundle
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case payload")
	}

	key := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
	if key != "" && h.idemp != nil {
		switch state, id := h.idemp.Claim(key); state {
		case Replay:
			c.Response().Header().Set("X-Idempotency-Replayed", "true")
			return c.JSON(http.StatusOK, saveResponse{ID: id})
		case InFlight:
			return echo.NewHTTPError(http.StatusConflict, "a save with this idempotency key is in progress")
		}
	}

	id, err := h.svc.Save(c.Request().Context(), &b)
	if err != nil {
		if key != "" && h.idemp != nil {
			h.idemp.Release(key)
		}
		var fieldErrs errsx.Map
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for k, v := range fieldErrs {
				fields[k] = fmt.Sprint(v)
			}
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"message": "invalid case",
				"fields":  fields,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, ErrSaveFailed.Error())
	}
	if key != "" && h.idemp != nil {
		h.idemp.Complete(key, id)
	}
	return c.JSON(http.StatusCreated, saveResponse{ID: id})
}

func (h *Handler) ListRecent(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListRecent(c.Request().Context(), pg.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load cases")
	}
	return c.JSON(http.StatusOK, items)
}

// ListAll returns every case. When ?limit= or ?offset= is given only that
// page is returned and X-Total-Count carries the full count.
func (h *Handler) ListAll(c echo.Context) error {
	items, err := h.svc.ListAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load cases")
	}
	if c.QueryParam("limit") == "" && c.QueryParam("offset") == "" {
		return c.JSON(http.StatusOK, items)
	}
	pg := pagination.FromContext(c)
	c.Response().Header().Set("X-Total-Count", strconv.Itoa(len(items)))
	c.Response().Header().Set("X-Has-More", strconv.FormatBool(pg.HasNext(len(items))))
	return c.JSON(http.StatusOK, pagination.Window(items, pg))
}

func (h *Handler) Search(c echo.Context) error {
	items, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to search cases")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetCase(c echo.Context) error {
	sc, err := h.svc.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load case")
	}
	if sc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	}
	return c.JSON(http.StatusOK, sc)
}
