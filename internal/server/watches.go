package server

import (
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/qurio/internal/store"
)

// WatchesHandler manages scheduled research questions.
type WatchesHandler struct {
	Store *store.Store
}

func (h *WatchesHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.PUT("/:watch_id", h.update)
	g.DELETE("/:watch_id", h.delete)
}

func (h *WatchesHandler) create(c echo.Context) error {
	var req WatchCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	if err := validateCronSpec(req.CronSpec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	mode := req.Mode
	if mode == "" {
		mode = "general"
	}
	userID, _ := c.Get("user_id").(string)

	id, err := h.Store.CreateWatch(c.Request().Context(), userID, req.Question, mode, req.CronSpec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *WatchesHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	watches, err := h.Store.ListWatches(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if watches == nil {
		watches = []store.Watch{}
	}
	return c.JSON(http.StatusOK, watches)
}

func (h *WatchesHandler) update(c echo.Context) error {
	var req WatchUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Get("user_id").(string)
	if err := h.Store.SetWatchEnabled(c.Request().Context(), c.Param("watch_id"), userID, req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *WatchesHandler) delete(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if err := h.Store.DeleteWatch(c.Request().Context(), c.Param("watch_id"), userID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func validateCronSpec(spec string) error {
	switch spec {
	case "@hourly", "@daily":
		return nil
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron_spec: "+err.Error())
	}
	return nil
}
