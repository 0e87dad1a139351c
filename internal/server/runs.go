package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/qurio/internal/research"
	"github.com/mohammad-safakhou/qurio/internal/store"
)

// RunsHandler exposes persisted runs and in-flight engine status.
type RunsHandler struct {
	Store  *store.Store
	Engine *research.Engine
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:run_id", h.get)
	g.GET("/:run_id/status", h.status)
}

func (h *RunsHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) get(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	runID := c.Param("run_id")

	run, ok, err := h.Store.GetRun(c.Request().Context(), runID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	steps, err := h.Store.ListStepResults(c.Request().Context(), runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if steps == nil {
		steps = []store.StepResult{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":   run,
		"steps": steps,
	})
}

func (h *RunsHandler) status(c echo.Context) error {
	st, ok := h.Engine.Status(c.Param("run_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not active")
	}
	return c.JSON(http.StatusOK, st)
}
