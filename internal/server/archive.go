package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/qurio/internal/archive"
)

// ArchiveHandler serves full-text search over completed reports.
type ArchiveHandler struct {
	Archive *archive.Archive
}

func (h *ArchiveHandler) Register(g *echo.Group) {
	g.GET("/search", h.search)
}

func (h *ArchiveHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k := 10
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}
	hits, err := h.Archive.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []archive.Hit{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"hits": hits})
}
