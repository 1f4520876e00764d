package hipaa

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/careportal/portal/internal/platform/apierror"
)

const defaultAccessLogLimit = 50

// AccessLog reads back recorded access entries.
type AccessLog interface {
	Recent(ctx context.Context, userID string, limit int) ([]AccessEntry, error)
}

// Handler serves the access log to compliance staff.
type Handler struct {
	log AccessLog
}

func NewHandler(log AccessLog) *Handler {
	return &Handler{log: log}
}

// RegisterRoutes mounts GET /compliance/access-log on g behind m.
func (h *Handler) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.GET("/compliance/access-log", h.Recent, m...)
}

type accessLogResponse struct {
	Entries []AccessEntry `json:"entries"`
	Limit   int           `json:"limit"`
}

func (h *Handler) Recent(c echo.Context) error {
	limit := defaultAccessLogLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			return apierror.BadRequest("limit must be between 1 and 1000")
		}
		limit = n
	}

	entries, err := h.log.Recent(c.Request().Context(), c.QueryParam("user_id"), limit)
	if err != nil {
		return apierror.New(http.StatusInternalServerError, apierror.CodeInternal, "Could not read the access log.")
	}
	if entries == nil {
		entries = []AccessEntry{}
	}
	return c.JSON(http.StatusOK, accessLogResponse{Entries: entries, Limit: limit})
}
