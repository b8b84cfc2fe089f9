package handler

import (
	"net/http"

	"github.com/abdusco/reftrack/internal/auth"
	"github.com/abdusco/reftrack/internal/stats"
	"github.com/labstack/echo/v4"
)

type StatsHandler struct {
	aggregator *stats.Aggregator
}

func NewStatsHandler(aggregator *stats.Aggregator) *StatsHandler {
	return &StatsHandler{aggregator: aggregator}
}

// Stats handles GET /api/stats?referral_id=. The aggregator decides whether
// the caller may see the numbers.
func (h *StatsHandler) Stats(c echo.Context) error {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		return echo.ErrUnauthorized
	}

	result, err := h.aggregator.GetStats(c.Request().Context(), caller, c.QueryParam("referral_id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
