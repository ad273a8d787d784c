// internal/api/v2/analytics.go
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/leafguard-go/internal/datastore"
	"github.com/tphakala/leafguard-go/internal/detection"
	"github.com/tphakala/leafguard-go/internal/errors"
)

const (
	defaultTrendDays = 30
	maxTrendDays     = 365

	searchGroupCap = 20

	statisticsCacheKey = "disease-statistics"
	statisticsCacheTTL = time.Minute
)

// TreatmentsResponse reports the recommended treatments for a disease label.
// Source is "observed" when they come from the most recent detection of the
// label and "default" when the built-in table supplied them.
type TreatmentsResponse struct {
	Label      string   `json:"label"`
	Treatments []string `json:"treatments"`
	Source     string   `json:"source"`
}

// initDiseaseRoutes registers the aggregation read-side endpoints.
func (c *Controller) initDiseaseRoutes() {
	c.Group.GET("/diseases/statistics", c.GetDiseaseStatistics)
	c.Group.GET("/diseases/trends", c.GetDiseaseTrends)
	c.Group.GET("/diseases/search", c.SearchDiseases)
	c.Group.GET("/diseases/:label/treatments", c.GetTreatments)
}

// GetDiseaseStatistics returns aggregate disease counts across all completed
// detections. Results are cached briefly; the aggregate changes slowly and
// the query touches every disease row.
func (c *Controller) GetDiseaseStatistics(ctx echo.Context) error {
	if cached, found := c.detectionCache.Get(statisticsCacheKey); found {
		if stats, ok := cached.(datastore.DiseaseStatistics); ok {
			return ctx.JSON(http.StatusOK, stats)
		}
	}

	stats, err := c.DS.GetDiseaseStatistics(ctx.Request().Context())
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to compute disease statistics")
	}

	c.detectionCache.Set(statisticsCacheKey, stats, statisticsCacheTTL)
	return ctx.JSON(http.StatusOK, stats)
}

// GetDiseaseTrends returns per-day disease counts over a trailing window.
// Days without completed detections are absent from the result.
func (c *Controller) GetDiseaseTrends(ctx echo.Context) error {
	days := defaultTrendDays
	if daysStr := ctx.QueryParam("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed < 1 {
			return c.HandleError(ctx, err, "Invalid days parameter", http.StatusBadRequest)
		}
		if parsed > maxTrendDays {
			parsed = maxTrendDays
		}
		days = parsed
	}

	cacheKey := fmt.Sprintf("disease-trends-%d", days)
	if cached, found := c.detectionCache.Get(cacheKey); found {
		if trends, ok := cached.([]datastore.TrendPoint); ok {
			return ctx.JSON(http.StatusOK, map[string]any{"days": days, "trends": trends})
		}
	}

	from := time.Now().UTC().AddDate(0, 0, -days)
	trends, err := c.DS.GetDiseaseTrends(ctx.Request().Context(), from)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to compute disease trends")
	}

	c.detectionCache.Set(cacheKey, trends, statisticsCacheTTL)
	return ctx.JSON(http.StatusOK, map[string]any{"days": days, "trends": trends})
}

// SearchDiseases returns detections grouped by disease label for a substring
// query, ranked by mean confidence.
func (c *Controller) SearchDiseases(ctx echo.Context) error {
	query := strings.TrimSpace(ctx.QueryParam("q"))
	if query == "" {
		return c.HandleError(ctx, nil, "Missing search query", http.StatusBadRequest)
	}

	groups, err := c.DS.SearchDiseases(ctx.Request().Context(), query, searchGroupCap)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Disease search failed")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"query":  query,
		"groups": groups,
	})
}

// GetTreatments returns treatment recommendations for a disease label,
// preferring the most recently observed ones and falling back to the built-in
// default table.
func (c *Controller) GetTreatments(ctx echo.Context) error {
	label := strings.ToLower(strings.TrimSpace(ctx.Param("label")))
	if label == "" {
		return c.HandleError(ctx, nil, "Missing disease label", http.StatusBadRequest)
	}

	treatments, err := c.DS.GetLatestTreatments(ctx.Request().Context(), label)
	if err != nil {
		if !errors.HasCategory(err, errors.CategoryNotFound) {
			return c.HandleServiceError(ctx, err, "Failed to look up treatments")
		}
		return ctx.JSON(http.StatusOK, TreatmentsResponse{
			Label:      label,
			Treatments: detection.DefaultTreatments(label),
			Source:     "default",
		})
	}

	return ctx.JSON(http.StatusOK, TreatmentsResponse{
		Label:      label,
		Treatments: treatments,
		Source:     "observed",
	})
}
