package analytics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/internal/events"
	"github.com/cartpulse/cartpulse/internal/forecast"
	"github.com/cartpulse/cartpulse/internal/metrics"
)

const cohortEventCap = 10000

// Handler provides merchant analytics endpoints.
type Handler struct {
	events events.Store
	model  *forecast.Model
}

// NewHandler creates an analytics handler over the event store.
func NewHandler(store events.Store) *Handler {
	return &Handler{events: store, model: forecast.NewModel()}
}

// RegisterRoutes sets up analytics routes under the given group.
// Routes require merchant ownership (enforced by caller middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:id/analytics/funnel", h.Funnel)
	r.GET("/merchants/:id/analytics/revenue", h.Revenue)
	r.GET("/merchants/:id/analytics/forecast", h.Forecast)
	r.GET("/merchants/:id/analytics/cohorts", h.Cohorts)
}

// Funnel returns per-step conversion for the trailing window.
func (h *Handler) Funnel(c *gin.Context) {
	ctx := c.Request.Context()
	days := parseDays(c, 30, 365)
	since := time.Now().UTC().AddDate(0, 0, -days)

	counts, err := h.events.FunnelCounts(ctx, c.Param("id"), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	summary := SummarizeFunnel(counts)
	c.JSON(http.StatusOK, gin.H{
		"days":              days,
		"steps":             summary.Steps,
		"overallConversion": summary.OverallConversion,
	})
}

// Revenue returns the daily revenue series for the trailing window.
func (h *Handler) Revenue(c *gin.Context) {
	ctx := c.Request.Context()
	days := parseDays(c, 30, 365)

	series, err := h.events.DailyRevenue(ctx, c.Param("id"), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	var totalCents int64
	for _, d := range series {
		totalCents += d.RevenueCents
	}
	c.JSON(http.StatusOK, gin.H{
		"days":              days,
		"series":            series,
		"totalRevenueCents": totalCents,
	})
}

// Forecast projects daily revenue forward. With fewer than two observed
// days the trend model yields nothing, so a flat-average projection is
// served instead.
func (h *Handler) Forecast(c *gin.Context) {
	ctx := c.Request.Context()
	history := parseDays(c, 30, 365)
	horizon := horizonDays(c)
	if horizon <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_horizon", "message": "horizon must be between 1 and 90 days"})
		return
	}

	series, err := h.events.DailyRevenue(ctx, c.Param("id"), history)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	points := make([]forecast.DataPoint, 0, len(series))
	for _, d := range series {
		points = append(points, forecast.DataPoint{
			Date:    d.Date,
			Revenue: float64(d.RevenueCents) / 100,
		})
	}

	result := h.model.Generate(points, horizon)
	source := "model"
	if len(result.Forecasts) == 0 {
		result = FlatForecast(points, time.Now().UTC().Truncate(24*time.Hour), horizon)
		source = "fallback"
	}
	metrics.ForecastRequestsTotal.WithLabelValues(source).Inc()

	c.JSON(http.StatusOK, gin.H{
		"historyDays": history,
		"horizonDays": horizon,
		"source":      source,
		"forecasts":   result.Forecasts,
		"trend":       result.Trend,
		"avgGrowth":   result.AvgGrowth,
	})
}

// Cohorts returns weekly first-seen retention cohorts.
func (h *Handler) Cohorts(c *gin.Context) {
	ctx := c.Request.Context()
	weeks := parseWeeks(c, 8, 26)
	since := time.Now().UTC().AddDate(0, 0, -7*weeks)

	evts, err := h.events.ListRecent(ctx, c.Param("id"), since, cohortEventCap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	cohorts := BuildCohorts(evts, weeks)
	c.JSON(http.StatusOK, gin.H{
		"weeks":   weeks,
		"cohorts": cohorts,
		"count":   len(cohorts),
	})
}

func parseDays(c *gin.Context, defaultVal, maxVal int) int {
	days := defaultVal
	if v := c.Query("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	if days > maxVal {
		days = maxVal
	}
	return days
}

func parseWeeks(c *gin.Context, defaultVal, maxVal int) int {
	weeks := defaultVal
	if v := c.Query("weeks"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			weeks = n
		}
	}
	if weeks > maxVal {
		weeks = maxVal
	}
	return weeks
}

func horizonDays(c *gin.Context) int {
	horizon := 7
	if v := c.Query("horizon"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 90 {
			return 0
		}
		horizon = n
	}
	return horizon
}
