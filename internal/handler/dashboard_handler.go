package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/demande-api/internal/middleware"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/pkg/response"
)

type dashboardService interface {
	Stats(ctx context.Context, session *models.Session) (*models.DashboardStats, bool, error)
}

// DashboardHandler serves the per-role request counters.
type DashboardHandler struct {
	service dashboardService
	now     func() time.Time
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service, now: time.Now}
}

// Stats godoc
// @Summary Request counters for the caller's scope
// @Description Counts per status, the caller's approval queue and, for a department head, how many requests were forwarded.
// @Description Payloads may come from cache: X-Cache tells HIT or MISS and meta.snapshot_age_ms how old the figures are.
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /dashboard/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	start := h.now()
	stats, cacheHit, err := h.service.Stats(c.Request.Context(), session)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Vary", "Authorization")
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["processing_time_ms"] = h.now().Sub(start).Milliseconds()
	if !stats.GeneratedAt.IsZero() {
		meta["snapshot_age_ms"] = h.now().Sub(stats.GeneratedAt).Milliseconds()
	}
	response.JSON(c, http.StatusOK, stats, nil, meta)
}
