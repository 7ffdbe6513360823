package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
)

type fakeDashboardSrv struct {
	stats   *models.DashboardStats
	hit     bool
	err     error
	session *models.Session
}

func (f *fakeDashboardSrv) Stats(_ context.Context, session *models.Session) (*models.DashboardStats, bool, error) {
	f.session = session
	return f.stats, f.hit, f.err
}

func TestDashboardHandlerStatsCacheMeta(t *testing.T) {
	srv := &fakeDashboardSrv{
		stats: &models.DashboardStats{Scope: models.DashboardScopeAll, Total: 4, ByStatus: map[workflow.Status]int{workflow.StatusPending: 4}},
		hit:   true,
	}
	h := NewDashboardHandler(srv)
	c, rec := testContext(http.MethodGet, "/dashboard/stats", "", deanSession)

	h.Stats(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	var stats models.DashboardStats
	require.NoError(t, json.Unmarshal(envelope.Data, &stats))
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, deanSession, srv.session)
}

func TestDashboardHandlerReportsSnapshotAge(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	srv := &fakeDashboardSrv{stats: &models.DashboardStats{Scope: models.DashboardScopeMine, GeneratedAt: now.Add(-90 * time.Second)}}
	h := NewDashboardHandler(srv)
	h.now = func() time.Time { return now }
	c, rec := testContext(http.MethodGet, "/dashboard/stats", "", profSession)

	h.Stats(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "Authorization", rec.Header().Get("Vary"))
	envelope := decodeEnvelope(t, rec)
	assert.EqualValues(t, 90000, envelope.Meta["snapshot_age_ms"])
	assert.Equal(t, false, envelope.Meta["cache_hit"])
}

func TestDashboardHandlerRequiresSession(t *testing.T) {
	c, rec := testContext(http.MethodGet, "/dashboard/stats", "", nil)
	NewDashboardHandler(&fakeDashboardSrv{}).Stats(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDashboardHandlerStatsError(t *testing.T) {
	h := NewDashboardHandler(&fakeDashboardSrv{err: errors.New("db down")})
	c, rec := testContext(http.MethodGet, "/dashboard/stats", "", deanSession)

	h.Stats(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Error)
	assert.NotContains(t, envelope.Error.Message, "db down")
}
