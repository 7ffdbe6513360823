package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

// dashboardCachePattern matches every cached dashboard payload.
const dashboardCachePattern = "dash:*"

// Statuses a department head has forwarded at some point. Each request
// counts once, whatever happened to it after the dean received it.
var forwardedByChef = []workflow.Status{
	workflow.StatusSentToDean,
	workflow.StatusSentToSecretaryGeneral,
	workflow.StatusSentToFinancialOfficer,
	workflow.StatusTreated,
}

type dashboardCounter interface {
	CountByStatus(ctx context.Context, filter models.DemandeFilter) ([]models.StatusCount, error)
}

type catalogStatsReader interface {
	Stats(ctx context.Context, lowStock int) (*models.CatalogStats, error)
}

type dbQueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL          time.Duration
	LowStockThreshold int
}

// DashboardService aggregates request counts for the caller's scope.
type DashboardService struct {
	demandes dashboardCounter
	catalog  catalogStatsReader
	cache    *CacheService
	metrics  dbQueryObserver
	logger   *zap.Logger
	now      func() time.Time
	cfg      DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Demandes dashboardCounter
	Catalog  catalogStatsReader
	Cache    *CacheService
	Metrics  dbQueryObserver
	Logger   *zap.Logger
	Config   DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = 5
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		demandes: params.Demandes,
		catalog:  params.Catalog,
		cache:    params.Cache,
		metrics:  params.Metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		cfg:      cfg,
	}
}

// Stats returns the dashboard for the session and whether it came from cache.
func (s *DashboardService) Stats(ctx context.Context, session *models.Session) (*models.DashboardStats, bool, error) {
	if session == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	scope, filter := dashboardScope(session)
	cacheKey := dashboardCacheKey(session, scope)

	return Remember(ctx, s.cache, cacheKey, s.cfg.CacheTTL, func(ctx context.Context) (*models.DashboardStats, error) {
		return s.compose(ctx, session, scope, filter)
	})
}

func (s *DashboardService) compose(ctx context.Context, session *models.Session, scope models.DashboardScope, filter models.DemandeFilter) (*models.DashboardStats, error) {
	start := time.Now()
	counts, err := s.demandes.CountByStatus(ctx, filter)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("dashboard_status_counts", time.Since(start))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count purchase requests")
	}

	stats := &models.DashboardStats{
		Scope:       scope,
		Department:  filter.Department,
		ByStatus:    make(map[workflow.Status]int, len(workflow.Statuses())),
		GeneratedAt: s.now(),
	}
	for _, status := range workflow.Statuses() {
		stats.ByStatus[status] = 0
	}
	for _, row := range counts {
		if !row.Status.IsValid() {
			s.logger.Warn("ignoring unknown status in counts", zap.String("status", string(row.Status)))
			continue
		}
		stats.ByStatus[row.Status] += row.Count
		stats.Total += row.Count
	}
	for _, status := range forwardedByChef {
		stats.ForwardedByChef += stats.ByStatus[status]
	}
	if queue, ok := session.Role.Queue(); ok {
		stats.AwaitingMe = stats.ByStatus[queue]
	}

	if s.catalog != nil && (session.Role == workflow.RoleMagasinier || session.Role == workflow.RoleAdmin) {
		catalog, err := s.catalog.Stats(ctx, s.cfg.LowStockThreshold)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalog statistics")
		}
		stats.Catalog = catalog
	}
	return stats, nil
}

// dashboardScope mirrors the default listing scope: requesters see their
// own requests, department heads their department, everyone else all.
func dashboardScope(session *models.Session) (models.DashboardScope, models.DemandeFilter) {
	switch session.Role {
	case workflow.RoleChefDepartement:
		return models.DashboardScopeDepartment, models.DemandeFilter{Department: session.Department}
	case workflow.RoleProfesseur, workflow.RoleDirecteurLabo:
		return models.DashboardScopeMine, models.DemandeFilter{RequesterID: session.UserID}
	default:
		return models.DashboardScopeAll, models.DemandeFilter{}
	}
}

func dashboardCacheKey(session *models.Session, scope models.DashboardScope) string {
	switch scope {
	case models.DashboardScopeMine:
		return fmt.Sprintf("dash:mine:%s", session.UserID)
	case models.DashboardScopeDepartment:
		return fmt.Sprintf("dash:department:%s", session.Department)
	default:
		return fmt.Sprintf("dash:all:%s", session.Role)
	}
}
