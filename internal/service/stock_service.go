package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

type stockStore interface {
	Apply(ctx context.Context, movement *models.StockMovement) error
	List(ctx context.Context, filter models.StockMovementFilter) ([]models.StockMovement, int, error)
}

// StockMovementQuery mirrors movement listing filters.
type StockMovementQuery struct {
	ProductID string
	Type      string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// StockService records stock entries and exits against products.
type StockService struct {
	repo      stockStore
	audit     auditLogger
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStockService constructs the service.
func NewStockService(repo stockStore, audit auditLogger, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *StockService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockService{repo: repo, audit: audit, cache: cache, validator: validate, logger: logger}
}

// Record applies a movement to productID. Exits beyond the available
// quantity are refused with a conflict and leave the stock untouched.
func (s *StockService) Record(ctx context.Context, session *models.Session, productID string, req dto.StockMovementRequest) (*models.StockMovement, error) {
	if err := canWriteCatalog(session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(productID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "product id is required")
	}
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid stock movement")
	}

	userID := session.UserID
	movement := &models.StockMovement{
		ProductID: productID,
		Type:      models.StockMovementType(req.Type),
		Quantity:  req.Quantity,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: &userID,
	}
	if req.Date != nil {
		movement.MovementDate = req.Date.UTC()
	}
	if err := s.repo.Apply(ctx, movement); err != nil {
		return nil, mapCatalogError(err, "product", "failed to record stock movement")
	}

	s.emitAudit(ctx, session, movement)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, dashboardCachePattern); err != nil {
			s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
		}
	}
	return movement, nil
}

// List returns a page of movements.
func (s *StockService) List(ctx context.Context, query StockMovementQuery) ([]models.StockMovement, *models.Pagination, error) {
	filter := models.StockMovementFilter{
		ProductID: strings.TrimSpace(query.ProductID),
		From:      query.From,
		To:        query.To,
	}
	if query.Type != "" {
		filter.Type = models.StockMovementType(strings.ToLower(query.Type))
		if !filter.Type.IsValid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "type must be entry or exit")
		}
	}
	if query.From != nil && query.To != nil && query.To.Before(*query.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	page, size := normalizePage(query.Page, query.PageSize)
	filter.Page = page
	filter.PageSize = size

	movements, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stock movements")
	}
	return movements, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *StockService) emitAudit(ctx context.Context, session *models.Session, movement *models.StockMovement) {
	if s.audit == nil {
		return
	}
	log := models.NewAuditLog(session.UserID, models.AuditActionStockMovement, "product", movement.ProductID).
		Change(
			map[string]interface{}{"quantity": movement.QuantityBefore},
			map[string]interface{}{"type": movement.Type, "quantity": movement.QuantityAfter, "delta": movement.Quantity},
		).
		Origin("system", "stock-service")
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
