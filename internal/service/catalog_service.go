package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/repository"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

type catalogStore interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	UpdateCategory(ctx context.Context, category *models.Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

// CatalogService manages categories and products. Anyone signed in may read;
// writes are reserved to the storekeeper and administrators.
type CatalogService struct {
	repo      catalogStore
	audit     auditLogger
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	lowStock  int
}

// NewCatalogService constructs the service.
func NewCatalogService(repo catalogStore, audit auditLogger, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger, lowStock int) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lowStock <= 0 {
		lowStock = 5
	}
	return &CatalogService{repo: repo, audit: audit, cache: cache, validator: validate, logger: logger, lowStock: lowStock}
}

// ListCategories returns every category.
func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list categories")
	}
	return categories, nil
}

// GetCategory returns one category.
func (s *CatalogService) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, mapCatalogError(err, "category", "failed to load category")
	}
	return category, nil
}

// CreateCategory adds a category with a unique name.
func (s *CatalogService) CreateCategory(ctx context.Context, session *models.Session, req dto.CategoryRequest) (*models.Category, error) {
	if err := canWriteCatalog(session); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid category")
	}
	category := &models.Category{Name: req.Name, Description: strings.TrimSpace(req.Description)}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		return nil, mapCatalogError(err, "category", "failed to create category")
	}
	s.emitAudit(ctx, session, "category", category.ID)
	return category, nil
}

// UpdateCategory renames or re-describes a category.
func (s *CatalogService) UpdateCategory(ctx context.Context, session *models.Session, id string, req dto.CategoryRequest) (*models.Category, error) {
	if err := canWriteCatalog(session); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid category")
	}
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, mapCatalogError(err, "category", "failed to load category")
	}
	category.Name = req.Name
	category.Description = strings.TrimSpace(req.Description)
	if err := s.repo.UpdateCategory(ctx, category); err != nil {
		return nil, mapCatalogError(err, "category", "failed to update category")
	}
	s.emitAudit(ctx, session, "category", id)
	return category, nil
}

// DeleteCategory removes a category. Its products become uncategorised.
func (s *CatalogService) DeleteCategory(ctx context.Context, session *models.Session, id string) error {
	if err := canWriteCatalog(session); err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return mapCatalogError(err, "category", "failed to delete category")
	}
	s.emitAudit(ctx, session, "category", id)
	s.invalidateDashboards(ctx)
	return nil
}

// ListProducts returns a page of products.
func (s *CatalogService) ListProducts(ctx context.Context, query dto.ProductQuery) ([]models.Product, *models.Pagination, error) {
	page, size := normalizePage(query.Page, query.PageSize)
	filter := models.ProductFilter{
		CategoryID: strings.TrimSpace(query.CategoryID),
		Search:     strings.TrimSpace(query.Search),
		Page:       page,
		PageSize:   size,
	}
	if query.LowStock {
		threshold := s.lowStock
		filter.LowStockMax = &threshold
	}
	products, total, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list products")
	}
	return products, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetProduct returns one product.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, mapCatalogError(err, "product", "failed to load product")
	}
	return product, nil
}

// CreateProduct adds a product with its opening quantity.
func (s *CatalogService) CreateProduct(ctx context.Context, session *models.Session, req dto.ProductRequest) (*models.Product, error) {
	if err := canWriteCatalog(session); err != nil {
		return nil, err
	}
	if err := s.validateProduct(&req); err != nil {
		return nil, err
	}
	product := &models.Product{
		Code:       req.Code,
		Name:       req.Name,
		Brand:      req.Brand,
		CategoryID: req.CategoryID,
		Quantity:   req.Quantity,
		Unit:       req.Unit,
		Price:      req.Price,
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, mapCatalogError(err, "product", "failed to create product")
	}
	s.emitAudit(ctx, session, "product", product.ID)
	s.invalidateDashboards(ctx)
	return product, nil
}

// UpdateProduct edits descriptive fields. Quantity is left to stock movements.
func (s *CatalogService) UpdateProduct(ctx context.Context, session *models.Session, id string, req dto.ProductRequest) (*models.Product, error) {
	if err := canWriteCatalog(session); err != nil {
		return nil, err
	}
	if err := s.validateProduct(&req); err != nil {
		return nil, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, mapCatalogError(err, "product", "failed to load product")
	}
	product.Code = req.Code
	product.Name = req.Name
	product.Brand = req.Brand
	product.CategoryID = req.CategoryID
	product.Unit = req.Unit
	product.Price = req.Price
	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return nil, mapCatalogError(err, "product", "failed to update product")
	}
	s.emitAudit(ctx, session, "product", id)
	s.invalidateDashboards(ctx)
	return product, nil
}

// DeleteProduct removes a product and its movement history.
func (s *CatalogService) DeleteProduct(ctx context.Context, session *models.Session, id string) error {
	if err := canWriteCatalog(session); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return mapCatalogError(err, "product", "failed to delete product")
	}
	s.emitAudit(ctx, session, "product", id)
	s.invalidateDashboards(ctx)
	return nil
}

func (s *CatalogService) validateProduct(req *dto.ProductRequest) error {
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	req.Brand = strings.TrimSpace(req.Brand)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.CategoryID != nil && strings.TrimSpace(*req.CategoryID) == "" {
		req.CategoryID = nil
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid product")
	}
	if req.Price.IsNegative() {
		return appErrors.Clone(appErrors.ErrValidation, "price must not be negative")
	}
	return nil
}

func (s *CatalogService) invalidateDashboards(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, dashboardCachePattern); err != nil {
		s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
	}
}

func (s *CatalogService) emitAudit(ctx context.Context, session *models.Session, resource, id string) {
	if s.audit == nil {
		return
	}
	log := models.NewAuditLog(session.UserID, models.AuditActionCatalogWrite, resource, id).
		Origin("system", "catalog-service")
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func canWriteCatalog(session *models.Session) error {
	if session == nil {
		return appErrors.ErrUnauthorized
	}
	if session.Role != workflow.RoleMagasinier && session.Role != workflow.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the storekeeper can change the catalog")
	}
	return nil
}

func mapCatalogError(err error, entity, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, entity+" not found")
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, entity+" already exists")
	case errors.Is(err, repository.ErrInsufficientStock):
		return appErrors.Clone(appErrors.ErrConflict, "insufficient stock")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}
