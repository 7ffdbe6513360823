package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/service"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

var storekeeperSession = &models.Session{UserID: "u-mag", Role: workflow.RoleMagasinier}

type fakeCatalogService struct {
	productQuery dto.ProductQuery
	product      dto.ProductRequest
	err          error
}

func (f *fakeCatalogService) ListCategories(context.Context) ([]models.Category, error) {
	return []models.Category{{ID: "c-1", Name: "Informatique"}}, f.err
}

func (f *fakeCatalogService) GetCategory(_ context.Context, id string) (*models.Category, error) {
	return &models.Category{ID: id}, f.err
}

func (f *fakeCatalogService) CreateCategory(_ context.Context, _ *models.Session, req dto.CategoryRequest) (*models.Category, error) {
	return &models.Category{ID: "c-2", Name: req.Name}, f.err
}

func (f *fakeCatalogService) UpdateCategory(_ context.Context, _ *models.Session, id string, req dto.CategoryRequest) (*models.Category, error) {
	return &models.Category{ID: id, Name: req.Name}, f.err
}

func (f *fakeCatalogService) DeleteCategory(context.Context, *models.Session, string) error {
	return f.err
}

func (f *fakeCatalogService) ListProducts(_ context.Context, query dto.ProductQuery) ([]models.Product, *models.Pagination, error) {
	f.productQuery = query
	return []models.Product{}, &models.Pagination{Page: 1, PageSize: 20}, f.err
}

func (f *fakeCatalogService) GetProduct(_ context.Context, id string) (*models.Product, error) {
	return &models.Product{ID: id}, f.err
}

func (f *fakeCatalogService) CreateProduct(_ context.Context, _ *models.Session, req dto.ProductRequest) (*models.Product, error) {
	f.product = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.Product{ID: "p-1", Code: req.Code, Name: req.Name, Price: req.Price}, nil
}

func (f *fakeCatalogService) UpdateProduct(_ context.Context, _ *models.Session, id string, req dto.ProductRequest) (*models.Product, error) {
	f.product = req
	return &models.Product{ID: id}, f.err
}

func (f *fakeCatalogService) DeleteProduct(context.Context, *models.Session, string) error {
	return f.err
}

type fakeStockService struct {
	productID string
	request   dto.StockMovementRequest
	query     service.StockMovementQuery
	err       error
}

func (f *fakeStockService) Record(_ context.Context, _ *models.Session, productID string, req dto.StockMovementRequest) (*models.StockMovement, error) {
	f.productID = productID
	f.request = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.StockMovement{ProductID: productID, Quantity: req.Quantity}, nil
}

func (f *fakeStockService) List(_ context.Context, query service.StockMovementQuery) ([]models.StockMovement, *models.Pagination, error) {
	f.query = query
	return []models.StockMovement{}, &models.Pagination{Page: 1, PageSize: 20}, f.err
}

func TestCatalogHandlerListProductsLowStock(t *testing.T) {
	catalog := &fakeCatalogService{}
	h := NewCatalogHandler(catalog, &fakeStockService{})
	c, rec := testContext(http.MethodGet, "/products?low_stock=true&category_id=c-1&q=encre", "", storekeeperSession)

	h.ListProducts(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, catalog.productQuery.LowStock)
	assert.Equal(t, "c-1", catalog.productQuery.CategoryID)
	assert.Equal(t, "encre", catalog.productQuery.Search)

	c, rec = testContext(http.MethodGet, "/products?low_stock=maybe", "", storekeeperSession)
	h.ListProducts(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogHandlerCreateProductDecimalPrice(t *testing.T) {
	catalog := &fakeCatalogService{}
	h := NewCatalogHandler(catalog, &fakeStockService{})
	c, rec := testContext(http.MethodPost, "/products", `{"code":"INK-01","name":"Encre noire","quantity":3,"price":"1250.50"}`, storekeeperSession)

	h.CreateProduct(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1250.5", catalog.product.Price.String())
	assert.Equal(t, 3, catalog.product.Quantity)
}

func TestCatalogHandlerCreateCategoryConflict(t *testing.T) {
	h := NewCatalogHandler(&fakeCatalogService{err: appErrors.Clone(appErrors.ErrConflict, "category name already exists")}, &fakeStockService{})
	c, rec := testContext(http.MethodPost, "/categories", `{"name":"Informatique"}`, storekeeperSession)

	h.CreateCategory(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCatalogHandlerRecordMovement(t *testing.T) {
	stock := &fakeStockService{}
	h := NewCatalogHandler(&fakeCatalogService{}, stock)
	c, rec := testContext(http.MethodPost, "/products/p-1/movements", `{"type":"exit","quantity":4,"reason":"TP réseaux"}`, storekeeperSession)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}

	h.RecordMovement(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "p-1", stock.productID)
	assert.Equal(t, "exit", stock.request.Type)
	assert.Equal(t, 4, stock.request.Quantity)
}

func TestCatalogHandlerRecordMovementInsufficientStock(t *testing.T) {
	h := NewCatalogHandler(&fakeCatalogService{}, &fakeStockService{err: appErrors.Clone(appErrors.ErrConflict, "insufficient stock")})
	c, rec := testContext(http.MethodPost, "/products/p-1/movements", `{"type":"exit","quantity":400}`, storekeeperSession)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}

	h.RecordMovement(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCatalogHandlerListMovementsForProduct(t *testing.T) {
	stock := &fakeStockService{}
	h := NewCatalogHandler(&fakeCatalogService{}, stock)
	c, rec := testContext(http.MethodGet, "/products/p-1/movements?from=2024-03-01&to=2024-03-31&type=entry", "", storekeeperSession)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}

	h.ListMovements(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p-1", stock.query.ProductID)
	assert.Equal(t, "entry", stock.query.Type)
	require.NotNil(t, stock.query.From)
	require.NotNil(t, stock.query.To)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *stock.query.From)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC), *stock.query.To)
}

func TestCatalogHandlerListMovementsInvalidDate(t *testing.T) {
	h := NewCatalogHandler(&fakeCatalogService{}, &fakeStockService{})
	c, rec := testContext(http.MethodGet, "/stock-movements?from=yesterday", "", storekeeperSession)

	h.ListMovements(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseDateParamRFC3339(t *testing.T) {
	ts, err := parseDateParam("2024-03-01T10:00:00+01:00", true)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), *ts)

	ts, err = parseDateParam("", false)
	require.NoError(t, err)
	assert.Nil(t, ts)
}
