package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/service"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/response"
)

type catalogService interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	CreateCategory(ctx context.Context, session *models.Session, req dto.CategoryRequest) (*models.Category, error)
	UpdateCategory(ctx context.Context, session *models.Session, id string, req dto.CategoryRequest) (*models.Category, error)
	DeleteCategory(ctx context.Context, session *models.Session, id string) error
	ListProducts(ctx context.Context, query dto.ProductQuery) ([]models.Product, *models.Pagination, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, session *models.Session, req dto.ProductRequest) (*models.Product, error)
	UpdateProduct(ctx context.Context, session *models.Session, id string, req dto.ProductRequest) (*models.Product, error)
	DeleteProduct(ctx context.Context, session *models.Session, id string) error
}

type stockService interface {
	Record(ctx context.Context, session *models.Session, productID string, req dto.StockMovementRequest) (*models.StockMovement, error)
	List(ctx context.Context, query service.StockMovementQuery) ([]models.StockMovement, *models.Pagination, error)
}

// CatalogHandler exposes categories, products and stock movements.
type CatalogHandler struct {
	catalog catalogService
	stock   stockService
}

// NewCatalogHandler constructs the handler.
func NewCatalogHandler(catalog catalogService, stock stockService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, stock: stock}
}

// ListCategories godoc
// @Summary List categories
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /categories [get]
func (h *CatalogHandler) ListCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, categories, nil)
}

// GetCategory godoc
// @Summary Get category
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param id path string true "Category ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /categories/{id} [get]
func (h *CatalogHandler) GetCategory(c *gin.Context) {
	category, err := h.catalog.GetCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, category, nil)
}

// CreateCategory godoc
// @Summary Create category
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CategoryRequest true "Category"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /categories [post]
func (h *CatalogHandler) CreateCategory(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.CategoryRequest
	if !bindJSON(c, &req, "invalid category payload") {
		return
	}
	category, err := h.catalog.CreateCategory(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, category)
}

// UpdateCategory godoc
// @Summary Update category
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Category ID"
// @Param payload body dto.CategoryRequest true "Category"
// @Success 200 {object} response.Envelope
// @Router /categories/{id} [put]
func (h *CatalogHandler) UpdateCategory(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.CategoryRequest
	if !bindJSON(c, &req, "invalid category payload") {
		return
	}
	category, err := h.catalog.UpdateCategory(c.Request.Context(), session, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, category, nil)
}

// DeleteCategory godoc
// @Summary Delete category
// @Tags Catalog
// @Security BearerAuth
// @Param id path string true "Category ID"
// @Success 204
// @Router /categories/{id} [delete]
func (h *CatalogHandler) DeleteCategory(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteCategory(c.Request.Context(), session, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListProducts godoc
// @Summary List products
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param category_id query string false "Category filter"
// @Param q query string false "Search in code, name and brand"
// @Param low_stock query bool false "Only products at or below the low stock threshold"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /products [get]
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	page, size := pageParams(c)
	query := dto.ProductQuery{
		CategoryID: strings.TrimSpace(c.Query("category_id")),
		Search:     c.Query("q"),
		Page:       page,
		PageSize:   size,
	}
	if raw := c.Query("low_stock"); raw != "" {
		lowStock, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "low_stock must be a boolean"))
			return
		}
		query.LowStock = lowStock
	}
	products, pagination, err := h.catalog.ListProducts(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, products, pagination)
}

// GetProduct godoc
// @Summary Get product
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param id path string true "Product ID"
// @Success 200 {object} response.Envelope
// @Router /products/{id} [get]
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	product, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, product, nil)
}

// CreateProduct godoc
// @Summary Create product
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ProductRequest true "Product"
// @Success 201 {object} response.Envelope
// @Router /products [post]
func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.ProductRequest
	if !bindJSON(c, &req, "invalid product payload") {
		return
	}
	product, err := h.catalog.CreateProduct(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, product)
}

// UpdateProduct godoc
// @Summary Update product
// @Description Quantity is ignored; use stock movements.
// @Tags Catalog
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Product ID"
// @Param payload body dto.ProductRequest true "Product"
// @Success 200 {object} response.Envelope
// @Router /products/{id} [put]
func (h *CatalogHandler) UpdateProduct(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.ProductRequest
	if !bindJSON(c, &req, "invalid product payload") {
		return
	}
	product, err := h.catalog.UpdateProduct(c.Request.Context(), session, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, product, nil)
}

// DeleteProduct godoc
// @Summary Delete product
// @Tags Catalog
// @Security BearerAuth
// @Param id path string true "Product ID"
// @Success 204
// @Router /products/{id} [delete]
func (h *CatalogHandler) DeleteProduct(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), session, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RecordMovement godoc
// @Summary Record a stock entry or exit
// @Tags Stock
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Product ID"
// @Param payload body dto.StockMovementRequest true "Movement"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /products/{id}/movements [post]
func (h *CatalogHandler) RecordMovement(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.StockMovementRequest
	if !bindJSON(c, &req, "invalid stock movement payload") {
		return
	}
	movement, err := h.stock.Record(c.Request.Context(), session, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, movement)
}

// ListMovements godoc
// @Summary List stock movements
// @Description Served both as /stock-movements and scoped under /products/{id}/movements.
// @Tags Stock
// @Produce json
// @Security BearerAuth
// @Param product_id query string false "Product filter"
// @Param type query string false "entry or exit"
// @Param from query string false "Start date (YYYY-MM-DD or RFC3339)"
// @Param to query string false "End date (YYYY-MM-DD or RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /stock-movements [get]
func (h *CatalogHandler) ListMovements(c *gin.Context) {
	page, size := pageParams(c)
	query := service.StockMovementQuery{
		ProductID: c.Query("product_id"),
		Type:      c.Query("type"),
		Page:      page,
		PageSize:  size,
	}
	if id := c.Param("id"); id != "" {
		query.ProductID = id
	}
	var err error
	if query.From, err = parseDateParam(c.Query("from"), false); err != nil {
		response.Error(c, err)
		return
	}
	if query.To, err = parseDateParam(c.Query("to"), true); err != nil {
		response.Error(c, err)
		return
	}
	movements, pagination, err := h.stock.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, movements, pagination)
}

// parseDateParam accepts a calendar day or an RFC3339 instant. A bare day
// used as an upper bound covers the whole day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date: "+raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
