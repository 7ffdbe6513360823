package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/service"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/response"
)

type demandeService interface {
	Create(ctx context.Context, session *models.Session, req dto.CreateDemandeRequest) (*models.Demande, error)
	List(ctx context.Context, session *models.Session, query dto.DemandeQuery) ([]models.Demande, *models.Pagination, error)
	Get(ctx context.Context, session *models.Session, id string) (*models.Demande, error)
	History(ctx context.Context, session *models.Session, id string) ([]models.DemandeTransition, error)
	Approve(ctx context.Context, session *models.Session, id string, req dto.TransitionRequest) (*models.Demande, error)
	Reject(ctx context.Context, session *models.Session, id string, req dto.TransitionRequest) (*models.Demande, error)
	Update(ctx context.Context, session *models.Session, id string, req dto.UpdateDemandeRequest) (*models.Demande, error)
	Delete(ctx context.Context, session *models.Session, id string) error
}

type demandeExporter interface {
	DemandePDF(ctx context.Context, session *models.Session, id string) (*service.ExportFile, error)
	List(ctx context.Context, session *models.Session, query dto.DemandeQuery, format string) (*service.ExportFile, error)
}

// DemandeHandler exposes the purchase request workflow.
type DemandeHandler struct {
	service  demandeService
	exporter demandeExporter
}

// NewDemandeHandler constructs the handler.
func NewDemandeHandler(svc demandeService, exporter demandeExporter) *DemandeHandler {
	return &DemandeHandler{service: svc, exporter: exporter}
}

// List godoc
// @Summary List purchase requests
// @Description Lists the requests visible to the caller. scope defaults to the widest scope the role may use.
// @Tags Demandes
// @Produce json
// @Security BearerAuth
// @Param scope query string false "mine, department or all"
// @Param status query []string false "Status filter (repeatable or comma separated)"
// @Param q query string false "Search in description and requester"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /demandes [get]
func (h *DemandeHandler) List(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	demandes, pagination, err := h.service.List(c.Request.Context(), session, demandeQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demandes, pagination)
}

// Get godoc
// @Summary Get purchase request
// @Tags Demandes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /demandes/{id} [get]
func (h *DemandeHandler) Get(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	demande, err := h.service.Get(c.Request.Context(), session, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demande, nil)
}

// Create godoc
// @Summary Submit purchase request
// @Tags Demandes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateDemandeRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /demandes [post]
func (h *DemandeHandler) Create(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateDemandeRequest
	if !bindJSON(c, &req, "invalid purchase request payload") {
		return
	}
	demande, err := h.service.Create(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, demande)
}

// Update godoc
// @Summary Edit a pending purchase request
// @Tags Demandes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Param payload body dto.UpdateDemandeRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demandes/{id} [patch]
func (h *DemandeHandler) Update(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateDemandeRequest
	if !bindJSON(c, &req, "invalid update payload") {
		return
	}
	demande, err := h.service.Update(c.Request.Context(), session, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demande, nil)
}

// Delete godoc
// @Summary Withdraw a pending purchase request
// @Tags Demandes
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demandes/{id} [delete]
func (h *DemandeHandler) Delete(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), session, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Approve godoc
// @Summary Approve and forward a purchase request
// @Description The body is optional. expected_status pins the state the caller last saw.
// @Tags Demandes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Param payload body dto.TransitionRequest false "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demandes/{id}/approve [post]
func (h *DemandeHandler) Approve(c *gin.Context) {
	h.transition(c, h.service.Approve)
}

// Reject godoc
// @Summary Reject a purchase request
// @Tags Demandes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Param payload body dto.TransitionRequest false "Transition payload with optional reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /demandes/{id}/reject [post]
func (h *DemandeHandler) Reject(c *gin.Context) {
	h.transition(c, h.service.Reject)
}

type transitionFunc func(ctx context.Context, session *models.Session, id string, req dto.TransitionRequest) (*models.Demande, error)

func (h *DemandeHandler) transition(c *gin.Context, apply transitionFunc) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	var req dto.TransitionRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, "invalid transition payload") {
			return
		}
	}
	demande, err := apply(c.Request.Context(), session, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demande, nil)
}

// History godoc
// @Summary Transition history of a purchase request
// @Tags Demandes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Router /demandes/{id}/history [get]
func (h *DemandeHandler) History(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	items, err := h.service.History(c.Request.Context(), session, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// PDF godoc
// @Summary Download the purchase request form as PDF
// @Tags Demandes
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Success 200 {file} binary
// @Router /demandes/{id}/pdf [get]
func (h *DemandeHandler) PDF(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	file, err := h.exporter.DemandePDF(c.Request.Context(), session, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Export godoc
// @Summary Export visible purchase requests
// @Tags Demandes
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Param scope query string false "mine, department or all"
// @Param status query []string false "Status filter"
// @Success 200 {file} binary
// @Router /demandes/export [get]
func (h *DemandeHandler) Export(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", service.ExportFormatCSV)))
	file, err := h.exporter.List(c.Request.Context(), session, demandeQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

func demandeQuery(c *gin.Context) dto.DemandeQuery {
	page, size := pageParams(c)
	query := dto.DemandeQuery{
		Scope:    dto.DemandeScope(strings.ToLower(strings.TrimSpace(c.Query("scope")))),
		Search:   c.Query("q"),
		Page:     page,
		PageSize: size,
	}
	for _, raw := range multiQuery(c, "status") {
		query.Status = append(query.Status, workflow.Status(strings.ToLower(raw)))
	}
	return query
}
