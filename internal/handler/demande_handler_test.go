package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/middleware"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/service"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func testContext(method, target, body string, session *models.Session) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if session != nil {
		c.Set(middleware.ContextUserKey, session)
	}
	return c, rec
}

var (
	deanSession = &models.Session{UserID: "u-dean", Role: workflow.RoleDoyen}
	profSession = &models.Session{UserID: "u-prof", Role: workflow.RoleProfesseur, Department: "Informatique"}
)

type fakeDemandeService struct {
	lastQuery      dto.DemandeQuery
	lastCreate     dto.CreateDemandeRequest
	lastTransition dto.TransitionRequest
	lastID         string
	result         *models.Demande
	err            error
}

func (f *fakeDemandeService) Create(_ context.Context, _ *models.Session, req dto.CreateDemandeRequest) (*models.Demande, error) {
	f.lastCreate = req
	return f.result, f.err
}

func (f *fakeDemandeService) List(_ context.Context, _ *models.Session, query dto.DemandeQuery) ([]models.Demande, *models.Pagination, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, nil, f.err
	}
	return []models.Demande{{ID: "d-1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (f *fakeDemandeService) Get(_ context.Context, _ *models.Session, id string) (*models.Demande, error) {
	f.lastID = id
	return f.result, f.err
}

func (f *fakeDemandeService) History(_ context.Context, _ *models.Session, id string) ([]models.DemandeTransition, error) {
	f.lastID = id
	return []models.DemandeTransition{{ID: "t-1", DemandeID: id}}, f.err
}

func (f *fakeDemandeService) Approve(_ context.Context, _ *models.Session, id string, req dto.TransitionRequest) (*models.Demande, error) {
	f.lastID = id
	f.lastTransition = req
	return f.result, f.err
}

func (f *fakeDemandeService) Reject(_ context.Context, _ *models.Session, id string, req dto.TransitionRequest) (*models.Demande, error) {
	f.lastID = id
	f.lastTransition = req
	return f.result, f.err
}

func (f *fakeDemandeService) Update(_ context.Context, _ *models.Session, id string, _ dto.UpdateDemandeRequest) (*models.Demande, error) {
	f.lastID = id
	return f.result, f.err
}

func (f *fakeDemandeService) Delete(_ context.Context, _ *models.Session, id string) error {
	f.lastID = id
	return f.err
}

type fakeExporter struct {
	format string
	query  dto.DemandeQuery
	err    error
}

func (f *fakeExporter) DemandePDF(_ context.Context, _ *models.Session, id string) (*service.ExportFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.ExportFile{Filename: "demande-" + id + ".pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
}

func (f *fakeExporter) List(_ context.Context, _ *models.Session, query dto.DemandeQuery, format string) (*service.ExportFile, error) {
	f.format = format
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return &service.ExportFile{Filename: "demandes.csv", ContentType: "text/csv; charset=utf-8", Data: []byte("a;b\n")}, nil
}

func TestDemandeHandlerListParsesQuery(t *testing.T) {
	svc := &fakeDemandeService{}
	h := NewDemandeHandler(svc, nil)
	c, rec := testContext(http.MethodGet, "/demandes?scope=ALL&status=pending,sent_to_dean&status=treated&q=encre&page=2&page_size=50", "", deanSession)

	h.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.DemandeScopeAll, svc.lastQuery.Scope)
	assert.Equal(t, []workflow.Status{workflow.StatusPending, workflow.StatusSentToDean, workflow.StatusTreated}, svc.lastQuery.Status)
	assert.Equal(t, "encre", svc.lastQuery.Search)
	assert.Equal(t, 2, svc.lastQuery.Page)
	assert.Equal(t, 50, svc.lastQuery.PageSize)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 1, envelope.Pagination.TotalCount)
}

func TestDemandeHandlerRequiresSession(t *testing.T) {
	h := NewDemandeHandler(&fakeDemandeService{}, nil)
	c, rec := testContext(http.MethodGet, "/demandes", "", nil)

	h.List(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDemandeHandlerCreate(t *testing.T) {
	svc := &fakeDemandeService{result: &models.Demande{ID: "d-1", Status: workflow.StatusPending}}
	h := NewDemandeHandler(svc, nil)
	body := `{"description":"Cartouches","justification":"TP","items":[{"product_name":"Encre","quantity":2}]}`
	c, rec := testContext(http.MethodPost, "/demandes", body, profSession)

	h.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.lastCreate.Items, 1)
	assert.Equal(t, "Encre", svc.lastCreate.Items[0].ProductName)
	assert.Equal(t, 2, svc.lastCreate.Items[0].Quantity)
}

func TestDemandeHandlerCreateRejectsMalformedJSON(t *testing.T) {
	h := NewDemandeHandler(&fakeDemandeService{}, nil)
	c, rec := testContext(http.MethodPost, "/demandes", `{"description":`, profSession)

	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrValidation.Code, envelope.Error.Code)
}

func TestDemandeHandlerApproveWithoutBody(t *testing.T) {
	svc := &fakeDemandeService{result: &models.Demande{ID: "d-1", Status: workflow.StatusSentToSecretaryGeneral}}
	h := NewDemandeHandler(svc, nil)
	c, rec := testContext(http.MethodPost, "/demandes/d-1/approve", "", deanSession)
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}

	h.Approve(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "d-1", svc.lastID)
	assert.Equal(t, dto.TransitionRequest{}, svc.lastTransition)
}

func TestDemandeHandlerRejectCarriesReason(t *testing.T) {
	svc := &fakeDemandeService{result: &models.Demande{ID: "d-1", Status: workflow.StatusRejected}}
	h := NewDemandeHandler(svc, nil)
	c, rec := testContext(http.MethodPost, "/demandes/d-1/reject", `{"reason":"Budget épuisé","expected_status":"sent_to_dean"}`, deanSession)
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}

	h.Reject(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Budget épuisé", svc.lastTransition.Reason)
	assert.Equal(t, workflow.StatusSentToDean, svc.lastTransition.ExpectedStatus)
}

func TestDemandeHandlerMapsWorkflowErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{appErrors.Clone(appErrors.ErrTerminalState, "already treated"), http.StatusConflict, "TERMINAL_STATE"},
		{appErrors.Clone(appErrors.ErrConflict, "already processed"), http.StatusConflict, "CONFLICT"},
		{appErrors.Clone(appErrors.ErrForbidden, "not your stage"), http.StatusForbidden, "FORBIDDEN"},
		{appErrors.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		h := NewDemandeHandler(&fakeDemandeService{err: tc.err}, nil)
		c, rec := testContext(http.MethodPost, "/demandes/d-1/approve", "", deanSession)
		c.Params = gin.Params{{Key: "id", Value: "d-1"}}

		h.Approve(c)

		assert.Equal(t, tc.want, rec.Code, tc.code)
		envelope := decodeEnvelope(t, rec)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, tc.code, envelope.Error.Code)
	}
}

func TestDemandeHandlerDelete(t *testing.T) {
	svc := &fakeDemandeService{}
	h := NewDemandeHandler(svc, nil)
	c, _ := testContext(http.MethodDelete, "/demandes/d-9", "", profSession)
	c.Params = gin.Params{{Key: "id", Value: "d-9"}}

	h.Delete(c)

	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "d-9", svc.lastID)
}

func TestDemandeHandlerExport(t *testing.T) {
	exporter := &fakeExporter{}
	h := NewDemandeHandler(&fakeDemandeService{}, exporter)
	c, rec := testContext(http.MethodGet, "/demandes/export?scope=mine&status=rejected", "", profSession)

	h.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ExportFormatCSV, exporter.format)
	assert.Equal(t, dto.DemandeScopeMine, exporter.query.Scope)
	assert.Equal(t, []workflow.Status{workflow.StatusRejected}, exporter.query.Status)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "demandes.csv")
	assert.Equal(t, "a;b\n", rec.Body.String())
}

func TestDemandeHandlerPDF(t *testing.T) {
	h := NewDemandeHandler(&fakeDemandeService{}, &fakeExporter{})
	c, rec := testContext(http.MethodGet, "/demandes/d-1/pdf", "", profSession)
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}

	h.PDF(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "demande-d-1.pdf")
}
