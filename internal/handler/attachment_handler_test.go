package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/middleware"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/service"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

type fakeAttachmentService struct {
	upload   service.AttachmentUpload
	content  []byte
	token    string
	download *service.AttachmentDownload
	err      error
}

func (f *fakeAttachmentService) Upload(_ context.Context, _ *models.Session, id string, upload service.AttachmentUpload) (*models.Demande, error) {
	f.upload = upload
	f.content, _ = io.ReadAll(upload.Content)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Demande{ID: id}, nil
}

func (f *fakeAttachmentService) Link(_ context.Context, _ *models.Session, id string) (*dto.AttachmentLinkResponse, error) {
	return &dto.AttachmentLinkResponse{URL: "/api/v1/attachments/tok-" + id}, f.err
}

func (f *fakeAttachmentService) Open(_ context.Context, token string) (*service.AttachmentDownload, error) {
	f.token = token
	if f.err != nil {
		return nil, f.err
	}
	return f.download, nil
}

func multipartRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPut, "/demandes/d-1/attachment", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestAttachmentHandlerUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeAttachmentService{}
	h := NewAttachmentHandler(svc)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = multipartRequest(t, "file", "devis.pdf", []byte("%PDF-1.4 devis"))
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}
	c.Set(middleware.ContextUserKey, profSession)

	h.Upload(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "devis.pdf", svc.upload.Filename)
	assert.Equal(t, int64(len("%PDF-1.4 devis")), svc.upload.Size)
	assert.Equal(t, "%PDF-1.4 devis", string(svc.content))
}

func TestAttachmentHandlerUploadRequiresFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAttachmentHandler(&fakeAttachmentService{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = multipartRequest(t, "other", "devis.pdf", []byte("x"))
	c.Set(middleware.ContextUserKey, profSession)

	h.Upload(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachmentHandlerUploadTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAttachmentHandler(&fakeAttachmentService{err: appErrors.Clone(appErrors.ErrPayloadTooLarge, "too big")})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = multipartRequest(t, "file", "scan.png", []byte("png"))
	c.Set(middleware.ContextUserKey, profSession)

	h.Upload(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAttachmentHandlerDownload(t *testing.T) {
	svc := &fakeAttachmentService{download: &service.AttachmentDownload{
		Body:        io.NopCloser(bytes.NewReader([]byte("%PDF-1.4"))),
		Filename:    "devis fournisseur.pdf",
		ContentType: "application/pdf",
	}}
	h := NewAttachmentHandler(svc)
	c, rec := testContext(http.MethodGet, "/attachments/abc", "", nil)
	c.Params = gin.Params{{Key: "token", Value: "abc"}}

	h.Download(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", svc.token)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="devis fournisseur.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestAttachmentHandlerDownloadForbidden(t *testing.T) {
	h := NewAttachmentHandler(&fakeAttachmentService{err: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")})
	c, rec := testContext(http.MethodGet, "/attachments/bad", "", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	h.Download(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAttachmentHandlerLink(t *testing.T) {
	h := NewAttachmentHandler(&fakeAttachmentService{})
	c, rec := testContext(http.MethodGet, "/demandes/d-1/attachment/link", "", profSession)
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}

	h.Link(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), "tok-d-1")
}
