package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/service"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/response"
)

type attachmentService interface {
	Upload(ctx context.Context, session *models.Session, id string, upload service.AttachmentUpload) (*models.Demande, error)
	Link(ctx context.Context, session *models.Session, id string) (*dto.AttachmentLinkResponse, error)
	Open(ctx context.Context, token string) (*service.AttachmentDownload, error)
}

// AttachmentHandler manages the supporting document of a purchase request.
type AttachmentHandler struct {
	service attachmentService
}

// NewAttachmentHandler constructs the handler.
func NewAttachmentHandler(svc attachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: svc}
}

// Upload godoc
// @Summary Attach a file to a pending purchase request
// @Description Replaces any previous attachment. Only the author may upload, and only while pending.
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /demandes/{id}/attachment [put]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	reader, isSeeker := src.(io.ReadSeeker)
	if !isSeeker {
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
			return
		}
		reader = bytes.NewReader(buf)
	}

	demande, err := h.service.Upload(c.Request.Context(), session, c.Param("id"), service.AttachmentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  reader,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demande, nil)
}

// Link godoc
// @Summary Signed download link for the attachment
// @Tags Attachments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /demandes/{id}/attachment/link [get]
func (h *AttachmentHandler) Link(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		return
	}
	link, err := h.service.Link(c.Request.Context(), session, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download an attachment through a signed token
// @Description Public route; the token is the credential.
// @Tags Attachments
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attachments/{token} [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.service.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Body.Close() //nolint:errcheck

	response.Stream(c, download.Filename, download.ContentType, -1, download.Body)
}
