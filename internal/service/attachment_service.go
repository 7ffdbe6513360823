package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/dto"
	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/storage"
)

type attachmentDemandeStore interface {
	GetByID(ctx context.Context, id string) (*models.Demande, error)
	SetAttachment(ctx context.Context, id string, ref models.AttachmentRef, at time.Time) error
}

type attachmentSigner interface {
	Generate(subjectID, key string) (string, time.Time, error)
	Parse(token string) (subjectID, key string, expiresAt time.Time, err error)
}

// AttachmentUpload carries an uploaded file and its declared metadata.
type AttachmentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// AttachmentDownload is an opened attachment ready to stream. Callers close Body.
type AttachmentDownload struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
}

// AttachmentServiceConfig holds validation parameters.
type AttachmentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// AttachmentService stores the supporting document of a purchase request and
// serves it through expiring signed links.
type AttachmentService struct {
	demandes attachmentDemandeStore
	store    storage.ObjectStore
	signer   attachmentSigner
	audit    auditLogger
	logger   *zap.Logger
	cfg      AttachmentServiceConfig
	mimeSet  map[string]struct{}
	now      func() time.Time
}

// NewAttachmentService constructs the service with defaults.
func NewAttachmentService(demandes attachmentDemandeStore, store storage.ObjectStore, signer attachmentSigner, audit auditLogger, logger *zap.Logger, cfg AttachmentServiceConfig) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf", "image/png", "image/jpeg"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &AttachmentService{
		demandes: demandes,
		store:    store,
		signer:   signer,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
		mimeSet:  mimeSet,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Upload attaches a file to a pending request, replacing any previous one.
func (s *AttachmentService) Upload(ctx context.Context, session *models.Session, id string, upload AttachmentUpload) (*models.Demande, error) {
	if session == nil {
		return nil, appErrors.ErrUnauthorized
	}
	demande, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if demande.RequesterID != session.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the author can attach files")
	}
	if demande.Status != workflow.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "attachments can only change while pending")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType, err := s.detectMime(upload)
	if err != nil {
		return nil, err
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}

	name := filepath.Base(strings.TrimSpace(upload.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "piece-jointe" + mimeExtension(mimeType)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = mimeExtension(mimeType)
	}
	key := fmt.Sprintf("demandes/%s/%s%s", demande.ID, uuid.NewString(), ext)

	if err := s.store.Put(ctx, key, upload.Content, upload.Size, mimeType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}
	ref := models.AttachmentRef{Key: key, Name: name, ContentType: mimeType}
	at := s.now()
	if err := s.demandes.SetAttachment(ctx, demande.ID, ref, at); err != nil {
		s.discard(ctx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "attachments can only change while pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attachment")
	}
	if demande.HasAttachment() {
		s.discard(ctx, *demande.AttachmentKey)
	}

	demande.AttachmentKey = &ref.Key
	demande.AttachmentName = &ref.Name
	demande.AttachmentContentType = &ref.ContentType
	demande.UpdatedAt = at

	if s.audit != nil {
		log := models.NewAuditLog(session.UserID, models.AuditActionAttachmentUpload, demandeResource, demande.ID).
			Change(nil, map[string]interface{}{"name": name, "content_type": mimeType, "size": upload.Size}).
			Origin("system", "attachment-service")
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return demande, nil
}

// Link returns a signed, expiring download URL for a visible request's attachment.
func (s *AttachmentService) Link(ctx context.Context, session *models.Session, id string) (*dto.AttachmentLinkResponse, error) {
	if session == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	demande, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(session, demande) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "purchase request is not visible to you")
	}
	if !demande.HasAttachment() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "purchase request has no attachment")
	}
	token, expiresAt, err := s.signer.Generate(demande.ID, *demande.AttachmentKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &dto.AttachmentLinkResponse{
		URL:       fmt.Sprintf("%s/attachments/%s", base, token),
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

// Open resolves a signed token to the stored file. The token is the only
// credential, so it must still point at the request's current attachment.
func (s *AttachmentService) Open(ctx context.Context, token string) (*AttachmentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	demandeID, key, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	demande, err := s.load(ctx, demandeID)
	if err != nil {
		return nil, err
	}
	if !demande.HasAttachment() || *demande.AttachmentKey != key {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment no longer available")
	}
	body, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	download := &AttachmentDownload{Body: body, Filename: filepath.Base(key), ContentType: "application/octet-stream"}
	if demande.AttachmentName != nil {
		download.Filename = *demande.AttachmentName
	}
	if demande.AttachmentContentType != nil {
		download.ContentType = *demande.AttachmentContentType
	}
	return download, nil
}

func (s *AttachmentService) load(ctx context.Context, id string) (*models.Demande, error) {
	demande, err := s.demandes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load purchase request")
	}
	return demande, nil
}

func (s *AttachmentService) discard(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("failed to delete attachment object", zap.String("key", key), zap.Error(err))
	}
}

func (s *AttachmentService) detectMime(upload AttachmentUpload) (string, error) {
	if upload.MimeType != "" && upload.MimeType != "application/octet-stream" {
		return strings.ToLower(strings.TrimSpace(strings.Split(upload.MimeType, ";")[0])), nil
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	return strings.Split(http.DetectContentType(header[:n]), ";")[0], nil
}

func mimeExtension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	default:
		return ""
	}
}
