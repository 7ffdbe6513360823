package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/models"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Audit records a read-side action, such as an export, after a successful response.
// Mutations are audited by their services with before/after values instead.
func Audit(repo auditWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if repo == nil || c.Writer.Status() >= 400 {
			return
		}

		var actorID string
		if session := Session(c); session != nil {
			actorID = session.UserID
		}
		entry := models.NewAuditLog(actorID, action, resource, c.Param("id")).
			Change(nil, map[string]interface{}{
				"route":      c.FullPath(),
				"query":      c.Request.URL.RawQuery,
				"status":     c.Writer.Status(),
				"latency_ms": time.Since(start).Milliseconds(),
			}).
			Origin(c.ClientIP(), c.Request.UserAgent())

		if err := repo.CreateAuditLog(c.Request.Context(), entry); err != nil {
			logger.Warn("failed to persist audit log", zap.String("action", action), zap.String("route", c.FullPath()), zap.Error(err))
		}
	}
}
