package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/demande-api/internal/models"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/logger"
	"github.com/noah-isme/demande-api/pkg/response"
)

// ContextUserKey is the gin context key storing the caller's session.
const ContextUserKey = "currentUser"

type tokenValidator interface {
	ValidateToken(token string) (*models.Session, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(auth tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		session, err := auth.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, session)
		c.Set(logger.UserIDKey, session.UserID)
		c.Next()
	}
}

// Session returns the authenticated caller, or nil outside JWT-protected routes.
func Session(c *gin.Context) *models.Session {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	session, ok := value.(*models.Session)
	if !ok {
		return nil
	}
	return session
}
