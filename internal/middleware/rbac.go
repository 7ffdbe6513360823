package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/response"
)

// RequireRoles admits only sessions whose role is listed. Workflow rules
// that depend on the request itself, such as a chef's department, are
// checked by the services, not here.
func RequireRoles(roles ...workflow.Role) gin.HandlerFunc {
	return roleGate(roles, false)
}

// RequireRolesOrSelf also admits a caller whose user id is the :id path parameter.
func RequireRolesOrSelf(roles ...workflow.Role) gin.HandlerFunc {
	return roleGate(roles, true)
}

func roleGate(roles []workflow.Role, self bool) gin.HandlerFunc {
	allowed := make(map[workflow.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(c *gin.Context) {
		session := Session(c)
		if session == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if allowed[session.Role] || (self && isSelf(c, session)) {
			c.Next()
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(session.Role)+" cannot access this resource"))
		c.Abort()
	}
}

func isSelf(c *gin.Context, session *models.Session) bool {
	id := c.Param("id")
	return id != "" && id == session.UserID
}
