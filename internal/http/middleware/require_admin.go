package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/bradb345/t3test-sub001/internal/shared/apperr"
)

// RequireRole admits authenticated callers holding one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}
		for _, r := range roles {
			if u.Role == r {
				c.Next()
				return
			}
		}
		Fail(c, apperr.ForbiddenErr("You do not have access to this resource."))
	}
}

func RequireAdmin() gin.HandlerFunc {
	return RequireRole(RoleAdmin)
}
