package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tracklane/tracklane/internal/tenant"
)

// authorizeOrgAction gates elevated operations through the policy engine.
// Role gates stay in the services; this layer answers "may this member run
// this action in this organization" with an auditable policy model.
func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}

		err := s.authzSvc.Authorize(
			c.Request.Context(),
			authzSubject(actor),
			actor.OrgID.String(),
			strings.TrimSpace(object),
			strings.TrimSpace(action),
		)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Next()
	}
}

func authzSubject(actor tenant.Context) string {
	return fmt.Sprintf("user:%s", actor.UserID.String())
}
