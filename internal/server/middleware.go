package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/tracklane/tracklane/internal/observability/context"
	"github.com/tracklane/tracklane/internal/observability/logger"
	obsmetrics "github.com/tracklane/tracklane/internal/observability/metrics"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	"github.com/tracklane/tracklane/internal/tenant"
	"go.uber.org/zap"
)

// Identity arrives on headers injected by the fronting auth proxy; the
// service never sees credentials and trusts its own network boundary.
const (
	HeaderUser = "X-User-ID"
	HeaderOrg  = "X-Org-ID"

	contextUserIDKey = "user_id"
	contextTenantKey = "tenant_context"
	contextProject   = "project"
)

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := snowflakeFromHeader(c, HeaderUser)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// OrgContext binds the request to one organization. Membership is resolved
// here, once, and carried as an explicit tenant.Context; downstream code
// never falls back to an ambient org.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := s.userIDFromRequest(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		orgID, err := snowflakeFromHeader(c, HeaderOrg)
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
			return
		}

		role, err := s.organizationSvc.MemberRole(c.Request.Context(), orgID, userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextTenantKey, tenant.Context{
			OrgID:  orgID,
			UserID: userID,
			Role:   role,
		})

		ctx := obscontext.WithOrgID(c.Request.Context(), orgID.String())
		ctx = obscontext.WithActor(ctx, "user", userID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// ProjectContext resolves :projectKey inside the caller's organization and
// completes the tenant context with the project scope.
func (s *Server) ProjectContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key := strings.ToUpper(strings.TrimSpace(c.Param("projectKey")))
		if key == "" {
			AbortWithError(c, newValidationError("project_key", "invalid_key", "invalid project key"))
			return
		}

		project, err := s.projectSvc.GetByKey(c.Request.Context(), actor.OrgID, key)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		actor.ProjectID = project.ID
		c.Set(contextTenantKey, actor)
		c.Set(contextProject, project)

		c.Next()
	}
}

func (s *Server) RequireRole(roles ...tenant.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}

		AbortWithError(c, ErrForbidden)
	}
}

// MutationRateLimit budgets write traffic per user per organization. The
// limiter fails open, so an unreachable redis never blocks board work.
func (s *Server) MutationRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.mutationLimiter == nil || !s.mutationLimiter.Enabled() {
			c.Next()
			return
		}

		actor, ok := s.tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		res, allowed := s.mutationLimiter.Allow(ctx, actor.OrgID.String(), actor.UserID.String())
		if !allowed {
			logger.FromContext(ctx).Warn("mutation rate limit exceeded",
				zap.String("endpoint", endpoint),
			)
			recordRateLimitDenied(c, endpoint, actor.OrgID.String(), "mutation-rate", s.obsMetrics)
			if res != nil && res.RetryAfter > 0 {
				c.Header("Retry-After", retryAfterSeconds(res.RetryAfter))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}

		recordRateLimitAllowed(c, endpoint, actor.OrgID.String(), s.obsMetrics)
		c.Next()
	}
}

func (s *Server) userIDFromRequest(c *gin.Context) (snowflake.ID, bool) {
	value, exists := c.Get(contextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := value.(snowflake.ID)
	if !ok || userID == 0 {
		return 0, false
	}
	return userID, true
}

func (s *Server) tenantFromContext(c *gin.Context) (tenant.Context, bool) {
	value, exists := c.Get(contextTenantKey)
	if !exists {
		return tenant.Context{}, false
	}
	actor, ok := value.(tenant.Context)
	if !ok || !actor.Valid() {
		return tenant.Context{}, false
	}
	return actor, true
}

func (s *Server) projectFromContext(c *gin.Context) (*projectdomain.Project, bool) {
	value, exists := c.Get(contextProject)
	if !exists {
		return nil, false
	}
	project, ok := value.(*projectdomain.Project)
	if !ok || project == nil {
		return nil, false
	}
	return project, true
}

func snowflakeFromHeader(c *gin.Context, header string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.GetHeader(header))
	if raw == "" {
		return 0, ErrUnauthorized
	}
	parsed, err := snowflake.ParseString(raw)
	if err != nil || parsed == 0 {
		return 0, ErrUnauthorized
	}
	return parsed, nil
}

func retryAfterSeconds(wait time.Duration) string {
	seconds := int64(wait / time.Second)
	if wait%time.Second != 0 || seconds < 1 {
		seconds++
	}
	return strconv.FormatInt(seconds, 10)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

func recordRateLimitAllowed(c *gin.Context, endpoint, orgID string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(c.Request.Context(), orgID, endpoint)
}

func recordRateLimitDenied(c *gin.Context, endpoint, orgID, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(c.Request.Context(), orgID, endpoint, reason)
}
