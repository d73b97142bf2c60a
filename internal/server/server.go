package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tracklane/tracklane/internal/audit"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	"github.com/tracklane/tracklane/internal/authorization"
	"github.com/tracklane/tracklane/internal/board"
	boarddomain "github.com/tracklane/tracklane/internal/board/domain"
	"github.com/tracklane/tracklane/internal/comment"
	commentdomain "github.com/tracklane/tracklane/internal/comment/domain"
	"github.com/tracklane/tracklane/internal/config"
	"github.com/tracklane/tracklane/internal/events"
	"github.com/tracklane/tracklane/internal/item"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	"github.com/tracklane/tracklane/internal/observability"
	obsmiddleware "github.com/tracklane/tracklane/internal/observability/logger"
	obsmetrics "github.com/tracklane/tracklane/internal/observability/metrics"
	obstracing "github.com/tracklane/tracklane/internal/observability/tracing"
	"github.com/tracklane/tracklane/internal/organization"
	organizationdomain "github.com/tracklane/tracklane/internal/organization/domain"
	"github.com/tracklane/tracklane/internal/project"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	"github.com/tracklane/tracklane/internal/ratelimit"
	"github.com/tracklane/tracklane/internal/tenant"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	authorization.Module,
	events.Module,
	audit.Module,
	organization.Module,
	project.Module,
	board.Module,
	item.Module,
	comment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	organizationSvc organizationdomain.Service
	projectSvc      projectdomain.Service
	boardSvc        boarddomain.Service
	itemSvc         itemdomain.Service
	commentSvc      commentdomain.Service
	auditSvc        auditdomain.Service
	authzSvc        authorization.Service
	mutationLimiter *ratelimit.MutationLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	OrganizationSvc organizationdomain.Service
	ProjectSvc      projectdomain.Service
	BoardSvc        boarddomain.Service
	ItemSvc         itemdomain.Service
	CommentSvc      commentdomain.Service
	AuditSvc        auditdomain.Service
	AuthzSvc        authorization.Service
	MutationLimiter *ratelimit.MutationLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		organizationSvc: p.OrganizationSvc,
		projectSvc:      p.ProjectSvc,
		boardSvc:        p.BoardSvc,
		itemSvc:         p.ItemSvc,
		commentSvc:      p.CommentSvc,
		auditSvc:        p.AuditSvc,
		authzSvc:        p.AuthzSvc,
		mutationLimiter: p.MutationLimiter,
		obsMetrics:      p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	// Provisioning hook for the fronting identity layer; every other route
	// rides on the identity headers that layer injects.
	api.POST("/users", s.CreateUser)

	user := api.Group("", s.AuthRequired())
	{
		user.POST("/organizations", s.CreateOrganization)
		user.GET("/organizations", s.ListUserOrganizations)
	}

	org := api.Group("", s.AuthRequired(), s.OrgContext())
	{
		org.GET("/organizations/:id", s.GetOrganization)
		org.POST("/organizations/:id/members", s.authorizeOrgAction(authorization.ObjectOrganization, authorization.ActionOrganizationManageMembers), s.AddOrganizationMember)

		org.GET("/projects", s.ListProjects)
		org.POST("/projects", s.authorizeOrgAction(authorization.ObjectProject, authorization.ActionProjectCreate), s.CreateProject)
	}

	proj := api.Group("/projects/:projectKey", s.AuthRequired(), s.OrgContext(), s.ProjectContext())
	{
		// -------- Board & columns --------
		proj.GET("/board", s.GetBoard)
		proj.POST("/boards", s.authorizeOrgAction(authorization.ObjectBoard, authorization.ActionBoardCreate), s.CreateBoard)
		proj.POST("/columns", s.authorizeOrgAction(authorization.ObjectColumn, authorization.ActionColumnCreate), s.AddColumn)
		proj.PUT("/columns/:id", s.authorizeOrgAction(authorization.ObjectColumn, authorization.ActionColumnUpdate), s.UpdateColumn)
		proj.PUT("/columns/:id/move", s.authorizeOrgAction(authorization.ObjectColumn, authorization.ActionColumnMove), s.MoveColumn)
		proj.DELETE("/columns/:id", s.authorizeOrgAction(authorization.ObjectColumn, authorization.ActionColumnDelete), s.DeleteColumn)

		// -------- Tasks --------
		proj.GET("/tasks", s.ListTasks)
		proj.POST("/tasks", s.RequireRole(tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember), s.MutationRateLimit(), s.CreateTask)
		proj.GET("/tasks/:id", s.GetTask)
		proj.PUT("/tasks/:id", s.RequireRole(tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember), s.MutationRateLimit(), s.UpdateTask)
		proj.PUT("/tasks/:id/move", s.RequireRole(tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember), s.MutationRateLimit(), s.MoveTask)
		proj.POST("/tasks/:id/archive", s.RequireRole(tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember), s.MutationRateLimit(), s.ArchiveTask)
		proj.POST("/tasks/:id/unarchive", s.RequireRole(tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember), s.MutationRateLimit(), s.UnarchiveTask)
		proj.DELETE("/tasks/:id", s.authorizeOrgAction(authorization.ObjectTask, authorization.ActionTaskDelete), s.DeleteTask)

		// -------- Comments --------
		proj.GET("/tasks/:id/comments", s.ListComments)
		proj.POST("/tasks/:id/comments", s.RequireRole(tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember), s.MutationRateLimit(), s.CreateComment)

		// -------- Activity --------
		proj.GET("/tasks/:id/activity", s.ListTaskActivity)
		proj.GET("/tasks/:id/activity/export", s.authorizeOrgAction(authorization.ObjectActivity, authorization.ActionActivityExport), s.ExportTaskActivity)
		proj.GET("/activity", s.authorizeOrgAction(authorization.ObjectActivity, authorization.ActionActivityView), s.ListProjectActivity)
	}
}
