package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/handler"
	"github.com/noah-isme/student-results-api/internal/middleware"
	"github.com/noah-isme/student-results-api/internal/models"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	APIPrefix string

	AuthHandler      *handler.AuthHandler
	StudentHandler   *handler.StudentHandler
	SubjectHandler   *handler.SubjectHandler
	MarkHandler      *handler.MarkHandler
	ReportHandler    *handler.ReportHandler
	DashboardHandler *handler.DashboardHandler
	MetricsHandler   *handler.MetricsHandler

	Tokens middleware.TokenValidator
	Audit  middleware.AuditWriter
	Logger *zap.Logger
}

// Register wires the HTTP routes into the gin engine.
func Register(r *gin.Engine, deps Dependencies) {
	prefix := deps.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, action, resource)
	}
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	adminOrSelf := middleware.RBAC(string(models.RoleAdmin), middleware.Self)

	if deps.MetricsHandler != nil {
		r.GET("/health", deps.MetricsHandler.Health)
		r.GET("/metrics", deps.MetricsHandler.Prometheus)
	}

	api := r.Group(prefix)

	if deps.AuthHandler != nil {
		auth := api.Group("/auth")
		auth.POST("/login", deps.AuthHandler.Login)
		auth.POST("/refresh", deps.AuthHandler.Refresh)
		auth.POST("/register", middleware.OptionalJWT(deps.Tokens), audit(models.AuditActionRegister, "user"), deps.AuthHandler.Register)

		authProtected := auth.Group("", middleware.JWT(deps.Tokens))
		authProtected.POST("/logout", audit(models.AuditActionLogout, "session"), deps.AuthHandler.Logout)
		authProtected.POST("/change-password", audit(models.AuditActionPasswordChange, "user"), deps.AuthHandler.ChangePassword)
		authProtected.GET("/me", deps.AuthHandler.Me)
	}

	protected := api.Group("", middleware.JWT(deps.Tokens))

	if deps.StudentHandler != nil {
		students := protected.Group("/students")
		students.GET("", adminOnly, deps.StudentHandler.List)
		students.POST("", adminOnly, audit(models.AuditActionStudentWrite, "student"), deps.StudentHandler.Create)
		students.GET("/:id", adminOrSelf, deps.StudentHandler.Get)
		students.PUT("/:id", adminOnly, audit(models.AuditActionStudentWrite, "student"), deps.StudentHandler.Update)
		students.DELETE("/:id", adminOnly, audit(models.AuditActionStudentDelete, "student"), deps.StudentHandler.Delete)
		students.GET("/:id/results", adminOrSelf, deps.StudentHandler.Results)
		if deps.MarkHandler != nil {
			students.GET("/:id/marks", adminOrSelf, deps.MarkHandler.ListByStudent)
		}

		protected.GET("/departments/:department/statistics", adminOnly, deps.StudentHandler.DepartmentStatistics)
	}

	if deps.SubjectHandler != nil {
		subjects := protected.Group("/subjects")
		subjects.GET("", deps.SubjectHandler.List)
		subjects.GET("/:id", deps.SubjectHandler.Get)
		subjects.POST("", adminOnly, audit(models.AuditActionSubjectWrite, "subject"), deps.SubjectHandler.Create)
		subjects.PUT("/:id", adminOnly, audit(models.AuditActionSubjectWrite, "subject"), deps.SubjectHandler.Update)
		subjects.DELETE("/:id", adminOnly, audit(models.AuditActionSubjectDelete, "subject"), deps.SubjectHandler.Delete)
		if deps.MarkHandler != nil {
			subjects.GET("/:id/marks", adminOnly, deps.MarkHandler.ListBySubject)
			subjects.GET("/:id/statistics", adminOnly, deps.MarkHandler.SubjectStatistics)
		}
	}

	if deps.MarkHandler != nil {
		marks := protected.Group("/marks", adminOnly)
		marks.POST("", audit(models.AuditActionMarkCreate, "mark"), deps.MarkHandler.Create)
		marks.POST("/bulk", audit(models.AuditActionMarkCreate, "mark"), deps.MarkHandler.BulkCreate)
		marks.GET("/:id", deps.MarkHandler.Get)
		marks.PUT("/:id", audit(models.AuditActionMarkUpdate, "mark"), deps.MarkHandler.Update)
		marks.DELETE("/:id", audit(models.AuditActionMarkDelete, "mark"), deps.MarkHandler.Delete)
	}

	if deps.ReportHandler != nil {
		reports := protected.Group("/reports")
		reports.GET("/students/:id", adminOrSelf, middleware.WithResponseMeta(), deps.ReportHandler.ReportCard)
		reports.GET("/students/:id/export", adminOrSelf, deps.ReportHandler.Export)
	}

	if deps.DashboardHandler != nil {
		protected.GET("/dashboard", adminOnly, middleware.WithResponseMeta(), deps.DashboardHandler.Admin)
	}

	if deps.MetricsHandler != nil {
		protected.GET("/metrics/summary", adminOnly, deps.MetricsHandler.Summary)
	}
}
