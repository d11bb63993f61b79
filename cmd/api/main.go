package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/student-results-api/api/swagger"
	"github.com/noah-isme/student-results-api/internal/grading"
	"github.com/noah-isme/student-results-api/internal/handler"
	"github.com/noah-isme/student-results-api/internal/middleware"
	"github.com/noah-isme/student-results-api/internal/repository"
	"github.com/noah-isme/student-results-api/internal/router"
	"github.com/noah-isme/student-results-api/internal/service"
	"github.com/noah-isme/student-results-api/pkg/cache"
	"github.com/noah-isme/student-results-api/pkg/config"
	"github.com/noah-isme/student-results-api/pkg/database"
	"github.com/noah-isme/student-results-api/pkg/export"
	"github.com/noah-isme/student-results-api/pkg/jobs"
	"github.com/noah-isme/student-results-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/student-results-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/student-results-api/pkg/middleware/requestid"
)

// @title Student Results API
// @version 1.0.0
// @description Student, subject and mark records with derived grades, GPA and progress summaries.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	cacheEnabled := cfg.Reports.CacheEnabled
	if cacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, report cache disabled", zap.Error(err))
			cacheEnabled = false
		} else {
			defer redisClient.Close()
			cacheRepo = repository.NewCacheRepository(redisClient, "student-results", logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logr, cacheEnabled)

	policy, err := gradingPolicy(cfg.Grading)
	if err != nil {
		logr.Fatal("invalid grading configuration", zap.Error(err))
	}
	engine, err := grading.NewEngine(policy)
	if err != nil {
		logr.Fatal("invalid grading configuration", zap.Error(err))
	}

	validate := validator.New()

	studentRepo := repository.NewStudentRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	markRepo := repository.NewMarkRepository(db)
	userRepo := repository.NewUserRepository(db)

	syncSvc, err := service.NewResultSyncService(service.ResultSyncConfig{
		Students:    studentRepo,
		Marks:       markRepo,
		Subjects:    subjectRepo,
		Engine:      engine,
		Cache:       cacheSvc,
		Metrics:     metrics,
		Logger:      logr,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})
	if err != nil {
		logr.Fatal("failed to build result sync service", zap.Error(err))
	}

	retryQueue := jobs.NewQueue("summary-retry", func(ctx context.Context, job jobs.Job) error {
		return syncSvc.RetryRecompute(ctx, job.Key)
	}, jobs.QueueConfig{
		Workers:    cfg.Sync.RetryWorkers,
		MaxRetries: cfg.Sync.MaxAttempts,
		RetryDelay: cfg.Sync.RetryDelay,
		Logger:     logr,
	})
	retryQueue.Start(context.Background())
	defer retryQueue.Stop()
	syncSvc.UseRetries(retryQueue)

	authSvc := service.NewAuthService(userRepo, studentRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "student-results-api",
	})
	studentSvc := service.NewStudentService(studentRepo, syncSvc, cacheSvc, validate, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, markRepo, syncSvc, validate, logr)
	markSvc := service.NewMarkService(markRepo, studentRepo, subjectRepo, syncSvc, engine, metrics, validate, logr)
	reportSvc := service.NewReportService(studentRepo, syncSvc, cacheSvc, export.NewCSVExporter(), export.NewPDFExporter(cfg.Reports.SchoolName), cfg.Reports.CacheTTL, logr)
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Students: studentRepo,
		Marks:    markRepo,
		Subjects: subjectRepo,
		Cache:    cacheSvc,
		Logger:   logr,
		Config:   service.DashboardServiceConfig{CacheTTL: cfg.Reports.DashboardCacheTTL},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	router.Register(r, router.Dependencies{
		APIPrefix:        cfg.APIPrefix,
		AuthHandler:      handler.NewAuthHandler(authSvc),
		StudentHandler:   handler.NewStudentHandler(studentSvc),
		SubjectHandler:   handler.NewSubjectHandler(subjectSvc),
		MarkHandler:      handler.NewMarkHandler(markSvc),
		ReportHandler:    handler.NewReportHandler(reportSvc),
		DashboardHandler: handler.NewDashboardHandler(dashboardSvc),
		MetricsHandler:   handler.NewMetricsHandler(metrics),
		Tokens:           authSvc,
		Audit:            userRepo,
		Logger:           logr,
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "dialect", policy.Dialect, "scale", policy.Scale.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	waitForShutdown(srv, logr)
}

func gradingPolicy(cfg config.GradingConfig) (grading.Policy, error) {
	policy := grading.Policy{
		Dialect:       cfg.Dialect,
		PassThreshold: cfg.PassThreshold,
		StrictPass:    cfg.StrictPass,
	}
	if cfg.Scale != "" {
		scale, err := grading.ScaleByName(cfg.Scale)
		if err != nil {
			return policy, err
		}
		policy.Scale = scale
	}
	return policy.Normalize()
}

func waitForShutdown(srv *http.Server, logr *zap.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
