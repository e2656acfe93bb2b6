package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/perpus-adp-api/api/swagger"
	"github.com/noah-isme/perpus-adp-api/internal/handler"
	"github.com/noah-isme/perpus-adp-api/internal/middleware"
	"github.com/noah-isme/perpus-adp-api/internal/models"
	"github.com/noah-isme/perpus-adp-api/internal/repository"
	"github.com/noah-isme/perpus-adp-api/internal/service"
	"github.com/noah-isme/perpus-adp-api/pkg/cache"
	"github.com/noah-isme/perpus-adp-api/pkg/config"
	"github.com/noah-isme/perpus-adp-api/pkg/database"
	"github.com/noah-isme/perpus-adp-api/pkg/export"
	"github.com/noah-isme/perpus-adp-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/perpus-adp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/perpus-adp-api/pkg/middleware/requestid"
	"github.com/noah-isme/perpus-adp-api/pkg/storage"
)

// @title Perpus ADP API
// @version 1.0.0
// @description School library service: catalog, student records and the loan ledger
// @BasePath /api/v1
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	store, err := storage.NewLocalStorage(cfg.Library.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init file storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Library.DownloadSecret, cfg.Library.DownloadTTL)

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	bookRepo := repository.NewBookRepository(db)
	loanRepo := repository.NewLoanRepository(db)

	authSvc := service.NewAuthService(userRepo, studentRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	bookSvc := service.NewBookService(bookRepo, store, signer, userRepo, cacheSvc, validate, logr, service.BookServiceConfig{
		MaxFileSizeBytes:  cfg.Library.MaxFileSizeBytes,
		AllowedExtensions: cfg.Library.AllowedExtensions,
	})
	studentSvc := service.NewStudentService(studentRepo, userRepo, userRepo, validate, logr)
	loanSvc := service.NewLoanService(loanRepo, studentRepo, bookRepo, userRepo, cacheSvc, metricsSvc, validate, logr, cfg.Library.LoanPeriod)
	portalSvc := service.NewPortalService(loanRepo, bookRepo, studentRepo, userRepo, cacheSvc, validate, logr)
	exportSvc := service.NewExportService(loanRepo, export.NewCSVExporter(), export.NewPDFExporter(), service.ExportConfig{
		Enabled: cfg.Exports.Enabled,
		MaxRows: cfg.Exports.MaxRows,
	}, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	bookHandler := handler.NewBookHandler(bookSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, loanSvc)
	loanHandler := handler.NewLoanHandler(loanSvc, exportSvc)
	portalHandler := handler.NewPortalHandler(portalSvc, loanSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	authed := auth.Group("", middleware.JWT(authSvc))
	authed.POST("/logout", authHandler.Logout)
	authed.POST("/change-password", authHandler.ChangePassword)
	authed.GET("/me", authHandler.Me)

	// Download tokens carry their own signature and expiry.
	api.GET("/files/:token", bookHandler.DownloadFile)

	protected := api.Group("", middleware.JWT(authSvc))

	books := protected.Group("/books")
	books.GET("", middleware.RequirePermission(models.PermBookRead), bookHandler.List)
	books.GET("/:id", middleware.RequirePermission(models.PermBookRead), bookHandler.Get)
	books.POST("", middleware.RequirePermission(models.PermBookWrite), bookHandler.Create)
	books.PUT("/:id", middleware.RequirePermission(models.PermBookWrite), bookHandler.Update)
	books.DELETE("/:id", middleware.RequirePermission(models.PermBookDelete), bookHandler.Delete)
	books.PATCH("/:id/availability", middleware.RequirePermission(models.PermBookWrite), bookHandler.SetAvailability)
	books.GET("/:id/download", middleware.RequirePermission(models.PermBookDownload), bookHandler.DownloadURL)

	students := protected.Group("/students")
	students.GET("", middleware.RequirePermission(models.PermStudentRead), studentHandler.List)
	students.POST("", middleware.RequirePermission(models.PermStudentWrite), studentHandler.Create)
	students.GET("/:id", middleware.RequireStudentScope(models.PermStudentRead), studentHandler.Get)
	students.PUT("/:id", middleware.RequirePermission(models.PermStudentWrite), studentHandler.Update)
	students.DELETE("/:id", middleware.RequirePermission(models.PermStudentDelete), studentHandler.Delete)
	students.GET("/:id/loans", middleware.RequireStudentScope(models.PermLoanRead), studentHandler.Loans)
	students.POST("/:id/loans", middleware.RequirePermission(models.PermLoanAssign), studentHandler.AssignLoan)
	students.POST("/:id/loans/:loanId/return", middleware.RequirePermission(models.PermLoanReturn), studentHandler.ReturnLoan)

	loans := protected.Group("/loans")
	loans.GET("", middleware.RequirePermission(models.PermLoanRead), loanHandler.List)
	loans.GET("/export",
		middleware.RequirePermission(models.PermExportRun),
		middleware.Audit(userRepo, "loan.export", "loan"),
		loanHandler.Export)
	loans.GET("/:id", middleware.RequirePermission(models.PermLoanRead), loanHandler.Get)
	loans.POST("/:id/return", middleware.RequirePermission(models.PermLoanReturn), loanHandler.Return)

	portal := protected.Group("/portal", middleware.RequirePermission(models.PermPortalUse))
	portal.GET("/dashboard", portalHandler.Dashboard)
	portal.GET("/profile", portalHandler.Profile)
	portal.PUT("/profile", portalHandler.UpdateProfile)
	portal.GET("/books", portalHandler.Books)
	portal.GET("/loans", portalHandler.ActiveLoans)
	portal.GET("/loans/history", portalHandler.History)
	portal.POST("/loans", portalHandler.Borrow)
	portal.POST("/loans/:id/return", portalHandler.Return)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
