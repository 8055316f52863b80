package main

import (
	"context"
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

	_ "github.com/veriloq/auth-core/api/swagger"
	"github.com/veriloq/auth-core/internal/handler"
	"github.com/veriloq/auth-core/internal/mailer"
	"github.com/veriloq/auth-core/internal/middleware"
	"github.com/veriloq/auth-core/internal/repository"
	"github.com/veriloq/auth-core/internal/service"
	"github.com/veriloq/auth-core/pkg/cache"
	"github.com/veriloq/auth-core/pkg/config"
	"github.com/veriloq/auth-core/pkg/database"
	"github.com/veriloq/auth-core/pkg/logger"
	corsmiddleware "github.com/veriloq/auth-core/pkg/middleware/cors"
	reqidmiddleware "github.com/veriloq/auth-core/pkg/middleware/requestid"
)

// @title Auth Core API
// @version 1.0.0
// @description Credential issuance and session lifecycle service
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	codeRepo := repository.NewVerificationRepository(db)
	blacklistRepo := repository.NewBlacklistRepository(redisClient)

	issuer := service.NewTokenIssuer(cfg.JWT)
	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, sessionRepo, blacklistRepo, issuer, validate, logr, metricsSvc)
	verificationSvc := service.NewVerificationService(codeRepo, userRepo, cfg.Codes, logr, metricsSvc)

	emailSvc := service.NewEmailService(mailer.NewSMTPSender(cfg.SMTP), cfg.Email, logr)
	emailSvc.Start(ctx)
	defer emailSvc.Stop()

	cleanupSvc := service.NewCleanupService(sessionRepo, codeRepo, cfg.Cleanup, logr)
	go cleanupSvc.Run(ctx)

	authHandler := handler.NewAuthHandler(authSvc, verificationSvc, emailSvc, logr)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/verify-email", authHandler.VerifyEmail)
		auth.POST("/resend-code", authHandler.ResendCode)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		protected := auth.Group("")
		protected.Use(middleware.JWT(authSvc))
		{
			protected.POST("/logout", authHandler.Logout)
			protected.GET("/sessions", authHandler.Sessions)
			protected.GET("/me", authHandler.Me)
			protected.POST("/change-password", authHandler.ChangePassword)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
