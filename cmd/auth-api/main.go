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

	_ "github.com/noah-isme/auth-api/api/swagger"
	"github.com/noah-isme/auth-api/internal/handler"
	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/repository"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/pkg/cache"
	"github.com/noah-isme/auth-api/pkg/config"
	"github.com/noah-isme/auth-api/pkg/database"
	"github.com/noah-isme/auth-api/pkg/jobs"
	"github.com/noah-isme/auth-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/auth-api/pkg/middleware/requestid"
)

// @title Auth API
// @version 1.0.0
// @description Authentication and user management service with JWT access tokens and rotating refresh tokens
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
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	issuer := service.NewTokenIssuer(cfg.JWT)
	authSvc := service.NewAuthService(userRepo, tokenRepo, roleRepo, issuer, validate, logr, metricsSvc, service.AuthConfig{
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		MaxFailedLogins:    cfg.Lockout.MaxFailedLogins,
		LockoutDuration:    cfg.Lockout.Duration,
	})
	userSvc := service.NewUserService(userRepo, roleRepo, cacheRepo, cfg.Cache.UserTTL, validate, logr)
	roleSvc := service.NewRoleService(roleRepo, userRepo, validate, logr)
	cleanupSvc := service.NewCleanupService(tokenRepo, metricsSvc, logr)

	authHandler := handler.NewAuthHandler(authSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	roleHandler := handler.NewRoleHandler(roleSvc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	maintenance := jobs.NewQueue("maintenance", cleanupSvc.HandleJob, jobs.QueueConfig{Logger: logr})
	maintenance.Start(ctx)
	defer maintenance.Stop()
	maintenance.Every(cfg.Tokens.PurgeInterval, service.JobTypePurgeTokens)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh-token", authHandler.Refresh)

		protected := auth.Group("")
		protected.Use(middleware.JWT(authSvc))
		protected.POST("/logout", authHandler.Logout)
		protected.POST("/change-password", authHandler.ChangePassword)
		protected.GET("/me", authHandler.Me)
		protected.GET("/sessions", authHandler.Sessions)
	}

	users := api.Group("/users")
	users.Use(middleware.JWT(authSvc))
	{
		users.GET("", middleware.AdminOnly(), userHandler.List)
		users.GET("/by-email", middleware.AdminOnly(), userHandler.GetByEmail)
		users.GET("/:id", middleware.RBAC(middleware.SelfAccess, models.RoleAdmin), userHandler.Get)
		users.PUT("/:id", middleware.RBAC(middleware.SelfAccess, models.RoleAdmin), userHandler.Update)
		users.POST("/:id/activate", middleware.AdminOnly(), userHandler.Activate)
		users.POST("/:id/deactivate", middleware.AdminOnly(), userHandler.Deactivate)
		users.DELETE("/:id", middleware.AdminOnly(), userHandler.Delete)

		users.GET("/:id/roles", middleware.RBAC(middleware.SelfAccess, models.RoleAdmin), roleHandler.UserRoles)
		users.POST("/:id/roles/:role", middleware.AdminOnly(), roleHandler.AssignRole)
		users.DELETE("/:id/roles/:role", middleware.AdminOnly(), roleHandler.RemoveRole)
	}

	roles := api.Group("/roles")
	roles.Use(middleware.JWT(authSvc), middleware.AdminOnly())
	{
		roles.GET("", roleHandler.List)
		roles.GET("/:id", roleHandler.Get)
		roles.POST("", roleHandler.Create)
		roles.PUT("/:id", roleHandler.Update)
		roles.DELETE("/:id", roleHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
