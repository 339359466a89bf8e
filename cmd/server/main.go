package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finquiz/backend/internal/config"
	"github.com/finquiz/backend/internal/database"
	"github.com/finquiz/backend/internal/handlers"
	"github.com/finquiz/backend/internal/middleware"
	"github.com/finquiz/backend/internal/realtime"
	"github.com/finquiz/backend/internal/services"
	"github.com/finquiz/backend/internal/storage"
	"github.com/finquiz/backend/internal/store"
	"github.com/finquiz/backend/pkg/logger"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret)
	utils.ConfigureEncryption(cfg.JWT.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	redisClient, err := store.Connect(cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	var objectStore *storage.MinIOClient
	if cfg.MinIO.Endpoint != "" {
		objectStore, err = storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("minio initialization failed: %v", err)
		}
		if err := objectStore.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("failed ensuring minio bucket: %v", err)
		}
	}

	hub := realtime.NewHub()

	otpService := services.NewOTPService(redisClient)
	sessionService := services.NewSessionService(redisClient, cfg.JWT)
	presenceService := services.NewPresenceService(redisClient, hub)
	auditService := services.NewAuditService(redisClient, objectStore, cfg.Audit)
	dispatcher := services.NewDispatcher(cfg.SMTP, cfg.Notify)
	signupService := services.NewSignupService(db, otpService, dispatcher, auditService, cfg.Notify.AdminEmail)
	loginService := services.NewLoginService(db, otpService, sessionService, presenceService, dispatcher, auditService)

	authHandler := handlers.NewAuthHandler(signupService, loginService)
	adminHandler := handlers.NewAdminHandler(db, signupService, presenceService, auditService, hub)
	authMiddleware := middleware.NewAuthMiddleware(db, sessionService)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	signupRoutes := api.Group("/auth/signup")
	signupRoutes.Post("/start", authHandler.SignupStart)
	signupRoutes.Post("/verify-email", authHandler.SignupVerifyEmail)
	signupRoutes.Post("/credentials", authHandler.SignupCredentials)
	signupRoutes.Post("/verify-mobile", authHandler.SignupVerifyMobile)
	signupRoutes.Post("/resend", authHandler.SignupResend)

	authRoutes := api.Group("/auth")
	authRoutes.Post("/login", authHandler.LoginStart)
	authRoutes.Post("/login/verify", authHandler.LoginVerify)
	authRoutes.Post("/refresh", authHandler.Refresh)
	authRoutes.Post("/logout", authMiddleware.RequireAuth, authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	adminRoutes := api.Group("/admin", authMiddleware.RequireAuth, middleware.AdminOnly)
	adminRoutes.Get("/registrations", adminHandler.ListRegistrations)
	adminRoutes.Post("/registrations/:id/approve", adminHandler.ApproveRegistration)
	adminRoutes.Post("/registrations/:id/reject", adminHandler.RejectRegistration)
	adminRoutes.Get("/presence", adminHandler.PresenceSnapshot)
	adminRoutes.Get("/audit", adminHandler.AuditList)
	adminRoutes.Delete("/audit", adminHandler.AuditClear)
	adminRoutes.Post("/totp/setup", adminHandler.TOTPSetup)
	adminRoutes.Post("/totp/verify", adminHandler.TOTPVerify)

	// Websocket auth happens in the upgrade guard; the browser cannot
	// send an Authorization header here.
	api.Get("/admin/presence/ws", adminHandler.PresenceUpgrade(sessionService), adminHandler.PresenceSocket())

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
		auditService.Close()
		dispatcher.Close()
		_ = redisClient.Close()
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
