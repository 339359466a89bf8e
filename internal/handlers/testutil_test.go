package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finquiz/backend/internal/config"
	"github.com/finquiz/backend/internal/middleware"
	"github.com/finquiz/backend/internal/models"
	"github.com/finquiz/backend/internal/realtime"
	"github.com/finquiz/backend/internal/services"
	"github.com/finquiz/backend/pkg/logger"
	"github.com/finquiz/backend/pkg/utils"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func init() {
	logger.Init()
	utils.ConfigureJWT("test-secret")
	utils.ConfigureEncryption("test-secret")
}

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	mini     *miniredis.Miniredis
	redis    *redis.Client
	sessions *services.SessionService
	audit    *services.AuditService
}

// setupTestEnv builds the full HTTP surface against an in-memory
// database and store, mirroring the wiring in cmd/server.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	hub := realtime.NewHub()
	otpService := services.NewOTPService(client)
	sessionService := services.NewSessionService(client, config.JWTConfig{
		UserLifetime:  24 * time.Hour,
		AdminLifetime: 30 * time.Minute,
	})
	presenceService := services.NewPresenceService(client, hub)
	auditService := services.NewAuditService(client, nil, config.AuditConfig{Retention: 7 * 24 * time.Hour})
	t.Cleanup(auditService.Close)
	dispatcher := services.NewDispatcher(config.SMTPConfig{From: "test@finquiz.local"}, config.NotifyConfig{
		QueueBufferSize: 10,
		MaxAttempts:     1,
		RetryDelays:     []time.Duration{time.Millisecond},
	})
	t.Cleanup(dispatcher.Close)

	signupService := services.NewSignupService(db, otpService, dispatcher, auditService, "admin@finquiz.local")
	loginService := services.NewLoginService(db, otpService, sessionService, presenceService, dispatcher, auditService)

	authHandler := NewAuthHandler(signupService, loginService)
	adminHandler := NewAdminHandler(db, signupService, presenceService, auditService, hub)
	authMiddleware := middleware.NewAuthMiddleware(db, sessionService)

	app := fiber.New()
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

	api.Get("/admin/presence/ws", adminHandler.PresenceUpgrade(sessionService), adminHandler.PresenceSocket())

	return &testEnv{
		app:      app,
		db:       db,
		mini:     m,
		redis:    client,
		sessions: sessionService,
		audit:    auditService,
	}
}

const testUserAgent = "handlers-test/1.0"

type requestOpts struct {
	token     string
	userAgent string
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, opts requestOpts) (int, map[string]interface{}) {
	t.Helper()

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed encoding request body: %v", err)
		}
		payload = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	ua := opts.userAgent
	if ua == "" {
		ua = testUserAgent
	}
	req.Header.Set("User-Agent", ua)
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	// Fiber's default error handler answers in plain text; keep the body
	// readable either way.
	decoded := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded["raw"] = string(raw)
		}
	}
	return resp.StatusCode, decoded
}

// storedCode reads the pending one-time code straight out of the store,
// standing in for the notification a real client would receive.
func storedCode(t *testing.T, e *testEnv, email, purpose string) string {
	t.Helper()

	data, err := e.redis.Get(context.Background(), fmt.Sprintf("otp:%s:%s", purpose, email)).Bytes()
	if err != nil {
		t.Fatalf("failed reading stored code for %s/%s: %v", purpose, email, err)
	}

	var record struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("failed decoding stored code: %v", err)
	}
	return record.Code
}

func seedAccount(t *testing.T, e *testEnv, email, password string, role models.UserRole, status models.UserStatus) *models.User {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	user := models.User{
		Email:          email,
		DisplayName:    "Seeded",
		Mobile:         "+31612345678",
		PasswordHash:   hash,
		Role:           role,
		Status:         status,
		EmailVerified:  true,
		MobileVerified: true,
	}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return &user
}

// loginAs walks the full code login over HTTP and returns the session
// token.
func loginAs(t *testing.T, e *testEnv, email, password string) string {
	t.Helper()

	status, body := e.request(t, "POST", "/api/auth/login", fiber.Map{
		"email":    email,
		"password": password,
	}, requestOpts{})
	if status != fiber.StatusOK {
		t.Fatalf("login start returned %d: %v", status, body)
	}

	status, body = e.request(t, "POST", "/api/auth/login/verify", fiber.Map{
		"email": email,
		"code":  storedCode(t, e, email, "login"),
	}, requestOpts{})
	if status != fiber.StatusOK {
		t.Fatalf("login verify returned %d: %v", status, body)
	}

	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing data envelope: %v", body)
	}
	token, ok := data["token"].(string)
	if !ok || token == "" {
		t.Fatalf("missing session token: %v", data)
	}
	return token
}

// signupTo walks a registrant over HTTP until awaiting_admin_approval.
func signupTo(t *testing.T, e *testEnv, email string) map[string]interface{} {
	t.Helper()

	status, body := e.request(t, "POST", "/api/auth/signup/start", fiber.Map{
		"email":       email,
		"displayName": "Registrant",
	}, requestOpts{})
	if status != fiber.StatusOK {
		t.Fatalf("signup start returned %d: %v", status, body)
	}

	status, body = e.request(t, "POST", "/api/auth/signup/verify-email", fiber.Map{
		"email": email,
		"code":  storedCode(t, e, email, "email"),
	}, requestOpts{})
	if status != fiber.StatusCreated {
		t.Fatalf("verify email returned %d: %v", status, body)
	}

	status, body = e.request(t, "POST", "/api/auth/signup/credentials", fiber.Map{
		"email":    email,
		"mobile":   "+31612345678",
		"password": "s3cret-pass",
	}, requestOpts{})
	if status != fiber.StatusOK {
		t.Fatalf("credentials returned %d: %v", status, body)
	}

	status, body = e.request(t, "POST", "/api/auth/signup/verify-mobile", fiber.Map{
		"email": email,
		"code":  storedCode(t, e, email, "mobile"),
	}, requestOpts{})
	if status != fiber.StatusOK {
		t.Fatalf("verify mobile returned %d: %v", status, body)
	}

	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing data envelope: %v", body)
	}
	return data
}
