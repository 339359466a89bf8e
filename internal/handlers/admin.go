package handlers

import (
	"strings"
	"time"

	"github.com/finquiz/backend/internal/middleware"
	"github.com/finquiz/backend/internal/models"
	"github.com/finquiz/backend/internal/realtime"
	"github.com/finquiz/backend/internal/reqinfo"
	"github.com/finquiz/backend/internal/services"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

type AdminHandler struct {
	DB       *gorm.DB
	Signup   *services.SignupService
	Presence *services.PresenceService
	Audit    *services.AuditService
	Hub      *realtime.Hub
}

func NewAdminHandler(db *gorm.DB, signup *services.SignupService, presence *services.PresenceService, audit *services.AuditService, hub *realtime.Hub) *AdminHandler {
	return &AdminHandler{DB: db, Signup: signup, Presence: presence, Audit: audit, Hub: hub}
}

func (h *AdminHandler) ListRegistrations(c *fiber.Ctx) error {
	p := utils.PageFromQuery(c)
	status := strings.TrimSpace(c.Query("status", string(models.StatusAwaitingAdminApproval)))

	query := h.DB.Model(&models.User{}).Where("role = ?", models.UserRoleUser)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting registrations")
	}

	var users []models.User
	if err := p.Scope(query.Order("created_at DESC")).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing registrations")
	}

	return utils.Paginated(c, users, p, total)
}

func (h *AdminHandler) ApproveRegistration(c *fiber.Ctx) error {
	return h.decideRegistration(c, true)
}

func (h *AdminHandler) RejectRegistration(c *fiber.Ctx) error {
	return h.decideRegistration(c, false)
}

func (h *AdminHandler) decideRegistration(c *fiber.Ctx, approve bool) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	identityID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid registration id")
	}

	rc := reqinfo.FromFiber(c)
	var user *models.User
	if approve {
		user, err = h.Signup.Approve(c.Context(), admin.ID, identityID, rc)
	} else {
		user, err = h.Signup.Reject(c.Context(), admin.ID, identityID, rc)
	}
	if err != nil {
		return serviceError(c, err, "failed updating registration")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

func (h *AdminHandler) PresenceSnapshot(c *fiber.Ctx) error {
	snapshot, err := h.Presence.Snapshot(c.Context())
	if err != nil {
		return serviceError(c, err, "failed reading presence")
	}
	return utils.Success(c, fiber.StatusOK, snapshot)
}

// PresenceUpgrade gates the websocket route: only a valid, current admin
// session (token passed via query, since browsers cannot set headers on
// websocket requests) may observe presence.
func (h *AdminHandler) PresenceUpgrade(sessions *services.SessionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := utils.ValidateToken(c.Query("token"))
		if err != nil {
			return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
		}
		if claims.Role != string(models.UserRoleAdmin) {
			return utils.Error(c, fiber.StatusForbidden, "admin access required")
		}

		current, err := sessions.IsCurrent(c.Context(), claims.IdentityID, c.Query("token"))
		if err != nil || !current {
			return utils.Error(c, fiber.StatusForbidden, "session is no longer active")
		}

		return c.Next()
	}
}

func (h *AdminHandler) PresenceSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		h.Hub.Register(conn)
		defer h.Hub.Unregister(conn)

		// Observers only receive; reads just detect disconnect.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func (h *AdminHandler) AuditList(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	entries, err := h.Audit.List(c.Context(), limit)
	if err != nil {
		return serviceError(c, err, "failed listing audit entries")
	}
	return utils.Success(c, fiber.StatusOK, entries)
}

func (h *AdminHandler) AuditClear(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	removed, err := h.Audit.Clear(c.Context())
	if err != nil {
		return serviceError(c, err, "failed clearing audit entries")
	}

	h.Audit.Record(services.ActorAdmin, &admin.ID, "audit.clear", "ok", reqinfo.FromFiber(c), map[string]interface{}{
		"removed": removed,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"removed": removed})
}

func (h *AdminHandler) TOTPSetup(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if admin.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "TOTP is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "FinQuiz",
		AccountName: admin.Email,
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate TOTP secret")
	}

	encryptedSecret, err := utils.EncryptSecret(key.Secret())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to encrypt TOTP secret")
	}

	if err := h.DB.Model(admin).Updates(map[string]interface{}{
		"totp_secret":  encryptedSecret,
		"totp_enabled": false,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to save TOTP config")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret": key.Secret(),
		"qrUri":  key.URL(),
	})
}

type totpVerifyRequest struct {
	Code string `json:"code"`
}

func (h *AdminHandler) TOTPVerify(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req totpVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}
	if admin.TOTPSecret == "" {
		return utils.Error(c, fiber.StatusBadRequest, "TOTP setup not started")
	}

	secret := utils.DecryptOrPlaintext(admin.TOTPSecret)
	if !totp.Validate(req.Code, secret) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid TOTP code")
	}

	now := time.Now().UTC()
	if err := h.DB.Model(admin).Updates(map[string]interface{}{
		"totp_enabled":  true,
		"totp_setup_at": now,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to enable TOTP")
	}

	h.Audit.Record(services.ActorAdmin, &admin.ID, "totp.enabled", "ok", reqinfo.FromFiber(c), nil)

	return utils.Success(c, fiber.StatusOK, fiber.Map{"totpEnabled": true})
}
