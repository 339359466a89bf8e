package middleware

import (
	"errors"
	"strings"

	"github.com/finquiz/backend/internal/models"
	"github.com/finquiz/backend/internal/reqinfo"
	"github.com/finquiz/backend/internal/services"
	"github.com/finquiz/backend/pkg/logger"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"
)

const currentUserKey = "currentUser"

type AuthMiddleware struct {
	DB       *gorm.DB
	Sessions *services.SessionService
}

func NewAuthMiddleware(db *gorm.DB, sessions *services.SessionService) *AuthMiddleware {
	return &AuthMiddleware{DB: db, Sessions: sessions}
}

func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "http://localhost:3001,http://127.0.0.1:3001",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}

// RequireAuth validates the bearer token, checks its fingerprint against
// the requesting client and confirms it is still the identity's current
// session. A cryptographically valid token that lost the session race or
// was revoked gets 403, not 401.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	if reqinfo.FromFiber(c).Fingerprint() != claims.Fingerprint {
		logger.Warn("jwt_fingerprint_mismatch", map[string]interface{}{
			"ip":          c.IP(),
			"path":        c.Path(),
			"identity_id": claims.IdentityID.String(),
		})
		return utils.Error(c, fiber.StatusForbidden, "token not valid for this client")
	}

	current, err := a.Sessions.IsCurrent(c.Context(), claims.IdentityID, tokenString)
	if err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			return utils.Error(c, fiber.StatusServiceUnavailable, "session store unavailable")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "session check failed")
	}
	if !current {
		return utils.Error(c, fiber.StatusForbidden, "session is no longer active")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.IdentityID).Error; err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}

	c.Locals(currentUserKey, &user)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

func AdminOnly(c *fiber.Ctx) error {
	user := GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.UserRoleAdmin {
		return utils.Error(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
