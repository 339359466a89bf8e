package handlers

import (
	"errors"
	"strings"

	"github.com/finquiz/backend/internal/services"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// serviceError maps the service failure taxonomy onto HTTP statuses.
// Code mismatches and guard violations stay generic so callers cannot
// enumerate accounts from the responses.
func serviceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return utils.Error(c, fiber.StatusBadRequest, trimErrorPrefix(err, services.ErrValidation))
	case errors.Is(err, services.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, services.ErrCodeExpired):
		return utils.Error(c, fiber.StatusBadRequest, "code expired")
	case errors.Is(err, services.ErrCodeMismatch):
		return utils.Error(c, fiber.StatusBadRequest, "invalid code")
	case errors.Is(err, services.ErrInvalidState):
		return utils.Error(c, fiber.StatusConflict, "operation not allowed in the current state")
	case errors.Is(err, services.ErrUnauthorized):
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrForbidden):
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrStoreUnavailable):
		return utils.Error(c, fiber.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, fallback)
	}
}

func trimErrorPrefix(err error, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error())
	msg = strings.TrimPrefix(msg, ": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}
