package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finquiz/backend/internal/config"
	"github.com/finquiz/backend/internal/models"
	"github.com/finquiz/backend/internal/reqinfo"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionService mints fingerprint-bound tokens and mirrors the single
// active session per identity in the shared store. Concurrent logins for
// the same identity race on the session key and the last write wins; the
// loser's token fails subsequent refresh checks. That is the intended
// single-session behavior, not a race to fix with locking.
type SessionService struct {
	Redis         redis.UniversalClient
	UserLifetime  time.Duration
	AdminLifetime time.Duration
}

func NewSessionService(client redis.UniversalClient, cfg config.JWTConfig) *SessionService {
	return &SessionService{
		Redis:         client,
		UserLifetime:  cfg.UserLifetime,
		AdminLifetime: cfg.AdminLifetime,
	}
}

func sessionKey(identityID uuid.UUID) string {
	return "session:" + identityID.String()
}

func (s *SessionService) lifetimeFor(role models.UserRole) time.Duration {
	if role == models.UserRoleAdmin {
		return s.AdminLifetime
	}
	return s.UserLifetime
}

// IssueSession overwrites any prior session for the identity.
func (s *SessionService) IssueSession(ctx context.Context, identityID uuid.UUID, role models.UserRole, rc reqinfo.RequestContext) (string, time.Time, error) {
	lifetime := s.lifetimeFor(role)

	token, expiresAt, err := utils.GenerateToken(identityID, string(role), rc.Fingerprint(), lifetime)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := s.Redis.Set(ctx, sessionKey(identityID), token, lifetime).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return token, expiresAt, nil
}

// Refresh exchanges a structurally valid token for a fresh one, keeping
// the original fingerprint. The old token's own expiry is ignored; what
// matters is that it byte-for-byte matches the stored current session.
func (s *SessionService) Refresh(ctx context.Context, oldToken string) (string, time.Time, error) {
	claims, err := utils.DecodeToken(oldToken)
	if err != nil {
		return "", time.Time{}, ErrUnauthorized
	}

	stored, err := s.Redis.Get(ctx, sessionKey(claims.IdentityID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, ErrForbidden
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if stored != oldToken {
		return "", time.Time{}, ErrForbidden
	}

	role := models.UserRole(claims.Role)
	lifetime := s.lifetimeFor(role)

	token, expiresAt, err := utils.GenerateToken(claims.IdentityID, claims.Role, claims.Fingerprint, lifetime)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := s.Redis.Set(ctx, sessionKey(claims.IdentityID), token, lifetime).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return token, expiresAt, nil
}

// Revoke drops the stored session so later refresh and liveness checks
// fail for previously issued tokens.
func (s *SessionService) Revoke(ctx context.Context, identityID uuid.UUID) error {
	if err := s.Redis.Del(ctx, sessionKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsCurrent reports whether the token is the identity's current stored
// session.
func (s *SessionService) IsCurrent(ctx context.Context, identityID uuid.UUID, token string) (bool, error) {
	stored, err := s.Redis.Get(ctx, sessionKey(identityID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return stored == token, nil
}
