package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finquiz/backend/internal/models"
	"github.com/finquiz/backend/internal/reqinfo"
	"github.com/finquiz/backend/pkg/logger"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

const loginCodeTTL = 10 * time.Minute

// LoginResult is either a pending one-time code ("code_sent") or, for
// TOTP-enabled admins, a minted session.
type LoginResult struct {
	CodeSent  bool      `json:"codeSent"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// LoginService runs the OTP-gated login flow: password check, one-time
// code, then session minting plus presence tracking.
type LoginService struct {
	DB       *gorm.DB
	Codes    *OTPService
	Sessions *SessionService
	Presence *PresenceService
	Notify   *Dispatcher
	Audit    *AuditService
}

func NewLoginService(db *gorm.DB, codes *OTPService, sessions *SessionService, presence *PresenceService, notify *Dispatcher, audit *AuditService) *LoginService {
	return &LoginService{
		DB:       db,
		Codes:    codes,
		Sessions: sessions,
		Presence: presence,
		Notify:   notify,
		Audit:    audit,
	}
}

// Start checks the password and either issues a login code (standard
// path) or, for an admin with TOTP enabled, validates the TOTP code and
// mints the session directly. Unknown emails and bad passwords both come
// back as ErrUnauthorized so callers cannot probe for accounts.
func (s *LoginService) Start(ctx context.Context, email, password, totpCode string, rc reqinfo.RequestContext) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := s.loadUser(ctx, email)
	if err != nil {
		s.Audit.Record(ActorUser, nil, "login.start", "unknown_email", rc, map[string]interface{}{
			"email": email,
		})
		return nil, err
	}

	// Password before eligibility: a Forbidden answer would tell an
	// unauthenticated prober that the email exists. Only a caller who
	// proved the credential learns the account's lifecycle state.
	if !utils.CheckPassword(user.PasswordHash, password) {
		s.Audit.Record(actorTypeOf(user), &user.ID, "login.start", "bad_password", rc, nil)
		return nil, ErrUnauthorized
	}

	if err := s.checkEligibility(user); err != nil {
		return nil, err
	}

	if user.Role == models.UserRoleAdmin && user.TOTPEnabled {
		secret := utils.DecryptOrPlaintext(user.TOTPSecret)
		if totpCode == "" || !totp.Validate(totpCode, secret) {
			s.Audit.Record(ActorAdmin, &user.ID, "login.start", "bad_totp", rc, nil)
			return nil, ErrUnauthorized
		}
		return s.mintSession(ctx, user, rc)
	}

	code, err := s.Codes.Issue(ctx, email, PurposeLogin, loginCodeTTL, "")
	if err != nil {
		return nil, err
	}

	s.Notify.Enqueue(Notification{
		Recipient: email,
		Subject:   "Your FinQuiz login code",
		Body:      fmt.Sprintf("<p>Your login code is <strong>%s</strong>. It expires in 10 minutes.</p>", code),
	})

	s.Audit.Record(actorTypeOf(user), &user.ID, "login.start", "code_issued", rc, nil)

	return &LoginResult{CodeSent: true}, nil
}

// Complete consumes the login code and mints the session.
func (s *LoginService) Complete(ctx context.Context, email, code string, rc reqinfo.RequestContext) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := s.loadUser(ctx, email)
	if err != nil {
		return nil, err
	}

	// Same ordering as Start: the code is the proof here, so it is
	// checked before eligibility is disclosed.
	if _, err := s.Codes.Verify(ctx, email, PurposeLogin, code); err != nil {
		s.Audit.Record(actorTypeOf(user), &user.ID, "login.verify", "failed", rc, nil)
		return nil, err
	}

	if err := s.checkEligibility(user); err != nil {
		return nil, err
	}

	return s.mintSession(ctx, user, rc)
}

// Logout revokes the stored session and clears presence.
func (s *LoginService) Logout(ctx context.Context, user *models.User, rc reqinfo.RequestContext) error {
	if err := s.Sessions.Revoke(ctx, user.ID); err != nil {
		return err
	}
	if err := s.Presence.MarkInactive(ctx, user.ID); err != nil {
		return err
	}
	if _, err := s.Presence.Broadcast(ctx); err != nil {
		logger.Warn("presence_broadcast_failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.Audit.Record(actorTypeOf(user), &user.ID, "logout", "ok", rc, nil)
	return nil
}

func (s *LoginService) mintSession(ctx context.Context, user *models.User, rc reqinfo.RequestContext) (*LoginResult, error) {
	token, expiresAt, err := s.Sessions.IssueSession(ctx, user.ID, user.Role, rc)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.DB.WithContext(ctx).Model(user).Update("last_login_at", now).Error; err != nil {
		logger.Warn("last_login_update_failed", map[string]interface{}{
			"identity_id": user.ID.String(),
			"error":       err.Error(),
		})
	}

	if err := s.Presence.MarkActive(ctx, user.ID); err != nil {
		return nil, err
	}
	if _, err := s.Presence.Broadcast(ctx); err != nil {
		logger.Warn("presence_broadcast_failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.Audit.Record(actorTypeOf(user), &user.ID, "login.session_issued", "ok", rc, map[string]interface{}{
		"role": user.Role,
	})

	return &LoginResult{Token: token, ExpiresAt: expiresAt}, nil
}

// checkEligibility gates login on lifecycle state: registrants must be
// approved, admins must be active.
func (s *LoginService) checkEligibility(user *models.User) error {
	switch user.Role {
	case models.UserRoleAdmin:
		if user.Status != models.StatusActive {
			return ErrForbidden
		}
	default:
		if user.Status != models.StatusApproved {
			return ErrForbidden
		}
	}
	return nil
}

func (s *LoginService) loadUser(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func actorTypeOf(user *models.User) ActorType {
	if user.Role == models.UserRoleAdmin {
		return ActorAdmin
	}
	return ActorUser
}
