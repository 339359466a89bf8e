package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/finquiz/backend/internal/models"
	"github.com/finquiz/backend/internal/reqinfo"
	"github.com/finquiz/backend/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const signupCodeTTL = 10 * time.Minute

var (
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	mobilePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// ResumeInfo tells a re-entrant signup caller where the identity stands
// and which step the client should present next. Disclosing the status
// for a known email is a deliberate UX tradeoff for resumability.
type ResumeInfo struct {
	Status   models.UserStatus `json:"status"`
	NextStep string            `json:"nextStep"`
}

// SignupService owns the registrant lifecycle:
// pending_email_verification → email_verified →
// pending_mobile_verification → awaiting_admin_approval →
// approved | rejected. Every transition moves exactly one edge; guard
// violations surface as ErrInvalidState and are never retried here.
type SignupService struct {
	DB         *gorm.DB
	Codes      *OTPService
	Notify     *Dispatcher
	Audit      *AuditService
	AdminEmail string
}

func NewSignupService(db *gorm.DB, codes *OTPService, notify *Dispatcher, audit *AuditService, adminEmail string) *SignupService {
	return &SignupService{
		DB:         db,
		Codes:      codes,
		Notify:     notify,
		Audit:      audit,
		AdminEmail: adminEmail,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nextStepFor(status models.UserStatus) string {
	switch status {
	case models.StatusPendingEmailVerification:
		return "verify_email"
	case models.StatusEmailVerified:
		return "submit_credentials"
	case models.StatusPendingMobileVerification:
		return "verify_mobile"
	case models.StatusAwaitingAdminApproval:
		return "await_approval"
	case models.StatusApproved, models.StatusActive:
		return "login"
	default:
		return "contact_support"
	}
}

// StartSignup issues an email verification code for a new registrant. It
// is idempotent: when an identity already exists for the email, no new
// code is issued and the caller receives the current status plus a
// resume hint instead of an error.
func (s *SignupService) StartSignup(ctx context.Context, email, displayName string, rc reqinfo.RequestContext) (*ResumeInfo, error) {
	email = NormalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrValidation)
	}

	var existing models.User
	err := s.DB.WithContext(ctx).First(&existing, "email = ?", email).Error
	if err == nil {
		s.Audit.Record(ActorUser, &existing.ID, "signup.start", "resume", rc, map[string]interface{}{
			"email":  email,
			"status": existing.Status,
		})
		return &ResumeInfo{Status: existing.Status, NextStep: nextStepFor(existing.Status)}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	code, err := s.Codes.Issue(ctx, email, PurposeEmail, signupCodeTTL, strings.TrimSpace(displayName))
	if err != nil {
		return nil, err
	}

	s.Notify.Enqueue(Notification{
		Recipient: email,
		Subject:   "Your FinQuiz verification code",
		Body:      fmt.Sprintf("<p>Your email verification code is <strong>%s</strong>. It expires in 10 minutes.</p>", code),
	})

	s.Audit.Record(ActorUser, nil, "signup.start", "code_issued", rc, map[string]interface{}{
		"email": email,
	})

	return &ResumeInfo{Status: models.StatusPendingEmailVerification, NextStep: "verify_email"}, nil
}

// VerifyEmail consumes the email code and creates the identity at
// email_verified. The identity row does not exist before this point; the
// display name travels in the code's payload.
func (s *SignupService) VerifyEmail(ctx context.Context, email, code string, rc reqinfo.RequestContext) (*models.User, error) {
	email = NormalizeEmail(email)

	// Code first: a consumed or absent code reads as NotFound even when
	// an identity already exists, keeping repeat verifications uniform.
	displayName, err := s.Codes.Verify(ctx, email, PurposeEmail, code)
	if err != nil {
		s.Audit.Record(ActorUser, nil, "signup.verify_email", "failed", rc, map[string]interface{}{
			"email": email,
		})
		return nil, err
	}

	var existing models.User
	err = s.DB.WithContext(ctx).First(&existing, "email = ?", email).Error
	if err == nil {
		return nil, fmt.Errorf("%w: identity already exists", ErrInvalidState)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if displayName == "" {
		// Codes issued by a resend carry no payload; fall back to the
		// mailbox name rather than rejecting the verification.
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	user := models.User{
		Email:         email,
		DisplayName:   displayName,
		Role:          models.UserRoleUser,
		Status:        models.StatusEmailVerified,
		EmailVerified: true,
	}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	s.Audit.Record(ActorUser, &user.ID, "signup.verify_email", "ok", rc, map[string]interface{}{
		"email": email,
	})

	return &user, nil
}

// SubmitCredentials stores the mobile number and password hash and moves
// the identity to pending_mobile_verification, issuing a mobile code.
func (s *SignupService) SubmitCredentials(ctx context.Context, email, mobile, password string, rc reqinfo.RequestContext) (*models.User, error) {
	email = NormalizeEmail(email)

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Status != models.StatusEmailVerified {
		return nil, fmt.Errorf("%w: expected email_verified, have %s", ErrInvalidState, user.Status)
	}

	mobile = strings.TrimSpace(mobile)
	if !mobilePattern.MatchString(mobile) {
		return nil, fmt.Errorf("%w: invalid mobile format", ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"mobile":        mobile,
		"password_hash": hash,
		"status":        models.StatusPendingMobileVerification,
	}
	if err := s.DB.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, err
	}
	user.Mobile = mobile
	user.PasswordHash = hash
	user.Status = models.StatusPendingMobileVerification

	code, err := s.Codes.Issue(ctx, email, PurposeMobile, signupCodeTTL, "")
	if err != nil {
		return nil, err
	}

	s.Notify.Enqueue(Notification{
		Recipient: mobile,
		Subject:   "FinQuiz mobile verification",
		Body:      fmt.Sprintf("Your mobile verification code is %s", code),
	})

	s.Audit.Record(ActorUser, &user.ID, "signup.credentials", "ok", rc, map[string]interface{}{
		"email": email,
	})

	return user, nil
}

// VerifyMobile consumes the mobile code and moves the identity to
// awaiting_admin_approval, notifying both the registrant and an
// administrator.
func (s *SignupService) VerifyMobile(ctx context.Context, email, code string, rc reqinfo.RequestContext) (*models.User, error) {
	email = NormalizeEmail(email)

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Status != models.StatusPendingMobileVerification {
		return nil, fmt.Errorf("%w: expected pending_mobile_verification, have %s", ErrInvalidState, user.Status)
	}

	if _, err := s.Codes.Verify(ctx, email, PurposeMobile, code); err != nil {
		s.Audit.Record(ActorUser, &user.ID, "signup.verify_mobile", "failed", rc, map[string]interface{}{
			"email": email,
		})
		return nil, err
	}

	updates := map[string]interface{}{
		"mobile_verified": true,
		"status":          models.StatusAwaitingAdminApproval,
	}
	if err := s.DB.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, err
	}
	user.MobileVerified = true
	user.Status = models.StatusAwaitingAdminApproval

	s.Notify.Enqueue(Notification{
		Recipient: email,
		Subject:   "FinQuiz registration received",
		Body:      fmt.Sprintf("<p>Hi %s, your registration is complete and awaiting review.</p>", user.DisplayName),
	})
	s.Notify.Enqueue(Notification{
		Recipient: s.AdminEmail,
		Subject:   "New FinQuiz registration awaiting approval",
		Body:      fmt.Sprintf("<p>%s (%s) is awaiting approval.</p>", user.DisplayName, email),
	})

	s.Audit.Record(ActorUser, &user.ID, "signup.verify_mobile", "ok", rc, map[string]interface{}{
		"email": email,
	})

	return user, nil
}

// Approve moves an identity awaiting approval to the terminal approved
// state and records the approver.
func (s *SignupService) Approve(ctx context.Context, adminID, identityID uuid.UUID, rc reqinfo.RequestContext) (*models.User, error) {
	return s.decide(ctx, adminID, identityID, rc, true)
}

// Reject moves an identity awaiting approval to the terminal rejected
// state. Rejection is a status, not a deletion.
func (s *SignupService) Reject(ctx context.Context, adminID, identityID uuid.UUID, rc reqinfo.RequestContext) (*models.User, error) {
	return s.decide(ctx, adminID, identityID, rc, false)
}

func (s *SignupService) decide(ctx context.Context, adminID, identityID uuid.UUID, rc reqinfo.RequestContext, approve bool) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "id = ?", identityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if user.Status != models.StatusAwaitingAdminApproval {
		return nil, fmt.Errorf("%w: expected awaiting_admin_approval, have %s", ErrInvalidState, user.Status)
	}

	status := models.StatusRejected
	action := "signup.rejected"
	subject := "Your FinQuiz registration was declined"
	body := fmt.Sprintf("<p>Hi %s, unfortunately your registration was not approved.</p>", user.DisplayName)
	if approve {
		status = models.StatusApproved
		action = "signup.approved"
		subject = "Your FinQuiz account is ready"
		body = fmt.Sprintf("<p>Hi %s, your account has been approved. You can now log in.</p>", user.DisplayName)
	}

	updates := map[string]interface{}{
		"status": status,
	}
	// The approver reference is recorded only on approval; rejection is
	// status plus notification, nothing else.
	if approve {
		updates["approved_by_id"] = adminID
	}
	if err := s.DB.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	user.Status = status
	if approve {
		user.ApprovedByID = &adminID
	}

	s.Notify.Enqueue(Notification{Recipient: user.Email, Subject: subject, Body: body})

	s.Audit.Record(ActorAdmin, &adminID, action, "ok", rc, map[string]interface{}{
		"identity_id": identityID.String(),
		"email":       user.Email,
	})

	return &user, nil
}

// ResendCode re-issues the pending code for the identity's current step.
func (s *SignupService) ResendCode(ctx context.Context, email string, purpose OTPPurpose, rc reqinfo.RequestContext) error {
	email = NormalizeEmail(email)

	switch purpose {
	case PurposeEmail:
		// Pre-identity step: only valid while no identity exists yet.
		var existing models.User
		err := s.DB.WithContext(ctx).First(&existing, "email = ?", email).Error
		if err == nil {
			return fmt.Errorf("%w: identity already exists", ErrInvalidState)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	case PurposeMobile:
		user, err := s.findByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user.Status != models.StatusPendingMobileVerification {
			return fmt.Errorf("%w: expected pending_mobile_verification, have %s", ErrInvalidState, user.Status)
		}
	default:
		return fmt.Errorf("%w: unsupported purpose", ErrValidation)
	}

	code, err := s.Codes.Issue(ctx, email, purpose, signupCodeTTL, "")
	if err != nil {
		return err
	}

	s.Notify.Enqueue(Notification{
		Recipient: email,
		Subject:   "Your FinQuiz verification code",
		Body:      fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p>", code),
	})

	s.Audit.Record(ActorUser, nil, "signup.resend", string(purpose), rc, map[string]interface{}{
		"email": email,
	})

	return nil
}

func (s *SignupService) findByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
