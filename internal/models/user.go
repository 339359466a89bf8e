package models

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type UserStatus string

// Registrant lifecycle. Transitions are owned by services.SignupService;
// nothing else writes Status.
const (
	StatusPendingEmailVerification  UserStatus = "pending_email_verification"
	StatusEmailVerified             UserStatus = "email_verified"
	StatusPendingMobileVerification UserStatus = "pending_mobile_verification"
	StatusAwaitingAdminApproval     UserStatus = "awaiting_admin_approval"
	StatusApproved                  UserStatus = "approved"
	StatusRejected                  UserStatus = "rejected"

	// Admin accounts use a two-state variant.
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
)

// Terminal reports whether the status admits no further transitions.
func (s UserStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type User struct {
	BaseModel
	Email          string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	DisplayName    string     `json:"displayName" gorm:"type:varchar(100);not null"`
	Mobile         string     `json:"mobile,omitempty" gorm:"type:varchar(20)"`
	PasswordHash   string     `json:"-" gorm:"type:text"`
	Role           UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Status         UserStatus `json:"status" gorm:"type:varchar(30);not null;index"`
	EmailVerified  bool       `json:"emailVerified" gorm:"not null;default:false"`
	MobileVerified bool       `json:"mobileVerified" gorm:"not null;default:false"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
	ApprovedByID   *uuid.UUID `json:"approvedByID,omitempty" gorm:"type:uuid"`

	// TOTP step-up for admin accounts. Secret is AES-GCM encrypted at rest.
	TOTPSecret  string     `json:"-" gorm:"type:text"`
	TOTPEnabled bool       `json:"totpEnabled" gorm:"not null;default:false"`
	TOTPSetupAt *time.Time `json:"-"`
}
