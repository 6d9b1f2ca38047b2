package model

import "time"

// Verification code purposes.
const (
	PurposePasswordReset     = "password_reset"
	PurposeMFA               = "mfa"
	PurposeEmailVerification = "email_verification"
	PurposePhoneVerification = "phone_verification"
	PurposeOther             = "other"
)

// VerificationCode is a short-lived single-use code bound to a subject and purpose.
type VerificationCode struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SubjectType string    `gorm:"size:16;not null;index:idx_verification_subject" json:"subject_type"`
	SubjectID   uint      `gorm:"not null;index:idx_verification_subject" json:"subject_id"`
	Purpose     string    `gorm:"size:32;not null;index:idx_verification_subject" json:"purpose"`
	Code        string    `gorm:"size:6;not null" json:"-"`
	Destination string    `gorm:"size:255" json:"destination"`
	ExpiresAt   time.Time `gorm:"not null" json:"expires_at"`
	Used        bool      `gorm:"not null;default:false" json:"used"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// Valid reports whether the code can still be accepted at now.
func (v *VerificationCode) Valid(now time.Time) bool {
	return !v.Used && v.ExpiresAt.After(now)
}
