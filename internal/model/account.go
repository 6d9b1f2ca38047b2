package model

import "time"

// Account status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusBanned   = "banned"
)

// Account types, used as discriminators on shared tables.
const (
	AccountCustomer = "customer"
	AccountStaff    = "staff"
	AccountAdmin    = "admin"
)

// Account holds the columns every account table shares.
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FirstName string    `gorm:"size:100;not null" json:"first_name"`
	LastName  string    `gorm:"size:100;not null" json:"last_name"`
	Email     string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Contact   string    `gorm:"size:32" json:"contact"`
	Password  string    `gorm:"size:255" json:"-"`
	Status    string    `gorm:"size:16;not null;default:active;index" json:"status"`
	CreatedAt time.Time `json:"date_created"`
	UpdatedAt time.Time `json:"last_updated"`
}

// Customer owns machines and raises repair and support tickets.
type Customer struct {
	Account
	Address       string `gorm:"size:255" json:"address"`
	PhoneVerified bool   `gorm:"not null;default:false" json:"phone_verified"`
	GoogleSub     string `gorm:"size:255;index" json:"-"`
}

// Staff are dashboard operators.
type Staff struct {
	Account
	Role string `gorm:"size:32;not null;default:staff" json:"role"`
}

// TableName overrides the pluralized "staffs".
func (Staff) TableName() string { return "staff" }

// Admin accounts manage staff and run backups.
type Admin struct {
	Account
}

// ArchivedCustomer is the copy written before a customer row is deleted.
type ArchivedCustomer struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OriginalID    uint      `gorm:"index;not null" json:"original_id"`
	FirstName     string    `gorm:"size:100" json:"first_name"`
	LastName      string    `gorm:"size:100" json:"last_name"`
	Email         string    `gorm:"size:255;index" json:"email"`
	Contact       string    `gorm:"size:32" json:"contact"`
	Address       string    `gorm:"size:255" json:"address"`
	Status        string    `gorm:"size:16" json:"status"`
	PhoneVerified bool      `json:"phone_verified"`
	CreatedAt     time.Time `json:"date_created"`
	ArchivedAt    time.Time `gorm:"not null" json:"archived_at"`
}

// MFA types.
const (
	MFANone  = "none"
	MFAEmail = "email"
)

// Authentication is the per-account auth switch. A ban disables it.
type Authentication struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AccountType string    `gorm:"size:16;not null;uniqueIndex:idx_auth_account" json:"account_type"`
	AccountID   uint      `gorm:"not null;uniqueIndex:idx_auth_account" json:"account_id"`
	Enabled     bool      `gorm:"not null;default:true" json:"enabled"`
	MFAType     string    `gorm:"size:16;not null;default:none" json:"mfa_type"`
	UpdatedAt   time.Time `json:"last_updated"`
}

// LoginAttempt is an append-only audit row.
type LoginAttempt struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AccountType string    `gorm:"size:16;not null" json:"account_type"`
	AccountID   *uint     `json:"account_id"`
	Identifier  string    `gorm:"size:255;not null;index:idx_login_attempts_identifier_created" json:"identifier"`
	IPAddress   string    `gorm:"size:64" json:"ip_address"`
	UserAgent   string    `gorm:"size:512" json:"user_agent"`
	Success     bool      `gorm:"not null" json:"success"`
	CreatedAt   time.Time `gorm:"not null;index:idx_login_attempts_identifier_created" json:"created_at"`
}
