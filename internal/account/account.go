// Package account implements sign-up, sign-in, password recovery and the
// management operations on customer, staff and admin accounts.
package account

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/loginmon"
	"nutribin-backend/internal/model"
)

// record is a row of any account table.
type record struct {
	model.Account
	Role          string
	Address       string
	PhoneVerified bool
	GoogleSub     string
}

// User is the public view of an account.
type User struct {
	ID            uint   `json:"id"`
	AccountType   string `json:"account_type"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	Contact       string `json:"contact"`
	Status        string `json:"status"`
	Role          string `json:"role,omitempty"`
	Address       string `json:"address,omitempty"`
	PhoneVerified bool   `json:"phone_verified"`
	DateCreated   string `json:"date_created"`
}

func (r *record) user(accountType string) *User {
	role := r.Role
	if accountType != model.AccountStaff {
		role = accountType
	}
	return &User{
		ID:            r.ID,
		AccountType:   accountType,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Email:         r.Email,
		Contact:       r.Contact,
		Status:        r.Status,
		Role:          role,
		Address:       r.Address,
		PhoneVerified: r.PhoneVerified,
		DateCreated:   r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// tableFor maps an account type to its table.
func tableFor(accountType string) (string, error) {
	switch accountType {
	case model.AccountCustomer:
		return "customers", nil
	case model.AccountStaff:
		return "staff", nil
	case model.AccountAdmin:
		return "admins", nil
	default:
		return "", apperr.BadRequest("account_type must be one of customer, staff, admin")
	}
}

func findByEmail(tx *gorm.DB, accountType, email string) (*record, error) {
	table, err := tableFor(accountType)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := tx.Table(table).Where("LOWER(email) = ?", loginmon.Normalize(email)).Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func findByID(tx *gorm.DB, accountType string, id uint) (*record, error) {
	table, err := tableFor(accountType)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := tx.Table(table).Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, apperr.FromDB(err, "User not found")
	}
	return &rec, nil
}

func emailTaken(tx *gorm.DB, accountType, email string, exceptID uint) (bool, error) {
	table, err := tableFor(accountType)
	if err != nil {
		return false, err
	}
	var count int64
	q := tx.Table(table).Where("LOWER(email) = ?", loginmon.Normalize(email))
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return count > 0, nil
}

// authFor loads the authentication row; a missing row means enabled, no MFA.
func authFor(tx *gorm.DB, accountType string, id uint) (*model.Authentication, error) {
	var a model.Authentication
	err := tx.Where("account_type = ? AND account_id = ?", accountType, id).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.Authentication{AccountType: accountType, AccountID: id, Enabled: true, MFAType: model.MFANone}, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
