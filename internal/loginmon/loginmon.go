// Package loginmon records sign-in attempts and bans accounts that log in
// successfully too often within a trailing window.
package loginmon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/model"
)

// Attempt describes one sign-in try.
type Attempt struct {
	AccountType string
	AccountID   *uint
	Identifier  string
	IPAddress   string
	UserAgent   string
	Success     bool
}

// Monitor is the login-rate monitor.
type Monitor struct {
	db        *gorm.DB
	window    time.Duration
	threshold int
	log       *zap.Logger
	now       func() time.Time
}

// New creates a monitor banning after threshold successful logins within window.
func New(db *gorm.DB, window time.Duration, threshold int, log *zap.Logger) *Monitor {
	return &Monitor{
		db:        db,
		window:    window,
		threshold: threshold,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record appends the attempt and, for a successful login, applies the rate
// rule. It reports whether the identifier was banned by this attempt.
func (m *Monitor) Record(ctx context.Context, a Attempt) (bool, error) {
	now := m.now()
	identifier := Normalize(a.Identifier)
	banned := false

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := model.LoginAttempt{
			AccountType: a.AccountType,
			AccountID:   a.AccountID,
			Identifier:  identifier,
			IPAddress:   a.IPAddress,
			UserAgent:   truncate(a.UserAgent, 512),
			Success:     a.Success,
			CreatedAt:   now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to record login attempt: %w", err)
		}
		if !a.Success || m.threshold <= 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&model.LoginAttempt{}).
			Where("identifier = ? AND success = ? AND created_at > ?", identifier, true, now.Add(-m.window)).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count recent logins: %w", err)
		}
		if count < int64(m.threshold) {
			return nil
		}

		if err := Ban(tx, identifier); err != nil {
			return err
		}
		banned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if banned {
		m.log.Warn("account banned for rapid repeated logins",
			zap.String("identifier", identifier),
			zap.Int("threshold", m.threshold),
			zap.Duration("window", m.window))
	}
	return banned, nil
}

// Ban marks every account row with the email as banned and disables their
// authentication rows. It must run inside the caller's transaction.
func Ban(tx *gorm.DB, email string) error {
	email = Normalize(email)
	tables := []struct {
		accountType string
		model       any
	}{
		{model.AccountCustomer, &model.Customer{}},
		{model.AccountStaff, &model.Staff{}},
		{model.AccountAdmin, &model.Admin{}},
	}
	for _, t := range tables {
		var ids []uint
		if err := tx.Model(t.model).Where("LOWER(email) = ?", email).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to find %s accounts: %w", t.accountType, err)
		}
		if len(ids) == 0 {
			continue
		}
		if err := tx.Model(t.model).Where("id IN ?", ids).Update("status", model.StatusBanned).Error; err != nil {
			return fmt.Errorf("failed to ban %s accounts: %w", t.accountType, err)
		}
		if err := tx.Model(&model.Authentication{}).
			Where("account_type = ? AND account_id IN ?", t.accountType, ids).
			Update("enabled", false).Error; err != nil {
			return fmt.Errorf("failed to disable %s authentication: %w", t.accountType, err)
		}
	}
	return nil
}

// Normalize canonicalizes an email identifier.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
