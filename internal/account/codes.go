package account

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/mail"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/notification"
)

// Channel is how a verification code reaches its owner.
type Channel int

const (
	ChannelEmail Channel = iota + 1
	ChannelSMS
)

// Subject identifies the account a code belongs to.
type Subject struct {
	Type string
	ID   uint
}

// ErrInvalidCode is returned for a wrong, used or expired code.
var ErrInvalidCode = apperr.BadRequest("Invalid or expired verification code")

var codeSpan = big.NewInt(900000)

// GenerateCode returns a uniformly random six digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Codes issues and checks one-time verification codes.
type Codes struct {
	db             *gorm.DB
	dispatcher     notification.Dispatcher
	ttl            time.Duration
	emailChangeTTL time.Duration
	log            *zap.Logger
	now            func() time.Time
	generate       func() (string, error)
}

// NewCodes creates a code service. Codes for email changes live for
// emailChangeTTL; every other purpose uses ttl.
func NewCodes(db *gorm.DB, dispatcher notification.Dispatcher, ttl, emailChangeTTL time.Duration, log *zap.Logger) *Codes {
	return &Codes{
		db:             db,
		dispatcher:     dispatcher,
		ttl:            ttl,
		emailChangeTTL: emailChangeTTL,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
		generate:       GenerateCode,
	}
}

func (c *Codes) ttlFor(purpose string) time.Duration {
	if purpose == model.PurposeEmailVerification {
		return c.emailChangeTTL
	}
	return c.ttl
}

// Request stores a fresh code and queues its delivery to destination.
func (c *Codes) Request(ctx context.Context, subj Subject, purpose, destination string, channel Channel) error {
	code, err := c.generate()
	if err != nil {
		return err
	}
	ttl := c.ttlFor(purpose)
	now := c.now()
	row := model.VerificationCode{
		SubjectType: subj.Type,
		SubjectID:   subj.ID,
		Purpose:     purpose,
		Code:        code,
		Destination: destination,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	minutes := int(ttl / time.Minute)
	switch channel {
	case ChannelSMS:
		text := fmt.Sprintf("Your NutriBin verification code is %s. It expires in %d minutes.", code, minutes)
		if !c.dispatch(notification.SMSJob(destination, text)) {
			c.log.Warn("verification sms not queued", zap.String("purpose", purpose), zap.Uint("subject_id", subj.ID))
		}
	default:
		tmpl, subject := "code", "Your NutriBin verification code"
		if purpose == model.PurposePasswordReset {
			tmpl, subject = "password_reset", "Reset your NutriBin password"
		}
		html, err := mail.Render(tmpl, map[string]any{"Code": code, "Minutes": minutes})
		if err != nil {
			return err
		}
		if !c.dispatch(notification.EmailJob(mail.Message{To: destination, Subject: subject, HTML: html})) {
			c.log.Warn("verification email not queued", zap.String("purpose", purpose), zap.Uint("subject_id", subj.ID))
		}
	}
	return nil
}

func (c *Codes) dispatch(job notification.Job) bool {
	if c.dispatcher == nil {
		return false
	}
	return c.dispatcher.Dispatch(job)
}

// latest finds the newest live code row for subject and purpose. An empty
// destination matches any destination.
func (c *Codes) latest(tx *gorm.DB, subj Subject, purpose, destination string) (*model.VerificationCode, error) {
	q := tx.Where("subject_type = ? AND subject_id = ? AND purpose = ? AND used = ? AND expires_at > ?",
		subj.Type, subj.ID, purpose, false, c.now())
	if destination != "" {
		q = q.Where("destination = ?", destination)
	}
	var row model.VerificationCode
	if err := q.Order("created_at DESC, id DESC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	return &row, nil
}

func matches(row *model.VerificationCode, code string) bool {
	return subtle.ConstantTimeCompare([]byte(row.Code), []byte(code)) == 1
}

// Check reports whether code is currently valid without consuming it.
func (c *Codes) Check(ctx context.Context, subj Subject, purpose, code, destination string) error {
	row, err := c.latest(c.db.WithContext(ctx), subj, purpose, destination)
	if err != nil {
		return err
	}
	if !matches(row, code) || !row.Valid(c.now()) {
		return ErrInvalidCode
	}
	return nil
}

// Consume validates code and marks it used inside tx.
func (c *Codes) Consume(tx *gorm.DB, subj Subject, purpose, code, destination string) error {
	row, err := c.latest(tx, subj, purpose, destination)
	if err != nil {
		return err
	}
	if !matches(row, code) || !row.Valid(c.now()) {
		return ErrInvalidCode
	}
	res := tx.Model(&model.VerificationCode{}).
		Where("id = ? AND used = ?", row.ID, false).
		Update("used", true)
	if res.Error != nil {
		return fmt.Errorf("failed to consume verification code: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrInvalidCode
	}
	return nil
}

// Purge deletes every code row for subject and purpose inside tx.
func (c *Codes) Purge(tx *gorm.DB, subj Subject, purpose string) error {
	return tx.Where("subject_type = ? AND subject_id = ? AND purpose = ?", subj.Type, subj.ID, purpose).
		Delete(&model.VerificationCode{}).Error
}
