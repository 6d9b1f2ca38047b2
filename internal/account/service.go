package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/auth"
	"nutribin-backend/internal/loginmon"
	"nutribin-backend/internal/mail"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/notification"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgBanned             = "Account banned. Please contact support."
	msgBannedNow          = "Account banned due to repeated rapid logins. Please contact support."
	msgInactive           = "Account is inactive"
	msgDisabled           = "Account is disabled"
)

// SignInResult is the outcome of a sign-in. Rejections carry OK=false and
// an Error message instead of an error value.
type SignInResult struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	MFARequired bool   `json:"mfa_required,omitempty"`
	Token       string `json:"token,omitempty"`
	User        *User  `json:"user,omitempty"`
}

func rejected(msg string) *SignInResult { return &SignInResult{OK: false, Error: msg} }

// SignInInput carries the credentials and client metadata of a sign-in.
type SignInInput struct {
	AccountType string
	Email       string
	Password    string
	IPAddress   string
	UserAgent   string
}

// StaffSignupInput is the payload of a staff self-registration.
type StaffSignupInput struct {
	FirstName string
	LastName  string
	Email     string
	Contact   string
	Password  string
	Role      string
}

// Service implements the account flows.
type Service struct {
	db         *gorm.DB
	codes      *Codes
	tokens     *auth.TokenIssuer
	google     auth.IdentityVerifier
	monitor    *loginmon.Monitor
	dispatcher notification.Dispatcher
	log        *zap.Logger
	now        func() time.Time
}

// NewService wires the account service. google and dispatcher may be nil.
func NewService(db *gorm.DB, codes *Codes, tokens *auth.TokenIssuer, google auth.IdentityVerifier, monitor *loginmon.Monitor, dispatcher notification.Dispatcher, log *zap.Logger) *Service {
	return &Service{
		db:         db,
		codes:      codes,
		tokens:     tokens,
		google:     google,
		monitor:    monitor,
		dispatcher: dispatcher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SignupStaff creates a staff account and its authentication row.
func (s *Service) SignupStaff(ctx context.Context, in StaffSignupInput) (*User, error) {
	email := loginmon.Normalize(in.Email)
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}
	role := in.Role
	if role == "" {
		role = model.AccountStaff
	}

	staff := model.Staff{
		Account: model.Account{
			FirstName: normalizeName(in.FirstName),
			LastName:  normalizeName(in.LastName),
			Email:     email,
			Contact:   in.Contact,
			Password:  hash,
			Status:    model.StatusActive,
		},
		Role: role,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := emailTaken(tx, model.AccountStaff, email, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict("Email already registered")
		}
		if err := tx.Create(&staff).Error; err != nil {
			return apperr.FromDB(err, "")
		}
		return tx.Create(&model.Authentication{
			AccountType: model.AccountStaff,
			AccountID:   staff.ID,
			Enabled:     true,
			MFAType:     model.MFANone,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.sendWelcome(staff.Email, staff.FirstName, role)
	rec := record{Account: staff.Account, Role: staff.Role}
	return rec.user(model.AccountStaff), nil
}

func (s *Service) sendWelcome(to, name, role string) {
	html, err := mail.Render("welcome", map[string]any{"Name": name, "Role": role, "Email": to})
	if err != nil {
		s.log.Error("failed to render welcome email", zap.Error(err))
		return
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(notification.EmailJob(mail.Message{To: to, Subject: "Welcome to NutriBin", HTML: html}))
	}
}

// SignIn authenticates by email and password. Credential failures are
// reported in the result, never as an error.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	if _, err := tableFor(in.AccountType); err != nil {
		return nil, err
	}
	attempt := loginmon.Attempt{
		AccountType: in.AccountType,
		Identifier:  in.Email,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	}

	rec, err := findByEmail(s.db.WithContext(ctx), in.AccountType, in.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.reject(ctx, attempt, msgInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	attempt.AccountID = &rec.ID

	if err := auth.VerifyPassword(rec.Password, in.Password); err != nil {
		return s.reject(ctx, attempt, msgInvalidCredentials)
	}

	a, err := authFor(s.db.WithContext(ctx), in.AccountType, rec.ID)
	if err != nil {
		return nil, err
	}
	if msg := blockedReason(rec, a); msg != "" {
		return s.reject(ctx, attempt, msg)
	}

	attempt.Success = true
	banned, err := s.monitor.Record(ctx, attempt)
	if err != nil {
		return nil, err
	}
	if banned {
		return rejected(msgBannedNow), nil
	}

	if a.MFAType == model.MFAEmail {
		if err := s.codes.Request(ctx, Subject{Type: in.AccountType, ID: rec.ID}, model.PurposeMFA, rec.Email, ChannelEmail); err != nil {
			return nil, err
		}
		return &SignInResult{OK: true, MFARequired: true}, nil
	}
	return s.issue(rec, in.AccountType)
}

func blockedReason(rec *record, a *model.Authentication) string {
	switch {
	case rec.Status == model.StatusBanned:
		return msgBanned
	case rec.Status == model.StatusInactive:
		return msgInactive
	case !a.Enabled:
		return msgDisabled
	}
	return ""
}

func (s *Service) reject(ctx context.Context, attempt loginmon.Attempt, msg string) (*SignInResult, error) {
	attempt.Success = false
	if _, err := s.monitor.Record(ctx, attempt); err != nil {
		return nil, err
	}
	return rejected(msg), nil
}

func (s *Service) issue(rec *record, accountType string) (*SignInResult, error) {
	u := rec.user(accountType)
	token, err := s.tokens.Issue(rec.ID, accountType, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &SignInResult{OK: true, Token: token, User: u}, nil
}

// CheckActive reports whether a session for the account may still be used.
// Deleted, banned, inactive and disabled accounts are rejected.
func (s *Service) CheckActive(ctx context.Context, accountType string, id uint) error {
	db := s.db.WithContext(ctx)
	rec, err := findByID(db, accountType, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Unauthorized("Account no longer exists")
	}
	if err != nil {
		return err
	}
	a, err := authFor(db, accountType, id)
	if err != nil {
		return err
	}
	if msg := blockedReason(rec, a); msg != "" {
		return apperr.Unauthorized(msg)
	}
	return nil
}

// VerifyMFA consumes an emailed sign-in code and issues the session token.
func (s *Service) VerifyMFA(ctx context.Context, accountType, email, code string) (*SignInResult, error) {
	db := s.db.WithContext(ctx)
	rec, err := findByEmail(db, accountType, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	a, err := authFor(db, accountType, rec.ID)
	if err != nil {
		return nil, err
	}
	if msg := blockedReason(rec, a); msg != "" {
		return rejected(msg), nil
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return s.codes.Consume(tx, Subject{Type: accountType, ID: rec.ID}, model.PurposeMFA, code, "")
	})
	if err != nil {
		return nil, err
	}
	return s.issue(rec, accountType)
}

// SignInGoogle verifies a Google ID token and signs the matching customer
// in, creating the customer on first use.
func (s *Service) SignInGoogle(ctx context.Context, idToken, ip, userAgent string) (*SignInResult, error) {
	if s.google == nil {
		return nil, apperr.BadRequest("Google sign-in is not configured")
	}
	id, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid Google token")
	}
	if id.Email == "" || !id.EmailVerified {
		return nil, apperr.Unauthorized("Google account email is not verified")
	}
	email := loginmon.Normalize(id.Email)

	var customer model.Customer
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("google_sub = ?", id.Subject).Take(&customer).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.Where("LOWER(email) = ?", email).Take(&customer).Error
		switch {
		case err == nil:
			return tx.Model(&customer).Update("google_sub", id.Subject).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		customer = model.Customer{
			Account: model.Account{
				FirstName: normalizeName(id.GivenName),
				LastName:  normalizeName(id.FamilyName),
				Email:     email,
				Status:    model.StatusActive,
			},
			GoogleSub: id.Subject,
		}
		if err := tx.Create(&customer).Error; err != nil {
			return apperr.FromDB(err, "")
		}
		return tx.Create(&model.Authentication{
			AccountType: model.AccountCustomer,
			AccountID:   customer.ID,
			Enabled:     true,
			MFAType:     model.MFANone,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	rec := &record{Account: customer.Account, Address: customer.Address, PhoneVerified: customer.PhoneVerified, GoogleSub: customer.GoogleSub}
	attempt := loginmon.Attempt{
		AccountType: model.AccountCustomer,
		AccountID:   &rec.ID,
		Identifier:  email,
		IPAddress:   ip,
		UserAgent:   userAgent,
	}
	a, err := authFor(s.db.WithContext(ctx), model.AccountCustomer, rec.ID)
	if err != nil {
		return nil, err
	}
	if msg := blockedReason(rec, a); msg != "" {
		return s.reject(ctx, attempt, msg)
	}
	attempt.Success = true
	banned, err := s.monitor.Record(ctx, attempt)
	if err != nil {
		return nil, err
	}
	if banned {
		return rejected(msgBannedNow), nil
	}
	return s.issue(rec, model.AccountCustomer)
}

// ForgotPassword emails a reset code when the account exists. It never
// reveals whether it does.
func (s *Service) ForgotPassword(ctx context.Context, accountType, email string) error {
	rec, err := findByEmail(s.db.WithContext(ctx), accountType, email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			if errors.Is(err, apperr.ErrBadRequest) {
				return err
			}
			s.log.Error("password reset lookup failed", zap.Error(err))
		}
		return nil
	}
	return s.codes.Request(ctx, Subject{Type: accountType, ID: rec.ID}, model.PurposePasswordReset, rec.Email, ChannelEmail)
}

// VerifyResetCode checks a reset code without consuming it.
func (s *Service) VerifyResetCode(ctx context.Context, accountType, email, code string) error {
	rec, err := findByEmail(s.db.WithContext(ctx), accountType, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return err
	}
	return s.codes.Check(ctx, Subject{Type: accountType, ID: rec.ID}, model.PurposePasswordReset, code, "")
}

// ResetPassword consumes the reset code and stores the new password atomically.
func (s *Service) ResetPassword(ctx context.Context, accountType, email, code, newPassword string) error {
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperr.BadRequest(err.Error())
	}
	table, err := tableFor(accountType)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findByEmail(tx, accountType, email)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if err := s.codes.Consume(tx, Subject{Type: accountType, ID: rec.ID}, model.PurposePasswordReset, code, ""); err != nil {
			return err
		}
		return tx.Table(table).Where("id = ?", rec.ID).
			Updates(map[string]any{"password": hash, "updated_at": s.now()}).Error
	})
}
