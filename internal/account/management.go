package account

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/auth"
	"nutribin-backend/internal/loginmon"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/sms"
)

// Status transitions accepted by SetStatus.
const (
	ActionBan     = "ban"
	ActionDisable = "disable"
	ActionEnable  = "enable"
)

// CreateUserInput is the payload of an administrative account creation.
type CreateUserInput struct {
	AccountType string
	FirstName   string
	LastName    string
	Email       string
	Contact     string
	Address     string
	Password    string
	Role        string
}

// UpdateUserInput holds the optional fields of a profile update. A changed
// Email must be accompanied by the code sent to the new address.
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Contact   *string
	Address   *string
	Password  *string
	Email     *string
	Code      string
}

// ListUsers returns every account of the given type, newest first.
func (s *Service) ListUsers(ctx context.Context, accountType string) ([]*User, error) {
	table, err := tableFor(accountType)
	if err != nil {
		return nil, err
	}
	var recs []record
	if err := s.db.WithContext(ctx).Table(table).Order("created_at DESC, id DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	users := make([]*User, 0, len(recs))
	for i := range recs {
		users = append(users, recs[i].user(accountType))
	}
	return users, nil
}

// GetUser returns one account.
func (s *Service) GetUser(ctx context.Context, accountType string, id uint) (*User, error) {
	rec, err := findByID(s.db.WithContext(ctx), accountType, id)
	if err != nil {
		return nil, err
	}
	return rec.user(accountType), nil
}

// CreateUser creates an account of any type with its authentication row.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	if _, err := tableFor(in.AccountType); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}
	acc := model.Account{
		FirstName: normalizeName(in.FirstName),
		LastName:  normalizeName(in.LastName),
		Email:     loginmon.Normalize(in.Email),
		Contact:   strings.TrimSpace(in.Contact),
		Password:  hash,
		Status:    model.StatusActive,
	}

	var rec record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := emailTaken(tx, in.AccountType, acc.Email, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict("Email already registered")
		}

		switch in.AccountType {
		case model.AccountCustomer:
			row := model.Customer{Account: acc, Address: strings.TrimSpace(in.Address)}
			err = tx.Create(&row).Error
			rec = record{Account: row.Account, Address: row.Address}
		case model.AccountStaff:
			role := in.Role
			if role == "" {
				role = model.AccountStaff
			}
			row := model.Staff{Account: acc, Role: role}
			err = tx.Create(&row).Error
			rec = record{Account: row.Account, Role: row.Role}
		default:
			row := model.Admin{Account: acc}
			err = tx.Create(&row).Error
			rec = record{Account: row.Account}
		}
		if err != nil {
			return apperr.FromDB(err, "")
		}
		return tx.Create(&model.Authentication{
			AccountType: in.AccountType,
			AccountID:   rec.ID,
			Enabled:     true,
			MFAType:     model.MFANone,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.sendWelcome(rec.Email, rec.FirstName, rec.user(in.AccountType).Role)
	return rec.user(in.AccountType), nil
}

// UpdateUser applies a profile update. An email change consumes the code
// bound to the new address and purges the subject's email codes in the
// same transaction; a bad code leaves the account untouched.
func (s *Service) UpdateUser(ctx context.Context, accountType string, id uint, in UpdateUserInput) (*User, error) {
	table, err := tableFor(accountType)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.FirstName != nil {
		updates["first_name"] = normalizeName(*in.FirstName)
	}
	if in.LastName != nil {
		updates["last_name"] = normalizeName(*in.LastName)
	}
	if in.Password != nil {
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return nil, apperr.BadRequest(err.Error())
		}
		updates["password"] = hash
	}
	if in.Address != nil {
		if accountType != model.AccountCustomer {
			return nil, apperr.BadRequest("address is only stored for customers")
		}
		updates["address"] = strings.TrimSpace(*in.Address)
	}

	var out *record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findByID(tx, accountType, id)
		if err != nil {
			return err
		}

		if in.Contact != nil {
			contact := strings.TrimSpace(*in.Contact)
			updates["contact"] = contact
			if accountType == model.AccountCustomer && contact != rec.Contact {
				updates["phone_verified"] = false
			}
		}

		if in.Email != nil {
			newEmail := loginmon.Normalize(*in.Email)
			if newEmail != loginmon.Normalize(rec.Email) {
				if in.Code == "" {
					return apperr.BadRequest("A verification code is required to change the email")
				}
				taken, err := emailTaken(tx, accountType, newEmail, id)
				if err != nil {
					return err
				}
				if taken {
					return apperr.Conflict("Email already registered")
				}
				subj := Subject{Type: accountType, ID: id}
				if err := s.codes.Consume(tx, subj, model.PurposeEmailVerification, in.Code, newEmail); err != nil {
					return err
				}
				if err := s.codes.Purge(tx, subj, model.PurposeEmailVerification); err != nil {
					return err
				}
				updates["email"] = newEmail
			}
		}

		if len(updates) > 0 {
			updates["updated_at"] = s.now()
			if err := tx.Table(table).Where("id = ?", id).Updates(updates).Error; err != nil {
				return apperr.FromDB(err, "User not found")
			}
		}
		out, err = findByID(tx, accountType, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.user(accountType), nil
}

// RequestEmailChange sends a code to newEmail bound to the account.
func (s *Service) RequestEmailChange(ctx context.Context, accountType string, id uint, newEmail string) error {
	newEmail = loginmon.Normalize(newEmail)
	db := s.db.WithContext(ctx)
	if _, err := findByID(db, accountType, id); err != nil {
		return err
	}
	taken, err := emailTaken(db, accountType, newEmail, id)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Conflict("Email already registered")
	}
	return s.codes.Request(ctx, Subject{Type: accountType, ID: id}, model.PurposeEmailVerification, newEmail, ChannelEmail)
}

// RequestPhoneCode texts a verification code to the customer's contact number.
func (s *Service) RequestPhoneCode(ctx context.Context, id uint) error {
	rec, err := findByID(s.db.WithContext(ctx), model.AccountCustomer, id)
	if err != nil {
		return err
	}
	phone, err := sms.NormalizePhone(rec.Contact)
	if err != nil {
		return apperr.BadRequest("Customer has no valid contact number")
	}
	return s.codes.Request(ctx, Subject{Type: model.AccountCustomer, ID: id}, model.PurposePhoneVerification, phone, ChannelSMS)
}

// VerifyPhone consumes a phone code and marks the number verified.
func (s *Service) VerifyPhone(ctx context.Context, id uint, code string) (*User, error) {
	var out *record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findByID(tx, model.AccountCustomer, id)
		if err != nil {
			return err
		}
		phone, err := sms.NormalizePhone(rec.Contact)
		if err != nil {
			return apperr.BadRequest("Customer has no valid contact number")
		}
		if err := s.codes.Consume(tx, Subject{Type: model.AccountCustomer, ID: id}, model.PurposePhoneVerification, code, phone); err != nil {
			return err
		}
		if err := tx.Model(&model.Customer{}).Where("id = ?", id).
			Updates(map[string]any{"phone_verified": true, "updated_at": s.now()}).Error; err != nil {
			return err
		}
		out, err = findByID(tx, model.AccountCustomer, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.user(model.AccountCustomer), nil
}

// SetStatus applies ban, disable or enable. Enable is the only way out of a ban.
func (s *Service) SetStatus(ctx context.Context, accountType string, id uint, action string) (*User, error) {
	table, err := tableFor(accountType)
	if err != nil {
		return nil, err
	}
	var status string
	var enabled bool
	switch action {
	case ActionBan:
		status, enabled = model.StatusBanned, false
	case ActionDisable:
		status, enabled = model.StatusInactive, false
	case ActionEnable:
		status, enabled = model.StatusActive, true
	default:
		return nil, apperr.BadRequest("action must be one of ban, disable, enable")
	}

	var out *record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findByID(tx, accountType, id); err != nil {
			return err
		}
		if err := tx.Table(table).Where("id = ?", id).
			Updates(map[string]any{"status": status, "updated_at": s.now()}).Error; err != nil {
			return err
		}
		// Enabled=false would be replaced by the column default on insert,
		// so the row is created enabled and then updated.
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Authentication{
			AccountType: accountType,
			AccountID:   id,
			Enabled:     true,
			MFAType:     model.MFANone,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Authentication{}).
			Where("account_type = ? AND account_id = ?", accountType, id).
			Update("enabled", enabled).Error; err != nil {
			return err
		}
		out, err = findByID(tx, accountType, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("account status changed",
		zap.String("account_type", accountType),
		zap.Uint("account_id", id),
		zap.String("action", action))
	return out.user(accountType), nil
}

// SetMFA switches email MFA on or off for an account.
func (s *Service) SetMFA(ctx context.Context, accountType string, id uint, enabled bool) error {
	mfa := model.MFANone
	if enabled {
		mfa = model.MFAEmail
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findByID(tx, accountType, id); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Authentication{
			AccountType: accountType,
			AccountID:   id,
			Enabled:     true,
			MFAType:     model.MFANone,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Authentication{}).
			Where("account_type = ? AND account_id = ?", accountType, id).
			Update("mfa_type", mfa).Error
	})
}

// ArchiveCustomer copies the customer into archived_customers and deletes
// the original, its authentication row and its codes in one transaction.
func (s *Service) ArchiveCustomer(ctx context.Context, id uint) (*model.ArchivedCustomer, error) {
	var archived model.ArchivedCustomer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Customer
		if err := tx.First(&c, id).Error; err != nil {
			return apperr.FromDB(err, "User not found")
		}
		archived = model.ArchivedCustomer{
			OriginalID:    c.ID,
			FirstName:     c.FirstName,
			LastName:      c.LastName,
			Email:         c.Email,
			Contact:       c.Contact,
			Address:       c.Address,
			Status:        c.Status,
			PhoneVerified: c.PhoneVerified,
			CreatedAt:     c.CreatedAt,
			ArchivedAt:    s.now(),
		}
		if err := tx.Create(&archived).Error; err != nil {
			return err
		}
		if err := tx.Where("account_type = ? AND account_id = ?", model.AccountCustomer, id).
			Delete(&model.Authentication{}).Error; err != nil {
			return err
		}
		if err := tx.Where("subject_type = ? AND subject_id = ?", model.AccountCustomer, id).
			Delete(&model.VerificationCode{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Customer{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errors.New("customer disappeared during archive")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &archived, nil
}
