package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/venueauth"
	"gorm.io/gorm"
)

// AccountStore is a venueauth.AccountStore backed by the accounts table.
type AccountStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAccountStore returns a store using db.
func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db, now: time.Now}
}

var _ venueauth.AccountStore = (*AccountStore)(nil)

func (s *AccountStore) FindByID(ctx context.Context, id string) (*venueauth.Account, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*venueauth.Account, error) {
	return s.findOne(ctx, "email = ?", email)
}

func (s *AccountStore) FindByPhone(ctx context.Context, phone string) (*venueauth.Account, error) {
	return s.findOne(ctx, "phone = ?", phone)
}

func (s *AccountStore) FindByGoogleID(ctx context.Context, googleID string) (*venueauth.Account, error) {
	return s.findOne(ctx, "google_id = ?", googleID)
}

func (s *AccountStore) findOne(ctx context.Context, query string, arg string) (*venueauth.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).First(&row, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.toAccount(), nil
}

// Create inserts account. Duplicate email, phone or Google id yields
// venueauth.ErrAccountConflict.
func (s *AccountStore) Create(ctx context.Context, account *venueauth.Account) error {
	if account.PasswordHash == nil && account.GoogleID == nil {
		return fmt.Errorf("%w: account needs a password or a google id", venueauth.ErrPreconditionFailed)
	}
	row := toAccountRow(account)
	now := s.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	row.Version = 1

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return venueauth.ErrAccountConflict
		}
		return err
	}
	account.Version = row.Version
	account.CreatedAt = row.CreatedAt
	account.UpdatedAt = row.UpdatedAt
	return nil
}

// Update applies the non-nil fields of update and bumps the version.
func (s *AccountStore) Update(ctx context.Context, id string, update venueauth.AccountUpdate) (*venueauth.Account, error) {
	var out *venueauth.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountRow{}).Where("id = ?", id).Updates(s.updateColumns(update))
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return venueauth.ErrAccountConflict
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return venueauth.ErrAccountNotFound
		}

		var row accountRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		out = row.toAccount()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AccountStore) updateColumns(u venueauth.AccountUpdate) map[string]any {
	cols := map[string]any{
		"version":    gorm.Expr("version + 1"),
		"updated_at": s.now().UTC(),
	}
	setString := func(col string, v *string) {
		if v != nil {
			cols[col] = *v
		}
	}
	setBool := func(col string, v *bool) {
		if v != nil {
			cols[col] = *v
		}
	}

	if u.Email != nil {
		cols["email"] = *u.Email
	}
	if u.Phone != nil {
		cols["phone"] = *u.Phone
	}
	if u.PasswordHash != nil {
		cols["password_hash"] = *u.PasswordHash
	}
	if u.GoogleID != nil {
		cols["google_id"] = *u.GoogleID
	}
	setString("google_access_token", u.GoogleAccessToken)
	setString("google_refresh_token", u.GoogleRefreshToken)
	setString("google_auth_scope", u.GoogleAuthScope)
	if u.ClearGoogle {
		cols["google_id"] = nil
		cols["google_access_token"] = ""
		cols["google_refresh_token"] = ""
		cols["google_auth_scope"] = ""
	}
	setString("name", u.Name)
	setBool("is_email_verified", u.IsEmailVerified)
	setBool("is_phone_verified", u.IsPhoneVerified)
	setBool("is_mfa_enabled", u.IsMFAEnabled)
	if u.MFAMethod != nil {
		cols["mfa_method"] = string(*u.MFAMethod)
	}
	if u.LoginAttempts != nil {
		cols["login_attempts"] = *u.LoginAttempts
	}
	setBool("is_locked", u.IsLocked)
	if u.LockUntil != nil {
		cols["lock_until"] = *u.LockUntil
	}
	if u.ClearLockUntil {
		cols["lock_until"] = nil
	}
	if u.FailedLoginIPs != nil {
		cols["failed_login_ips"] = ipMap(u.FailedLoginIPs)
	}
	if u.LoginIPs != nil {
		cols["login_ips"] = stringList(u.LoginIPs)
	}
	if u.LastLoginAt != nil {
		cols["last_login_at"] = *u.LastLoginAt
	}
	setString("last_ip_address", u.LastIPAddress)
	setString("last_user_agent", u.LastUserAgent)
	return cols
}

// IncrementLoginAttempts adds one in SQL and returns the new count.
func (s *AccountStore) IncrementLoginAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountRow{}).Where("id = ?", id).Updates(map[string]any{
			"login_attempts": gorm.Expr("login_attempts + 1"),
			"version":        gorm.Expr("version + 1"),
			"updated_at":     s.now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return venueauth.ErrAccountNotFound
		}
		return tx.Model(&accountRow{}).Where("id = ?", id).Pluck("login_attempts", &attempts).Error
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// CompareAndSwapFailedIPs writes ips only while the row is still at version.
func (s *AccountStore) CompareAndSwapFailedIPs(ctx context.Context, id string, version int64, ips map[string]venueauth.FailedIPEntry) (bool, error) {
	res := s.db.WithContext(ctx).Model(&accountRow{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"failed_login_ips": ipMap(ips),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       s.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&accountRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, venueauth.ErrAccountNotFound
	}
	return false, nil
}
