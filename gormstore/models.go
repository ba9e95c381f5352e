package gormstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/venueauth"
)

type accountRow struct {
	ID                 string  `gorm:"type:varchar(64);primaryKey"`
	Email              *string `gorm:"type:varchar(320);uniqueIndex:ux_accounts_email"`
	Phone              *string `gorm:"type:varchar(32);uniqueIndex:ux_accounts_phone"`
	PasswordHash       *string `gorm:"type:varchar(128)"`
	GoogleID           *string `gorm:"type:varchar(128);uniqueIndex:ux_accounts_google_id"`
	GoogleAccessToken  string  `gorm:"type:text"`
	GoogleRefreshToken string  `gorm:"type:text"`
	GoogleAuthScope    string  `gorm:"type:text"`
	Name               string  `gorm:"type:varchar(255)"`
	IsEmailVerified    bool    `gorm:"not null;default:false"`
	IsPhoneVerified    bool    `gorm:"not null;default:false"`
	IsMFAEnabled       bool    `gorm:"not null;default:false"`
	MFAMethod          string  `gorm:"type:varchar(16)"`
	LoginAttempts      int     `gorm:"not null;default:0"`
	IsLocked           bool    `gorm:"not null;default:false"`
	LockUntil          *time.Time
	FailedLoginIPs     ipMap      `gorm:"type:text"`
	LoginIPs           stringList `gorm:"type:text"`
	LastLoginAt        *time.Time
	LastIPAddress      string `gorm:"type:varchar(64)"`
	LastUserAgent      string `gorm:"type:text"`
	RoleID             string `gorm:"type:varchar(64);index"`
	Version            int64  `gorm:"not null;default:1"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (accountRow) TableName() string { return "accounts" }

type tokenRow struct {
	Token         string    `gorm:"type:text;primaryKey"`
	Type          string    `gorm:"type:varchar(32);not null;index:ix_tokens_account_type,priority:2"`
	AccountID     string    `gorm:"type:varchar(64);not null;index:ix_tokens_account_type,priority:1"`
	RoleID        string    `gorm:"type:varchar(64)"`
	Identifier    *string   `gorm:"type:varchar(320)"`
	ExpiresAt     time.Time `gorm:"not null;index"`
	IsBlacklisted bool      `gorm:"not null;default:false;index"`
	CreatedAt     time.Time
}

func (tokenRow) TableName() string { return "tokens" }

// ipMap stores the failed-login map as a JSON document.
type ipMap map[string]venueauth.FailedIPEntry

func (m ipMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]venueauth.FailedIPEntry(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *ipMap) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil || len(raw) == 0 {
		*m = nil
		return err
	}
	out := map[string]venueauth.FailedIPEntry{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode failed_login_ips: %w", err)
	}
	*m = out
	return nil
}

// stringList stores the recent login IPs as a JSON array.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(src any) error {
	raw, err := jsonBytes(src)
	if err != nil || len(raw) == 0 {
		*l = nil
		return err
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode login_ips: %w", err)
	}
	*l = out
	return nil
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}

func toAccountRow(a *venueauth.Account) *accountRow {
	return &accountRow{
		ID:                 a.ID,
		Email:              a.Email,
		Phone:              a.Phone,
		PasswordHash:       a.PasswordHash,
		GoogleID:           a.GoogleID,
		GoogleAccessToken:  a.GoogleAccessToken,
		GoogleRefreshToken: a.GoogleRefreshToken,
		GoogleAuthScope:    a.GoogleAuthScope,
		Name:               a.Name,
		IsEmailVerified:    a.IsEmailVerified,
		IsPhoneVerified:    a.IsPhoneVerified,
		IsMFAEnabled:       a.IsMFAEnabled,
		MFAMethod:          string(a.MFAMethod),
		LoginAttempts:      a.LoginAttempts,
		IsLocked:           a.IsLocked,
		LockUntil:          a.LockUntil,
		FailedLoginIPs:     ipMap(a.FailedLoginIPs),
		LoginIPs:           stringList(a.LoginIPs),
		LastLoginAt:        a.LastLoginAt,
		LastIPAddress:      a.LastIPAddress,
		LastUserAgent:      a.LastUserAgent,
		RoleID:             a.RoleID,
		Version:            a.Version,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (r *accountRow) toAccount() *venueauth.Account {
	return &venueauth.Account{
		ID:                 r.ID,
		Email:              r.Email,
		Phone:              r.Phone,
		PasswordHash:       r.PasswordHash,
		GoogleID:           r.GoogleID,
		GoogleAccessToken:  r.GoogleAccessToken,
		GoogleRefreshToken: r.GoogleRefreshToken,
		GoogleAuthScope:    r.GoogleAuthScope,
		Name:               r.Name,
		IsEmailVerified:    r.IsEmailVerified,
		IsPhoneVerified:    r.IsPhoneVerified,
		IsMFAEnabled:       r.IsMFAEnabled,
		MFAMethod:          venueauth.MFAMethod(r.MFAMethod),
		LoginAttempts:      r.LoginAttempts,
		IsLocked:           r.IsLocked,
		LockUntil:          r.LockUntil,
		FailedLoginIPs:     map[string]venueauth.FailedIPEntry(r.FailedLoginIPs),
		LoginIPs:           []string(r.LoginIPs),
		LastLoginAt:        r.LastLoginAt,
		LastIPAddress:      r.LastIPAddress,
		LastUserAgent:      r.LastUserAgent,
		RoleID:             r.RoleID,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toTokenRow(t *venueauth.Token) *tokenRow {
	return &tokenRow{
		Token:         t.Token,
		Type:          string(t.Type),
		AccountID:     t.AccountID,
		RoleID:        t.RoleID,
		Identifier:    t.Identifier,
		ExpiresAt:     t.ExpiresAt,
		IsBlacklisted: t.IsBlacklisted,
		CreatedAt:     t.CreatedAt,
	}
}

func (r *tokenRow) toToken() *venueauth.Token {
	return &venueauth.Token{
		Token:         r.Token,
		Type:          venueauth.TokenType(r.Type),
		AccountID:     r.AccountID,
		RoleID:        r.RoleID,
		Identifier:    r.Identifier,
		ExpiresAt:     r.ExpiresAt,
		IsBlacklisted: r.IsBlacklisted,
		CreatedAt:     r.CreatedAt,
	}
}
