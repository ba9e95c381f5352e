package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/venueauth"
	"gorm.io/gorm"
)

// TokenStore is a venueauth.TokenStore backed by the tokens table.
type TokenStore struct {
	db *gorm.DB
}

// NewTokenStore returns a store using db.
func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

var _ venueauth.TokenStore = (*TokenStore)(nil)

func (s *TokenStore) Create(ctx context.Context, token *venueauth.Token) error {
	row := toTokenRow(token)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *TokenStore) FindByToken(ctx context.Context, token string) (*venueauth.Token, error) {
	var row tokenRow
	if err := s.db.WithContext(ctx).First(&row, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.toToken(), nil
}

// BlacklistActive flags every non-blacklisted row matching filter in one
// UPDATE and returns the number of rows changed.
func (s *TokenStore) BlacklistActive(ctx context.Context, filter venueauth.TokenFilter) (int64, error) {
	q := s.db.WithContext(ctx).Model(&tokenRow{}).Where("is_blacklisted = ?", false)
	if filter.Token != "" {
		q = q.Where("token = ?", filter.Token)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	res := q.Update("is_blacklisted", true)
	return res.RowsAffected, res.Error
}

func (s *TokenStore) DeleteExpiredOrBlacklisted(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("is_blacklisted = ? OR expires_at < ?", true, now).
		Delete(&tokenRow{})
	return res.RowsAffected, res.Error
}
