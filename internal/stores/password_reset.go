package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResetNotFound means the reset token is unknown, expired or already used.
var ErrResetNotFound = errors.New("password reset token not found")

// PasswordResetStore maps opaque reset tokens to account ids.
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewPasswordResetStore returns a store writing under "<prefix>:<token>". The
// default prefix is "password_reset".
func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "password_reset"
	}
	return &PasswordResetStore{redis: redisClient, prefix: prefix}
}

func (s *PasswordResetStore) key(token string) string {
	return s.prefix + ":" + token
}

// Save binds token to accountID for ttl.
func (s *PasswordResetStore) Save(ctx context.Context, token, accountID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(token), accountID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Consume returns the account bound to token and deletes the binding in the
// same round trip.
func (s *PasswordResetStore) Consume(ctx context.Context, token string) (string, error) {
	accountID, err := s.redis.GetDel(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrResetNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return accountID, nil
}
