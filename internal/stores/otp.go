package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/venueauth/internal"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 4

var (
	// ErrBackendUnavailable wraps every Redis failure surfaced by this package.
	ErrBackendUnavailable = errors.New("ephemeral store backend unavailable")
	// ErrContention is returned when optimistic retries are exhausted.
	ErrContention = errors.New("ephemeral store contention")
)

// OTPStore keeps at most one outstanding code per account.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewOTPStore returns a store writing under "<prefix>:<accountID>". The
// default prefix is "otp".
func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &OTPStore{redis: redisClient, prefix: prefix}
}

func (s *OTPStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Save stores code for accountID, replacing any earlier code.
func (s *OTPStore) Save(ctx context.Context, accountID, code string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(accountID), code, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Consume deletes the stored code when it equals submitted. A missing code or
// a mismatch is (false, nil) and leaves the stored value untouched.
func (s *OTPStore) Consume(ctx context.Context, accountID, submitted string) (bool, error) {
	key := s.key(accountID)

	for i := 0; i < maxWatchRetries; i++ {
		var matched bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := tx.Get(ctx, key).Result()
			if err != nil {
				return err
			}
			if !internal.EqualCodes(stored, submitted) {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			matched = true
			return nil
		}, key)

		switch {
		case err == nil:
			return matched, nil
		case errors.Is(err, redis.Nil):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return false, ErrContention
}
