package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/venueauth/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLinkingNotFound means no mirror exists for the account (never issued,
	// expired, or already consumed).
	ErrLinkingNotFound = errors.New("linking token not found")
	// ErrLinkingMismatch means the mirror holds a different token.
	ErrLinkingMismatch = errors.New("linking token mismatch")
)

// LinkingStore mirrors the latest linking token per account so the token can
// be consumed once and revoked before its signature expires.
type LinkingStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewLinkingStore returns a store writing under "<prefix>:<accountID>". The
// default prefix is "linking".
func NewLinkingStore(redisClient redis.UniversalClient, prefix string) *LinkingStore {
	if prefix == "" {
		prefix = "linking"
	}
	return &LinkingStore{redis: redisClient, prefix: prefix}
}

func (s *LinkingStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Save records token as the only valid linking token for accountID.
func (s *LinkingStore) Save(ctx context.Context, accountID, token string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(accountID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Consume atomically deletes the mirror if it equals token.
func (s *LinkingStore) Consume(ctx context.Context, accountID, token string) error {
	key := s.key(accountID)

	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := tx.Get(ctx, key).Result()
			if err != nil {
				return err
			}
			if !internal.EqualCodes(stored, token) {
				return ErrLinkingMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.Nil):
			return ErrLinkingNotFound
		case errors.Is(err, ErrLinkingMismatch):
			return ErrLinkingMismatch
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return ErrContention
}

// Delete drops any mirror for accountID.
func (s *LinkingStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
