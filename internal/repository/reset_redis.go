package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"go-identity-service/internal/model"
)

const (
	resetTokenPrefix = "reset:token:"
	resetUserPrefix  = "reset:user:"
)

type redisReset struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisResetStore keeps password reset digests in Redis. Keys carry a TTL
// matching the reset expiry, so lapsed resets vanish on their own.
type RedisResetStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisResetStore(client *redis.Client) *RedisResetStore {
	return &RedisResetStore{client: client, now: time.Now}
}

func (s *RedisResetStore) Replace(ctx context.Context, reset model.PasswordReset) error {
	ttl := reset.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return oops.Code("RESET_CREATE_FAILED").With("user_id", reset.UserID).Errorf("reset already expired")
	}

	payload, err := json.Marshal(redisReset{
		UserID:    reset.UserID,
		ExpiresAt: reset.ExpiresAt.UTC(),
		CreatedAt: reset.CreatedAt.UTC(),
	})
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").Wrap(err)
	}

	userKey := resetUserPrefix + reset.UserID
	previous, err := s.client.Get(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return oops.Code("RESET_CREATE_FAILED").With("operation", "get previous reset").Wrap(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" {
			pipe.Del(ctx, resetTokenPrefix+previous)
		}
		pipe.Set(ctx, resetTokenPrefix+reset.TokenHash, payload, ttl)
		pipe.Set(ctx, userKey, reset.TokenHash, ttl)
		return nil
	})
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "store reset").
			With("user_id", reset.UserID).
			Wrap(err)
	}
	return nil
}

func (s *RedisResetStore) FindByTokenHash(ctx context.Context, tokenHash string) (model.PasswordReset, error) {
	raw, err := s.client.Get(ctx, resetTokenPrefix+tokenHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.PasswordReset{}, oops.Code("RESET_NOT_FOUND").Wrap(model.ErrResetNotFound)
	}
	if err != nil {
		return model.PasswordReset{}, oops.Code("RESET_QUERY_FAILED").Wrap(err)
	}

	var stored redisReset
	if err := json.Unmarshal(raw, &stored); err != nil {
		return model.PasswordReset{}, oops.Code("RESET_DECODE_FAILED").Wrap(err)
	}

	return model.PasswordReset{
		UserID:    stored.UserID,
		TokenHash: tokenHash,
		ExpiresAt: stored.ExpiresAt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

func (s *RedisResetStore) DeleteByUser(ctx context.Context, userID string) error {
	userKey := resetUserPrefix + userID
	digest, err := s.client.Get(ctx, userKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}

	if err := s.client.Del(ctx, resetTokenPrefix+digest, userKey).Err(); err != nil {
		return oops.Code("RESET_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis evicts keys when their TTL lapses.
func (s *RedisResetStore) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}
