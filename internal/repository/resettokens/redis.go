package resettokens

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Ethaniconic/Swalambh-mvp/internal/domain"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
)

const keyPrefix = "dermsight:reset:"

// RedisStore keeps reset tokens in Redis. Expiry is enforced by the store
// itself: tokens are written with a ttl and Redis evicts them when it
// elapses, used or not.
type RedisStore struct {
	client *redis.Client
}

var _ repository.ResetTokenRepository = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Save writes the token with the given ttl.
func (s *RedisStore) Save(ctx context.Context, token *domain.ResetToken, ttl time.Duration) error {
	encoded, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+token.ID, encoded, ttl).Err()
}

// Get returns the token if it has not expired.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.ResetToken, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var token domain.ResetToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// Consume fetches and deletes the token in one round trip so a token can
// authorize at most once.
func (s *RedisStore) Consume(ctx context.Context, id string) (*domain.ResetToken, error) {
	data, err := s.client.GetDel(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var token domain.ResetToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	token.Used = true
	return &token, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
