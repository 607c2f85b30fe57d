package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 30 * time.Second

// StoredResponse is a completed response kept for replay.
type StoredResponse struct {
	RequestHash string          `json:"requestHash"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
}

type IdempotencyStore struct {
	Client  *redis.Client
	TTL     time.Duration
	LockTTL time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{Client: client, TTL: ttl, LockTTL: defaultLockTTL}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (StoredResponse, bool, error) {
	raw, err := s.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return StoredResponse{}, false, nil
	}
	if err != nil {
		return StoredResponse{}, false, err
	}
	var stored StoredResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		return StoredResponse{}, false, err
	}
	return stored, true, nil
}

// Lock claims key for one in-flight request. The lock expires on its own if
// the holder dies.
func (s *IdempotencyStore) Lock(ctx context.Context, key string) (bool, error) {
	return s.Client.SetNX(ctx, key+":lock", "locked", s.LockTTL).Result()
}

func (s *IdempotencyStore) Unlock(ctx context.Context, key string) error {
	return s.Client.Del(ctx, key+":lock").Err()
}

func (s *IdempotencyStore) Save(ctx context.Context, key string, response StoredResponse) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, key, payload, s.TTL).Err()
}
