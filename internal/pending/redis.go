package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/transfer"
)

// RedisStore keeps staged transactions in Redis so several engine processes
// can share them.
//
// Keys:
//
//	{prefix}owner:{ownerID} -> token
//	{prefix}token:{token}   -> JSON entry
//
// The owner key is claimed with SETNX, which makes Create atomic per owner.
// Keys carry a Redis TTL of twice the staging TTL. Expiry itself is decided
// by the registry from CreatedAt; the Redis TTL only collects garbage.
type RedisStore struct {
	client    redisClient
	keyPrefix string
	keyTTL    time.Duration
}

var _ transfer.PendingStore = (*RedisStore)(nil)

type redisEntry struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"owner_id"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRedisStoreFromConfig dials Redis and returns a store for staged
// transactions that live for ttl.
func NewRedisStoreFromConfig(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisStore, func() error, error) {
	client, err := newGoRedisClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewRedisStore(ctx, client, cfg.KeyPrefix, ttl)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return store, client.Close, nil
}

func NewRedisStore(ctx context.Context, client redisClient, keyPrefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("pending ttl must be positive")
	}
	if keyPrefix == "" {
		keyPrefix = "tipbot:pending:"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, keyPrefix: keyPrefix, keyTTL: 2 * ttl}, nil
}

func (s *RedisStore) ownerKey(ownerID string) string {
	return s.keyPrefix + "owner:" + ownerID
}

func (s *RedisStore) tokenKey(token string) string {
	return s.keyPrefix + "token:" + token
}

func (s *RedisStore) Create(ctx context.Context, entry transfer.PendingEntry) error {
	data, err := json.Marshal(redisEntry(entry))
	if err != nil {
		return fmt.Errorf("failed to encode pending entry: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, s.ownerKey(entry.OwnerID), entry.Token, s.keyTTL)
	if err != nil {
		return fmt.Errorf("failed to claim owner key: %w", err)
	}
	if !claimed {
		return transfer.ErrOwnerHasPending
	}

	if err := s.client.Set(ctx, s.tokenKey(entry.Token), data, s.keyTTL); err != nil {
		// Release the claim so the owner is not locked out until the key TTL.
		_ = s.client.DelIfEqual(ctx, s.ownerKey(entry.OwnerID), entry.Token)
		return fmt.Errorf("failed to store pending entry: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByOwner(ctx context.Context, ownerID string) (*transfer.PendingEntry, error) {
	token, err := s.client.Get(ctx, s.ownerKey(ownerID))
	if errors.Is(err, errKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry, err := s.FindByToken(ctx, string(token))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Token was consumed between the two reads or the claim is orphaned.
		_ = s.client.DelIfEqual(ctx, s.ownerKey(ownerID), string(token))
		return nil, nil
	}
	return entry, nil
}

func (s *RedisStore) FindByToken(ctx context.Context, token string) (*transfer.PendingEntry, error) {
	data, err := s.client.Get(ctx, s.tokenKey(token))
	if errors.Is(err, errKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

// Take deletes the entry with GETDEL; of several concurrent callers only
// one receives it.
func (s *RedisStore) Take(ctx context.Context, token string) (*transfer.PendingEntry, error) {
	data, err := s.client.GetDel(ctx, s.tokenKey(token))
	if errors.Is(err, errKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	if err := s.client.DelIfEqual(ctx, s.ownerKey(entry.OwnerID), token); err != nil {
		// FindByOwner clears the orphaned claim on its next read.
		logger.Warn("failed to release owner key", "owner", entry.OwnerID, "error", err)
	}
	return entry, nil
}

func decodeEntry(data []byte) (*transfer.PendingEntry, error) {
	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode pending entry: %w", err)
	}
	entry := transfer.PendingEntry(e)
	return &entry, nil
}
