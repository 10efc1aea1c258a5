package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshTokenStore guarda el jti de cada refresh token vigente junto al
// usuario que lo recibio. Consume es de un solo uso: dos refresh en paralelo
// con el mismo token no pueden rotar los dos.
type RefreshTokenStore interface {
	Store(jti, userID string, ttl time.Duration) error
	Consume(jti string) (userID string, err error)
	Revoke(jti string) error
}

var ErrRefreshTokenUnknown = errors.New("refresh token unknown")

const (
	refreshKeyPrefix  = "relay:refresh:"
	defaultRefreshTTL = 30 * 24 * time.Hour
	redisStoreTimeout = 500 * time.Millisecond
)

type memoryRefreshEntry struct {
	userID    string
	expiresAt time.Time
}

type memoryRefreshTokenStore struct {
	mu    sync.Mutex
	items map[string]memoryRefreshEntry
	now   func() time.Time
}

func NewMemoryRefreshTokenStore() RefreshTokenStore {
	return &memoryRefreshTokenStore{
		items: make(map[string]memoryRefreshEntry),
		now:   time.Now,
	}
}

func (s *memoryRefreshTokenStore) Store(jti, userID string, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[jti] = memoryRefreshEntry{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *memoryRefreshTokenStore) Consume(jti string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[strings.TrimSpace(jti)]
	if !ok {
		return "", ErrRefreshTokenUnknown
	}
	delete(s.items, strings.TrimSpace(jti))
	if s.now().After(entry.expiresAt) {
		return "", ErrRefreshTokenUnknown
	}
	return entry.userID, nil
}

func (s *memoryRefreshTokenStore) Revoke(jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, strings.TrimSpace(jti))
	return nil
}

type redisRefreshClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// redisRefreshTokenStore comparte los jti entre instancias del relay; GETDEL
// hace atomica la rotacion.
type redisRefreshTokenStore struct {
	client redisRefreshClient
}

func NewRedisRefreshTokenStore(client *redis.Client) RefreshTokenStore {
	if client == nil {
		return nil
	}
	return &redisRefreshTokenStore{client: client}
}

func (s *redisRefreshTokenStore) Store(jti, userID string, ttl time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisStoreTimeout)
	defer cancel()
	return s.client.Set(ctx, refreshKeyPrefix+jti, userID, ttl).Err()
}

func (s *redisRefreshTokenStore) Consume(jti string) (string, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return "", ErrRefreshTokenUnknown
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisStoreTimeout)
	defer cancel()
	userID, err := s.client.GetDel(ctx, refreshKeyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRefreshTokenUnknown
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *redisRefreshTokenStore) Revoke(jti string) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisStoreTimeout)
	defer cancel()
	return s.client.Del(ctx, refreshKeyPrefix+jti).Err()
}
