package keyValue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Value struct {
	value   string
	expires time.Time
}

// Store keeps short lived values either in redis or, when no redis client
// is given, in a local hashmap that is swept every minute.
type Store struct {
	mutex   sync.RWMutex
	hashmap map[string]Value

	sugar       *zap.SugaredLogger
	redisClient *redis.Client
}

func New(sugar *zap.SugaredLogger, redisClient *redis.Client) *Store {
	return &Store{
		hashmap:     make(map[string]Value),
		sugar:       sugar,
		redisClient: redisClient,
	}
}

func (s *Store) local() bool {
	return s.redisClient == nil
}

// Run sweeps expired local keys until ctx is done. It returns at once in redis mode.
func (s *Store) Run(ctx context.Context) {
	if !s.local() {
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for key, v := range s.hashmap {
		if v.expires.Before(now) {
			delete(s.hashmap, key)
		}
	}
}

// Get returns "" for missing keys.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.local() {
		s.sugar.Debugf("Getting value of key [%s] from hashmap", key)

		s.mutex.RLock()
		defer s.mutex.RUnlock()

		v, ok := s.hashmap[key]
		if !ok || v.expires.Before(time.Now()) {
			return "", nil
		}
		return v.value, nil
	}

	s.sugar.Debugf("Getting value of key [%s] from redis", key)

	value, err := s.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value string, expires time.Duration) error {
	if s.local() {
		s.sugar.Debugf("Setting value of key [%s] in hashmap", key)

		s.mutex.Lock()
		defer s.mutex.Unlock()

		s.hashmap[key] = Value{value, time.Now().Add(expires)}
		return nil
	}

	s.sugar.Debugf("Setting value of key [%s] in redis", key)
	return s.redisClient.Set(ctx, key, value, expires).Err()
}

// SetIfAbsent stores the value only if key is not set yet and reports whether it did.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value string, expires time.Duration) (bool, error) {
	if s.local() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if v, ok := s.hashmap[key]; ok && !v.expires.Before(time.Now()) {
			return false, nil
		}
		s.hashmap[key] = Value{value, time.Now().Add(expires)}
		return true, nil
	}

	return s.redisClient.SetNX(ctx, key, value, expires).Result()
}

func (s *Store) Del(ctx context.Context, key string) error {
	if s.local() {
		s.sugar.Debugf("Deleting key [%s] from hashmap", key)

		s.mutex.Lock()
		defer s.mutex.Unlock()

		delete(s.hashmap, key)
		return nil
	}

	s.sugar.Debugf("Deleting key [%s] from redis", key)
	return s.redisClient.Del(ctx, key).Err()
}
