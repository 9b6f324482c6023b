// Package redisstore backs the store contract with Redis. SET-with-EX, GET,
// and DEL are each one atomic server round trip, which is the whole
// concurrency story for this subsystem.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EnvAddr     = "HANDOFF_REDIS_ADDR"
	EnvPassword = "HANDOFF_REDIS_PASSWORD"
	EnvDB       = "HANDOFF_REDIS_DB"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// ConfigFromEnv loads Redis settings from HANDOFF_REDIS_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Addr:     strings.TrimSpace(os.Getenv(EnvAddr)),
		Password: os.Getenv(EnvPassword),
	}
	if raw := strings.TrimSpace(os.Getenv(EnvDB)); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvDB, err)
		}
		cfg.DB = db
	}
	return cfg, cfg.Validate()
}

// Validate enforces connection config invariants.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db must be >=0")
	}
	return nil
}

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store adapts a Redis client to the shared store contract.
type Store struct {
	client redisClient
}

// New dials Redis from config.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client redisClient) *Store {
	return &Store{client: client}
}

// Set writes value under key with TTL in one SET EX round trip.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get reads the value under key; an absent or expired key returns ok=false.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, true, nil
}

// Close releases the underlying connection pool when the store owns one.
func (s *Store) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
