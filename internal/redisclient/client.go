// Package redisclient shares the compiled artifact between instances through
// Redis.
package redisclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/user00265/ctydna/internal/config"
)

// Client holds the Redis client instance.
type Client struct {
	*redis.Client
}

// NewClient connects to Redis. A disabled configuration yields a nil client
// and no error.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis host must be specified when Redis is enabled")
	}

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	options := &redis.Options{
		Addr:         addr,
		Username:     cfg.User,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	}
	if cfg.UseTLS {
		options.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	}

	rdb := NewRedisClient(options)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Client{rdb}, nil
}

// NewRedisClient is a variable wrapper around redis.NewClient so tests can override it.
var NewRedisClient = func(opt *redis.Options) *redis.Client {
	return redis.NewClient(opt)
}

// PublishArtifact stores the artifact JSON under key. A zero ttl keeps it
// until replaced.
func (c *Client) PublishArtifact(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := c.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish artifact to %s: %w", key, err)
	}
	return nil
}

// FetchArtifact returns the artifact JSON stored under key. A missing key
// reports ok=false without an error.
func (c *Client) FetchArtifact(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch artifact from %s: %w", key, err)
	}
	return data, true, nil
}
