package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

const (
	defaultKeyPrefix = "session:"
	defaultTTL       = 2 * time.Hour
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// SessionCache keeps session snapshots in redis as JSON under "session:<id>".
type SessionCache struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewSessionCache(log *logger.Logger, cfg Config) (*SessionCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SessionCache{
		log:    log.With("service", "RedisSessionCache"),
		rdb:    rdb,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
	}, nil
}

func (c *SessionCache) key(id string) string { return c.prefix + id }

// Get returns (nil, nil) on a cache miss.
func (c *SessionCache) Get(ctx context.Context, id string) (*analysis.Session, error) {
	if c == nil || c.rdb == nil {
		return nil, fmt.Errorf("redis session cache not initialized")
	}
	raw, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s analysis.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt entry behaves like a miss; the durable tier refills it.
		c.log.Warn("Dropping undecodable cached session", "session_id", id, "error", err)
		_ = c.rdb.Del(ctx, c.key(id)).Err()
		return nil, nil
	}
	return &s, nil
}

// Set stores s for ttl, or for the cache default when ttl is not positive.
func (c *SessionCache) Set(ctx context.Context, s *analysis.Session, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("redis session cache not initialized")
	}
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id required")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.rdb.Set(ctx, c.key(s.ID), raw, ttl).Err()
}

func (c *SessionCache) Delete(ctx context.Context, id string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.key(id)).Err()
}

func (c *SessionCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *SessionCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
