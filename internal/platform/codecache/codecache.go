package codecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
)

// Kind namespaces codes so a verification code can never redeem a password
// reset and vice versa.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
)

// Cache stores single-use codes in redis, keyed "<kind>:<code>" with the
// owning username as value. Codes expire on their own; redemption deletes
// them explicitly.
type Cache struct {
	rdb *goredis.Client
	log *logger.Logger
	ttl map[Kind]time.Duration
}

func NewCache(rdb *goredis.Client, log *logger.Logger, verificationTTL, passwordResetTTL time.Duration) (*Cache, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &Cache{
		rdb: rdb,
		log: log.With("service", "CodeCache"),
		ttl: map[Kind]time.Duration{
			KindVerification:  verificationTTL,
			KindPasswordReset: passwordResetTTL,
		},
	}, nil
}

func key(kind Kind, code string) string {
	return string(kind) + ":" + code
}

func (c *Cache) Put(ctx context.Context, kind Kind, code, username string) error {
	ttl, ok := c.ttl[kind]
	if !ok {
		return apierr.Internal("CODE_KIND_UNKNOWN", fmt.Errorf("unknown code kind %q", kind))
	}
	if code == "" || username == "" {
		return apierr.Internal("CODE_EMPTY", fmt.Errorf("empty code or username"))
	}
	if err := c.rdb.Set(ctx, key(kind, code), username, ttl).Err(); err != nil {
		return apierr.Upstream("CODE_CACHE_WRITE", fmt.Errorf("set code: %w", err))
	}
	return nil
}

// Lookup resolves a code to its username. A missing or expired code returns
// ok=false with a nil error.
func (c *Cache) Lookup(ctx context.Context, kind Kind, code string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key(kind, code)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, apierr.Upstream("CODE_CACHE_READ", fmt.Errorf("get code: %w", err))
	}
	return val, true, nil
}

func (c *Cache) Delete(ctx context.Context, kind Kind, code string) error {
	if err := c.rdb.Del(ctx, key(kind, code)).Err(); err != nil {
		return apierr.Upstream("CODE_CACHE_DELETE", fmt.Errorf("del code: %w", err))
	}
	return nil
}

// Redeem looks a code up and burns it in one step.
func (c *Cache) Redeem(ctx context.Context, kind Kind, code string) (string, bool, error) {
	username, ok, err := c.Lookup(ctx, kind, code)
	if err != nil || !ok {
		return "", ok, err
	}
	if err := c.Delete(ctx, kind, code); err != nil {
		return "", false, err
	}
	return username, true, nil
}
