package ratelimit

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyChargeMember = "morada:ratelimit:charge:%s"

// ChargeLimiter throttles interactive charge requests per member so a
// misbehaving client cannot hammer the provider API through our endpoint.
// A nil limiter allows everything, which is the single-instance default.
type ChargeLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewChargeLimiter(cfg config.Config) *ChargeLimiter {
	if !cfg.RateLimit.Enabled || cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return &ChargeLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.ChargeRate,
		burst:  cfg.RateLimit.ChargeBurst,
	}
}

func (l *ChargeLimiter) AllowMember(ctx context.Context, memberID snowflake.ID) (*Result, error) {
	if l == nil {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyChargeMember, memberID), l.rate, l.burst)
}
