package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/moradacoop/morada/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *ChargeLimiter
	res, err := l.AllowMember(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewChargeLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewChargeLimiter(config.Config{}))

	// enabled but no redis still degrades to nil
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ChargeRate: 1, ChargeBurst: 5}}
	assert.Nil(t, NewChargeLimiter(cfg))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, bucketTTL(1, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestAllowRejectsBadInput(t *testing.T) {
	bucket := &TokenBucket{}
	_, err := bucket.Allow(context.Background(), "key", 1, 1)
	assert.Error(t, err, "bucket without a client is unusable")

	var nilBucket *TokenBucket
	_, err = nilBucket.Allow(context.Background(), "key", 1, 1)
	assert.Error(t, err)
}
