package override

import (
	"context"
	"encoding/json"
	"fmt"

	"qosd-go/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	RedisOverridePrefix = "qosd:override:"
	RedisOverrideSetKey = "qosd:overrides"
)

// Mirror persists overrides outside the process so they survive restarts.
type Mirror interface {
	Save(ctx context.Context, ov models.PersonaOverride) error
	LoadAll(ctx context.Context) ([]models.PersonaOverride, error)
	Clear(ctx context.Context) error
}

// RedisMirror keeps one JSON document per address plus an index set.
type RedisMirror struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisMirror creates a mirror backed by redisClient.
func NewRedisMirror(redisClient *redis.Client, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{
		redis:  redisClient,
		logger: logger,
	}
}

// Save writes one override.
func (m *RedisMirror) Save(ctx context.Context, ov models.PersonaOverride) error {
	data, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("failed to marshal override %s: %w", ov.IP, err)
	}

	pipe := m.redis.TxPipeline()
	pipe.Set(ctx, RedisOverridePrefix+ov.IP, data, 0)
	pipe.SAdd(ctx, RedisOverrideSetKey, ov.IP)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save override %s: %w", ov.IP, err)
	}
	return nil
}

// LoadAll returns every persisted override. Undecodable entries are
// skipped and logged.
func (m *RedisMirror) LoadAll(ctx context.Context) ([]models.PersonaOverride, error) {
	ips, err := m.redis.SMembers(ctx, RedisOverrideSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}

	overrides := make([]models.PersonaOverride, 0, len(ips))
	for _, ip := range ips {
		data, err := m.redis.Get(ctx, RedisOverridePrefix+ip).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load override %s: %w", ip, err)
		}

		var ov models.PersonaOverride
		if err := json.Unmarshal(data, &ov); err != nil {
			m.logger.Warn("Skipping undecodable override", zap.String("ip", ip), zap.Error(err))
			continue
		}
		overrides = append(overrides, ov)
	}
	return overrides, nil
}

// Clear removes every persisted override.
func (m *RedisMirror) Clear(ctx context.Context) error {
	ips, err := m.redis.SMembers(ctx, RedisOverrideSetKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list overrides: %w", err)
	}

	pipe := m.redis.TxPipeline()
	for _, ip := range ips {
		pipe.Del(ctx, RedisOverridePrefix+ip)
	}
	pipe.Del(ctx, RedisOverrideSetKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear overrides: %w", err)
	}
	return nil
}
