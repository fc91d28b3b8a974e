package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"narrator-server/internal/models"
)

// ResponseKey identifies one expected answer slot: a request paired with
// a target player.
type ResponseKey struct {
	RequestID uuid.UUID
	PlayerID  uuid.UUID
}

// ResponseMailbox is the drop box players write answers into while the
// turn orchestrator polls for them. The first answer per slot wins;
// later writes to the same slot are ignored.
type ResponseMailbox interface {
	// Submit stores a response. It returns false when the slot was
	// already filled.
	Submit(ctx context.Context, gameID string, turnNumber int, resp *models.RequestResponse) (bool, error)
	// Fetch returns the responses present for the given slots, in slot
	// order. Empty slots are skipped.
	Fetch(ctx context.Context, gameID string, turnNumber int, keys []ResponseKey) ([]models.RequestResponse, error)
	// Clear removes the slots after collection finished.
	Clear(ctx context.Context, gameID string, turnNumber int, keys []ResponseKey) error
}

var _ ResponseMailbox = (*redisResponseMailbox)(nil)

type redisResponseMailbox struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisResponseMailbox creates a Redis-backed ResponseMailbox.
func NewRedisResponseMailbox(client *redis.Client, ttl time.Duration, logger *zap.Logger) ResponseMailbox {
	return &redisResponseMailbox{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisResponseMailbox"),
	}
}

func responseKey(gameID string, turnNumber int, requestID, playerID uuid.UUID) string {
	return fmt.Sprintf("resp:%s:%d:%s:%s", gameID, turnNumber, requestID, playerID)
}

func (m *redisResponseMailbox) Submit(ctx context.Context, gameID string, turnNumber int, resp *models.RequestResponse) (bool, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return false, fmt.Errorf("failed to marshal response: %w", err)
	}

	key := responseKey(gameID, turnNumber, resp.RequestID, resp.PlayerID)
	created, err := m.client.SetNX(ctx, key, data, m.ttl).Result()
	if err != nil {
		m.logger.Error("Failed to submit response", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("failed to submit response: %w", err)
	}
	if !created {
		m.logger.Debug("Duplicate response ignored", zap.String("key", key))
	}
	return created, nil
}

func (m *redisResponseMailbox) Fetch(ctx context.Context, gameID string, turnNumber int, keys []ResponseKey) ([]models.RequestResponse, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = responseKey(gameID, turnNumber, k.RequestID, k.PlayerID)
	}

	values, err := m.client.MGet(ctx, redisKeys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to fetch responses: %w", err)
	}

	responses := make([]models.RequestResponse, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var resp models.RequestResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			m.logger.Warn("Skipping malformed stored response",
				zap.String("key", redisKeys[i]), zap.Error(err))
			continue
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

func (m *redisResponseMailbox) Clear(ctx context.Context, gameID string, turnNumber int, keys []ResponseKey) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = responseKey(gameID, turnNumber, k.RequestID, k.PlayerID)
	}
	if err := m.client.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("failed to clear responses: %w", err)
	}
	return nil
}
