package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"narrator-server/internal/models"
)

// GameRepository persists games as JSON documents keyed by ID, with a
// secondary join-code index for lobby discovery.
type GameRepository interface {
	Create(ctx context.Context, game *models.Game) error
	Get(ctx context.Context, gameID string) (*models.Game, error)
	GetByJoinCode(ctx context.Context, joinCode string) (*models.Game, error)
	Save(ctx context.Context, game *models.Game) error
	AppendTurn(ctx context.Context, gameID string, turn *models.GameTurn) (*models.Game, error)
}

// Compile-time check.
var _ GameRepository = (*redisGameRepository)(nil)

type redisGameRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGameRepository creates a Redis-backed GameRepository.
func NewRedisGameRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) GameRepository {
	return &redisGameRepository{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisGameRepo"),
	}
}

func gameKey(gameID string) string {
	return fmt.Sprintf("game:%s", gameID)
}

func joinCodeKey(code string) string {
	return fmt.Sprintf("joincode:%s", code)
}

func (r *redisGameRepository) Create(ctx context.Context, game *models.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to marshal game: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, gameKey(game.ID.String()), data, r.ttl)
	pipe.Set(ctx, joinCodeKey(game.JoinCode), game.ID.String(), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to create game in redis", zap.Error(err), zap.String("game_id", game.ID.String()))
		return fmt.Errorf("failed to create game: %w", err)
	}

	r.logger.Info("Game created",
		zap.String("game_id", game.ID.String()),
		zap.String("join_code", game.JoinCode))
	return nil
}

func (r *redisGameRepository) Get(ctx context.Context, gameID string) (*models.Game, error) {
	data, err := r.client.Get(ctx, gameKey(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrGameNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get game from redis", zap.Error(err), zap.String("game_id", gameID))
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	var game models.Game
	if err := json.Unmarshal(data, &game); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game %s: %w", gameID, err)
	}
	return &game, nil
}

func (r *redisGameRepository) GetByJoinCode(ctx context.Context, joinCode string) (*models.Game, error) {
	gameID, err := r.client.Get(ctx, joinCodeKey(joinCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve join code: %w", err)
	}
	return r.Get(ctx, gameID)
}

func (r *redisGameRepository) Save(ctx context.Context, game *models.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("failed to marshal game: %w", err)
	}
	if err := r.client.Set(ctx, gameKey(game.ID.String()), data, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save game in redis", zap.Error(err), zap.String("game_id", game.ID.String()))
		return fmt.Errorf("failed to save game: %w", err)
	}
	return nil
}

// AppendTurn loads the game, appends the finished turn and saves the
// updated document. It returns the saved game.
func (r *redisGameRepository) AppendTurn(ctx context.Context, gameID string, turn *models.GameTurn) (*models.Game, error) {
	game, err := r.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}

	game.Turns = append(game.Turns, *turn)
	lastTurnAt := turn.CreatedAt
	game.LastTurnAt = &lastTurnAt
	if game.Status == models.GameStatusLobby {
		game.Status = models.GameStatusPlaying
	}

	if err := r.Save(ctx, game); err != nil {
		return nil, err
	}

	r.logger.Info("Turn appended",
		zap.String("game_id", gameID),
		zap.Int("turn_number", turn.Number))
	return game, nil
}
