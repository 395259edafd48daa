package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"etf-trend-bot/internal/models"

	"github.com/go-redis/redis/v8"
)

const redisTimeout = 5 * time.Second

// redisRepository keeps the state document as a single string value.
type redisRepository struct {
	rdb *redis.Client
	key string
}

// NewRedisRepository connects and pings the server so a bad address fails at start-up.
func NewRedisRepository(cfg models.RedisConfig) (StateRepository, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &redisRepository{rdb: rdb, key: cfg.Key}, nil
}

func (r *redisRepository) SaveState(state *models.PersistentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return r.rdb.Set(ctx, r.key, data, 0).Err()
}

// LoadState returns (nil, nil) when the key does not exist.
func (r *redisRepository) LoadState() (*models.PersistentState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state models.PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.key, err)
	}
	state.Normalize()
	return &state, nil
}

func (r *redisRepository) Close() error {
	return r.rdb.Close()
}
