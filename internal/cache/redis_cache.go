package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"salesboard/internal/domain"
)

type RedisBoardCache struct {
	client *redis.Client
	key    string
	genKey string
}

type taggedBoard struct {
	Generation int64                `json:"generation"`
	Board      domain.PipelineBoard `json:"board"`
}

func NewRedisBoardCache(addr string, password string, db int) *RedisBoardCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisBoardCache{client: client, key: BoardKey, genKey: BoardGenerationKey}
}

func (c *RedisBoardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisBoardCache) Close() error {
	return c.client.Close()
}

// Get reads the entry and the current generation in one round trip and
// treats an entry from an older generation as a miss.
func (c *RedisBoardCache) Get(ctx context.Context) (*domain.PipelineBoard, bool, error) {
	vals, err := c.client.MGet(ctx, c.key, c.genKey).Result()
	if err != nil {
		return nil, false, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, false, nil
	}
	current, err := parseGeneration(vals[1])
	if err != nil {
		return nil, false, err
	}

	var entry taggedBoard
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, err
	}
	if entry.Generation != current {
		return nil, false, nil
	}
	return &entry.Board, true, nil
}

func (c *RedisBoardCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisBoardCache) Set(ctx context.Context, board *domain.PipelineBoard, generation int64, ttl time.Duration) error {
	if board == nil {
		return nil
	}
	payload, err := json.Marshal(taggedBoard{Generation: generation, Board: *board})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, payload, ttl).Err()
}

func (c *RedisBoardCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	return err
}

func parseGeneration(v interface{}) (int64, error) {
	switch raw := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(raw, 10, 64)
	default:
		return 0, errors.New("unexpected generation value")
	}
}
