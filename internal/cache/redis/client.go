package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/retry"
)

const (
	answerPrefix    = "answer:"
	embeddingPrefix = "embedding:"
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// AnswerTTL bounds how long a cached answer is served.
	AnswerTTL    time.Duration
	EmbeddingTTL time.Duration
	Retry        retry.Config
}

// Client caches answers and embeddings. Answer keys embed the store
// generation, so a new upload or a clear makes older entries unreachable.
type Client struct {
	client       *redis.Client
	answerTTL    time.Duration
	embeddingTTL time.Duration
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(ctx, cfg.Retry, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{
		client:       client,
		answerTTL:    cfg.AnswerTTL,
		embeddingTTL: cfg.EmbeddingTTL,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetAnswer(ctx context.Context, key string, answer interface{}) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	if err := c.client.Set(ctx, answerPrefix+key, data, c.answerTTL).Err(); err != nil {
		return fmt.Errorf("failed to set answer cache: %w", err)
	}

	logger.Debug("Answer cached", zap.String("key", key), zap.Duration("ttl", c.answerTTL))
	return nil
}

func (c *Client) GetAnswer(ctx context.Context, key string, answer interface{}) (bool, error) {
	data, err := c.client.Get(ctx, answerPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get answer cache: %w", err)
	}

	if err := json.Unmarshal(data, answer); err != nil {
		return false, fmt.Errorf("failed to unmarshal answer: %w", err)
	}

	logger.Debug("Answer cache hit", zap.String("key", key))
	return true, nil
}

func (c *Client) SetEmbedding(ctx context.Context, key string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, embeddingPrefix+key, data, c.embeddingTTL).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return embedding, true, nil
}

// InvalidateAnswers deletes every cached answer.
func (c *Client) InvalidateAnswers(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, answerPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Answer cache invalidated")
	return nil
}
