package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hit123esh/Smart-Tourist-Safety/configs"
	"github.com/hit123esh/Smart-Tourist-Safety/internal/models"
)

// retrainLockKey serializes retraining across service instances.
const retrainLockKey = "anomaly:retrain:lock"

// CacheClient caches per-tourist analysis results and holds the retrain
// lock. The cache is optional; a nil client disables caching.
type CacheClient struct {
	client         *redis.Client
	resultTTL      time.Duration
	retrainLockTTL time.Duration
}

// NewCacheClient connects to Redis. Returns an error when the URL is
// unreachable; callers may run without a cache.
func NewCacheClient(cfg configs.RedisConfig) (*CacheClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("Redis cache client initialized")
	return &CacheClient{
		client:         client,
		resultTTL:      cfg.ResultTTL,
		retrainLockTTL: cfg.RetrainLockTTL,
	}, nil
}

// Close closes the Redis connection.
func (c *CacheClient) Close() error {
	return c.client.Close()
}

// SetAnalysisResult caches the latest fusion result for a tourist.
func (c *CacheClient) SetAnalysisResult(ctx context.Context, touristID string, result *models.FusionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("anomaly:result:%s", touristID)
	return c.client.Set(ctx, key, data, c.resultTTL).Err()
}

// GetAnalysisResult returns the cached fusion result for a tourist, or nil
// when none is cached.
func (c *CacheClient) GetAnalysisResult(ctx context.Context, touristID string) (*models.FusionResult, error) {
	key := fmt.Sprintf("anomaly:result:%s", touristID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var result models.FusionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AcquireRetrainLock takes the cluster-wide retraining lock. Returns false
// when another instance is already retraining.
func (c *CacheClient) AcquireRetrainLock(ctx context.Context) (bool, error) {
	return c.client.SetNX(ctx, retrainLockKey, time.Now().UTC().Format(time.RFC3339), c.retrainLockTTL).Result()
}

// ReleaseRetrainLock releases the retraining lock.
func (c *CacheClient) ReleaseRetrainLock(ctx context.Context) error {
	return c.client.Del(ctx, retrainLockKey).Err()
}
