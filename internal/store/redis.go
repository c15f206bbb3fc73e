package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
)

// episodeTTL bounds how long collected trajectories linger in Redis.
const episodeTTL = 7 * 24 * time.Hour

// RedisStore keeps trajectories in Redis: a JSON header per episode plus a
// list of step payloads. Suited to short-lived collection runs.
type RedisStore struct {
	client redis.Cmdable
	log    *zap.Logger
}

var _ schemas.EpisodeStore = (*RedisStore)(nil)

// NewRedisStore verifies connectivity and returns the store.
func NewRedisStore(ctx context.Context, client redis.Cmdable, logger *zap.Logger) (*RedisStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client, log: logger.Named("store")}, nil
}

func episodeKey(id string) string { return "pagegym:episode:" + id }
func stepsKey(id string) string   { return "pagegym:episode:" + id + ":steps" }

// BeginEpisode writes the episode header.
func (s *RedisStore) BeginEpisode(ctx context.Context, rec schemas.EpisodeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal episode record: %w", err)
	}
	if err := s.client.Set(ctx, episodeKey(rec.EpisodeID), payload, episodeTTL).Err(); err != nil {
		return fmt.Errorf("failed to write episode %s: %w", rec.EpisodeID, err)
	}
	return nil
}

// RecordStep appends the step payload to the episode's step list.
func (s *RedisStore) RecordStep(ctx context.Context, rec schemas.StepRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, stepsKey(rec.EpisodeID), payload)
	pipe.Expire(ctx, stepsKey(rec.EpisodeID), episodeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append step %d of episode %s: %w", rec.Step, rec.EpisodeID, err)
	}
	return nil
}

// FinishEpisode stores the summary next to the header.
func (s *RedisStore) FinishEpisode(ctx context.Context, sum schemas.EpisodeSummary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("failed to marshal episode summary: %w", err)
	}
	key := episodeKey(sum.EpisodeID) + ":summary"
	if err := s.client.Set(ctx, key, payload, episodeTTL).Err(); err != nil {
		return fmt.Errorf("failed to write summary for episode %s: %w", sum.EpisodeID, err)
	}
	return nil
}
