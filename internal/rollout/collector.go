// Package rollout runs batches of episodes in parallel and collects their
// outcomes.
package rollout

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/config"
	"github.com/pagegym/pagegym/internal/env"
)

// Policy chooses the next action given the current observation.
type Policy interface {
	NextAction(ctx context.Context, observation schemas.Observation) (schemas.Action, error)
}

// Job identifies one episode to run.
type Job struct {
	TaskID string
	Seed   int64
}

// Result is the outcome of one episode.
type Result struct {
	TaskID     string  `json:"task_id"`
	Seed       int64   `json:"seed"`
	EpisodeID  string  `json:"episode_id"`
	Steps      int     `json:"steps"`
	Reward     float64 `json:"reward"`
	Terminated bool    `json:"terminated"`
	Truncated  bool    `json:"truncated"`
	Error      string  `json:"error,omitempty"`
}

// EnvFactory builds a fresh environment for one worker. Environments are
// single-episode-at-a-time, so each concurrent job gets its own.
type EnvFactory func() (*env.Env, error)

// Collector fans episodes out over a bounded worker pool.
type Collector struct {
	logger      *zap.Logger
	factory     EnvFactory
	concurrency int64
}

// NewCollector builds a collector with the configured concurrency.
func NewCollector(cfg *config.Config, logger *zap.Logger, factory EnvFactory) *Collector {
	concurrency := int64(cfg.Rollout.Concurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Collector{
		logger:      logger.Named("rollout"),
		factory:     factory,
		concurrency: concurrency,
	}
}

// Run executes every job, at most the configured number concurrently. A
// failed episode is recorded in its Result; only context cancellation aborts
// the batch.
func (c *Collector) Run(ctx context.Context, jobs []Job, policy Policy) ([]Result, error) {
	results := make([]Result, len(jobs))
	sem := semaphore.NewWeighted(c.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i, job := range jobs {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			results[i] = c.runEpisode(gctx, job, policy)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("rollout aborted: %w", err)
	}

	c.logger.Info("Rollout batch finished.", zap.Int("episodes", len(jobs)))
	return results, nil
}

// runEpisode drives one full episode under the policy.
func (c *Collector) runEpisode(ctx context.Context, job Job, policy Policy) Result {
	result := Result{TaskID: job.TaskID, Seed: job.Seed}
	log := c.logger.With(zap.String("task_id", job.TaskID), zap.Int64("seed", job.Seed))

	environment, err := c.factory()
	if err != nil {
		result.Error = fmt.Sprintf("environment construction failed: %v", err)
		return result
	}
	defer func() {
		if err := environment.Close(ctx); err != nil {
			log.Warn("Environment close failed.", zap.Error(err))
		}
	}()

	observation, _, err := environment.Reset(ctx, job.TaskID, job.Seed)
	if err != nil {
		result.Error = fmt.Sprintf("reset failed: %v", err)
		return result
	}
	result.EpisodeID = environment.EpisodeID()

	for {
		act, err := policy.NextAction(ctx, observation)
		if err != nil {
			result.Error = fmt.Sprintf("policy failed: %v", err)
			return result
		}

		step, err := environment.Step(ctx, act)
		if err != nil {
			result.Error = fmt.Sprintf("step failed: %v", err)
			return result
		}

		result.Steps++
		result.Reward += step.Reward
		observation = step.Observation

		if step.Terminated || step.Truncated {
			result.Terminated = step.Terminated
			result.Truncated = step.Truncated
			log.Debug("Episode complete.",
				zap.Int("steps", result.Steps),
				zap.Float64("reward", result.Reward))
			return result
		}
	}
}
