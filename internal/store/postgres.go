// Package store persists episode trajectories. Backends: PostgreSQL for
// durable storage, Redis for lightweight collection, or none.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the durable episode store.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.EpisodeStore = (*PostgresStore)(nil)

// NewPostgresStore verifies connectivity and returns the store.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("store")}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS episodes (
    episode_id        TEXT PRIMARY KEY,
    task_id           TEXT NOT NULL,
    seed              BIGINT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    steps             INTEGER,
    cumulative_reward DOUBLE PRECISION,
    terminated        BOOLEAN,
    truncated         BOOLEAN,
    finished_at       TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS episode_steps (
    episode_id  TEXT NOT NULL REFERENCES episodes(episode_id),
    step        INTEGER NOT NULL,
    action      TEXT NOT NULL,
    reward      DOUBLE PRECISION NOT NULL,
    terminated  BOOLEAN NOT NULL,
    truncated   BOOLEAN NOT NULL,
    url         TEXT,
    info        JSONB,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (episode_id, step)
);`

// EnsureSchema creates the episode tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create episode schema: %w", err)
	}
	return nil
}

// BeginEpisode inserts the episode header row.
func (s *PostgresStore) BeginEpisode(ctx context.Context, rec schemas.EpisodeRecord) error {
	const query = `
        INSERT INTO episodes (episode_id, task_id, seed, started_at)
        VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, rec.EpisodeID, rec.TaskID, rec.Seed, rec.StartedAt); err != nil {
		return fmt.Errorf("failed to insert episode %s: %w", rec.EpisodeID, err)
	}
	return nil
}

// RecordStep appends one step row inside a transaction.
func (s *PostgresStore) RecordStep(ctx context.Context, rec schemas.StepRecord) error {
	infoJSON, err := json.Marshal(rec.Info)
	if err != nil {
		return fmt.Errorf("failed to marshal step info: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const query = `
        INSERT INTO episode_steps (episode_id, step, action, reward, terminated, truncated, url, info, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.Exec(ctx, query,
		rec.EpisodeID, rec.Step, rec.Action, rec.Reward,
		rec.Terminated, rec.Truncated, rec.URL, infoJSON, rec.RecordedAt,
	); err != nil {
		return fmt.Errorf("failed to insert step %d of episode %s: %w", rec.Step, rec.EpisodeID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FinishEpisode writes the episode summary onto its header row.
func (s *PostgresStore) FinishEpisode(ctx context.Context, sum schemas.EpisodeSummary) error {
	const query = `
        UPDATE episodes
        SET steps = $2, cumulative_reward = $3, terminated = $4, truncated = $5, finished_at = $6
        WHERE episode_id = $1`
	tag, err := s.pool.Exec(ctx, query,
		sum.EpisodeID, sum.Steps, sum.CumulativeReward, sum.Terminated, sum.Truncated, sum.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish episode %s: %w", sum.EpisodeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("episode %s not found", sum.EpisodeID)
	}
	return nil
}
