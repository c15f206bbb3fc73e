package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	st, err := NewPostgresStore(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return st, mock
}

func TestNewPostgresStorePingFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	_, err = NewPostgresStore(context.Background(), mock, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestBeginEpisode(t *testing.T) {
	st, mock := newMockStore(t)
	rec := schemas.EpisodeRecord{
		EpisodeID: uuid.NewString(),
		TaskID:    "click-button",
		Seed:      42,
		StartedAt: time.Now().UTC(),
	}

	mock.ExpectExec(flexibleSQLMatcher(`INSERT INTO episodes`)).
		WithArgs(rec.EpisodeID, rec.TaskID, rec.Seed, rec.StartedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.BeginEpisode(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStepCommitsTransaction(t *testing.T) {
	st, mock := newMockStore(t)
	rec := schemas.StepRecord{
		EpisodeID:  uuid.NewString(),
		Step:       3,
		Action:     `click(7)`,
		Reward:     1,
		Terminated: true,
		URL:        "https://example.test",
		Info:       schemas.Info{"task.checked": true},
		RecordedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(flexibleSQLMatcher(`INSERT INTO episode_steps`)).
		WithArgs(rec.EpisodeID, rec.Step, rec.Action, rec.Reward,
			rec.Terminated, rec.Truncated, rec.URL, pgxmock.AnyArg(), rec.RecordedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// The deferred rollback after a successful commit returns ErrTxClosed.
	mock.ExpectCommit()
	mock.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, st.RecordStep(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStepRollsBackOnFailure(t *testing.T) {
	st, mock := newMockStore(t)
	rec := schemas.StepRecord{EpisodeID: uuid.NewString(), Step: 1, Action: "noop", RecordedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(flexibleSQLMatcher(`INSERT INTO episode_steps`)).
		WithArgs(rec.EpisodeID, rec.Step, rec.Action, rec.Reward,
			rec.Terminated, rec.Truncated, rec.URL, pgxmock.AnyArg(), rec.RecordedAt).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := st.RecordStep(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert step")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishEpisode(t *testing.T) {
	st, mock := newMockStore(t)
	sum := schemas.EpisodeSummary{
		EpisodeID:        uuid.NewString(),
		Steps:            9,
		CumulativeReward: 1,
		Terminated:       true,
		FinishedAt:       time.Now().UTC(),
	}

	mock.ExpectExec(flexibleSQLMatcher(`UPDATE episodes`)).
		WithArgs(sum.EpisodeID, sum.Steps, sum.CumulativeReward, sum.Terminated, sum.Truncated, sum.FinishedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.FinishEpisode(context.Background(), sum))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishEpisodeUnknownID(t *testing.T) {
	st, mock := newMockStore(t)
	sum := schemas.EpisodeSummary{EpisodeID: uuid.NewString(), FinishedAt: time.Now()}

	mock.ExpectExec(flexibleSQLMatcher(`UPDATE episodes`)).
		WithArgs(sum.EpisodeID, sum.Steps, sum.CumulativeReward, sum.Terminated, sum.Truncated, sum.FinishedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.FinishEpisode(context.Background(), sum)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEnsureSchema(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(flexibleSQLMatcher(`CREATE TABLE IF NOT EXISTS episodes`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, st.EnsureSchema(context.Background()))
}
