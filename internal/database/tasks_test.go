package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/tierd/internal/queue"
)

var taskRowColumns = []string{
	"id", "file_key", "source", "destination", "slot", "status", "attempts",
	"reason", "last_error", "created_at", "started_at", "completed_at",
}

func newTaskStore(t *testing.T) (*TaskStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	pg, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewTaskStore(pg)
	s.now = func() time.Time { return now }
	return s, mock, now
}

func TestTaskStore_Enqueue(t *testing.T) {
	t.Run("inserts new task", func(t *testing.T) {
		s, mock, _ := newTaskStore(t)
		task := queue.NewTask("a.bin", "local", "s3", 0)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO migration_tasks")).
			WithArgs(task.ID, "a.bin", "local", "s3", 0, "queued", task.CreatedAt).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(task.ID))

		got, err := s.Enqueue(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, queue.StatusQueued, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict returns the active task", func(t *testing.T) {
		s, mock, now := newTaskStore(t)
		task := queue.NewTask("a.bin", "local", "s3", 0)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO migration_tasks")).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE file_key = $1 AND status IN")).
			WithArgs("a.bin").
			WillReturnRows(sqlmock.NewRows(taskRowColumns).
				AddRow("existing", "a.bin", "local", "gcs", 0, "in_progress", 0, nil, nil, now, now, nil))

		_, err := s.Enqueue(context.Background(), task)
		require.Error(t, err)
		assert.True(t, errors.Is(err, queue.ErrActiveTask))

		var active *queue.ActiveTaskError
		require.True(t, errors.As(err, &active))
		assert.Equal(t, "existing", active.Existing.ID)
		assert.Equal(t, queue.StatusInProgress, active.Existing.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-queued status", func(t *testing.T) {
		s, _, _ := newTaskStore(t)
		task := queue.NewTask("a.bin", "local", "s3", 0)
		task.Status = queue.StatusSucceeded

		_, err := s.Enqueue(context.Background(), task)
		assert.ErrorIs(t, err, queue.ErrInvalidTransition)
	})
}

func TestTaskStore_Claim(t *testing.T) {
	t.Run("claims oldest queued task", func(t *testing.T) {
		s, mock, now := newTaskStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows(taskRowColumns).
				AddRow("t1", "a.bin", "local", "s3", 1, "in_progress", 0, nil, nil, now.Add(-time.Minute), now, nil))

		task, err := s.Claim(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "t1", task.ID)
		assert.Equal(t, 1, task.Slot)
		assert.Equal(t, queue.StatusInProgress, task.Status)
		require.NotNil(t, task.StartedAt)
		assert.Nil(t, task.CompletedAt)
		assert.Empty(t, task.Reason)
	})

	t.Run("empty queue", func(t *testing.T) {
		s, mock, _ := newTaskStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE migration_tasks SET status = 'in_progress'")).
			WillReturnError(sql.ErrNoRows)

		_, err := s.Claim(context.Background())
		assert.ErrorIs(t, err, queue.ErrNoTask)
	})
}

func TestTaskStore_Complete(t *testing.T) {
	t.Run("writes terminal result", func(t *testing.T) {
		s, mock, now := newTaskStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = 'in_progress'")).
			WithArgs("t1", "failed", sqlmock.AnyArg(), 4, sqlmock.AnyArg(), now).
			WillReturnRows(sqlmock.NewRows(taskRowColumns).
				AddRow("t1", "a.bin", "local", "s3", 0, "failed", 4, "retries_exhausted", "throttled", now, now, now))

		task, err := s.Complete(context.Background(), "t1", queue.Result{
			Status:    queue.StatusFailed,
			Reason:    queue.ReasonRetriesExhausted,
			Attempts:  4,
			LastError: "throttled",
		})
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, task.Status)
		assert.Equal(t, queue.ReasonRetriesExhausted, task.Reason)
		assert.Equal(t, "throttled", task.LastError)
		require.NotNil(t, task.CompletedAt)
	})

	t.Run("second completion is rejected", func(t *testing.T) {
		s, mock, now := newTaskStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = 'in_progress'")).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("FROM migration_tasks WHERE id = $1")).
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows(taskRowColumns).
				AddRow("t1", "a.bin", "local", "s3", 0, "succeeded", 1, nil, nil, now, now, now))

		_, err := s.Complete(context.Background(), "t1", queue.Result{Status: queue.StatusFailed})
		assert.ErrorIs(t, err, queue.ErrInvalidTransition)
	})

	t.Run("unknown id", func(t *testing.T) {
		s, mock, _ := newTaskStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = 'in_progress'")).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("FROM migration_tasks WHERE id = $1")).
			WillReturnError(sql.ErrNoRows)

		_, err := s.Complete(context.Background(), "nope", queue.Result{Status: queue.StatusFailed})
		assert.ErrorIs(t, err, queue.ErrNotFound)
	})

	t.Run("non-terminal status", func(t *testing.T) {
		s, _, _ := newTaskStore(t)
		_, err := s.Complete(context.Background(), "t1", queue.Result{Status: queue.StatusQueued})
		assert.ErrorIs(t, err, queue.ErrInvalidTransition)
	})
}

func TestTaskStore_List(t *testing.T) {
	s, mock, now := newTaskStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND reason = $2 ORDER BY created_at DESC, id DESC LIMIT $3")).
		WithArgs("skipped", "file_growing", 10).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("t2", "b.bin", "local", "s3", 0, "skipped", 1, "file_growing", nil, now, now, now))

	tasks, err := s.List(context.Background(), queue.Filter{
		Status: queue.StatusSkipped,
		Reason: queue.ReasonFileGrowing,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t2", tasks[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_Counts(t *testing.T) {
	s, mock, _ := newTaskStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("queued", 3).
			AddRow("failed", 1))

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[queue.StatusQueued])
	assert.Equal(t, 1, counts[queue.StatusFailed])
	assert.Equal(t, 0, counts[queue.StatusBlocked])
	assert.Len(t, counts, len(queue.AllStatuses))
}

func TestTaskStore_RecoverInterrupted(t *testing.T) {
	s, mock, now := newTaskStore(t)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed', reason = $1")).
		WithArgs(queue.ReasonInterrupted, now).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
