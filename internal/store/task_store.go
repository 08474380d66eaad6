package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// ErrNoRunnableTask is returned by ClaimNext when no task currently
// satisfies the runnability rule of §4.3.1.
var ErrNoRunnableTask = errors.New("store: no runnable task")

// TaskStore persists Task records and implements the Task Engine's
// concurrency-sensitive operations: idempotent mutex-set insertion (I4),
// DAG cycle rejection (I2), optimistic pending->running claims, and
// dependency-failure cascade (I3).
type TaskStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.SugaredLogger
}

// Insert creates t, assigning it a fresh ID. If t.Operation is in the
// mutex set and an existing pending/running task already holds the same
// (ZoneName, Operation), Insert returns that existing task instead of
// creating a duplicate (§4.3.3 idempotent queueing) and reports this
// through the returned bool. If t.DependsOn would close a
// cycle, Insert returns an error and the Store is left unchanged (§3 I2).
func (s *TaskStore) Insert(ctx context.Context, t *models.Task) (*models.Task, bool, error) {
	var result *models.Task
	existed := false

	err := withRetry(ctx, s.logger, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if models.IsMutexOperation(t.Operation) {
			var existingID, existingStatus string
			err := tx.QueryRowContext(ctx, queryFindActiveMutexTask, t.ZoneName, string(t.Operation)).
				Scan(&existingID, &existingStatus)
			if err == nil {
				existing, getErr := getTaskTx(ctx, tx, existingID)
				if getErr != nil {
					return getErr
				}
				result = existing
				existed = true
				return tx.Commit()
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		if t.DependsOn != nil {
			if err := rejectCycle(ctx, tx, *t.DependsOn, t.ID); err != nil {
				return err
			}
		}

		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Status == "" {
			t.Status = models.TaskPending
		}

		_, err = tx.ExecContext(ctx, queryInsertTask,
			t.ID, t.ZoneName, string(t.Operation), int(t.Priority), string(t.Status),
			t.DependsOn, t.ParentTaskID, t.Metadata, t.CreatedBy,
		)
		if err != nil {
			return err
		}

		result, err = getTaskTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, false, err
	}
	return result, existed, nil
}

// rejectCycle walks the depends_on chain starting at start; if newID
// appears anywhere in that chain, inserting a task with id=newID and
// depends_on=start would close a cycle.
func rejectCycle(ctx context.Context, tx *sql.Tx, start, newID string) error {
	current := start
	seen := map[string]bool{}
	for current != "" {
		if current == newID {
			return srvErrors.NewValidationError("depends_on", "would create a dependency cycle")
		}
		if seen[current] {
			// pre-existing cycle in stored data; nothing more to reject for this insert.
			return nil
		}
		seen[current] = true

		var next sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT depends_on FROM tasks WHERE id = ?`, current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if !next.Valid {
			return nil
		}
		current = next.String
	}
	return nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (*models.Task, error) {
	row := tx.QueryRowContext(ctx, queryGetTask, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*models.Task, error) {
	var t models.Task
	var operation, status string
	var priority int
	var dependsOn, parentTaskID sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.ZoneName, &operation, &priority, &status,
		&dependsOn, &parentTaskID, &t.Metadata, &t.CreatedBy, &t.CreatedAt,
		&startedAt, &completedAt, &t.ErrorMessage, &t.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, srvErrors.NewNotFoundError("task", "")
		}
		return nil, err
	}

	t.Operation = models.Operation(operation)
	t.Status = models.TaskStatus(status)
	t.Priority = models.Priority(priority)
	if dependsOn.Valid {
		t.DependsOn = &dependsOn.String
	}
	if parentTaskID.Valid {
		t.ParentTaskID = &parentTaskID.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// Get returns the task with the given id.
func (s *TaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	var t *models.Task
	err := withRetry(ctx, s.logger, func() error {
		row := s.db.QueryRowContext(ctx, queryGetTask, id)
		var scanErr error
		t, scanErr = scanTask(row)
		return scanErr
	})
	return t, err
}

// ClaimNext atomically selects and claims the single highest-priority,
// oldest runnable task (§4.3.1), holding a transaction across the select
// and the pending->running update so no two workers can claim the same
// task. Returns ErrNoRunnableTask if nothing is runnable right now.
func (s *TaskStore) ClaimNext(ctx context.Context) (*models.Task, error) {
	var claimed *models.Task

	err := withRetry(ctx, s.logger, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var id string
		err = tx.QueryRowContext(ctx, queryClaimCandidate).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return tx.Commit()
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, queryClaimTask, id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows != 1 {
			// lost the race to another claimant; caller retries on next tick.
			claimed = nil
			return tx.Commit()
		}

		claimed, err = getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, ErrNoRunnableTask
	}
	return claimed, nil
}

// Complete marks a running task completed and unblocks its dependents
// (checked lazily by ClaimNext's EXISTS clause — no write needed there).
func (s *TaskStore) Complete(ctx context.Context, id string) error {
	return s.transition(ctx, queryCompleteTask, id, "")
}

// Fail marks a running task failed with msg, then cascades cancellation
// to every dependent (§4.3.2, §3 I3).
func (s *TaskStore) Fail(ctx context.Context, id, msg string) error {
	if err := s.transition(ctx, queryFailTask, msg, id); err != nil {
		return err
	}
	return s.cascadeCancel(ctx, id)
}

// Retry re-queues a running task back to pending after a retryable
// failure, recording msg, incrementing Attempts, and deferring
// reclaimability until after, implementing the increasing-backoff
// re-schedule of §4.3.5. It does not cascade cancellation (only the
// terminal outcome propagates).
func (s *TaskStore) Retry(ctx context.Context, id, msg string, after time.Duration) error {
	nextRetryAt := time.Now().Add(after)
	return s.transition(ctx, queryRetryTask, msg, nextRetryAt, id)
}

// Cancel transitions a pending or running task to cancelled and cascades
// to its dependents.
func (s *TaskStore) Cancel(ctx context.Context, id string) error {
	if err := s.transition(ctx, queryCancelTask, id); err != nil {
		return err
	}
	return s.cascadeCancel(ctx, id)
}

func (s *TaskStore) transition(ctx context.Context, query string, args ...any) error {
	return withRetry(ctx, s.logger, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return srvErrors.NewConflictError("task", "status already transitioned")
		}
		return nil
	})
}

// cascadeCancel transitions every direct-then-transitive pending
// dependent of id to cancelled, never allowing one to become running
// (§3 I3, §4.3.2).
func (s *TaskStore) cascadeCancel(ctx context.Context, id string) error {
	return withRetry(ctx, s.logger, func() error {
		queue := []string{id}
		for len(queue) > 0 {
			parent := queue[0]
			queue = queue[1:]

			rows, err := s.db.QueryContext(ctx, queryDirectDependents, parent)
			if err != nil {
				return err
			}
			var dependents []string
			for rows.Next() {
				var depID string
				if err := rows.Scan(&depID); err != nil {
					rows.Close()
					return err
				}
				dependents = append(dependents, depID)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()

			for _, depID := range dependents {
				if _, err := s.db.ExecContext(ctx,
					`UPDATE tasks SET status = 'cancelled', completed_at = current_timestamp WHERE id = ? AND status = 'pending'`,
					depID,
				); err != nil {
					return err
				}
				queue = append(queue, depID)
			}
		}
		return nil
	})
}

// ParentAggregateStatus computes an orchestration parent's apparent
// status from its children (§4.3.6): running until every child is
// terminal, then failed if any child failed or was cancelled, else
// completed. A parent with no children reports running.
func (s *TaskStore) ParentAggregateStatus(ctx context.Context, parentID string) (models.TaskStatus, error) {
	var status models.TaskStatus
	err := withRetry(ctx, s.logger, func() error {
		rows, err := s.db.QueryContext(ctx, queryChildTasks, parentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		total, terminal, failed, completed := 0, 0, 0, 0
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			total++
			st := models.TaskStatus(raw)
			switch st {
			case models.TaskCompleted:
				terminal++
				completed++
			case models.TaskFailed, models.TaskCancelled:
				terminal++
				failed++
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		switch {
		case total == 0:
			status = models.TaskRunning
		case failed > 0 && terminal == total:
			status = models.TaskFailed
		case completed == total:
			status = models.TaskCompleted
		default:
			status = models.TaskRunning
		}
		return nil
	})
	return status, err
}

// ListOption narrows a List query, the teacher's functional-options-over-
// squirrel pattern (internal/store/vm.go ByStatus/ByDatacenters/...)
// generalised to Task filtering.
type ListOption func(sq.SelectBuilder) sq.SelectBuilder

func ByZoneName(zone string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder { return b.Where(sq.Eq{"zone_name": zone}) }
}

func ByTaskStatus(status models.TaskStatus) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder { return b.Where(sq.Eq{"status": string(status)}) }
}

func WithLimit(n uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder { return b.Limit(n) }
}

// List returns tasks matching opts, ordered by created_at descending.
func (s *TaskStore) List(ctx context.Context, opts ...ListOption) ([]*models.Task, error) {
	b := s.builder.Select(
		"id", "zone_name", "operation", "priority", "status", "depends_on",
		"parent_task_id", "metadata", "created_by", "created_at", "started_at",
		"completed_at", "error_message", "attempts",
	).From("tasks").OrderBy("created_at DESC")

	for _, opt := range opts {
		b = opt(b)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("task list query: %w", err)
	}

	var tasks []*models.Task
	err = withRetry(ctx, s.logger, func() error {
		tasks = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var t models.Task
			var operation, status string
			var priority int
			var dependsOn, parentTaskID sql.NullString
			var startedAt, completedAt sql.NullTime

			if err := rows.Scan(&t.ID, &t.ZoneName, &operation, &priority, &status,
				&dependsOn, &parentTaskID, &t.Metadata, &t.CreatedBy, &t.CreatedAt,
				&startedAt, &completedAt, &t.ErrorMessage, &t.Attempts); err != nil {
				return err
			}
			t.Operation = models.Operation(operation)
			t.Status = models.TaskStatus(status)
			t.Priority = models.Priority(priority)
			if dependsOn.Valid {
				t.DependsOn = &dependsOn.String
			}
			if parentTaskID.Valid {
				t.ParentTaskID = &parentTaskID.String
			}
			if startedAt.Valid {
				t.StartedAt = &startedAt.Time
			}
			if completedAt.Valid {
				t.CompletedAt = &completedAt.Time
			}
			tasks = append(tasks, &t)
		}
		return rows.Err()
	})
	return tasks, err
}
