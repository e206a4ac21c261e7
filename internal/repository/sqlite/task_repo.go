package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskflow/internal/logger"
	"taskflow/internal/models/task"
	repo "taskflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const taskColumns = `task_id, title, description, priority, status, due_date, created_by, created_at, updated_at, assigned_to, version`

type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t          task.Task
		id         string
		dueDate    sql.NullString
		createdAt  int64
		updatedAt  int64
		assignedTo string
	)
	err := row.Scan(&id, &t.Title, &t.Description, &t.Priority, &t.Status, &dueDate,
		&t.CreatedBy, &createdAt, &updatedAt, &assignedTo, &t.Version)
	if err != nil {
		return nil, err
	}

	if t.UUID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}
	if dueDate.Valid {
		d, err := time.Parse(task.DueDateLayout, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse due date: %w", err)
		}
		t.DueDate = &d
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	if t.AssignedTo, err = decodeList(assignedTo); err != nil {
		return nil, err
	}
	return &t, nil
}

func dueDateValue(t *task.Task) any {
	if t.DueDate == nil {
		return nil
	}
	return t.DueDate.Format(task.DueDateLayout)
}

func (s *Storage) CreateTask(ctx context.Context, t *task.Task) error {
	start := time.Now()
	defer observe("create_task", start)

	assignedTo, err := encodeList(t.AssignedTo)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UUID.String(), t.Title, t.Description, string(t.Priority), string(t.Status), dueDateValue(t),
		t.CreatedBy, toMillis(t.CreatedAt), toMillis(t.UpdatedAt), assignedTo, t.Version,
	)
	if err != nil {
		logger.Error("Repository: insert task", err, zap.Duration("ms", time.Since(start)))
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Storage) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	start := time.Now()
	defer observe("get_task", start)

	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		logger.Error("Repository: get task", err)
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Storage) GetTasks(ctx context.Context, ids []uuid.UUID) ([]*task.Task, error) {
	if len(ids) == 0 {
		return []*task.Task{}, nil
	}
	start := time.Now()
	defer observe("get_tasks", start)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id IN (` + placeholders(len(ids)) + `)`
	return s.queryTasks(ctx, "get tasks", query, args...)
}

func (s *Storage) ListTasks(ctx context.Context) ([]*task.Task, error) {
	start := time.Now()
	defer observe("list_tasks", start)

	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at, rowid`
	return s.queryTasks(ctx, "list tasks", query)
}

func (s *Storage) ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	start := time.Now()
	defer observe("list_tasks_by_status", start)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY created_at`
	return s.queryTasks(ctx, "list tasks", query, string(status))
}

func (s *Storage) queryTasks(ctx context.Context, op, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("Repository: "+op, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

func (s *Storage) UpdateTask(ctx context.Context, t *task.Task) error {
	start := time.Now()
	defer observe("update_task", start)

	return updateTask(ctx, s.db, t)
}

func updateTask(ctx context.Context, q execer, t *task.Task) error {
	assignedTo, err := encodeList(t.AssignedTo)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `UPDATE tasks
			SET title = ?,
				description = ?,
				priority = ?,
				status = ?,
				due_date = ?,
				assigned_to = ?,
				updated_at = ?,
				version = version + 1
			WHERE task_id = ? AND version = ?`,
		t.Title, t.Description, string(t.Priority), string(t.Status), dueDateValue(t),
		assignedTo, toMillis(t.UpdatedAt), t.UUID.String(), t.Version,
	)
	if err != nil {
		logger.Error("Repository: update task", err, zap.String("task_id", t.UUID.String()))
		return fmt.Errorf("update task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected == 0 {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE task_id = ?`, t.UUID.String()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check task: %w", err)
		}
		if exists == 0 {
			return repo.ErrNotFound
		}
		logger.Warn("Repository: version conflict",
			zap.String("task_id", t.UUID.String()),
			zap.Int("expected_version", t.Version))
		return repo.ErrVersionConflict
	}

	t.Version++
	return nil
}
