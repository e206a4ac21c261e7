package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskflow/internal/logger"
	"taskflow/internal/models/task"
	repo "taskflow/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const taskColumns = `task_id,
				title,
				description,
				priority,
				status,
				due_date,
				created_by,
				created_at,
				updated_at,
				assigned_to,
				version`

func scanTask(row pgx.Row) (*task.Task, error) {
	t := &task.Task{}
	err := row.Scan(
		&t.UUID,
		&t.Title,
		&t.Description,
		&t.Priority,
		&t.Status,
		&t.DueDate,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.AssignedTo,
		&t.Version,
	)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.AssignedTo == nil {
		t.AssignedTo = []string{}
	}
	return t, nil
}

func (s *Storage) CreateTask(ctx context.Context, t *task.Task) error {
	start := time.Now()
	defer observe("create_task", start)

	query := `INSERT INTO tasks
				(task_id, title, description, priority, status, due_date, created_by, created_at, updated_at, assigned_to, version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		t.UUID,
		t.Title,
		t.Description,
		t.Priority,
		t.Status,
		t.DueDate,
		t.CreatedBy,
		t.CreatedAt,
		t.UpdatedAt,
		t.AssignedTo,
		t.Version,
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

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1`

	t, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		logger.Error("Repository: get task", err, zap.Duration("ms", time.Since(start)))
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

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ANY($1::uuid[])`
	return s.queryTasks(ctx, "get tasks", query, keys)
}

func (s *Storage) ListTasks(ctx context.Context) ([]*task.Task, error) {
	start := time.Now()
	defer observe("list_tasks", start)

	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`
	return s.queryTasks(ctx, "list tasks", query)
}

func (s *Storage) ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	start := time.Now()
	defer observe("list_tasks_by_status", start)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at`
	return s.queryTasks(ctx, "list tasks", query, status)
}

func (s *Storage) queryTasks(ctx context.Context, op, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		logger.Error("Repository: "+op, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			logger.Error("Repository: scan task", err)
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		logger.Error("Repository: iterate rows", err)
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

func (s *Storage) UpdateTask(ctx context.Context, t *task.Task) error {
	start := time.Now()
	defer observe("update_task", start)

	return s.updateTask(ctx, s.pool, t)
}

func (s *Storage) updateTask(ctx context.Context, q querier, t *task.Task) error {
	query := `UPDATE tasks
			SET title = $1,
				description = $2,
				priority = $3,
				status = $4,
				due_date = $5,
				assigned_to = $6,
				updated_at = $7,
				version = version + 1
			WHERE task_id = $8 AND version = $9
			RETURNING version`

	var version int
	err := q.QueryRow(ctx, query,
		t.Title,
		t.Description,
		t.Priority,
		t.Status,
		t.DueDate,
		t.AssignedTo,
		t.UpdatedAt,
		t.UUID,
		t.Version,
	).Scan(&version)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.missingOrConflict(ctx, q, t)
		}
		logger.Error("Repository: update task", err, zap.String("task_id", t.UUID.String()))
		return fmt.Errorf("update task: %w", err)
	}

	t.Version = version
	return nil
}

// missingOrConflict explains why a version-checked write touched no row.
func (s *Storage) missingOrConflict(ctx context.Context, q querier, t *task.Task) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE task_id = $1)`, t.UUID).Scan(&exists); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return repo.ErrNotFound
	}
	logger.Warn("Repository: version conflict",
		zap.String("task_id", t.UUID.String()),
		zap.Int("expected_version", t.Version))
	return repo.ErrVersionConflict
}
