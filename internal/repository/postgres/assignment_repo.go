package postgres

import (
	"context"
	"fmt"
	"time"

	"taskflow/internal/logger"
	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	repo "taskflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const assignmentColumns = `assignment_id, task_id, user_id, user_email, assigned_at, assigned_by`

func (s *Storage) ListAssignmentsByUser(ctx context.Context, userID string) ([]*assignment.Assignment, error) {
	start := time.Now()
	defer observe("list_assignments_by_user", start)

	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE user_id = $1 ORDER BY assigned_at, seq`
	return s.queryAssignments(ctx, query, userID)
}

func (s *Storage) ListAssignmentsByTask(ctx context.Context, taskID uuid.UUID) ([]*assignment.Assignment, error) {
	start := time.Now()
	defer observe("list_assignments_by_task", start)

	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE task_id = $1 ORDER BY assigned_at, seq`
	return s.queryAssignments(ctx, query, taskID)
}

func (s *Storage) queryAssignments(ctx context.Context, query string, arg any) ([]*assignment.Assignment, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		logger.Error("Repository: list assignments", err)
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	res := []*assignment.Assignment{}
	for rows.Next() {
		a := &assignment.Assignment{}
		if err := rows.Scan(&a.UUID, &a.TaskID, &a.UserID, &a.UserEmail, &a.AssignedAt, &a.AssignedBy); err != nil {
			logger.Error("Repository: scan assignment", err)
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.AssignedAt = a.AssignedAt.UTC()
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return res, nil
}

// AssignTask writes the task and the assignment row in one transaction.
func (s *Storage) AssignTask(ctx context.Context, t *task.Task, a *assignment.Assignment) (err error) {
	start := time.Now()
	defer observe("assign_task", start)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		logger.Error("Repository: begin transaction", err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	version := t.Version
	if err = s.updateTask(ctx, tx, t); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO assignments (`+assignmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.UUID, a.TaskID, a.UserID, a.UserEmail, a.AssignedAt, a.AssignedBy)
	if err != nil {
		t.Version = version
		switch pgErrorCode(err) {
		case codeUniqueViolation:
			return repo.ErrAlreadyAssigned
		case codeForeignKeyViolation:
			return repo.ErrNotFound
		}
		logger.Error("Repository: insert assignment", err, zap.String("task_id", a.TaskID.String()))
		return fmt.Errorf("insert assignment: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		t.Version = version
		logger.Error("Repository: commit assignment", err)
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

