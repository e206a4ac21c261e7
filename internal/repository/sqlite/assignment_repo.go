package sqlite

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

	return s.queryAssignments(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE user_id = ? ORDER BY assigned_at, rowid`, userID)
}

func (s *Storage) ListAssignmentsByTask(ctx context.Context, taskID uuid.UUID) ([]*assignment.Assignment, error) {
	start := time.Now()
	defer observe("list_assignments_by_task", start)

	return s.queryAssignments(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE task_id = ? ORDER BY assigned_at, rowid`, taskID.String())
}

func (s *Storage) queryAssignments(ctx context.Context, query string, arg any) ([]*assignment.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		logger.Error("Repository: list assignments", err)
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	res := []*assignment.Assignment{}
	for rows.Next() {
		var (
			a                 assignment.Assignment
			assignmentID, tID string
			assignedAt        int64
		)
		if err := rows.Scan(&assignmentID, &tID, &a.UserID, &a.UserEmail, &assignedAt, &a.AssignedBy); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if a.UUID, err = uuid.Parse(assignmentID); err != nil {
			return nil, fmt.Errorf("parse assignment id: %w", err)
		}
		if a.TaskID, err = uuid.Parse(tID); err != nil {
			return nil, fmt.Errorf("parse task id: %w", err)
		}
		a.AssignedAt = fromMillis(assignedAt)
		res = append(res, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return res, nil
}

// AssignTask writes the task and the assignment row in one transaction.
func (s *Storage) AssignTask(ctx context.Context, t *task.Task, a *assignment.Assignment) error {
	start := time.Now()
	defer observe("assign_task", start)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("Repository: begin transaction", err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM assignments WHERE task_id = ? AND user_email = ?`,
		a.TaskID.String(), a.UserEmail).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if existing > 0 {
		return repo.ErrAlreadyAssigned
	}

	version := t.Version
	if err := updateTask(ctx, tx, t); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO assignments (`+assignmentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.UUID.String(), a.TaskID.String(), a.UserID, a.UserEmail, toMillis(a.AssignedAt), a.AssignedBy)
	if err != nil {
		t.Version = version
		if isUniqueViolation(err) {
			return repo.ErrAlreadyAssigned
		}
		logger.Error("Repository: insert assignment", err, zap.String("task_id", a.TaskID.String()))
		return fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		t.Version = version
		logger.Error("Repository: commit assignment", err)
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}
