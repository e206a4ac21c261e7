package service

import (
	"context"

	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	"taskflow/internal/models/user"
	"taskflow/internal/notify"

	"github.com/google/uuid"
)

type TaskRepository interface {
	HealthCheck(ctx context.Context) error
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)
	GetTasks(ctx context.Context, ids []uuid.UUID) ([]*task.Task, error)
	// ListTasks returns every task from one read, so a concurrent status change cannot hide a task.
	ListTasks(ctx context.Context) ([]*task.Task, error)
	ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)
	// UpdateTask writes t only if the stored version equals t.Version; on success t.Version is bumped.
	UpdateTask(ctx context.Context, t *task.Task) error
}

type AssignmentRepository interface {
	ListAssignmentsByUser(ctx context.Context, userID string) ([]*assignment.Assignment, error)
	ListAssignmentsByTask(ctx context.Context, taskID uuid.UUID) ([]*assignment.Assignment, error)
	// AssignTask inserts a and writes t (assignedTo already extended) in one transaction,
	// version-checked like UpdateTask.
	AssignTask(ctx context.Context, t *task.Task, a *assignment.Assignment) error
}

type Repository interface {
	TaskRepository
	AssignmentRepository
}

// UserDirectory is the external identity directory. LookupUser returns repository.ErrNotFound
// for unknown emails.
type UserDirectory interface {
	LookupUser(ctx context.Context, email string) (*user.User, error)
	ListUsers(ctx context.Context) ([]*user.User, error)
}

// Notifier accepts notifications without waiting for delivery.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}
