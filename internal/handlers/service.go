package handlers

import (
	"context"

	"taskflow/internal/identity"
	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	"taskflow/internal/models/user"
	"taskflow/internal/service"

	"github.com/google/uuid"
)

type Service interface {
	HealthCheck(ctx context.Context) error
	CreateTask(ctx context.Context, caller identity.Identity, in service.CreateTaskInput) (*task.Task, error)
	ListVisibleTasks(ctx context.Context, caller identity.Identity) ([]*task.Task, error)
	GetTask(ctx context.Context, caller identity.Identity, id uuid.UUID) (*task.Task, error)
	AssignTask(ctx context.Context, caller identity.Identity, taskID uuid.UUID, userEmail string) (*assignment.Assignment, error)
	UpdateTask(ctx context.Context, caller identity.Identity, taskID uuid.UUID, in service.UpdateTaskInput) (*task.Task, error)
	ListUsers(ctx context.Context, caller identity.Identity) ([]*user.User, error)
}

var _ Service = (*service.TaskService)(nil)
