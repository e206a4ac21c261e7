package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskflow/internal/identity"
	"taskflow/internal/logger"
	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	"taskflow/internal/models/user"
	"taskflow/internal/notify"
	rep "taskflow/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// getTasksChunk bounds how many ids are fetched per batch read.
const getTasksChunk = 100

type CreateTaskInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     *time.Time
}

// UpdateTaskInput holds the optional patch fields; nil means absent.
type UpdateTaskInput struct {
	Status      *string
	Description *string
	Priority    *string
}

// TaskService is the task lifecycle engine. It holds no per-task state between calls.
type TaskService struct {
	repo          Repository
	directory     UserDirectory
	notifier      Notifier
	validate      *validator.Validate
	now           func() time.Time
	newID         func() uuid.UUID
	maxRetries    int
	retryInterval time.Duration
}

func NewTaskService(repo Repository, directory UserDirectory, notifier Notifier, options ...Option) *TaskService {
	s := &TaskService{
		repo:          repo,
		directory:     directory,
		notifier:      notifier,
		validate:      newValidator(),
		now:           time.Now,
		newID:         uuid.New,
		maxRetries:    3,
		retryInterval: 20 * time.Millisecond,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *TaskService) HealthCheck(ctx context.Context) error {
	if err := s.repo.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// timestamp is now truncated to the millisecond precision the stores keep.
func (s *TaskService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *TaskService) CreateTask(ctx context.Context, caller identity.Identity, in CreateTaskInput) (*task.Task, error) {
	if !CanCreateTask(caller) {
		logger.Info("Service: create denied", zap.String("caller", caller.Email))
		return nil, NewForbidden("only admins can create tasks")
	}

	checked, priority, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	t := &task.Task{
		UUID:        s.newID(),
		Title:       checked.Title,
		Description: checked.Description,
		Priority:    priority,
		Status:      task.StatusOpen,
		DueDate:     in.DueDate,
		CreatedBy:   caller.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
		AssignedTo:  []string{},
		Version:     1,
	}

	if err := s.repo.CreateTask(ctx, t); err != nil {
		logger.Error("Service: create task failed", err, zap.String("task_id", t.UUID.String()))
		return nil, NewUnavailable("create_task", err)
	}

	logger.Info("Service: task created",
		zap.String("task_id", t.UUID.String()),
		zap.String("created_by", t.CreatedBy),
	)
	return t, nil
}

// ListVisibleTasks returns every task for admins, and for members exactly the tasks
// an assignment row links them to.
func (s *TaskService) ListVisibleTasks(ctx context.Context, caller identity.Identity) ([]*task.Task, error) {
	if CanSeeAllTasks(caller) {
		return s.listAllTasks(ctx)
	}

	links, err := s.repo.ListAssignmentsByUser(ctx, caller.Subject)
	if err != nil {
		return nil, NewUnavailable("list_tasks", err)
	}

	ids := make([]uuid.UUID, 0, len(links))
	seen := make(map[uuid.UUID]struct{}, len(links))
	for _, a := range links {
		if _, ok := seen[a.TaskID]; ok {
			continue
		}
		seen[a.TaskID] = struct{}{}
		ids = append(ids, a.TaskID)
	}

	tasks := make([]*task.Task, 0, len(ids))
	for start := 0; start < len(ids); start += getTasksChunk {
		end := min(start+getTasksChunk, len(ids))
		batch, err := s.repo.GetTasks(ctx, ids[start:end])
		if err != nil {
			return nil, NewUnavailable("list_tasks", err)
		}
		tasks = append(tasks, batch...)
	}

	if len(tasks) < len(ids) {
		logger.Warn("Service: assignment rows reference missing tasks",
			zap.String("user_id", caller.Subject),
			zap.Int("linked", len(ids)),
			zap.Int("found", len(tasks)),
		)
	}
	return tasks, nil
}

func (s *TaskService) listAllTasks(ctx context.Context) ([]*task.Task, error) {
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, NewUnavailable("list_tasks", err)
	}
	return tasks, nil
}

func (s *TaskService) GetTask(ctx context.Context, caller identity.Identity, id uuid.UUID) (*task.Task, error) {
	if !caller.IsAdmin() {
		links, err := s.repo.ListAssignmentsByTask(ctx, id)
		if err != nil {
			return nil, NewUnavailable("get_task", err)
		}
		if !CanAccessTask(caller, links) {
			return nil, NewForbidden("not assigned to this task")
		}
	}
	return s.loadTask(ctx, "get_task", id)
}

func (s *TaskService) loadTask(ctx context.Context, operation string, id uuid.UUID) (*task.Task, error) {
	t, err := s.repo.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, rep.ErrNotFound) {
			logger.Info("Service: task not found", zap.String("task_id", id.String()))
			return nil, NewNotFound("task", id.String())
		}
		return nil, NewUnavailable(operation, err)
	}
	return t, nil
}

func (s *TaskService) AssignTask(ctx context.Context, caller identity.Identity, taskID uuid.UUID, userEmail string) (*assignment.Assignment, error) {
	if !CanAssignTask(caller) {
		logger.Info("Service: assign denied", zap.String("caller", caller.Email))
		return nil, NewForbidden("only admins can assign tasks")
	}

	email := strings.ToLower(strings.TrimSpace(userEmail))
	if err := s.validateEmail(email); err != nil {
		return nil, err
	}

	var (
		created  *assignment.Assignment
		assigned *task.Task
	)
	err := s.withRetry(ctx, "assign_task", func() error {
		t, err := s.loadTask(ctx, "assign_task", taskID)
		if err != nil {
			return err
		}

		u, err := s.lookupUser(ctx, email)
		if err != nil {
			return err
		}
		if !u.Enabled {
			return NewInvalidState("cannot assign to deactivated user", ToDetail("userEmail", email))
		}
		if t.IsAssigned(email) {
			return NewConflict("user is already assigned to this task", ToDetail("userEmail", email))
		}

		now := s.timestamp()
		a := &assignment.Assignment{
			UUID:       s.newID(),
			TaskID:     t.UUID,
			UserID:     u.Subject,
			UserEmail:  email,
			AssignedAt: now,
			AssignedBy: caller.Email,
		}
		t.AssignedTo = append(t.AssignedTo, email)
		t.UpdatedAt = now

		if err := s.repo.AssignTask(ctx, t, a); err != nil {
			switch {
			case errors.Is(err, rep.ErrVersionConflict):
				return err
			case errors.Is(err, rep.ErrAlreadyAssigned):
				return NewConflict("user is already assigned to this task", ToDetail("userEmail", email))
			case errors.Is(err, rep.ErrNotFound):
				return NewNotFound("task", taskID.String())
			default:
				logger.Error("Service: assign write failed", err, zap.String("task_id", taskID.String()))
				return NewUnavailable("assign_task", err)
			}
		}
		created, assigned = a, t
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Service: task assigned",
		zap.String("task_id", taskID.String()),
		zap.String("user_email", email),
		zap.String("assigned_by", caller.Email),
	)
	s.notifier.Notify(ctx, notify.TaskAssigned(assigned, created))
	return created, nil
}

func (s *TaskService) lookupUser(ctx context.Context, email string) (*user.User, error) {
	u, err := s.directory.LookupUser(ctx, email)
	if err != nil {
		if errors.Is(err, rep.ErrNotFound) {
			return nil, NewNotFound("user", email)
		}
		logger.Error("Service: directory lookup failed", err, zap.String("user_email", email))
		return nil, NewUnavailable("lookup_user", err)
	}
	return u, nil
}

func (s *TaskService) UpdateTask(ctx context.Context, caller identity.Identity, taskID uuid.UUID, in UpdateTaskInput) (*task.Task, error) {
	var links []*assignment.Assignment
	if !caller.IsAdmin() {
		var err error
		links, err = s.repo.ListAssignmentsByTask(ctx, taskID)
		if err != nil {
			return nil, NewUnavailable("update_task", err)
		}
		if !CanAccessTask(caller, links) {
			logger.Info("Service: update denied",
				zap.String("caller", caller.Email),
				zap.String("task_id", taskID.String()),
			)
			return nil, NewForbidden("not assigned to this task")
		}
	}

	patch, err := s.validatePatch(CanEditDetails(caller), in)
	if err != nil {
		return nil, err
	}
	if len(patch.dropped) > 0 {
		logger.Info("Service: admin-only fields ignored",
			zap.String("caller", caller.Email),
			zap.Strings("fields", patch.dropped),
		)
	}

	var (
		previous task.Status
		updated  *task.Task
	)
	err = s.withRetry(ctx, "update_task", func() error {
		t, err := s.loadTask(ctx, "update_task", taskID)
		if err != nil {
			return err
		}
		previous = t.Status
		patch.apply(t)
		t.UpdatedAt = s.timestamp()

		if err := s.repo.UpdateTask(ctx, t); err != nil {
			switch {
			case errors.Is(err, rep.ErrVersionConflict):
				return err
			case errors.Is(err, rep.ErrNotFound):
				return NewNotFound("task", taskID.String())
			default:
				logger.Error("Service: update write failed", err, zap.String("task_id", taskID.String()))
				return NewUnavailable("update_task", err)
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if patch.status != nil && *patch.status != previous {
		s.notifyStatusChange(ctx, caller, updated, previous, links)
	}
	return updated, nil
}

// notifyStatusChange runs after the write; failures here are logged, never returned.
func (s *TaskService) notifyStatusChange(ctx context.Context, caller identity.Identity, t *task.Task, from task.Status, links []*assignment.Assignment) {
	if links == nil {
		var err error
		links, err = s.repo.ListAssignmentsByTask(ctx, t.UUID)
		if err != nil {
			logger.Error("Service: recipients lookup failed, notification skipped", err,
				zap.String("task_id", t.UUID.String()))
			return
		}
	}

	assignees := make([]string, 0, len(links))
	for _, a := range links {
		assignees = append(assignees, a.UserEmail)
	}
	recipients := notify.Recipients([]string{caller.Email}, assignees, []string{t.CreatedBy})
	if len(recipients) == 0 {
		logger.Info("Service: status changed with no one to notify", zap.String("task_id", t.UUID.String()))
		return
	}

	logger.Info("Service: task status changed",
		zap.String("task_id", t.UUID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(t.Status)),
		zap.String("actor", caller.Email),
	)
	s.notifier.Notify(ctx, notify.StatusChanged(t, from, t.Status, caller.Email, recipients))
}

func (s *TaskService) ListUsers(ctx context.Context, caller identity.Identity) ([]*user.User, error) {
	if !CanListUsers(caller) {
		return nil, NewForbidden("only admins can list users")
	}
	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		logger.Error("Service: list users failed", err)
		return nil, NewUnavailable("list_users", err)
	}
	return users, nil
}

