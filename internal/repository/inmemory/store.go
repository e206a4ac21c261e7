package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"taskflow/internal/logger"
	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	"taskflow/internal/models/user"
	repo "taskflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Storage keeps tasks, assignments and directory users behind one lock, so the
// task/assignment dual write is atomic.
type Storage struct {
	tasks       map[uuid.UUID]*task.Task
	ids         []uuid.UUID
	assignments []*assignment.Assignment
	users       map[string]*user.User
	mtx         *sync.RWMutex
}

func NewStorage() *Storage {
	return &Storage{
		tasks: make(map[uuid.UUID]*task.Task),
		ids:   []uuid.UUID{},
		users: make(map[string]*user.User),
		mtx:   &sync.RWMutex{},
	}
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *Storage) CreateTask(ctx context.Context, t *task.Task) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.tasks[t.UUID] = t.Clone()
	s.ids = append(s.ids, t.UUID)
	return nil
}

func (s *Storage) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return t.Clone(), nil
}

// GetTasks skips ids that have no task.
func (s *Storage) GetTasks(ctx context.Context, ids []uuid.UUID) ([]*task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			res = append(res, t.Clone())
		}
	}
	return res, nil
}

func (s *Storage) ListTasks(ctx context.Context) ([]*task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := make([]*task.Task, 0, len(s.ids))
	for _, id := range s.ids {
		res = append(res, s.tasks[id].Clone())
	}
	return res, nil
}

func (s *Storage) ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := []*task.Task{}
	for _, id := range s.ids {
		if t := s.tasks[id]; t.Status == status {
			res = append(res, t.Clone())
		}
	}
	return res, nil
}

func (s *Storage) UpdateTask(ctx context.Context, t *task.Task) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.updateLocked(t)
}

func (s *Storage) updateLocked(t *task.Task) error {
	stored, ok := s.tasks[t.UUID]
	if !ok {
		return repo.ErrNotFound
	}
	if stored.Version != t.Version {
		logger.Warn("Repository: version conflict",
			zap.String("task_id", t.UUID.String()),
			zap.Int("expected_version", t.Version),
			zap.Int("stored_version", stored.Version),
		)
		return repo.ErrVersionConflict
	}

	t.Version++
	s.tasks[t.UUID] = t.Clone()
	return nil
}

func (s *Storage) ListAssignmentsByUser(ctx context.Context, userID string) ([]*assignment.Assignment, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := []*assignment.Assignment{}
	for _, a := range s.assignments {
		if a.UserID == userID {
			c := *a
			res = append(res, &c)
		}
	}
	return res, nil
}

// ListAssignmentsByTask returns rows in assignment order.
func (s *Storage) ListAssignmentsByTask(ctx context.Context, taskID uuid.UUID) ([]*assignment.Assignment, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := []*assignment.Assignment{}
	for _, a := range s.assignments {
		if a.TaskID == taskID {
			c := *a
			res = append(res, &c)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].AssignedAt.Before(res[j].AssignedAt)
	})
	return res, nil
}

func (s *Storage) AssignTask(ctx context.Context, t *task.Task, a *assignment.Assignment) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, existing := range s.assignments {
		if existing.TaskID == a.TaskID && strings.EqualFold(existing.UserEmail, a.UserEmail) {
			return repo.ErrAlreadyAssigned
		}
	}
	if err := s.updateLocked(t); err != nil {
		return err
	}

	c := *a
	s.assignments = append(s.assignments, &c)
	return nil
}

// PutUser adds or replaces a directory user keyed by email.
func (s *Storage) PutUser(ctx context.Context, u *user.User) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	c := *u
	c.Email = strings.ToLower(u.Email)
	c.Groups = append([]string(nil), u.Groups...)
	s.users[c.Email] = &c
	return nil
}

func (s *Storage) LookupUser(ctx context.Context, email string) (*user.User, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *Storage) ListUsers(ctx context.Context) ([]*user.User, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	res := make([]*user.User, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Email < res[j].Email
	})
	return res, nil
}
