package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskflow/internal/identity"
	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	"taskflow/internal/models/user"
	"taskflow/internal/notify"
	"taskflow/internal/repository"
	"taskflow/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

var _ service.Repository = (*MockRepository)(nil)

func (m *MockRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) CreateTask(ctx context.Context, t *task.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockRepository) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task).Clone(), args.Error(1)
}

func (m *MockRepository) GetTasks(ctx context.Context, ids []uuid.UUID) ([]*task.Task, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *MockRepository) ListTasks(ctx context.Context) ([]*task.Task, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *MockRepository) ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *MockRepository) UpdateTask(ctx context.Context, t *task.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockRepository) ListAssignmentsByUser(ctx context.Context, userID string) ([]*assignment.Assignment, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*assignment.Assignment), args.Error(1)
}

func (m *MockRepository) ListAssignmentsByTask(ctx context.Context, taskID uuid.UUID) ([]*assignment.Assignment, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*assignment.Assignment), args.Error(1)
}

func (m *MockRepository) AssignTask(ctx context.Context, t *task.Task, a *assignment.Assignment) error {
	args := m.Called(ctx, t, a)
	return args.Error(0)
}

type MockDirectory struct {
	mock.Mock
}

var _ service.UserDirectory = (*MockDirectory)(nil)

func (m *MockDirectory) LookupUser(ctx context.Context, email string) (*user.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockDirectory) ListUsers(ctx context.Context) ([]*user.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*user.User), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

var _ service.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(ctx context.Context, n notify.Notification) {
	m.Called(ctx, n)
}

var (
	admin  = identity.New("sub-admin", "admin@example.com", identity.AdminGroup)
	member = identity.New("sub-a", "a@example.com")
	fixed  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newService(repo *MockRepository, dir *MockDirectory, n *MockNotifier) *service.TaskService {
	return service.NewTaskService(repo, dir, n,
		service.WithClock(func() time.Time { return fixed }),
		service.WithRetryInterval(time.Millisecond),
	)
}

func storedTask() *task.Task {
	return &task.Task{
		UUID:       uuid.New(),
		Title:      "Fix bug",
		Priority:   task.PriorityHigh,
		Status:     task.StatusOpen,
		CreatedBy:  "admin@example.com",
		CreatedAt:  fixed,
		UpdatedAt:  fixed,
		AssignedTo: []string{},
		Version:    1,
	}
}

func assertCode(t *testing.T, err error, code string) *service.BusinessError {
	t.Helper()
	require.Error(t, err)
	busErr, ok := service.AsBusinessError(err)
	require.True(t, ok, "expected BusinessError, got %v", err)
	assert.Equal(t, code, busErr.Code)
	return busErr
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		caller    identity.Identity
		input     service.CreateTaskInput
		setupMock func(*MockRepository)
		wantCode  string
		wantField string
		check     func(*testing.T, *task.Task)
	}{
		{
			name:   "admin creates task with defaults",
			caller: admin,
			input:  service.CreateTaskInput{Title: "  Fix bug  "},
			setupMock: func(m *MockRepository) {
				m.On("CreateTask", ctx, mock.AnythingOfType("*task.Task")).Return(nil)
			},
			check: func(t *testing.T, got *task.Task) {
				assert.Equal(t, "Fix bug", got.Title)
				assert.Equal(t, task.PriorityMedium, got.Priority)
				assert.Equal(t, task.StatusOpen, got.Status)
				assert.Equal(t, "admin@example.com", got.CreatedBy)
				assert.Equal(t, fixed, got.CreatedAt)
				assert.Equal(t, fixed, got.UpdatedAt)
				assert.NotNil(t, got.AssignedTo)
				assert.Empty(t, got.AssignedTo)
				assert.NotEqual(t, uuid.Nil, got.UUID)
			},
		},
		{
			name:   "priority is case insensitive and due date kept",
			caller: admin,
			input:  service.CreateTaskInput{Title: "Deploy", Priority: "HIGH", DueDate: &due},
			setupMock: func(m *MockRepository) {
				m.On("CreateTask", ctx, mock.AnythingOfType("*task.Task")).Return(nil)
			},
			check: func(t *testing.T, got *task.Task) {
				assert.Equal(t, task.PriorityHigh, got.Priority)
				require.NotNil(t, got.DueDate)
				assert.Equal(t, due, *got.DueDate)
			},
		},
		{
			name:     "member is forbidden",
			caller:   member,
			input:    service.CreateTaskInput{Title: "Fix bug"},
			wantCode: service.CodeForbidden,
		},
		{
			name:      "short title",
			caller:    admin,
			input:     service.CreateTaskInput{Title: "  ab  "},
			wantCode:  service.CodeInvalidArgument,
			wantField: "title",
		},
		{
			name:      "long title",
			caller:    admin,
			input:     service.CreateTaskInput{Title: string(make([]byte, 101))},
			wantCode:  service.CodeInvalidArgument,
			wantField: "title",
		},
		{
			name:      "long description",
			caller:    admin,
			input:     service.CreateTaskInput{Title: "Fix bug", Description: string(make([]byte, 1001))},
			wantCode:  service.CodeInvalidArgument,
			wantField: "description",
		},
		{
			name:      "unknown priority",
			caller:    admin,
			input:     service.CreateTaskInput{Title: "Fix bug", Priority: "urgent"},
			wantCode:  service.CodeInvalidArgument,
			wantField: "priority",
		},
		{
			name:   "store failure is unavailable",
			caller: admin,
			input:  service.CreateTaskInput{Title: "Fix bug"},
			setupMock: func(m *MockRepository) {
				m.On("CreateTask", ctx, mock.AnythingOfType("*task.Task")).Return(errors.New("connection refused"))
			},
			wantCode: service.CodeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			if tt.setupMock != nil {
				tt.setupMock(repo)
			}
			svc := newService(repo, new(MockDirectory), new(MockNotifier))

			got, err := svc.CreateTask(ctx, tt.caller, tt.input)
			if tt.wantCode != "" {
				busErr := assertCode(t, err, tt.wantCode)
				if tt.wantField != "" {
					assert.Equal(t, tt.wantField, busErr.Details["field"])
				}
				if tt.wantCode == service.CodeUnavailable {
					assert.NotContains(t, busErr.Message, "connection refused")
				}
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				tt.check(t, got)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAssignTask_Preconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		caller   identity.Identity
		email    string
		setup    func(*MockRepository, *MockDirectory, *task.Task)
		wantCode string
	}{
		{
			name:     "member is forbidden",
			caller:   member,
			email:    "b@example.com",
			wantCode: service.CodeForbidden,
		},
		{
			name:     "malformed email",
			caller:   admin,
			email:    "not-an-email",
			wantCode: service.CodeInvalidArgument,
		},
		{
			name:   "task missing wins over user checks",
			caller: admin,
			email:  "ghost@example.com",
			setup: func(r *MockRepository, d *MockDirectory, st *task.Task) {
				r.On("GetTask", ctx, st.UUID).Return(nil, repository.ErrNotFound)
			},
			wantCode: service.CodeNotFound,
		},
		{
			name:   "unknown user",
			caller: admin,
			email:  "ghost@example.com",
			setup: func(r *MockRepository, d *MockDirectory, st *task.Task) {
				r.On("GetTask", ctx, st.UUID).Return(st, nil)
				d.On("LookupUser", ctx, "ghost@example.com").Return(nil, repository.ErrNotFound)
			},
			wantCode: service.CodeNotFound,
		},
		{
			name:   "disabled user",
			caller: admin,
			email:  "off@example.com",
			setup: func(r *MockRepository, d *MockDirectory, st *task.Task) {
				r.On("GetTask", ctx, st.UUID).Return(st, nil)
				d.On("LookupUser", ctx, "off@example.com").Return(&user.User{Subject: "sub-off", Email: "off@example.com"}, nil)
			},
			wantCode: service.CodeInvalidState,
		},
		{
			name:   "already assigned",
			caller: admin,
			email:  "A@Example.com",
			setup: func(r *MockRepository, d *MockDirectory, st *task.Task) {
				st.AssignedTo = []string{"a@example.com"}
				r.On("GetTask", ctx, st.UUID).Return(st, nil)
				d.On("LookupUser", ctx, "a@example.com").Return(&user.User{Subject: "sub-a", Email: "a@example.com", Enabled: true}, nil)
			},
			wantCode: service.CodeConflict,
		},
		{
			name:   "store unique violation is conflict",
			caller: admin,
			email:  "a@example.com",
			setup: func(r *MockRepository, d *MockDirectory, st *task.Task) {
				r.On("GetTask", ctx, st.UUID).Return(st, nil)
				d.On("LookupUser", ctx, "a@example.com").Return(&user.User{Subject: "sub-a", Email: "a@example.com", Enabled: true}, nil)
				r.On("AssignTask", ctx, mock.Anything, mock.Anything).Return(repository.ErrAlreadyAssigned)
			},
			wantCode: service.CodeConflict,
		},
		{
			name:   "directory failure is unavailable",
			caller: admin,
			email:  "a@example.com",
			setup: func(r *MockRepository, d *MockDirectory, st *task.Task) {
				r.On("GetTask", ctx, st.UUID).Return(st, nil)
				d.On("LookupUser", ctx, "a@example.com").Return(nil, errors.New("throttled"))
			},
			wantCode: service.CodeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, dir, n := new(MockRepository), new(MockDirectory), new(MockNotifier)
			st := storedTask()
			if tt.setup != nil {
				tt.setup(repo, dir, st)
			}
			svc := newService(repo, dir, n)

			got, err := svc.AssignTask(ctx, tt.caller, st.UUID, tt.email)
			assertCode(t, err, tt.wantCode)
			assert.Nil(t, got)

			repo.AssertExpectations(t)
			dir.AssertExpectations(t)
			n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
		})
	}
}

func TestAssignTask_Success(t *testing.T) {
	ctx := context.Background()
	repo, dir, n := new(MockRepository), new(MockDirectory), new(MockNotifier)
	st := storedTask()

	repo.On("GetTask", ctx, st.UUID).Return(st, nil)
	dir.On("LookupUser", ctx, "a@example.com").Return(&user.User{Subject: "sub-a", Email: "a@example.com", Enabled: true}, nil)
	repo.On("AssignTask", ctx, mock.MatchedBy(func(t *task.Task) bool {
		return len(t.AssignedTo) == 1 && t.AssignedTo[0] == "a@example.com" && t.UpdatedAt.Equal(fixed)
	}), mock.MatchedBy(func(a *assignment.Assignment) bool {
		return a.TaskID == st.UUID && a.UserID == "sub-a" && a.AssignedBy == "admin@example.com"
	})).Return(nil)
	n.On("Notify", ctx, mock.MatchedBy(func(msg notify.Notification) bool {
		return assert.ObjectsAreEqual([]string{"a@example.com"}, msg.Recipients) &&
			msg.Subject == "New Task Assigned: Fix bug"
	})).Return()

	svc := newService(repo, dir, n)
	got, err := svc.AssignTask(ctx, admin, st.UUID, " a@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.UserEmail)
	assert.Equal(t, fixed, got.AssignedAt)

	repo.AssertExpectations(t)
	n.AssertNumberOfCalls(t, "Notify", 1)
}

func TestAssignTask_RetriesVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo, dir, n := new(MockRepository), new(MockDirectory), new(MockNotifier)
	st := storedTask()

	repo.On("GetTask", ctx, st.UUID).Return(st, nil)
	dir.On("LookupUser", ctx, "a@example.com").Return(&user.User{Subject: "sub-a", Email: "a@example.com", Enabled: true}, nil)
	repo.On("AssignTask", ctx, mock.Anything, mock.Anything).Return(repository.ErrVersionConflict).Once()
	repo.On("AssignTask", ctx, mock.Anything, mock.Anything).Return(nil).Once()
	n.On("Notify", ctx, mock.Anything).Return()

	svc := newService(repo, dir, n)
	_, err := svc.AssignTask(ctx, admin, st.UUID, "a@example.com")
	require.NoError(t, err)

	repo.AssertNumberOfCalls(t, "GetTask", 2)
	repo.AssertNumberOfCalls(t, "AssignTask", 2)
}

func TestUpdateTask_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	repo, n := new(MockRepository), new(MockNotifier)
	st := storedTask()

	repo.On("GetTask", ctx, st.UUID).Return(st, nil)
	repo.On("UpdateTask", ctx, mock.Anything).Return(repository.ErrVersionConflict)

	svc := service.NewTaskService(repo, new(MockDirectory), n,
		service.WithMaxRetries(2),
		service.WithRetryInterval(time.Millisecond),
	)
	status := "closed"
	_, err := svc.UpdateTask(ctx, admin, st.UUID, service.UpdateTaskInput{Status: &status})
	busErr := assertCode(t, err, service.CodeUnavailable)
	assert.True(t, busErr.Retryable())

	repo.AssertNumberOfCalls(t, "UpdateTask", 3)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestUpdateTask_MemberNotLinkedIsForbidden(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	taskID := uuid.New()

	repo.On("ListAssignmentsByTask", ctx, taskID).Return([]*assignment.Assignment{
		{TaskID: taskID, UserID: "sub-other", UserEmail: "other@example.com"},
	}, nil)

	svc := newService(repo, new(MockDirectory), new(MockNotifier))

	// rejected regardless of patch content, even an invalid one
	bogus := "not-a-status"
	_, err := svc.UpdateTask(ctx, member, taskID, service.UpdateTaskInput{Status: &bogus})
	busErr := assertCode(t, err, service.CodeForbidden)
	assert.Equal(t, "not assigned to this task", busErr.Message)

	repo.AssertNotCalled(t, "GetTask", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateTask", mock.Anything, mock.Anything)
}

func TestUpdateTask_InvalidStatus(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	svc := newService(repo, new(MockDirectory), new(MockNotifier))

	bogus := "archived"
	_, err := svc.UpdateTask(ctx, admin, uuid.New(), service.UpdateTaskInput{Status: &bogus})
	busErr := assertCode(t, err, service.CodeInvalidArgument)
	assert.Equal(t, "status", busErr.Details["field"])
	repo.AssertNotCalled(t, "GetTask", mock.Anything, mock.Anything)
}

func TestUpdateTask_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	id := uuid.New()
	repo.On("GetTask", ctx, id).Return(nil, repository.ErrNotFound)

	svc := newService(repo, new(MockDirectory), new(MockNotifier))
	status := "closed"
	_, err := svc.UpdateTask(ctx, admin, id, service.UpdateTaskInput{Status: &status})
	assertCode(t, err, service.CodeNotFound)
}

func TestListVisibleTasks_MemberChunksAndDedupes(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)

	shared := uuid.New()
	links := []*assignment.Assignment{
		{TaskID: shared, UserID: "sub-a"},
		{TaskID: shared, UserID: "sub-a"},
	}
	for i := 0; i < 150; i++ {
		links = append(links, &assignment.Assignment{TaskID: uuid.New(), UserID: "sub-a"})
	}

	repo.On("ListAssignmentsByUser", ctx, "sub-a").Return(links, nil)
	repo.On("GetTasks", ctx, mock.MatchedBy(func(ids []uuid.UUID) bool { return len(ids) == 100 })).
		Return(make([]*task.Task, 100), nil).Once()
	repo.On("GetTasks", ctx, mock.MatchedBy(func(ids []uuid.UUID) bool { return len(ids) == 51 })).
		Return(make([]*task.Task, 51), nil).Once()

	svc := newService(repo, new(MockDirectory), new(MockNotifier))
	got, err := svc.ListVisibleTasks(ctx, member)
	require.NoError(t, err)
	assert.Len(t, got, 151)
	repo.AssertExpectations(t)
}

func TestListVisibleTasks_MemberWithoutAssignments(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("ListAssignmentsByUser", ctx, "sub-a").Return([]*assignment.Assignment{}, nil)

	svc := newService(repo, new(MockDirectory), new(MockNotifier))
	got, err := svc.ListVisibleTasks(ctx, member)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	repo.AssertNotCalled(t, "GetTasks", mock.Anything, mock.Anything)
}

func TestListVisibleTasks_AdminReadsOnce(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	tasks := []*task.Task{{UUID: uuid.New(), Status: task.StatusOpen}, {UUID: uuid.New(), Status: task.StatusClosed}}
	repo.On("ListTasks", mock.Anything).Return(tasks, nil).Once()

	svc := newService(repo, new(MockDirectory), new(MockNotifier))
	got, err := svc.ListVisibleTasks(ctx, admin)

	require.NoError(t, err)
	assert.Len(t, got, 2)
	repo.AssertNotCalled(t, "ListTasksByStatus", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestListVisibleTasks_AdminStoreFailure(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("ListTasks", mock.Anything).Return(nil, errors.New("timeout"))

	svc := newService(repo, new(MockDirectory), new(MockNotifier))
	_, err := svc.ListVisibleTasks(ctx, admin)
	assertCode(t, err, service.CodeUnavailable)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	dir := new(MockDirectory)
	dir.On("ListUsers", ctx).Return([]*user.User{{Email: "a@example.com", Enabled: true}}, nil)
	svc := newService(new(MockRepository), dir, new(MockNotifier))

	users, err := svc.ListUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = svc.ListUsers(ctx, member)
	assertCode(t, err, service.CodeForbidden)
	dir.AssertNumberOfCalls(t, "ListUsers", 1)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("HealthCheck", ctx).Return(errors.New("down")).Once()
	repo.On("HealthCheck", ctx).Return(nil).Once()
	svc := newService(repo, new(MockDirectory), new(MockNotifier))

	assert.Error(t, svc.HealthCheck(ctx))
	assert.NoError(t, svc.HealthCheck(ctx))
}
