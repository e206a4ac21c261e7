package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	"taskflow/internal/models/user"
	"taskflow/internal/repository"
	"taskflow/internal/repository/sqlite"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStorage(t *testing.T) *sqlite.Storage {
	t.Helper()
	storage, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "taskflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func newTask(t *testing.T, storage *sqlite.Storage, title string) *task.Task {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	created := &task.Task{
		UUID:       uuid.New(),
		Title:      title,
		Priority:   task.PriorityMedium,
		Status:     task.StatusOpen,
		CreatedBy:  "admin@example.com",
		CreatedAt:  now,
		UpdatedAt:  now,
		AssignedTo: []string{},
		Version:    1,
	}
	require.NoError(t, storage.CreateTask(context.Background(), created))
	return created
}

func TestStorage_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	storage := openStorage(t)

	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	created := newTask(t, storage, "SQLite task")
	created.DueDate = &due
	require.NoError(t, storage.UpdateTask(ctx, created))

	got, err := storage.GetTask(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, created.UpdatedAt.Equal(got.UpdatedAt))
	require.NotNil(t, got.DueDate)
	assert.Equal(t, due, *got.DueDate)
	assert.Equal(t, []string{}, got.AssignedTo)
	assert.Equal(t, 2, got.Version)

	_, err = storage.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStorage_ListAndBatch(t *testing.T) {
	ctx := context.Background()
	storage := openStorage(t)

	first := newTask(t, storage, "first")
	second := newTask(t, storage, "second")
	second.Status = task.StatusCompleted
	require.NoError(t, storage.UpdateTask(ctx, second))

	open, err := storage.ListTasksByStatus(ctx, task.StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, first.UUID, open[0].UUID)

	all, err := storage.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.UUID, all[0].UUID)
	assert.Equal(t, second.UUID, all[1].UUID)

	batch, err := storage.GetTasks(ctx, []uuid.UUID{first.UUID, second.UUID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	empty, err := storage.GetTasks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStorage_UpdateTask_Conflicts(t *testing.T) {
	ctx := context.Background()
	storage := openStorage(t)

	created := newTask(t, storage, "versioned")
	stale := created.Clone()

	created.Status = task.StatusClosed
	require.NoError(t, storage.UpdateTask(ctx, created))

	stale.Status = task.StatusOpen
	assert.ErrorIs(t, storage.UpdateTask(ctx, stale), repository.ErrVersionConflict)

	ghost := created.Clone()
	ghost.UUID = uuid.New()
	assert.ErrorIs(t, storage.UpdateTask(ctx, ghost), repository.ErrNotFound)
}

func TestStorage_AssignTask(t *testing.T) {
	ctx := context.Background()
	storage := openStorage(t)

	created := newTask(t, storage, "assign")
	a := &assignment.Assignment{
		UUID:       uuid.New(),
		TaskID:     created.UUID,
		UserID:     "sub-a",
		UserEmail:  "a@example.com",
		AssignedAt: time.Now().UTC().Truncate(time.Millisecond),
		AssignedBy: "admin@example.com",
	}
	created.AssignedTo = append(created.AssignedTo, a.UserEmail)
	require.NoError(t, storage.AssignTask(ctx, created, a))
	assert.Equal(t, 2, created.Version)

	got, err := storage.GetTask(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, got.AssignedTo)

	rows, err := storage.ListAssignmentsByTask(ctx, created.UUID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a.UUID, rows[0].UUID)
	assert.True(t, a.AssignedAt.Equal(rows[0].AssignedAt))

	byUser, err := storage.ListAssignmentsByUser(ctx, "sub-a")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	dup := *a
	dup.UUID = uuid.New()
	got.AssignedTo = append(got.AssignedTo, "a@example.com")
	assert.ErrorIs(t, storage.AssignTask(ctx, got, &dup), repository.ErrAlreadyAssigned)

	after, err := storage.GetTask(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, after.AssignedTo)
	assert.Equal(t, 2, after.Version)
}

func TestStorage_AssignmentsWithTiedTimestampsKeepInsertOrder(t *testing.T) {
	ctx := context.Background()
	storage := openStorage(t)

	created := newTask(t, storage, "tied")
	at := time.Now().UTC().Truncate(time.Millisecond)
	for _, email := range []string{"b@example.com", "a@example.com"} {
		created.AssignedTo = append(created.AssignedTo, email)
		require.NoError(t, storage.AssignTask(ctx, created, &assignment.Assignment{
			UUID:       uuid.New(),
			TaskID:     created.UUID,
			UserID:     "sub-shared",
			UserEmail:  email,
			AssignedAt: at,
			AssignedBy: "admin@example.com",
		}))
	}

	rows, err := storage.ListAssignmentsByTask(ctx, created.UUID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b@example.com", rows[0].UserEmail)
	assert.Equal(t, "a@example.com", rows[1].UserEmail)

	byUser, err := storage.ListAssignmentsByUser(ctx, "sub-shared")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "b@example.com", byUser[0].UserEmail)
}

func TestStorage_Users(t *testing.T) {
	ctx := context.Background()
	storage := openStorage(t)

	require.NoError(t, storage.PutUser(ctx, &user.User{Subject: "sub-a", Email: "A@example.com", Enabled: true, Groups: []string{"Admins"}}))
	require.NoError(t, storage.PutUser(ctx, &user.User{Subject: "sub-b", Email: "b@example.com", Enabled: false}))

	u, err := storage.LookupUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sub-a", u.Subject)
	assert.True(t, u.Enabled)
	assert.Equal(t, []string{"Admins"}, u.Groups)

	_, err = storage.LookupUser(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	users, err := storage.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.False(t, users[1].Enabled)
}

func TestStorage_PutUser_EmailMovesToNewSubject(t *testing.T) {
	ctx := context.Background()
	storage := openStorage(t)

	require.NoError(t, storage.PutUser(ctx, &user.User{Subject: "sub-old", Email: "a@example.com", Enabled: true}))
	require.NoError(t, storage.PutUser(ctx, &user.User{Subject: "sub-new", Email: "A@example.com", Enabled: true}))

	u, err := storage.LookupUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sub-new", u.Subject)

	users, err := storage.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestStorage_ErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	storage := sqlite.New(db)
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	mock.ExpectQuery(`SELECT .* FROM tasks WHERE task_id = \?`).WillReturnError(boom)
	_, err = storage.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, repository.ErrNotFound)

	mock.ExpectQuery(`SELECT .* FROM tasks WHERE status = \?`).WithArgs("open").WillReturnError(boom)
	_, err = storage.ListTasksByStatus(ctx, task.StatusOpen)
	assert.ErrorIs(t, err, boom)

	mock.ExpectExec(`UPDATE tasks`).WillReturnError(boom)
	err = storage.UpdateTask(ctx, &task.Task{UUID: uuid.New(), Version: 1})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_AssignTask_RollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	storage := sqlite.New(db)
	boom := errors.New("constraint failed")
	taskID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM assignments`).
		WithArgs(taskID.String(), "a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO assignments`).WillReturnError(boom)
	mock.ExpectRollback()

	tk := &task.Task{UUID: taskID, Version: 4, AssignedTo: []string{"a@example.com"}}
	a := &assignment.Assignment{UUID: uuid.New(), TaskID: taskID, UserID: "sub-a", UserEmail: "a@example.com"}

	err = storage.AssignTask(context.Background(), tk, a)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, tk.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("closed"))
	assert.Error(t, sqlite.New(db).HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
