package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"taskflow/internal/logger"
	"taskflow/internal/models/task"
	rep "taskflow/internal/repository"
	"taskflow/internal/service"

	"go.uber.org/zap"
)

// Reconciler restores the assignedTo cache of each task from its assignment rows,
// which are the source of truth.
type Reconciler struct {
	repo      service.Repository
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewReconciler(repo service.Repository, interval *time.Duration, batchSize *int) *Reconciler {
	intervalToSet := 5 * time.Minute
	if interval != nil && *interval > 0 {
		intervalToSet = *interval
	}

	batchToSet := 100
	if batchSize != nil && *batchSize > 0 {
		batchToSet = *batchSize
	}

	return &Reconciler{
		repo:      repo,
		interval:  intervalToSet,
		batchSize: batchToSet,
		now:       time.Now,
	}
}

func (w *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			logger.Info("Worker: reconciler stopping")
			return
		}
	}
}

// Check inspects every task and repairs at most batchSize of them. It returns the number repaired.
func (w *Reconciler) Check(ctx context.Context) int {
	start := time.Now()
	checked, repaired := 0, 0

	for _, status := range task.Statuses {
		tasks, err := w.repo.ListTasksByStatus(ctx, status)
		if err != nil {
			logger.Warn("Worker: list tasks failed", zap.String("status", string(status)), zap.Error(err))
			continue
		}

		for _, t := range tasks {
			if repaired >= w.batchSize || ctx.Err() != nil {
				break
			}
			checked++

			fixed, err := w.Repair(ctx, t)
			if err != nil {
				logger.Warn("Worker: repair failed", zap.String("task_id", t.UUID.String()), zap.Error(err))
				continue
			}
			if fixed {
				repaired++
			}
		}
	}

	logger.Info("Worker: reconciliation finished",
		zap.Duration("ms", time.Since(start)),
		zap.Int("checked", checked),
		zap.Int("repaired", repaired),
	)
	return repaired
}

// Repair rewrites t.AssignedTo when its members disagree with the assignment rows.
// Order is not compared: rows sharing an assigned_at may come back in any order.
// A repair keeps the stored order, drops emails without a row and appends rows
// missing from the list. A concurrent write wins; the task is looked at again on the next run.
func (w *Reconciler) Repair(ctx context.Context, t *task.Task) (bool, error) {
	rows, err := w.repo.ListAssignmentsByTask(ctx, t.UUID)
	if err != nil {
		return false, fmt.Errorf("list assignments: %w", err)
	}

	expected := make([]string, 0, len(rows))
	for _, a := range rows {
		email := strings.ToLower(a.UserEmail)
		if !slices.Contains(expected, email) {
			expected = append(expected, email)
		}
	}

	repaired := repairAssignees(t.AssignedTo, expected)
	if slices.Equal(repaired, t.AssignedTo) {
		return false, nil
	}

	logger.Warn("Worker: assignedTo out of sync with assignments",
		zap.String("task_id", t.UUID.String()),
		zap.Strings("stored", t.AssignedTo),
		zap.Strings("expected", repaired),
	)

	t.AssignedTo = repaired
	t.UpdatedAt = w.now().UTC().Truncate(time.Millisecond)
	if err := w.repo.UpdateTask(ctx, t); err != nil {
		if errors.Is(err, rep.ErrVersionConflict) {
			return false, nil
		}
		return false, fmt.Errorf("update task: %w", err)
	}
	return true, nil
}

// repairAssignees returns stored with duplicates and emails absent from expected removed,
// followed by the expected emails stored lacks. A consistent list comes back unchanged.
func repairAssignees(stored, expected []string) []string {
	out := make([]string, 0, len(expected))
	for _, email := range stored {
		email = strings.ToLower(email)
		if slices.Contains(expected, email) && !slices.Contains(out, email) {
			out = append(out, email)
		}
	}
	for _, email := range expected {
		if !slices.Contains(out, email) {
			out = append(out, email)
		}
	}
	return out
}
