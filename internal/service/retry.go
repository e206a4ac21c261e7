package service

import (
	"context"
	"errors"

	"taskflow/internal/logger"
	rep "taskflow/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// withRetry re-runs fn while the store reports a version conflict. Any other error stops
// the loop and is returned as is; an exhausted budget becomes UNAVAILABLE.
func (s *TaskService) withRetry(ctx context.Context, operation string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInterval
	policy.MaxInterval = 20 * s.retryInterval

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, rep.ErrVersionConflict) {
			logger.Warn("Service: version conflict",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
			)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxRetries)), ctx))

	if err == nil {
		return nil
	}
	if _, ok := AsBusinessError(err); ok {
		return err
	}
	logger.Error("Service: retries exhausted", err,
		zap.String("operation", operation),
		zap.Int("attempts", attempt),
	)
	return NewUnavailable(operation, err)
}
