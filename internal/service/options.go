package service

import (
	"time"

	"github.com/google/uuid"
)

type Option func(*TaskService)

func WithClock(now func() time.Time) Option {
	return func(s *TaskService) {
		s.now = now
	}
}

func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *TaskService) {
		s.newID = newID
	}
}

// WithMaxRetries sets how many times a version conflict is retried before UNAVAILABLE.
func WithMaxRetries(n int) Option {
	return func(s *TaskService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithRetryInterval(d time.Duration) Option {
	return func(s *TaskService) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}
