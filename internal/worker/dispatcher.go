package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskflow/internal/logger"
	"taskflow/internal/notify"

	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher hands notifications to a sink on background workers. Callers never wait
// for delivery, and a failed delivery is only logged.
type Dispatcher struct {
	sink    notify.Sink
	queue   chan notify.Notification
	workers int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(sink notify.Sink, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan notify.Notification, queueSize),
		workers: workers,
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
	logger.Info("Worker: dispatcher started", zap.Int("workers", d.workers))
}

func (d *Dispatcher) run(id int) {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(id, n)
	}
}

func (d *Dispatcher) deliver(id int, n notify.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	start := time.Now()
	if err := d.sink.Send(ctx, n); err != nil {
		logger.Error("Notify: delivery failed", err,
			zap.Int("worker", id),
			zap.String("subject", n.Subject),
			zap.Strings("recipients", n.Recipients),
		)
		return
	}
	logger.Info("Notify: delivered",
		zap.Int("worker", id),
		zap.String("subject", n.Subject),
		zap.Int("recipients", len(n.Recipients)),
		zap.Duration("ms", time.Since(start)),
	)
}

// Notify enqueues n without blocking. A full queue or a stopped dispatcher drops it.
func (d *Dispatcher) Notify(ctx context.Context, n notify.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		logger.Error("Notify: notification dropped", ErrDispatcherStopped, zap.String("subject", n.Subject))
		return
	}

	select {
	case d.queue <- n:
	default:
		logger.Error("Notify: queue full, notification dropped", nil,
			zap.String("subject", n.Subject),
			zap.Int("capacity", cap(d.queue)),
		)
	}
}

// Stop refuses new notifications and waits for queued ones until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker: dispatcher drained")
		return nil
	case <-ctx.Done():
		logger.Warn("Worker: dispatcher stopped before draining", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}
