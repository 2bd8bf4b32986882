// Package notify hands post-enrollment correspondence to the message bus
// outside the request path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/learnly/platform/internal/domain"
)

// Publisher writes one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Dispatcher publishes notifications from a bounded queue with a fixed pool
// of workers. Enqueue never blocks the caller.
type Dispatcher struct {
	publisher      Publisher
	topic          string
	jobs           chan domain.Notification
	workers        int
	publishTimeout time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	dropped int
	stopped bool
}

// NewDispatcher creates a Dispatcher. Call Run to start the workers.
func NewDispatcher(publisher Publisher, topic string, queueSize, workers int, logger *slog.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		publisher:      publisher,
		topic:          topic,
		jobs:           make(chan domain.Notification, queueSize),
		workers:        workers,
		publishTimeout: 5 * time.Second,
		logger:         logger,
	}
}

// Enqueue schedules n for delivery. It reports false when the queue is full
// or the dispatcher has stopped, and the notification was dropped.
func (d *Dispatcher) Enqueue(n domain.Notification) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.dropped++
		d.logger.Warn("notification dispatcher stopped, dropping",
			"kind", n.Kind, "payment_id", n.PaymentID, "event_id", n.EventID)
		return false
	}
	select {
	case d.jobs <- n:
		return true
	default:
		d.dropped++
		d.logger.Warn("notification queue full, dropping",
			"kind", n.Kind, "payment_id", n.PaymentID, "event_id", n.EventID)
		return false
	}
}

// Dropped returns how many notifications were refused since start.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run starts the workers and blocks until ctx is cancelled. Queued items are
// drained with a short grace period before returning; later Enqueue calls are
// refused.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification dispatcher started", "workers", d.workers, "topic", d.topic)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	d.drain()
	d.logger.Info("notification dispatcher stopped")
	return nil
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.jobs:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
	defer cancel()
	for {
		select {
		case n := <-d.jobs:
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) {
	if err := d.publish(ctx, n); err != nil {
		d.logger.Error("notification publish failed",
			"kind", n.Kind, "payment_id", n.PaymentID, "event_id", n.EventID, "error", err)
		return
	}
	d.logger.Debug("notification published", "kind", n.Kind, "payment_id", n.PaymentID)
}

func (d *Dispatcher) publish(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()
	return d.publisher.Publish(ctx, d.topic, []byte(n.PartitionKey()), body)
}
