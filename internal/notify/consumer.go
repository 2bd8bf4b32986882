package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/learnly/platform/internal/domain"
	"github.com/segmentio/kafka-go"
)

// Reader reads the next message from a topic.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Handler delivers one notification to the student.
type Handler func(ctx context.Context, n domain.Notification) error

// Consumer reads notifications from the bus and hands each one to a Handler.
// Delivery is at least once; redelivered event ids are skipped while they are
// still remembered.
type Consumer struct {
	reader  Reader
	handle  Handler
	logger  *slog.Logger
	seen    map[uuid.UUID]struct{}
	order   []uuid.UUID
	maxSeen int
}

// NewConsumer creates a Consumer remembering up to 4096 recent event ids.
func NewConsumer(reader Reader, handle Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		handle:  handle,
		logger:  logger,
		seen:    make(map[uuid.UUID]struct{}),
		maxSeen: 4096,
	}
}

// Decode parses a bus message into a Notification.
func Decode(value []byte) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if n.EventID == uuid.Nil || n.PaymentID == uuid.Nil {
		return n, fmt.Errorf("decode notification: missing event or payment id")
	}
	return n, nil
}

// Run consumes until ctx is cancelled. Malformed messages and handler
// failures are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	n, err := Decode(msg.Value)
	if err != nil {
		c.logger.Warn("skipping malformed notification",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}
	if c.remember(n.EventID) {
		c.logger.Debug("duplicate notification skipped", "event_id", n.EventID)
		return
	}
	if err := c.handle(ctx, n); err != nil {
		c.logger.Error("notification delivery failed",
			"event_id", n.EventID, "kind", n.Kind, "payment_id", n.PaymentID, "error", err)
	}
}

// remember reports whether id was already seen and records it otherwise.
func (c *Consumer) remember(id uuid.UUID) bool {
	if _, ok := c.seen[id]; ok {
		return true
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > c.maxSeen {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
	return false
}
