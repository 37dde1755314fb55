package queue

import (
	"context"

	"github.com/iago/fleetops-back/internal/domain"
)

// Producer hands route jobs to a transport.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Handler processes one delivery. Delivery is at least once; a returned
// error schedules a retry until the backend's attempt limit is reached.
type Handler func(ctx context.Context, message domain.QueueMessage) error

// Consumer delivers messages to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}
