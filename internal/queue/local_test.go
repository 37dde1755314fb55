package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"go.uber.org/zap"
)

func TestLocalQueueRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q := NewLocalQueue(4, 3, zap.NewNop())
	q.retryStep = time.Millisecond

	var calls atomic.Int32
	done := make(chan domain.QueueMessage, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, message domain.QueueMessage) error {
			if calls.Add(1) < 2 {
				return errors.New("worker busy")
			}
			done <- message
			return nil
		})
	}()

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "route-1", Kind: domain.JobKindRoute}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case message := <-done:
		if message.Attempt != 1 {
			t.Fatalf("expected attempt 1 on redelivery, got %d", message.Attempt)
		}
	case <-ctx.Done():
		t.Fatal("message was not redelivered")
	}
	if q.DLQSize() != 0 {
		t.Fatalf("expected empty dlq, got %d", q.DLQSize())
	}
}

func TestLocalQueueMovesExhaustedMessagesToDLQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q := NewLocalQueue(4, 2, zap.NewNop())
	q.retryStep = time.Millisecond

	go func() {
		_ = q.Consume(ctx, func(context.Context, domain.QueueMessage) error {
			return errors.New("always fails")
		})
	}()

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "route-2", Kind: domain.JobKindRoute}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for q.DLQSize() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("message never reached the dlq")
		case <-time.After(5 * time.Millisecond):
		}
	}
	letters := q.DeadLetters()
	if letters[0].Message.JobID != "route-2" || letters[0].Error != "always fails" {
		t.Fatalf("unexpected dead letter %+v", letters[0])
	}
	if letters[0].Message.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", letters[0].Message.Attempt)
	}
}
