package queue

import (
	"context"
	"sync"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"go.uber.org/zap"
)

const defaultRetryStep = 500 * time.Millisecond

// LocalQueue is the in-process transport used when Redis is not configured.
// Messages are lost on restart.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	retryStep   time.Duration
	logger      *zap.Logger

	dlqMu sync.Mutex
	dlq   []DeadLetter
}

// DeadLetter is a message that exhausted its attempts.
type DeadLetter struct {
	Message domain.QueueMessage
	Error   string
	MovedAt time.Time
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *zap.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		retryStep:   defaultRetryStep,
		logger:      logger,
		dlq:         make([]DeadLetter, 0),
	}
}

func (q *LocalQueue) MaxAttempts() int {
	return q.maxAttempts
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, DeadLetter{Message: message, Error: err.Error(), MovedAt: time.Now().UTC()})
				q.dlqMu.Unlock()
				q.logger.Warn("local queue moved message to dlq",
					zap.String("job_id", message.JobID),
					zap.Int("attempt", message.Attempt),
					zap.Error(err),
				)
				continue
			}

			delay := time.Duration(message.Attempt) * q.retryStep
			q.logger.Info("local queue retrying message",
				zap.String("job_id", message.JobID),
				zap.Int("attempt", message.Attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			go q.requeueAfter(ctx, message, delay)
		}
	}
}

func (q *LocalQueue) requeueAfter(ctx context.Context, message domain.QueueMessage, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	select {
	case <-ctx.Done():
	case q.ch <- message:
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]DeadLetter(nil), q.dlq...)
}
