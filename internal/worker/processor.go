package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/queue"
	"go.uber.org/zap"
)

// RouteJobs runs and finalizes route jobs. JobsService implements it.
type RouteJobs interface {
	RunRouteJob(ctx context.Context, message domain.QueueMessage) error
	MarkFailed(ctx context.Context, message domain.QueueMessage, cause error) error
}

// Processor consumes queued route jobs until its context ends.
type Processor struct {
	consumer    queue.Consumer
	jobs        RouteJobs
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

func NewProcessor(consumer queue.Consumer, jobs RouteJobs, maxAttempts int, logger *zap.Logger) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		consumer:    consumer,
		jobs:        jobs,
		maxAttempts: maxAttempts,
		retryDelay:  2 * time.Second,
		logger:      logger,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error("worker consume loop error", zap.Error(err))

		timer := time.NewTimer(p.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	if message.Kind != "" && message.Kind != domain.JobKindRoute {
		p.logger.Warn("unsupported job kind dropped",
			zap.String("job_id", message.JobID),
			zap.String("kind", string(message.Kind)),
		)
		return nil
	}

	started := time.Now()
	err := p.jobs.RunRouteJob(ctx, message)
	if err == nil {
		p.logger.Info("job processed",
			zap.String("job_id", message.JobID),
			zap.Duration("elapsed", time.Since(started)),
		)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	if message.Attempt+1 >= p.maxAttempts {
		// Last delivery: the queue dead-letters the message, so the record
		// must not stay processing.
		cause := fmt.Errorf("route job failed after %d attempts: %w", message.Attempt+1, err)
		if markErr := p.jobs.MarkFailed(context.WithoutCancel(ctx), message, cause); markErr != nil {
			p.logger.Error("mark job failed",
				zap.String("job_id", message.JobID),
				zap.Error(markErr),
			)
		}
	}
	p.logger.Warn("job attempt failed",
		zap.String("job_id", message.JobID),
		zap.Int("attempt", message.Attempt),
		zap.Error(err),
	)
	return err
}
