package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/metrics"
	"github.com/iago/fleetops-back/internal/repository"
	"go.uber.org/zap"
)

var ErrJobIDExhausted = errors.New("job id collision retries exhausted")

type JobIDConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
}

// JobIDMinter generates job ids and resolves key collisions by deriving
// "<id>-<unixnano>" replacements, with a bounded number of attempts.
type JobIDMinter struct {
	repo        repository.JobsRepository
	maxAttempts int
	base        time.Duration
	cap         time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	newID func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewJobIDMinter(
	repo repository.JobsRepository,
	cfg JobIDConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *JobIDMinter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 20 * time.Millisecond
	}
	if cfg.RetryCap <= 0 || cfg.RetryCap < cfg.RetryBase {
		cfg.RetryCap = 50 * cfg.RetryBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobIDMinter{
		repo:        repo,
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.RetryBase,
		cap:         cfg.RetryCap,
		metrics:     m,
		logger:      logger,
		newID:       uuid.NewString,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Mint returns a fresh id, replacing it when a record already uses it. A
// failed existence check is logged and the fresh id is used as is.
func (m *JobIDMinter) Mint(ctx context.Context, kind domain.JobKind) string {
	id := m.newID()
	exists, err := m.repo.JobExists(ctx, kind, id)
	if err != nil {
		m.logger.Warn("job id existence check failed", zap.String("job_id", id), zap.Error(err))
		return id
	}
	if !exists {
		return id
	}
	m.metrics.JobIDCollision(string(kind))
	replacement := m.derive(id)
	m.logger.Info("job id already in use, minted replacement",
		zap.String("job_id", id),
		zap.String("replacement", replacement),
	)
	return replacement
}

// CreateWithRetry inserts job in processing state. On a duplicate key it
// rewrites job.ID and tries again; the caller sees the final id on job.
func (m *JobIDMinter) CreateWithRetry(ctx context.Context, job *domain.Job) error {
	original := job.ID
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		err := m.repo.CreateJob(ctx, job)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateJobID) {
			return err
		}

		m.metrics.JobIDCollision(string(job.Kind))
		previous := job.ID
		job.ID = m.derive(original)
		m.logger.Warn("job id collision on create",
			zap.String("job_id", previous),
			zap.String("replacement", job.ID),
			zap.Int("attempt", attempt+1),
		)
		if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: create %s after %d attempts", ErrJobIDExhausted, original, m.maxAttempts)
}

// UpsertWithRetry writes a terminal result. A duplicate key here means another
// writer owns the id; the result moves to a derived id and records the id it
// was meant for under "relocatedFrom". The returned job carries the final id.
func (m *JobIDMinter) UpsertWithRetry(ctx context.Context, patch domain.ResultPatch) (*domain.Job, error) {
	original := patch.JobID
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		job, err := m.repo.UpsertResult(ctx, patch)
		if err == nil {
			if job.ID != original {
				m.logger.Warn("job result stored under replacement id",
					zap.String("job_id", original),
					zap.String("replacement", job.ID),
				)
			}
			return job, nil
		}
		if !errors.Is(err, repository.ErrDuplicateJobID) {
			return nil, err
		}

		m.metrics.JobIDCollision(string(patch.Kind))
		patch.JobID = m.derive(original)
		patch.Results = withRelocation(patch.Results, original)
		m.logger.Warn("job id collision on upsert",
			zap.String("job_id", original),
			zap.String("replacement", patch.JobID),
			zap.Int("attempt", attempt+1),
		)
		if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: upsert %s after %d attempts", ErrJobIDExhausted, original, m.maxAttempts)
}

func (m *JobIDMinter) derive(id string) string {
	return fmt.Sprintf("%s-%d", id, m.now().UnixNano())
}

// backoff is full jitter: uniform in [0, min(cap, base*2^attempt)).
func (m *JobIDMinter) backoff(attempt int) time.Duration {
	ceiling := m.base
	for i := 0; i < attempt && ceiling < m.cap; i++ {
		ceiling *= 2
	}
	if ceiling > m.cap {
		ceiling = m.cap
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling))) //nolint:gosec // non-crypto backoff jitter
}

func withRelocation(results json.RawMessage, from string) json.RawMessage {
	fields := map[string]json.RawMessage{}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &fields); err != nil {
			return results
		}
	}
	fields["relocatedFrom"], _ = json.Marshal(from)
	encoded, err := json.Marshal(fields)
	if err != nil {
		return results
	}
	return encoded
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
