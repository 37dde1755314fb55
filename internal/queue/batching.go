package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	// MaxBatchSize flushes a lane as soon as it holds this many jobs.
	MaxBatchSize int
	// FlushInterval is the longest the first job of a lane waits.
	FlushInterval time.Duration
	// FlushTimeout bounds one backend write, including the wait for a slot.
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
	Logger             *zap.Logger
}

// BatchWriter is implemented by backends that accept several messages in one
// round trip.
type BatchWriter interface {
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

type submission struct {
	ctx     context.Context
	message domain.QueueMessage
	result  chan error
}

// pendingJob is one job waiting in a lane. Every submission of the same job id
// while it waits shares its outcome.
type pendingJob struct {
	message domain.QueueMessage
	waiters []submission
}

type lane struct {
	jobs     []*pendingJob
	byJobID  map[string]*pendingJob
	deadline time.Time
}

func (l *lane) add(s submission) {
	if existing, ok := l.byJobID[s.message.JobID]; ok {
		existing.waiters = append(existing.waiters, s)
		return
	}
	job := &pendingJob{message: s.message, waiters: []submission{s}}
	l.jobs = append(l.jobs, job)
	l.byJobID[s.message.JobID] = job
}

// BatchingProducer sits in front of the queue backend on the route submission
// path. Fresh submissions are held per job kind for at most FlushInterval and
// written in one call; each batch interleaves owners so one manager's large
// upload does not push every other manager's jobs to the back of the stream.
// Redeliveries (Attempt > 0) go straight to the backend. A full intake buffer
// fails fast with ErrQueueBackpressure so the HTTP request is not held.
type BatchingProducer struct {
	next   Producer
	writer BatchWriter
	cfg    BatchingConfig
	logger *zap.Logger

	intake    chan submission
	slots     chan struct{}
	flushes   sync.WaitGroup
	closing   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

func NewBatchingProducer(parent context.Context, next Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &BatchingProducer{
		next:    next,
		cfg:     cfg,
		logger:  cfg.Logger,
		intake:  make(chan submission, cfg.QueueCapacity),
		slots:   make(chan struct{}, cfg.MaxInFlightBatches),
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
		now:     time.Now,
	}
	if writer, ok := next.(BatchWriter); ok {
		b.writer = writer
	}

	go b.loop(parent.Done())
	return b
}

func (b *BatchingProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if message.Attempt > 0 {
		return b.next.Enqueue(ctx, message)
	}

	s := submission{ctx: ctx, message: message, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrBatchingClosed
	default:
	}
	select {
	case b.intake <- s:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-s.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		// The final drain may have answered before closing.
		select {
		case err := <-s.result:
			return err
		default:
			return ErrBatchingClosed
		}
	}
}

// Close flushes everything still waiting and returns once all writes finish.
func (b *BatchingProducer) Close() {
	b.closeOnce.Do(func() { close(b.closing) })
	<-b.closed
}

func (b *BatchingProducer) loop(parentDone <-chan struct{}) {
	defer close(b.closed)

	lanes := make(map[domain.JobKind]*lane)
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	armed := false

	for {
		var fire <-chan time.Time
		if armed {
			fire = timer.C
		}

		select {
		case <-parentDone:
			b.drain(lanes)
			return
		case <-b.closing:
			b.drain(lanes)
			return
		case <-fire:
			now := b.now()
			for kind, l := range lanes {
				if !l.deadline.After(now) {
					delete(lanes, kind)
					b.dispatch(l.jobs)
				}
			}
		case s := <-b.intake:
			if err := s.ctx.Err(); err != nil {
				s.result <- err
				continue
			}
			kind := s.message.Kind
			l, ok := lanes[kind]
			if !ok {
				l = &lane{byJobID: make(map[string]*pendingJob), deadline: b.now().Add(b.cfg.FlushInterval)}
				lanes[kind] = l
			}
			l.add(s)
			if len(l.jobs) >= b.cfg.MaxBatchSize {
				delete(lanes, kind)
				b.dispatch(l.jobs)
			}
		}
		armed = b.arm(timer, lanes)
	}
}

// arm points timer at the earliest lane deadline.
func (b *BatchingProducer) arm(timer *time.Timer, lanes map[domain.JobKind]*lane) bool {
	stopTimer(timer)
	var earliest time.Time
	for _, l := range lanes {
		if earliest.IsZero() || l.deadline.Before(earliest) {
			earliest = l.deadline
		}
	}
	if earliest.IsZero() {
		return false
	}
	wait := earliest.Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
	return true
}

// drain picks up submissions still sitting in the intake buffer and writes
// every lane before returning.
func (b *BatchingProducer) drain(lanes map[domain.JobKind]*lane) {
	for pending := true; pending; {
		select {
		case s := <-b.intake:
			l, ok := lanes[s.message.Kind]
			if !ok {
				l = &lane{byJobID: make(map[string]*pendingJob)}
				lanes[s.message.Kind] = l
			}
			l.add(s)
		default:
			pending = false
		}
	}
	for kind, l := range lanes {
		delete(lanes, kind)
		b.dispatch(l.jobs)
	}
	b.flushes.Wait()
}

// dispatch waits for a write slot and hands the batch to a goroutine. While
// all slots are busy the loop stops reading intake, so a slow backend shows
// up as backpressure at Enqueue.
func (b *BatchingProducer) dispatch(jobs []*pendingJob) {
	live := jobs[:0]
	for _, job := range jobs {
		waiters := job.waiters[:0]
		for _, s := range job.waiters {
			if err := s.ctx.Err(); err != nil {
				s.result <- err
				continue
			}
			waiters = append(waiters, s)
		}
		job.waiters = waiters
		if len(waiters) > 0 {
			live = append(live, job)
		}
	}
	if len(live) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FlushTimeout)
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		cancel()
		b.logger.Warn("no write slot for route batch", zap.Int("jobs", len(live)))
		answer(live, ctx.Err())
		return
	}

	batch := interleaveOwners(live)
	b.flushes.Add(1)
	go func() {
		defer b.flushes.Done()
		defer func() { <-b.slots }()
		defer cancel()
		b.write(ctx, batch)
	}()
}

func (b *BatchingProducer) write(ctx context.Context, batch []*pendingJob) {
	if b.writer != nil {
		messages := make([]domain.QueueMessage, 0, len(batch))
		for _, job := range batch {
			messages = append(messages, job.message)
		}
		err := b.writer.EnqueueBatch(ctx, messages)
		if err != nil {
			b.logger.Error("route batch write failed", zap.Int("jobs", len(batch)), zap.Error(err))
		}
		answer(batch, err)
		return
	}

	// One at a time: jobs written before a failure succeeded, the failed one
	// and everything after it report the error.
	var failure error
	for _, job := range batch {
		if failure == nil {
			failure = b.next.Enqueue(ctx, job.message)
			if failure != nil {
				b.logger.Error("route job write failed", zap.String("job_id", job.message.JobID), zap.Error(failure))
			}
		}
		answer([]*pendingJob{job}, failure)
	}
}

func answer(jobs []*pendingJob, err error) {
	for _, job := range jobs {
		for _, s := range job.waiters {
			s.result <- err
		}
	}
}

// interleaveOwners orders a batch round-robin across owners. Owners take
// turns in the order of their oldest request, and each owner's jobs keep
// their RequestedAt order.
func interleaveOwners(jobs []*pendingJob) []*pendingJob {
	byOwner := make(map[string][]*pendingJob)
	owners := make([]string, 0)
	for _, job := range jobs {
		owner := job.message.OwnerID
		if _, ok := byOwner[owner]; !ok {
			owners = append(owners, owner)
		}
		byOwner[owner] = append(byOwner[owner], job)
	}
	for _, owner := range owners {
		owned := byOwner[owner]
		sort.SliceStable(owned, func(i, j int) bool {
			return owned[i].message.RequestedAt.Before(owned[j].message.RequestedAt)
		})
	}
	sort.SliceStable(owners, func(i, j int) bool {
		return byOwner[owners[i]][0].message.RequestedAt.Before(byOwner[owners[j]][0].message.RequestedAt)
	})

	ordered := make([]*pendingJob, 0, len(jobs))
	for round := 0; len(ordered) < len(jobs); round++ {
		for _, owner := range owners {
			if owned := byOwner[owner]; round < len(owned) {
				ordered = append(ordered, owned[round])
			}
		}
	}
	return ordered
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
