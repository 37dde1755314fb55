package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fleetops-back/internal/customer"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/metrics"
	"github.com/iago/fleetops-back/internal/optimizer"
	"github.com/iago/fleetops-back/internal/queue"
	"github.com/iago/fleetops-back/internal/repository"
	"go.uber.org/zap"
)

// AllocationOutcome is what a synchronous allocation returns to the caller.
type AllocationOutcome struct {
	JobID       string            `json:"jobId"`
	Routes      []json.RawMessage `json:"routes"`
	Allocations []json.RawMessage `json:"allocations"`
}

// RouteStatusView is the polling view of a route job.
type RouteStatusView struct {
	JobID          string                  `json:"jobId"`
	Status         domain.JobStatus        `json:"status"`
	Routes         []json.RawMessage       `json:"routes"`
	Errors         []domain.RouteUnitError `json:"errors"`
	TotalProcessed int                     `json:"totalProcessed"`
	SuccessCount   int                     `json:"successCount"`
	ErrorCount     int                     `json:"errorCount"`
	ExecutionTime  int64                   `json:"executionTime"`
	CreatedAt      time.Time               `json:"createdAt"`
	CompletedAt    *time.Time              `json:"completedAt"`
	Error          string                  `json:"error,omitempty"`
}

// RouteHistoryItem is one entry of the route history listing.
type RouteHistoryItem struct {
	JobID           string                  `json:"jobId"`
	AllocationJobID *string                 `json:"allocationJobId"`
	Status          domain.JobStatus        `json:"status"`
	CreatedAt       time.Time               `json:"createdAt"`
	CompletedAt     *time.Time              `json:"completedAt"`
	ExecutionTime   *string                 `json:"executionTime"`
	PairCount       int                     `json:"pairCount"`
	SkippedPairs    int                     `json:"skippedPairs"`
	Routes          []json.RawMessage       `json:"routes"`
	Errors          []domain.RouteUnitError `json:"errors"`
	TotalProcessed  int                     `json:"totalProcessed"`
	SuccessCount    int                     `json:"successCount"`
	ErrorCount      int                     `json:"errorCount"`
	Error           *string                 `json:"error"`
}

// AllocationView is a stored allocation job as returned to its owner.
type AllocationView struct {
	JobID         string                   `json:"jobId"`
	Status        domain.JobStatus         `json:"status"`
	Summary       domain.InputSummary      `json:"inputSummary"`
	Results       domain.AllocationResults `json:"results"`
	ExecutionTime int64                    `json:"executionTime"`
	CreatedAt     time.Time                `json:"createdAt"`
	CompletedAt   *time.Time               `json:"completedAt"`
	Error         string                   `json:"error,omitempty"`
}

type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	runner   optimizer.Runner
	minter   *JobIDMinter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewJobsService(
	repo repository.JobsRepository,
	producer queue.Producer,
	runner optimizer.Runner,
	minter *JobIDMinter,
	m *metrics.Metrics,
	logger *zap.Logger,
	timeout time.Duration,
) *JobsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &JobsService{
		repo:     repo,
		producer: producer,
		runner:   runner,
		minter:   minter,
		metrics:  m,
		logger:   logger,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OptimizeAllocation runs the whole batch through the worker once and stores
// the merged result before returning it.
func (s *JobsService) OptimizeAllocation(
	ctx context.Context,
	ownerID string,
	request AllocationRequest,
) (*AllocationOutcome, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	input := domain.AllocationInput{Sources: request.Sources, Destinations: request.Destinations}
	encodedInput, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode allocation input: %w", err)
	}

	job := &domain.Job{
		ID:      s.minter.Mint(ctx, domain.JobKindAllocation),
		Kind:    domain.JobKindAllocation,
		OwnerID: ownerID,
		Status:  domain.JobStatusProcessing,
		Input:   encodedInput,
		InputSummary: domain.InputSummary{
			SourceCount:      len(request.Sources),
			DestinationCount: len(request.Destinations),
		},
		CreatedAt: s.now(),
	}
	if err := s.minter.CreateWithRetry(ctx, job); err != nil {
		return nil, fmt.Errorf("create allocation job: %w", err)
	}
	s.metrics.JobSubmitted(string(job.Kind))
	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	logger.Info("allocation started",
		zap.Int("sources", len(request.Sources)),
		zap.Int("destinations", len(request.Destinations)),
	)

	payload, err := s.invoke(ctx, input, optimizer.ModeAllocation)
	if err != nil {
		logger.Warn("allocation worker failed", zap.Error(err))
		s.storeFailure(ctx, job, err)
		return nil, fmt.Errorf("optimization error: %w", err)
	}

	var output struct {
		Allocations []json.RawMessage `json:"allocations"`
		Routes      []json.RawMessage `json:"routes"`
	}
	if err := json.Unmarshal(payload, &output); err != nil {
		s.storeFailure(ctx, job, err)
		return nil, fmt.Errorf("optimization error: decode worker result: %w", err)
	}

	index := customer.NewIndexFromDemands(request.Destinations, logger)
	allocations := index.Merge(output.Allocations)
	routes := output.Routes
	if len(routes) == 0 && len(allocations) > 0 {
		routes = generateRoutes(allocations)
	}
	if allocations == nil {
		allocations = []json.RawMessage{}
	}
	if routes == nil {
		routes = []json.RawMessage{}
	}

	results, err := json.Marshal(domain.AllocationResults{
		Allocations:          allocations,
		Routes:               routes,
		DestinationCustomers: customer.CustomerRecords(allocations),
	})
	if err != nil {
		s.storeFailure(ctx, job, err)
		return nil, fmt.Errorf("encode allocation results: %w", err)
	}

	stored, err := s.minter.UpsertWithRetry(ctx, s.terminalPatch(job, domain.JobStatusCompleted, results, ""))
	if err != nil {
		logger.Error("allocation result not stored", zap.Error(err))
		s.storeFailure(ctx, job, fmt.Errorf("store allocation result: %w", err))
		return nil, fmt.Errorf("store allocation result: %w", err)
	}
	s.metrics.JobFinished(string(job.Kind), string(domain.JobStatusCompleted))
	logger.Info("allocation completed",
		zap.String("stored_as", stored.ID),
		zap.Int("allocations", len(allocations)),
		zap.Int("routes", len(routes)),
	)

	return &AllocationOutcome{JobID: stored.ID, Routes: routes, Allocations: allocations}, nil
}

// SubmitRoutes records a route job and hands it to the queue. Nothing is
// created when no entry yields a usable pair.
func (s *JobsService) SubmitRoutes(ctx context.Context, ownerID string, request RouteRequest) (*domain.Job, error) {
	pairs, skipped := NormalizePairs(request.Entries)
	pairs = append(append([]domain.RoutePair(nil), request.Pairs...), pairs...)
	skipped += request.Skipped
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no valid source-destination pairs", ErrInvalidInput)
	}

	input := domain.RouteJobInput{Destinations: request.Destinations}
	summary := domain.InputSummary{
		SourceCount:      countSources(pairs),
		DestinationCount: len(pairs),
		PairCount:        len(pairs),
		SkippedPairs:     skipped,
		AllocationJobID:  request.AllocationJobID,
	}
	if request.AllocationJobID != "" {
		input.Groups = GroupBySource(pairs)
		summary.Grouped = true
	} else {
		input.Pairs = pairs
	}
	encodedInput, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode route input: %w", err)
	}

	job := &domain.Job{
		ID:           s.minter.Mint(ctx, domain.JobKindRoute),
		Kind:         domain.JobKindRoute,
		OwnerID:      ownerID,
		Status:       domain.JobStatusProcessing,
		Input:        encodedInput,
		InputSummary: summary,
		CreatedAt:    s.now(),
	}
	if err := s.minter.CreateWithRetry(ctx, job); err != nil {
		return nil, fmt.Errorf("create route job: %w", err)
	}
	s.metrics.JobSubmitted(string(job.Kind))

	message := domain.QueueMessage{
		JobID:       job.ID,
		Kind:        job.Kind,
		OwnerID:     ownerID,
		Attempt:     0,
		RequestedAt: job.CreatedAt,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		s.logger.Error("route job enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		s.storeFailure(ctx, job, fmt.Errorf("enqueue failed: %w", err))
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("route job submitted",
		zap.String("job_id", job.ID),
		zap.Int("pairs", len(pairs)),
		zap.Int("skipped", skipped),
		zap.Bool("grouped", summary.Grouped),
	)
	return job, nil
}

// RunRouteJob processes one delivery of a route job. Units run one at a time;
// a failing unit becomes an entry in errors and does not stop the job. A
// redelivered job that already finished is left alone.
func (s *JobsService) RunRouteJob(ctx context.Context, message domain.QueueMessage) error {
	job, err := s.repo.GetJob(ctx, domain.JobKindRoute, message.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("route job not found, dropping message", zap.String("job_id", message.JobID))
			return nil
		}
		return fmt.Errorf("load route job %s: %w", message.JobID, err)
	}
	if job.Status.IsTerminal() {
		s.logger.Info("route job already finished",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}
	logger := s.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", message.Attempt))

	var input domain.RouteJobInput
	if err := json.Unmarshal(job.Input, &input); err != nil {
		logger.Error("route job input undecodable", zap.Error(err))
		return s.finishFailed(ctx, job, fmt.Errorf("decode route input: %w", err))
	}

	index := customer.NewIndex(input.Destinations, logger)
	results := domain.RouteResults{Routes: []json.RawMessage{}, Errors: []domain.RouteUnitError{}}
	if len(input.Groups) > 0 {
		s.runGroups(ctx, logger, input.Groups, index, &results)
	} else {
		s.runPairs(ctx, logger, input.Pairs, index, &results)
	}
	if err := ctx.Err(); err != nil {
		// Shutdown mid-job: leave the record processing so the redelivery
		// starts over.
		return err
	}
	results.TotalProcessed = len(results.Routes) + len(results.Errors)
	results.ErrorCount = len(results.Errors)

	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode route results: %w", err)
	}
	stored, err := s.minter.UpsertWithRetry(ctx, s.terminalPatch(job, domain.JobStatusCompleted, encoded, ""))
	if err != nil {
		return fmt.Errorf("store route result: %w", err)
	}
	s.metrics.JobFinished(string(job.Kind), string(domain.JobStatusCompleted))
	logger.Info("route job completed",
		zap.String("stored_as", stored.ID),
		zap.Int("routes", len(results.Routes)),
		zap.Int("errors", results.ErrorCount),
	)
	return nil
}

// MarkFailed moves a route job that exhausted its deliveries to failed. A job
// that already finished is left as is.
func (s *JobsService) MarkFailed(ctx context.Context, message domain.QueueMessage, cause error) error {
	job, err := s.repo.GetJob(ctx, domain.JobKindRoute, message.JobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	return s.finishFailed(ctx, job, cause)
}

func (s *JobsService) RouteStatus(ctx context.Context, ownerID, jobID string) (*RouteStatusView, error) {
	job, err := s.repo.FindOwned(ctx, domain.JobKindRoute, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	results := decodeRouteResults(job.Results)
	return &RouteStatusView{
		JobID:          job.ID,
		Status:         job.Status,
		Routes:         results.Routes,
		Errors:         results.Errors,
		TotalProcessed: results.TotalProcessed,
		SuccessCount:   results.SuccessCount,
		ErrorCount:     results.ErrorCount,
		ExecutionTime:  job.ExecutionTimeMS,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
		Error:          job.ErrorMessage,
	}, nil
}

func (s *JobsService) RouteHistory(ctx context.Context, ownerID string, limit int) ([]RouteHistoryItem, error) {
	jobs, err := s.repo.ListByOwner(ctx, domain.JobListFilter{Kind: domain.JobKindRoute, OwnerID: ownerID, Limit: limit})
	if err != nil {
		return nil, err
	}
	items := make([]RouteHistoryItem, 0, len(jobs))
	for i := range jobs {
		items = append(items, routeHistoryItem(&jobs[i]))
	}
	return items, nil
}

func (s *JobsService) AllocationResult(ctx context.Context, ownerID, jobID string) (*AllocationView, error) {
	job, err := s.repo.FindOwned(ctx, domain.JobKindAllocation, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	view := allocationView(job)
	return &view, nil
}

func (s *JobsService) AllocationHistory(ctx context.Context, ownerID string, limit int) ([]AllocationView, error) {
	jobs, err := s.repo.ListByOwner(ctx, domain.JobListFilter{Kind: domain.JobKindAllocation, OwnerID: ownerID, Limit: limit})
	if err != nil {
		return nil, err
	}
	views := make([]AllocationView, 0, len(jobs))
	for i := range jobs {
		views = append(views, allocationView(&jobs[i]))
	}
	return views, nil
}

// RouteDestination resolves the destination of route index within a route
// job. ok is false when the job or route is unknown.
func (s *JobsService) RouteDestination(ctx context.Context, jobID string, index int) (string, bool) {
	job, err := s.repo.GetJob(ctx, domain.JobKindRoute, jobID)
	if err != nil {
		return "", false
	}
	routes := decodeRouteResults(job.Results).Routes
	if index < 0 || index >= len(routes) {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(routes[index], &fields); err != nil {
		return "", false
	}
	destination := aliasValue(fields, []string{"end", "destination"})
	return destination, destination != ""
}

func (s *JobsService) runPairs(
	ctx context.Context,
	logger *zap.Logger,
	pairs []domain.RoutePair,
	index *customer.Index,
	results *domain.RouteResults,
) {
	for i, pair := range pairs {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("processing route",
			zap.Int("unit", i+1),
			zap.Int("units", len(pairs)),
			zap.String("source", pair.Source),
			zap.String("destination", pair.Destination),
		)
		payload, err := s.invoke(ctx, domain.RoutePairInput{
			Source:      pair.Source,
			Destination: pair.Destination,
		}, optimizer.ModeRoute)
		if err == nil {
			var route json.RawMessage
			route, err = pairRoute(pair, payload, index)
			if err == nil {
				results.Routes = append(results.Routes, route)
				results.SuccessCount++
				continue
			}
		}
		logger.Warn("route unit failed",
			zap.String("source", pair.Source),
			zap.String("destination", pair.Destination),
			zap.Error(err),
		)
		results.Errors = append(results.Errors, domain.RouteUnitError{
			Start:    pair.Source,
			End:      pair.Destination,
			Customer: pair.Customer,
			Error:    err.Error(),
		})
	}
}

func (s *JobsService) runGroups(
	ctx context.Context,
	logger *zap.Logger,
	groups []domain.SourceGroup,
	index *customer.Index,
	results *domain.RouteResults,
) {
	for i, group := range groups {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("processing source group",
			zap.Int("unit", i+1),
			zap.Int("units", len(groups)),
			zap.String("source", group.Source),
			zap.Int("destinations", len(group.Destinations)),
		)
		payload, err := s.invoke(ctx, domain.RouteGroupInput{
			Source:             group.Source,
			Destinations:       group.Destinations,
			IsMultiDestination: true,
		}, optimizer.ModeRoute)
		if err == nil {
			var (
				route    json.RawMessage
				resolved int
			)
			route, resolved, err = groupRoute(group, payload, index)
			if err == nil {
				results.Routes = append(results.Routes, route)
				results.SuccessCount += resolved
				continue
			}
		}
		logger.Warn("source group failed", zap.String("source", group.Source), zap.Error(err))
		results.Errors = append(results.Errors, domain.RouteUnitError{Source: group.Source, Error: err.Error()})
	}
}

// invoke runs one unit under the per-unit timeout and records the outcome.
func (s *JobsService) invoke(ctx context.Context, input any, mode optimizer.Mode) (json.RawMessage, error) {
	unitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, invocation, err := optimizer.Invoke(unitCtx, s.runner, input, mode, nil)
	var duration time.Duration
	if invocation != nil {
		duration = invocation.Duration
	}
	s.metrics.WorkerInvocation(invocationOutcome(err), duration)
	return payload, err
}

func (s *JobsService) terminalPatch(
	job *domain.Job,
	status domain.JobStatus,
	results json.RawMessage,
	errorMessage string,
) domain.ResultPatch {
	return domain.ResultPatch{
		Kind:         job.Kind,
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		Status:       status,
		Results:      results,
		ErrorMessage: errorMessage,
		CompletedAt:  s.now(),
		Input:        job.Input,
		InputSummary: job.InputSummary,
		CreatedAt:    job.CreatedAt,
	}
}

func (s *JobsService) finishFailed(ctx context.Context, job *domain.Job, cause error) error {
	if _, err := s.minter.UpsertWithRetry(ctx, s.terminalPatch(job, domain.JobStatusFailed, nil, cause.Error())); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	s.metrics.JobFinished(string(job.Kind), string(domain.JobStatusFailed))
	return nil
}

// storeFailure records a failure the caller is already reporting; a store
// error is only logged.
func (s *JobsService) storeFailure(ctx context.Context, job *domain.Job, cause error) {
	if err := s.finishFailed(context.WithoutCancel(ctx), job, cause); err != nil {
		s.logger.Error("persist job failure failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func pairRoute(pair domain.RoutePair, payload json.RawMessage, index *customer.Index) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode route result: %w", err)
	}
	route := map[string]json.RawMessage{
		"start": mustString(pair.Source),
		"end":   mustString(pair.Destination),
	}
	for key, value := range fields {
		route[key] = value
	}
	if pair.Customer != "" {
		route["customer"] = mustString(pair.Customer)
	}
	encoded, err := json.Marshal(route)
	if err != nil {
		return nil, err
	}
	annotated, _ := index.Annotate(encoded, "end", "destination")
	return annotated, nil
}

// groupRoute attaches the group's customers to each destination the worker
// returned and reports how many destinations it resolved.
func groupRoute(group domain.SourceGroup, payload json.RawMessage, index *customer.Index) (json.RawMessage, int, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, 0, fmt.Errorf("decode route result: %w", err)
	}
	var destinations []json.RawMessage
	if raw, ok := fields["destinations"]; ok {
		if err := json.Unmarshal(raw, &destinations); err != nil {
			destinations = nil
		}
	}
	if len(destinations) == 0 {
		return payload, 0, nil
	}

	for i, raw := range destinations {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		name := aliasValue(entry, []string{"destination"})
		if assigned, ok := group.Customers[name]; ok && assigned != "" {
			entry["customer"] = mustString(assigned)
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		destinations[i], _ = index.Annotate(encoded, "destination")
	}

	encodedDestinations, err := json.Marshal(destinations)
	if err != nil {
		return nil, 0, err
	}
	fields["destinations"] = encodedDestinations
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, 0, err
	}
	return encoded, len(destinations), nil
}

func generateRoutes(allocations []json.RawMessage) []json.RawMessage {
	routes := make([]json.RawMessage, 0, len(allocations))
	for _, raw := range allocations {
		var allocation domain.Allocation
		if err := json.Unmarshal(raw, &allocation); err != nil {
			continue
		}
		encoded, err := json.Marshal(domain.GeneratedRoute{
			ID:                  uuid.NewString(),
			Source:              allocation.Source,
			Destination:         allocation.Destination,
			Quantity:            allocation.Quantity,
			DestinationCustomer: allocation.DestinationCustomer,
		})
		if err != nil {
			continue
		}
		routes = append(routes, encoded)
	}
	return routes
}

func decodeRouteResults(raw json.RawMessage) domain.RouteResults {
	var results domain.RouteResults
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &results)
	}
	if results.Routes == nil {
		results.Routes = []json.RawMessage{}
	}
	if results.Errors == nil {
		results.Errors = []domain.RouteUnitError{}
	}
	return results
}

func routeHistoryItem(job *domain.Job) RouteHistoryItem {
	results := decodeRouteResults(job.Results)
	item := RouteHistoryItem{
		JobID:          job.ID,
		Status:         job.Status,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
		PairCount:      job.InputSummary.PairCount,
		SkippedPairs:   job.InputSummary.SkippedPairs,
		Routes:         results.Routes,
		Errors:         results.Errors,
		TotalProcessed: results.TotalProcessed,
		SuccessCount:   results.SuccessCount,
		ErrorCount:     results.ErrorCount,
	}
	if job.InputSummary.AllocationJobID != "" {
		allocationJobID := job.InputSummary.AllocationJobID
		item.AllocationJobID = &allocationJobID
	}
	if job.ExecutionTimeMS > 0 {
		formatted := fmt.Sprintf("%.2f seconds", float64(job.ExecutionTimeMS)/1000)
		item.ExecutionTime = &formatted
	}
	if job.ErrorMessage != "" {
		message := job.ErrorMessage
		item.Error = &message
	}
	return item
}

func allocationView(job *domain.Job) AllocationView {
	var results domain.AllocationResults
	if len(job.Results) > 0 {
		_ = json.Unmarshal(job.Results, &results)
	}
	if results.Allocations == nil {
		results.Allocations = []json.RawMessage{}
	}
	if results.Routes == nil {
		results.Routes = []json.RawMessage{}
	}
	if results.DestinationCustomers == nil {
		results.DestinationCustomers = []domain.CustomerRecord{}
	}
	return AllocationView{
		JobID:         job.ID,
		Status:        job.Status,
		Summary:       job.InputSummary,
		Results:       results,
		ExecutionTime: job.ExecutionTimeMS,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
		Error:         job.ErrorMessage,
	}
}

func invocationOutcome(err error) string {
	var (
		exitErr   *optimizer.ExitError
		workerErr *optimizer.WorkerError
	)
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &exitErr):
		return metrics.OutcomeExitError
	case errors.As(err, &workerErr):
		return metrics.OutcomeWorkerError
	case errors.Is(err, optimizer.ErrNoResult):
		return metrics.OutcomeNoResult
	default:
		return metrics.OutcomeError
	}
}

func countSources(pairs []domain.RoutePair) int {
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		seen[pair.Source] = struct{}{}
	}
	return len(seen)
}

func mustString(value string) json.RawMessage {
	encoded, _ := json.Marshal(value)
	return encoded
}
