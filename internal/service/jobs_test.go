package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/optimizer"
	"github.com/iago/fleetops-back/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	mu      sync.Mutex
	inputs  []any
	respond func(input any, stream io.Writer) (*optimizer.Invocation, error)
}

func (f *fakeRunner) Run(_ context.Context, input any, stream io.Writer) (*optimizer.Invocation, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	return f.respond(input, stream)
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []domain.QueueMessage
	err      error
}

func (p *fakeProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

func emit(stream io.Writer, text string) (*optimizer.Invocation, error) {
	_, _ = io.WriteString(stream, text)
	return &optimizer.Invocation{Duration: time.Millisecond}, nil
}

func crash(stream io.Writer, stderr string) (*optimizer.Invocation, error) {
	_, _ = io.WriteString(stream, stderr)
	return &optimizer.Invocation{Diagnostics: stderr}, &optimizer.ExitError{Code: 1, Stderr: stderr}
}

type serviceFixture struct {
	repo     *repository.MemoryJobsRepository
	producer *fakeProducer
	runner   *fakeRunner
	service  *JobsService
}

func newServiceFixture(t *testing.T, respond func(input any, stream io.Writer) (*optimizer.Invocation, error)) *serviceFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := repository.NewMemoryJobsRepository()
	minter := NewJobIDMinter(repo, JobIDConfig{}, nil, logger)
	minter.sleep = func(context.Context, time.Duration) error { return nil }
	runner := &fakeRunner{respond: respond}
	producer := &fakeProducer{}
	return &serviceFixture{
		repo:     repo,
		producer: producer,
		runner:   runner,
		service:  NewJobsService(repo, producer, runner, minter, nil, logger, time.Second),
	}
}

func decodeObject(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var object map[string]any
	require.NoError(t, json.Unmarshal(raw, &object))
	return object
}

func TestOptimizeAllocationMergesCustomersAndDerivesRoutes(t *testing.T) {
	fixture := newServiceFixture(t, func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return emit(stream, `{"allocations":[{"source":"Accra","destination":"Main St.","quantity":5,"cost":12.5}]}`)
	})

	outcome, err := fixture.service.OptimizeAllocation(context.Background(), "manager-1", AllocationRequest{
		Sources:      []domain.SourceSupply{{Street: "Accra", Capacity: 10}},
		Destinations: []domain.DestinationDemand{{Street: "  main st  ", Demand: 5, Customer: "Acme"}},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Allocations, 1)
	require.Len(t, outcome.Routes, 1)

	allocation := decodeObject(t, outcome.Allocations[0])
	assert.Equal(t, "Acme", allocation["destination_customer"])
	assert.Equal(t, 12.5, allocation["cost"])

	route := decodeObject(t, outcome.Routes[0])
	assert.NotEmpty(t, route["id"])
	assert.Equal(t, "Main St.", route["destination"])
	assert.Equal(t, "Acme", route["destination_customer"])

	stored, err := fixture.repo.GetJob(context.Background(), domain.JobKindAllocation, outcome.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	var results domain.AllocationResults
	require.NoError(t, json.Unmarshal(stored.Results, &results))
	require.Len(t, results.DestinationCustomers, 1)
	assert.Equal(t, "Acme", results.DestinationCustomers[0].Customer)
}

func TestOptimizeAllocationKeepsWorkerRoutes(t *testing.T) {
	fixture := newServiceFixture(t, func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return emit(stream, `{"allocations":[{"source":"A","destination":"B","quantity":1}],"routes":[{"path":["A","B"]}]}`)
	})

	outcome, err := fixture.service.OptimizeAllocation(context.Background(), "manager-1", AllocationRequest{
		Sources:      []domain.SourceSupply{{Street: "A", Capacity: 1}},
		Destinations: []domain.DestinationDemand{{Street: "B", Demand: 1}},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Routes, 1)
	assert.JSONEq(t, `{"path":["A","B"]}`, string(outcome.Routes[0]))
}

func TestOptimizeAllocationWorkerFailureMarksJobFailed(t *testing.T) {
	fixture := newServiceFixture(t, func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return crash(stream, "Traceback: solver exploded\n")
	})

	_, err := fixture.service.OptimizeAllocation(context.Background(), "manager-1", AllocationRequest{
		Sources:      []domain.SourceSupply{{Street: "A", Capacity: 1}},
		Destinations: []domain.DestinationDemand{{Street: "B", Demand: 1}},
	})
	require.Error(t, err)
	var exitErr *optimizer.ExitError
	assert.ErrorAs(t, err, &exitErr)

	jobs, err := fixture.repo.ListByOwner(context.Background(), domain.JobListFilter{
		Kind:    domain.JobKindAllocation,
		OwnerID: "manager-1",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorMessage, "solver exploded")
}

type flakyUpsertRepository struct {
	*repository.MemoryJobsRepository
	mu       sync.Mutex
	failures int
}

func (r *flakyUpsertRepository) UpsertResult(ctx context.Context, patch domain.ResultPatch) (*domain.Job, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	r.mu.Unlock()
	return r.MemoryJobsRepository.UpsertResult(ctx, patch)
}

func TestOptimizeAllocationStoreFailureMarksJobFailed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	repo := &flakyUpsertRepository{MemoryJobsRepository: repository.NewMemoryJobsRepository(), failures: 1}
	minter := NewJobIDMinter(repo, JobIDConfig{}, nil, logger)
	runner := &fakeRunner{respond: func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return emit(stream, `{"allocations":[{"source":"A","destination":"B","quantity":1}]}`)
	}}
	service := NewJobsService(repo, &fakeProducer{}, runner, minter, nil, logger, time.Second)

	_, err := service.OptimizeAllocation(context.Background(), "manager-1", AllocationRequest{
		Sources:      []domain.SourceSupply{{Street: "A", Capacity: 1}},
		Destinations: []domain.DestinationDemand{{Street: "B", Demand: 1}},
	})
	require.ErrorContains(t, err, "connection reset")

	jobs, err := repo.ListByOwner(context.Background(), domain.JobListFilter{
		Kind:    domain.JobKindAllocation,
		OwnerID: "manager-1",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorMessage, "store allocation result: connection reset")
	assert.NotNil(t, jobs[0].CompletedAt)
}

func TestOptimizeAllocationRejectsEmptyBatch(t *testing.T) {
	fixture := newServiceFixture(t, nil)

	_, err := fixture.service.OptimizeAllocation(context.Background(), "manager-1", AllocationRequest{
		Destinations: []domain.DestinationDemand{{Street: "B", Demand: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, fixture.runner.calls())

	jobs, err := fixture.repo.ListByOwner(context.Background(), domain.JobListFilter{
		Kind:    domain.JobKindAllocation,
		OwnerID: "manager-1",
	})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitRoutesRejectsWhenNoPairIsUsable(t *testing.T) {
	fixture := newServiceFixture(t, nil)

	_, err := fixture.service.SubmitRoutes(context.Background(), "manager-1", RouteRequest{
		Entries: []json.RawMessage{json.RawMessage(`{"start":"Accra"}`), json.RawMessage(`"oops"`)},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, fixture.producer.messages)
}

func TestSubmitRoutesEnqueueFailureMarksJobFailed(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	fixture.producer.err = errors.New("queue down")

	_, err := fixture.service.SubmitRoutes(context.Background(), "manager-1", RouteRequest{
		Entries: []json.RawMessage{json.RawMessage(`{"start":"Accra","end":"Tema"}`)},
	})
	require.Error(t, err)

	jobs, err := fixture.repo.ListByOwner(context.Background(), domain.JobListFilter{
		Kind:    domain.JobKindRoute,
		OwnerID: "manager-1",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorMessage, "queue down")
}

func TestRunRouteJobProcessesPairsSequentially(t *testing.T) {
	fixture := newServiceFixture(t, func(input any, stream io.Writer) (*optimizer.Invocation, error) {
		pair := input.(domain.RoutePairInput)
		switch pair.Destination {
		case "Kumasi":
			return emit(stream, "loading graph\nRoute Result: {\"distance\":250}\n")
		case "Tema":
			return emit(stream, "Route Result: {\"distance\":30}\n")
		default:
			return crash(stream, "no path found\n")
		}
	})
	ctx := context.Background()

	job, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Entries: []json.RawMessage{
			json.RawMessage(`{"start":"Accra","end":"Kumasi","customer":"Kofi"}`),
			json.RawMessage(`{"source":"Accra","destination":"Tema"}`),
			json.RawMessage(`{"from":"Accra","to":"Nowhere"}`),
			json.RawMessage(`{"from":"Accra"}`),
		},
		Destinations: []json.RawMessage{json.RawMessage(`{"dest_street":"tema","customer":"Tema Retail"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
	assert.Equal(t, 3, job.InputSummary.PairCount)
	assert.Equal(t, 1, job.InputSummary.SkippedPairs)
	require.Len(t, fixture.producer.messages, 1)

	require.NoError(t, fixture.service.RunRouteJob(ctx, fixture.producer.messages[0]))

	view, err := fixture.service.RouteStatus(ctx, "manager-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, view.Status)
	assert.Equal(t, 3, view.TotalProcessed)
	assert.Equal(t, 2, view.SuccessCount)
	assert.Equal(t, 1, view.ErrorCount)
	require.Len(t, view.Routes, 2)

	first := decodeObject(t, view.Routes[0])
	assert.Equal(t, "Accra", first["start"])
	assert.Equal(t, "Kumasi", first["end"])
	assert.Equal(t, "Kofi", first["customer"])
	assert.Equal(t, 250.0, first["distance"])

	second := decodeObject(t, view.Routes[1])
	assert.Equal(t, "Tema Retail", second["destination_customer"])

	require.Len(t, view.Errors, 1)
	assert.Equal(t, "Nowhere", view.Errors[0].End)
	assert.Contains(t, view.Errors[0].Error, "no path found")

	inputs := fixture.runner.inputs
	require.Len(t, inputs, 3)
	assert.Equal(t, domain.RoutePairInput{Source: "Accra", Destination: "Kumasi"}, inputs[0])
}

func TestRunRouteJobCountsWorkerErrorReportAsFailedUnit(t *testing.T) {
	fixture := newServiceFixture(t, func(input any, stream io.Writer) (*optimizer.Invocation, error) {
		pair := input.(domain.RoutePairInput)
		if pair.Destination == "Nowhere" {
			return emit(stream, "Planner reported error: End street 'Nowhere' not found\n"+
				`{"error": "End street 'Nowhere' not found", "similar_streets": []}`+"\n")
		}
		return emit(stream, "Route Result:\n{\"distance\":250}\n")
	})
	ctx := context.Background()

	job, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Entries: []json.RawMessage{
			json.RawMessage(`{"start":"Accra","end":"Kumasi"}`),
			json.RawMessage(`{"start":"Accra","end":"Nowhere"}`),
		},
	})
	require.NoError(t, err)
	require.NoError(t, fixture.service.RunRouteJob(ctx, fixture.producer.messages[0]))

	view, err := fixture.service.RouteStatus(ctx, "manager-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, view.Status)
	assert.Equal(t, 1, view.SuccessCount)
	assert.Equal(t, 1, view.ErrorCount)
	require.Len(t, view.Routes, 1)
	assert.Equal(t, "Kumasi", decodeObject(t, view.Routes[0])["end"])
	require.Len(t, view.Errors, 1)
	assert.Equal(t, "Nowhere", view.Errors[0].End)
	assert.Contains(t, view.Errors[0].Error, "End street 'Nowhere' not found")
}

func TestRunRouteJobGroupsBySourceWhenLinkedToAllocation(t *testing.T) {
	fixture := newServiceFixture(t, func(input any, stream io.Writer) (*optimizer.Invocation, error) {
		group := input.(domain.RouteGroupInput)
		if group.Source == "Takoradi" {
			return emit(stream, `{"error":"source not on map"}`)
		}
		return emit(stream, `Route Result: {"source":"Accra","destinations":[{"destination":"Kumasi","distance":250},{"destination":"Tema","distance":30}]}`)
	})
	ctx := context.Background()

	job, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Entries: []json.RawMessage{
			json.RawMessage(`{"source":"Accra","destination":"Kumasi","customer":"Kofi"}`),
			json.RawMessage(`{"source":"Takoradi","destination":"Cape Coast"}`),
			json.RawMessage(`{"source":"Accra","destination":"Tema"}`),
		},
		AllocationJobID: "alloc-1",
	})
	require.NoError(t, err)
	assert.True(t, job.InputSummary.Grouped)
	assert.Equal(t, 2, job.InputSummary.SourceCount)

	require.NoError(t, fixture.service.RunRouteJob(ctx, fixture.producer.messages[0]))

	view, err := fixture.service.RouteStatus(ctx, "manager-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.SuccessCount)
	require.Len(t, view.Routes, 1)
	require.Len(t, view.Errors, 1)
	assert.Equal(t, "Takoradi", view.Errors[0].Source)
	assert.Contains(t, view.Errors[0].Error, "source not on map")

	route := decodeObject(t, view.Routes[0])
	destinations := route["destinations"].([]any)
	assert.Equal(t, "Kofi", destinations[0].(map[string]any)["customer"])
	assert.NotContains(t, destinations[1].(map[string]any), "customer")

	first := fixture.runner.inputs[0].(domain.RouteGroupInput)
	assert.True(t, first.IsMultiDestination)
	assert.Equal(t, []string{"Kumasi", "Tema"}, first.Destinations)
}

func TestRunRouteJobIgnoresFinishedJobs(t *testing.T) {
	fixture := newServiceFixture(t, func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return emit(stream, `Route Result: {"distance":1}`)
	})
	ctx := context.Background()

	_, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Pairs: []domain.RoutePair{{Source: "A", Destination: "B"}},
	})
	require.NoError(t, err)
	message := fixture.producer.messages[0]

	require.NoError(t, fixture.service.RunRouteJob(ctx, message))
	require.NoError(t, fixture.service.RunRouteJob(ctx, message))
	assert.Equal(t, 1, fixture.runner.calls())
}

func TestRunRouteJobDropsUnknownJob(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	err := fixture.service.RunRouteJob(context.Background(), domain.QueueMessage{JobID: "ghost", Kind: domain.JobKindRoute})
	require.NoError(t, err)
}

func TestRunRouteJobFailsUndecodableInput(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, fixture.repo.CreateJob(ctx, &domain.Job{
		ID:        "broken",
		Kind:      domain.JobKindRoute,
		OwnerID:   "manager-1",
		Status:    domain.JobStatusProcessing,
		Input:     json.RawMessage(`[1,2,3]`),
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, fixture.service.RunRouteJob(ctx, domain.QueueMessage{JobID: "broken", Kind: domain.JobKindRoute}))

	job, err := fixture.repo.GetJob(ctx, domain.JobKindRoute, "broken")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "decode route input")
}

func TestMarkFailedLeavesFinishedJobs(t *testing.T) {
	fixture := newServiceFixture(t, func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return emit(stream, `Route Result: {"distance":1}`)
	})
	ctx := context.Background()

	job, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Pairs: []domain.RoutePair{{Source: "A", Destination: "B"}},
	})
	require.NoError(t, err)
	message := fixture.producer.messages[0]

	require.NoError(t, fixture.service.MarkFailed(ctx, message, errors.New("attempts exhausted")))
	stored, err := fixture.repo.GetJob(ctx, domain.JobKindRoute, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "attempts exhausted", stored.ErrorMessage)

	require.NoError(t, fixture.service.MarkFailed(ctx, message, errors.New("again")))
	stored, err = fixture.repo.GetJob(ctx, domain.JobKindRoute, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "attempts exhausted", stored.ErrorMessage)
}

func TestRouteStatusChecksOwner(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	ctx := context.Background()

	job, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Pairs: []domain.RoutePair{{Source: "A", Destination: "B"}},
	})
	require.NoError(t, err)

	view, err := fixture.service.RouteStatus(ctx, "manager-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, view.Status)
	assert.Empty(t, view.Routes)
	assert.NotNil(t, view.Errors)

	_, err = fixture.service.RouteStatus(ctx, "manager-2", job.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = fixture.service.RouteStatus(ctx, "manager-1", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRouteHistoryFormatsForClient(t *testing.T) {
	fixture := newServiceFixture(t, func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return emit(stream, `Route Result: {"distance":1}`)
	})
	ctx := context.Background()

	_, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Pairs:           []domain.RoutePair{{Source: "A", Destination: "B"}},
		AllocationJobID: "alloc-9",
	})
	require.NoError(t, err)

	items, err := fixture.service.RouteHistory(ctx, "manager-1", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].AllocationJobID)
	assert.Equal(t, "alloc-9", *items[0].AllocationJobID)
	assert.Nil(t, items[0].ExecutionTime)
	assert.Nil(t, items[0].Error)
	assert.Equal(t, 1, items[0].PairCount)
}

func TestRouteDestinationResolvesStoredRoute(t *testing.T) {
	fixture := newServiceFixture(t, func(_ any, stream io.Writer) (*optimizer.Invocation, error) {
		return emit(stream, `Route Result: {"distance":1}`)
	})
	ctx := context.Background()

	job, err := fixture.service.SubmitRoutes(ctx, "manager-1", RouteRequest{
		Pairs: []domain.RoutePair{{Source: "Accra", Destination: "Kumasi"}},
	})
	require.NoError(t, err)
	require.NoError(t, fixture.service.RunRouteJob(ctx, fixture.producer.messages[0]))

	destination, ok := fixture.service.RouteDestination(ctx, job.ID, 0)
	require.True(t, ok)
	assert.Equal(t, "Kumasi", destination)

	_, ok = fixture.service.RouteDestination(ctx, job.ID, 3)
	assert.False(t, ok)
	_, ok = fixture.service.RouteDestination(ctx, "missing", 0)
	assert.False(t, ok)
}
