package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iago/fleetops-back/internal/cache"
	"github.com/iago/fleetops-back/internal/domain"
	httpserver "github.com/iago/fleetops-back/internal/http"
	"github.com/iago/fleetops-back/internal/http/handlers"
	"github.com/iago/fleetops-back/internal/metrics"
	"github.com/iago/fleetops-back/internal/optimizer"
	"github.com/iago/fleetops-back/internal/queue"
	"github.com/iago/fleetops-back/internal/repository"
	"github.com/iago/fleetops-back/internal/service"
	"github.com/iago/fleetops-back/internal/worker"
	"go.uber.org/zap"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	cancel context.CancelFunc
}

// simulatedOptimizer answers every unit in-process after a fixed delay so the
// benchmark measures the service rather than the solver.
type simulatedOptimizer struct {
	delay time.Duration
}

func (s simulatedOptimizer) Run(ctx context.Context, input any, stream io.Writer) (*optimizer.Invocation, error) {
	startedAt := time.Now()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}

	switch typed := input.(type) {
	case domain.AllocationInput:
		allocations := make([]domain.Allocation, 0, len(typed.Destinations))
		for i, destination := range typed.Destinations {
			allocations = append(allocations, domain.Allocation{
				Source:      typed.Sources[i%len(typed.Sources)].Street,
				Destination: destination.Street,
				Quantity:    destination.Demand,
			})
		}
		encoded, _ := json.Marshal(map[string]any{"allocations": allocations})
		_, _ = fmt.Fprintf(stream, "%s\n", encoded)
	default:
		_, _ = io.WriteString(stream, "Route Result: {\"distance\":12.5}\n")
	}
	return &optimizer.Invocation{Duration: time.Since(startedAt)}, nil
}

func main() {
	routesTotal := flag.Int("routes-total", 240, "total route enqueue requests")
	routesConcurrency := flag.Int("routes-concurrency", 24, "concurrency for route enqueue requests")
	statusTotal := flag.Int("status-total", 240, "total route status requests")
	statusConcurrency := flag.Int("status-concurrency", 24, "concurrency for route status requests")
	optimizationsTotal := flag.Int("optimizations-total", 60, "total synchronous allocation requests")
	optimizationsConcurrency := flag.Int("optimizations-concurrency", 8, "concurrency for allocation requests")
	notificationsTotal := flag.Int("notifications-total", 120, "total notification feed requests")
	notificationsConcurrency := flag.Int("notifications-concurrency", 12, "concurrency for notification requests")
	optimizerDelay := flag.Duration("optimizer-delay", 5*time.Millisecond, "simulated optimizer time per unit")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env := startBenchmarkEnvironment(*optimizerDelay)
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 30 * time.Second}
	var idCounter int64

	var (
		jobIDsMu sync.Mutex
		jobIDs   []string
	)
	routesScenario := runScenario("routes_enqueue", *routesTotal, *routesConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"routes": []map[string]any{
				{"start": fmt.Sprintf("Depot %d", index%8), "end": fmt.Sprintf("Store %d", index%50)},
				{"start": fmt.Sprintf("Depot %d", index%8), "end": fmt.Sprintf("Store %d", (index+1)%50)},
			},
		}
		headers := map[string]string{
			"Idempotency-Key": fmt.Sprintf("routes-%d-%d", requestID, time.Now().UnixNano()),
		}
		var accepted struct {
			JobID string `json:"jobId"`
		}
		if err := postJSON(client, env.server.URL+"/v1/routes", payload, headers, http.StatusAccepted, &accepted); err != nil {
			return err
		}
		jobIDsMu.Lock()
		jobIDs = append(jobIDs, accepted.JobID)
		jobIDsMu.Unlock()
		return nil
	})

	statusScenario := runScenario("routes_status", *statusTotal, *statusConcurrency, func(index int) error {
		jobIDsMu.Lock()
		if len(jobIDs) == 0 {
			jobIDsMu.Unlock()
			return fmt.Errorf("no route jobs to poll")
		}
		jobID := jobIDs[index%len(jobIDs)]
		jobIDsMu.Unlock()
		return getJSON(client, env.server.URL+"/v1/routes/"+jobID, http.StatusOK)
	})

	optimizationsScenario := runScenario("optimizations_sync", *optimizationsTotal, *optimizationsConcurrency, func(index int) error {
		destinations := make([]map[string]any, 0, 10)
		for i := 0; i < 10; i++ {
			destinations = append(destinations, map[string]any{
				"dest_street": fmt.Sprintf("Store %d", (index+i)%50),
				"demand":      10 + i,
				"customer":    fmt.Sprintf("Customer %d", i),
			})
		}
		payload := map[string]any{
			"sources": []map[string]any{
				{"source_street": "Depot 1", "capacity": 500},
				{"source_street": "Depot 2", "capacity": 500},
			},
			"destinations": destinations,
		}
		return postJSON(client, env.server.URL+"/v1/optimizations", payload, nil, http.StatusOK, nil)
	})

	notificationsScenario := runScenario("notifications_list", *notificationsTotal, *notificationsConcurrency, func(int) error {
		return getJSON(client, env.server.URL+"/v1/notifications", http.StatusOK)
	})

	results := []scenarioResult{
		routesScenario,
		statusScenario,
		optimizationsScenario,
		notificationsScenario,
	}

	slo := map[string]bool{
		"route_enqueue_p95_le_500ms":      routesScenario.P95MS <= 500,
		"route_status_p95_le_200ms":       statusScenario.P95MS <= 200,
		"optimization_sync_p95_le_5000ms": optimizationsScenario.P95MS <= 5000,
		"notification_feed_p95_le_1000ms": notificationsScenario.P95MS <= 1000,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(optimizerDelay time.Duration) *benchmarkEnv {
	ctx, cancel := context.WithCancel(context.Background())
	logger := zap.NewNop()
	registry := metrics.New()

	jobsRepo := repository.NewMemoryJobsRepository()
	notificationsRepo := repository.NewMemoryNotificationsRepository()
	localQueue := queue.NewLocalQueue(4096, 3, logger)
	producer := queue.NewBatchingProducer(ctx, localQueue, queue.BatchingConfig{})

	runner := simulatedOptimizer{delay: optimizerDelay}
	minter := service.NewJobIDMinter(jobsRepo, service.JobIDConfig{}, registry, logger)
	jobsService := service.NewJobsService(jobsRepo, producer, runner, minter, registry, logger, time.Minute)
	notificationsService := service.NewNotificationsService(notificationsRepo, notificationsRepo, jobsService, registry, logger)
	driversRepo := repository.NewMemoryDriversRepository()
	assignmentsService := service.NewAssignmentsService(notificationsRepo, driversRepo, logger)
	driversService := service.NewDriversService(driversRepo, notificationsRepo, logger)

	api := handlers.NewAPI(
		jobsService,
		notificationsService,
		assignmentsService,
		driversService,
		cache.NewIdempotencyCache(cache.Config{TTL: 10 * time.Minute, MaxEntries: 4000}),
		handlers.Options{Logger: logger},
	)
	router := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Metrics:        registry.Handler(),
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(localQueue, jobsService, localQueue.MaxAttempts(), logger)
	go processor.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		cancel: func() {
			cancel()
			producer.Close()
		},
	}
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	result := scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
	return result
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
	target any,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	if target != nil {
		if err := json.NewDecoder(response.Body).Decode(target); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
