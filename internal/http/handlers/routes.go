package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/iago/fleetops-back/internal/cache"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/service"
)

const maxIdempotencyKeyLength = 128

type routeBody struct {
	Routes            []json.RawMessage `json:"routes"`
	OptimizationJobID string            `json:"optimizationJobId"`
	Destinations      []json.RawMessage `json:"destinations"`
}

type routeAccepted struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	StatusURL string `json:"statusUrl"`
}

func (api *API) CreateRoutes(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idempotencyKey) > maxIdempotencyKeyLength {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key is too long")
		return
	}

	request, ok := api.readRouteRequest(w, r)
	if !ok {
		return
	}

	var cacheKey string
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		cacheKey = cache.BuildKey(owner(r), idempotencyKey)
		if entry, exists := api.idempotency.Get(cacheKey); exists {
			replayAccepted(w, r, entry, payloadHash)
			return
		}
	}

	job, err := api.jobs.SubmitRoutes(r.Context(), owner(r), request)
	if err != nil {
		api.writeServiceError(w, r, err, "route request")
		return
	}
	if cacheKey != "" {
		if entry, stored := api.idempotency.PutIfAbsent(cacheKey, job.ID, payloadHash); !stored {
			// A concurrent request with the same key won; answer with its job.
			replayAccepted(w, r, entry, payloadHash)
			return
		}
	}

	statusURL := "/v1/routes/" + job.ID
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, routeAccepted{
		JobID:     job.ID,
		Status:    string(domain.JobStatusProcessing),
		Message:   acceptedMessage(job.InputSummary, statusURL),
		StatusURL: statusURL,
	})
}

func (api *API) GetRouteStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("jobId"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}
	view, err := api.jobs.RouteStatus(r.Context(), owner(r), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "route job")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) ListRoutes(w http.ResponseWriter, r *http.Request) {
	items, err := api.jobs.RouteHistory(r.Context(), owner(r), queryLimit(r, historyLimit))
	if err != nil {
		api.writeServiceError(w, r, err, "route history")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (api *API) readRouteRequest(w http.ResponseWriter, r *http.Request) (service.RouteRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	if isMultipart(r) {
		table, ok := api.readUpload(w, r)
		if !ok {
			return service.RouteRequest{}, false
		}
		pairs, skipped, err := service.RoutePairsFromTable(table, r.FormValue("customer_column_name"))
		if err != nil {
			api.writeServiceError(w, r, err, "route request")
			return service.RouteRequest{}, false
		}
		return service.RouteRequest{
			Pairs:           pairs,
			Skipped:         skipped,
			AllocationJobID: strings.TrimSpace(r.FormValue("optimizationJobId")),
		}, true
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body is too large")
			return service.RouteRequest{}, false
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return service.RouteRequest{}, false
	}
	var body routeBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return service.RouteRequest{}, false
	}

	entries := body.Routes
	if len(entries) == 0 {
		// A single {start,end,customer} object.
		entries = []json.RawMessage{raw}
	}
	return service.RouteRequest{
		Entries:         entries,
		AllocationJobID: strings.TrimSpace(body.OptimizationJobID),
		Destinations:    body.Destinations,
	}, true
}

func replayAccepted(w http.ResponseWriter, r *http.Request, entry cache.Entry, payloadHash uint64) {
	if entry.PayloadHash != payloadHash {
		writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
		return
	}
	statusURL := "/v1/routes/" + entry.JobID
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, routeAccepted{
		JobID:     entry.JobID,
		Status:    string(domain.JobStatusProcessing),
		Message:   "Request already accepted. Check status with " + statusURL,
		StatusURL: statusURL,
	})
}

func acceptedMessage(summary domain.InputSummary, statusURL string) string {
	if summary.Grouped {
		return fmt.Sprintf("Processing %d sources with %d total destinations. Check status with %s",
			summary.SourceCount, summary.DestinationCount, statusURL)
	}
	return fmt.Sprintf("Processing %d routes. Check status with %s", summary.PairCount, statusURL)
}
