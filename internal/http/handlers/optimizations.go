package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iago/fleetops-back/internal/ingest"
	"github.com/iago/fleetops-back/internal/service"
	"go.uber.org/zap"
)

const historyLimit = 20

type optimizationFailure struct {
	Routes      []any  `json:"routes"`
	Allocations []any  `json:"allocations"`
	Error       string `json:"error"`
}

func (api *API) CreateOptimization(w http.ResponseWriter, r *http.Request) {
	request, ok := api.readAllocationRequest(w, r)
	if !ok {
		return
	}

	outcome, err := api.jobs.OptimizeAllocation(r.Context(), owner(r), request)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			api.writeServiceError(w, r, err, "optimization")
			return
		}
		api.logger.Error("optimization failed", zap.String("owner_id", owner(r)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, optimizationFailure{
			Routes:      []any{},
			Allocations: []any{},
			Error:       err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (api *API) ListOptimizations(w http.ResponseWriter, r *http.Request) {
	items, err := api.jobs.AllocationHistory(r.Context(), owner(r), queryLimit(r, historyLimit))
	if err != nil {
		api.writeServiceError(w, r, err, "optimization history")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (api *API) GetOptimization(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("jobId"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}
	view, err := api.jobs.AllocationResult(r.Context(), owner(r), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "optimization job")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) readAllocationRequest(w http.ResponseWriter, r *http.Request) (service.AllocationRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	if !isMultipart(r) {
		var request service.AllocationRequest
		if err := decodeJSON(r, &request); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
			return request, false
		}
		return request, true
	}

	table, ok := api.readUpload(w, r)
	if !ok {
		return service.AllocationRequest{}, false
	}
	request, err := service.AllocationRequestFromTable(table, r.FormValue("customer_column_name"))
	if err != nil {
		api.writeServiceError(w, r, err, "optimization")
		return request, false
	}
	return request, true
}

// readUpload parses the multipart "file" field into a table. The caller has
// already capped the body size.
func (api *API) readUpload(w http.ResponseWriter, r *http.Request) (*ingest.Table, bool) {
	if err := r.ParseMultipartForm(api.uploadMaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "uploaded file is too large")
			return nil, false
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart payload")
		return nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "No file uploaded")
		return nil, false
	}
	defer file.Close()

	table, err := ingest.ReadTable(header.Filename, file)
	switch {
	case err == nil:
		return table, true
	case errors.Is(err, ingest.ErrUnsupportedFormat), errors.Is(err, ingest.ErrEmptyTable):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		api.logger.Warn("upload unreadable", zap.String("filename", header.Filename), zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "invalid_request", "could not read uploaded file")
	}
	return nil, false
}
