package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/fleetops-back/internal/cache"
	"github.com/iago/fleetops-back/internal/http/middleware"
	"github.com/iago/fleetops-back/internal/repository"
	"github.com/iago/fleetops-back/internal/service"
	"go.uber.org/zap"
)

var errInvalidPayload = errors.New("invalid payload")

const defaultUploadMaxBytes = 10 << 20

type Options struct {
	UploadMaxBytes int64
	Logger         *zap.Logger
}

type API struct {
	jobs           *service.JobsService
	notifications  *service.NotificationsService
	assignments    *service.AssignmentsService
	drivers        *service.DriversService
	idempotency    *cache.IdempotencyCache
	uploadMaxBytes int64
	logger         *zap.Logger
}

func NewAPI(
	jobs *service.JobsService,
	notifications *service.NotificationsService,
	assignments *service.AssignmentsService,
	drivers *service.DriversService,
	idempotency *cache.IdempotencyCache,
	opts Options,
) *API {
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = defaultUploadMaxBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if idempotency == nil {
		idempotency = cache.NewIdempotencyCache(cache.Config{})
	}
	return &API{
		jobs:           jobs,
		notifications:  notifications,
		assignments:    assignments,
		drivers:        drivers,
		idempotency:    idempotency,
		uploadMaxBytes: opts.UploadMaxBytes,
		logger:         opts.Logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and repository errors onto the envelope.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_request", detail(err, service.ErrInvalidInput))
	case errors.Is(err, service.ErrUnknownDriver):
		writeError(w, r, http.StatusNotFound, "driver_not_found", detail(err, service.ErrUnknownDriver))
	case errors.Is(err, service.ErrDriverUnavailable):
		writeError(w, r, http.StatusBadRequest, "driver_unavailable", detail(err, service.ErrDriverUnavailable))
	case errors.Is(err, service.ErrDriverBusy):
		writeError(w, r, http.StatusConflict, "driver_busy", err.Error())
	case errors.Is(err, repository.ErrDuplicateDriverEmail):
		writeError(w, r, http.StatusConflict, "driver_conflict", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", what+" not found")
	case errors.Is(err, repository.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "you don't have permission to access this "+what)
	case errors.Is(err, repository.ErrDuplicateAssignment):
		writeError(w, r, http.StatusConflict, "assignment_conflict", err.Error())
	default:
		api.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to process "+what)
	}
}

// detail strips the sentinel prefix so clients see only the specific reason.
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func decodeJSON(r *http.Request, value any) error {
	if err := json.NewDecoder(r.Body).Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// owner returns the authenticated owner; Auth always sets one on /v1/.
func owner(r *http.Request) string {
	id, _ := middleware.OwnerFromContext(r.Context())
	return id
}

func queryLimit(r *http.Request, fallback int) int {
	value := strings.TrimSpace(r.URL.Query().Get("limit"))
	if value == "" {
		return fallback
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 || limit > 100 {
		return fallback
	}
	return limit
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
