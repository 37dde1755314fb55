package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/service"
)

type assignmentItem struct {
	RouteID    string `json:"routeId"`
	DriverID   string `json:"driverId"`
	DriverName string `json:"driverName"`
	Date       string `json:"date"`
	Notes      string `json:"notes"`
}

type assignmentResponse struct {
	ID            string                  `json:"id"`
	RouteID       string                  `json:"routeId"`
	DriverID      string                  `json:"driverId"`
	DriverName    string                  `json:"driverName,omitempty"`
	Date          string                  `json:"date"`
	Status        domain.AssignmentStatus `json:"status"`
	AssignedBy    string                  `json:"assignedBy"`
	LastUpdatedBy string                  `json:"lastUpdatedBy,omitempty"`
	Notes         string                  `json:"notes,omitempty"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

func (api *API) CreateAssignments(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Assignments []assignmentItem `json:"assignments"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	inputs := make([]service.AssignmentInput, 0, len(request.Assignments))
	for i, item := range request.Assignments {
		date, err := parseAssignmentDate(item.Date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("assignments[%d]: %v", i, err))
			return
		}
		inputs = append(inputs, service.AssignmentInput{
			RouteID:    item.RouteID,
			DriverID:   item.DriverID,
			DriverName: item.DriverName,
			Date:       date,
			Notes:      item.Notes,
		})
	}

	created, err := api.assignments.Create(r.Context(), owner(r), inputs)
	if err != nil {
		api.writeServiceError(w, r, err, "assignments")
		return
	}
	response := make([]assignmentResponse, 0, len(created))
	for _, assignment := range created {
		response = append(response, toAssignmentResponse(assignment))
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     fmt.Sprintf("Successfully created %d assignments", len(created)),
		"count":       len(created),
		"assignments": response,
	})
}

func (api *API) UpdateAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	assignmentID := strings.TrimSpace(r.PathValue("id"))
	if assignmentID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "assignment id is required")
		return
	}
	var request struct {
		Status domain.AssignmentStatus `json:"status"`
		Notes  *string                 `json:"notes"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	updated, err := api.assignments.UpdateStatus(r.Context(), owner(r), assignmentID, request.Status, request.Notes)
	if err != nil {
		api.writeServiceError(w, r, err, "assignment")
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(*updated))
}

func (api *API) UpdateAssignmentNotes(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	updated, err := api.assignments.UpdateNotes(r.Context(), owner(r), r.PathValue("id"), request.Notes)
	if err != nil {
		api.writeServiceError(w, r, err, "assignment")
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(*updated))
}

func (api *API) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := api.assignments.Delete(r.Context(), r.PathValue("id")); err != nil {
		api.writeServiceError(w, r, err, "assignment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Assignment deleted successfully"})
}

func (api *API) ListAssignments(w http.ResponseWriter, r *http.Request) {
	api.listAssignments(w, r, domain.AssignmentFilter{})
}

func (api *API) ListAssignmentsByDate(w http.ResponseWriter, r *http.Request) {
	date, err := parseAssignmentDate(r.PathValue("date"))
	if err != nil || date.IsZero() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid date format")
		return
	}
	api.listAssignments(w, r, domain.AssignmentFilter{Date: date})
}

func (api *API) ListDriverAssignments(w http.ResponseWriter, r *http.Request) {
	api.listAssignments(w, r, domain.AssignmentFilter{DriverID: strings.TrimSpace(r.PathValue("id"))})
}

func (api *API) listAssignments(w http.ResponseWriter, r *http.Request, filter domain.AssignmentFilter) {
	assignments, err := api.assignments.List(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err, "assignments")
		return
	}
	items := make([]assignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		items = append(items, toAssignmentResponse(assignment))
	}
	writeJSON(w, http.StatusOK, items)
}

// parseAssignmentDate accepts a calendar date or a full timestamp. An empty
// value is passed through so the service reports it as missing.
func parseAssignmentDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if date, err := time.Parse(time.DateOnly, value); err == nil {
		return date, nil
	}
	date, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return date, nil
}

func toAssignmentResponse(assignment domain.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:            assignment.ID,
		RouteID:       assignment.RouteID,
		DriverID:      assignment.DriverID,
		DriverName:    assignment.DriverName,
		Date:          assignment.Date.Format(time.DateOnly),
		Status:        assignment.Status,
		AssignedBy:    assignment.AssignedBy,
		LastUpdatedBy: assignment.LastUpdatedBy,
		Notes:         assignment.Notes,
		CreatedAt:     assignment.CreatedAt,
		UpdatedAt:     assignment.UpdatedAt,
	}
}
