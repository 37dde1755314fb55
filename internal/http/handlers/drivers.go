package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/service"
)

type driverRequest struct {
	Name    string              `json:"name"`
	Email   string              `json:"email"`
	Phone   string              `json:"phone"`
	License string              `json:"license"`
	Status  domain.DriverStatus `json:"status"`
}

func (d driverRequest) input() service.DriverInput {
	return service.DriverInput{
		Name:    d.Name,
		Email:   d.Email,
		Phone:   d.Phone,
		License: d.License,
		Status:  d.Status,
	}
}

type driverResponse struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Email     string              `json:"email"`
	Phone     string              `json:"phone"`
	License   string              `json:"license,omitempty"`
	Status    domain.DriverStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type driverLocationResponse struct {
	DriverID   string              `json:"driverId"`
	DriverName string              `json:"driverName"`
	Status     domain.DriverStatus `json:"status"`
	Latitude   float64             `json:"latitude"`
	Longitude  float64             `json:"longitude"`
	Timestamp  time.Time           `json:"timestamp"`
}

type driverStatsResponse struct {
	TotalDrivers      int       `json:"totalDrivers"`
	ActiveDrivers     int       `json:"activeDrivers"`
	InactiveDrivers   int       `json:"inactiveDrivers"`
	OnDeliveryDrivers int       `json:"onDeliveryDrivers"`
	OnLeaveDrivers    int       `json:"onLeaveDrivers"`
	Timestamp         time.Time `json:"timestamp"`
}

func (api *API) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := api.drivers.List(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err, "drivers")
		return
	}
	items := make([]driverResponse, 0, len(drivers))
	for _, driver := range drivers {
		items = append(items, toDriverResponse(driver))
	}
	writeJSON(w, http.StatusOK, items)
}

func (api *API) GetDriver(w http.ResponseWriter, r *http.Request) {
	driver, err := api.drivers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err, "driver")
		return
	}
	writeJSON(w, http.StatusOK, toDriverResponse(*driver))
}

func (api *API) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var request driverRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	driver, err := api.drivers.Create(r.Context(), request.input())
	if err != nil {
		api.writeServiceError(w, r, err, "driver")
		return
	}
	writeJSON(w, http.StatusCreated, toDriverResponse(*driver))
}

func (api *API) UpdateDriver(w http.ResponseWriter, r *http.Request) {
	var request driverRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	driver, err := api.drivers.Update(r.Context(), r.PathValue("id"), request.input())
	if err != nil {
		api.writeServiceError(w, r, err, "driver")
		return
	}
	writeJSON(w, http.StatusOK, toDriverResponse(*driver))
}

func (api *API) DeleteDriver(w http.ResponseWriter, r *http.Request) {
	if err := api.drivers.Delete(r.Context(), r.PathValue("id")); err != nil {
		api.writeServiceError(w, r, err, "driver")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Driver deleted successfully"})
}

func (api *API) UpdateDriverStatus(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Status domain.DriverStatus `json:"status"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	driver, err := api.drivers.SetStatus(r.Context(), r.PathValue("id"), request.Status)
	if err != nil {
		api.writeServiceError(w, r, err, "driver")
		return
	}
	writeJSON(w, http.StatusOK, toDriverResponse(*driver))
}

func (api *API) DriverStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.drivers.Stats(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err, "driver stats")
		return
	}
	writeJSON(w, http.StatusOK, driverStatsResponse{
		TotalDrivers:      stats.Total,
		ActiveDrivers:     stats.Active,
		InactiveDrivers:   stats.Inactive,
		OnDeliveryDrivers: stats.OnDelivery,
		OnLeaveDrivers:    stats.OnLeave,
		Timestamp:         stats.At,
	})
}

func (api *API) DriverLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := api.drivers.Locations(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err, "driver locations")
		return
	}
	items := make([]driverLocationResponse, 0, len(locations))
	for _, location := range locations {
		items = append(items, driverLocationResponse{
			DriverID:   location.DriverID,
			DriverName: location.DriverName,
			Status:     location.Status,
			Latitude:   location.Latitude,
			Longitude:  location.Longitude,
			Timestamp:  location.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// RecordDriverLocation takes one tracker fix. Timestamp may be omitted.
func (api *API) RecordDriverLocation(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Timestamp string   `json:"timestamp"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if request.Latitude == nil || request.Longitude == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "latitude and longitude are required")
		return
	}
	location := domain.DriverLocation{
		DriverID:  r.PathValue("id"),
		Latitude:  *request.Latitude,
		Longitude: *request.Longitude,
	}
	if value := strings.TrimSpace(request.Timestamp); value != "" {
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid timestamp")
			return
		}
		location.Timestamp = at
	}
	if err := api.drivers.RecordLocation(r.Context(), location); err != nil {
		api.writeServiceError(w, r, err, "driver")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toDriverResponse(driver domain.Driver) driverResponse {
	return driverResponse{
		ID:        driver.ID,
		Name:      driver.Name,
		Email:     driver.Email,
		Phone:     driver.Phone,
		License:   driver.License,
		Status:    driver.Status,
		CreatedAt: driver.CreatedAt,
		UpdatedAt: driver.UpdatedAt,
	}
}
