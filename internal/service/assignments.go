package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/repository"
	"go.uber.org/zap"
)

// AssignmentInput is one requested driver assignment.
type AssignmentInput struct {
	RouteID    string
	DriverID   string
	DriverName string
	Date       time.Time
	Notes      string
}

// AssignmentsService hands routes to drivers and keeps the driver's status in
// step: a driver goes on_delivery when assigned and back to active once none
// of their assignments is still open.
type AssignmentsService struct {
	assignments repository.AssignmentsRepository
	drivers     repository.DriversRepository
	logger      *zap.Logger
}

func NewAssignmentsService(
	assignments repository.AssignmentsRepository,
	drivers repository.DriversRepository,
	logger *zap.Logger,
) *AssignmentsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentsService{assignments: assignments, drivers: drivers, logger: logger}
}

func (s *AssignmentsService) List(ctx context.Context, filter domain.AssignmentFilter) ([]domain.Assignment, error) {
	if !filter.Date.IsZero() {
		filter.Date = startOfDay(filter.Date)
	}
	items, err := s.assignments.ListAssignments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return items, nil
}

// Create validates and stores a batch. Every driver must exist and be active,
// and a route may only be assigned once per day.
func (s *AssignmentsService) Create(
	ctx context.Context,
	managerID string,
	inputs []AssignmentInput,
) ([]domain.Assignment, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no valid assignments provided", ErrInvalidInput)
	}
	assignments := make([]domain.Assignment, 0, len(inputs))
	for i, input := range inputs {
		switch {
		case strings.TrimSpace(input.RouteID) == "":
			return nil, fmt.Errorf("%w: assignments[%d]: route id is required", ErrInvalidInput, i)
		case strings.TrimSpace(input.DriverID) == "":
			return nil, fmt.Errorf("%w: assignments[%d]: driver id is required", ErrInvalidInput, i)
		case input.Date.IsZero():
			return nil, fmt.Errorf("%w: assignments[%d]: date is required", ErrInvalidInput, i)
		}
		assignments = append(assignments, domain.Assignment{
			RouteID:    strings.TrimSpace(input.RouteID),
			DriverID:   strings.TrimSpace(input.DriverID),
			DriverName: strings.TrimSpace(input.DriverName),
			Date:       startOfDay(input.Date),
			Status:     domain.AssignmentAssigned,
			AssignedBy: managerID,
			Notes:      input.Notes,
		})
	}

	drivers := make(map[string]*domain.Driver)
	for i := range assignments {
		driverID := assignments[i].DriverID
		driver, ok := drivers[driverID]
		if !ok {
			var err error
			if driver, err = s.availableDriver(ctx, driverID); err != nil {
				return nil, err
			}
			drivers[driverID] = driver
		}
		if assignments[i].DriverName == "" {
			assignments[i].DriverName = driver.Name
		}
	}

	created, err := s.assignments.CreateAssignments(ctx, assignments)
	if err != nil {
		return nil, err
	}
	for driverID := range drivers {
		if _, err := s.drivers.SetDriverStatus(ctx, driverID, domain.DriverOnDelivery); err != nil {
			s.logger.Error("driver status not updated", zap.String("driver_id", driverID), zap.Error(err))
		}
	}
	s.logger.Info("assignments created", zap.String("manager_id", managerID), zap.Int("count", len(created)))
	return created, nil
}

// UpdateStatus moves an assignment to status and optionally replaces its notes.
func (s *AssignmentsService) UpdateStatus(
	ctx context.Context,
	managerID string,
	assignmentID string,
	status domain.AssignmentStatus,
	notes *string,
) (*domain.Assignment, error) {
	if status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrInvalidInput)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidInput, status)
	}
	updated, err := s.assignments.UpdateAssignment(ctx, assignmentID, domain.AssignmentPatch{
		Status:    &status,
		Notes:     notes,
		UpdatedBy: managerID,
	})
	if err != nil {
		return nil, err
	}
	if !status.Active() {
		s.releaseDriver(ctx, updated.DriverID)
	}
	return updated, nil
}

func (s *AssignmentsService) UpdateNotes(
	ctx context.Context,
	managerID string,
	assignmentID string,
	notes string,
) (*domain.Assignment, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, fmt.Errorf("%w: notes are required", ErrInvalidInput)
	}
	return s.assignments.UpdateAssignment(ctx, assignmentID, domain.AssignmentPatch{
		Notes:     &notes,
		UpdatedBy: managerID,
	})
}

func (s *AssignmentsService) Delete(ctx context.Context, assignmentID string) error {
	deleted, err := s.assignments.DeleteAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	s.releaseDriver(ctx, deleted.DriverID)
	return nil
}

func (s *AssignmentsService) availableDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	driver, err := s.drivers.GetDriver(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: driver with ID %s not found", ErrUnknownDriver, driverID)
	}
	if err != nil {
		return nil, fmt.Errorf("load driver: %w", err)
	}
	if driver.Status != domain.DriverActive {
		return nil, fmt.Errorf("%w: driver %s is not active (current status: %s)", ErrDriverUnavailable, driver.Name, driver.Status)
	}
	return driver, nil
}

// releaseDriver puts an on_delivery driver back to active when nothing is
// left open for them. Other statuses were set by hand and stay.
func (s *AssignmentsService) releaseDriver(ctx context.Context, driverID string) {
	logger := s.logger.With(zap.String("driver_id", driverID))
	active, err := s.assignments.CountActiveAssignments(ctx, driverID)
	if err != nil {
		logger.Error("count active assignments failed", zap.Error(err))
		return
	}
	if active > 0 {
		return
	}
	driver, err := s.drivers.GetDriver(ctx, driverID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Error("load driver failed", zap.Error(err))
		}
		return
	}
	if driver.Status != domain.DriverOnDelivery {
		return
	}
	if _, err := s.drivers.SetDriverStatus(ctx, driverID, domain.DriverActive); err != nil {
		logger.Error("driver status not restored", zap.Error(err))
		return
	}
	logger.Info("driver released")
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
