package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrUnknownDriver     = errors.New("unknown driver")
	ErrDriverUnavailable = errors.New("driver unavailable")
	ErrDriverBusy        = errors.New("driver has active assignments")
)

var (
	emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s-]{10,}$`)
)

// locationWindow is how many recent tracker fixes the map view looks at.
const locationWindow = 50

type DriverInput struct {
	Name    string
	Email   string
	Phone   string
	License string
	Status  domain.DriverStatus
}

type DriversService struct {
	drivers     repository.DriversRepository
	assignments repository.AssignmentsRepository
	logger      *zap.Logger
	now         func() time.Time
}

func NewDriversService(
	drivers repository.DriversRepository,
	assignments repository.AssignmentsRepository,
	logger *zap.Logger,
) *DriversService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriversService{
		drivers:     drivers,
		assignments: assignments,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *DriversService) List(ctx context.Context) ([]domain.Driver, error) {
	drivers, err := s.drivers.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	return drivers, nil
}

func (s *DriversService) Get(ctx context.Context, id string) (*domain.Driver, error) {
	return s.drivers.GetDriver(ctx, strings.TrimSpace(id))
}

func (s *DriversService) Create(ctx context.Context, input DriverInput) (*domain.Driver, error) {
	driver, err := validateDriver(input)
	if err != nil {
		return nil, err
	}
	created, err := s.drivers.CreateDriver(ctx, driver)
	if err != nil {
		return nil, err
	}
	s.logger.Info("driver created", zap.String("driver_id", created.ID))
	return created, nil
}

// Update replaces the driver's profile. An empty status keeps the current one.
func (s *DriversService) Update(ctx context.Context, id string, input DriverInput) (*domain.Driver, error) {
	driver, err := validateDriver(input)
	if err != nil {
		return nil, err
	}
	driver.ID = strings.TrimSpace(id)
	return s.drivers.UpdateDriver(ctx, driver)
}

func (s *DriversService) SetStatus(ctx context.Context, id string, status domain.DriverStatus) (*domain.Driver, error) {
	if status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrInvalidInput)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidInput, status)
	}
	return s.drivers.SetDriverStatus(ctx, strings.TrimSpace(id), status)
}

// Delete refuses while the driver still has assigned or in-progress work.
func (s *DriversService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	active, err := s.assignments.CountActiveAssignments(ctx, id)
	if err != nil {
		return fmt.Errorf("count active assignments: %w", err)
	}
	if active > 0 {
		return fmt.Errorf("%w: %d assignments still open", ErrDriverBusy, active)
	}
	if err := s.drivers.DeleteDriver(ctx, id); err != nil {
		return err
	}
	s.logger.Info("driver deleted", zap.String("driver_id", id))
	return nil
}

func (s *DriversService) Stats(ctx context.Context) (*domain.DriverStats, error) {
	counts, err := s.drivers.CountDriversByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count drivers: %w", err)
	}
	stats := &domain.DriverStats{
		Active:     counts[domain.DriverActive],
		Inactive:   counts[domain.DriverInactive],
		OnDelivery: counts[domain.DriverOnDelivery],
		OnLeave:    counts[domain.DriverOnLeave],
		At:         s.now(),
	}
	for _, count := range counts {
		stats.Total += count
	}
	return stats, nil
}

func (s *DriversService) Locations(ctx context.Context) ([]domain.DriverLocation, error) {
	locations, err := s.drivers.LatestLocations(ctx, locationWindow)
	if err != nil {
		return nil, fmt.Errorf("latest driver locations: %w", err)
	}
	return locations, nil
}

// RecordLocation stores a tracker fix. A zero timestamp means now.
func (s *DriversService) RecordLocation(ctx context.Context, location domain.DriverLocation) error {
	location.DriverID = strings.TrimSpace(location.DriverID)
	switch {
	case location.Latitude < -90 || location.Latitude > 90:
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidInput)
	case location.Longitude < -180 || location.Longitude > 180:
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidInput)
	}
	if location.Timestamp.IsZero() {
		location.Timestamp = s.now()
	}
	return s.drivers.RecordLocation(ctx, location)
}

func validateDriver(input DriverInput) (domain.Driver, error) {
	driver := domain.Driver{
		Name:    strings.TrimSpace(input.Name),
		Email:   strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:   strings.TrimSpace(input.Phone),
		License: strings.TrimSpace(input.License),
		Status:  input.Status,
	}
	switch {
	case driver.Name == "":
		return driver, fmt.Errorf("%w: name is required", ErrInvalidInput)
	case driver.Email == "":
		return driver, fmt.Errorf("%w: email is required", ErrInvalidInput)
	case !emailPattern.MatchString(driver.Email):
		return driver, fmt.Errorf("%w: please enter a valid email", ErrInvalidInput)
	case driver.Phone == "":
		return driver, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	case !phonePattern.MatchString(driver.Phone):
		return driver, fmt.Errorf("%w: please enter a valid phone number", ErrInvalidInput)
	case driver.Status != "" && !driver.Status.Valid():
		return driver, fmt.Errorf("%w: invalid status %q", ErrInvalidInput, driver.Status)
	}
	return driver, nil
}
