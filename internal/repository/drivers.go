package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fleetops-back/internal/domain"
)

// DriversRepository stores the fleet's drivers and their tracker fixes.
// Emails are unique regardless of case.
type DriversRepository interface {
	ListDrivers(ctx context.Context) ([]domain.Driver, error)
	GetDriver(ctx context.Context, id string) (*domain.Driver, error)
	CreateDriver(ctx context.Context, driver domain.Driver) (*domain.Driver, error)
	UpdateDriver(ctx context.Context, driver domain.Driver) (*domain.Driver, error)
	SetDriverStatus(ctx context.Context, id string, status domain.DriverStatus) (*domain.Driver, error)
	DeleteDriver(ctx context.Context, id string) error
	CountDriversByStatus(ctx context.Context) (map[domain.DriverStatus]int, error)
	RecordLocation(ctx context.Context, location domain.DriverLocation) error
	// LatestLocations keeps the newest fix per driver among the window most
	// recent fixes, newest first.
	LatestLocations(ctx context.Context, window int) ([]domain.DriverLocation, error)
}

type MemoryDriversRepository struct {
	mu        sync.RWMutex
	drivers   map[string]*domain.Driver
	locations []domain.DriverLocation
	now       func() time.Time
}

func NewMemoryDriversRepository() *MemoryDriversRepository {
	return &MemoryDriversRepository{
		drivers: make(map[string]*domain.Driver),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryDriversRepository) ListDrivers(_ context.Context) ([]domain.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.Driver, 0, len(r.drivers))
	for _, driver := range r.drivers {
		items = append(items, *driver)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *MemoryDriversRepository) GetDriver(_ context.Context, id string) (*domain.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, ok := r.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *driver
	return &clone, nil
}

func (r *MemoryDriversRepository) CreateDriver(_ context.Context, driver domain.Driver) (*domain.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailTaken(driver.Email, "") {
		return nil, ErrDuplicateDriverEmail
	}
	now := r.now()
	if driver.ID == "" {
		driver.ID = uuid.NewString()
	}
	if driver.Status == "" {
		driver.Status = domain.DriverActive
	}
	driver.CreatedAt = now
	driver.UpdatedAt = now
	stored := driver
	r.drivers[driver.ID] = &stored
	return &driver, nil
}

func (r *MemoryDriversRepository) UpdateDriver(_ context.Context, driver domain.Driver) (*domain.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.drivers[driver.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.emailTaken(driver.Email, driver.ID) {
		return nil, ErrDuplicateDriverEmail
	}
	existing.Name = driver.Name
	existing.Email = driver.Email
	existing.Phone = driver.Phone
	existing.License = driver.License
	if driver.Status != "" {
		existing.Status = driver.Status
	}
	existing.UpdatedAt = r.now()
	clone := *existing
	return &clone, nil
}

func (r *MemoryDriversRepository) SetDriverStatus(
	_ context.Context,
	id string,
	status domain.DriverStatus,
) (*domain.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	driver, ok := r.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	driver.Status = status
	driver.UpdatedAt = r.now()
	clone := *driver
	return &clone, nil
}

func (r *MemoryDriversRepository) DeleteDriver(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.drivers[id]; !ok {
		return ErrNotFound
	}
	delete(r.drivers, id)
	kept := r.locations[:0]
	for _, location := range r.locations {
		if location.DriverID != id {
			kept = append(kept, location)
		}
	}
	r.locations = kept
	return nil
}

func (r *MemoryDriversRepository) CountDriversByStatus(_ context.Context) (map[domain.DriverStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.DriverStatus]int)
	for _, driver := range r.drivers {
		counts[driver.Status]++
	}
	return counts, nil
}

func (r *MemoryDriversRepository) RecordLocation(_ context.Context, location domain.DriverLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.drivers[location.DriverID]; !ok {
		return ErrNotFound
	}
	if location.Timestamp.IsZero() {
		location.Timestamp = r.now()
	}
	r.locations = append(r.locations, domain.DriverLocation{
		DriverID:  location.DriverID,
		Latitude:  location.Latitude,
		Longitude: location.Longitude,
		Timestamp: location.Timestamp.UTC(),
	})
	return nil
}

func (r *MemoryDriversRepository) LatestLocations(_ context.Context, window int) ([]domain.DriverLocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recent := append([]domain.DriverLocation(nil), r.locations...)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if window > 0 && len(recent) > window {
		recent = recent[:window]
	}

	seen := make(map[string]struct{})
	latest := make([]domain.DriverLocation, 0)
	for _, location := range recent {
		if _, ok := seen[location.DriverID]; ok {
			continue
		}
		driver, ok := r.drivers[location.DriverID]
		if !ok {
			continue
		}
		seen[location.DriverID] = struct{}{}
		location.DriverName = driver.Name
		location.Status = driver.Status
		latest = append(latest, location)
	}
	return latest, nil
}

func (r *MemoryDriversRepository) emailTaken(email, exceptID string) bool {
	for id, driver := range r.drivers {
		if id != exceptID && strings.EqualFold(driver.Email, email) {
			return true
		}
	}
	return false
}
