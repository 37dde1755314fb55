package repository

import (
	"context"
	"testing"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverEmailIsUniqueIgnoringCase(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDriversRepository()

	kofi, err := repo.CreateDriver(ctx, domain.Driver{Name: "Kofi", Email: "kofi@fleet.gh", Phone: "+233 20 000 0000"})
	require.NoError(t, err)
	assert.NotEmpty(t, kofi.ID)
	assert.Equal(t, domain.DriverActive, kofi.Status)

	_, err = repo.CreateDriver(ctx, domain.Driver{Name: "Other", Email: "KOFI@fleet.gh", Phone: "+233 20 000 0001"})
	require.ErrorIs(t, err, ErrDuplicateDriverEmail)

	ama, err := repo.CreateDriver(ctx, domain.Driver{Name: "Ama", Email: "ama@fleet.gh", Phone: "+233 20 000 0002"})
	require.NoError(t, err)

	ama.Email = "kofi@fleet.gh"
	_, err = repo.UpdateDriver(ctx, *ama)
	require.ErrorIs(t, err, ErrDuplicateDriverEmail)

	kofi.Phone = "+233 24 111 1111"
	updated, err := repo.UpdateDriver(ctx, *kofi)
	require.NoError(t, err)
	assert.Equal(t, "+233 24 111 1111", updated.Phone)

	_, err = repo.UpdateDriver(ctx, domain.Driver{ID: "missing", Email: "x@y.z"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDriverStatusCountsAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDriversRepository()

	first, err := repo.CreateDriver(ctx, domain.Driver{Name: "A", Email: "a@fleet.gh"})
	require.NoError(t, err)
	_, err = repo.CreateDriver(ctx, domain.Driver{Name: "B", Email: "b@fleet.gh", Status: domain.DriverOnLeave})
	require.NoError(t, err)

	_, err = repo.SetDriverStatus(ctx, first.ID, domain.DriverOnDelivery)
	require.NoError(t, err)

	counts, err := repo.CountDriversByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.DriverStatus]int{domain.DriverOnDelivery: 1, domain.DriverOnLeave: 1}, counts)

	require.NoError(t, repo.DeleteDriver(ctx, first.ID))
	require.ErrorIs(t, repo.DeleteDriver(ctx, first.ID), ErrNotFound)
	_, err = repo.SetDriverStatus(ctx, first.ID, domain.DriverActive)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestLocationsKeepsNewestFixPerDriverInWindow(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDriversRepository()
	kofi, err := repo.CreateDriver(ctx, domain.Driver{Name: "Kofi", Email: "kofi@fleet.gh"})
	require.NoError(t, err)
	ama, err := repo.CreateDriver(ctx, domain.Driver{Name: "Ama", Email: "ama@fleet.gh"})
	require.NoError(t, err)

	start := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordLocation(ctx, domain.DriverLocation{DriverID: ama.ID, Latitude: 5.60, Longitude: -0.18, Timestamp: start}))
	require.NoError(t, repo.RecordLocation(ctx, domain.DriverLocation{DriverID: kofi.ID, Latitude: 6.68, Longitude: -1.62, Timestamp: start.Add(time.Minute)}))
	require.NoError(t, repo.RecordLocation(ctx, domain.DriverLocation{DriverID: kofi.ID, Latitude: 6.69, Longitude: -1.63, Timestamp: start.Add(2 * time.Minute)}))
	require.ErrorIs(t, repo.RecordLocation(ctx, domain.DriverLocation{DriverID: "ghost"}), ErrNotFound)

	latest, err := repo.LatestLocations(ctx, 50)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "Kofi", latest[0].DriverName)
	assert.InDelta(t, 6.69, latest[0].Latitude, 1e-9)
	assert.Equal(t, domain.DriverActive, latest[0].Status)
	assert.Equal(t, "Ama", latest[1].DriverName)

	// Ama's only fix falls outside a two-fix window.
	latest, err = repo.LatestLocations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, kofi.ID, latest[0].DriverID)
}
