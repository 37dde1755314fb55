package service

import (
	"context"
	"testing"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newDriversFixture(t *testing.T) (*DriversService, *AssignmentsService) {
	t.Helper()
	assignments := repository.NewMemoryNotificationsRepository()
	drivers := repository.NewMemoryDriversRepository()
	logger := zaptest.NewLogger(t)
	return NewDriversService(drivers, assignments, logger), NewAssignmentsService(assignments, drivers, logger)
}

func TestCreateDriverValidates(t *testing.T) {
	drivers, _ := newDriversFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		input   DriverInput
		message string
	}{
		{"missing name", DriverInput{Email: "a@b.co", Phone: "0201234567"}, "name is required"},
		{"missing email", DriverInput{Name: "Ama", Phone: "0201234567"}, "email is required"},
		{"bad email", DriverInput{Name: "Ama", Email: "ama.fleet", Phone: "0201234567"}, "valid email"},
		{"missing phone", DriverInput{Name: "Ama", Email: "a@b.co"}, "phone is required"},
		{"short phone", DriverInput{Name: "Ama", Email: "a@b.co", Phone: "12345"}, "valid phone"},
		{"letters in phone", DriverInput{Name: "Ama", Email: "a@b.co", Phone: "020-CALL-AMA"}, "valid phone"},
		{"bad status", DriverInput{Name: "Ama", Email: "a@b.co", Phone: "0201234567", Status: "asleep"}, "invalid status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := drivers.Create(ctx, tc.input)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tc.message)
		})
	}

	created, err := drivers.Create(ctx, DriverInput{
		Name: " Ama Mensah ", Email: "Ama@Fleet.GH", Phone: "+233 20-123-4567", License: "GH-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ama Mensah", created.Name)
	assert.Equal(t, "ama@fleet.gh", created.Email)
	assert.Equal(t, domain.DriverActive, created.Status)

	_, err = drivers.Create(ctx, DriverInput{Name: "Twin", Email: "ama@fleet.gh", Phone: "0201234567"})
	assert.ErrorIs(t, err, repository.ErrDuplicateDriverEmail)
}

func TestDriverStatsCountEveryStatus(t *testing.T) {
	drivers, _ := newDriversFixture(t)
	ctx := context.Background()

	for i, status := range []domain.DriverStatus{
		domain.DriverActive, domain.DriverActive, domain.DriverInactive, domain.DriverOnDelivery, domain.DriverOnLeave,
	} {
		_, err := drivers.Create(ctx, DriverInput{
			Name: "Driver", Email: string(rune('a'+i)) + "@fleet.gh", Phone: "0201234567", Status: status,
		})
		require.NoError(t, err)
	}

	stats, err := drivers.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Inactive)
	assert.Equal(t, 1, stats.OnDelivery)
	assert.Equal(t, 1, stats.OnLeave)
	assert.False(t, stats.At.IsZero())
}

func TestSetDriverStatusRequiresKnownStatus(t *testing.T) {
	drivers, _ := newDriversFixture(t)
	ctx := context.Background()
	created, err := drivers.Create(ctx, DriverInput{Name: "Kojo", Email: "kojo@fleet.gh", Phone: "0201234567"})
	require.NoError(t, err)

	_, err = drivers.SetStatus(ctx, created.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = drivers.SetStatus(ctx, created.ID, "retired")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = drivers.SetStatus(ctx, "missing", domain.DriverOnLeave)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	updated, err := drivers.SetStatus(ctx, created.ID, domain.DriverOnLeave)
	require.NoError(t, err)
	assert.Equal(t, domain.DriverOnLeave, updated.Status)
}

func TestDeleteDriverRefusedWhileAssigned(t *testing.T) {
	drivers, assignments := newDriversFixture(t)
	ctx := context.Background()
	created, err := drivers.Create(ctx, DriverInput{Name: "Kwame", Email: "kwame@fleet.gh", Phone: "0201234567"})
	require.NoError(t, err)

	assigned, err := assignments.Create(ctx, "manager-1", []AssignmentInput{{RouteID: "r-0", DriverID: created.ID, Date: time.Now()}})
	require.NoError(t, err)

	require.ErrorIs(t, drivers.Delete(ctx, created.ID), ErrDriverBusy)

	_, err = assignments.UpdateStatus(ctx, "manager-1", assigned[0].ID, domain.AssignmentCompleted, nil)
	require.NoError(t, err)
	require.NoError(t, drivers.Delete(ctx, created.ID))
	_, err = drivers.Get(ctx, created.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordLocationValidatesCoordinates(t *testing.T) {
	drivers, _ := newDriversFixture(t)
	ctx := context.Background()
	created, err := drivers.Create(ctx, DriverInput{Name: "Efua", Email: "efua@fleet.gh", Phone: "0201234567"})
	require.NoError(t, err)

	assert.ErrorIs(t, drivers.RecordLocation(ctx, domain.DriverLocation{DriverID: created.ID, Latitude: 91}), ErrInvalidInput)
	assert.ErrorIs(t, drivers.RecordLocation(ctx, domain.DriverLocation{DriverID: created.ID, Longitude: -181}), ErrInvalidInput)
	assert.ErrorIs(t, drivers.RecordLocation(ctx, domain.DriverLocation{DriverID: "missing", Latitude: 5.6}), repository.ErrNotFound)

	require.NoError(t, drivers.RecordLocation(ctx, domain.DriverLocation{DriverID: created.ID, Latitude: 5.6, Longitude: -0.19}))
	locations, err := drivers.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "Efua", locations[0].DriverName)
	assert.False(t, locations[0].Timestamp.IsZero())
}
