package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubDestinations map[string][]string

func (s stubDestinations) RouteDestination(_ context.Context, jobID string, index int) (string, bool) {
	routes, ok := s[jobID]
	if !ok || index < 0 || index >= len(routes) {
		return "", false
	}
	return routes[index], true
}

type failingAssignments struct {
	repository.AssignmentsRepository
}

func (failingAssignments) ListAssignmentsForManager(context.Context, string) ([]domain.Assignment, error) {
	return nil, errors.New("database unavailable")
}

func assign(t *testing.T, repo repository.AssignmentsRepository, managerID string, assignments ...domain.Assignment) []domain.Assignment {
	t.Helper()
	for i := range assignments {
		assignments[i].AssignedBy = managerID
		if assignments[i].Date.IsZero() {
			assignments[i].Date = startOfDay(time.Now())
		}
	}
	created, err := repo.CreateAssignments(context.Background(), assignments)
	require.NoError(t, err)
	return created
}

func newNotificationsFixture(t *testing.T) (*NotificationsService, *repository.MemoryNotificationsRepository) {
	t.Helper()
	repo := repository.NewMemoryNotificationsRepository()
	routes := stubDestinations{
		"4f1c2e7a-9b1d-4c1e-8a55-0d2f3b6c9e10": {"Kumasi", "Tema"},
	}
	return NewNotificationsService(repo, repo, routes, nil, zaptest.NewLogger(t)), repo
}

func TestReconcileCreatesOneNotificationPerStatus(t *testing.T) {
	service, repo := newNotificationsFixture(t)
	ctx := context.Background()

	created := assign(t, repo, "manager-1",
		domain.Assignment{RouteID: "4f1c2e7a-9b1d-4c1e-8a55-0d2f3b6c9e10-1", DriverID: "driver-1", DriverName: "Ama"},
		domain.Assignment{RouteID: "unknown-job-0", DriverID: "driver-2"},
	)
	require.Len(t, created, 2)

	assert.Equal(t, 2, service.Reconcile(ctx, "manager-1"))
	assert.Zero(t, service.Reconcile(ctx, "manager-1"))

	feed, err := service.List(ctx, "manager-1")
	require.NoError(t, err)
	assert.Zero(t, feed.NewNotificationsCount)
	assert.Equal(t, 2, feed.UnreadCount)
	messages := []string{feed.Notifications[0].Message, feed.Notifications[1].Message}
	assert.Contains(t, messages, "New assignment created for Ama to Tema")
	assert.Contains(t, messages, "New assignment created for Unknown Driver to Unknown Destination")

	inProgress := domain.AssignmentInProgress
	_, err = repo.UpdateAssignment(ctx, created[0].ID, domain.AssignmentPatch{Status: &inProgress, UpdatedBy: "manager-2"})
	require.NoError(t, err)

	assert.Equal(t, 1, service.Reconcile(ctx, "manager-2"))
	assert.Equal(t, 1, service.Reconcile(ctx, "manager-1"))

	feed, err = service.List(ctx, "manager-2")
	require.NoError(t, err)
	require.Len(t, feed.Notifications, 1)
	assert.Equal(t, "Assignment for Ama to Tema is now in progress", feed.Notifications[0].Message)
	assert.Equal(t, domain.AssignmentInProgress, feed.Notifications[0].NewStatus)
	assert.Equal(t, domain.NotificationStatusChange, feed.Notifications[0].Type)
}

func TestReconcileNeverFails(t *testing.T) {
	repo := repository.NewMemoryNotificationsRepository()
	service := NewNotificationsService(failingAssignments{}, repo, nil, nil, zaptest.NewLogger(t))

	assert.Zero(t, service.Reconcile(context.Background(), "manager-1"))
	assert.Zero(t, service.Reconcile(context.Background(), ""))
}

func TestMarkAllReadClearsUnread(t *testing.T) {
	service, repo := newNotificationsFixture(t)
	ctx := context.Background()

	assign(t, repo, "manager-1", domain.Assignment{RouteID: "job-0", DriverID: "driver-1"})

	feed, err := service.List(ctx, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, 1, feed.NewNotificationsCount)
	assert.Equal(t, 1, feed.UnreadCount)

	updated, err := service.MarkAllRead(ctx, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	feed, err = service.List(ctx, "manager-1")
	require.NoError(t, err)
	assert.Zero(t, feed.UnreadCount)
	assert.True(t, feed.Notifications[0].IsRead)
}

func TestReconcileResolvesBareAndRelocatedJobIDs(t *testing.T) {
	repo := repository.NewMemoryNotificationsRepository()
	routes := stubDestinations{
		"550e8400-e29b-41d4-a716-446655440000":                     {"Takoradi"},
		"550e8400-e29b-41d4-a716-446655440000-1729000000000000000": {"Ho"},
	}
	service := NewNotificationsService(repo, repo, routes, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	assign(t, repo, "manager-1",
		domain.Assignment{RouteID: "550e8400-e29b-41d4-a716-446655440000", DriverID: "driver-1", DriverName: "Esi"},
		domain.Assignment{RouteID: "550e8400-e29b-41d4-a716-446655440000-1729000000000000000", DriverID: "driver-2", DriverName: "Kojo"},
	)
	require.Equal(t, 2, service.Reconcile(ctx, "manager-1"))

	feed, err := service.List(ctx, "manager-1")
	require.NoError(t, err)
	messages := make([]string, 0, len(feed.Notifications))
	for _, notification := range feed.Notifications {
		messages = append(messages, notification.Message)
	}
	assert.ElementsMatch(t, []string{
		"New assignment created for Esi to Takoradi",
		"New assignment created for Kojo to Ho",
	}, messages)
}

func TestSplitRouteID(t *testing.T) {
	cases := []struct {
		routeID string
		jobID   string
		index   int
	}{
		{"4f1c2e7a-9b1d-4c1e-8a55-0d2f3b6c9e10-3", "4f1c2e7a-9b1d-4c1e-8a55-0d2f3b6c9e10", 3},
		{"job-0", "job", 0},
		{"plain", "plain", 0},
		{"job-x", "job-x", 0},
		{"550e8400-e29b-41d4-a716-446655440000", "550e8400-e29b-41d4-a716-446655440000", 0},
		{"550e8400-e29b-41d4-a716-446655440000-12", "550e8400-e29b-41d4-a716-446655440000", 12},
	}
	for _, tc := range cases {
		jobID, index := SplitRouteID(tc.routeID)
		assert.Equal(t, tc.jobID, jobID, tc.routeID)
		assert.Equal(t, tc.index, index, tc.routeID)
	}
}
