package repository

import (
	"context"
	"testing"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignmentsRejectsSameRouteSameDay(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryNotificationsRepository()
	day := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	created, err := repo.CreateAssignments(ctx, []domain.Assignment{{
		RouteID:    "job-1-0",
		DriverID:   "driver-1",
		Date:       day,
		AssignedBy: "manager",
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.NotEmpty(t, created[0].ID)
	assert.Equal(t, domain.AssignmentAssigned, created[0].Status)

	_, err = repo.CreateAssignments(ctx, []domain.Assignment{{
		RouteID:    "job-1-0",
		DriverID:   "driver-2",
		Date:       day.Add(3 * time.Hour),
		AssignedBy: "manager",
	}})
	require.ErrorIs(t, err, ErrDuplicateAssignment)

	_, err = repo.CreateAssignments(ctx, []domain.Assignment{{
		RouteID:    "job-1-0",
		DriverID:   "driver-2",
		Date:       day.AddDate(0, 0, 1),
		AssignedBy: "manager",
	}})
	require.NoError(t, err)
}

func TestListAssignmentsForManagerMatchesAssignerOrUpdater(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryNotificationsRepository()
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	created, err := repo.CreateAssignments(ctx, []domain.Assignment{
		{RouteID: "r-0", DriverID: "d", Date: day, AssignedBy: "alice"},
		{RouteID: "r-1", DriverID: "d", Date: day, AssignedBy: "bob"},
		{RouteID: "r-2", DriverID: "d", Date: day, AssignedBy: "carol"},
	})
	require.NoError(t, err)

	inProgress := domain.AssignmentInProgress
	_, err = repo.UpdateAssignment(ctx, created[1].ID, domain.AssignmentPatch{Status: &inProgress, UpdatedBy: "alice"})
	require.NoError(t, err)

	items, err := repo.ListAssignmentsForManager(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)

	routes := []string{items[0].RouteID, items[1].RouteID}
	assert.ElementsMatch(t, []string{"r-0", "r-1"}, routes)
}

func TestUpdateAssignmentMissing(t *testing.T) {
	repo := NewMemoryNotificationsRepository()
	completed := domain.AssignmentCompleted
	_, err := repo.UpdateAssignment(context.Background(), "missing", domain.AssignmentPatch{Status: &completed, UpdatedBy: "x"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.DeleteAssignment(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAssignmentLeavesUnsetFieldsAlone(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryNotificationsRepository()
	created, err := repo.CreateAssignments(ctx, []domain.Assignment{{
		RouteID: "r-0", DriverID: "d", Date: time.Now(), AssignedBy: "alice", Notes: "gate code 41",
	}})
	require.NoError(t, err)

	completed := domain.AssignmentCompleted
	updated, err := repo.UpdateAssignment(ctx, created[0].ID, domain.AssignmentPatch{Status: &completed, UpdatedBy: "bob"})
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentCompleted, updated.Status)
	assert.Equal(t, "gate code 41", updated.Notes)
	assert.Equal(t, "bob", updated.LastUpdatedBy)

	notes := "left at reception"
	updated, err = repo.UpdateAssignment(ctx, created[0].ID, domain.AssignmentPatch{Notes: &notes, UpdatedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentCompleted, updated.Status)
	assert.Equal(t, "left at reception", updated.Notes)
}

func TestListAssignmentsFiltersAndOrdersByDate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryNotificationsRepository()
	monday := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	created, err := repo.CreateAssignments(ctx, []domain.Assignment{
		{RouteID: "r-0", DriverID: "kofi", Date: monday, AssignedBy: "alice"},
		{RouteID: "r-1", DriverID: "ama", Date: monday.AddDate(0, 0, 2), AssignedBy: "alice"},
		{RouteID: "r-2", DriverID: "kofi", Date: monday.AddDate(0, 0, 1), AssignedBy: "bob"},
	})
	require.NoError(t, err)

	all, err := repo.ListAssignments(ctx, domain.AssignmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1", "r-2", "r-0"}, routeIDs(all))

	kofi, err := repo.ListAssignments(ctx, domain.AssignmentFilter{DriverID: "kofi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-2", "r-0"}, routeIDs(kofi))

	tuesday, err := repo.ListAssignments(ctx, domain.AssignmentFilter{Date: monday.AddDate(0, 0, 1).Add(15 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"r-2"}, routeIDs(tuesday))

	active, err := repo.CountActiveAssignments(ctx, "kofi")
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	cancelled := domain.AssignmentCancelled
	_, err = repo.UpdateAssignment(ctx, created[0].ID, domain.AssignmentPatch{Status: &cancelled, UpdatedBy: "alice"})
	require.NoError(t, err)
	deleted, err := repo.DeleteAssignment(ctx, created[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "kofi", deleted.DriverID)

	active, err = repo.CountActiveAssignments(ctx, "kofi")
	require.NoError(t, err)
	assert.Zero(t, active)
}

func routeIDs(items []domain.Assignment) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.RouteID)
	}
	return out
}

func TestNotificationLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryNotificationsRepository()

	exists, err := repo.NotificationExists(ctx, "a-1", domain.AssignmentAssigned, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.InsertNotifications(ctx, []domain.Notification{
		{Recipient: "alice", AssignmentID: "a-1", NewStatus: domain.AssignmentAssigned, Message: "one"},
		{Recipient: "alice", AssignmentID: "a-2", NewStatus: domain.AssignmentCompleted, Message: "two"},
		{Recipient: "bob", AssignmentID: "a-1", NewStatus: domain.AssignmentAssigned, Message: "three"},
	}))

	exists, err = repo.NotificationExists(ctx, "a-1", domain.AssignmentAssigned, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.NotificationExists(ctx, "a-1", domain.AssignmentCompleted, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	unread, err := repo.CountUnread(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	updated, err := repo.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	unread, err = repo.CountUnread(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, unread)

	unread, err = repo.CountUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestListNotificationsFiltersBySinceAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryNotificationsRepository()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertNotifications(ctx, []domain.Notification{
		{Recipient: "alice", AssignmentID: "old", CreatedAt: base.AddDate(0, 0, -40)},
		{Recipient: "alice", AssignmentID: "a", CreatedAt: base},
		{Recipient: "alice", AssignmentID: "b", CreatedAt: base.Add(time.Hour)},
		{Recipient: "alice", AssignmentID: "c", CreatedAt: base.Add(2 * time.Hour)},
	}))

	items, err := repo.ListNotifications(ctx, domain.NotificationListFilter{
		Recipient: "alice",
		Since:     base.AddDate(0, 0, -30),
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].AssignmentID)
	assert.Equal(t, "b", items[1].AssignmentID)
}
