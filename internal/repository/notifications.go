package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fleetops-back/internal/domain"
)

const defaultNotificationLimit = 50

// AssignmentsRepository stores driver assignments. A route is assigned at most
// once per calendar day.
type AssignmentsRepository interface {
	CreateAssignments(ctx context.Context, assignments []domain.Assignment) ([]domain.Assignment, error)
	GetAssignment(ctx context.Context, id string) (*domain.Assignment, error)
	UpdateAssignment(ctx context.Context, id string, patch domain.AssignmentPatch) (*domain.Assignment, error)
	DeleteAssignment(ctx context.Context, id string) (*domain.Assignment, error)
	// ListAssignments returns matches newest date first.
	ListAssignments(ctx context.Context, filter domain.AssignmentFilter) ([]domain.Assignment, error)
	// CountActiveAssignments counts the driver's assigned and in-progress
	// assignments.
	CountActiveAssignments(ctx context.Context, driverID string) (int, error)
	ListAssignmentsForManager(ctx context.Context, managerID string) ([]domain.Assignment, error)
}

// NotificationsRepository stores notifications. Uniqueness of
// (assignment, status, recipient) is enforced by callers, not by storage.
type NotificationsRepository interface {
	NotificationExists(ctx context.Context, assignmentID string, status domain.AssignmentStatus, recipient string) (bool, error)
	InsertNotifications(ctx context.Context, notifications []domain.Notification) error
	ListNotifications(ctx context.Context, filter domain.NotificationListFilter) ([]domain.Notification, error)
	CountUnread(ctx context.Context, recipient string) (int, error)
	MarkAllRead(ctx context.Context, recipient string) (int, error)
}

// MemoryNotificationsRepository keeps assignments and notifications in memory.
type MemoryNotificationsRepository struct {
	mu            sync.RWMutex
	assignments   map[string]*domain.Assignment
	notifications []domain.Notification
	now           func() time.Time
}

func NewMemoryNotificationsRepository() *MemoryNotificationsRepository {
	return &MemoryNotificationsRepository{
		assignments: make(map[string]*domain.Assignment),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryNotificationsRepository) CreateAssignments(
	_ context.Context,
	assignments []domain.Assignment,
) ([]domain.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := make([]domain.Assignment, 0, len(assignments))
	for i, assignment := range assignments {
		for _, existing := range r.assignments {
			if existing.RouteID == assignment.RouteID && sameDay(existing.Date, assignment.Date) {
				return nil, ErrDuplicateAssignment
			}
		}
		for _, earlier := range assignments[:i] {
			if earlier.RouteID == assignment.RouteID && sameDay(earlier.Date, assignment.Date) {
				return nil, ErrDuplicateAssignment
			}
		}
	}
	for _, assignment := range assignments {
		now := r.now()
		if assignment.ID == "" {
			assignment.ID = uuid.NewString()
		}
		if assignment.Status == "" {
			assignment.Status = domain.AssignmentAssigned
		}
		assignment.CreatedAt = now
		assignment.UpdatedAt = now
		stored := assignment
		r.assignments[assignment.ID] = &stored
		created = append(created, assignment)
	}
	return created, nil
}

func (r *MemoryNotificationsRepository) GetAssignment(_ context.Context, id string) (*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assignment, ok := r.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *assignment
	return &clone, nil
}

func (r *MemoryNotificationsRepository) UpdateAssignment(
	_ context.Context,
	id string,
	patch domain.AssignmentPatch,
) (*domain.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assignment, ok := r.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Status != nil {
		assignment.Status = *patch.Status
	}
	if patch.Notes != nil {
		assignment.Notes = *patch.Notes
	}
	assignment.LastUpdatedBy = patch.UpdatedBy
	assignment.UpdatedAt = r.now()
	clone := *assignment
	return &clone, nil
}

func (r *MemoryNotificationsRepository) DeleteAssignment(_ context.Context, id string) (*domain.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assignment, ok := r.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.assignments, id)
	return assignment, nil
}

func (r *MemoryNotificationsRepository) ListAssignments(
	_ context.Context,
	filter domain.AssignmentFilter,
) ([]domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.Assignment, 0)
	for _, assignment := range r.assignments {
		if filter.DriverID != "" && assignment.DriverID != filter.DriverID {
			continue
		}
		if !filter.Date.IsZero() && !sameDay(assignment.Date, filter.Date) {
			continue
		}
		items = append(items, *assignment)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (r *MemoryNotificationsRepository) CountActiveAssignments(_ context.Context, driverID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, assignment := range r.assignments {
		if assignment.DriverID == driverID && assignment.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (r *MemoryNotificationsRepository) ListAssignmentsForManager(
	_ context.Context,
	managerID string,
) ([]domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.Assignment, 0)
	for _, assignment := range r.assignments {
		if assignment.AssignedBy == managerID || assignment.LastUpdatedBy == managerID {
			items = append(items, *assignment)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *MemoryNotificationsRepository) NotificationExists(
	_ context.Context,
	assignmentID string,
	status domain.AssignmentStatus,
	recipient string,
) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, notification := range r.notifications {
		if notification.AssignmentID == assignmentID &&
			notification.NewStatus == status &&
			notification.Recipient == recipient {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryNotificationsRepository) InsertNotifications(
	_ context.Context,
	notifications []domain.Notification,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, notification := range notifications {
		if notification.ID == "" {
			notification.ID = uuid.NewString()
		}
		if notification.CreatedAt.IsZero() {
			notification.CreatedAt = r.now()
		}
		r.notifications = append(r.notifications, notification)
	}
	return nil
}

func (r *MemoryNotificationsRepository) ListNotifications(
	_ context.Context,
	filter domain.NotificationListFilter,
) ([]domain.Notification, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultNotificationLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.Notification, 0)
	for _, notification := range r.notifications {
		if notification.Recipient != filter.Recipient {
			continue
		}
		if !filter.Since.IsZero() && notification.CreatedAt.Before(filter.Since) {
			continue
		}
		items = append(items, notification)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *MemoryNotificationsRepository) CountUnread(_ context.Context, recipient string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, notification := range r.notifications {
		if notification.Recipient == recipient && !notification.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *MemoryNotificationsRepository) MarkAllRead(_ context.Context, recipient string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for i := range r.notifications {
		if r.notifications[i].Recipient == recipient && !r.notifications[i].IsRead {
			r.notifications[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
