package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/fleetops-back/internal/domain"
	"github.com/iago/fleetops-back/internal/metrics"
	"github.com/iago/fleetops-back/internal/repository"
	"go.uber.org/zap"
)

const (
	notificationWindow = 30 * 24 * time.Hour
	notificationLimit  = 50

	unknownDriver      = "Unknown Driver"
	unknownDestination = "Unknown Destination"
)

// RouteDestinations resolves the destination of one route inside a stored
// route job.
type RouteDestinations interface {
	RouteDestination(ctx context.Context, jobID string, index int) (string, bool)
}

// NotificationFeed is what a manager sees when opening notifications.
type NotificationFeed struct {
	Notifications         []domain.Notification
	UnreadCount           int
	NewNotificationsCount int
}

type NotificationsService struct {
	assignments   repository.AssignmentsRepository
	notifications repository.NotificationsRepository
	routes        RouteDestinations
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

func NewNotificationsService(
	assignments repository.AssignmentsRepository,
	notifications repository.NotificationsRepository,
	routes RouteDestinations,
	m *metrics.Metrics,
	logger *zap.Logger,
) *NotificationsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationsService{
		assignments:   assignments,
		notifications: notifications,
		routes:        routes,
		metrics:       m,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile creates one notification per (assignment, status) the manager
// has not been told about yet and returns how many were created. Failures
// are logged and reported as zero.
func (s *NotificationsService) Reconcile(ctx context.Context, managerID string) int {
	if strings.TrimSpace(managerID) == "" {
		s.logger.Warn("reconcile skipped: empty manager id")
		return 0
	}
	logger := s.logger.With(zap.String("recipient", managerID))

	assignments, err := s.assignments.ListAssignmentsForManager(ctx, managerID)
	if err != nil {
		logger.Error("list assignments failed", zap.Error(err))
		return 0
	}

	pending := make([]domain.Notification, 0)
	for _, assignment := range assignments {
		if assignment.ID == "" {
			logger.Warn("assignment without id skipped", zap.String("route_id", assignment.RouteID))
			continue
		}
		exists, err := s.notifications.NotificationExists(ctx, assignment.ID, assignment.Status, managerID)
		if err != nil {
			logger.Error("notification lookup failed", zap.String("assignment_id", assignment.ID), zap.Error(err))
			return 0
		}
		if exists {
			continue
		}
		pending = append(pending, domain.Notification{
			Recipient:    managerID,
			AssignmentID: assignment.ID,
			DriverID:     assignment.DriverID,
			Type:         domain.NotificationStatusChange,
			Message:      s.message(ctx, assignment),
			NewStatus:    assignment.Status,
			CreatedAt:    s.now(),
		})
	}

	if len(pending) == 0 {
		return 0
	}
	if err := s.notifications.InsertNotifications(ctx, pending); err != nil {
		logger.Error("insert notifications failed", zap.Int("count", len(pending)), zap.Error(err))
		return 0
	}
	s.metrics.NotificationsCreated(len(pending))
	logger.Info("notifications created", zap.Int("count", len(pending)))
	return len(pending)
}

// List reconciles first, then returns the last 30 days of notifications.
func (s *NotificationsService) List(ctx context.Context, managerID string) (*NotificationFeed, error) {
	created := s.Reconcile(ctx, managerID)

	items, err := s.notifications.ListNotifications(ctx, domain.NotificationListFilter{
		Recipient: managerID,
		Since:     s.now().Add(-notificationWindow),
		Limit:     notificationLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.notifications.CountUnread(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}
	return &NotificationFeed{
		Notifications:         items,
		UnreadCount:           unread,
		NewNotificationsCount: created,
	}, nil
}

func (s *NotificationsService) MarkAllRead(ctx context.Context, managerID string) (int, error) {
	count, err := s.notifications.MarkAllRead(ctx, managerID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return count, nil
}

func (s *NotificationsService) message(ctx context.Context, assignment domain.Assignment) string {
	driver := assignment.DriverName
	if driver == "" {
		driver = unknownDriver
	}
	destination := s.destination(ctx, assignment.RouteID)

	switch assignment.Status {
	case domain.AssignmentAssigned:
		return fmt.Sprintf("New assignment created for %s to %s", driver, destination)
	case domain.AssignmentInProgress:
		return fmt.Sprintf("Assignment for %s to %s is now in progress", driver, destination)
	case domain.AssignmentCompleted:
		return fmt.Sprintf("Assignment for %s to %s has been completed", driver, destination)
	case domain.AssignmentCancelled:
		return fmt.Sprintf("Assignment for %s to %s has been cancelled", driver, destination)
	default:
		return fmt.Sprintf("Assignment status updated for %s to %s", driver, destination)
	}
}

func (s *NotificationsService) destination(ctx context.Context, routeID string) string {
	if s.routes == nil || routeID == "" {
		return unknownDestination
	}
	jobID, index := SplitRouteID(routeID)
	if destination, ok := s.routes.RouteDestination(ctx, jobID, index); ok {
		return destination
	}
	// A relocated job id ends in "-<unixnano>" and reads like an index.
	if jobID != routeID {
		if destination, ok := s.routes.RouteDestination(ctx, routeID, 0); ok {
			return destination
		}
	}
	return unknownDestination
}

// SplitRouteID splits "<jobId>-<index>" at the last dash. A bare job uuid, or
// an id without a numeric suffix, refers to route 0 of the whole id.
func SplitRouteID(routeID string) (string, int) {
	if _, err := uuid.Parse(routeID); err == nil {
		return routeID, 0
	}
	cut := strings.LastIndex(routeID, "-")
	if cut <= 0 {
		return routeID, 0
	}
	index, err := strconv.Atoi(routeID[cut+1:])
	if err != nil {
		return routeID, 0
	}
	return routeID[:cut], index
}
