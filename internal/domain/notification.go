package domain

import "time"

type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentAssigned, AssignmentInProgress, AssignmentCompleted, AssignmentCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the assignment still keeps its driver busy.
func (s AssignmentStatus) Active() bool {
	return s == AssignmentAssigned || s == AssignmentInProgress
}

// Assignment links a driver to one route of a route job. RouteID has the form
// "<routeJobID>-<routeIndex>".
type Assignment struct {
	ID            string
	RouteID       string
	DriverID      string
	DriverName    string
	Date          time.Time
	Status        AssignmentStatus
	AssignedBy    string
	LastUpdatedBy string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NotificationType string

const (
	NotificationStatusChange  NotificationType = "status_change"
	NotificationNewAssignment NotificationType = "new_assignment"
	NotificationUrgent        NotificationType = "urgent"
)

type Notification struct {
	ID           string
	Recipient    string
	AssignmentID string
	DriverID     string
	Type         NotificationType
	Message      string
	NewStatus    AssignmentStatus
	IsRead       bool
	CreatedAt    time.Time
}

type NotificationListFilter struct {
	Recipient string
	Since     time.Time
	Limit     int
}
