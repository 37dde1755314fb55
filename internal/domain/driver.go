package domain

import "time"

type DriverStatus string

const (
	DriverActive     DriverStatus = "active"
	DriverInactive   DriverStatus = "inactive"
	DriverOnDelivery DriverStatus = "on_delivery"
	DriverOnLeave    DriverStatus = "on_leave"
)

func (s DriverStatus) Valid() bool {
	switch s {
	case DriverActive, DriverInactive, DriverOnDelivery, DriverOnLeave:
		return true
	default:
		return false
	}
}

type Driver struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	License   string
	Status    DriverStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DriverLocation is one tracker fix. Listings fill in the driver's name and
// current status.
type DriverLocation struct {
	DriverID   string
	DriverName string
	Status     DriverStatus
	Latitude   float64
	Longitude  float64
	Timestamp  time.Time
}

type DriverStats struct {
	Total      int
	Active     int
	Inactive   int
	OnDelivery int
	OnLeave    int
	At         time.Time
}

// AssignmentFilter narrows assignment listings. Zero fields match everything.
type AssignmentFilter struct {
	Date     time.Time
	DriverID string
}

// AssignmentPatch is a partial update; nil fields are left alone.
type AssignmentPatch struct {
	Status    *AssignmentStatus
	Notes     *string
	UpdatedBy string
}
