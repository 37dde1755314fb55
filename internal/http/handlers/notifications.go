package handlers

import (
	"net/http"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
)

type notificationResponse struct {
	ID           string                  `json:"id"`
	AssignmentID string                  `json:"assignmentId"`
	DriverID     string                  `json:"driverId"`
	Type         domain.NotificationType `json:"type"`
	Message      string                  `json:"message"`
	NewStatus    domain.AssignmentStatus `json:"newStatus"`
	IsRead       bool                    `json:"isRead"`
	CreatedAt    time.Time               `json:"createdAt"`
}

type notificationFeedResponse struct {
	Notifications         []notificationResponse `json:"notifications"`
	UnreadCount           int                    `json:"unreadCount"`
	NewNotificationsCount int                    `json:"newNotificationsCount"`
}

func (api *API) ListNotifications(w http.ResponseWriter, r *http.Request) {
	feed, err := api.notifications.List(r.Context(), owner(r))
	if err != nil {
		api.writeServiceError(w, r, err, "notifications")
		return
	}

	response := notificationFeedResponse{
		Notifications:         make([]notificationResponse, 0, len(feed.Notifications)),
		UnreadCount:           feed.UnreadCount,
		NewNotificationsCount: feed.NewNotificationsCount,
	}
	for _, item := range feed.Notifications {
		response.Notifications = append(response.Notifications, notificationResponse{
			ID:           item.ID,
			AssignmentID: item.AssignmentID,
			DriverID:     item.DriverID,
			Type:         item.Type,
			Message:      item.Message,
			NewStatus:    item.NewStatus,
			IsRead:       item.IsRead,
			CreatedAt:    item.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (api *API) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	updated, err := api.notifications.MarkAllRead(r.Context(), owner(r))
	if err != nil {
		api.writeServiceError(w, r, err, "notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "All notifications marked as read",
		"updated": updated,
	})
}
