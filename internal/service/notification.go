package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"groupride/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationCheckIn       NotificationType = "CHECK_IN"
	NotificationRiderJoined   NotificationType = "RIDER_JOINED"
	NotificationStoreDegraded NotificationType = "STORE_DEGRADED"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	RideID    string                 `json:"ride_id"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Publisher fans a serialized notification out to a ride's live listeners.
type Publisher interface {
	Broadcast(rideID string, payload []byte)
}

// NotificationService handles notification delivery.
type NotificationService struct {
	publisher Publisher
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(publisher Publisher) *NotificationService {
	return &NotificationService{publisher: publisher}
}

// FormatCheckIn renders a check-in event as "<rider> checked in at <checkpoint>".
// IDs are used when a label cannot be resolved.
func FormatCheckIn(event CheckInEvent, riderLabel, checkpointLabel LabelResolver) string {
	rider := resolve(riderLabel, event.Latest.RiderID, event.Latest.RiderID)
	checkpoint := resolve(checkpointLabel, event.Latest.CheckpointID, event.Latest.CheckpointID)
	return fmt.Sprintf("%s checked in at %s", rider, checkpoint)
}

// NotifyCheckIn announces a notifier event to the ride's listeners.
func (s *NotificationService) NotifyCheckIn(ctx context.Context, event CheckInEvent, riderLabel, checkpointLabel LabelResolver) error {
	if event.Type == EventDegraded {
		return s.send(ctx, Notification{
			Type:    NotificationStoreDegraded,
			RideID:  event.RideID,
			Title:   "Live Updates Interrupted",
			Message: "Showing last known check-ins until the connection recovers",
		})
	}

	latest := event.Latest
	return s.send(ctx, Notification{
		Type:    NotificationCheckIn,
		RideID:  event.RideID,
		Title:   "Check-In",
		Message: FormatCheckIn(event, riderLabel, checkpointLabel),
		Data: map[string]interface{}{
			"rider_id":      latest.RiderID,
			"checkpoint_id": latest.CheckpointID,
			"timestamp":     latest.Timestamp,
			"checkins":      event.Data,
		},
	})
}

// NotifyRiderJoined announces a roster change.
func (s *NotificationService) NotifyRiderJoined(ctx context.Context, ride *domain.Ride, riderID, riderName string) error {
	if riderName == "" {
		riderName = UnknownLabel
	}
	return s.send(ctx, Notification{
		Type:    NotificationRiderJoined,
		RideID:  ride.ID,
		Title:   "Rider Joined",
		Message: fmt.Sprintf("%s joined %s", riderName, ride.Title),
		Data: map[string]interface{}{
			"rider_id": riderID,
			"riders":   len(ride.Riders),
		},
	})
}

// send logs the notification and hands it to the publisher.
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	log.Printf("[NOTIFICATION] Type=%s, Ride=%s, Title=%s, Message=%s",
		notification.Type, notification.RideID, notification.Title, notification.Message)

	if s.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	s.publisher.Broadcast(notification.RideID, payload)
	return nil
}
