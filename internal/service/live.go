package service

import (
	"context"
	"log"
)

// RiderLabelSource loads display names for riders.
type RiderLabelSource interface {
	RiderLabels(ctx context.Context) (LabelResolver, error)
}

// LiveUpdates connects the Notifier to the notification service for rides
// that have live listeners.
type LiveUpdates struct {
	notifier      *Notifier
	rides         RideLookup
	labels        RiderLabelSource
	notifications *NotificationService
}

// NewLiveUpdates creates a new LiveUpdates. labels may be nil.
func NewLiveUpdates(notifier *Notifier, rides RideLookup, labels RiderLabelSource, notifications *NotificationService) *LiveUpdates {
	return &LiveUpdates{
		notifier:      notifier,
		rides:         rides,
		labels:        labels,
		notifications: notifications,
	}
}

// Start subscribes to rideID's check-ins and forwards every event.
func (l *LiveUpdates) Start(rideID string) error {
	ctx := context.Background()
	ride, err := l.rides.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	checkpointLabel := CheckpointLabels(ride)

	return l.notifier.Subscribe(ctx, rideID, func(event CheckInEvent) {
		var riderLabel LabelResolver
		if l.labels != nil && event.Type == EventCheckIn {
			labels, err := l.labels.RiderLabels(ctx)
			if err != nil {
				log.Printf("[LIVE] rider names unavailable for ride %s: %v", rideID, err)
			} else {
				riderLabel = labels
			}
		}
		if err := l.notifications.NotifyCheckIn(ctx, event, riderLabel, checkpointLabel); err != nil {
			log.Printf("[LIVE] notify failed for ride %s: %v", rideID, err)
		}
	})
}

// Stop detaches rideID's subscription.
func (l *LiveUpdates) Stop(rideID string) {
	l.notifier.Unsubscribe(rideID)
}
