// Package storage is the appointment store: the single source of truth for
// appointments and notifications, plus their change feed.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

type Store interface {
	// CreateAppointment assigns ID, timestamps and version 1.
	CreateAppointment(ctx context.Context, a *model.Appointment) error
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	// UpdateAppointment writes a only if the stored version still equals
	// expectedVersion. On success a.Version and a.UpdatedAt are advanced.
	UpdateAppointment(ctx context.Context, a *model.Appointment, expectedVersion int64) error
	ListAppointments(ctx context.Context, f model.AppointmentFilter) ([]model.Appointment, error)
	// ListAwaitingReconciliation returns appointments whose last execute
	// outcome is still unknown.
	ListAwaitingReconciliation(ctx context.Context, limit int) ([]model.Appointment, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id string) (model.Notification, error)
	ListNotifications(ctx context.Context, f model.NotificationFilter) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (model.Notification, error)

	// RecordProviderEvent returns false when the event was already recorded.
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
}

func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsVersionConflict(err error) bool { return errors.Is(err, ErrVersionConflict) }

// nextStamp keeps updatedAt strictly increasing even when the wall clock
// does not advance between two writes.
func nextStamp(now, prev time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
