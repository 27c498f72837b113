package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. Changes are published to the
// feed synchronously, after the write and outside the lock.
type MemoryStore struct {
	mu            sync.RWMutex
	appointments  map[string]model.Appointment
	notifications map[string]model.Notification
	events        map[string]struct{}
	publish       func(model.Change)
	now           func() time.Time
}

func NewMemoryStore(publish func(model.Change)) *MemoryStore {
	if publish == nil {
		publish = func(model.Change) {}
	}
	return &MemoryStore{
		appointments:  map[string]model.Appointment{},
		notifications: map[string]model.Notification{},
		events:        map[string]struct{}{},
		publish:       publish,
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateAppointment(_ context.Context, a *model.Appointment) error {
	s.mu.Lock()
	a.ID = uuid.NewString()
	a.CreatedAt = nextStamp(s.now(), time.Time{})
	a.UpdatedAt = a.CreatedAt
	a.Version = 1
	s.appointments[a.ID] = *a
	s.mu.Unlock()

	s.publish(model.AppointmentChanged(*a))
	return nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) UpdateAppointment(_ context.Context, a *model.Appointment, expectedVersion int64) error {
	s.mu.Lock()
	cur, ok := s.appointments[a.ID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		s.mu.Unlock()
		return ErrVersionConflict
	}
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = nextStamp(s.now(), cur.UpdatedAt)
	a.Version = expectedVersion + 1
	s.appointments[a.ID] = *a
	s.mu.Unlock()

	s.publish(model.AppointmentChanged(*a))
	return nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, f model.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	out := make([]model.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	if f.Latest {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	} else {
		SortBySlot(out)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListAwaitingReconciliation(_ context.Context, limit int) ([]model.Appointment, error) {
	s.mu.RLock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.PaymentStatus == model.PaymentAwaiting && a.PaymentExecuteAttempted && a.PaymentID != "" {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	n.ID = uuid.NewString()
	n.CreatedAt = nextStamp(s.now(), time.Time{})
	n.Read = false
	s.notifications[n.ID] = *n
	s.mu.Unlock()

	s.publish(model.NotificationChanged(*n))
	return nil
}

func (s *MemoryStore) GetNotification(_ context.Context, id string) (model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return model.Notification{}, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, f model.NotificationFilter) ([]model.Notification, error) {
	s.mu.RLock()
	out := make([]model.Notification, 0)
	for _, n := range s.notifications {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id string) (model.Notification, error) {
	s.mu.Lock()
	n, ok := s.notifications[id]
	if !ok {
		s.mu.Unlock()
		return model.Notification{}, ErrNotFound
	}
	changed := !n.Read
	n.Read = true
	s.notifications[id] = n
	s.mu.Unlock()

	if changed {
		s.publish(model.NotificationChanged(n))
	}
	return n, nil
}

func (s *MemoryStore) RecordProviderEvent(_ context.Context, provider, eventID, _ string, _ []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + "/" + eventID
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	s.events[key] = struct{}{}
	return true, nil
}

// SortBySlot orders appointments by date, time, then id.
func SortBySlot(as []model.Appointment) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].Date != as[j].Date {
			return as[i].Date < as[j].Date
		}
		if as[i].Time != as[j].Time {
			return as[i].Time < as[j].Time
		}
		return as[i].ID < as[j].ID
	})
}
