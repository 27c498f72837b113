package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/feed"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/metrics"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	doctor = auth.Principal{ID: "d1", Role: auth.RoleDoctor}
	admin  = auth.Principal{ID: "admin-1", Role: auth.RoleAdmin}
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setup(t *testing.T) (*Manager, *storage.MemoryStore, *feed.Hub, *metrics.Metrics) {
	t.Helper()
	hub := feed.NewHub()
	store := storage.NewMemoryStore(hub.Publish)
	m := metrics.New(prometheus.NewRegistry())
	return NewManager(hub, store, quietLogger(), m, Options{}), store, hub, m
}

func seed(t *testing.T, store *storage.MemoryStore, doctorID, date, clock string) model.Appointment {
	t.Helper()
	a := model.Appointment{PatientID: "p1", DoctorID: doctorID, Date: date, Time: clock,
		Status: model.StatusPending, PaymentStatus: model.PaymentNotRequired}
	require.NoError(t, store.CreateAppointment(context.Background(), &a))
	return a
}

func next(t *testing.T, s *Subscription) View {
	t.Helper()
	select {
	case v := <-s.Views():
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no view delivered")
		return View{}
	}
}

// waitFor reads views until cond holds.
func waitFor(t *testing.T, s *Subscription, cond func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-s.Views():
			if cond(v) {
				return v
			}
		case <-deadline:
			t.Fatal("condition not reached")
			return View{}
		}
	}
}

func TestDoctorViewIsScopedAndLive(t *testing.T) {
	mgr, store, _, _ := setup(t)
	mine := seed(t, store, "d1", "2025-04-02", "09:00")
	seed(t, store, "d2", "2025-04-01", "09:00")

	sub, err := mgr.Subscribe(context.Background(), doctor)
	require.NoError(t, err)
	defer sub.Close()

	first := next(t, sub)
	require.Len(t, first.Appointments, 1)
	assert.Equal(t, mine.ID, first.Appointments[0].ID)
	assert.Equal(t, 1, first.Counts["pending"])
	assert.Equal(t, 1, first.Counts["total"])

	earlier := seed(t, store, "d1", "2025-04-01", "08:00")
	v := waitFor(t, sub, func(v View) bool { return v.Counts["total"] == 2 })
	assert.Equal(t, earlier.ID, v.Appointments[0].ID)

	accepted := mine
	accepted.Status = model.StatusAccepted
	require.NoError(t, store.UpdateAppointment(context.Background(), &accepted, mine.Version))
	v = waitFor(t, sub, func(v View) bool { return v.Counts["accepted"] == 1 })
	assert.Equal(t, 1, v.Counts["pending"])
	assert.Equal(t, 2, v.Counts["total"])

	// other doctors' changes never arrive
	seed(t, store, "d2", "2025-04-03", "09:00")
	select {
	case v := <-sub.Views():
		t.Fatalf("unexpected view %+v", v.Counts)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStaleVersionsAreIgnored(t *testing.T) {
	mgr, _, _, _ := setup(t)
	st := mgr.newState(admin)
	st.appointments = map[string]model.Appointment{}
	st.notifications = map[string]model.Notification{}

	v2 := model.Appointment{ID: "a1", Status: model.StatusAccepted, Version: 2}
	v1 := model.Appointment{ID: "a1", Status: model.StatusPending, Version: 1}
	assert.True(t, st.apply(model.AppointmentChanged(v2)))
	assert.False(t, st.apply(model.AppointmentChanged(v1)))
	assert.Equal(t, 1, st.view().Counts["accepted"])
	assert.Equal(t, 0, st.view().Counts["pending"])
}

func TestNotificationsLeaveViewWhenRead(t *testing.T) {
	mgr, store, _, _ := setup(t)
	n := model.Notification{RecipientType: model.RecipientDoctor, RecipientID: "d1", Title: "New Appointment", AppointmentID: "a1"}
	require.NoError(t, store.CreateNotification(context.Background(), &n))

	sub, err := mgr.Subscribe(context.Background(), doctor)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, next(t, sub).Notifications, 1)

	_, err = store.MarkNotificationRead(context.Background(), n.ID)
	require.NoError(t, err)
	waitFor(t, sub, func(v View) bool { return len(v.Notifications) == 0 })
}

func TestCloseDeregistersOnce(t *testing.T) {
	mgr, _, hub, m := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := mgr.Subscribe(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscriptions()))

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop on cancel")
	}
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Subscriptions()))
}

func TestResyncReloadsAfterOverflow(t *testing.T) {
	mgr, store, hub, _ := setup(t)
	sub, err := mgr.Subscribe(context.Background(), admin)
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	// Publish straight to the hub faster than the subscriber drains it.
	for i := 0; i < 200; i++ {
		hub.Publish(model.AppointmentChanged(model.Appointment{ID: "ghost", Version: int64(i + 1), Status: model.StatusPending}))
	}
	seed(t, store, "d1", "2025-04-01", "09:00")

	v := waitFor(t, sub, func(v View) bool {
		for _, a := range v.Appointments {
			if a.ID != "ghost" {
				return true
			}
		}
		return false
	})
	assert.GreaterOrEqual(t, v.Counts["total"], 1)
}

type failingLoader struct{}

func (failingLoader) ListAppointments(context.Context, model.AppointmentFilter) ([]model.Appointment, error) {
	return nil, errors.New("db down")
}

func (failingLoader) ListNotifications(context.Context, model.NotificationFilter) ([]model.Notification, error) {
	return nil, nil
}

func TestSubscribeFailsCleanly(t *testing.T) {
	hub := feed.NewHub()
	mgr := NewManager(hub, failingLoader{}, quietLogger(), nil, Options{})

	_, err := mgr.Subscribe(context.Background(), doctor)
	require.Error(t, err)
	assert.Equal(t, 0, hub.Len())

	_, err = mgr.Subscribe(context.Background(), auth.Principal{})
	assert.Equal(t, apperr.Unauthenticated, apperr.CodeOf(err))
}

func TestSnapshotAdminLimit(t *testing.T) {
	hub := feed.NewHub()
	store := storage.NewMemoryStore(hub.Publish)
	mgr := NewManager(hub, store, quietLogger(), nil, Options{AdminLimit: 2})
	for i := 0; i < 3; i++ {
		seed(t, store, "d1", "2025-04-01", "09:0"+string(rune('0'+i)))
	}
	v, err := mgr.Snapshot(context.Background(), admin)
	require.NoError(t, err)
	assert.Len(t, v.Appointments, 2)
	assert.Equal(t, 2, v.Counts["total"])
	assert.Equal(t, 0, hub.Len())
}
