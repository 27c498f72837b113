package appointments

import (
	"context"
	"testing"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/libs/lock"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/fanout"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooksPendingAndNotifiesStaff(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, 0)

	assert.Equal(t, model.StatusPending, appt.Status)
	assert.Equal(t, model.PaymentNotRequired, appt.PaymentStatus)
	assert.Equal(t, "p1", appt.PatientID)
	assert.Equal(t, "Ayesha", appt.PatientName)

	created := h.notifications(t, fanout.EventAppointmentCreated)
	require.Len(t, created, 2)
	types := []model.RecipientType{created[0].RecipientType, created[1].RecipientType}
	assert.ElementsMatch(t, []model.RecipientType{model.RecipientDoctor, model.RecipientAdmin}, types)
}

func TestCreateWithFeeAwaitsPayment(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, 500)
	assert.Equal(t, model.PaymentAwaiting, appt.PaymentStatus)
	assert.EqualValues(t, 500, appt.FeeAmount)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	valid := BookingRequest{DoctorID: "d1", Date: "2025-04-01", Time: "09:00"}

	_, err := h.svc.Create(ctx, auth.Principal{}, valid)
	requireCode(t, err, apperr.Unauthenticated)

	_, err = h.svc.Create(ctx, doctor, valid)
	requireCode(t, err, apperr.Unauthorized)

	_, err = h.svc.Create(ctx, admin, valid)
	requireCode(t, err, apperr.InvalidArgument)

	bad := valid
	bad.Date = "01/04/2025"
	_, err = h.svc.Create(ctx, patient, bad)
	requireCode(t, err, apperr.InvalidArgument)

	bad = valid
	bad.Time = "9am"
	_, err = h.svc.Create(ctx, patient, bad)
	requireCode(t, err, apperr.InvalidArgument)

	bad = valid
	bad.FeeAmount = -1
	_, err = h.svc.Create(ctx, patient, bad)
	requireCode(t, err, apperr.InvalidArgument)

	onBehalf := valid
	onBehalf.PatientID = "p9"
	appt, err := h.svc.Create(ctx, admin, onBehalf)
	require.NoError(t, err)
	assert.Equal(t, "p9", appt.PatientID)
}

func TestDoctorDrivesLifecycleToCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, 0)

	for _, to := range []model.Status{model.StatusAccepted, model.StatusInProgress, model.StatusCompleted} {
		next, err := h.svc.Transition(ctx, doctor, appt.ID, to)
		require.NoError(t, err, "to %s", to)
		assert.Equal(t, to, next.Status)
		assert.Greater(t, next.Version, appt.Version)
		appt = next
	}

	_, err := h.svc.Transition(ctx, admin, appt.ID, model.StatusCancelled)
	requireCode(t, err, apperr.InvalidTransition)

	// doctor acted, so the patient and admin hear about it
	done := h.notifications(t, fanout.EventForStatus(model.StatusCompleted))
	require.Len(t, done, 2)
	for _, n := range done {
		assert.NotEqual(t, model.RecipientDoctor, n.RecipientType)
	}
}

func TestPatientCannotAccept(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, 0)

	_, err := h.svc.Transition(context.Background(), patient, appt.ID, model.StatusAccepted)
	requireCode(t, err, apperr.Unauthorized)

	got, err := h.svc.Get(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, appt.Version, got.Version)
}

func TestIllegalEdgeIsRejectedBeforeRoleCheck(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, 0)

	_, err := h.svc.Transition(context.Background(), doctor, appt.ID, model.StatusCompleted)
	requireCode(t, err, apperr.InvalidTransition)

	other := auth.Principal{ID: "d2", Role: auth.RoleDoctor}
	_, err = h.svc.Transition(context.Background(), other, appt.ID, model.StatusCompleted)
	requireCode(t, err, apperr.InvalidTransition)

	_, err = h.svc.Transition(context.Background(), other, appt.ID, model.StatusAccepted)
	requireCode(t, err, apperr.Unauthorized)
}

func TestTransitionUnknownAppointmentAndStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Transition(context.Background(), doctor, "missing", model.StatusAccepted)
	requireCode(t, err, apperr.NotFound)

	appt := h.book(t, 0)
	_, err = h.svc.Transition(context.Background(), doctor, appt.ID, model.Status("archived"))
	requireCode(t, err, apperr.InvalidArgument)
}

func TestRescheduleAndRebook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, 0)

	appt, err := h.svc.Transition(ctx, patient, appt.ID, model.StatusRescheduleRequested)
	require.NoError(t, err)
	assert.Len(t, h.notifications(t, fanout.EventForStatus(model.StatusRescheduleRequested)), 3)

	_, err = h.svc.Rebook(ctx, patient, appt.ID, "2025-04-02", "10:30")
	requireCode(t, err, apperr.Unauthorized)

	_, err = h.svc.Rebook(ctx, doctor, appt.ID, "2025-04-31x", "")
	requireCode(t, err, apperr.InvalidArgument)

	appt, err = h.svc.Rebook(ctx, doctor, appt.ID, "2025-04-02", "10:30")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.Equal(t, "2025-04-02", appt.Date)
	assert.Equal(t, "10:30", appt.Time)
}

func TestPatientCancelRecordsReason(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, 0)

	appt, err := h.svc.Cancel(context.Background(), patient, appt.ID, "travelling")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, appt.Status)
	assert.Equal(t, "travelling", appt.CancelReason)
}

func TestStaleWriteIsRejected(t *testing.T) {
	mem := storage.NewMemoryStore(nil)
	store := &staleStore{MemoryStore: mem}
	svc := NewService(store, &scriptedGateway{}, lock.NewLocal(), fanout.New(mem, quietLogger()), nil, quietLogger(), Config{})

	appt := model.Appointment{PatientID: "p1", DoctorID: "d1", Date: "2025-04-01", Time: "09:00",
		Status: model.StatusPending, PaymentStatus: model.PaymentNotRequired}
	require.NoError(t, mem.CreateAppointment(context.Background(), &appt))

	_, err := svc.Transition(context.Background(), doctor, appt.ID, model.StatusAccepted)
	requireCode(t, err, apperr.ConcurrentModification)

	got, err := mem.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "edited elsewhere", got.CancelReason)
}

func TestListAndNotificationsAreScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mine := h.book(t, 0)
	_, err := h.svc.Create(ctx, admin, BookingRequest{PatientID: "p2", DoctorID: "d2", Date: "2025-04-01", Time: "08:00"})
	require.NoError(t, err)

	list, err := h.svc.List(ctx, patient, ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = h.svc.List(ctx, admin, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "08:00", list[0].Time)

	_, err = h.svc.Get(ctx, auth.Principal{ID: "p2", Role: auth.RolePatient}, mine.ID)
	requireCode(t, err, apperr.Unauthorized)

	notes, err := h.svc.Notifications(ctx, doctor, true, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	_, err = h.svc.MarkNotificationRead(ctx, auth.Principal{ID: "d2", Role: auth.RoleDoctor}, notes[0].ID)
	requireCode(t, err, apperr.Unauthorized)

	read, err := h.svc.MarkNotificationRead(ctx, doctor, notes[0].ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	_, err = h.svc.MarkNotificationRead(ctx, doctor, notes[0].ID)
	require.NoError(t, err)

	notes, err = h.svc.Notifications(ctx, doctor, true, 0)
	require.NoError(t, err)
	assert.Empty(t, notes)

	adminNotes, err := h.svc.Notifications(ctx, admin, false, 0)
	require.NoError(t, err)
	assert.Len(t, adminNotes, 2)
}

func TestCanTransitionTerminalStatesHaveNoEdges(t *testing.T) {
	for _, to := range model.Statuses {
		assert.False(t, CanTransition(model.StatusCompleted, to))
		assert.False(t, CanTransition(model.StatusCancelled, to))
	}
	assert.True(t, CanTransition(model.StatusRescheduleRequested, model.StatusPending))
	assert.False(t, CanTransition(model.StatusPending, model.StatusInProgress))
}

func TestNotificationFailureDoesNotFailTheOperation(t *testing.T) {
	mem := storage.NewMemoryStore(nil)
	fo := fanout.New(&failingNotes{MemoryStore: mem, failFor: model.RecipientAdmin}, quietLogger())
	svc := NewService(mem, &scriptedGateway{}, lock.NewLocal(), fo, nil, quietLogger(), Config{})
	ctx := context.Background()

	appt, err := svc.Create(ctx, patient, BookingRequest{DoctorID: "d1", DoctorName: "Karim", Date: "2025-04-01", Time: "09:00"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, appt.Status)

	notes, err := mem.ListNotifications(ctx, model.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.RecipientDoctor, notes[0].RecipientType)
	assert.Equal(t, appt.ID, notes[0].AppointmentID)

	accepted, err := svc.Transition(ctx, doctor, appt.ID, model.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, accepted.Status)

	notes, err = mem.ListNotifications(ctx, model.NotificationFilter{RecipientType: model.RecipientPatient})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, fanout.EventForStatus(model.StatusAccepted), notes[0].Event)
}
