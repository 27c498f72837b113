// Package appointments owns the appointment lifecycle: booking, status
// transitions with role checks, and the payment orchestration that drives a
// gateway session from creation to a settled outcome.
package appointments

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/libs/gateway"
	"github.com/ItsMoloy/Android-250/libs/lock"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/fanout"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/metrics"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/storage"
)

// System acts on behalf of background workers and provider webhooks.
var System = auth.Principal{ID: "system", Role: auth.RoleAdmin, Name: "system"}

type Config struct {
	// GatewayTimeout bounds a single gateway round trip.
	GatewayTimeout time.Duration
	// RetryAttempts caps attempts for token, create and query calls that
	// fail with GATEWAY_UNAVAILABLE. Execute is never retried blindly.
	RetryAttempts int
	RetryInitial  time.Duration
	RetryMax      time.Duration
}

func (c Config) withDefaults() Config {
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 2 * time.Second
	}
	return c
}

// PaymentBudget is the longest one payment operation can hold its lock:
// token, query and reconciling query each retried up to RetryAttempts, one
// execute, and the jittered backoff between retries.
func (c Config) PaymentBudget() time.Duration {
	c = c.withDefaults()
	n := time.Duration(c.RetryAttempts)
	calls := 3*n + 1
	waits := 3 * (n - 1)
	return calls*c.GatewayTimeout + waits*c.RetryMax*3/2
}

type Service struct {
	store   storage.Store
	gateway gateway.Client
	locks   lock.Locker
	fanout  *fanout.Fanout
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

func NewService(store storage.Store, gw gateway.Client, locks lock.Locker, fo *fanout.Fanout, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:   store,
		gateway: gw,
		locks:   locks,
		fanout:  fo,
		metrics: m,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

type BookingRequest struct {
	PatientID    string `json:"patient_id"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	DoctorID     string `json:"doctor_id"`
	DoctorName   string `json:"doctor_name"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	FeeAmount    int64  `json:"fee_amount"`
}

// Create books a pending appointment. Patients book for themselves; admins
// book on behalf of a named patient.
func (s *Service) Create(ctx context.Context, actor auth.Principal, req BookingRequest) (model.Appointment, error) {
	if err := authenticated(actor); err != nil {
		return model.Appointment{}, err
	}

	switch actor.Role {
	case auth.RolePatient:
		if req.PatientID != "" && req.PatientID != actor.ID {
			return model.Appointment{}, apperr.New(apperr.Unauthorized, "patients may only book for themselves")
		}
		req.PatientID = actor.ID
		if req.PatientName == "" {
			req.PatientName = actor.Name
		}
		if req.PatientEmail == "" {
			req.PatientEmail = actor.Email
		}
	case auth.RoleAdmin:
		if strings.TrimSpace(req.PatientID) == "" {
			return model.Appointment{}, apperr.New(apperr.InvalidArgument, "patient_id is required")
		}
	default:
		return model.Appointment{}, apperr.New(apperr.Unauthorized, "only patients and admins may book")
	}
	if err := validateBooking(req); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		PatientID:     req.PatientID,
		PatientName:   strings.TrimSpace(req.PatientName),
		PatientEmail:  strings.TrimSpace(req.PatientEmail),
		DoctorID:      req.DoctorID,
		DoctorName:    strings.TrimSpace(req.DoctorName),
		Date:          req.Date,
		Time:          req.Time,
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentNotRequired,
		FeeAmount:     req.FeeAmount,
	}
	if req.FeeAmount > 0 {
		appt.PaymentStatus = model.PaymentAwaiting
	}
	if err := s.store.CreateAppointment(ctx, &appt); err != nil {
		s.metrics.ObserveTransition(string(model.StatusPending), "error")
		return model.Appointment{}, storeError(err)
	}
	s.metrics.ObserveTransition(string(model.StatusPending), "created")
	s.logger.Info("appointment created",
		"appointment_id", appt.ID,
		"patient_id", appt.PatientID,
		"doctor_id", appt.DoctorID,
		"slot", appt.Date+" "+appt.Time,
	)

	s.fanout.Notify(ctx, fanout.EventAppointmentCreated, appt, []model.Recipient{
		{Type: model.RecipientDoctor, ID: appt.DoctorID},
		{Type: model.RecipientAdmin},
	})
	return appt, nil
}

func validateBooking(req BookingRequest) error {
	if strings.TrimSpace(req.DoctorID) == "" {
		return apperr.New(apperr.InvalidArgument, "doctor_id is required")
	}
	if err := validateSlot(req.Date, req.Time); err != nil {
		return err
	}
	if req.FeeAmount < 0 {
		return apperr.New(apperr.InvalidArgument, "fee_amount must not be negative")
	}
	return nil
}

func validateSlot(date, clock string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil || len(date) != 10 {
		return apperr.New(apperr.InvalidArgument, "date must be YYYY-MM-DD").WithDetail("date", date)
	}
	if _, err := time.Parse("15:04", clock); err != nil || len(clock) != 5 {
		return apperr.New(apperr.InvalidArgument, "time must be HH:MM").WithDetail("time", clock)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (model.Appointment, error) {
	if err := authenticated(actor); err != nil {
		return model.Appointment{}, err
	}
	appt, err := s.load(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !model.Owns(actor, appt) {
		return model.Appointment{}, apperr.New(apperr.Unauthorized, "appointment belongs to someone else")
	}
	return appt, nil
}

type ListOptions struct {
	Statuses []model.Status
	Limit    int
}

// List returns the appointments visible to actor in slot order.
func (s *Service) List(ctx context.Context, actor auth.Principal, opts ListOptions) ([]model.Appointment, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	for _, st := range opts.Statuses {
		if !st.Valid() {
			return nil, apperr.Newf(apperr.InvalidArgument, "unknown status %q", st)
		}
	}
	f := model.ScopeFor(actor).Appointments
	f.Statuses = opts.Statuses
	f.Limit = opts.Limit
	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, storeError(err)
	}
	return appts, nil
}

func (s *Service) Notifications(ctx context.Context, actor auth.Principal, unreadOnly bool, limit int) ([]model.Notification, error) {
	if err := authenticated(actor); err != nil {
		return nil, err
	}
	f := model.ScopeFor(actor).Notifications
	f.UnreadOnly = unreadOnly
	f.Limit = limit
	ns, err := s.store.ListNotifications(ctx, f)
	if err != nil {
		return nil, storeError(err)
	}
	return ns, nil
}

// MarkNotificationRead flips the read flag on a notification addressed to
// actor. Marking twice is harmless.
func (s *Service) MarkNotificationRead(ctx context.Context, actor auth.Principal, id string) (model.Notification, error) {
	if err := authenticated(actor); err != nil {
		return model.Notification{}, err
	}
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return model.Notification{}, storeError(err)
	}
	if !model.ScopeFor(actor).Includes(model.NotificationChanged(n)) {
		return model.Notification{}, apperr.New(apperr.Unauthorized, "notification is addressed to someone else")
	}
	if n.Read {
		return n, nil
	}
	n, err = s.store.MarkNotificationRead(ctx, id)
	if err != nil {
		return model.Notification{}, storeError(err)
	}
	return n, nil
}

func (s *Service) load(ctx context.Context, id string) (model.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return model.Appointment{}, apperr.New(apperr.InvalidArgument, "appointment_id is required")
	}
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, storeError(err)
	}
	return appt, nil
}

func authenticated(p auth.Principal) error {
	if p.ID == "" || !p.Role.Valid() {
		return apperr.New(apperr.Unauthenticated, "missing or invalid identity")
	}
	return nil
}

func storeError(err error) error {
	switch {
	case storage.IsNotFound(err):
		return apperr.Wrap(apperr.NotFound, "not found", err)
	case storage.IsVersionConflict(err):
		return apperr.Wrap(apperr.ConcurrentModification, "appointment changed concurrently, reload and retry", err)
	}
	if apperr.CodeOf(err) != apperr.Internal {
		return err
	}
	return apperr.Wrap(apperr.Internal, "storage failure", err)
}

// recipientsFor addresses the patient plus every staff role other than the
// actor's own.
func recipientsFor(appt model.Appointment, actor auth.Principal) []model.Recipient {
	rs := []model.Recipient{{Type: model.RecipientPatient, ID: appt.PatientID, Email: appt.PatientEmail}}
	if actor.Role != auth.RoleDoctor || actor.ID == System.ID {
		rs = append(rs, model.Recipient{Type: model.RecipientDoctor, ID: appt.DoctorID})
	}
	if actor.Role != auth.RoleAdmin || actor.ID == System.ID {
		rs = append(rs, model.Recipient{Type: model.RecipientAdmin})
	}
	return rs
}
