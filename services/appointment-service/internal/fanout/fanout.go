// Package fanout writes one notification per interested recipient for an
// appointment event. Delivery is best effort: failures are logged and
// counted, never returned.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/mailer"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/metrics"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"golang.org/x/sync/errgroup"
)

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

type Fanout struct {
	store       NotificationWriter
	mailer      mailer.Mailer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	timeout     time.Duration
}

type Option func(*Fanout)

func WithMailer(m mailer.Mailer) Option { return func(f *Fanout) { f.mailer = m } }

func WithMetrics(m *metrics.Metrics) Option { return func(f *Fanout) { f.metrics = m } }

func New(store NotificationWriter, logger *slog.Logger, opts ...Option) *Fanout {
	f := &Fanout{
		store:       store,
		mailer:      mailer.Noop{},
		logger:      logger,
		concurrency: 4,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type Result struct {
	Written []model.Notification
	Failed  []model.Recipient
}

// Notify writes the notifications concurrently. The appointment change that
// triggered it is already durable, so writes outlive the caller's context.
func (f *Fanout) Notify(ctx context.Context, event string, appt model.Appointment, recipients []model.Recipient) Result {
	ctx = context.WithoutCancel(ctx)

	var (
		mu  sync.Mutex
		res Result
	)
	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for _, r := range recipients {
		g.Go(func() error {
			n, err := f.deliver(ctx, event, appt, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, r)
				return nil
			}
			res.Written = append(res.Written, n)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (f *Fanout) deliver(ctx context.Context, event string, appt model.Appointment, r model.Recipient) (model.Notification, error) {
	title, message := render(event, appt, r.Type)
	n := model.Notification{
		RecipientID:   r.ID,
		RecipientType: r.Type,
		Title:         title,
		Message:       message,
		AppointmentID: appt.ID,
		Event:         event,
	}

	wctx, cancel := context.WithTimeout(ctx, f.timeout)
	err := f.store.CreateNotification(wctx, &n)
	cancel()
	f.metrics.ObserveNotificationWrite(string(r.Type), err == nil)
	if err != nil {
		f.logger.Warn("notification delivery failed",
			"code", apperr.NotificationDeliveryFailed,
			"event", event,
			"appointment_id", appt.ID,
			"recipient_type", r.Type,
			"recipient_id", r.ID,
			"err", err,
		)
		return model.Notification{}, err
	}

	if r.Type == model.RecipientPatient && r.Email != "" {
		mctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := f.mailer.Send(mctx, mailer.Message{
			Email:    r.Email,
			Username: appt.PatientName,
			Subject:  title,
			Message:  message,
		})
		cancel()
		f.metrics.ObserveEmail(err == nil)
		if err != nil {
			f.logger.Warn("notification email failed",
				"code", apperr.NotificationDeliveryFailed,
				"event", event,
				"appointment_id", appt.ID,
				"err", err,
			)
		}
	}
	return n, nil
}
