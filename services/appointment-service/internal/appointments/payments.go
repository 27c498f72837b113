package appointments

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/libs/gateway"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/fanout"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/storage"
	"github.com/cenkalti/backoff/v5"
)

// PaymentHandle is what a patient needs to complete checkout.
type PaymentHandle struct {
	AppointmentID string `json:"appointmentId"`
	PaymentID     string `json:"paymentId"`
	CheckoutURL   string `json:"checkoutUrl"`
	Amount        int64  `json:"amount"`
}

func handleOf(a model.Appointment) PaymentHandle {
	return PaymentHandle{AppointmentID: a.ID, PaymentID: a.PaymentID, CheckoutURL: a.CheckoutURL, Amount: a.FeeAmount}
}

// payment sources label outcome metrics.
const (
	SourceConfirm   = "confirm"
	SourceReconcile = "reconcile"
)

// AttachPayment opens a gateway session for the appointment fee. Calling it
// again while a session is open returns the same session.
func (s *Service) AttachPayment(ctx context.Context, actor auth.Principal, id string, amount int64) (PaymentHandle, error) {
	if err := authenticated(actor); err != nil {
		return PaymentHandle{}, err
	}
	if amount < 0 {
		return PaymentHandle{}, apperr.New(apperr.InvalidArgument, "fee_amount must not be negative")
	}
	appt, err := s.load(ctx, id)
	if err != nil {
		return PaymentHandle{}, err
	}
	if err := mayPay(actor, appt); err != nil {
		return PaymentHandle{}, err
	}

	lease, err := s.locks.Acquire(ctx, paymentLockKey(id))
	if err != nil {
		return PaymentHandle{}, lockError(err)
	}
	defer lease.Release()

	if appt, err = s.load(ctx, id); err != nil {
		return PaymentHandle{}, err
	}
	if appt.Status == model.StatusCancelled {
		return PaymentHandle{}, apperr.New(apperr.InvalidPaymentState, "appointment is cancelled")
	}
	switch appt.PaymentStatus {
	case model.PaymentAwaiting:
		if appt.PaymentID != "" {
			return handleOf(appt), nil
		}
	case model.PaymentFailed:
		// a failed session may be replaced by a fresh one
	default:
		return PaymentHandle{}, apperr.Newf(apperr.InvalidPaymentState, "payment is %s", appt.PaymentStatus).
			WithDetail("payment_status", appt.PaymentStatus)
	}

	if amount == 0 {
		amount = appt.FeeAmount
	}
	if amount <= 0 {
		return PaymentHandle{}, apperr.New(apperr.InvalidArgument, "fee_amount must be positive")
	}
	if appt.FeeAmount > 0 && amount != appt.FeeAmount {
		return PaymentHandle{}, apperr.Newf(apperr.InvalidArgument, "fee_amount %d does not match the booked fee %d", amount, appt.FeeAmount)
	}

	tok, err := retryGateway(ctx, s, "token", func(ctx context.Context) (gateway.Token, error) {
		return s.gateway.AcquireToken(ctx)
	})
	if err != nil {
		return PaymentHandle{}, err
	}
	// The reference is stable for one attempt so retried creates collapse
	// onto the same provider session.
	invoiceRef := appt.ID + "-" + strconv.FormatInt(appt.Version, 10)
	if err := lease.Held(ctx); err != nil {
		return PaymentHandle{}, lockError(err)
	}
	session, err := retryGateway(ctx, s, "create", func(ctx context.Context) (gateway.Session, error) {
		return s.gateway.CreateSession(ctx, tok, amount, invoiceRef)
	})
	if err != nil {
		return PaymentHandle{}, err
	}

	appt, err = s.savePayment(context.WithoutCancel(ctx), appt, func(a *model.Appointment) bool {
		a.FeeAmount = amount
		a.PaymentStatus = model.PaymentAwaiting
		a.PaymentID = session.PaymentID
		a.CheckoutURL = session.CheckoutURL
		a.PaymentTrxID = ""
		a.PaymentExecuteAttempted = false
		return true
	})
	if err != nil {
		return PaymentHandle{}, err
	}
	s.logger.Info("payment session attached",
		"appointment_id", appt.ID,
		"payment_id", appt.PaymentID,
		"amount", amount,
	)
	return handleOf(appt), nil
}

// ConfirmPayment executes the gateway session once the patient has approved
// it. Execute is issued at most once per session unless a query proves the
// earlier attempt never took effect. Outcomes that cannot be determined
// leave the appointment awaiting payment and return PAYMENT_UNCONFIRMED.
func (s *Service) ConfirmPayment(ctx context.Context, actor auth.Principal, id, paymentID string) (model.Appointment, error) {
	if err := authenticated(actor); err != nil {
		return model.Appointment{}, err
	}
	appt, err := s.load(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := mayPay(actor, appt); err != nil {
		return model.Appointment{}, err
	}

	lease, err := s.locks.Acquire(ctx, paymentLockKey(id))
	if err != nil {
		return model.Appointment{}, lockError(err)
	}
	defer lease.Release()

	if appt, err = s.load(ctx, id); err != nil {
		return model.Appointment{}, err
	}
	if paymentID != "" && appt.PaymentID != "" && paymentID != appt.PaymentID {
		return model.Appointment{}, apperr.New(apperr.InvalidArgument, "payment_id does not match the attached session").
			WithDetail("payment_id", paymentID)
	}
	if appt.PaymentStatus == model.PaymentPaid {
		return appt, nil
	}
	if appt.PaymentStatus != model.PaymentAwaiting || appt.PaymentID == "" {
		return model.Appointment{}, apperr.Newf(apperr.InvalidPaymentState, "no open payment session (payment is %s)", appt.PaymentStatus).
			WithDetail("payment_status", appt.PaymentStatus)
	}

	// From here on the caller can no longer abort: a gateway call in
	// flight either completes or times out into reconciliation.
	ctx = context.WithoutCancel(ctx)

	tok, err := retryGateway(ctx, s, "token", func(ctx context.Context) (gateway.Token, error) {
		return s.gateway.AcquireToken(ctx)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	// retried is set when an earlier execute for this session was issued and
	// a query has just shown it never took effect.
	retried := false
	if appt.PaymentExecuteAttempted {
		q, err := s.query(ctx, tok, appt.PaymentID)
		if err != nil {
			return model.Appointment{}, unconfirmed(appt, err)
		}
		if q.Status.Final() {
			return s.settle(ctx, actor, appt, q, SourceConfirm)
		}
		if q.Status != gateway.StatusInitiated {
			s.metrics.ObservePaymentOutcome(SourceConfirm, "unconfirmed")
			return model.Appointment{}, unconfirmed(appt, nil)
		}
		// The earlier execute never reached the provider; it is safe to
		// try again.
		retried = true
	}

	if !appt.PaymentExecuteAttempted {
		appt, err = s.savePayment(ctx, appt, func(a *model.Appointment) bool {
			if a.PaymentStatus != model.PaymentAwaiting {
				return false
			}
			a.PaymentExecuteAttempted = true
			return true
		})
		if err != nil {
			return model.Appointment{}, err
		}
		if appt.PaymentStatus != model.PaymentAwaiting {
			return appt, nil
		}
	}

	// Another holder may have taken over if the lease lapsed during the
	// calls above; it owns the execute from here.
	if err := lease.Held(ctx); err != nil {
		s.logger.Warn("payment lease not held, skipping execute",
			"appointment_id", appt.ID,
			"payment_id", appt.PaymentID,
			"err", err,
		)
		s.metrics.ObservePaymentOutcome(SourceConfirm, "unconfirmed")
		return model.Appointment{}, unconfirmed(appt, err)
	}

	ex, err := timedGateway(ctx, s, "execute", func(ctx context.Context) (gateway.Execution, error) {
		return s.gateway.Execute(ctx, tok, appt.PaymentID)
	})
	switch {
	case err == nil && ex.Status.Final():
		return s.settle(ctx, actor, appt, ex, SourceConfirm)
	case apperr.Is(err, apperr.GatewayRejected):
		s.logger.Warn("payment execute rejected",
			"appointment_id", appt.ID,
			"payment_id", appt.PaymentID,
			"err", err,
		)
		return s.afterRejectedExecute(ctx, actor, appt, tok, retried)
	case apperr.Is(err, apperr.GatewayAuthError):
		return model.Appointment{}, err
	case err != nil:
		s.logger.Warn("payment execute outcome unknown, reconciling",
			"appointment_id", appt.ID,
			"payment_id", appt.PaymentID,
			"code", apperr.CodeOf(err),
			"err", err,
		)
	}

	return s.reconcile(ctx, actor, appt, tok, SourceConfirm)
}

// afterRejectedExecute settles a rejected execute only on a conclusive
// query. A rejection can follow an earlier execute whose response was lost,
// so the charge may still have gone through.
func (s *Service) afterRejectedExecute(ctx context.Context, actor auth.Principal, appt model.Appointment, tok gateway.Token, retried bool) (model.Appointment, error) {
	q, err := s.query(ctx, tok, appt.PaymentID)
	switch {
	case err != nil:
		s.metrics.ObservePaymentOutcome(SourceConfirm, "unconfirmed")
		return model.Appointment{}, unconfirmed(appt, err)
	case q.Status.Final():
		return s.settle(ctx, actor, appt, q, SourceConfirm)
	case q.Status == gateway.StatusInitiated && !retried:
		return s.settle(ctx, actor, appt, gateway.Execution{PaymentID: appt.PaymentID, Status: gateway.StatusFailed}, SourceConfirm)
	}
	s.metrics.ObservePaymentOutcome(SourceConfirm, "unconfirmed")
	return model.Appointment{}, unconfirmed(appt, nil)
}

// ReconcilePayment asks the gateway for the settled outcome of an open
// session without ever executing it.
func (s *Service) ReconcilePayment(ctx context.Context, actor auth.Principal, id string) (model.Appointment, error) {
	if err := authenticated(actor); err != nil {
		return model.Appointment{}, err
	}
	appt, err := s.load(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := mayPay(actor, appt); err != nil {
		return model.Appointment{}, err
	}

	lease, err := s.locks.Acquire(ctx, paymentLockKey(id))
	if err != nil {
		return model.Appointment{}, lockError(err)
	}
	defer lease.Release()

	if appt, err = s.load(ctx, id); err != nil {
		return model.Appointment{}, err
	}
	if appt.PaymentStatus != model.PaymentAwaiting || appt.PaymentID == "" {
		return appt, nil
	}

	ctx = context.WithoutCancel(ctx)
	tok, err := retryGateway(ctx, s, "token", func(ctx context.Context) (gateway.Token, error) {
		return s.gateway.AcquireToken(ctx)
	})
	if err != nil {
		return model.Appointment{}, unconfirmed(appt, err)
	}
	return s.reconcile(ctx, actor, appt, tok, SourceReconcile)
}

func (s *Service) reconcile(ctx context.Context, actor auth.Principal, appt model.Appointment, tok gateway.Token, source string) (model.Appointment, error) {
	q, err := s.query(ctx, tok, appt.PaymentID)
	if err != nil {
		s.metrics.ObservePaymentOutcome(source, "unconfirmed")
		return model.Appointment{}, unconfirmed(appt, err)
	}
	switch q.Status {
	case gateway.StatusCompleted, gateway.StatusFailed:
		return s.settle(ctx, actor, appt, q, source)
	case gateway.StatusInitiated:
		if appt.PaymentExecuteAttempted {
			// Execute never landed; clear the marker so the next confirm
			// runs it instead of waiting for reconciliation.
			cleared, err := s.savePayment(ctx, appt, func(a *model.Appointment) bool {
				if a.PaymentStatus != model.PaymentAwaiting || !a.PaymentExecuteAttempted {
					return false
				}
				a.PaymentExecuteAttempted = false
				return true
			})
			if err != nil {
				return model.Appointment{}, err
			}
			appt = cleared
			s.metrics.ObservePaymentOutcome(source, "unconfirmed")
			return model.Appointment{}, unconfirmed(appt, nil)
		}
		return appt, nil
	}
	s.metrics.ObservePaymentOutcome(source, "unconfirmed")
	return model.Appointment{}, unconfirmed(appt, nil)
}

// settle records a final gateway outcome and notifies everyone once.
func (s *Service) settle(ctx context.Context, actor auth.Principal, appt model.Appointment, ex gateway.Execution, source string) (model.Appointment, error) {
	target := model.PaymentFailed
	event := fanout.EventPaymentFailed
	if ex.Status == gateway.StatusCompleted {
		target = model.PaymentPaid
		event = fanout.EventPaymentPaid
	}

	changed := false
	appt, err := s.savePayment(ctx, appt, func(a *model.Appointment) bool {
		if a.PaymentStatus != model.PaymentAwaiting || (ex.PaymentID != "" && a.PaymentID != ex.PaymentID) {
			changed = false
			return false
		}
		a.PaymentStatus = target
		a.PaymentExecuteAttempted = false
		if target == model.PaymentPaid {
			a.PaymentTrxID = ex.TransactionID
		}
		changed = true
		return true
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if !changed {
		return appt, nil
	}

	s.metrics.ObservePaymentOutcome(source, string(target))
	s.logger.Info("payment settled",
		"appointment_id", appt.ID,
		"payment_id", appt.PaymentID,
		"trx_id", appt.PaymentTrxID,
		"payment_status", appt.PaymentStatus,
		"source", source,
	)
	s.fanout.Notify(ctx, event, appt, recipientsFor(appt, actor))
	return appt, nil
}

// savePayment writes payment fields under optimistic concurrency. Payment
// fields are only written while the payment lock is held, so a conflict can
// only come from a concurrent status transition; the fields are reapplied
// to the fresh copy. apply returns false when nothing needs writing.
func (s *Service) savePayment(ctx context.Context, appt model.Appointment, apply func(*model.Appointment) bool) (model.Appointment, error) {
	const attempts = 5
	for i := 0; ; i++ {
		next := appt
		if !apply(&next) {
			return appt, nil
		}
		err := s.store.UpdateAppointment(ctx, &next, appt.Version)
		if err == nil {
			return next, nil
		}
		if !storage.IsVersionConflict(err) || i+1 >= attempts {
			return model.Appointment{}, storeError(err)
		}
		fresh, err := s.store.GetAppointment(ctx, appt.ID)
		if err != nil {
			return model.Appointment{}, storeError(err)
		}
		appt = fresh
	}
}

func (s *Service) query(ctx context.Context, tok gateway.Token, paymentID string) (gateway.Execution, error) {
	return retryGateway(ctx, s, "query", func(ctx context.Context) (gateway.Execution, error) {
		return s.gateway.Query(ctx, tok, paymentID)
	})
}

// timedGateway runs one gateway attempt under the configured timeout and
// records its latency and outcome.
func timedGateway[T any](ctx context.Context, s *Service, op string, call func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	v, err := call(cctx)
	s.metrics.ObserveGatewayCall(op, string(apperr.CodeOf(err)), time.Since(start).Seconds())
	if err != nil && apperr.CodeOf(err) == apperr.Internal {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperr.Wrap(apperr.GatewayTimeout, op+" timed out", err)
		} else {
			err = apperr.Wrap(apperr.GatewayUnavailable, op+" failed", err)
		}
	}
	return v, err
}

// retryGateway repeats op with exponential backoff while the gateway reports
// itself unavailable. Any other failure is returned at once.
func retryGateway[T any](ctx context.Context, s *Service, op string, call func(context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitial
	bo.MaxInterval = s.cfg.RetryMax

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := timedGateway(ctx, s, op, call)
		if err != nil && !apperr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0), backoff.WithMaxTries(uint(s.cfg.RetryAttempts)))
	if err != nil {
		s.logger.Warn("gateway call failed", "op", op, "code", apperr.CodeOf(err), "err", err)
		if apperr.CodeOf(err) == apperr.Internal {
			err = apperr.Wrap(apperr.GatewayUnavailable, op+" failed", err)
		}
	}
	return v, err
}

// mayPay allows the owning patient and admins to drive payment.
func mayPay(actor auth.Principal, appt model.Appointment) error {
	if actor.Role == auth.RoleDoctor {
		return apperr.New(apperr.Unauthorized, "doctors do not handle payments")
	}
	if !model.Owns(actor, appt) {
		return apperr.New(apperr.Unauthorized, "appointment belongs to someone else")
	}
	return nil
}

func paymentLockKey(id string) string { return "payment:" + id }

func lockError(err error) error {
	return apperr.Wrap(apperr.ConcurrentModification, "payment is being processed, retry shortly", err)
}

func unconfirmed(appt model.Appointment, cause error) error {
	e := apperr.New(apperr.PaymentUnconfirmed, "payment outcome not yet confirmed, retry shortly")
	if cause != nil {
		e = apperr.Wrap(apperr.PaymentUnconfirmed, "payment outcome not yet confirmed, retry shortly", cause)
	}
	return e.WithDetail("appointment_id", appt.ID).WithDetail("payment_id", appt.PaymentID)
}
