package appointments

import (
	"context"
	"slices"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/fanout"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
)

var edges = map[model.Status][]model.Status{
	model.StatusPending:             {model.StatusAccepted, model.StatusRescheduleRequested, model.StatusCancelled},
	model.StatusAccepted:            {model.StatusInProgress, model.StatusRescheduleRequested, model.StatusCancelled},
	model.StatusInProgress:          {model.StatusCompleted, model.StatusCancelled},
	model.StatusRescheduleRequested: {model.StatusPending, model.StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// Terminal statuses have no outgoing edges.
func CanTransition(from, to model.Status) bool {
	return slices.Contains(edges[from], to)
}

// patients may only ask for a new slot or withdraw.
var patientTargets = []model.Status{model.StatusRescheduleRequested, model.StatusCancelled}

func mayRequest(actor auth.Principal, appt model.Appointment, to model.Status) error {
	if !model.Owns(actor, appt) {
		return apperr.New(apperr.Unauthorized, "appointment belongs to someone else")
	}
	if actor.Role == auth.RolePatient && !slices.Contains(patientTargets, to) {
		return apperr.Newf(apperr.Unauthorized, "patients may not move an appointment to %s", to)
	}
	return nil
}

// Transition moves an appointment to a new status. A move to pending is a
// rebook of a reschedule request and keeps the existing slot; use Rebook to
// change it.
func (s *Service) Transition(ctx context.Context, actor auth.Principal, id string, to model.Status) (model.Appointment, error) {
	return s.transition(ctx, actor, id, to, nil)
}

// Rebook answers a reschedule request with a new slot, returning the
// appointment to pending. Empty date or time keeps the current value.
func (s *Service) Rebook(ctx context.Context, actor auth.Principal, id, date, clock string) (model.Appointment, error) {
	return s.transition(ctx, actor, id, model.StatusPending, func(a *model.Appointment) error {
		if date == "" {
			date = a.Date
		}
		if clock == "" {
			clock = a.Time
		}
		if err := validateSlot(date, clock); err != nil {
			return err
		}
		a.Date, a.Time = date, clock
		return nil
	})
}

// Cancel records reason alongside the cancellation.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id, reason string) (model.Appointment, error) {
	return s.transition(ctx, actor, id, model.StatusCancelled, func(a *model.Appointment) error {
		a.CancelReason = reason
		return nil
	})
}

func (s *Service) transition(ctx context.Context, actor auth.Principal, id string, to model.Status, mutate func(*model.Appointment) error) (model.Appointment, error) {
	if err := authenticated(actor); err != nil {
		return model.Appointment{}, err
	}
	if !to.Valid() {
		return model.Appointment{}, apperr.Newf(apperr.InvalidArgument, "unknown status %q", to)
	}
	appt, err := s.load(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	from := appt.Status
	if !CanTransition(from, to) {
		s.metrics.ObserveTransition(string(to), "invalid")
		return model.Appointment{}, apperr.Newf(apperr.InvalidTransition, "cannot move from %s to %s", from, to).
			WithDetail("from", from).
			WithDetail("to", to)
	}
	if err := mayRequest(actor, appt, to); err != nil {
		s.metrics.ObserveTransition(string(to), "unauthorized")
		return model.Appointment{}, err
	}

	expected := appt.Version
	appt.Status = to
	if mutate != nil {
		if err := mutate(&appt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := s.store.UpdateAppointment(ctx, &appt, expected); err != nil {
		s.metrics.ObserveTransition(string(to), "conflict")
		return model.Appointment{}, storeError(err)
	}
	s.metrics.ObserveTransition(string(to), "ok")
	s.logger.Info("appointment transitioned",
		"appointment_id", appt.ID,
		"from", from,
		"to", to,
		"actor_id", actor.ID,
		"actor_role", actor.Role,
	)

	s.fanout.Notify(ctx, fanout.EventForStatus(to), appt, recipientsFor(appt, actor))
	return appt, nil
}
