package fanout

import (
	"fmt"
	"strings"

	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
)

const (
	EventAppointmentCreated = "appointment_created"
	EventPaymentPaid        = "payment_paid"
	EventPaymentFailed      = "payment_failed"
)

// EventForStatus names the event emitted when an appointment enters s.
func EventForStatus(s model.Status) string {
	return "appointment_" + string(s)
}

var statusTitles = map[model.Status]string{
	model.StatusPending:             "Appointment Rebooked",
	model.StatusAccepted:            "Appointment Accepted",
	model.StatusInProgress:          "Appointment Started",
	model.StatusCompleted:           "Appointment Completed",
	model.StatusRescheduleRequested: "Reschedule Requested",
	model.StatusCancelled:           "Appointment Cancelled",
}

var statusVerbs = map[model.Status]string{
	model.StatusPending:             "was rebooked",
	model.StatusAccepted:            "was accepted",
	model.StatusInProgress:          "has started",
	model.StatusCompleted:           "was completed",
	model.StatusRescheduleRequested: "needs to be rescheduled",
	model.StatusCancelled:           "was cancelled",
}

func render(event string, a model.Appointment, rt model.RecipientType) (title, message string) {
	slot := fmt.Sprintf("on %s at %s", a.Date, a.Time)
	doctor := doctorLabel(a.DoctorName)
	patient := a.PatientName
	if patient == "" {
		patient = "A patient"
	}

	switch event {
	case EventAppointmentCreated:
		switch rt {
		case model.RecipientDoctor:
			return "New Appointment", fmt.Sprintf("%s has requested an appointment %s", patient, slot)
		case model.RecipientAdmin:
			return "New Appointment Booking", fmt.Sprintf("%s booked an appointment with %s %s", patient, doctor, slot)
		default:
			return "Appointment Requested", fmt.Sprintf("Your appointment with %s %s has been requested", doctor, slot)
		}
	case EventPaymentPaid:
		if rt == model.RecipientPatient {
			return "Payment Received", fmt.Sprintf("Your payment for the appointment with %s %s was received", doctor, slot)
		}
		return "Payment Received", fmt.Sprintf("%s paid for the appointment with %s %s", patient, doctor, slot)
	case EventPaymentFailed:
		if rt == model.RecipientPatient {
			return "Payment Failed", fmt.Sprintf("Your payment for the appointment with %s %s did not go through", doctor, slot)
		}
		return "Payment Failed", fmt.Sprintf("Payment by %s for the appointment with %s %s failed", patient, doctor, slot)
	}

	status := model.Status(strings.TrimPrefix(event, "appointment_"))
	title = statusTitles[status]
	verb := statusVerbs[status]
	if title == "" {
		title, verb = "Appointment Updated", "was updated"
	}
	if rt == model.RecipientPatient {
		return title, fmt.Sprintf("Your appointment with %s %s %s", doctor, slot, verb)
	}
	return title, fmt.Sprintf("%s's appointment with %s %s %s", patient, doctor, slot, verb)
}

func doctorLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "your doctor"
	}
	if strings.HasPrefix(strings.ToLower(name), "dr") {
		return name
	}
	return "Dr. " + name
}
