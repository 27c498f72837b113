package model

import "time"

type Status string

const (
	StatusPending             Status = "pending"
	StatusAccepted            Status = "accepted"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusRescheduleRequested Status = "reschedule_requested"
	StatusCancelled           Status = "cancelled"
)

// Statuses lists every appointment status in dashboard order.
var Statuses = []Status{
	StatusPending,
	StatusAccepted,
	StatusInProgress,
	StatusRescheduleRequested,
	StatusCompleted,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentAwaiting    PaymentStatus = "awaiting_payment"
	PaymentPaid        PaymentStatus = "paid"
	PaymentFailed      PaymentStatus = "payment_failed"
)

type Appointment struct {
	ID            string        `json:"id"`
	PatientID     string        `json:"patientId"`
	PatientName   string        `json:"patientName"`
	PatientEmail  string        `json:"patientEmail,omitempty"`
	DoctorID      string        `json:"doctorId"`
	DoctorName    string        `json:"doctorName"`
	Date          string        `json:"date"`
	Time          string        `json:"time"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	FeeAmount     int64         `json:"feeAmount"`
	PaymentID     string        `json:"paymentId,omitempty"`
	CheckoutURL   string        `json:"checkoutUrl,omitempty"`
	PaymentTrxID  string        `json:"paymentTrxId,omitempty"`
	// PaymentExecuteAttempted is set before the gateway execute call for
	// PaymentID is issued. While set, execute is never repeated until a
	// query shows the session was not executed.
	PaymentExecuteAttempted bool      `json:"paymentExecuteAttempted"`
	CancelReason            string    `json:"cancelReason,omitempty"`
	Version                 int64     `json:"version"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// AppointmentFilter selects appointments. Empty fields match everything.
type AppointmentFilter struct {
	DoctorID  string
	PatientID string
	Statuses  []Status
	Limit     int
	// Latest orders by creation time descending instead of by slot.
	Latest bool
}

func (f AppointmentFilter) Match(a Appointment) bool {
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if s == a.Status {
				return true
			}
		}
		return false
	}
	return true
}
