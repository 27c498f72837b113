package model

type ChangeKind string

const (
	ChangeAppointment  ChangeKind = "appointment"
	ChangeNotification ChangeKind = "notification"
)

// Change is one entry of the store's change feed. Exactly one of the
// pointers is set, matching Kind.
type Change struct {
	Kind         ChangeKind    `json:"kind"`
	Appointment  *Appointment  `json:"appointment,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

func AppointmentChanged(a Appointment) Change {
	return Change{Kind: ChangeAppointment, Appointment: &a}
}

func NotificationChanged(n Notification) Change {
	return Change{Kind: ChangeNotification, Notification: &n}
}

func (c Change) AggregateID() string {
	switch {
	case c.Appointment != nil:
		return c.Appointment.ID
	case c.Notification != nil:
		return c.Notification.ID
	}
	return ""
}
