package model

import "github.com/ItsMoloy/Android-250/libs/auth"

// Scope is what a principal may read: doctors and patients see their own
// appointments and notifications, admins see everything.
type Scope struct {
	Appointments  AppointmentFilter
	Notifications NotificationFilter
}

func ScopeFor(p auth.Principal) Scope {
	switch p.Role {
	case auth.RoleAdmin:
		return Scope{Notifications: NotificationFilter{RecipientType: RecipientAdmin}}
	case auth.RoleDoctor:
		return Scope{
			Appointments:  AppointmentFilter{DoctorID: p.ID},
			Notifications: NotificationFilter{RecipientType: RecipientDoctor, RecipientID: p.ID},
		}
	default:
		return Scope{
			Appointments:  AppointmentFilter{PatientID: p.ID},
			Notifications: NotificationFilter{RecipientType: RecipientPatient, RecipientID: p.ID},
		}
	}
}

// Includes reports whether c is visible in the scope, ignoring limits and
// status filters.
func (s Scope) Includes(c Change) bool {
	switch {
	case c.Appointment != nil:
		f := s.Appointments
		f.Statuses = nil
		return f.Match(*c.Appointment)
	case c.Notification != nil:
		f := s.Notifications
		f.UnreadOnly = false
		return f.Match(*c.Notification)
	}
	return false
}

// Owns reports whether p may act on a as patient, doctor or admin.
func Owns(p auth.Principal, a Appointment) bool {
	switch p.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleDoctor:
		return a.DoctorID == p.ID
	case auth.RolePatient:
		return a.PatientID == p.ID
	}
	return false
}
