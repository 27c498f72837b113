package model

import (
	"testing"

	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/stretchr/testify/assert"
)

func TestScopeIncludes(t *testing.T) {
	a := Appointment{ID: "a1", PatientID: "p1", DoctorID: "d1", Status: StatusCancelled}
	docNote := Notification{ID: "n1", RecipientType: RecipientDoctor, RecipientID: "d1", Read: true}
	adminNote := Notification{ID: "n2", RecipientType: RecipientAdmin}

	doctor := ScopeFor(auth.Principal{ID: "d1", Role: auth.RoleDoctor})
	assert.True(t, doctor.Includes(AppointmentChanged(a)))
	assert.True(t, doctor.Includes(NotificationChanged(docNote)))
	assert.False(t, doctor.Includes(NotificationChanged(adminNote)))

	other := ScopeFor(auth.Principal{ID: "d2", Role: auth.RoleDoctor})
	assert.False(t, other.Includes(AppointmentChanged(a)))

	admin := ScopeFor(auth.Principal{ID: "admin-1", Role: auth.RoleAdmin})
	assert.True(t, admin.Includes(AppointmentChanged(a)))
	assert.True(t, admin.Includes(NotificationChanged(adminNote)))
	assert.False(t, admin.Includes(NotificationChanged(docNote)))

	patient := ScopeFor(auth.Principal{ID: "p1", Role: auth.RolePatient})
	assert.True(t, patient.Includes(AppointmentChanged(a)))
	assert.False(t, patient.Includes(Change{Kind: ChangeAppointment}))
}

func TestOwns(t *testing.T) {
	a := Appointment{PatientID: "p1", DoctorID: "d1"}
	assert.True(t, Owns(auth.Principal{ID: "p1", Role: auth.RolePatient}, a))
	assert.False(t, Owns(auth.Principal{ID: "d1", Role: auth.RolePatient}, a))
	assert.True(t, Owns(auth.Principal{ID: "d1", Role: auth.RoleDoctor}, a))
	assert.True(t, Owns(auth.Principal{ID: "x", Role: auth.RoleAdmin}, a))
}
