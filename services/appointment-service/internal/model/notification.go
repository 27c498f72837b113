package model

import "time"

type RecipientType string

const (
	RecipientDoctor  RecipientType = "doctor"
	RecipientAdmin   RecipientType = "admin"
	RecipientPatient RecipientType = "patient"
)

// Recipient addresses one notification. ID is empty for role wide
// recipients such as the administrator role.
type Recipient struct {
	Type  RecipientType
	ID    string
	Email string
}

type Notification struct {
	ID            string        `json:"id"`
	RecipientID   string        `json:"recipientId,omitempty"`
	RecipientType RecipientType `json:"recipientType"`
	Title         string        `json:"title"`
	Message       string        `json:"message"`
	AppointmentID string        `json:"appointmentId"`
	Event         string        `json:"event"`
	Read          bool          `json:"read"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type NotificationFilter struct {
	RecipientType RecipientType
	RecipientID   string
	UnreadOnly    bool
	Limit         int
}

func (f NotificationFilter) Match(n Notification) bool {
	if f.RecipientType != "" && n.RecipientType != f.RecipientType {
		return false
	}
	if f.RecipientID != "" && n.RecipientID != f.RecipientID {
		return false
	}
	if f.UnreadOnly && n.Read {
		return false
	}
	return true
}
