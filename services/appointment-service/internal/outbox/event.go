package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
)

const (
	TopicAppointmentChanged  = "clinic.appointment.changed.v1"
	TopicNotificationChanged = "clinic.notification.changed.v1"
)

// Topics lists every topic the outbox publishes to.
var Topics = []string{TopicAppointmentChanged, TopicNotificationChanged}

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// EventFromChange wraps a committed store change for the outbox.
func EventFromChange(c model.Change) (Event, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return Event{}, err
	}
	topic := TopicAppointmentChanged
	if c.Kind == model.ChangeNotification {
		topic = TopicNotificationChanged
	}
	return Event{
		AggregateType: string(c.Kind),
		AggregateID:   c.AggregateID(),
		EventType:     topic,
		Payload:       payload,
	}, nil
}

func DecodeChange(payload []byte) (model.Change, error) {
	var c model.Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return model.Change{}, err
	}
	if (c.Kind == model.ChangeAppointment && c.Appointment == nil) ||
		(c.Kind == model.ChangeNotification && c.Notification == nil) {
		return model.Change{}, fmt.Errorf("change of kind %q has no body", c.Kind)
	}
	return c, nil
}
