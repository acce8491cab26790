package outbox

import (
	"encoding/json"
	"time"
)

// Kafka topic names equal the event type (event per topic).
const (
	TopicCallConfirmed = "scheduling.call.confirmed.v1"
	TopicCallCancelled = "scheduling.call.cancelled.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// CallEvent is the payload for call lifecycle events. The invite service
// keys its inbox on CallID, which makes invite dispatch idempotent per call.
type CallEvent struct {
	CallID           string    `json:"call_id"`
	RequesterID      string    `json:"requester_id"`
	RequesterEmail   string    `json:"requester_email"`
	CounterpartID    string    `json:"counterpart_id"`
	CounterpartEmail string    `json:"counterpart_email"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewCallEvent wraps a call payload in the outbox envelope.
func NewCallEvent(eventType string, payload CallEvent) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "scheduled_call",
		AggregateID:   payload.CallID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
