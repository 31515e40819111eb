// Package queue carries reservation lifecycle events between the service
// and its background consumers.  Two brokers are supported behind the same
// Bus interface: RabbitMQ (default) and Kafka.
package queue

import (
    "context"
    "encoding/json"
    "time"

    "github.com/google/uuid"
)

// Topics published by the reservation engine.  With RabbitMQ each topic
// is a durable queue of the same name; with Kafka it is a topic.
const (
    TopicReservationCreated   = "reservation-created"
    TopicReservationConfirmed = "reservation-confirmed"
    TopicReservationExpired   = "reservation-expired"
    TopicSeatReleased         = "seat-released"
)

// ReservationEvent is the payload of the reservation-* topics.
type ReservationEvent struct {
    ReservationID string `json:"reservationId"`
    UserID        string `json:"userId"`
    SeatID        string `json:"seatId"`
}

// SeatReleasedEvent is published when an expired hold gives a seat back.
type SeatReleasedEvent struct {
    SeatID    string `json:"seatId"`
    SessionID string `json:"sessionId"`
}

// Message is a broker-neutral envelope.  ID is stable across redeliveries
// so consumers can deduplicate.
type Message struct {
    ID        string
    Topic     string
    Body      []byte
    Timestamp time.Time
}

// NewMessage encodes payload as JSON and assigns a fresh ID.
func NewMessage(topic string, payload interface{}) (Message, error) {
    body, err := json.Marshal(payload)
    if err != nil {
        return Message{}, err
    }
    return Message{
        ID:        uuid.NewString(),
        Topic:     topic,
        Body:      body,
        Timestamp: time.Now().UTC(),
    }, nil
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v interface{}) error { return json.Unmarshal(m.Body, v) }

// Handler processes one message.  A non-nil error asks the broker to
// redeliver it.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends events.  Publish returns only after the broker has
// confirmed the message.
type Publisher interface {
    Publish(ctx context.Context, topic string, payload interface{}) error
}

// Bus is a Publisher that can also consume.
type Bus interface {
    Publisher
    // Consume blocks delivering topic messages to h until ctx is done.
    Consume(ctx context.Context, topic string, h Handler) error
    Close() error
}

// Nop discards every event.  It is used when no broker is configured in
// tests.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, interface{}) error { return nil }
