package queue

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/segmentio/kafka-go"
    "github.com/sirupsen/logrus"
)

const headerMessageID = "message-id"

// KafkaBus implements Bus on Kafka.  Writes wait for all in-sync replicas;
// offsets are committed only after the handler succeeds.
type KafkaBus struct {
    brokers []string
    groupID string
    writer  *kafka.Writer
    log     logrus.FieldLogger
}

// NewKafkaBus builds a bus for brokers.  Consumers join groupID.
func NewKafkaBus(brokers []string, groupID string, log logrus.FieldLogger) *KafkaBus {
    return &KafkaBus{
        brokers: brokers,
        groupID: groupID,
        writer: &kafka.Writer{
            Addr:                   kafka.TCP(brokers...),
            Balancer:               &kafka.Hash{},
            RequiredAcks:           kafka.RequireAll,
            AllowAutoTopicCreation: true,
        },
        log: log,
    }
}

// Publish writes payload to topic and returns once the brokers acked it.
func (k *KafkaBus) Publish(ctx context.Context, topic string, payload interface{}) error {
    msg, err := NewMessage(topic, payload)
    if err != nil {
        return fmt.Errorf("encode %s: %w", topic, err)
    }
    if err := k.writer.WriteMessages(ctx, toKafka(msg)); err != nil {
        return fmt.Errorf("publish %s: %w", topic, err)
    }
    return nil
}

// Consume reads topic until ctx is cancelled.  A failing message is
// retried with backoff before its offset is committed, which gives the
// same at-least-once behaviour as a RabbitMQ requeue.
func (k *KafkaBus) Consume(ctx context.Context, topic string, h Handler) error {
    r := kafka.NewReader(kafka.ReaderConfig{
        Brokers:  k.brokers,
        Topic:    topic,
        GroupID:  k.groupID,
        MinBytes: 1,
        MaxBytes: 10e6, // 10MB
    })
    defer r.Close()

    log := k.log.WithField("topic", topic)
    for {
        m, err := r.FetchMessage(ctx)
        if err != nil {
            if ctx.Err() != nil || errors.Is(err, context.Canceled) {
                return nil
            }
            return fmt.Errorf("fetch %s: %w", topic, err)
        }
        msg := fromKafka(m)
        if err := retryHandler(ctx, h, msg, log); err != nil {
            // context cancelled mid-retry: leave the offset uncommitted
            return nil
        }
        if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
            log.WithError(err).Warn("kafka: commit failed")
        }
    }
}

// retryHandler calls h until it succeeds or ctx is done.
func retryHandler(ctx context.Context, h Handler, msg Message, log logrus.FieldLogger) error {
    backoff := 100 * time.Millisecond
    for {
        err := h(ctx, msg)
        if err == nil {
            return nil
        }
        log.WithError(err).WithField("message_id", msg.ID).Warnf("kafka: handler failed; retrying in %s", backoff)
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(backoff):
        }
        if backoff < 10*time.Second {
            backoff *= 2
        }
    }
}

func toKafka(msg Message) kafka.Message {
    return kafka.Message{
        Topic:   msg.Topic,
        Key:     []byte(msg.ID),
        Value:   msg.Body,
        Time:    msg.Timestamp,
        Headers: []kafka.Header{{Key: headerMessageID, Value: []byte(msg.ID)}},
    }
}

func fromKafka(m kafka.Message) Message {
    msg := Message{Topic: m.Topic, Body: m.Value, Timestamp: m.Time}
    for _, h := range m.Headers {
        if h.Key == headerMessageID {
            msg.ID = string(h.Value)
        }
    }
    if msg.ID == "" {
        msg.ID = fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
    }
    return msg
}

// Close flushes pending writes.
func (k *KafkaBus) Close() error { return k.writer.Close() }
