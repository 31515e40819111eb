package queue

import (
    "context"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// ErrNacked is returned by Publish when the broker refused the message.
var ErrNacked = errors.New("broker nacked message")

// ErrBusClosed is returned once Close has been called.
var ErrBusClosed = errors.New("event bus closed")

// maxRedialBackoff caps the wait between reconnect attempts at runtime.
const maxRedialBackoff = 30 * time.Second

// confirmation is a pending publisher confirm.
type confirmation interface {
    WaitContext(ctx context.Context) (bool, error)
}

// channel is the part of *amqp.Channel the bus uses.
type channel interface {
    Confirm(noWait bool) error
    Qos(prefetchCount, prefetchSize int, global bool) error
    QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
    PublishDeferred(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error)
    ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
    IsClosed() bool
    Close() error
}

// connection is the part of *amqp.Connection the bus uses.
type connection interface {
    Channel() (channel, error)
    IsClosed() bool
    Close() error
}

type amqpChannel struct{ *amqp.Channel }

// PublishDeferred publishes on the default exchange with key as the queue.
func (c amqpChannel) PublishDeferred(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error) {
    dc, err := c.PublishWithDeferredConfirmWithContext(ctx, "", key, false, false, msg)
    if err != nil {
        return nil, err
    }
    if dc == nil {
        return nil, errors.New("channel is not in confirm mode")
    }
    return dc, nil
}

type amqpConnection struct{ *amqp.Connection }

func (c amqpConnection) Channel() (channel, error) {
    ch, err := c.Connection.Channel()
    if err != nil {
        return nil, err
    }
    return amqpChannel{ch}, nil
}

// amqpDial is swapped in tests.
var amqpDial = func(url string) (connection, error) {
    conn, err := amqp.Dial(url)
    if err != nil {
        return nil, err
    }
    return amqpConnection{conn}, nil
}

// DialOptions bounds the initial connection attempts.
type DialOptions struct {
    Attempts int           // total attempts at startup (default 5)
    Backoff  time.Duration // first wait, doubled after each failure (default 1s)
}

// RabbitBus publishes on a confirm-mode channel and consumes each queue
// on its own channel with prefetch 1.  A connection lost at runtime is
// redialled without bound by whichever publisher or consumer notices it.
type RabbitBus struct {
    url     string
    backoff time.Duration
    log     logrus.FieldLogger

    connMu sync.Mutex // guards conn and closed
    conn   connection
    closed bool

    mu       sync.Mutex // guards the publish side
    pubConn  connection // connection pubCh was opened on
    pubCh    channel
    declared map[string]bool
}

// DialRabbit connects to the broker.  Failures are retried with
// exponential backoff (1s, 2s, 4s, 8s by default); after the last attempt
// the error is returned and the caller is expected to abort startup.
func DialRabbit(ctx context.Context, url string, opt DialOptions, log logrus.FieldLogger) (*RabbitBus, error) {
    if opt.Attempts <= 0 {
        opt.Attempts = 5
    }
    if opt.Backoff <= 0 {
        opt.Backoff = time.Second
    }

    backoff := opt.Backoff
    var conn connection
    var err error
    for attempt := 1; attempt <= opt.Attempts; attempt++ {
        conn, err = amqpDial(url)
        if err == nil {
            break
        }
        if attempt == opt.Attempts {
            return nil, fmt.Errorf("dial rabbitmq after %d attempts: %w", attempt, err)
        }
        log.WithError(err).Warnf("rabbitmq: dial failed (attempt %d/%d); retrying in %s", attempt, opt.Attempts, backoff)
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(backoff):
        }
        backoff *= 2
    }

    b := &RabbitBus{url: url, backoff: opt.Backoff, log: log, conn: conn}
    if err := b.openPublishChannel(conn); err != nil {
        _ = conn.Close()
        return nil, err
    }
    log.Info("rabbitmq: connected")
    return b, nil
}

// redial returns the live connection, or makes one dial attempt when it
// has dropped.
func (b *RabbitBus) redial() (connection, error) {
    b.connMu.Lock()
    defer b.connMu.Unlock()
    if b.closed {
        return nil, ErrBusClosed
    }
    if b.conn != nil && !b.conn.IsClosed() {
        return b.conn, nil
    }
    conn, err := amqpDial(b.url)
    if err != nil {
        return nil, err
    }
    b.conn = conn
    b.log.Info("rabbitmq: reconnected")
    return conn, nil
}

// liveConn redials with backoff doubling up to maxRedialBackoff until a
// connection is up, ctx is done or the bus is closed.
func (b *RabbitBus) liveConn(ctx context.Context) (connection, error) {
    backoff := b.backoff
    for {
        conn, err := b.redial()
        if err == nil {
            return conn, nil
        }
        if errors.Is(err, ErrBusClosed) {
            return nil, err
        }
        b.log.WithError(err).Warnf("rabbitmq: reconnect failed; retrying in %s", backoff)
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(backoff):
        }
        if backoff *= 2; backoff > maxRedialBackoff {
            backoff = maxRedialBackoff
        }
    }
}

// openPublishChannel replaces the publish channel.  Queues are declared
// again on the new channel.  Callers hold b.mu, except DialRabbit.
func (b *RabbitBus) openPublishChannel(conn connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("open channel: %w", err)
    }
    if err := ch.Confirm(false); err != nil {
        _ = ch.Close()
        return fmt.Errorf("enable confirms: %w", err)
    }
    if b.pubCh != nil {
        _ = b.pubCh.Close()
    }
    b.pubConn = conn
    b.pubCh = ch
    b.declared = map[string]bool{}
    return nil
}

// declare creates the durable queue for topic.
func declare(ch channel, topic string) error {
    _, err := ch.QueueDeclare(
        topic, // name
        true,  // durable
        false, // autoDelete
        false, // exclusive
        false, // noWait
        nil,   // args
    )
    return err
}

// Publish sends payload as a persistent JSON message and waits for the
// broker's confirmation.
func (b *RabbitBus) Publish(ctx context.Context, topic string, payload interface{}) error {
    msg, err := NewMessage(topic, payload)
    if err != nil {
        return fmt.Errorf("encode %s: %w", topic, err)
    }

    b.mu.Lock()
    defer b.mu.Unlock()

    conn, err := b.liveConn(ctx)
    if err != nil {
        return fmt.Errorf("publish %s: %w", topic, err)
    }
    if b.pubCh == nil || b.pubCh.IsClosed() || b.pubConn != conn {
        if err := b.openPublishChannel(conn); err != nil {
            return err
        }
    }
    if !b.declared[topic] {
        if err := declare(b.pubCh, topic); err != nil {
            return fmt.Errorf("queue declare %s: %w", topic, err)
        }
        b.declared[topic] = true
    }

    conf, err := b.pubCh.PublishDeferred(ctx, topic, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    msg.ID,
        Timestamp:    msg.Timestamp,
        Body:         msg.Body,
    })
    if err != nil {
        return fmt.Errorf("publish %s: %w", topic, err)
    }
    ok, err := conf.WaitContext(ctx)
    if err != nil {
        return fmt.Errorf("await confirm %s: %w", topic, err)
    }
    if !ok {
        return ErrNacked
    }
    return nil
}

// Consume delivers messages from topic to h until ctx is cancelled or the
// bus is closed.  A closed channel is reopened and a dropped connection
// redialled.
func (b *RabbitBus) Consume(ctx context.Context, topic string, h Handler) error {
    log := b.log.WithField("topic", topic)
    for {
        conn, err := b.liveConn(ctx)
        if err != nil {
            if ctx.Err() != nil || errors.Is(err, ErrBusClosed) {
                return nil
            }
            return err
        }
        err = b.consumeOnce(ctx, conn, topic, h)
        if ctx.Err() != nil {
            return nil
        }
        log.WithError(err).Warn("rabbitmq: consume loop ended; resubscribing")
        select {
        case <-ctx.Done():
            return nil
        case <-time.After(b.backoff):
        }
    }
}

func (b *RabbitBus) consumeOnce(ctx context.Context, conn connection, topic string, h Handler) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(1, 0, false); err != nil {
        return fmt.Errorf("set qos: %w", err)
    }
    if err := declare(ch, topic); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, topic, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            handleDelivery(ctx, topic, d, h, b.log)
        }
    }
}

// deliveryID is the MessageId, or a digest of the body for publishers
// that omit it.  Delivery tags restart on every channel so they cannot
// identify a message.
func deliveryID(topic string, d amqp.Delivery) string {
    if d.MessageId != "" {
        return d.MessageId
    }
    sum := sha256.Sum256(d.Body)
    return topic + "-" + hex.EncodeToString(sum[:16])
}

// handleDelivery runs h and settles the delivery: ack on success, nack
// with requeue on failure.
func handleDelivery(ctx context.Context, topic string, d amqp.Delivery, h Handler, log logrus.FieldLogger) {
    msg := Message{ID: deliveryID(topic, d), Topic: topic, Body: d.Body, Timestamp: d.Timestamp}
    if err := h(ctx, msg); err != nil {
        log.WithError(err).WithFields(logrus.Fields{"topic": topic, "message_id": msg.ID}).Warn("rabbitmq: handler failed; requeueing")
        _ = d.Nack(false, true)
        return
    }
    _ = d.Ack(false)
}

// Close shuts the publish channel and the connection.  Consumers and
// publishers waiting on a reconnect give up with ErrBusClosed.
func (b *RabbitBus) Close() error {
    b.connMu.Lock()
    b.closed = true
    conn := b.conn
    b.connMu.Unlock()

    b.mu.Lock()
    if b.pubCh != nil {
        _ = b.pubCh.Close()
    }
    b.mu.Unlock()
    if conn == nil || conn.IsClosed() {
        return nil
    }
    return conn.Close()
}
