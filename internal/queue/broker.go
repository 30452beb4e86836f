// Package queue carries job ids from the API to the workers over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned when the broker connection is gone.
var ErrClosed = errors.New("queue connection closed")

// Message is the task body. Only the id travels; workers load the job row.
type Message struct {
	JobID int64 `json:"job_id"`
}

// Publisher enqueues a job for execution.
type Publisher interface {
	Publish(ctx context.Context, jobID int64) error
}

// Delivery is one task handed to a worker. It must be acknowledged exactly
// once, after the job reached a terminal state or was skipped.
type Delivery struct {
	JobID       int64
	Redelivered bool

	msg amqp.Delivery
}

// NewDelivery builds a delivery settled through ack instead of a live
// channel.
func NewDelivery(jobID int64, redelivered bool, ack amqp.Acknowledger) Delivery {
	return Delivery{
		JobID:       jobID,
		Redelivered: redelivered,
		msg:         amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(jobID)},
	}
}

func (d Delivery) Ack() error { return d.msg.Ack(false) }

func (d Delivery) Nack(requeue bool) error { return d.msg.Nack(false, requeue) }

// Broker publishes to and consumes from one durable queue.
type Broker struct {
	conn  *amqp.Connection
	queue string

	mu    sync.Mutex
	pubCh *amqp.Channel
}

// Dial connects to RabbitMQ and declares the jobs queue.
func Dial(url, queue string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &Broker{conn: conn, queue: queue, pubCh: ch}, nil
}

// Publish enqueues a persistent task whose message id is the job id.
func (b *Broker) Publish(ctx context.Context, jobID int64) error {
	body, err := json.Marshal(Message{JobID: jobID})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn.IsClosed() {
		return ErrClosed
	}

	err = b.pubCh.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(jobID, 10),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job %d: %w", jobID, err)
	}
	return nil
}

// Consume opens a dedicated channel with the given prefetch and streams
// deliveries until ctx is cancelled or the connection drops. Tasks are not
// auto-acknowledged. Bodies that do not decode are rejected without requeue.
//
// Cancelling ctx only stops the subscription: messages the server sent but
// the stream did not hand out go back to the queue, while deliveries already
// handed out can still be settled. The channel itself is closed by release,
// which the caller invokes once those deliveries are settled; closing it
// earlier would make the server requeue them while they are still running.
func (b *Broker) Consume(ctx context.Context, prefetch int) (<-chan Delivery, func() error, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}

	tag := "chromatin-" + uuid.NewString()
	msgs, err := ch.Consume(b.queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("consume %s: %w", b.queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				b.stopConsuming(ch, tag, msgs)
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("rabbitmq delivery channel closed", "queue", b.queue)
					return
				}

				var m Message
				if err := json.Unmarshal(msg.Body, &m); err != nil || m.JobID <= 0 {
					slog.Error("rejecting malformed task", "message_id", msg.MessageId, "error", err)
					msg.Nack(false, false)
					continue
				}

				d := Delivery{JobID: m.JobID, Redelivered: msg.Redelivered, msg: msg}
				select {
				case out <- d:
				case <-ctx.Done():
					msg.Nack(false, true)
					b.stopConsuming(ch, tag, msgs)
					return
				}
			}
		}
	}()

	var once sync.Once
	var closeErr error
	release := func() error {
		once.Do(func() { closeErr = ch.Close() })
		return closeErr
	}
	return out, release, nil
}

// stopConsuming cancels the consumer and requeues whatever the server pushed
// before the cancel took effect. The channel stays open.
func (b *Broker) stopConsuming(ch *amqp.Channel, tag string, msgs <-chan amqp.Delivery) {
	if err := ch.Cancel(tag, false); err != nil {
		slog.Warn("cancelling consumer failed", "consumer", tag, "error", err)
		return
	}
	for msg := range msgs {
		msg.Nack(false, true)
	}
}

// Ping reports whether the connection is still open.
func (b *Broker) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	return ctx.Err()
}

func (b *Broker) Close() error {
	return b.conn.Close()
}

var _ Publisher = (*Broker)(nil)
