package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/venueauth"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultQueue is the queue notification jobs are published to.
const DefaultQueue = "venueauth.notifications"

// Job kinds carried in Job.Kind.
const (
	JobEmail = "email"
	JobSMS   = "sms"
)

// Job is the JSON message placed on the notification queue.
type Job struct {
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
	Body    string `json:"body,omitempty"`
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Queue is a RabbitMQ connection with one declared durable queue.
type Queue struct {
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
}

// DialQueue connects to url and declares queue.
func DialQueue(url, queue string) (*Queue, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	return &Queue{conn: conn, ch: ch, queue: queue}, nil
}

// Close closes the channel and the connection.
func (q *Queue) Close() error {
	if err := q.ch.Close(); err != nil {
		return err
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Publisher returns a NotificationSender that enqueues jobs on q.
func (q *Queue) Publisher() *Publisher {
	return &Publisher{ch: q.ch, queue: q.queue}
}

// Relay returns a worker delivering q's jobs through sender.
func (q *Queue) Relay(sender venueauth.NotificationSender, log *zap.Logger) *Relay {
	return &Relay{ch: q.ch, queue: q.queue, sender: sender, log: relayLogger(log)}
}

// Publisher enqueues notifications instead of sending them inline.
type Publisher struct {
	ch    amqpChannel
	queue string
}

var _ venueauth.NotificationSender = (*Publisher)(nil)

func (p *Publisher) SendEmail(ctx context.Context, msg venueauth.EmailMessage) error {
	return p.publish(ctx, Job{Kind: JobEmail, To: msg.To, Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text})
}

func (p *Publisher) SendSMS(ctx context.Context, to, body string) error {
	return p.publish(ctx, Job{Kind: JobSMS, To: to, Body: body})
}

func (p *Publisher) publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Relay consumes queued jobs and hands them to a sender. Successful jobs are
// acked; failed sends are requeued once and then dropped.
type Relay struct {
	ch     amqpChannel
	queue  string
	sender venueauth.NotificationSender
	log    *zap.Logger
}

func relayLogger(log *zap.Logger) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return log.With(zap.String("component", "notify_relay"))
}

// Run consumes until ctx is done or the delivery channel closes.
func (r *Relay) Run(ctx context.Context) error {
	deliveries, err := r.ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", r.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			r.handle(ctx, d)
		}
	}
}

func (r *Relay) handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		r.log.Error("dropping malformed job", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	var err error
	switch job.Kind {
	case JobEmail:
		err = r.sender.SendEmail(ctx, venueauth.EmailMessage{To: job.To, Subject: job.Subject, HTML: job.HTML, Text: job.Text})
	case JobSMS:
		err = r.sender.SendSMS(ctx, job.To, job.Body)
	default:
		r.log.Error("dropping job of unknown kind", zap.String("kind", job.Kind))
		_ = d.Nack(false, false)
		return
	}

	if err != nil {
		requeue := !d.Redelivered
		r.log.Warn("job delivery failed",
			zap.String("kind", job.Kind),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}
