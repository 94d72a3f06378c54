/*
Package notify publishes scheduled alerts to RabbitMQ.

PURPOSE:
  Delivery channels (email, push, chat) are separate consumers. The engine
  only announces that an alert exists by publishing one JSON event per
  newly created alert to a durable queue.

MESSAGE FORMAT:
  {
    "event": "alert.scheduled",
    "alert_id": "alt-agr-1-lease_expiry-20260401",
    "org_id": "org-1",
    "agreement_id": "agr-1",
    "alert_type": "lease_expiry",
    "severity": "medium",
    "title": "...",
    "trigger_date": "2025-10-03",
    "reference_date": "2026-04-01",
    "published_at": "2026-02-22T09:00:00Z"
  }

FAILURES:
  Publishing is best effort. The engine logs a publish error and keeps
  the alert; consumers can replay from GET /api/alerts.

SEE ALSO:
  - lease/engine.go: Notifier interface
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/grospace/lease-engine/lease"
)

// DefaultQueue is the queue alert events are published to.
const DefaultQueue = "lease.alert.scheduled"

// EventAlertScheduled is the event name carried in every message.
const EventAlertScheduled = "alert.scheduled"

// AlertEvent is the message body for one scheduled alert.
type AlertEvent struct {
	Event         string `json:"event"`
	AlertID       string `json:"alert_id"`
	OrgID         string `json:"org_id"`
	OutletID      string `json:"outlet_id,omitempty"`
	AgreementID   string `json:"agreement_id"`
	ObligationID  string `json:"obligation_id,omitempty"`
	AlertType     string `json:"alert_type"`
	Severity      string `json:"severity"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	TriggerDate   string `json:"trigger_date"`
	ReferenceDate string `json:"reference_date"`
	PublishedAt   string `json:"published_at"`
}

// NewAlertEvent builds the message for a.
func NewAlertEvent(a lease.Alert, at time.Time) AlertEvent {
	return AlertEvent{
		Event:         EventAlertScheduled,
		AlertID:       string(a.ID),
		OrgID:         a.OrgID,
		OutletID:      a.OutletID,
		AgreementID:   string(a.AgreementID),
		ObligationID:  string(a.ObligationID),
		AlertType:     string(a.Type),
		Severity:      string(a.Severity),
		Title:         a.Title,
		Message:       a.Message,
		TriggerDate:   a.TriggerDate.String(),
		ReferenceDate: a.ReferenceDate.String(),
		PublishedAt:   at.UTC().Format(time.RFC3339),
	}
}

// Publisher implements lease.Notifier over one AMQP connection.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
}

var _ lease.Notifier = (*Publisher)(nil)

// NewPublisher dials url and declares a durable queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	log.Printf("[Notify] Publishing alert events to queue %s", queue)
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// AlertsScheduled publishes one persistent message per alert. It stops at
// the first failure.
func (p *Publisher) AlertsScheduled(ctx context.Context, alerts []lease.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, a := range alerts {
		body, err := json.Marshal(NewAlertEvent(a, now))
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.ID, err)
		}
		err = p.ch.PublishWithContext(ctx,
			"",      // default exchange
			p.queue, // routing key = queue name
			false,   // mandatory
			false,   // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    string(a.ID),
				Timestamp:    now.UTC(),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}
