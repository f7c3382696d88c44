package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"request-routing-api/models"
	"request-routing-api/workflow"
)

// Sink names stored on notification_deliveries.sink.
const (
	SinkInApp = "in_app"
	SinkEmail = "email"
	SinkKafka = "kafka"
)

// Delivery is one rendered intent with its resolved recipients.
type Delivery struct {
	ID         string
	Intent     workflow.Intent
	Recipients []Recipient
	Message    RenderedMessage
	At         time.Time
}

// NotificationSink delivers a rendered intent to one channel.
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// InAppSink writes one notifications row per recipient.
type InAppSink struct {
	store NotificationStore
}

func NewInAppSink(store NotificationStore) *InAppSink {
	return &InAppSink{store: store}
}

func (s *InAppSink) Name() string { return SinkInApp }

func (s *InAppSink) Deliver(ctx context.Context, d Delivery) error {
	if len(d.Recipients) == 0 {
		return nil
	}
	related := d.Intent.SubmissionID
	rows := make([]models.Notification, 0, len(d.Recipients))
	for _, r := range d.Recipients {
		rows = append(rows, models.Notification{
			UserID:              r.UserID,
			Title:               d.Message.Title,
			Message:             d.Message.Body,
			Type:                d.Message.Type,
			URL:                 d.Intent.URL,
			RelatedSubmissionID: &related,
			CreateAt:            d.At,
		})
	}
	return s.store.Create(ctx, rows)
}

// Mailer sends one HTML message. *config.Mailer satisfies it.
type Mailer interface {
	Send(to []string, subject, html string) error
}

// EmailSink mails every recipient that has an address.
type EmailSink struct {
	mailer Mailer
}

func NewEmailSink(mailer Mailer) *EmailSink {
	return &EmailSink{mailer: mailer}
}

func (s *EmailSink) Name() string { return SinkEmail }

func (s *EmailSink) Deliver(ctx context.Context, d Delivery) error {
	var to []string
	for _, r := range d.Recipients {
		if r.Email != "" {
			to = append(to, r.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	in := d.Intent
	meta := []emailMetaItem{
		{Label: "Request number", Value: in.RequestNumber},
		{Label: "Title", Value: in.Title},
		{Label: "Status", Value: in.Status.Label()},
		{Label: "Action by", Value: in.ActorRole.Label()},
	}
	html := buildEmailTemplate(d.Message.Title, []string{d.Message.Body}, meta, "Open request", in.URL)
	return s.mailer.Send(to, d.Message.Title, html)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every intent as a JSON event keyed by request number.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink returns a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}}, nil
}

func newKafkaSinkWithWriter(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return SinkKafka }

type kafkaEvent struct {
	DeliveryID string          `json:"delivery_id"`
	Intent     workflow.Intent `json:"intent"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Recipients []uint          `json:"recipients"`
	At         time.Time       `json:"at"`
}

func (s *KafkaSink) Deliver(ctx context.Context, d Delivery) error {
	ids := make([]uint, 0, len(d.Recipients))
	for _, r := range d.Recipients {
		ids = append(ids, r.UserID)
	}
	value, err := json.Marshal(kafkaEvent{
		DeliveryID: d.ID,
		Intent:     d.Intent,
		Title:      d.Message.Title,
		Body:       d.Message.Body,
		Recipients: ids,
		At:         d.At,
	})
	if err != nil {
		return fmt.Errorf("encode kafka event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(d.Intent.RequestNumber),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(d.Intent.Event)},
			{Key: "submission_id", Value: []byte(strconv.FormatUint(uint64(d.Intent.SubmissionID), 10))},
		},
		Time: d.At,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
