package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"k8s.io/utils/clock"

	"request-routing-api/models"
	"request-routing-api/tracing"
	"request-routing-api/workflow"
)

const (
	deliveryTimeout = 30 * time.Second
	redeliveryBatch = 200
)

type DispatcherOptions struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	// RetryAfter is how long a pending or failed row rests before the
	// redelivery sweep picks it up.
	RetryAfter time.Duration
	Clock      clock.PassiveClock
}

type deliveryJob struct {
	ctx    context.Context
	intent workflow.Intent
	rows   []models.NotificationDelivery
}

// NotificationDispatcher fans intents out to sinks on a worker pool. Every
// delivery is recorded first, so a full queue, a crash or a failing sink
// only delays a notification until the next redelivery sweep.
type NotificationDispatcher struct {
	deliveries DeliveryStore
	identities IdentityProvider
	renderer   *NotificationRenderer
	sinks      map[string]NotificationSink
	order      []string
	opts       DispatcherOptions

	queue     chan deliveryJob
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	wg        sync.WaitGroup
	scheduler *cron.Cron
}

func NewNotificationDispatcher(deliveries DeliveryStore, identities IdentityProvider, renderer *NotificationRenderer, opts DispatcherOptions, sinks ...NotificationSink) *NotificationDispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if renderer == nil {
		renderer = NewNotificationRenderer(nil)
	}
	d := &NotificationDispatcher{
		deliveries: deliveries,
		identities: identities,
		renderer:   renderer,
		sinks:      make(map[string]NotificationSink, len(sinks)),
		opts:       opts,
		queue:      make(chan deliveryJob, opts.QueueSize),
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if _, dup := d.sinks[s.Name()]; !dup {
			d.order = append(d.order, s.Name())
		}
		d.sinks[s.Name()] = s
	}
	return d
}

// Sinks lists the configured sink names in registration order.
func (d *NotificationDispatcher) Sinks() []string {
	return append([]string(nil), d.order...)
}

// Start launches the worker pool. Calling it again is a no-op.
func (d *NotificationDispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
		log.Printf("[notify] dispatcher started: workers=%d queue=%d sinks=%v", d.opts.Workers, d.opts.QueueSize, d.order)
	})
}

func (d *NotificationDispatcher) worker(n int) {
	defer d.wg.Done()
	for job := range d.queue {
		d.process(job)
	}
	log.Printf("[notify] worker %d stopped", n)
}

// Publish records one pending delivery per intent and sink and queues them.
// It never blocks on delivery.
func (d *NotificationDispatcher) Publish(ctx context.Context, intents ...workflow.Intent) {
	if len(d.order) == 0 {
		return
	}
	ctx = persistentContext(ctx)
	now := d.opts.Clock.Now()

	for _, in := range intents {
		rows := d.rowsFor(in, now)
		recordCtx, cancel := boundedContext(ctx, deliveryTimeout)
		err := d.deliveries.Record(recordCtx, rows)
		cancel()
		if err != nil {
			// Without a row the sweep cannot retry it, so try once anyway.
			log.Printf("[notify] record %s for %s failed: %v", in.Event, in.RequestNumber, err)
		}
		d.enqueue(deliveryJob{ctx: ctx, intent: in, rows: rows})
	}
}

func (d *NotificationDispatcher) rowsFor(in workflow.Intent, now time.Time) []models.NotificationDelivery {
	rows := make([]models.NotificationDelivery, 0, len(d.order))
	for _, name := range d.order {
		row := models.NotificationDelivery{
			DeliveryID:   uuid.NewString(),
			Event:        string(in.Event),
			Sink:         name,
			SubmissionID: in.SubmissionID,
			Payload:      datatypes.NewJSONType(in),
			Status:       models.DeliveryPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if !in.RecipientRole.IsZero() {
			role := string(in.RecipientRole)
			row.RecipientRole = &role
		}
		if in.RecipientID != 0 {
			id := in.RecipientID
			row.RecipientID = &id
		}
		rows = append(rows, row)
	}
	return rows
}

func (d *NotificationDispatcher) enqueue(job deliveryJob) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("[notify] dispatcher closed, %s for %s left for redelivery", job.intent.Event, job.intent.RequestNumber)
		return
	}
	select {
	case d.queue <- job:
	default:
		log.Printf("[notify] queue full, %s for %s left for redelivery", job.intent.Event, job.intent.RequestNumber)
	}
}

func (d *NotificationDispatcher) recipients(ctx context.Context, in workflow.Intent) ([]Recipient, error) {
	if in.RecipientID != 0 {
		r, err := d.identities.Recipient(ctx, in.RecipientID)
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Recipient{r}, nil
	}
	if in.RecipientRole.IsZero() {
		return nil, nil
	}
	return d.identities.Recipients(ctx, in.RecipientRole)
}

// process delivers one job and reports how many rows were sent.
func (d *NotificationDispatcher) process(job deliveryJob) int {
	ctx, cancel := boundedContext(job.ctx, deliveryTimeout)
	defer cancel()

	in := job.intent
	recipients, err := d.recipients(ctx, in)
	if err != nil {
		err = fmt.Errorf("resolve recipients: %w", err)
		for _, row := range job.rows {
			d.markFailed(ctx, row, err)
		}
		return 0
	}
	msg := d.renderer.Render(ctx, in)

	sent := 0
	for _, row := range job.rows {
		sink, ok := d.sinks[row.Sink]
		if !ok {
			d.markFailed(ctx, row, fmt.Errorf("sink %q not configured", row.Sink))
			continue
		}
		if err := d.deliver(ctx, sink, Delivery{
			ID:         row.DeliveryID,
			Intent:     in,
			Recipients: recipients,
			Message:    msg,
			At:         d.opts.Clock.Now(),
		}); err != nil {
			d.markFailed(ctx, row, err)
			continue
		}
		if err := d.deliveries.MarkSent(ctx, row.DeliveryID, d.opts.Clock.Now()); err != nil {
			log.Printf("[notify] mark %s sent failed: %v", row.DeliveryID, err)
		}
		sent++
	}
	return sent
}

func (d *NotificationDispatcher) deliver(ctx context.Context, sink NotificationSink, del Delivery) (err error) {
	ctx, span := tracing.StartSpan(ctx, "notify.deliver", "PRODUCER")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{
		"notify.sink":       sink.Name(),
		"notify.event":      string(del.Intent.Event),
		"submission.number": del.Intent.RequestNumber,
		"delivery.id":       del.ID,
	})
	return sink.Deliver(ctx, del)
}

func (d *NotificationDispatcher) markFailed(ctx context.Context, row models.NotificationDelivery, cause error) {
	log.Printf("[notify] %s delivery %s (%s) failed on attempt %d: %v",
		row.Sink, row.DeliveryID, row.Event, row.Attempts+1, cause)
	if err := d.deliveries.MarkFailed(ctx, row.DeliveryID, cause, d.opts.Clock.Now()); err != nil {
		log.Printf("[notify] mark %s failed: %v", row.DeliveryID, err)
	}
}

// Redeliver retries due rows synchronously and returns how many were sent.
func (d *NotificationDispatcher) Redeliver(ctx context.Context) (int, error) {
	cutoff := d.opts.Clock.Now().Add(-d.opts.RetryAfter)
	rows, err := d.deliveries.Due(ctx, d.opts.MaxAttempts, cutoff, redeliveryBatch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		sent += d.process(deliveryJob{ctx: ctx, intent: row.Intent(), rows: []models.NotificationDelivery{row}})
	}
	if len(rows) > 0 {
		log.Printf("[notify] redelivery: %d due, %d sent", len(rows), sent)
	}
	return sent, nil
}

// StartRedelivery runs Redeliver on a cron schedule such as "@every 5m".
func (d *NotificationDispatcher) StartRedelivery(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := d.Redeliver(ctx); err != nil {
			log.Printf("[notify] redelivery sweep failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("parse redelivery schedule %q: %w", spec, err)
	}
	d.mu.Lock()
	d.scheduler = c
	d.mu.Unlock()
	c.Start()
	log.Printf("[notify] redelivery scheduled: %s", spec)
	return nil
}

// Close stops accepting work and waits for queued jobs to drain or ctx to end.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	scheduler := d.scheduler
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	for _, name := range d.order {
		if closer, ok := d.sinks[name].(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				log.Printf("[notify] close sink %s: %v", name, cerr)
			}
		}
	}
	return err
}
