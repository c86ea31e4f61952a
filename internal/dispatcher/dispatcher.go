// Package dispatcher fans a trigger event out to every active subscriber
// of its condition, at-least-once per subscription, with retry and
// dead-lettering isolated per subscription.
package dispatcher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	applogger "TriggerHub/pkg/logger"
)

// SubscriberSource resolves the active subscriptions for a condition at
// dispatch time, so late subscribers are picked up without restarts.
type SubscriberSource interface {
	SubscribersFor(ctx context.Context, conditionID string) ([]*models.Subscription, error)
}

// Dispatcher owns the bounded delivery queue and its worker pool.
// Publish never blocks the evaluator; overflow is counted, not hidden.
type Dispatcher struct {
	source  SubscriberSource
	bus     domrepo.TriggerBus
	idem    domrepo.IdempotencyStore
	logger  *applogger.Logger
	metrics domrepo.Metrics

	queue       chan *models.Delivery
	workers     int
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	idemTTL     time.Duration
	sourceNode  string

	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize bounds the in-process delivery queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan *models.Delivery, n)
		}
	}
}

// WithWorkers sets the delivery worker count.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetry bounds attempts and the backoff range between them.
func WithRetry(maxAttempts int, backoffMin, backoffMax time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if backoffMin > 0 {
			d.backoffMin = backoffMin
		}
		if backoffMax > 0 {
			d.backoffMax = backoffMax
		}
	}
}

// WithIdempotencyTTL sets how long a delivery key is remembered.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.idemTTL = ttl
		}
	}
}

// WithSourceNode tags dead letters with the emitting node.
func WithSourceNode(node string) Option {
	return func(d *Dispatcher) { d.sourceNode = node }
}

func New(source SubscriberSource, bus domrepo.TriggerBus, idem domrepo.IdempotencyStore, logger *applogger.Logger, metrics domrepo.Metrics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:      source,
		bus:         bus,
		idem:        idem,
		logger:      logger,
		metrics:     metrics,
		queue:       make(chan *models.Delivery, 1024),
		workers:     4,
		maxAttempts: 5,
		backoffMin:  100 * time.Millisecond,
		backoffMax:  5 * time.Second,
		idemTTL:     24 * time.Hour,
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Close stops accepting new deliveries, drains the queue and waits for
// in-flight deliveries to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.quit) })
	d.wg.Wait()
}

// Publish resolves the event's active subscribers and enqueues one
// delivery per subscription. Non-blocking: when the queue is full the
// delivery is dropped and counted as overflow.
func (d *Dispatcher) Publish(ctx context.Context, ev *models.TriggerEvent) error {
	subs, err := d.source.SubscribersFor(ctx, ev.ConditionID)
	if err != nil {
		d.metrics.RecordError("resolve_subscribers")
		return err
	}

	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	ev.SubscriptionIDs = ids

	for _, s := range subs {
		dl := &models.Delivery{
			SubscriptionID: s.ID,
			BotID:          s.BotID,
			BotType:        s.BotType,
			Event:          *ev,
		}
		select {
		case <-d.quit:
			return nil
		case d.queue <- dl:
		default:
			d.metrics.RecordOverflow()
			d.logger.Error("delivery queue full, dropping delivery",
				applogger.String("subscription_id", s.ID),
				applogger.String("event_id", ev.EventID))
		}
	}

	d.metrics.RecordQueueDepth(len(d.queue))
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case dl := <-d.queue:
			d.deliver(dl)
		case <-d.quit:
			for {
				select {
				case dl := <-d.queue:
					d.deliver(dl)
				default:
					return
				}
			}
		}
	}
}

// deliver publishes one delivery with bounded retries, then dead-letters.
// One subscriber's failures never touch sibling deliveries.
func (d *Dispatcher) deliver(dl *models.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if d.idem != nil {
		first, err := d.idem.MarkOnce(ctx, dl.IdempotencyKey(), d.idemTTL)
		if err != nil {
			// At-least-once wins over dedup when the mark store is down.
			d.logger.Warn("idempotency mark failed, delivering anyway",
				applogger.String("key", dl.IdempotencyKey()), applogger.Error(err))
		} else if !first {
			d.metrics.RecordDispatch("duplicate")
			return
		}
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		dl.Attempt = attempt
		if lastErr = d.bus.Publish(ctx, dl); lastErr == nil {
			d.metrics.RecordDispatch("ok")
			d.metrics.RecordLatency("dispatch", time.Since(start).Seconds())
			return
		}

		d.metrics.RecordDispatch("retry")
		d.logger.Warn("delivery attempt failed",
			applogger.String("subscription_id", dl.SubscriptionID),
			applogger.String("event_id", dl.Event.EventID),
			applogger.Int("attempt", attempt),
			applogger.Error(lastErr))

		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-time.After(backoffWithJitter(d.backoffMin, d.backoffMax, attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = d.maxAttempts
		}
	}

	d.deadLetter(ctx, dl, lastErr)
}

func (d *Dispatcher) deadLetter(ctx context.Context, dl *models.Delivery, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	dead := &models.DeadLetter{
		Delivery:   *dl,
		Reason:     reason,
		Attempts:   dl.Attempt,
		FailedAt:   time.Now(),
		SourceNode: d.sourceNode,
	}

	d.metrics.RecordDeadLetter()
	d.metrics.RecordDispatch("dead_letter")
	d.logger.Error("delivery dead-lettered",
		applogger.String("subscription_id", dl.SubscriptionID),
		applogger.String("event_id", dl.Event.EventID),
		applogger.Int("attempts", dl.Attempt),
		applogger.String("reason", reason))

	if err := d.bus.PublishDeadLetter(ctx, dead); err != nil {
		d.metrics.RecordError("dead_letter_publish")
		d.logger.Error("dead letter publish failed",
			applogger.String("event_id", dl.Event.EventID), applogger.Error(err))
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max {
		exp = max
	}
	// jitter up to 50%
	jitter := time.Duration(rand.Int63n(int64(exp) / 2))
	return exp - jitter
}
