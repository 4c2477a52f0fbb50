package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/observability"
	"wanderlust/internal/shared/async"
	jsonx "wanderlust/internal/shared/json"
	"wanderlust/internal/shared/logging"
	"wanderlust/internal/shared/utils/id"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 30 * time.Second
)

var _ tracker.Notifier = (*Dispatcher)(nil)

// runDetail mirrors the JSON detail the coordinator attaches to run events.
type runDetail struct {
	RunID      string `json:"run_id"`
	PlanID     string `json:"plan_id"`
	Kind       string `json:"kind"`
	LocationID string `json:"location_id"`
	UserID     string `json:"user_id"`
	Status     string `json:"status"`
	Count      int    `json:"count"`
	Error      string `json:"error"`
}

// Dispatcher adapts run events to notifications and delivers them on a
// background worker. Notify never blocks: events are dropped when the queue
// is full or the dispatcher is closed.
type Dispatcher struct {
	center  *Center
	queue   chan Notification
	metrics *observability.NotificationMetrics
	logger  logging.Logger
	timeout time.Duration
	clock   func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds the pending queue.
func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Notification, size)
		}
	}
}

// WithDispatcherMetrics counts dropped events.
func WithDispatcherMetrics(metrics *observability.NotificationMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithSendTimeout bounds one delivery across all channels.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logging.OrNop(logger)
	}
}

// NewDispatcher starts the delivery worker.
func NewDispatcher(center *Center, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		center:  center,
		queue:   make(chan Notification, defaultQueueSize),
		logger:  logging.NewComponentLogger("NotificationDispatcher"),
		timeout: defaultSendTimeout,
		clock:   time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	async.Go(d.logger, "notification.dispatch", d.run)
	return d
}

// Notify enqueues a run event.
func (d *Dispatcher) Notify(event, detail string) {
	defer async.Recover(d.logger, "notification.notify")

	n := d.build(event, detail)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.Dropped()
		return
	}
	select {
	case d.queue <- n:
	default:
		d.metrics.Dropped()
		d.logger.Warn("Notification queue full, dropping %s", event)
	}
}

func (d *Dispatcher) build(event, detail string) Notification {
	n := Notification{
		ID:        id.NewEventID(),
		Event:     event,
		Title:     event,
		Body:      detail,
		Priority:  PriorityForEvent(event),
		CreatedAt: d.clock(),
	}
	var rd runDetail
	if err := jsonx.Unmarshal([]byte(detail), &rd); err != nil {
		return n
	}
	n.UserID = rd.UserID
	n.Title = fmt.Sprintf("%s %s", rd.Kind, rd.Status)
	n.Body = describe(event, rd)
	n.Metadata = map[string]string{
		"run_id":  rd.RunID,
		"plan_id": rd.PlanID,
		"kind":    rd.Kind,
		"status":  rd.Status,
		"count":   fmt.Sprintf("%d", rd.Count),
	}
	if rd.LocationID != "" {
		n.Metadata["location_id"] = rd.LocationID
	}
	if rd.Error != "" {
		n.Metadata["error"] = rd.Error
	}
	return n
}

func describe(event string, rd runDetail) string {
	switch PriorityForEvent(event) {
	case PriorityHigh:
		if rd.Error != "" {
			return fmt.Sprintf("Plan %s: %s", rd.PlanID, rd.Error)
		}
		return fmt.Sprintf("Plan %s: run %s ended as %s", rd.PlanID, rd.RunID, rd.Status)
	default:
		return fmt.Sprintf("Plan %s: %d item(s) so far", rd.PlanID, rd.Count)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	defer async.Recover(d.logger, "notification.deliver")
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if _, err := d.center.Send(ctx, n); err != nil {
		d.logger.Debug("Notification %s (%s) incomplete: %v", n.ID, n.Event, err)
	}
}

// Close stops accepting events and waits for queued ones to drain until ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
