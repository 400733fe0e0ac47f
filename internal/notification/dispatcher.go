package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/expense-approval/internal/core/events"
)

var (
	ErrQueueFull        = errors.New("notification queue full")
	ErrDispatcherClosed = errors.New("notification dispatcher is shut down")
)

type Config struct {
	Workers        int
	QueueSize      int
	DeliverTimeout time.Duration
}

type worker struct {
	id         int
	workerPool chan chan Notification
	jobChannel chan Notification
	logger     *slog.Logger
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, deliver func(Notification)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case w.workerPool <- w.jobChannel:
			case <-ctx.Done():
				w.logger.Debug("notification worker shutting down", "worker_id", w.id)
				return
			}

			select {
			case n := <-w.jobChannel:
				deliver(n)
			case <-ctx.Done():
				w.logger.Debug("notification worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

// Dispatcher delivers notifications through a fixed pool of workers fed by
// a bounded queue.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	queue      chan Notification
	workerPool chan chan Notification
	workers    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg Config, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	timeout := cfg.DeliverTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		notifier:   notifier,
		logger:     logger,
		timeout:    timeout,
		queue:      make(chan Notification, queueSize),
		workerPool: make(chan chan Notification, workers),
		workers:    workers,
		ctx:        ctx,
		cancel:     cancel,
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			w := &worker{
				id:         i,
				workerPool: d.workerPool,
				jobChannel: make(chan Notification),
				logger:     d.logger,
			}
			w.start(d.ctx, &d.wg, d.deliver)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("notification dispatcher started",
			"workers", d.workers,
			"queue_size", cap(d.queue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- n:
				case <-d.ctx.Done():
					return
				}
			case <-d.ctx.Done():
				return
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Enqueue schedules n for delivery and never blocks.
func (d *Dispatcher) Enqueue(n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- n:
		return nil
	default:
		d.logger.Warn("notification queue full, dropping notification",
			"notification_id", n.ID,
			"request_id", n.RequestID,
			"queue_capacity", cap(d.queue))
		return ErrQueueFull
	}
}

func (d *Dispatcher) EnqueueAll(ns []Notification) error {
	var errs []error
	for _, n := range ns {
		if err := d.Enqueue(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Error("notification delivery failed",
			"notification_id", n.ID,
			"recipient", n.Recipient.String(),
			"request_id", n.RequestID,
			"error", err)
	}
}

// HandleEvent is an events.Handler turning domain events into notifications.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case *events.RequestTransitionedEvent:
		return d.EnqueueAll(FromTransition(e))
	case *events.RequestLifecycleEvent:
		return d.EnqueueAll(FromLifecycle(e))
	}
	return nil
}

// Subscribe registers the dispatcher for every workflow event on bus.
func (d *Dispatcher) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeRequestSubmitted, d.HandleEvent)
	bus.Subscribe(events.EventTypeRequestTransitioned, d.HandleEvent)
	bus.Subscribe(events.EventTypeRequestWithdrawn, d.HandleEvent)
}

// Shutdown stops accepting work, lets queued notifications drain for at
// most ctx's lifetime, then stops the workers.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.logger.Info("shutting down notification dispatcher", "pending", len(d.queue))
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
drain:
	for len(d.queue) > 0 {
		select {
		case <-ctx.Done():
			d.logger.Warn("notification drain interrupted", "dropped", len(d.queue))
			break drain
		case <-ticker.C:
		}
	}
	d.cancel()
	d.wg.Wait()
	d.logger.Info("notification dispatcher shutdown complete")
}
