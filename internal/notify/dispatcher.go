package notify

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"safetunes/internal/metrics"
)

// DispatcherConfig tunes the outbound queue.
type DispatcherConfig struct {
	QueueSize    int
	Workers      int
	Timeout      time.Duration // per provider send
	DedupeWindow time.Duration
}

// Dispatcher queues notifications and delivers them from a fixed worker pool.
type Dispatcher struct {
	queue     chan Notification
	providers []Provider
	dedupe    *cache.Cache
	workers   int
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, providers []Provider, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 5 * time.Minute
	}

	return &Dispatcher{
		queue:     make(chan Notification, cfg.QueueSize),
		providers: providers,
		dedupe:    cache.New(cfg.DedupeWindow, 2*cfg.DedupeWindow),
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		logger:    logger,
		metrics:   m,
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}

	d.logger.Info("Notification dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("providers", len(d.providers)))
}

// Notify enqueues n. A full queue or a duplicate tag drops it.
func (d *Dispatcher) Notify(n Notification) {
	if n.Tag != "" {
		if err := d.dedupe.Add(string(n.Channel)+":"+n.Tag, struct{}{}, cache.DefaultExpiration); err != nil {
			d.metrics.Notification(string(n.Channel), "deduplicated")
			d.logger.Debug("Dropping duplicate notification", zap.String("tag", n.Tag))
			return
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- n:
	default:
		d.metrics.Notification(string(n.Channel), "dropped")
		d.logger.Warn("Notification queue full, dropping notification",
			zap.String("channel", string(n.Channel)),
			zap.String("tag", n.Tag))
	}
}

// Stop closes the queue and waits for queued notifications to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, &n)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) {
	for _, p := range d.providers {
		if !p.Supports(n.Channel) {
			continue
		}

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		err := p.Send(sendCtx, n)
		cancel()

		if err != nil {
			d.metrics.Notification(string(n.Channel), "failed")
			d.logger.Error("Failed to deliver notification",
				zap.String("provider", p.Name()),
				zap.String("channel", string(n.Channel)),
				zap.String("recipient", n.Recipient),
				zap.Error(err))
			continue
		}
		d.metrics.Notification(string(n.Channel), "sent")
	}
}
