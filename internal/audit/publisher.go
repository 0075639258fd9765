package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher emits resolution events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "identity resolved",
		"request_id", event.RequestID,
		"decision", string(event.Decision),
		"anchor_id", event.AnchorID,
		"resolved_id", event.ResolvedID,
		"created", event.Created,
		"candidates", event.Candidates,
		"verified", event.Verified,
	)
	return nil
}

// AsyncPublisher decouples request handling from a slow sink. Publish never
// blocks; a background loop drains the buffer in batches.
type AsyncPublisher struct {
	sink      Publisher
	buffer    *RingBuffer
	logger    *slog.Logger
	batchSize int
	interval  time.Duration

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type AsyncOption func(*AsyncPublisher)

func WithBufferSize(n int) AsyncOption {
	return func(p *AsyncPublisher) {
		p.buffer = NewRingBuffer(n)
	}
}

func WithBatchSize(n int) AsyncOption {
	return func(p *AsyncPublisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) AsyncOption {
	return func(p *AsyncPublisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(p *AsyncPublisher) {
		p.logger = logger
	}
}

// NewAsyncPublisher starts the drain loop. Call Close to flush and stop it.
func NewAsyncPublisher(sink Publisher, opts ...AsyncOption) *AsyncPublisher {
	p := &AsyncPublisher{
		sink:      sink,
		buffer:    NewRingBuffer(0),
		logger:    slog.Default(),
		batchSize: 100,
		interval:  time.Second,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Publish enqueues the event. It never fails; overflow drops the oldest event.
func (p *AsyncPublisher) Publish(ctx context.Context, event Event) error {
	if p.buffer.Enqueue(event) {
		p.logger.WarnContext(ctx, "audit buffer full, oldest event dropped",
			"request_id", event.RequestID,
			"dropped_total", p.buffer.Dropped(),
		)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.drain()
			return
		case <-p.wake:
			p.drain()
		case <-ticker.C:
			p.drain()
		}
	}
}

func (p *AsyncPublisher) drain() {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.sink.Publish(context.Background(), event); err != nil {
				p.logger.Error("audit publish failed",
					"request_id", event.RequestID,
					"decision", string(event.Decision),
					"error", err,
				)
			}
		}
	}
}

// Close flushes buffered events and stops the drain loop.
func (p *AsyncPublisher) Close() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
	})
}

// Dropped reports how many events were discarded on overflow.
func (p *AsyncPublisher) Dropped() int64 {
	return p.buffer.Dropped()
}
