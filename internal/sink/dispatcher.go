package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Errors
var (
	ErrDispatcherStarted = errors.New("sink dispatcher already started")
)

// DispatcherConfig holds configuration for the Dispatcher.
type DispatcherConfig struct {
	InitialBuffer int // Starting queue capacity; the queue grows as needed
}

// DefaultDispatcherConfig returns default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		InitialBuffer: 1024,
	}
}

// DispatcherStats contains runtime statistics.
type DispatcherStats struct {
	Logs      int64 // Log events delivered
	Messages  int64 // Relay messages delivered
	Metrics   int64 // Metrics samples delivered
	Dropped   int64 // Events published after Stop
	Panics    int64 // Sink panics recovered
	Queue     QueueStats
	SinkCount int
}

type eventKind uint8

const (
	kindLog eventKind = iota
	kindMessage
	kindMetrics
)

type event struct {
	kind     eventKind
	log      LogEvent
	msg      RelayMessage
	clientID string
	metrics  SystemMetrics
}

// Dispatcher fans events out to a fixed set of sinks from a single
// goroutine, preserving publish order. Publishing only enqueues.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger
	sinks  []Sink
	queue  *Queue[event]

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	logs     atomic.Int64
	messages atomic.Int64
	metrics  atomic.Int64
	panics   atomic.Int64
}

var (
	_ Sink             = (*Dispatcher)(nil)
	_ MetricsPublisher = (*Dispatcher)(nil)
)

// NewDispatcher creates a Dispatcher delivering to sinks. Nil sinks are skipped.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
		queue:  NewQueue[event](cfg.InitialBuffer),
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// Attach adds a sink after construction, for sinks that themselves depend
// on a component built with the dispatcher. It must be called before Start.
func (d *Dispatcher) Attach(s Sink) error {
	if d.started.Load() {
		return ErrDispatcherStarted
	}
	if s != nil {
		d.sinks = append(d.sinks, s)
	}
	return nil
}

// Start begins delivering queued events. Events published before Start are
// kept and delivered once it runs.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.startOnce.Do(func() {
		d.started.Store(true)
		d.wg.Add(1)
		go d.deliverLoop()

		d.logger.Info("sink dispatcher started",
			"sinks", len(d.sinks),
			"initial_buffer", d.cfg.InitialBuffer,
		)
	})
	return nil
}

// Stop closes the queue and waits for pending events to be delivered, or
// for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		d.queue.Close()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.logger.Info("sink dispatcher stopped")
		case <-ctx.Done():
			err = fmt.Errorf("drain sink queue: %w", ctx.Err())
			d.logger.Warn("sink dispatcher stop timed out", "pending", d.queue.Len())
		}
	})
	return err
}

// PublishLog enqueues a log event.
func (d *Dispatcher) PublishLog(ev LogEvent) {
	d.queue.Push(event{kind: kindLog, log: ev})
}

// PublishRelayMessage enqueues a relay message.
func (d *Dispatcher) PublishRelayMessage(msg RelayMessage) {
	d.queue.Push(event{kind: kindMessage, msg: msg})
}

// PublishMetrics enqueues a metrics sample. Only sinks implementing
// MetricsPublisher receive it.
func (d *Dispatcher) PublishMetrics(clientID string, m SystemMetrics) {
	d.queue.Push(event{kind: kindMetrics, clientID: clientID, metrics: m})
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	q := d.queue.Stats()
	return DispatcherStats{
		Logs:      d.logs.Load(),
		Messages:  d.messages.Load(),
		Metrics:   d.metrics.Load(),
		Dropped:   q.Rejected,
		Panics:    d.panics.Load(),
		Queue:     q,
		SinkCount: len(d.sinks),
	}
}

func (d *Dispatcher) deliverLoop() {
	defer d.wg.Done()

	for {
		ev, ok := d.queue.Pop()
		if !ok {
			return
		}
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev event) {
	switch ev.kind {
	case kindLog:
		d.logs.Add(1)
	case kindMessage:
		d.messages.Add(1)
	case kindMetrics:
		d.metrics.Add(1)
	}

	for _, s := range d.sinks {
		d.deliverTo(s, ev)
	}
}

// deliverTo isolates one sink so a panic cannot take down the loop or
// starve the remaining sinks.
func (d *Dispatcher) deliverTo(s Sink, ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("sink panicked", "sink", fmt.Sprintf("%T", s), "panic", r)
		}
	}()

	switch ev.kind {
	case kindLog:
		s.PublishLog(ev.log)
	case kindMessage:
		s.PublishRelayMessage(ev.msg)
	case kindMetrics:
		if mp, ok := s.(MetricsPublisher); ok {
			mp.PublishMetrics(ev.clientID, ev.metrics)
		}
	}
}
