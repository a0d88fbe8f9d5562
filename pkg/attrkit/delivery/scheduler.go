package delivery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/attrkit/attrkit/pkg/attrkit/diag"
	"github.com/attrkit/attrkit/pkg/attrkit/event"
	"github.com/attrkit/attrkit/pkg/attrkit/observability"
	"github.com/attrkit/attrkit/pkg/attrkit/queue"
)

// Scheduler defaults.
const (
	DefaultBatchSize     = 25
	MaxBatchSize         = 100
	DefaultFlushInterval = 30 * time.Second
	DefaultHighWaterMark = 50
)

// Sender transmits one batch. Satisfied by *Client.
type Sender interface {
	Send(ctx context.Context, events []event.Event) Result
}

// SchedulerConfig configures a Scheduler. Zero fields take defaults.
type SchedulerConfig struct {
	// BatchSize is the maximum events per request, capped at MaxBatchSize.
	BatchSize int

	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration

	// HighWaterMark is the queue size that triggers an eager flush.
	HighWaterMark int

	// Logger for scheduler lifecycle logging. Nil disables logging.
	Logger *slog.Logger

	// Notifier receives delivery failure notices. Optional.
	Notifier *diag.Notifier

	// Metrics records per-batch delivery outcomes and latency. Nil
	// defaults to a no-op recorder.
	Metrics observability.MetricsRecorder

	// Spans traces each batch send. Nil defaults to a no-op manager.
	Spans observability.SpanManager
}

// Scheduler drains the queue through a Sender. Flushes are triggered by
// a timer, by queue pressure (Notify), and by explicit Flush calls; a
// mutex guarantees at most one send cycle runs at a time, so overlapping
// triggers coalesce into a single network send for the pending batch.
type Scheduler struct {
	q      *queue.Queue
	sender Sender
	cfg    SchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	kick chan struct{}

	flushMu  sync.Mutex
	online   atomic.Bool
	inFlight atomic.Bool
}

// NewScheduler wires a queue to a sender. Call Start to begin the
// background flush loop.
func NewScheduler(q *queue.Queue, sender Sender, cfg SchedulerConfig) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = DefaultHighWaterMark
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}

	s := &Scheduler{
		q:      q,
		sender: sender,
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
	}
	s.online.Store(true)
	return s
}

// Start launches the background flush loop. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(s.stopCh, s.doneCh)

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("delivery scheduler started",
			slog.Int("batch_size", s.cfg.BatchSize),
			slog.Duration("flush_interval", s.cfg.FlushInterval),
		)
	}
}

// Stop halts the loop and performs one final synchronous flush so a
// clean shutdown drains what it can. Stopping a stopped scheduler is a
// no-op.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.flush(ctx)

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("delivery scheduler stopped")
	}
}

// Notify tells the scheduler the queue grew. Past the high-water mark it
// requests an eager flush; the request is non-blocking and coalesces
// with any flush already pending.
func (s *Scheduler) Notify(queueSize int) {
	if queueSize < s.cfg.HighWaterMark {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Flush drains eligible items synchronously. If another flush cycle is
// already in flight this call yields to it instead of double-sending.
func (s *Scheduler) Flush(ctx context.Context) {
	s.flush(ctx)
}

// Online reports whether the last delivery attempt reached the endpoint.
func (s *Scheduler) Online() bool { return s.online.Load() }

// InFlight reports whether a send is currently on the wire.
func (s *Scheduler) InFlight() bool { return s.inFlight.Load() }

func (s *Scheduler) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.kick:
			s.flush(context.Background())
		}
	}
}

// flush runs one drain cycle. TryLock keeps concurrent triggers from
// racing: the losing caller returns and the pending batch still goes out
// exactly once, in the cycle that holds the lock.
func (s *Scheduler) flush(ctx context.Context) {
	if !s.flushMu.TryLock() {
		return
	}
	defer s.flushMu.Unlock()

	for {
		if ctx.Err() != nil {
			return
		}

		batch := s.q.DequeueBatch(s.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}

		events := make([]event.Event, len(batch))
		sequences := make([]int64, len(batch))
		for i, item := range batch {
			events[i] = item.Event
			sequences[i] = item.Sequence
		}

		sendCtx, span := s.cfg.Spans.StartSendSpan(ctx, len(batch))
		s.inFlight.Store(true)
		start := time.Now()
		result := s.sender.Send(sendCtx, events)
		elapsed := time.Since(start)
		s.inFlight.Store(false)
		s.cfg.Spans.EndSpanWithError(span, result.Err)
		s.cfg.Metrics.RecordDelivery(ctx, result.Outcome.String(), len(batch), elapsed)

		switch result.Outcome {
		case OutcomeSuccess:
			s.online.Store(true)
			if err := s.q.Acknowledge(sequences); err != nil && s.cfg.Logger != nil {
				s.cfg.Logger.Warn("acknowledge batch failed", slog.String("error", err.Error()))
			}
			// Keep draining.

		case OutcomeRateLimited:
			s.online.Store(true)
			if result.RetryAfter > 0 {
				s.q.RequeueAfter(sequences, result.RetryAfter)
			} else {
				s.q.Requeue(sequences)
			}
			s.notifyFailure(result, len(batch))
			return

		case OutcomeRetryable:
			s.online.Store(false)
			s.q.Requeue(sequences)
			s.notifyFailure(result, len(batch))
			return

		case OutcomePermanent:
			s.online.Store(true)
			s.q.Discard(sequences, "batch permanently rejected by server")
			s.notifyFailure(result, len(batch))
			// The next batch may be fine; keep draining.
		}
	}
}

func (s *Scheduler) notifyFailure(result Result, batchSize int) {
	if s.cfg.Logger != nil {
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		s.cfg.Logger.Warn("batch delivery failed",
			slog.Int("events", batchSize),
			slog.Int("status", result.StatusCode),
			slog.String("outcome", result.Outcome.String()),
			slog.String("error", msg),
		)
	}
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Publish(diag.Notice{
			Kind:    diag.KindDeliveryFailed,
			Message: result.Outcome.String(),
		})
	}
}
