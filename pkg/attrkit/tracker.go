package attrkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/attrkit/attrkit/pkg/attrkit/attribution"
	"github.com/attrkit/attrkit/pkg/attrkit/config"
	"github.com/attrkit/attrkit/pkg/attrkit/conversion"
	"github.com/attrkit/attrkit/pkg/attrkit/delivery"
	"github.com/attrkit/attrkit/pkg/attrkit/diag"
	"github.com/attrkit/attrkit/pkg/attrkit/event"
	"github.com/attrkit/attrkit/pkg/attrkit/observability"
	"github.com/attrkit/attrkit/pkg/attrkit/queue"
	"github.com/attrkit/attrkit/pkg/attrkit/session"
	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

// ErrClosed is returned by operations on a closed Tracker.
var ErrClosed = errors.New("attrkit: tracker is closed")

// Tracker is the SDK entry point: one explicit instance per
// installation, owned by the host application. Construct with New,
// tear down with Close. All methods are safe for concurrent use.
type Tracker struct {
	cfg  config.Config
	opts options

	st        store.Store
	sessions  *session.Manager
	resolver  *attribution.Resolver
	encoder   *conversion.Encoder // nil when no template is configured
	queue     *queue.Queue
	scheduler *delivery.Scheduler
	notifier  *diag.Notifier

	identityMu sync.Mutex
	visitorID  string
	userID     string

	cancelDiag func()
	closed     atomic.Bool
}

// New builds and starts a tracker from a validated configuration.
// The background flush loop runs until Close.
func New(cfg config.Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	st := o.store
	if st == nil {
		if cfg.StorePath != "" {
			var err error
			st, err = store.NewSQLiteStore(cfg.StorePath)
			if err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}
		} else {
			st = store.NewMemoryStore()
		}
	}

	t := &Tracker{cfg: cfg, opts: o, st: st}

	if err := t.loadIdentity(); err != nil {
		st.Close()
		return nil, err
	}

	resolver, err := attribution.NewResolver(st, attribution.WithLogger(o.logger))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("restore attribution: %w", err)
	}
	t.resolver = resolver

	if cfg.Template != "" {
		tmpl, ok := o.registry.Get(cfg.Template)
		if !ok {
			st.Close()
			return nil, fmt.Errorf("unknown conversion template %q", cfg.Template)
		}
		encOpts := []conversion.EncoderOption{conversion.WithLogger(o.logger)}
		if o.sender != nil {
			encOpts = append(encOpts, conversion.WithPostbackSender(o.sender))
		}
		t.encoder, err = conversion.NewEncoder(tmpl, st, encOpts...)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	t.sessions = session.NewManager(cfg.SessionTimeout)
	t.notifier = diag.NewNotifier(diag.NotifierConfig{})

	t.queue, err = queue.New(st, queue.Config{
		MaxAttempts: cfg.MaxAttempts,
		MaxAge:      cfg.MaxQueueAge,
		Logger:      o.logger,
		Notifier:    t.notifier,
	})
	if err != nil {
		t.notifier.Close()
		st.Close()
		return nil, err
	}

	clientOpts := []delivery.ClientOption{
		delivery.WithTimeout(cfg.RequestTimeout),
		delivery.WithClientLogger(o.logger),
	}
	if o.client != nil {
		clientOpts = append(clientOpts, delivery.WithHTTPClient(o.client))
	}
	client, err := delivery.NewClient(cfg.EndpointURL, cfg.APIKey, clientOpts...)
	if err != nil {
		t.notifier.Close()
		st.Close()
		return nil, err
	}

	t.scheduler = delivery.NewScheduler(t.queue, client, delivery.SchedulerConfig{
		BatchSize:     cfg.MaxBatchSize,
		FlushInterval: cfg.FlushInterval,
		HighWaterMark: cfg.HighWaterMark,
		Logger:        o.logger,
		Notifier:      t.notifier,
		Metrics:       o.metrics,
		Spans:         o.spans,
	})

	// Dropped events count toward metrics regardless of who drops them.
	t.cancelDiag = t.notifier.Subscribe(func(n diag.Notice) {
		if n.Kind == diag.KindItemDropped {
			o.metrics.RecordDrop(context.Background(), n.Message)
		}
	})

	t.scheduler.Start()
	observability.LogTrackerStart(o.logger, t.visitorID, cfg.Template, t.queue.Size())
	return t, nil
}

// loadIdentity restores the visitor identity, minting one on first run.
func (t *Tracker) loadIdentity() error {
	data, err := t.st.LoadState(store.StateVisitorID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		t.visitorID = uuid.New().String()
		if err := t.st.SaveState(store.StateVisitorID, []byte(t.visitorID)); err != nil {
			return fmt.Errorf("persist visitor identity: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load visitor identity: %w", err)
	default:
		t.visitorID = string(data)
	}

	if data, err := t.st.LoadState(store.StateUserID); err == nil {
		t.userID = string(data)
	}
	return nil
}

// Track validates, stamps, and enqueues one event. The event is durable
// when Track returns nil; delivery happens asynchronously.
func (t *Tracker) Track(name string, properties map[string]any) error {
	if t.closed.Load() {
		return ErrClosed
	}

	props, err := event.PropertiesFromAny(properties)
	if err != nil {
		return err
	}
	return t.track(name, props)
}

// TrackRevenue is Track with revenue and currency folded into the
// properties, feeding both delivery and conversion encoding.
func (t *Tracker) TrackRevenue(name string, revenue float64, currency string, properties map[string]any) error {
	if t.closed.Load() {
		return ErrClosed
	}

	props, err := event.PropertiesFromAny(properties)
	if err != nil {
		return err
	}
	if props == nil {
		props = event.Properties{}
	}
	props[event.PropRevenue] = event.Number(revenue)
	props[event.PropCurrency] = event.String(currency)
	return t.track(name, props)
}

func (t *Tracker) track(name string, props event.Properties) error {
	before, _ := t.sessions.Current()
	sess := t.sessions.Touch()
	if before.ID != "" && before.ID != sess.ID {
		observability.LogSessionRotated(t.opts.logger, before.ID, sess.ID)
	}

	t.identityMu.Lock()
	visitorID := t.visitorID
	t.identityMu.Unlock()

	evt, err := event.New(name, props, event.Stamp{
		SessionID:   sess.ID,
		VisitorID:   visitorID,
		Attribution: t.resolver.Snapshot(),
	})
	if err != nil {
		return err
	}

	item, err := t.queue.Enqueue(evt)
	if err != nil {
		return err
	}

	t.opts.metrics.RecordEnqueue(context.Background(), name)
	observability.LogEventTracked(t.opts.logger, evt.ID, name, item.Sequence)

	if t.encoder != nil {
		if update, changed := t.encoder.Encode(name, props); changed {
			t.opts.metrics.RecordConversionValue(context.Background(), update.Value, update.Lock)
		}
	}

	t.scheduler.Notify(t.queue.Size())
	return nil
}

// IngestAttribution feeds attribution signals to the resolver and
// returns the resulting canonical record.
func (t *Tracker) IngestAttribution(signals ...attribution.Signal) (attribution.Record, error) {
	if t.closed.Load() {
		return attribution.Record{}, ErrClosed
	}

	record := t.resolver.Ingest(signals...)
	observability.LogAttributionResolved(t.opts.logger, record.Signal, record.Source, record.FirstTouch)
	return record, nil
}

// IngestURL extracts attribution signals from an opened URL (deep link
// or web landing) and resolves them.
func (t *Tracker) IngestURL(raw string) (attribution.Record, error) {
	if t.closed.Load() {
		return attribution.Record{}, ErrClosed
	}

	signals, err := attribution.ParseURL(raw)
	if err != nil {
		return attribution.Record{}, err
	}
	return t.IngestAttribution(signals...)
}

// IngestReferrer extracts attribution signals from an install referrer
// payload (the bare query string delivered by the app store) and
// resolves them.
func (t *Tracker) IngestReferrer(referrer string) (attribution.Record, error) {
	if t.closed.Load() {
		return attribution.Record{}, ErrClosed
	}

	signals, err := attribution.ParseReferrer(referrer)
	if err != nil {
		return attribution.Record{}, err
	}
	return t.IngestAttribution(signals...)
}

// FirstTouch returns the locked first-touch attribution record and
// whether one has been captured for this installation.
func (t *Tracker) FirstTouch() (attribution.Record, bool) {
	return t.resolver.FirstTouch()
}

// Identify binds a user identifier to the visitor. The visitor id
// itself is unchanged; identity survives logout until Reset.
func (t *Tracker) Identify(userID string) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.identityMu.Lock()
	defer t.identityMu.Unlock()

	if err := t.st.SaveState(store.StateUserID, []byte(userID)); err != nil {
		return fmt.Errorf("persist user identity: %w", err)
	}
	t.userID = userID
	return nil
}

// Reset regenerates the visitor identity, unbinds the user id, and
// starts a fresh session. Queued events keep the identity they were
// stamped with.
func (t *Tracker) Reset() error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.identityMu.Lock()
	defer t.identityMu.Unlock()

	newID := uuid.New().String()
	if err := t.st.SaveState(store.StateVisitorID, []byte(newID)); err != nil {
		return fmt.Errorf("persist visitor identity: %w", err)
	}
	if err := t.st.DeleteState(store.StateUserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("clear user identity: %w", err)
	}

	t.visitorID = newID
	t.userID = ""
	t.sessions.Reset()

	observability.LogIdentityReset(t.opts.logger, newID)
	return nil
}

// OnForeground records app-foreground activity, keeping the session
// alive or rotating it after the inactivity timeout.
func (t *Tracker) OnForeground() {
	if t.closed.Load() {
		return
	}
	t.sessions.Heartbeat()
}

// OnBackground flushes pending events before the OS suspends the app.
func (t *Tracker) OnBackground(ctx context.Context) {
	if t.closed.Load() {
		return
	}
	t.Flush(ctx)
}

// Flush synchronously drains eligible queued events. Concurrent calls
// coalesce into a single send cycle.
func (t *Tracker) Flush(ctx context.Context) {
	if t.closed.Load() {
		return
	}

	done := observability.TimedOperation()
	spanCtx, span := t.opts.spans.StartFlushSpan(ctx, "explicit")
	t.scheduler.Flush(spanCtx)
	t.opts.spans.AddSpanEvent(spanCtx, "queue.drained",
		attribute.Int("remaining", t.queue.Size()),
	)
	t.opts.spans.EndSpanWithError(span, nil)

	observability.LogFlushComplete(t.opts.logger, done(), t.queue.Size())
}

// Notices subscribes to non-fatal diagnostic notices (dropped events,
// delivery failures, storage degradation). The returned cancel is
// idempotent.
func (t *Tracker) Notices(fn func(diag.Notice)) (cancel func()) {
	return t.notifier.Subscribe(fn)
}

// Logger returns the tracker's logger enriched with the current
// identity fields, or nil when logging is disabled.
func (t *Tracker) Logger() *slog.Logger {
	status := t.Status()
	return observability.EnrichLogger(t.opts.logger, status.VisitorID, status.SessionID)
}

// Close stops the flush loop, drains what it can, and releases the
// store. Further calls on the tracker return ErrClosed; Close itself is
// idempotent.
func (t *Tracker) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.scheduler.Stop(ctx)
	t.cancelDiag()
	t.notifier.Close()

	remaining := t.queue.Size()
	err := t.st.Close()
	observability.LogTrackerStop(t.opts.logger, remaining)
	return err
}
