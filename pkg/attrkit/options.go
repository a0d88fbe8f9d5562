package attrkit

import (
	"log/slog"
	"net/http"

	"github.com/attrkit/attrkit/pkg/attrkit/conversion"
	"github.com/attrkit/attrkit/pkg/attrkit/observability"
	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

// options holds optional collaborators resolved at construction.
type options struct {
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	client   *http.Client
	sender   conversion.PostbackSender
	store    store.Store
	registry *conversion.Registry
}

func defaultOptions() options {
	return options{
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		registry: conversion.NewRegistry(),
	}
}

// Option configures a Tracker.
type Option func(*options)

// WithLogger enables structured logging through the given logger.
// Without it the tracker stays silent.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics enables metrics recording. Pair with
// observability.NewMetricsRecorder for OpenTelemetry metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpanManager enables tracing of flush cycles. Pair with
// observability.NewSpanManager for OpenTelemetry tracing.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(o *options) {
		if sm != nil {
			o.spans = sm
		}
	}
}

// WithHTTPClient substitutes the HTTP client used for delivery.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.client = hc }
}

// WithPostbackSender supplies the platform postback bridge for
// conversion value updates.
func WithPostbackSender(s conversion.PostbackSender) Option {
	return func(o *options) { o.sender = s }
}

// WithStore substitutes the durable store, overriding the config's
// StorePath selection. The tracker takes ownership and closes it.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithTemplateRegistry substitutes the conversion template registry,
// allowing custom templates to be registered before construction.
func WithTemplateRegistry(r *conversion.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}
