package qrate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/glynnbird/qrate/pkg/eventbus"
	logx "github.com/glynnbird/qrate/pkg/logx"
)

// DefaultRatePeriod is how often a rate-limited queue refills its tokens.
const DefaultRatePeriod = time.Second

// Option configures a Queue.
type Option func(*options)

type options struct {
	name        string
	concurrency int
	rateLimit   int
	rateSet     bool
	ratePeriod  time.Duration
	ctx         context.Context
	log         logx.Logger
	bus         eventbus.Bus
	meter       metric.Meter
	tracer      trace.Tracer
}

func defaultOptions() options {
	return options{
		name:        "default",
		concurrency: 1,
		ratePeriod:  DefaultRatePeriod,
		ctx:         context.Background(),
	}
}

// WithConcurrency sets how many tasks may be in flight at once. Default 1.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithRateLimit caps dispatches to n per refill period.
func WithRateLimit(n int) Option {
	return func(o *options) {
		o.rateLimit = n
		o.rateSet = true
	}
}

// WithRatePeriod changes the token refill period. Non-positive values keep
// DefaultRatePeriod.
func WithRatePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ratePeriod = d
		}
	}
}

// WithName labels the queue in logs, metrics and events.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithContext sets the base context handed to workers.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus eventbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithMeter records queue metrics with meter instead of the global
// MeterProvider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithTracer records one span per task with tracer instead of the global
// TracerProvider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}
