package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the counters recorded by a notification run.
type Instruments struct {
	sent        metric.Int64Counter
	failed      metric.Int64Counter
	unavailable metric.Int64Counter
	fetch       metric.Float64Histogram
}

// NewInstruments registers the run counters on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	sent, err := meter.Int64Counter("aqibot.notifications.sent",
		metric.WithDescription("Notifications handed to the mail relay"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("aqibot.notifications.failed",
		metric.WithDescription("Recipients that could not be notified"))
	if err != nil {
		return nil, err
	}
	unavailable, err := meter.Int64Counter("aqibot.readings.unavailable",
		metric.WithDescription("Cities whose feed reported no data"))
	if err != nil {
		return nil, err
	}
	fetch, err := meter.Float64Histogram("aqibot.feed.duration",
		metric.WithDescription("Air quality feed request latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Instruments{sent: sent, failed: failed, unavailable: unavailable, fetch: fetch}, nil
}

// RecordSent counts a delivered notification.
func (i *Instruments) RecordSent(ctx context.Context, city string) {
	i.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("city", city)))
}

// RecordFailed counts a recipient that failed with the given error kind.
func (i *Instruments) RecordFailed(ctx context.Context, kind string) {
	i.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUnavailable counts a "no data" reading.
func (i *Instruments) RecordUnavailable(ctx context.Context, city string) {
	i.unavailable.Add(ctx, 1, metric.WithAttributes(attribute.String("city", city)))
}

// RecordFetch records feed latency in seconds.
func (i *Instruments) RecordFetch(ctx context.Context, seconds float64) {
	i.fetch.Record(ctx, seconds)
}
