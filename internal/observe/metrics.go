// Package observe provides OpenTelemetry metric instruments for the recorder,
// the transcription pipeline, and the HTTP surface, plus a Prometheus bridge
// for scraping.
//
// All Record methods are safe on a nil *Metrics, so packages can take an
// optional *Metrics without guarding every call site.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/keralacert/voiceassist"

// Metrics holds the application's metric instruments.
type Metrics struct {
	// SessionsStarted counts recording sessions opened on speech onset.
	SessionsStarted metric.Int64Counter

	// SessionsStopped counts closed sessions. Attribute: reason.
	SessionsStopped metric.Int64Counter

	// SessionDuration tracks time from speech onset to stop.
	SessionDuration metric.Float64Histogram

	// ClipsDiscarded counts stops whose clip fell below the size floor.
	ClipsDiscarded metric.Int64Counter

	// ForceStops counts operator force-stops.
	ForceStops metric.Int64Counter

	// HandoffDuration tracks stop-to-transcript latency. Attribute: status.
	HandoffDuration metric.Float64Histogram

	// ProviderRequests counts external API calls. Attributes: kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderDuration tracks external API latency. Attribute: kind.
	ProviderDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP handler time. Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram

	// ActiveClients tracks connected websocket clients.
	ActiveClients metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsStarted, err = m.Int64Counter("voiceassist.recorder.sessions_started",
		metric.WithDescription("Recording sessions opened on speech onset."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStopped, err = m.Int64Counter("voiceassist.recorder.sessions_stopped",
		metric.WithDescription("Recording sessions closed, by stop reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voiceassist.recorder.session.duration",
		metric.WithDescription("Recorded speech length per session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 10, 15, 20, 30),
	); err != nil {
		return nil, err
	}
	if met.ClipsDiscarded, err = m.Int64Counter("voiceassist.recorder.clips_discarded",
		metric.WithDescription("Clips dropped for being empty or undersized."),
	); err != nil {
		return nil, err
	}
	if met.ForceStops, err = m.Int64Counter("voiceassist.recorder.force_stops",
		metric.WithDescription("Operator force-stop requests applied."),
	); err != nil {
		return nil, err
	}
	if met.HandoffDuration, err = m.Float64Histogram("voiceassist.recorder.handoff.duration",
		metric.WithDescription("Latency from stop to transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voiceassist.provider.requests",
		metric.WithDescription("External AI API requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("voiceassist.provider.duration",
		metric.WithDescription("External AI API latency by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceassist.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("voiceassist.ws.active_clients",
		metric.WithDescription("Connected websocket clients."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordSessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsStarted.Add(ctx, 1)
}

func (m *Metrics) RecordSessionStopped(ctx context.Context, reason string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.SessionsStopped.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordClipDiscarded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ClipsDiscarded.Add(ctx, 1)
}

func (m *Metrics) RecordForceStop(ctx context.Context) {
	if m == nil {
		return
	}
	m.ForceStops.Add(ctx, 1)
}

// RecordHandoff records one finished transcription handoff.
func (m *Metrics) RecordHandoff(ctx context.Context, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.HandoffDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(statusAttr(err)))
}

// RecordProvider records one external API call. kind is e.g. "transcribe",
// "chat", "speech".
func (m *Metrics) RecordProvider(ctx context.Context, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), statusAttr(err)))
	m.ProviderDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) ClientConnected(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveClients.Add(ctx, 1)
}

func (m *Metrics) ClientDisconnected(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveClients.Add(ctx, -1)
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}
