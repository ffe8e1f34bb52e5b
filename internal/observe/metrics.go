// Package observe provides application-wide observability primitives for
// bellhop: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bellhop metrics.
const meterName = "github.com/bellhop-bot/bellhop"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use, the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks voice channel connect/move latency.
	ConnectDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks announcement playback latency.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// PresenceEvents counts voice state events received. Use with attributes:
	//   attribute.String("guild_id", ...), attribute.String("event", ...)
	PresenceEvents metric.Int64Counter

	// Decisions counts decision engine outcomes. Use with attributes:
	//   attribute.String("action", ...), attribute.String("suppressed", ...)
	Decisions metric.Int64Counter

	// ConnectAttempts counts connection attempts by outcome. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	ConnectAttempts metric.Int64Counter

	// Announcements counts announcement attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	Announcements metric.Int64Counter

	// --- Cache counters ---

	// CacheHits counts announcement artifacts served from the disk cache.
	CacheHits metric.Int64Counter

	// CacheMisses counts announcement artifacts that required synthesis.
	CacheMisses metric.Int64Counter

	// CacheEvictions counts artifacts removed to respect the size cap.
	CacheEvictions metric.Int64Counter

	// --- Gauges ---

	// ConnectedGuilds tracks the number of guilds with a live voice connection.
	ConnectedGuilds metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// gateway round-trips and synthesis requests.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("bellhop.connect.duration",
		metric.WithDescription("Latency of voice channel connect and move operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("bellhop.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("bellhop.playback.duration",
		metric.WithDescription("Latency of announcement playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PresenceEvents, err = m.Int64Counter("bellhop.presence.events",
		metric.WithDescription("Total voice state events by guild and event kind."),
	); err != nil {
		return nil, err
	}
	if met.Decisions, err = m.Int64Counter("bellhop.decisions",
		metric.WithDescription("Total decision engine outcomes by action."),
	); err != nil {
		return nil, err
	}
	if met.ConnectAttempts, err = m.Int64Counter("bellhop.connect.attempts",
		metric.WithDescription("Total connection attempts by action and status."),
	); err != nil {
		return nil, err
	}
	if met.Announcements, err = m.Int64Counter("bellhop.announcements",
		metric.WithDescription("Total announcement attempts by provider and status."),
	); err != nil {
		return nil, err
	}

	// Cache counters.
	if met.CacheHits, err = m.Int64Counter("bellhop.cache.hits",
		metric.WithDescription("Announcement artifacts served from the disk cache."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("bellhop.cache.misses",
		metric.WithDescription("Announcement artifacts that required synthesis."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("bellhop.cache.evictions",
		metric.WithDescription("Cached artifacts removed to respect the size cap."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ConnectedGuilds, err = m.Int64UpDownCounter("bellhop.connected_guilds",
		metric.WithDescription("Number of guilds with a live voice connection."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("bellhop.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPresenceEvent records a voice state event counter increment.
func (m *Metrics) RecordPresenceEvent(ctx context.Context, guildID, event string) {
	m.PresenceEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("guild_id", guildID),
			attribute.String("event", event),
		),
	)
}

// RecordDecision records a decision engine outcome counter increment.
func (m *Metrics) RecordDecision(ctx context.Context, action string, suppressed bool) {
	s := "false"
	if suppressed {
		s = "true"
	}
	m.Decisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("suppressed", s),
		),
	)
}

// RecordConnectAttempt records a connection attempt counter increment with
// the standard attribute set.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, action, status string) {
	m.ConnectAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordAnnouncement records an announcement attempt counter increment.
func (m *Metrics) RecordAnnouncement(ctx context.Context, provider, status string) {
	m.Announcements.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}
