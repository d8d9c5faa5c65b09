// Package observe provides application-wide observability primitives for
// chatvoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// The real-time audio callbacks never touch these instruments directly. The
// mixer keeps atomic counters and [Metrics.ObserveMixer] reads them from
// observable callbacks at collection time.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/chatvoice/pkg/audio"
)

// meterName is the instrumentation scope name used for all chatvoice metrics.
const meterName = "github.com/MrWong99/chatvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// SynthesisDuration tracks the latency of one synthesis request.
	SynthesisDuration metric.Float64Histogram

	// SpeakDuration tracks a whole Speak call, retries included.
	SpeakDuration metric.Float64Histogram

	// SynthesisRequests counts synthesis calls. Use with attribute:
	//   attribute.String("status", "ok"|"auth_expired"|"failed")
	SynthesisRequests metric.Int64Counter

	// TokenRefreshes counts token issuance attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	TokenRefreshes metric.Int64Counter

	// UtterancesMixed counts utterances integrated into the playback buffer.
	// Use with attribute: attribute.String("mode", "replace"|"append"|"overlay")
	UtterancesMixed metric.Int64Counter

	// UtterancesDropped counts chat lines that never reached the buffer. Use
	// with attribute: attribute.String("reason", ...)
	UtterancesDropped metric.Int64Counter

	// IngestMessages counts chat lines accepted by an ingest source. Use with
	// attribute: attribute.String("source", "websocket"|"stdin")
	IngestMessages metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// synthesis latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.SynthesisDuration, err = m.Float64Histogram("chatvoice.synthesis.duration",
		metric.WithDescription("Latency of a single speech synthesis request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeakDuration, err = m.Float64Histogram("chatvoice.speak.duration",
		metric.WithDescription("Latency of a chat line from request to mix, retries included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SynthesisRequests, err = m.Int64Counter("chatvoice.synthesis.requests",
		metric.WithDescription("Total synthesis requests by outcome status."),
	); err != nil {
		return nil, err
	}
	if met.TokenRefreshes, err = m.Int64Counter("chatvoice.token.refreshes",
		metric.WithDescription("Total bearer token issuance attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesMixed, err = m.Int64Counter("chatvoice.utterances.mixed",
		metric.WithDescription("Total utterances mixed into the playback buffer by mode."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDropped, err = m.Int64Counter("chatvoice.utterances.dropped",
		metric.WithDescription("Total chat lines dropped before playback by reason."),
	); err != nil {
		return nil, err
	}
	if met.IngestMessages, err = m.Int64Counter("chatvoice.ingest.messages",
		metric.WithDescription("Total chat lines accepted by source."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("chatvoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveMixer registers observable instruments that sample mx on every
// collection. The returned function unregisters them.
func (m *Metrics) ObserveMixer(mx audio.Mixer) (unregister func() error, err error) {
	backlog, err := m.meter.Float64ObservableGauge("chatvoice.playback.backlog",
		metric.WithDescription("Buffered speech not yet played."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	activity, err := m.meter.Int64ObservableGauge("chatvoice.vad.talk_activity",
		metric.WithDescription("Current microphone talk-activity countdown."),
	)
	if err != nil {
		return nil, err
	}
	blocks, err := m.meter.Int64ObservableCounter("chatvoice.playback.blocks",
		metric.WithDescription("Playback callbacks by outcome (played, ducked)."),
	)
	if err != nil {
		return nil, err
	}
	captured, err := m.meter.Int64ObservableCounter("chatvoice.capture.blocks",
		metric.WithDescription("Capture callbacks processed."),
	)
	if err != nil {
		return nil, err
	}

	played := metric.WithAttributes(attribute.String("outcome", "played"))
	ducked := metric.WithAttributes(attribute.String("outcome", "ducked"))

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := mx.Stats()
		o.ObserveFloat64(backlog, st.Backlog.Seconds())
		o.ObserveInt64(activity, int64(st.TalkActivity))
		o.ObserveInt64(blocks, st.PlayedBlocks, played)
		o.ObserveInt64(blocks, st.DuckedBlocks, ducked)
		o.ObserveInt64(captured, st.CaptureBlocks)
		return nil
	}, backlog, activity, blocks, captured)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
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

// RecordSynthesis records one synthesis request with its latency and status.
func (m *Metrics) RecordSynthesis(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.SynthesisRequests.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, seconds, attrs)
}

// RecordTokenRefresh records one token issuance attempt.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, status string) {
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordMix records one utterance mixed with the given mode.
func (m *Metrics) RecordMix(ctx context.Context, mode audio.MixMode) {
	m.UtterancesMixed.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
}

// RecordDrop records one chat line dropped for reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.UtterancesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordIngest records one chat line accepted from source.
func (m *Metrics) RecordIngest(ctx context.Context, source string) {
	m.IngestMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
