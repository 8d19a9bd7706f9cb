package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver turns bridge events into Prometheus series on its own
// registry.
type PrometheusObserver struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	sessionsFailed  *prometheus.CounterVec
	sessionsClosed  *prometheus.CounterVec
	sessionsActive  *prometheus.GaugeVec
	sessionDuration *prometheus.HistogramVec
	framesReceived  *prometheus.CounterVec
	audioBytes      *prometheus.CounterVec
	providerEvents  *prometheus.CounterVec
}

func NewPrometheusObserver(namespace string) *PrometheusObserver {
	if namespace == "" {
		namespace = "siprtc"
	}
	reg := prometheus.NewRegistry()
	o := &PrometheusObserver{
		registry: reg,
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions whose provider stream opened.",
		}, []string{TagProvider}),
		sessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Sessions whose provider stream failed to open.",
		}, []string{TagProvider, TagReason}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions shut down, by trigger.",
		}, []string{TagProvider, TagTrigger}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently streaming.",
		}, []string{TagProvider}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from stream open to shutdown.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{TagProvider}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound transport frames by kind.",
		}, []string{TagKind}),
		audioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes pushed to providers.",
		}, []string{TagProvider}),
		providerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_events_total",
			Help:      "Normalized provider events by kind.",
		}, []string{TagProvider, TagKind}),
	}
	reg.MustRegister(
		o.sessionsStarted,
		o.sessionsFailed,
		o.sessionsClosed,
		o.sessionsActive,
		o.sessionDuration,
		o.framesReceived,
		o.audioBytes,
		o.providerEvents,
	)
	return o
}

func (o *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	tag := func(k string) string {
		if ev.Tags == nil {
			return ""
		}
		return ev.Tags[k]
	}
	provider := tag(TagProvider)
	switch ev.Name {
	case EventSessionStarted:
		o.sessionsStarted.WithLabelValues(provider).Inc()
		o.sessionsActive.WithLabelValues(provider).Inc()
	case EventSessionFailed:
		o.sessionsFailed.WithLabelValues(provider, tag(TagReason)).Inc()
	case EventSessionClosed:
		o.sessionsClosed.WithLabelValues(provider, tag(TagTrigger)).Inc()
		// Only sessions that reached streaming were counted active.
		if ev.Fields != nil && ev.Fields["was_streaming"] == true {
			o.sessionsActive.WithLabelValues(provider).Dec()
			o.sessionDuration.WithLabelValues(provider).Observe(ev.Value)
		}
	case EventFrameReceived:
		o.framesReceived.WithLabelValues(tag(TagKind)).Inc()
	case EventAudioBytes:
		o.audioBytes.WithLabelValues(provider).Add(ev.Value)
	case EventProviderEvent:
		o.providerEvents.WithLabelValues(provider, tag(TagKind)).Inc()
	}
}

// Registry exposes the underlying registry.
func (o *PrometheusObserver) Registry() *prometheus.Registry { return o.registry }

// Handler serves the registry in the Prometheus exposition format.
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}
