package monitoring

import (
	"tandem/internal/core/domain"
	"tandem/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	connectionsActive prometheus.Gauge
	rolesOnline       prometheus.Gauge
	roomsActive       prometheus.Gauge

	// Counters
	connectionsTotal    prometheus.Counter
	messagesReceived    *prometheus.CounterVec
	messagesRejected    *prometheus.CounterVec
	messagesDropped     prometheus.Counter
	resyncAnswerDropped prometheus.Counter

	// Play counts
	playsFlushed    prometheus.Counter
	playsFailed     prometheus.Counter
	playBatchLength prometheus.Histogram
}

var _ ports.CoordinatorMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the coordinator metrics on reg.
// A nil reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_connections_active",
			Help: "Number of open client connections",
		}),

		rolesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_roles_online",
			Help: "Number of roster roles with at least one bound connection",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_connections_total",
			Help: "Total number of client connections accepted",
		}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_messages_received_total",
			Help: "Inbound messages by type",
		}, []string{"type"}),

		messagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_messages_rejected_total",
			Help: "Inbound messages rejected with an error frame",
		}, []string{"type", "code"}),

		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_dropped_messages_total",
			Help: "Outbound messages dropped because a send queue was full or closed",
		}),

		resyncAnswerDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_resync_answers_dropped_total",
			Help: "Resync answers that arrived with no pending request",
		}),

		playsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_play_records_flushed_total",
			Help: "Play records persisted to the play-count repository",
		}),

		playsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_play_records_failed_total",
			Help: "Play records lost after retries were exhausted",
		}),

		playBatchLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tandem_play_batch_size",
			Help:    "Number of play records per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) SetRolesOnline(n int) {
	p.rolesOnline.Set(float64(n))
}

func (p *PrometheusCollector) SetActiveRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) MessageReceived(msgType domain.MessageType) {
	p.messagesReceived.WithLabelValues(string(msgType)).Inc()
}

func (p *PrometheusCollector) MessageRejected(msgType domain.MessageType, code string) {
	if msgType == "" {
		msgType = "unknown"
	}
	p.messagesRejected.WithLabelValues(string(msgType), code).Inc()
}

func (p *PrometheusCollector) MessageDropped() {
	p.messagesDropped.Inc()
}

func (p *PrometheusCollector) ResyncAnswerDropped() {
	p.resyncAnswerDropped.Inc()
}

func (p *PrometheusCollector) PlaysFlushed(n int) {
	p.playsFlushed.Add(float64(n))
	p.playBatchLength.Observe(float64(n))
}

func (p *PrometheusCollector) PlaysFailed(n int) {
	p.playsFailed.Add(float64(n))
}
