package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	clientsConnectedTotal prometheus.Gauge
	roomsActiveTotal      prometheus.Gauge
	messagesTotal         prometheus.Counter
	messageBytesTotal     prometheus.Counter
	uploadsTotal          prometheus.Counter
	rateLimitedTotal      prometheus.Counter

	// Per-room metrics
	roomMemberCount *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		clientsConnectedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recording_relay_clients_connected_total",
			Help: "Total number of connected relay clients",
		}),

		roomsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recording_relay_rooms_active_total",
			Help: "Total number of active rooms",
		}),

		messagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recording_relay_messages_total",
			Help: "Total number of room data messages fanned out",
		}),

		messageBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recording_relay_message_bytes_total",
			Help: "Total size of room data messages in bytes",
		}),

		uploadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recording_relay_uploads_total",
			Help: "Total number of recording uploads accepted",
		}),

		rateLimitedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recording_relay_rate_limited_total",
			Help: "Total number of messages dropped by rate limiting",
		}),

		roomMemberCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recording_relay_room_member_count",
			Help: "Number of members in each room",
		}, []string{"room"}),
	}
}

func (p *PrometheusCollector) RecordClientConnected() {
	p.clientsConnectedTotal.Inc()
}

func (p *PrometheusCollector) RecordClientDisconnected() {
	p.clientsConnectedTotal.Dec()
}

func (p *PrometheusCollector) RecordRoomCreated() {
	p.roomsActiveTotal.Inc()
}

func (p *PrometheusCollector) RecordRoomClosed(room string) {
	p.roomsActiveTotal.Dec()
	p.roomMemberCount.DeleteLabelValues(room)
}

func (p *PrometheusCollector) RecordRoomMembers(room string, members int) {
	p.roomMemberCount.WithLabelValues(room).Set(float64(members))
}

func (p *PrometheusCollector) RecordMessage(sizeBytes int) {
	p.messagesTotal.Inc()
	p.messageBytesTotal.Add(float64(sizeBytes))
}

func (p *PrometheusCollector) RecordUpload() {
	p.uploadsTotal.Inc()
}

func (p *PrometheusCollector) RecordRateLimited() {
	p.rateLimitedTotal.Inc()
}
