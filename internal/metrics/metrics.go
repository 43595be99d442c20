// Package metrics содержит Prometheus метрики камеры, стрима и доставки логов.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camstream"

// Статусы для меток status
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	// StatusSkipped доставка не выполнялась: нет сети
	StatusSkipped = "skipped"
)

var (
	streamSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_sessions_active",
			Help:      "Number of open MJPEG stream sessions",
		},
	)

	streamSessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_session_duration_seconds",
			Help:      "Lifetime of MJPEG stream sessions in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	streamFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Total number of frames written to stream clients",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Total number of JPEG payload bytes written to stream clients",
		},
	)

	frameAcquireFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_acquire_failures_total",
			Help:      "Total number of failed frame acquisitions",
		},
		[]string{"consumer"}, // stream, notify
	)

	collectorDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_deliveries_total",
			Help:      "Total number of log deliveries to the remote collector",
		},
		[]string{"status"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of chat-bot notifications",
		},
		[]string{"kind", "status"}, // kind: photo, message
	)

	notificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Duration of chat-bot API calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	allMetrics = []prometheus.Collector{
		streamSessionsActive,
		streamSessionDuration,
		streamFramesTotal,
		streamBytesTotal,
		frameAcquireFailuresTotal,
		collectorDeliveriesTotal,
		notificationsTotal,
		notificationDuration,
	}
)

// NewRegistry создает реестр с метриками приложения и рантайма Go
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler отдает метрики реестра в формате Prometheus
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// RecordStreamStart учитывает открытие стрима
func RecordStreamStart() {
	streamSessionsActive.Inc()
}

// RecordStreamEnd учитывает закрытие стрима
func RecordStreamEnd(durationSeconds float64) {
	streamSessionsActive.Dec()
	streamSessionDuration.Observe(durationSeconds)
}

// RecordStreamFrame учитывает отправленный кадр
func RecordStreamFrame(payloadBytes int) {
	streamFramesTotal.Inc()
	streamBytesTotal.Add(float64(payloadBytes))
}

// RecordAcquireFailure учитывает неудачный захват кадра
func RecordAcquireFailure(consumer string) {
	frameAcquireFailuresTotal.WithLabelValues(consumer).Inc()
}

// RecordCollectorDelivery учитывает попытку доставки лога
func RecordCollectorDelivery(status string) {
	collectorDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordNotification учитывает вызов API чат-бота
func RecordNotification(kind, status string, durationSeconds float64) {
	notificationsTotal.WithLabelValues(kind, status).Inc()
	notificationDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// StatusOf переводит результат операции в метку status
func StatusOf(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}
