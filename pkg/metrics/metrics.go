package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Session lifecycle metrics
	SessionsStarted     *prometheus.CounterVec
	SessionsEnded       *prometheus.CounterVec
	SessionsActive      prometheus.Gauge
	SessionDuration     prometheus.Histogram
	StreamOpenLatency   prometheus.Histogram
	DeviceAcquireErrors *prometheus.CounterVec

	// Analysis metrics
	ReportsReceived  prometheus.Counter
	AggregateScores  prometheus.Histogram
	CriticalAlerts   prometheus.Counter
	ToolAcks         *prometheus.CounterVec
	TranscriptDeltas prometheus.Counter

	// Audio metrics
	AudioFramesSent *prometheus.CounterVec
	AudioBytesSent  prometheus.Counter

	// History and upload metrics
	HistoryWrites  *prometheus.CounterVec
	UploadAnalyses *prometheus.CounterVec
	UploadLatency  prometheus.Histogram

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge

	// Dashboard push metrics
	WebSocketClients prometheus.Gauge

	RateLimitRejections *prometheus.CounterVec

	// History store backend metrics
	HistoryOperations *prometheus.CounterVec
	HistoryLatency    *prometheus.HistogramVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsStarted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_sessions_started_total",
				Help: "Total number of live analysis sessions started",
			},
			[]string{"device"},
		)

		SessionsEnded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_sessions_ended_total",
				Help: "Total number of live analysis sessions ended, by reason",
			},
			[]string{"reason"},
		)

		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callguard_sessions_active",
				Help: "Number of sessions currently streaming",
			},
		)

		SessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callguard_session_duration_seconds",
				Help:    "Duration of live analysis sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
			},
		)

		StreamOpenLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callguard_stream_open_latency_seconds",
				Help:    "Time from device acquisition to setup confirmation",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		)

		DeviceAcquireErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_device_acquire_errors_total",
				Help: "Failed audio device acquisitions, by reason",
			},
			[]string{"reason"},
		)

		ReportsReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callguard_reports_received_total",
				Help: "Total number of report_analysis tool calls processed",
			},
		)

		AggregateScores = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callguard_aggregate_score",
				Help:    "Distribution of aggregate risk scores",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 85, 95, 100},
			},
		)

		CriticalAlerts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callguard_critical_alerts_total",
				Help: "Total number of sessions that raised the critical alert",
			},
		)

		ToolAcks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_tool_acknowledgements_total",
				Help: "Tool call acknowledgements sent, by status",
			},
			[]string{"status"},
		)

		TranscriptDeltas = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callguard_transcript_deltas_total",
				Help: "Total number of input transcription fragments received",
			},
		)

		AudioFramesSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_audio_frames_sent_total",
				Help: "Audio frames enqueued to the model session, by status",
			},
			[]string{"status"},
		)

		AudioBytesSent = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callguard_audio_bytes_sent_total",
				Help: "PCM bytes enqueued to the model session",
			},
		)

		HistoryWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_history_writes_total",
				Help: "History entries written, by source and status",
			},
			[]string{"source", "status"},
		)

		UploadAnalyses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_upload_analyses_total",
				Help: "One-shot file analyses, by status",
			},
			[]string{"status"},
		)

		UploadLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callguard_upload_latency_seconds",
				Help:    "Latency of one-shot file analyses",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"routing_key", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callguard_amqp_connection_status",
				Help: "AMQP connection status (1 = connected, 0 = disconnected)",
			},
		)

		WebSocketClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callguard_websocket_clients",
				Help: "Dashboard clients subscribed to session updates",
			},
		)

		RateLimitRejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_rate_limit_rejections_total",
				Help: "Requests rejected by the HTTP rate limiter",
			},
			[]string{"path"},
		)

		HistoryOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_history_operations_total",
				Help: "History store operations by backend and outcome",
			},
			[]string{"backend", "operation", "status"},
		)

		HistoryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callguard_history_latency_seconds",
				Help:    "History store operation latency",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend", "operation"},
		)

		registry.MustRegister(
			SessionsStarted,
			SessionsEnded,
			SessionsActive,
			SessionDuration,
			StreamOpenLatency,
			DeviceAcquireErrors,

			ReportsReceived,
			AggregateScores,
			CriticalAlerts,
			ToolAcks,
			TranscriptDeltas,

			AudioFramesSent,
			AudioBytesSent,

			HistoryWrites,
			UploadAnalyses,
			UploadLatency,

			AMQPPublishedMessages,
			AMQPConnectionStatus,

			WebSocketClients,
			RateLimitRejections,
			HistoryOperations,
			HistoryLatency,

			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// recording is true once Init has run and collection is enabled
func recording() bool {
	return metricsEnabled && registry != nil
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if recording() {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle("GET "+defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// StartSessionTimer marks a session as streaming and returns a function that
// records its end
func StartSessionTimer() func(reason string) {
	if !recording() {
		return func(string) {}
	}

	SessionsActive.Inc()
	start := time.Now()
	var once sync.Once
	return func(reason string) {
		once.Do(func() {
			SessionsActive.Dec()
			SessionDuration.Observe(time.Since(start).Seconds())
			SessionsEnded.WithLabelValues(reason).Inc()
		})
	}
}

// RecordSessionStart records a session start on the given device
func RecordSessionStart(device string) {
	if recording() {
		SessionsStarted.WithLabelValues(device).Inc()
	}
}

// RecordSessionEnd records a session that ended before it began streaming
func RecordSessionEnd(reason string) {
	if recording() {
		SessionsEnded.WithLabelValues(reason).Inc()
	}
}

// RecordDeviceError records a failed device acquisition
func RecordDeviceError(reason string) {
	if recording() {
		DeviceAcquireErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveStreamOpen records stream open latency with a timer function
func ObserveStreamOpen() func() {
	if !recording() {
		return func() {}
	}

	start := time.Now()
	return func() {
		StreamOpenLatency.Observe(time.Since(start).Seconds())
	}
}

// RecordReport records one processed report and its aggregate score
func RecordReport(aggregate float64) {
	if recording() {
		ReportsReceived.Inc()
		AggregateScores.Observe(aggregate)
	}
}

// RecordCriticalAlert records a session raising its alert
func RecordCriticalAlert() {
	if recording() {
		CriticalAlerts.Inc()
	}
}

// RecordToolAck records a tool call acknowledgement
func RecordToolAck(status string) {
	if recording() {
		ToolAcks.WithLabelValues(status).Inc()
	}
}

// RecordTranscriptDelta records an input transcription fragment
func RecordTranscriptDelta() {
	if recording() {
		TranscriptDeltas.Inc()
	}
}

// RecordAudioFrame records an outbound audio frame
func RecordAudioFrame(status string, bytes int) {
	if recording() {
		AudioFramesSent.WithLabelValues(status).Inc()
		if status == "ok" {
			AudioBytesSent.Add(float64(bytes))
		}
	}
}

// RecordHistoryWrite records a history append
func RecordHistoryWrite(source, status string) {
	if recording() {
		HistoryWrites.WithLabelValues(source, status).Inc()
	}
}

// ObserveUpload records one-shot analysis latency and outcome with a timer function
func ObserveUpload() func(status string) {
	if !recording() {
		return func(string) {}
	}

	start := time.Now()
	return func(status string) {
		UploadLatency.Observe(time.Since(start).Seconds())
		UploadAnalyses.WithLabelValues(status).Inc()
	}
}

// RecordAMQPPublish records metrics for an AMQP publish
func RecordAMQPPublish(routingKey, status string) {
	if recording() {
		AMQPPublishedMessages.WithLabelValues(routingKey, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if recording() {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}

// SetWebSocketClients sets the number of subscribed dashboard clients
func SetWebSocketClients(n int) {
	if recording() {
		WebSocketClients.Set(float64(n))
	}
}

// RecordRateLimitRejection counts a request refused by the rate limiter
func RecordRateLimitRejection(path string) {
	if recording() {
		RateLimitRejections.WithLabelValues(path).Inc()
	}
}

// RecordHistoryOperation records one history store call
func RecordHistoryOperation(backend, operation string, duration time.Duration, err error) {
	if !recording() {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	HistoryOperations.WithLabelValues(backend, operation, status).Inc()
	HistoryLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
