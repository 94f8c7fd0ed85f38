package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sidescreen/internal/core/domain"
)

// PrometheusCollector implements ports.MetricsRecorder.
type PrometheusCollector struct {
	// Gauges
	sessionsActive   prometheus.Gauge
	devicesConnected *prometheus.GaugeVec

	// Counters
	sessionsTotal     *prometheus.CounterVec
	framesSent        prometheus.Counter
	framesSkipped     *prometheus.CounterVec
	bytesSent         prometheus.Counter
	compressFailures  prometheus.Counter
	captureFailures   *prometheus.CounterVec
	pairingsTotal     *prometheus.CounterVec
	inputDropped      *prometheus.CounterVec
	deviceConnections *prometheus.CounterVec

	// Histograms
	captureDuration  prometheus.Histogram
	compressDuration prometheus.Histogram
	sendDuration     prometheus.Histogram
	pairingDuration  prometheus.Histogram
}

// NewPrometheusCollector registers the collector's metrics with reg.
// A nil reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	frameBuckets := []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5}

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sidescreen_sessions_active",
			Help: "Number of streaming sessions currently running",
		}),

		devicesConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sidescreen_devices_connected",
			Help: "Number of devices with an open channel",
		}, []string{"transport"}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidescreen_sessions_total",
			Help: "Sessions ended, by final state",
		}, []string{"state"}),

		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidescreen_frames_sent_total",
			Help: "Frames delivered to devices",
		}),

		framesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidescreen_frames_skipped_total",
			Help: "Ticks that did not produce a frame, by reason",
		}, []string{"reason"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidescreen_bytes_sent_total",
			Help: "Compressed frame bytes delivered to devices",
		}),

		compressFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidescreen_compress_failures_total",
			Help: "Frames the compressor failed to encode",
		}),

		captureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidescreen_capture_failures_total",
			Help: "Failed frame captures, by source",
		}, []string{"source_id"}),

		pairingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidescreen_pairings_total",
			Help: "Pairing attempts, by outcome",
		}, []string{"outcome"}),

		inputDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidescreen_input_dropped_total",
			Help: "Input events not injected, by reason",
		}, []string{"reason"}),

		deviceConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidescreen_device_connections_total",
			Help: "Channels opened to devices",
		}, []string{"transport"}),

		captureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidescreen_capture_duration_seconds",
			Help:    "Time to capture one frame",
			Buckets: frameBuckets,
		}),

		compressDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidescreen_compress_duration_seconds",
			Help:    "Time to compress one frame",
			Buckets: frameBuckets,
		}),

		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidescreen_send_duration_seconds",
			Help:    "Time to write one frame to the device channel",
			Buckets: frameBuckets,
		}),

		pairingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidescreen_pairing_duration_seconds",
			Help:    "Time from pairing request to device answer",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
}

func (p *PrometheusCollector) SessionStarted(device domain.DeviceID) {
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionEnded(device domain.DeviceID, state domain.SessionState) {
	p.sessionsActive.Dec()
	p.sessionsTotal.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) FrameSent(bytes int, sendTime time.Duration) {
	p.framesSent.Inc()
	p.bytesSent.Add(float64(bytes))
	p.sendDuration.Observe(sendTime.Seconds())
}

func (p *PrometheusCollector) FrameSkipped(reason string) {
	p.framesSkipped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) CompressFailed() {
	p.compressFailures.Inc()
}

func (p *PrometheusCollector) FrameCompressed(d time.Duration) {
	p.compressDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) FrameCaptured(source domain.SourceID, d time.Duration, err error) {
	if err != nil {
		p.captureFailures.WithLabelValues(string(source)).Inc()
		return
	}
	p.captureDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) PairingFinished(outcome string, d time.Duration) {
	p.pairingsTotal.WithLabelValues(outcome).Inc()
	p.pairingDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) DeviceConnected(transport domain.TransportKind) {
	p.devicesConnected.WithLabelValues(string(transport)).Inc()
	p.deviceConnections.WithLabelValues(string(transport)).Inc()
}

func (p *PrometheusCollector) DeviceDisconnected(transport domain.TransportKind) {
	p.devicesConnected.WithLabelValues(string(transport)).Dec()
}

func (p *PrometheusCollector) InputDropped(reason string) {
	p.inputDropped.WithLabelValues(reason).Inc()
}
