package aeat111

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for declaration processing.
type Metrics struct {
	transitions *prometheus.CounterVec
	duration    prometheus.Histogram
	registers   *prometheus.CounterVec
	files       prometheus.Counter
	fileBytes   prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the declaration metrics against registerer, or the
// default Prometheus registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aeat111_transitions_total",
		Help: "Report transitions partitioned by action and outcome.",
	}, []string{"action", "status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aeat111_calculation_duration_seconds",
		Help:    "Duration of a single report calculation.",
		Buckets: prometheus.DefBuckets,
	})
	registers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aeat111_registers_total",
		Help: "Registers written by calculations, by type.",
	}, []string{"type"})
	files := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aeat111_files_total",
		Help: "Presentation files generated.",
	})
	fileBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aeat111_file_bytes_total",
		Help: "Bytes of presentation files generated.",
	})
	registerer.MustRegister(transitions, duration, registers, files, fileBytes)
	return &Metrics{transitions: transitions, duration: duration, registers: registers, files: files, fileBytes: fileBytes}
}

func (m *Metrics) transition(action Action, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.transitions.WithLabelValues(string(action), status).Inc()
}

func (m *Metrics) calculated(start time.Time, regs []Register) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
	for _, r := range regs {
		m.registers.WithLabelValues(string(r.Type)).Inc()
	}
}

func (m *Metrics) generated(size int) {
	if m == nil {
		return
	}
	m.files.Inc()
	m.fileBytes.Add(float64(size))
}
