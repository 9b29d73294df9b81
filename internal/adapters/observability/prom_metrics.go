package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	return newPromObs(prometheus.DefaultRegisterer)
}

// NewPromObsWithRegistry is used by tests to avoid the default registry's
// process-wide uniqueness constraint.
func NewPromObsWithRegistry(reg prometheus.Registerer) *PromObs {
	return newPromObs(reg)
}

func newPromObs(reg prometheus.Registerer) *PromObs {
	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cycler_tasks_submitted_total",
		Help: "Tasks accepted by the dispatcher.",
	})
	executed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cycler_tasks_executed_total",
		Help: "Tasks completed by workers.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cycler_tasks_dropped_total",
		Help: "Tasks discarded because the dispatcher was shut down.",
	})
	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cycler_frames_ingested_total",
		Help: "Telemetry frames merged into the channel table.",
	})
	cbErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cycler_callback_errors_total",
		Help: "Callbacks that panicked during evaluation.",
	})
	drvErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cycler_driver_errors_total",
		Help: "Hardware driver commands that returned an error.",
	})
	queueGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cycler_queue_length",
		Help: "Tasks currently waiting in the dispatcher queue.",
	})
	workerGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cycler_worker_count",
		Help: "Current worker pool size.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cycler_task_latency_seconds",
		Help:    "Wall time spent inside Task.Execute.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	reg.MustRegister(submitted, executed, dropped, frames, cbErrors, drvErrors,
		queueGauge, workerGauge, latency)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"cycler_tasks_submitted_total": submitted,
			"cycler_tasks_executed_total":  executed,
			"cycler_tasks_dropped_total":   dropped,
			"cycler_frames_ingested_total": frames,
			"cycler_callback_errors_total": cbErrors,
			"cycler_driver_errors_total":   drvErrors,
		},
		gauges: map[string]prometheus.Gauge{
			"cycler_queue_length": queueGauge,
			"cycler_worker_count": workerGauge,
		},
		histos: map[string]prometheus.Observer{
			"cycler_task_latency_seconds": latency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
		return
	}
	log.Printf("ERROR: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
		return
	}
	log.Printf("CRITICAL: %s%s", msg, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
