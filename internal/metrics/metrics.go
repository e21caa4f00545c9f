package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	plansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfsplitter",
			Name:      "plans_total",
			Help:      "Split plans requested, by mode and result (ok, rejected, error)",
		},
		[]string{"mode", "result"},
	)

	problemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfsplitter",
			Name:      "input_problems_total",
			Help:      "Parse and validation problems by kind",
		},
		[]string{"kind"},
	)

	warningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfsplitter",
			Name:      "plan_warnings_total",
			Help:      "Non-fatal plan warnings by kind",
		},
		[]string{"kind"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfsplitter",
			Name:      "split_jobs_total",
			Help:      "Output files attempted, by result (written, failed, skipped)",
		},
		[]string{"result"},
	)

	jobLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pdfsplitter",
			Name:      "split_job_duration_seconds",
			Help:      "Time to write and store one output file",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pagesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfsplitter",
			Name:      "pages_written_total",
			Help:      "Pages copied into output files",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pdfsplitter",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)

	once sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(plansTotal, problemsTotal, warningsTotal, jobsTotal, jobLatency, pagesWritten, queueDepth)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObservePlan(mode, result string) { plansTotal.WithLabelValues(mode, result).Inc() }
func IncProblem(kind string)          { problemsTotal.WithLabelValues(kind).Inc() }
func IncWarning(kind string)          { warningsTotal.WithLabelValues(kind).Inc() }

// ObserveJob records one output file.
func ObserveJob(result string, pages int, dur time.Duration) {
	jobsTotal.WithLabelValues(result).Inc()
	if result == "written" {
		jobLatency.Observe(dur.Seconds())
		pagesWritten.Add(float64(pages))
	}
}

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
