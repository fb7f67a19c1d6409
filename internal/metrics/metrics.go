package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesConverted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "djvupdf",
			Name:      "pages_converted_total",
			Help:      "Pages converted by route (jbig2, jp2_gray, jp2_rgb, blank)",
		},
		[]string{"route"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "djvupdf",
			Name:      "jobs_total",
			Help:      "Conversion jobs by result (done, failed, skipped)",
		},
		[]string{"result"},
	)

	conversionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "djvupdf",
			Name:      "conversion_duration_seconds",
			Help:      "Duration of whole-document conversions",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	jp2Latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "djvupdf",
			Name:      "jp2_encode_duration_seconds",
			Help:      "Duration of JPEG2000 encode jobs by result",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	jp2InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "djvupdf",
			Name:      "jp2_encodes_in_flight",
			Help:      "JPEG2000 encode jobs currently holding a pool slot",
		},
	)

	jp2Retries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "djvupdf",
			Name:      "jp2_buffer_retries_total",
			Help:      "JPEG2000 encodes retried with a larger output buffer",
		},
	)

	jbig2Batches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "djvupdf",
			Name:      "jbig2_batch_pages",
			Help:      "Pages per flushed JBIG2 batch",
			Buckets:   prometheus.LinearBuckets(1, 4, 6),
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "djvupdf",
			Name:      "jobs_by_state",
			Help:      "Tracked conversion paths by state (queued, pending, active, failed)",
		},
		[]string{"state"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(pagesConverted, jobsTotal, conversionLatency, jp2Latency, jp2InFlight, jp2Retries, jbig2Batches, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncPage(route string)    { pagesConverted.WithLabelValues(route).Inc() }
func IncJob(result string)    { jobsTotal.WithLabelValues(result).Inc() }
func IncJP2Retry()            { jp2Retries.Inc() }
func JP2Started()             { jp2InFlight.Inc() }
func JP2Finished()            { jp2InFlight.Dec() }
func ObserveJBIG2Batch(n int) { jbig2Batches.Observe(float64(n)) }

func ObserveConversion(dur time.Duration) { conversionLatency.Observe(dur.Seconds()) }

func ObserveJP2(result string, dur time.Duration) {
	jp2Latency.WithLabelValues(result).Observe(dur.Seconds())
}

func SetQueueDepth(state string, v int) { queueDepth.WithLabelValues(state).Set(float64(v)) }
