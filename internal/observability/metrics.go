package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "x32emu"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	datagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "datagrams_total",
			Help:      "Datagrams received (in) and sent (out).",
		},
		[]string{"direction"},
	)
	datagramBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "bytes_total",
			Help:      "Datagram payload bytes received (in) and sent (out).",
		},
		[]string{"direction"},
	)
	transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "errors_total",
			Help:      "Non-fatal socket errors by operation.",
		},
		[]string{"op"},
	)
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped because they did not decode.",
		},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Dispatched messages by outcome.",
		},
		[]string{"outcome"},
	)
	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent inside one dispatch call.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)
	replies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "replies_total",
			Help:      "Reply messages produced by dispatch.",
		},
	)
	storeEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "entries",
			Help:      "Parameters currently set in the store.",
		},
	)
	remoteClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "remote_clients",
			Help:      "Peers with a live /xremote registration.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			datagrams, datagramBytes, transportErrors, decodeErrors,
			dispatches, dispatchDuration, replies,
			storeEntries, remoteClients,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDatagramIn(size int) {
	RegisterMetrics()
	datagrams.WithLabelValues("in").Inc()
	datagramBytes.WithLabelValues("in").Add(float64(size))
}

func RecordDatagramOut(size int) {
	RegisterMetrics()
	datagrams.WithLabelValues("out").Inc()
	datagramBytes.WithLabelValues("out").Add(float64(size))
}

func RecordTransportError(op string) {
	RegisterMetrics()
	transportErrors.WithLabelValues(op).Inc()
}

func RecordDecodeError() {
	RegisterMetrics()
	decodeErrors.Inc()
}

// RecordDispatch counts one dispatch call and how many replies it produced.
func RecordDispatch(duration time.Duration, replyCount int, failed bool) {
	RegisterMetrics()
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	dispatches.WithLabelValues(outcome).Inc()
	dispatchDuration.Observe(duration.Seconds())
	replies.Add(float64(replyCount))
}

func SetStoreEntries(n int) {
	RegisterMetrics()
	storeEntries.Set(float64(n))
}

func SetRemoteClients(n int) {
	RegisterMetrics()
	remoteClients.Set(float64(n))
}
