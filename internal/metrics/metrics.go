// Package metrics exposes restq's Prometheus metrics: HTTP traffic, leased
// jobs and, at scrape time, the size of every realm.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SirClappington/restq/internal/domain"
)

const namespace = "restq"

// StatusSource reports the status of every loaded realm.
// *realm.Registry implements it.
type StatusSource interface {
	Status() map[string]domain.RealmStatus
}

type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	leased   *prometheus.CounterVec
}

// New builds a registry holding the HTTP and lease metrics, the Go runtime
// collectors and, when src is not nil, a realm collector reading src.
func New(src StatusSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		}),
		leased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_leased_total",
			Help:      "Jobs handed out by pulls",
		}, []string{"realm", "queue"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.inFlight,
		m.leased,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src != nil {
		m.registry.MustRegister(newRealmCollector(src))
	}
	return m
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.duration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// TrackInFlight counts a request as in flight until the returned func runs.
func (m *Metrics) TrackInFlight() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) ObserveLeases(realmID string, leases []domain.Lease) {
	for _, l := range leases {
		m.leased.WithLabelValues(realmID, l.QueueID).Inc()
	}
}

func (m *Metrics) ObserveDispatches(ds []domain.Dispatch) {
	for _, d := range ds {
		m.leased.WithLabelValues(d.Realm, d.QueueID).Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type realmCollector struct {
	src StatusSource

	jobs  *prometheus.Desc
	tags  *prometheus.Desc
	depth *prometheus.Desc
}

func newRealmCollector(src StatusSource) *realmCollector {
	return &realmCollector{
		src:   src,
		jobs:  prometheus.NewDesc(namespace+"_realm_jobs", "Jobs held by the realm", []string{"realm"}, nil),
		tags:  prometheus.NewDesc(namespace+"_realm_tags", "Tags known to the realm", []string{"realm"}, nil),
		depth: prometheus.NewDesc(namespace+"_queue_jobs", "Jobs in the queue, leased or not", []string{"realm", "queue"}, nil),
	}
}

func (c *realmCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	ch <- c.tags
	ch <- c.depth
}

func (c *realmCollector) Collect(ch chan<- prometheus.Metric) {
	for id, st := range c.src.Status() {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(st.TotalJobs), id)
		ch <- prometheus.MustNewConstMetric(c.tags, prometheus.GaugeValue, float64(st.TotalTags), id)
		for queueID, n := range st.Queues {
			ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(n), id, queueID)
		}
	}
}
