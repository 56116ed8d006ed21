package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learnhub_media"

// Recorder owns a Prometheus registry and the collectors the media service
// updates. Each Recorder is independent so tests can inspect a fresh one.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ingests         *prometheus.CounterVec
	renditions      *prometheus.CounterVec
	encodeDuration  *prometheus.HistogramVec
	activeEncodes   prometheus.Gauge
	sweepAssets     *prometheus.CounterVec
	orphanedObjects prometheus.Counter
	reconcileOrphan prometheus.Gauge
	events          *prometheus.CounterVec
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs a Recorder with every collector registered, plus the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, normalized path and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and normalized path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Ingest requests by outcome.",
		}, []string{"outcome"}),
		renditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renditions_total",
			Help:      "Rendition encodes by profile and status.",
		}, []string{"profile", "status"}),
		encodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Wall time of a single encoder run by profile.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"profile"}),
		activeEncodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_encodes",
			Help:      "Encoder processes currently running.",
		}),
		sweepAssets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_assets_total",
			Help:      "Stale assets handled by the cleanup sweeper by result.",
		}, []string{"result"}),
		orphanedObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_orphaned_objects_total",
			Help:      "Objects the sweeper failed to delete before removing their asset row.",
		}),
		reconcileOrphan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_orphaned_folders",
			Help:      "Storage folders without an asset row found by the last reconciliation.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Asset lifecycle events by type and status.",
		}, []string{"type", "status"}),
	}
	r.registry.MustRegister(
		r.requests,
		r.requestDuration,
		r.ingests,
		r.renditions,
		r.encodeDuration,
		r.activeEncodes,
		r.sweepAssets,
		r.orphanedObjects,
		r.reconcileOrphan,
		r.events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder. Nil is ignored.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	m := strings.ToUpper(method)
	p := normalizePath(path)
	r.requests.WithLabelValues(m, p, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(m, p).Observe(duration.Seconds())
}

// ObserveIngest records the outcome of one ingest call.
func (r *Recorder) ObserveIngest(outcome string) {
	r.ingests.WithLabelValues(normalizeName(outcome)).Inc()
}

// EncodeStarted marks an encoder process as running.
func (r *Recorder) EncodeStarted() {
	r.activeEncodes.Inc()
}

// EncodeFinished records the result and duration of an encoder process.
func (r *Recorder) EncodeFinished(profile string, duration time.Duration, err error) {
	r.activeEncodes.Dec()
	name := normalizeName(profile)
	r.encodeDuration.WithLabelValues(name).Observe(duration.Seconds())
	status := "success"
	if err != nil {
		status = "failure"
	}
	r.renditions.WithLabelValues(name, status).Inc()
}

// ObserveRenditionStoreFailure counts an encoded rendition that could not be
// written to object storage.
func (r *Recorder) ObserveRenditionStoreFailure(profile string) {
	r.renditions.WithLabelValues(normalizeName(profile), "store_failure").Inc()
}

// ObserveSweep records the outcome of one sweeper pass.
func (r *Recorder) ObserveSweep(removed, failed, orphanedObjects int) {
	r.sweepAssets.WithLabelValues("removed").Add(float64(removed))
	r.sweepAssets.WithLabelValues("failed").Add(float64(failed))
	r.orphanedObjects.Add(float64(orphanedObjects))
}

// SetReconcileOrphans records how many orphaned folders the last
// reconciliation pass found.
func (r *Recorder) SetReconcileOrphans(count int) {
	r.reconcileOrphan.Set(float64(count))
}

// ObserveEvent records a publish attempt for an asset lifecycle event.
func (r *Recorder) ObserveEvent(eventType string, err error) {
	status := "published"
	if err != nil {
		status = "failed"
	}
	r.events.WithLabelValues(normalizeName(eventType), status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	// Object keys under stream and presign routes are unbounded.
	for i, part := range parts {
		if (part == "stream" || part == "presign") && i+1 < len(parts) {
			parts = append(parts[:i+1], ":key")
			break
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	Default().ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return Default().Handler()
}
