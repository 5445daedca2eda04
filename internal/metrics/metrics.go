package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder publishes Prometheus metrics for the offline cache and progress store.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetches      *prometheus.CounterVec
	precache     *prometheus.CounterVec
	cacheWrites  *prometheus.CounterVec
	evicted      prometheus.Counter
	submissions  *prometheus.CounterVec
	workerStates *prometheus.GaugeVec
}

// NewRecorder registers the collectors on reg, or on a private registry when reg is nil.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Subsystem: "offline",
		Name:      "fetches_total",
		Help:      "Fetch events handled by the cache manager, by request class and response source.",
	}, []string{"class", "source"})

	precache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Subsystem: "offline",
		Name:      "precache_total",
		Help:      "Assets processed during install, by outcome.",
	}, []string{"outcome"})

	cacheWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Subsystem: "offline",
		Name:      "cache_writes_total",
		Help:      "Opportunistic cache writes during fetch handling, by outcome.",
	}, []string{"outcome"})

	evicted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiz",
		Subsystem: "offline",
		Name:      "namespaces_deleted_total",
		Help:      "Stale cache namespaces deleted at activation.",
	})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz",
		Subsystem: "progress",
		Name:      "submissions_total",
		Help:      "Answer submissions recorded, by verdict.",
	}, []string{"verdict"})

	workerStates := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quiz",
		Subsystem: "offline",
		Name:      "worker_state",
		Help:      "1 for the lifecycle state each worker version is currently in.",
	}, []string{"namespace", "state"})

	reg.MustRegister(fetches, precache, cacheWrites, evicted, submissions, workerStates)

	return &Recorder{
		gatherer:     reg,
		handler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		fetches:      fetches,
		precache:     precache,
		cacheWrites:  cacheWrites,
		evicted:      evicted,
		submissions:  submissions,
		workerStates: workerStates,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

func (r *Recorder) ObserveFetch(class, source string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(normalizeLabel(class), normalizeLabel(source)).Inc()
}

func (r *Recorder) ObservePrecache(ok bool) {
	if r == nil {
		return
	}
	r.precache.WithLabelValues(outcome(ok)).Inc()
}

func (r *Recorder) ObserveCacheWrite(ok bool) {
	if r == nil {
		return
	}
	r.cacheWrites.WithLabelValues(outcome(ok)).Inc()
}

func (r *Recorder) ObserveNamespaceDeleted() {
	if r == nil {
		return
	}
	r.evicted.Inc()
}

func (r *Recorder) ObserveSubmission(correct bool) {
	if r == nil {
		return
	}
	verdict := "incorrect"
	if correct {
		verdict = "correct"
	}
	r.submissions.WithLabelValues(verdict).Inc()
}

// SetWorkerState marks state as the only active state for namespace.
func (r *Recorder) SetWorkerState(namespace, state string, all []string) {
	if r == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		r.workerStates.WithLabelValues(normalizeLabel(namespace), s).Set(v)
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
