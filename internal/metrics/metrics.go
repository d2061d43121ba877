package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webchat"

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	searchAttempts     *prometheus.CounterVec
	plannerDecisions   *prometheus.CounterVec
	directiveRestarts  prometheus.Counter
	generationDuration *prometheus.HistogramVec
	researchPasses     *prometheus.CounterVec
	enrichedPages      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		searchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_attempts_total",
			Help:      "Search strategy attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		plannerDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_decisions_total",
			Help:      "Search planner decisions by reason.",
		}, []string{"reason"}),
		directiveRestarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directive_restarts_total",
			Help:      "Generation restarts triggered by in-band search directives.",
		}),
		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of streamed answers by terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"status"}),
		researchPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "research_passes_total",
			Help:      "Deep research passes by outcome.",
		}, []string{"outcome"}),
		enrichedPages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enriched_pages_total",
			Help:      "Result page enrichment attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SearchAttempt(strategy, outcome string) {
	if m == nil {
		return
	}
	m.searchAttempts.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) PlannerDecision(reason string) {
	if m == nil {
		return
	}
	m.plannerDecisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) DirectiveRestart() {
	if m == nil {
		return
	}
	m.directiveRestarts.Inc()
}

func (m *Metrics) Generation(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) ResearchPass(outcome string) {
	if m == nil {
		return
	}
	m.researchPasses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EnrichedPage(outcome string) {
	if m == nil {
		return
	}
	m.enrichedPages.WithLabelValues(outcome).Inc()
}
