// Package metrics holds the Prometheus collectors shared by the server and
// the map session components.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DatasetLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platincidents_dataset_loads_total",
		Help: "Country dataset fetch attempts by transport and outcome",
	}, []string{"transport", "outcome"})
	TogglesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platincidents_toggles_total",
		Help: "Country layer toggles by resulting state",
	}, []string{"state"})
	PendingTogglesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "platincidents_pending_toggles_total",
		Help: "Toggle states parked because a map had no country source yet",
	})
	ReconcileOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platincidents_reconcile_ops_total",
		Help: "Marker attach/detach operations performed by cluster reconciliation",
	}, []string{"op"})
	RetriesGaveUpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platincidents_retries_gave_up_total",
		Help: "Bounded readiness retries that exhausted their attempts",
	}, []string{"kind"})
	PopupFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platincidents_popup_fetch_total",
		Help: "Incident summary fetches for popups by outcome",
	}, []string{"outcome"})
	EventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platincidents_events_dropped_total",
		Help: "Bus events skipped because a subscriber was full, by resource",
	}, []string{"resource"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platincidents_http_requests_total",
		Help: "HTTP requests served by method and status class",
	}, []string{"method", "code"})
	HTTPDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "platincidents_http_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
)

func init() {
	prometheus.MustRegister(DatasetLoadsTotal)
	prometheus.MustRegister(TogglesTotal)
	prometheus.MustRegister(PendingTogglesTotal)
	prometheus.MustRegister(ReconcileOpsTotal)
	prometheus.MustRegister(RetriesGaveUpTotal)
	prometheus.MustRegister(PopupFetchTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveHTTP records one served request by method and status class.
func ObserveHTTP(r *http.Request, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status/100)+"xx").Inc()
	HTTPDurationMs.Observe(float64(d.Milliseconds()))
}
