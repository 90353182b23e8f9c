package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg                *prometheus.Registry
	OrdersSubmitted    prometheus.Counter
	OrdersEdited       prometheus.Counter
	DraftsSaved        prometheus.Counter
	DisplayIDFallbacks prometheus.Counter
	ItemsConfirmed     prometheus.Counter
	PicksCompleted     prometheus.Counter
	CommitFailures     prometheus.Counter
	CommitLatencySec   prometheus.Histogram
	UnitsDecremented   prometheus.Counter
	ActiveSessions     prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	submitted := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_orders_submitted_total"})
	edited := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_orders_edited_total"})
	drafts := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_order_drafts_saved_total"})
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_display_id_fallbacks_total"})

	confirmed := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_pick_items_confirmed_total"})
	completed := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_picks_completed_total"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_pick_commit_failures_total"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_pick_commit_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	units := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_units_decremented_total"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{Name: "stock_pick_sessions_active"})

	r.MustRegister(submitted, edited, drafts, fallbacks, confirmed, completed, failures, latency, units, sessions)
	return &Registry{
		reg:                r,
		OrdersSubmitted:    submitted,
		OrdersEdited:       edited,
		DraftsSaved:        drafts,
		DisplayIDFallbacks: fallbacks,
		ItemsConfirmed:     confirmed,
		PicksCompleted:     completed,
		CommitFailures:     failures,
		CommitLatencySec:   latency,
		UnitsDecremented:   units,
		ActiveSessions:     sessions,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
