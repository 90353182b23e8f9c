package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func scrape(r *Registry) string {
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestRegistry_CountersAndHandler(t *testing.T) {
	r := NewRegistry()
	r.OrdersSubmitted.Inc()
	r.UnitsDecremented.Add(8)
	r.ActiveSessions.Set(2)
	r.CommitLatencySec.Observe(0.2)

	body := scrape(r)
	assert.Contains(t, body, "stock_orders_submitted_total 1")
	assert.Contains(t, body, "stock_units_decremented_total 8")
	assert.Contains(t, body, "stock_pick_sessions_active 2")
	assert.Contains(t, body, "stock_pick_commit_latency_seconds_count 1")
}

func TestRegistry_Isolated(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.PicksCompleted.Inc()
	assert.Contains(t, scrape(b), "stock_picks_completed_total 0")
}
