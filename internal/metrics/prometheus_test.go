package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.Inc(MessagesRelayed)
	m.Inc(MessagesRelayed)
	m.IncDrop(DropReasonRateLimited)

	if got := m.Get(MessagesRelayed); got != 2 {
		t.Fatalf("messages_relayed = %d, want 2", got)
	}
	if got := m.Get(MessagesDropped + ":" + DropReasonRateLimited); got != 1 {
		t.Fatalf("drop counter = %d, want 1", got)
	}

	snap := m.Snapshot()
	snap[MessagesRelayed] = 99
	if got := m.Get(MessagesRelayed); got != 2 {
		t.Fatal("snapshot must be a copy")
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(RoomsCreated)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `stoop_relay_events_total{event="rooms_created"} 1`) {
		t.Fatalf("unexpected body:\n%s", body)
	}
	if !strings.Contains(body, "# TYPE stoop_relay_events_total counter") {
		t.Fatalf("missing TYPE line:\n%s", body)
	}
}

func TestPrometheusHandlerNilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
