package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// --- helpers ----------------------------------------------------------------

// scrape renders c and parses the exposition back into families.
func scrape(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	var buf bytes.Buffer
	if err := c.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, buf.String())
	}
	return mfs
}

func value(t *testing.T, mfs map[string]*dto.MetricFamily, name string) float64 {
	t.Helper()
	mf, ok := mfs[name]
	if !ok {
		t.Fatalf("family %s missing", name)
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		}
	}
	return total
}

// --- tests ------------------------------------------------------------------

func TestCollector_Counters(t *testing.T) {
	c := New()
	c.FrameIn("join-document")
	c.FrameIn("join-document")
	c.FrameIn("updated-document")
	c.ErrorSent("Document not found")
	c.Broadcast(3, 1)
	c.Broadcast(2, 0)
	c.Relayed()

	mfs := scrape(t, c)
	if got := value(t, mfs, "docsync_frames_received_total"); got != 3 {
		t.Errorf("frames_received_total: got %v, want 3", got)
	}
	if n := len(mfs["docsync_frames_received_total"].GetMetric()); n != 2 {
		t.Errorf("frames_received_total series: got %d, want 2", n)
	}
	if got := value(t, mfs, "docsync_errors_sent_total"); got != 1 {
		t.Errorf("errors_sent_total: got %v, want 1", got)
	}
	if got := value(t, mfs, "docsync_broadcast_delivered_total"); got != 5 {
		t.Errorf("broadcast_delivered_total: got %v, want 5", got)
	}
	if got := value(t, mfs, "docsync_broadcast_skipped_total"); got != 1 {
		t.Errorf("broadcast_skipped_total: got %v, want 1", got)
	}
	if got := value(t, mfs, "docsync_relay_received_total"); got != 1 {
		t.Errorf("relay_received_total: got %v, want 1", got)
	}
}

func TestCollector_Gauges(t *testing.T) {
	c := New()
	c.SetGauges(func() Gauges { return Gauges{Rooms: 2, Connections: 5, Members: 4, Cursors: 3} })

	mfs := scrape(t, c)
	cases := map[string]float64{
		"docsync_rooms":        2,
		"docsync_connections":  5,
		"docsync_room_members": 4,
		"docsync_cursors":      3,
	}
	for name, want := range cases {
		if got := value(t, mfs, name); got != want {
			t.Errorf("%s: got %v, want %v", name, got, want)
		}
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.FrameIn("x")
	c.ErrorSent("x")
	c.Broadcast(1, 1)
	c.Relayed()
	c.SetGauges(nil)
}

func TestCollector_ServeHTTP(t *testing.T) {
	c := New()
	c.FrameIn("cursor-update")

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Error("Content-Type: missing")
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`docsync_frames_received_total{type="cursor-update"} 1`)) {
		t.Errorf("body missing frame counter:\n%s", rec.Body.String())
	}
}

func TestCollector_ScrapeBeforeAnyError(t *testing.T) {
	c := New()
	c.FrameIn("join-document")
	c.Broadcast(1, 0)
	c.SetGauges(func() Gauges { return Gauges{Rooms: 1, Connections: 2, Members: 2} })

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(rec.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	for _, name := range []string{
		"docsync_frames_received_total",
		"docsync_broadcast_delivered_total",
		"docsync_relay_received_total",
		"docsync_rooms",
		"docsync_connections",
		"docsync_room_members",
		"docsync_cursors",
	} {
		if _, ok := mfs[name]; !ok {
			t.Errorf("family %s missing from scrape", name)
		}
	}
	if _, ok := mfs["docsync_errors_sent_total"]; ok {
		t.Error("errors_sent_total: want no family before the first error")
	}
	if got := value(t, mfs, "docsync_room_members"); got != 2 {
		t.Errorf("room_members: got %v, want 2", got)
	}
}

func TestFamilies_SkipsEmpty(t *testing.T) {
	for _, mf := range New().Families() {
		if len(mf.GetMetric()) == 0 {
			t.Errorf("family %s has no samples", mf.GetName())
		}
	}
}
